package approval

// Person is the minimal view of a user the engine needs.
type Person struct {
	ID     string
	Active bool
}

// Employee is the submitter of a claim together with their direct manager,
// if any.
type Employee struct {
	ID      string
	Manager *Person
}

// Initiate expands policy into the approval state of a claim that is being
// submitted. The returned state is bound to policy.ID.
func Initiate(claimStatus ClaimStatus, policy *Policy, employee Employee) (*State, error) {
	if policy == nil {
		return nil, ErrNoPolicyConfigured
	}
	if claimStatus != ClaimDraft {
		return nil, ErrClaimNotDraft
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	approvers := ResolveApprovers(policy, employee)
	if len(approvers) == 0 {
		return nil, ErrNoApproversResolved
	}

	state := &State{
		PolicyID: policy.ID,
		Status:   ClaimAwaitingApproval,
		Slots:    make([]Slot, 0, len(approvers)),
	}
	for _, id := range approvers {
		state.Slots = append(state.Slots, Slot{ApproverID: id, Status: SlotPending})
	}
	if policy.Sequential {
		state.CurrentApproverID = approvers[0]
	}
	return state, nil
}

// ResolveApprovers returns the ordered approver list for employee under
// policy. An active manager always comes first; inactive or missing managers
// are skipped, and a manager who is also a required approver is only listed
// once.
func ResolveApprovers(policy *Policy, employee Employee) []string {
	approvers := make([]string, 0, len(policy.RequiredApprovers)+1)

	var manager string
	if policy.IncludeManagerApprover && employee.Manager != nil &&
		employee.Manager.ID != "" && employee.Manager.Active {
		manager = employee.Manager.ID
		approvers = append(approvers, manager)
	}

	for _, id := range policy.RequiredApprovers {
		if id == manager {
			continue
		}
		approvers = append(approvers, id)
	}
	return approvers
}
