package approval

import "time"

// SlotStatus is the decision state of one approver on one claim.
type SlotStatus string

const (
	SlotPending  SlotStatus = "pending"
	SlotApproved SlotStatus = "approved"
	SlotRejected SlotStatus = "rejected"
)

// ClaimStatus is the lifecycle status of an expense claim.
type ClaimStatus string

const (
	ClaimDraft            ClaimStatus = "draft"
	ClaimSubmitted        ClaimStatus = "submitted"
	ClaimAwaitingApproval ClaimStatus = "awaiting_approval"
	ClaimApproved         ClaimStatus = "approved"
	ClaimRejected         ClaimStatus = "rejected"
)

// IsTerminal reports whether no further transition may leave s.
func (s ClaimStatus) IsTerminal() bool {
	return s == ClaimApproved || s == ClaimRejected
}

// Slot is one approver's entry in a claim's approval state.
type Slot struct {
	ApproverID string
	Status     SlotStatus
	Comment    string
	DecidedAt  *time.Time
}

// FinalDecision is recorded once, on the terminal transition.
type FinalDecision struct {
	Outcome   ClaimStatus
	Comment   string
	DecidedAt time.Time
}

// State is the approval state owned by a single claim.
//
// CurrentApproverID is empty unless the bound policy is sequential and the
// claim is still open.
type State struct {
	PolicyID          string
	Status            ClaimStatus
	Slots             []Slot
	CurrentApproverID string
	Final             *FinalDecision
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.Slots = make([]Slot, len(s.Slots))
	for i, slot := range s.Slots {
		if slot.DecidedAt != nil {
			at := *slot.DecidedAt
			slot.DecidedAt = &at
		}
		c.Slots[i] = slot
	}
	if s.Final != nil {
		f := *s.Final
		c.Final = &f
	}
	return &c
}

// SlotIndex returns the position of approverID's slot, or -1.
func (s *State) SlotIndex(approverID string) int {
	for i := range s.Slots {
		if s.Slots[i].ApproverID == approverID {
			return i
		}
	}
	return -1
}

// ApprovedCount returns the number of slots in the approved state.
func (s *State) ApprovedCount() int {
	n := 0
	for _, slot := range s.Slots {
		if slot.Status == SlotApproved {
			n++
		}
	}
	return n
}

// PendingApprovers returns the approvers whose slots are still pending, in
// slot order.
func (s *State) PendingApprovers() []string {
	var ids []string
	for _, slot := range s.Slots {
		if slot.Status == SlotPending {
			ids = append(ids, slot.ApproverID)
		}
	}
	return ids
}

// ActionableBy reports whether approverID can record a regular decision right
// now: the claim is open, the approver holds a pending slot and, when the
// claim is sequential, that slot is the current one. Override approvals are
// the one exception; see Decide.
func (s *State) ActionableBy(approverID string) bool {
	if s.Status != ClaimAwaitingApproval {
		return false
	}
	i := s.SlotIndex(approverID)
	if i < 0 || s.Slots[i].Status != SlotPending {
		return false
	}
	if s.CurrentApproverID != "" {
		return s.CurrentApproverID == approverID
	}
	return true
}
