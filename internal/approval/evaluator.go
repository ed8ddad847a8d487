package approval

import (
	"fmt"
	"time"
)

// Action is what an approver does with their slot.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Actor is the user recording a decision.
type Actor struct {
	ID     string
	Role   Role
	Active bool
}

// Decision is a single approve/reject request against a claim.
type Decision struct {
	Actor   Actor
	Action  Action
	Comment string
	At      time.Time
}

// Transition describes what a successful decision did to the claim.
type Transition string

const (
	// TransitionRecorded: the slot was decided, the claim stays open.
	TransitionRecorded Transition = "recorded"
	// TransitionAdvanced: sequential hand-off to the next approver.
	TransitionAdvanced Transition = "advanced"
	TransitionApproved Transition = "approved"
	TransitionRejected Transition = "rejected"
)

// OverrideKind tells which override, if any, completed the claim.
type OverrideKind string

const (
	OverrideNone             OverrideKind = ""
	OverrideAdmin            OverrideKind = "admin"
	OverrideSpecificApprover OverrideKind = "specific_approver"
)

// Auto-generated comments written on slots backfilled by an override.
const (
	CommentAdminOverride    = "Auto-approved by admin override"
	CommentSpecificApprover = "Auto-approved by specific approver"
)

// Result is the outcome of Decide. State is a new value; the state passed to
// Decide is never modified.
type Result struct {
	State          *State
	Transition     Transition
	Override       OverrideKind
	NextApproverID string
	Backfilled     []string
}

// Terminal reports whether the decision closed the claim.
func (r *Result) Terminal() bool {
	return r.Transition == TransitionApproved || r.Transition == TransitionRejected
}

// evaluation carries one Decide call through the rule list.
type evaluation struct {
	policy   *Policy
	decision Decision
	state    *State
	index    int
	override OverrideKind
	result   *Result
}

// rule inspects the evaluation and returns true when it has settled the
// outcome; later rules are then skipped.
type rule struct {
	name  string
	apply func(*evaluation) bool
}

// rules is the canonical precedence: override, rejection, sequential, quorum.
var rules = []rule{
	{name: "override", apply: applyOverride},
	{name: "rejection", apply: applyRejection},
	{name: "sequential", apply: applySequential},
	{name: "quorum", apply: applyQuorum},
}

// Decide applies one approver's decision to state under policy.
//
// The approver must be ActionableBy on state, with one exception: an approve
// that carries an override (admin, or a member of the policy's override
// approvers) may be recorded on any pending slot, out of turn on a
// sequential claim, since it approves the whole claim.
func Decide(state *State, policy *Policy, d Decision) (*Result, error) {
	if policy == nil {
		return nil, ErrNoPolicyConfigured
	}
	if d.Action != ActionApprove && d.Action != ActionReject {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, d.Action)
	}
	if state == nil || state.Status != ClaimAwaitingApproval {
		return nil, ErrClaimNotAwaitingApproval
	}

	idx := state.SlotIndex(d.Actor.ID)
	if idx < 0 || state.Slots[idx].Status != SlotPending {
		return nil, ErrNotAnAuthorizedApprover
	}

	override := overrideKind(policy, d)
	if override == OverrideNone && !state.ActionableBy(d.Actor.ID) {
		// Listed and pending, but not yet this approver's turn.
		return nil, ErrNotAnAuthorizedApprover
	}

	if !d.Actor.Active {
		return nil, ErrApproverInactive
	}

	next := state.Clone()
	slot := &next.Slots[idx]
	slot.Status = SlotApproved
	if d.Action == ActionReject {
		slot.Status = SlotRejected
	}
	slot.Comment = d.Comment
	at := d.At
	slot.DecidedAt = &at

	ev := &evaluation{
		policy:   policy,
		decision: d,
		state:    next,
		index:    idx,
		override: override,
		result:   &Result{State: next, Transition: TransitionRecorded},
	}
	for _, r := range rules {
		if r.apply(ev) {
			break
		}
	}
	return ev.result, nil
}

// overrideKind returns the override an approve decision carries. Admin takes
// precedence over specific-approver membership.
func overrideKind(policy *Policy, d Decision) OverrideKind {
	if d.Action != ActionApprove {
		return OverrideNone
	}
	if d.Actor.Role == RoleAdmin {
		return OverrideAdmin
	}
	if policy.IsOverrideApprover(d.Actor.ID) {
		return OverrideSpecificApprover
	}
	return OverrideNone
}

func applyOverride(ev *evaluation) bool {
	if ev.override == OverrideNone {
		return false
	}
	comment := CommentSpecificApprover
	if ev.override == OverrideAdmin {
		comment = CommentAdminOverride
	}
	for i := range ev.state.Slots {
		s := &ev.state.Slots[i]
		if s.Status != SlotPending {
			continue
		}
		s.Status = SlotApproved
		s.Comment = comment
		at := ev.decision.At
		s.DecidedAt = &at
		ev.result.Backfilled = append(ev.result.Backfilled, s.ApproverID)
	}
	ev.result.Override = ev.override
	ev.finish(ClaimApproved)
	return true
}

func applyRejection(ev *evaluation) bool {
	for _, s := range ev.state.Slots {
		if s.Status == SlotRejected {
			ev.finish(ClaimRejected)
			return true
		}
	}
	return false
}

func applySequential(ev *evaluation) bool {
	if !ev.policy.Sequential {
		return false
	}
	if ev.index < len(ev.state.Slots)-1 {
		nextID := ev.state.Slots[ev.index+1].ApproverID
		ev.state.CurrentApproverID = nextID
		ev.result.Transition = TransitionAdvanced
		ev.result.NextApproverID = nextID
		return true
	}
	ev.finish(ClaimApproved)
	return true
}

func applyQuorum(ev *evaluation) bool {
	if QuorumMet(ev.state.ApprovedCount(), len(ev.state.Slots), ev.policy.QuorumPercentage) ||
		overrideAlreadyApproved(ev.state, ev.policy) {
		ev.finish(ClaimApproved)
		return true
	}
	return false
}

// QuorumMet reports approved/total*100 >= percentage using integer
// cross-multiplication, so 2 of 3 meets 66 but not 67.
func QuorumMet(approved, total, percentage int) bool {
	if total <= 0 {
		return false
	}
	return approved*100 >= percentage*total
}

func overrideAlreadyApproved(state *State, policy *Policy) bool {
	for _, s := range state.Slots {
		if s.Status == SlotApproved && policy.IsOverrideApprover(s.ApproverID) {
			return true
		}
	}
	return false
}

func (ev *evaluation) finish(outcome ClaimStatus) {
	ev.state.Status = outcome
	ev.state.CurrentApproverID = ""
	ev.state.Final = &FinalDecision{
		Outcome:   outcome,
		Comment:   ev.decision.Comment,
		DecidedAt: ev.decision.At,
	}
	if outcome == ClaimApproved {
		ev.result.Transition = TransitionApproved
	} else {
		ev.result.Transition = TransitionRejected
	}
}
