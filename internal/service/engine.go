package service

import (
	"time"

	"github.com/pesio-ai/be-expense-approvals/internal/approval"
	"github.com/pesio-ai/be-expense-approvals/internal/common/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// engineError maps an approval engine error onto an AppError carrying the
// user-facing message.
func engineError(err error) error {
	msg := approval.UserMessage(err)
	switch {
	case errors.Is(err, approval.ErrNotAnAuthorizedApprover),
		errors.Is(err, approval.ErrApproverInactive):
		return errors.Wrap(err, errors.ErrCodeForbidden, msg)
	case errors.Is(err, approval.ErrInvalidAction):
		return &errors.AppError{Code: errors.ErrCodeInvalidInput, Message: msg, Field: "action", Err: err}
	case errors.Is(err, approval.ErrInvalidPolicy):
		return errors.Wrap(err, errors.ErrCodeInvalidInput, err.Error())
	case msg != "":
		return errors.Wrap(err, errors.ErrCodeFailedPrecondition, msg)
	}
	return err
}

// refusalReason labels an engine error for metrics.
func refusalReason(err error) string {
	switch {
	case errors.Is(err, approval.ErrClaimNotAwaitingApproval):
		return "not_awaiting_approval"
	case errors.Is(err, approval.ErrNotAnAuthorizedApprover):
		return "not_authorized"
	case errors.Is(err, approval.ErrApproverInactive):
		return "approver_inactive"
	case errors.Is(err, approval.ErrInvalidAction):
		return "invalid_action"
	case errors.Is(err, approval.ErrNoPolicyConfigured):
		return "no_policy"
	}
	return "other"
}

func toEnginePolicy(p *repository.ApprovalPolicy) *approval.Policy {
	if p == nil {
		return nil
	}
	return &approval.Policy{
		ID:                     p.ID,
		RequiredApprovers:      append([]string(nil), p.RequiredApprovers...),
		IncludeManagerApprover: p.IncludeManagerApprover,
		Sequential:             p.Sequential,
		QuorumPercentage:       p.QuorumPercentage,
		OverrideApprovers:      append([]string(nil), p.OverrideApprovers...),
	}
}

// toState projects the approval part of a stored claim.
func toState(c *repository.Claim) *approval.State {
	s := &approval.State{
		Status: approval.ClaimStatus(c.Status),
		Slots:  make([]approval.Slot, 0, len(c.Slots)),
	}
	if c.PolicyID != nil {
		s.PolicyID = *c.PolicyID
	}
	if c.CurrentApproverID != nil {
		s.CurrentApproverID = *c.CurrentApproverID
	}
	for _, slot := range c.Slots {
		s.Slots = append(s.Slots, approval.Slot{
			ApproverID: slot.ApproverID,
			Status:     approval.SlotStatus(slot.Status),
			Comment:    slot.Comment,
			DecidedAt:  slot.DecidedAt,
		})
	}
	if c.FinalOutcome != nil && c.FinalDecidedAt != nil {
		s.Final = &approval.FinalDecision{
			Outcome:   approval.ClaimStatus(*c.FinalOutcome),
			Comment:   deref(c.FinalComment),
			DecidedAt: *c.FinalDecidedAt,
		}
	}
	return s
}

// withState returns a copy of c carrying state. c is left untouched.
func withState(c *repository.Claim, s *approval.State) *repository.Claim {
	next := *c
	next.Status = string(s.Status)
	next.PolicyID = optional(s.PolicyID)
	next.CurrentApproverID = optional(s.CurrentApproverID)
	next.FinalOutcome, next.FinalComment, next.FinalDecidedAt = nil, nil, nil
	if s.Final != nil {
		outcome := string(s.Final.Outcome)
		comment := s.Final.Comment
		at := s.Final.DecidedAt
		next.FinalOutcome, next.FinalComment, next.FinalDecidedAt = &outcome, &comment, &at
	}

	next.Slots = make([]*repository.ClaimApprovalSlot, len(s.Slots))
	for i, slot := range s.Slots {
		next.Slots[i] = &repository.ClaimApprovalSlot{
			ClaimID:    c.ID,
			Position:   i,
			ApproverID: slot.ApproverID,
			Status:     string(slot.Status),
			Comment:    slot.Comment,
			DecidedAt:  slot.DecidedAt,
		}
	}
	return &next
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timePtr(t time.Time) *time.Time {
	return &t
}
