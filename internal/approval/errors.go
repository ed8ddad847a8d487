package approval

import "errors"

// Engine errors. All of them reject the request; none leave a partial
// mutation behind.
var (
	ErrNoPolicyConfigured       = errors.New("no approval policy configured")
	ErrClaimNotDraft            = errors.New("claim is not a draft")
	ErrNoApproversResolved      = errors.New("approval policy resolves to no approvers")
	ErrClaimNotAwaitingApproval = errors.New("claim is not awaiting approval")
	ErrNotAnAuthorizedApprover  = errors.New("not an authorized approver for this claim")
	ErrApproverInactive         = errors.New("approver is inactive")
	ErrInvalidAction            = errors.New("invalid approval action")
	ErrInvalidPolicy            = errors.New("invalid approval policy")
)

// UserMessage returns the message shown to the person whose request was
// rejected by err, or "" when err is not an engine error.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoPolicyConfigured):
		return "cannot submit, ask an admin to configure approval rules"
	case errors.Is(err, ErrClaimNotDraft):
		return "only draft expenses can be submitted"
	case errors.Is(err, ErrNoApproversResolved):
		return "the approval rules resolve to no approvers, ask an admin to fix them"
	case errors.Is(err, ErrClaimNotAwaitingApproval):
		return "this claim is not awaiting your approval"
	case errors.Is(err, ErrNotAnAuthorizedApprover):
		return "not authorized to approve this expense"
	case errors.Is(err, ErrApproverInactive):
		return "inactive users cannot approve expenses"
	case errors.Is(err, ErrInvalidAction):
		return "action must be approve or reject"
	}
	return ""
}
