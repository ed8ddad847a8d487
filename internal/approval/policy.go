package approval

import (
	"fmt"
	"slices"
)

// Role is the company role of a user acting on a claim.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleEmployee:
		return true
	}
	return false
}

// Policy is the snapshot of a company's approval rules a claim is bound to.
// It is never mutated during evaluation, so one Policy value may be shared by
// any number of concurrent evaluations.
type Policy struct {
	ID                     string
	RequiredApprovers      []string
	IncludeManagerApprover bool
	Sequential             bool
	QuorumPercentage       int
	OverrideApprovers      []string
}

// Validate checks the structural rules of a policy.
func (p *Policy) Validate() error {
	if p.QuorumPercentage < 0 || p.QuorumPercentage > 100 {
		return fmt.Errorf("%w: quorum percentage %d outside [0,100]", ErrInvalidPolicy, p.QuorumPercentage)
	}
	seen := make(map[string]struct{}, len(p.RequiredApprovers))
	for _, id := range p.RequiredApprovers {
		if id == "" {
			return fmt.Errorf("%w: empty approver id", ErrInvalidPolicy)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: approver %s listed twice", ErrInvalidPolicy, id)
		}
		seen[id] = struct{}{}
	}
	for _, id := range p.OverrideApprovers {
		if id == "" {
			return fmt.Errorf("%w: empty override approver id", ErrInvalidPolicy)
		}
	}
	return nil
}

// IsOverrideApprover reports whether approverID's approval forces the claim
// through.
func (p *Policy) IsOverrideApprover(approverID string) bool {
	return slices.Contains(p.OverrideApprovers, approverID)
}
