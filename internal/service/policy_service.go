package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/pesio-ai/be-expense-approvals/internal/common/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/common/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// PolicyService administers per-company approval policies.
type PolicyService struct {
	policies PolicyStore
	users    UserStore
	log      *logger.Logger
}

// NewPolicyService creates a new policy service
func NewPolicyService(policies PolicyStore, users UserStore, log *logger.Logger) *PolicyService {
	return &PolicyService{policies: policies, users: users, log: log}
}

// PolicyRequest carries the editable fields of a policy.
type PolicyRequest struct {
	Name                   string   `json:"name"`
	Description            string   `json:"description"`
	RequiredApprovers      []string `json:"required_approvers"`
	IncludeManagerApprover bool     `json:"include_manager_approver"`
	Sequential             bool     `json:"sequential"`
	QuorumPercentage       *int     `json:"quorum_percentage"`
	OverrideApprovers      []string `json:"override_approvers"`
}

// CreatePolicy makes req the company's active policy, deactivating the
// previous one.
func (s *PolicyService) CreatePolicy(ctx context.Context, actorID string, req *PolicyRequest) (*repository.ApprovalPolicy, error) {
	admin, err := loadAdmin(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	p, err := s.build(ctx, admin, req)
	if err != nil {
		return nil, err
	}
	if err := s.policies.Activate(ctx, p); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("policy_id", p.ID).
		Str("company_id", p.CompanyID).
		Int("approvers", len(p.RequiredApprovers)).
		Bool("sequential", p.Sequential).
		Int("quorum", p.QuorumPercentage).
		Msg("Approval policy activated")
	return p, nil
}

// UpdatePolicy supersedes policy id with req. Claims already bound to the old
// policy keep using it.
func (s *PolicyService) UpdatePolicy(ctx context.Context, actorID, id string, req *PolicyRequest) (*repository.ApprovalPolicy, error) {
	admin, err := loadAdmin(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	if _, err := s.getOwned(ctx, admin, id); err != nil {
		return nil, err
	}
	p, err := s.build(ctx, admin, req)
	if err != nil {
		return nil, err
	}
	if err := s.policies.Supersede(ctx, id, p); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("policy_id", p.ID).
		Str("supersedes_id", id).
		Str("company_id", p.CompanyID).
		Msg("Approval policy superseded")
	return p, nil
}

// DeactivatePolicy soft-deletes a policy. Submissions fail until a new
// policy is created.
func (s *PolicyService) DeactivatePolicy(ctx context.Context, actorID, id string) error {
	admin, err := loadAdmin(ctx, s.users, actorID)
	if err != nil {
		return err
	}
	if err := s.policies.Deactivate(ctx, id, admin.CompanyID); err != nil {
		return err
	}
	s.log.Info().Str("policy_id", id).Str("company_id", admin.CompanyID).Msg("Approval policy deactivated")
	return nil
}

// GetActivePolicy returns the caller's company policy. Any active user of
// the company may read it.
func (s *PolicyService) GetActivePolicy(ctx context.Context, actorID string) (*repository.ApprovalPolicy, error) {
	actor, err := loadActiveActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	p, err := s.policies.GetActive(ctx, actor.CompanyID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.NotFound("approval_policy", "active")
	}
	return p, nil
}

// GetPolicy returns any policy version of the admin's company.
func (s *PolicyService) GetPolicy(ctx context.Context, actorID, id string) (*repository.ApprovalPolicy, error) {
	admin, err := loadAdmin(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	return s.getOwned(ctx, admin, id)
}

// ListPolicies lists the admin's company policies, newest first.
func (s *PolicyService) ListPolicies(ctx context.Context, actorID string, activeOnly bool) ([]*repository.ApprovalPolicy, error) {
	admin, err := loadAdmin(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	return s.policies.List(ctx, admin.CompanyID, activeOnly)
}

func (s *PolicyService) getOwned(ctx context.Context, admin *repository.User, id string) (*repository.ApprovalPolicy, error) {
	p, err := s.policies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.CompanyID != admin.CompanyID {
		return nil, errors.NotFound("approval_policy", id)
	}
	return p, nil
}

// build validates req and turns it into a new policy row for admin's
// company.
func (s *PolicyService) build(ctx context.Context, admin *repository.User, req *PolicyRequest) (*repository.ApprovalPolicy, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errors.InvalidInput("name", "policy name is required")
	}

	quorum := 100
	if req.QuorumPercentage != nil {
		quorum = *req.QuorumPercentage
	}
	if quorum < 0 || quorum > 100 {
		return nil, errors.InvalidInput("quorum_percentage", "quorum percentage must be between 0 and 100")
	}

	if len(req.RequiredApprovers) == 0 && !req.IncludeManagerApprover {
		return nil, errors.InvalidInput("required_approvers", "at least one approver is required unless the manager approves")
	}

	seen := make(map[string]bool, len(req.RequiredApprovers))
	for _, id := range req.RequiredApprovers {
		if id == "" {
			return nil, errors.InvalidInput("required_approvers", "approver id must not be empty")
		}
		if seen[id] {
			return nil, errors.InvalidInput("required_approvers", fmt.Sprintf("approver %s is listed twice", id))
		}
		seen[id] = true
	}
	for _, id := range req.OverrideApprovers {
		if !seen[id] {
			return nil, errors.InvalidInput("override_approvers", fmt.Sprintf("override approver %s must also be a required approver", id))
		}
	}

	if err := s.checkApprovers(ctx, admin.CompanyID, req.RequiredApprovers); err != nil {
		return nil, err
	}

	return &repository.ApprovalPolicy{
		CompanyID:              admin.CompanyID,
		Name:                   name,
		Description:            strings.TrimSpace(req.Description),
		RequiredApprovers:      slices.Clone(req.RequiredApprovers),
		IncludeManagerApprover: req.IncludeManagerApprover,
		Sequential:             req.Sequential,
		QuorumPercentage:       quorum,
		OverrideApprovers:      slices.Compact(slices.Sorted(slices.Values(req.OverrideApprovers))),
		CreatedBy:              &admin.ID,
	}, nil
}

// checkApprovers requires every approver to be an active user of companyID.
func (s *PolicyService) checkApprovers(ctx context.Context, companyID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return err
	}
	found := make(map[string]*repository.User, len(users))
	for _, u := range users {
		found[u.ID] = u
	}
	for _, id := range ids {
		u, ok := found[id]
		if !ok || u.CompanyID != companyID {
			return errors.InvalidInput("required_approvers", fmt.Sprintf("approver %s is not a user of this company", id))
		}
		if !u.IsActive {
			return errors.InvalidInput("required_approvers", fmt.Sprintf("approver %s is inactive", id))
		}
	}
	return nil
}
