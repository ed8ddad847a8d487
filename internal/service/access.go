package service

import (
	"context"
	"slices"

	"github.com/pesio-ai/be-expense-approvals/internal/approval"
	"github.com/pesio-ai/be-expense-approvals/internal/common/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// loadActor resolves the calling user. Active status is not checked here
// because some operations need to report inactivity with their own error.
func loadActor(ctx context.Context, users UserStore, actorID string) (*repository.User, error) {
	if actorID == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "caller is not authenticated")
	}
	actor, err := users.GetByID(ctx, actorID)
	if errors.CodeOf(err) == errors.ErrCodeNotFound {
		return nil, errors.New(errors.ErrCodeUnauthorized, "caller is not a known user")
	}
	return actor, err
}

// loadActiveActor is loadActor for operations inactive users may not run.
func loadActiveActor(ctx context.Context, users UserStore, actorID string) (*repository.User, error) {
	actor, err := loadActor(ctx, users, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.IsActive {
		return nil, errors.New(errors.ErrCodeForbidden, "user is deactivated")
	}
	return actor, nil
}

// loadAdmin resolves an active admin.
func loadAdmin(ctx context.Context, users UserStore, actorID string) (*repository.User, error) {
	actor, err := loadActiveActor(ctx, users, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != string(approval.RoleAdmin) {
		return nil, errors.New(errors.ErrCodeForbidden, "admin role required")
	}
	return actor, nil
}

// canViewClaim reports whether actor may read claim: its owner, an admin of
// the company, anyone holding a slot on it, or the owner's manager.
func canViewClaim(ctx context.Context, users UserStore, actor *repository.User, claim *repository.Claim) (bool, error) {
	if actor.CompanyID != claim.CompanyID {
		return false, nil
	}
	if actor.ID == claim.EmployeeID || actor.Role == string(approval.RoleAdmin) {
		return true, nil
	}
	if slices.ContainsFunc(claim.Slots, func(s *repository.ClaimApprovalSlot) bool {
		return s.ApproverID == actor.ID
	}) {
		return true, nil
	}
	if actor.Role != string(approval.RoleManager) {
		return false, nil
	}
	employee, err := users.GetByID(ctx, claim.EmployeeID)
	if err != nil {
		return false, err
	}
	return employee.ManagerID != nil && *employee.ManagerID == actor.ID, nil
}

// loadVisibleClaim fetches a claim and hides it from callers who may not see
// it.
func loadVisibleClaim(ctx context.Context, claims ClaimStore, users UserStore, actor *repository.User, claimID string) (*repository.Claim, error) {
	claim, err := claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	ok, err := canViewClaim(ctx, users, actor, claim)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NotFound("claim", claimID)
	}
	return claim, nil
}
