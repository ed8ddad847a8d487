package service

import (
	"context"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// The stores below are satisfied by the repository package. Services depend
// on these interfaces so tests can run against in-memory fakes.

// ClaimStore persists claims and their approval slots.
type ClaimStore interface {
	Create(ctx context.Context, c *repository.Claim) error
	GetByID(ctx context.Context, id string) (*repository.Claim, error)
	List(ctx context.Context, filter repository.ClaimFilter) ([]*repository.Claim, error)
	ListActionableBy(ctx context.Context, approverID string) ([]*repository.Claim, error)
	DeleteDraft(ctx context.Context, id string) error
	UpdateApproval(ctx context.Context, id string, fn func(current *repository.Claim) (*repository.Claim, error)) (*repository.Claim, error)
}

// PolicyStore persists approval policies.
type PolicyStore interface {
	Activate(ctx context.Context, p *repository.ApprovalPolicy) error
	Supersede(ctx context.Context, oldID string, p *repository.ApprovalPolicy) error
	GetByID(ctx context.Context, id string) (*repository.ApprovalPolicy, error)
	GetActive(ctx context.Context, companyID string) (*repository.ApprovalPolicy, error)
	List(ctx context.Context, companyID string, activeOnly bool) ([]*repository.ApprovalPolicy, error)
	Deactivate(ctx context.Context, id, companyID string) error
}

// UserStore persists users.
type UserStore interface {
	Create(ctx context.Context, u *repository.User) error
	GetByID(ctx context.Context, id string) (*repository.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]*repository.User, error)
	Update(ctx context.Context, u *repository.User) error
	Deactivate(ctx context.Context, id, companyID string) error
	List(ctx context.Context, companyID string, includeInactive bool) ([]*repository.User, error)
	ListManagers(ctx context.Context, companyID string) ([]*repository.User, error)
	ListReports(ctx context.Context, managerID string) ([]string, error)
}

// CompanyStore persists companies.
type CompanyStore interface {
	CreateWithAdmin(ctx context.Context, c *repository.Company, admin *repository.User) error
	GetByID(ctx context.Context, id string) (*repository.Company, error)
}

// AuditStore appends to and reads the approval audit log.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.ApprovalAuditEntry) error
	ListByClaim(ctx context.Context, claimID string) ([]*repository.ApprovalAuditEntry, error)
}

// NotificationPublisherInterface publishes workflow events. Implementations
// must not block on or report delivery failures.
type NotificationPublisherInterface interface {
	PublishClaimEvent(ctx context.Context, eventType, claimID, companyID, actorID string, recipients []string, payload map[string]interface{})
}
