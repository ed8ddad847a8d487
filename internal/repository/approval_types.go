package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Domain types for expense approvals ───────────────────────────────────────

// Company scopes users, policies and claims.
type Company struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	BaseCurrency string    `json:"base_currency"`
	Country      string    `json:"country"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// User is an employee, manager or admin of a company.
type User struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"` // admin | manager | employee
	ManagerID *string   `json:"manager_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ApprovalPolicy is one version of a company's approval rules. Rows are never
// edited once created; a change inserts a new row that supersedes the old.
type ApprovalPolicy struct {
	ID                     string    `json:"id"`
	CompanyID              string    `json:"company_id"`
	Name                   string    `json:"name"`
	Description            string    `json:"description"`
	RequiredApprovers      []string  `json:"required_approvers,omitempty"`
	IncludeManagerApprover bool      `json:"include_manager_approver"`
	Sequential             bool      `json:"sequential"`
	QuorumPercentage       int       `json:"quorum_percentage"`
	OverrideApprovers      []string  `json:"override_approvers,omitempty"`
	IsActive               bool      `json:"is_active"`
	SupersedesID           *string   `json:"supersedes_id,omitempty"`
	CreatedBy              *string   `json:"created_by,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Claim is an expense claim together with its approval state.
type Claim struct {
	ID                string          `json:"id"`
	CompanyID         string          `json:"company_id"`
	EmployeeID        string          `json:"employee_id"`
	Description       string          `json:"description"`
	Category          string          `json:"category"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	ExpenseDate       time.Time       `json:"expense_date"`
	PaidBy            string          `json:"paid_by"`
	Remarks           string          `json:"remarks"`
	Status            string          `json:"status"` // draft | submitted | awaiting_approval | approved | rejected
	PolicyID          *string         `json:"policy_id,omitempty"`
	CurrentApproverID *string         `json:"current_approver_id,omitempty"`
	FinalOutcome      *string         `json:"final_outcome,omitempty"`
	FinalComment      *string         `json:"final_comment,omitempty"`
	FinalDecidedAt    *time.Time      `json:"final_decided_at,omitempty"`
	SubmittedAt       *time.Time      `json:"submitted_at,omitempty"`
	Version           int             `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`

	// Slots in approval order; empty until the claim is submitted.
	Slots []*ClaimApprovalSlot `json:"approval_slots,omitempty"`
}

// ClaimApprovalSlot is one approver's entry on a claim.
type ClaimApprovalSlot struct {
	ClaimID    string     `json:"claim_id"`
	Position   int        `json:"position"`
	ApproverID string     `json:"approver_id"`
	Status     string     `json:"status"` // pending | approved | rejected
	Comment    string     `json:"comment"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
}

// ClaimFilter narrows ListClaims. Empty fields do not filter.
type ClaimFilter struct {
	CompanyID   string
	EmployeeIDs []string
	Status      string
	Limit       int
	Offset      int
}

// ApprovalAuditEntry is one immutable record in the audit log.
type ApprovalAuditEntry struct {
	ID           string                 `json:"id"`
	ClaimID      string                 `json:"claim_id"`
	CompanyID    string                 `json:"company_id"`
	PolicyID     *string                `json:"policy_id,omitempty"`
	Action       string                 `json:"action"` // submitted | approved | rejected | advanced | override_backfill
	PerformedBy  string                 `json:"performed_by"`
	PerformedAt  time.Time              `json:"performed_at"`
	StatusBefore *string                `json:"status_before,omitempty"`
	StatusAfter  *string                `json:"status_after,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"` // arbitrary JSON context
}
