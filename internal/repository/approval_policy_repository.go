package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pesio-ai/be-expense-approvals/internal/common/database"
	"github.com/pesio-ai/be-expense-approvals/internal/common/errors"
)

const activePolicyConstraint = "uq_approval_policies_one_active"

// ApprovalPolicyRepository handles approval_policies. A company has at most
// one active policy; swaps happen in a single transaction that deactivates
// the current policy before inserting the new one.
type ApprovalPolicyRepository struct {
	db *database.DB
}

// NewApprovalPolicyRepository creates a new ApprovalPolicyRepository.
func NewApprovalPolicyRepository(db *database.DB) *ApprovalPolicyRepository {
	return &ApprovalPolicyRepository{db: db}
}

const policyColumns = `
	id, company_id, name, description,
	required_approvers, include_manager_approver, sequential,
	quorum_percentage, override_approvers, is_active,
	supersedes_id, created_by, created_at, updated_at`

// Activate deactivates the company's current policy and inserts p as the
// active one.
func (r *ApprovalPolicyRepository) Activate(ctx context.Context, p *ApprovalPolicy) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return r.activate(ctx, tx, p)
	})
}

// Supersede replaces policy oldID with p. The old row is kept, deactivated,
// so claims bound to it keep evaluating against the rules they were
// submitted under.
func (r *ApprovalPolicyRepository) Supersede(ctx context.Context, oldID string, p *ApprovalPolicy) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var companyID string
		err := tx.QueryRow(ctx,
			`SELECT company_id FROM approval_policies WHERE id = $1 FOR UPDATE`, oldID,
		).Scan(&companyID)
		if err == pgx.ErrNoRows {
			return errors.NotFound("approval_policy", oldID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to lock approval policy")
		}
		if companyID != p.CompanyID {
			return errors.NotFound("approval_policy", oldID)
		}

		p.SupersedesID = &oldID
		return r.activate(ctx, tx, p)
	})
}

func (r *ApprovalPolicyRepository) activate(ctx context.Context, tx pgx.Tx, p *ApprovalPolicy) error {
	_, err := tx.Exec(ctx, `
		UPDATE approval_policies
		SET is_active = FALSE, updated_at = NOW()
		WHERE company_id = $1 AND is_active
	`, p.CompanyID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to deactivate current approval policy")
	}

	query := `
		INSERT INTO approval_policies
		    (company_id, name, description,
		     required_approvers, include_manager_approver, sequential,
		     quorum_percentage, override_approvers, is_active,
		     supersedes_id, created_by)
		VALUES ($1, $2, $3,
		        $4, $5, $6,
		        $7, $8, TRUE,
		        $9, $10)
		RETURNING id, is_active, created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		p.CompanyID,
		p.Name,
		p.Description,
		nonNil(p.RequiredApprovers),
		p.IncludeManagerApprover,
		p.Sequential,
		p.QuorumPercentage,
		nonNil(p.OverrideApprovers),
		p.SupersedesID,
		p.CreatedBy,
	).Scan(&p.ID, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if database.IsUniqueViolation(err, activePolicyConstraint) {
		return errors.New(errors.ErrCodeConflict, "another approval policy was activated concurrently")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval policy")
	}
	return nil
}

// GetByID retrieves a policy, active or not.
func (r *ApprovalPolicyRepository) GetByID(ctx context.Context, id string) (*ApprovalPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM approval_policies WHERE id = $1`
	p, err := scanPolicy(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_policy", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval policy")
	}
	return p, nil
}

// GetActive returns the company's active policy, or nil if none is
// configured.
func (r *ApprovalPolicyRepository) GetActive(ctx context.Context, companyID string) (*ApprovalPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM approval_policies WHERE company_id = $1 AND is_active`
	p, err := scanPolicy(r.db.QueryRow(ctx, query, companyID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get active approval policy")
	}
	return p, nil
}

// List returns a company's policies, newest first.
func (r *ApprovalPolicyRepository) List(ctx context.Context, companyID string, activeOnly bool) ([]*ApprovalPolicy, error) {
	query := `SELECT ` + policyColumns + `
		FROM approval_policies
		WHERE company_id = $1 AND (NOT $2 OR is_active)
		ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, companyID, activeOnly)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval policies")
	}
	defer rows.Close()

	var policies []*ApprovalPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval policy")
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate approval policies")
	}
	return policies, nil
}

// Deactivate soft-deletes a policy. The company is left without an active
// policy until a new one is created.
func (r *ApprovalPolicyRepository) Deactivate(ctx context.Context, id, companyID string) error {
	query := `
		UPDATE approval_policies
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND company_id = $2
		RETURNING id
	`
	var returnedID string
	err := r.db.QueryRow(ctx, query, id, companyID).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_policy", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to deactivate approval policy")
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

func scanPolicy(sc rowScanner) (*ApprovalPolicy, error) {
	p := &ApprovalPolicy{}
	err := sc.Scan(
		&p.ID,
		&p.CompanyID,
		&p.Name,
		&p.Description,
		&p.RequiredApprovers,
		&p.IncludeManagerApprover,
		&p.Sequential,
		&p.QuorumPercentage,
		&p.OverrideApprovers,
		&p.IsActive,
		&p.SupersedesID,
		&p.CreatedBy,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
