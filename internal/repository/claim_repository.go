package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pesio-ai/be-expense-approvals/internal/common/database"
	"github.com/pesio-ai/be-expense-approvals/internal/common/errors"
)

// ClaimRepository handles expense_claims and their approval slots.
type ClaimRepository struct {
	db *database.DB
}

// NewClaimRepository creates a new claim repository.
func NewClaimRepository(db *database.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

const claimColumns = `
	id, company_id, employee_id, description, category,
	amount, currency, expense_date, paid_by, remarks,
	status, policy_id, current_approver_id,
	final_outcome, final_comment, final_decided_at,
	submitted_at, version, created_at, updated_at`

// Create inserts a draft claim.
func (r *ClaimRepository) Create(ctx context.Context, c *Claim) error {
	query := `
		INSERT INTO expense_claims
		    (company_id, employee_id, description, category,
		     amount, currency, expense_date, paid_by, remarks, status)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7, $8, $9, 'draft')
		RETURNING id, status, version, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		c.CompanyID,
		c.EmployeeID,
		c.Description,
		c.Category,
		c.Amount,
		c.Currency,
		c.ExpenseDate,
		c.PaidBy,
		c.Remarks,
	).Scan(&c.ID, &c.Status, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create claim")
	}
	return nil
}

// GetByID retrieves a claim with its slots.
func (r *ClaimRepository) GetByID(ctx context.Context, id string) (*Claim, error) {
	return r.get(ctx, r.db, id, false)
}

func (r *ClaimRepository) get(ctx context.Context, q database.Querier, id string, forUpdate bool) (*Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM expense_claims WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanClaim(q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("claim", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get claim")
	}

	slots, err := r.getSlots(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	c.Slots = slots[id]
	return c, nil
}

// List returns claims matching filter, newest first, with their slots.
func (r *ClaimRepository) List(ctx context.Context, filter ClaimFilter) ([]*Claim, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.CompanyID != "" {
		conds = append(conds, "company_id = "+arg(filter.CompanyID))
	}
	if filter.EmployeeIDs != nil {
		conds = append(conds, "employee_id::text = ANY("+arg(filter.EmployeeIDs)+")")
	}
	if filter.Status != "" {
		conds = append(conds, "status = "+arg(filter.Status))
	}

	query := `SELECT ` + claimColumns + ` FROM expense_claims`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	return r.queryClaims(ctx, query, args...)
}

// ListActionableBy returns claims awaiting approval on which approverID
// holds a pending slot and, for sequential claims, is the current approver.
// It is the query form of approval.State.ActionableBy.
func (r *ClaimRepository) ListActionableBy(ctx context.Context, approverID string) ([]*Claim, error) {
	query := `SELECT ` + claimColumns + `
		FROM expense_claims c
		WHERE c.status = 'awaiting_approval'
		  AND (c.current_approver_id IS NULL OR c.current_approver_id = $1)
		  AND EXISTS (
		      SELECT 1 FROM claim_approval_slots s
		      WHERE s.claim_id = c.id AND s.approver_id = $1 AND s.status = 'pending'
		  )
		ORDER BY c.submitted_at ASC`
	return r.queryClaims(ctx, query, approverID)
}

// DeleteDraft removes a claim that has not been submitted.
func (r *ClaimRepository) DeleteDraft(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM expense_claims WHERE id = $1 AND status = 'draft'`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete claim")
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.ErrCodeFailedPrecondition, "only draft claims can be deleted")
	}
	return nil
}

// UpdateApproval loads the claim under a row lock, lets fn compute its next
// state and writes that state back, all in one transaction. The write is
// also guarded by the claim's version so a concurrent writer that bypassed
// the row lock surfaces as a conflict instead of a lost update. fn must not
// modify the claim it is given.
func (r *ClaimRepository) UpdateApproval(ctx context.Context, id string, fn func(current *Claim) (*Claim, error)) (*Claim, error) {
	var result *Claim
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		current, err := r.get(ctx, tx, id, true)
		if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		query := `
			UPDATE expense_claims
			SET status = $3,
			    policy_id = $4,
			    current_approver_id = $5,
			    final_outcome = $6,
			    final_comment = $7,
			    final_decided_at = $8,
			    submitted_at = $9,
			    version = version + 1,
			    updated_at = NOW()
			WHERE id = $1 AND version = $2
			RETURNING version, updated_at
		`
		err = tx.QueryRow(ctx, query,
			id,
			current.Version,
			next.Status,
			next.PolicyID,
			next.CurrentApproverID,
			next.FinalOutcome,
			next.FinalComment,
			next.FinalDecidedAt,
			next.SubmittedAt,
		).Scan(&next.Version, &next.UpdatedAt)
		if err == pgx.ErrNoRows {
			return errors.New(errors.ErrCodeConflict, "claim was modified concurrently, retry")
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update claim")
		}

		if err := r.writeSlots(ctx, tx, id, current.Slots, next.Slots); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// writeSlots inserts slots that did not exist before and updates the ones
// whose decision changed.
func (r *ClaimRepository) writeSlots(ctx context.Context, tx pgx.Tx, claimID string, before, after []*ClaimApprovalSlot) error {
	if len(before) > 0 && len(before) != len(after) {
		return errors.New(errors.ErrCodeInternal, "approval slots cannot be added or removed after submission")
	}

	for i, s := range after {
		if i < len(before) {
			old := before[i]
			if old.ApproverID != s.ApproverID {
				return errors.New(errors.ErrCodeInternal, "approval slot order cannot change after submission")
			}
			if old.Status == s.Status && old.Comment == s.Comment {
				continue
			}
			_, err := tx.Exec(ctx, `
				UPDATE claim_approval_slots
				SET status = $3, comment = $4, decided_at = $5
				WHERE claim_id = $1 AND position = $2
			`, claimID, i, s.Status, s.Comment, s.DecidedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval slot")
			}
			continue
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO claim_approval_slots
			    (claim_id, position, approver_id, status, comment, decided_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, claimID, i, s.ApproverID, s.Status, s.Comment, s.DecidedAt)
		if database.IsUniqueViolation(err, "uq_claim_approval_slots_approver") {
			return errors.New(errors.ErrCodeInternal, "approver listed twice on one claim")
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval slot")
		}
	}
	return nil
}

func (r *ClaimRepository) queryClaims(ctx context.Context, query string, args ...any) ([]*Claim, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list claims")
	}
	defer rows.Close()

	var claims []*Claim
	var ids []string
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan claim")
		}
		claims = append(claims, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate claims")
	}
	rows.Close()

	if len(ids) == 0 {
		return claims, nil
	}
	slots, err := r.getSlots(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for _, c := range claims {
		c.Slots = slots[c.ID]
	}
	return claims, nil
}

func (r *ClaimRepository) getSlots(ctx context.Context, q database.Querier, claimIDs []string) (map[string][]*ClaimApprovalSlot, error) {
	rows, err := q.Query(ctx, `
		SELECT claim_id, position, approver_id, status, comment, decided_at
		FROM claim_approval_slots
		WHERE claim_id::text = ANY($1)
		ORDER BY claim_id, position
	`, claimIDs)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval slots")
	}
	defer rows.Close()

	out := make(map[string][]*ClaimApprovalSlot, len(claimIDs))
	for rows.Next() {
		s := &ClaimApprovalSlot{}
		if err := rows.Scan(&s.ClaimID, &s.Position, &s.ApproverID, &s.Status, &s.Comment, &s.DecidedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval slot")
		}
		out[s.ClaimID] = append(out[s.ClaimID], s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate approval slots")
	}
	return out, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

func scanClaim(sc rowScanner) (*Claim, error) {
	c := &Claim{}
	err := sc.Scan(
		&c.ID,
		&c.CompanyID,
		&c.EmployeeID,
		&c.Description,
		&c.Category,
		&c.Amount,
		&c.Currency,
		&c.ExpenseDate,
		&c.PaidBy,
		&c.Remarks,
		&c.Status,
		&c.PolicyID,
		&c.CurrentApproverID,
		&c.FinalOutcome,
		&c.FinalComment,
		&c.FinalDecidedAt,
		&c.SubmittedAt,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
