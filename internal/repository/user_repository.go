package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pesio-ai/be-expense-approvals/internal/common/database"
	"github.com/pesio-ai/be-expense-approvals/internal/common/errors"
)

// UserRepository handles the users table. Users are deactivated, never
// deleted, because claims and audit entries reference them.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, company_id, name, email, role, manager_id, is_active, created_at, updated_at`

// Create inserts a user. A duplicate email is a conflict.
func (r *UserRepository) Create(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (company_id, name, email, role, manager_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		u.CompanyID, u.Name, u.Email, u.Role, u.ManagerID, u.IsActive,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if database.IsUniqueViolation(err, "uq_users_email") {
		return errors.New(errors.ErrCodeConflict, "a user with this email already exists")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create user")
	}
	return nil
}

// GetByID retrieves a user regardless of active status.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}

// GetByIDs returns the users with the given IDs that exist. Order is not
// preserved.
func (r *UserRepository) GetByIDs(ctx context.Context, ids []string) ([]*User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id::text = ANY($1)`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get users")
	}
	defer rows.Close()
	return scanUsers(rows)
}

// Update writes name, role, manager and active flag.
func (r *UserRepository) Update(ctx context.Context, u *User) error {
	query := `
		UPDATE users
		SET name = $2, role = $3, manager_id = $4, is_active = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query, u.ID, u.Name, u.Role, u.ManagerID, u.IsActive).Scan(&u.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("user", u.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update user")
	}
	return nil
}

// Deactivate soft-deletes a user.
func (r *UserRepository) Deactivate(ctx context.Context, id, companyID string) error {
	query := `
		UPDATE users SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND company_id = $2
		RETURNING id
	`
	var returnedID string
	err := r.db.QueryRow(ctx, query, id, companyID).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("user", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to deactivate user")
	}
	return nil
}

// List returns a company's users, active ones only unless includeInactive.
func (r *UserRepository) List(ctx context.Context, companyID string, includeInactive bool) ([]*User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE company_id = $1 AND ($2 OR is_active)
		ORDER BY name`
	rows, err := r.db.Query(ctx, query, companyID, includeInactive)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list users")
	}
	defer rows.Close()
	return scanUsers(rows)
}

// ListManagers returns active managers and admins of a company, the users
// that may be assigned as someone's manager.
func (r *UserRepository) ListManagers(ctx context.Context, companyID string) ([]*User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE company_id = $1 AND is_active AND role IN ('manager', 'admin')
		ORDER BY name`
	rows, err := r.db.Query(ctx, query, companyID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list managers")
	}
	defer rows.Close()
	return scanUsers(rows)
}

// ListReports returns the IDs of users whose manager is managerID.
func (r *UserRepository) ListReports(ctx context.Context, managerID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM users WHERE manager_id = $1`, managerID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list reports")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan report id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(sc rowScanner) (*User, error) {
	u := &User{}
	err := sc.Scan(&u.ID, &u.CompanyID, &u.Name, &u.Email, &u.Role,
		&u.ManagerID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func scanUsers(rows pgx.Rows) ([]*User, error) {
	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user")
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate users")
	}
	return users, nil
}
