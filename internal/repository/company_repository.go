package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pesio-ai/be-expense-approvals/internal/common/database"
	"github.com/pesio-ai/be-expense-approvals/internal/common/errors"
)

// CompanyRepository handles the companies table.
type CompanyRepository struct {
	db *database.DB
}

// NewCompanyRepository creates a new CompanyRepository.
func NewCompanyRepository(db *database.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

// Create inserts a company.
func (r *CompanyRepository) Create(ctx context.Context, c *Company) error {
	query := `
		INSERT INTO companies (name, base_currency, country)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, c.Name, c.BaseCurrency, c.Country).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create company")
	}
	return nil
}

// CreateWithAdmin inserts a company and its first admin user in one
// transaction.
func (r *CompanyRepository) CreateWithAdmin(ctx context.Context, c *Company, admin *User) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO companies (name, base_currency, country)
			VALUES ($1, $2, $3)
			RETURNING id, created_at, updated_at
		`, c.Name, c.BaseCurrency, c.Country).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create company")
		}

		admin.CompanyID = c.ID
		admin.Role = "admin"
		admin.IsActive = true
		err = tx.QueryRow(ctx, `
			INSERT INTO users (company_id, name, email, role, is_active)
			VALUES ($1, $2, $3, 'admin', TRUE)
			RETURNING id, created_at, updated_at
		`, admin.CompanyID, admin.Name, admin.Email).Scan(&admin.ID, &admin.CreatedAt, &admin.UpdatedAt)
		if database.IsUniqueViolation(err, "uq_users_email") {
			return errors.New(errors.ErrCodeConflict, "a user with this email already exists")
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create company admin")
		}
		return nil
	})
}

// GetByID retrieves a company.
func (r *CompanyRepository) GetByID(ctx context.Context, id string) (*Company, error) {
	query := `
		SELECT id, name, base_currency, country, created_at, updated_at
		FROM companies
		WHERE id = $1
	`
	c := &Company{}
	err := r.db.QueryRow(ctx, query, id).
		Scan(&c.ID, &c.Name, &c.BaseCurrency, &c.Country, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("company", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get company")
	}
	return c, nil
}
