package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/approval"
	"github.com/pesio-ai/be-expense-approvals/internal/common/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/common/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// Categories lists the accepted claim categories.
var Categories = []string{
	"Food",
	"Travel",
	"Accommodation",
	"Transport",
	"Office Supplies",
	"Entertainment",
	"Other",
}

// DefaultPaidBy is used when a claim does not say how it was paid.
const DefaultPaidBy = "Cash"

// maxAmount is the first value the NUMERIC(14,2) amount column cannot hold.
var maxAmount = decimal.New(1, 12)

const (
	expenseDateLayout = "2006-01-02"
	defaultPageSize   = 50
	maxPageSize       = 200
)

// ClaimService manages the draft side of expense claims and claim queries.
// Submission and decisions go through ApprovalRoutingService.
type ClaimService struct {
	claims ClaimStore
	users  UserStore
	log    *logger.Logger
	now    func() time.Time
}

// NewClaimService creates a new claim service
func NewClaimService(claims ClaimStore, users UserStore, log *logger.Logger) *ClaimService {
	return &ClaimService{claims: claims, users: users, log: log, now: time.Now}
}

// CreateClaimRequest represents a request to create a draft claim
type CreateClaimRequest struct {
	Description string `json:"description"`
	Category    string `json:"category"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	ExpenseDate string `json:"expense_date"` // YYYY-MM-DD
	PaidBy      string `json:"paid_by"`
	Remarks     string `json:"remarks"`
}

// ListClaimsRequest filters ListClaims.
type ListClaimsRequest struct {
	Status string
	Limit  int
	Offset int
}

// CreateClaim validates req and stores it as a draft owned by the caller.
func (s *ClaimService) CreateClaim(ctx context.Context, actorID string, req *CreateClaimRequest) (*repository.Claim, error) {
	actor, err := loadActiveActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}

	claim, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	claim.CompanyID = actor.CompanyID
	claim.EmployeeID = actor.ID

	if err := s.claims.Create(ctx, claim); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("claim_id", claim.ID).
		Str("company_id", claim.CompanyID).
		Str("employee_id", claim.EmployeeID).
		Str("amount", claim.Amount.String()).
		Str("currency", claim.Currency).
		Msg("Claim created")
	return claim, nil
}

func (s *ClaimService) validate(req *CreateClaimRequest) (*repository.Claim, error) {
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return nil, errors.InvalidInput("description", "description is required")
	}
	if !slices.Contains(Categories, req.Category) {
		return nil, errors.InvalidInput("category", "category must be one of "+strings.Join(Categories, ", "))
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return nil, errors.InvalidInput("amount", "amount must be a decimal number")
	}
	if !amount.IsPositive() {
		return nil, errors.InvalidInput("amount", "amount must be greater than zero")
	}
	if !amount.Equal(amount.Round(2)) {
		return nil, errors.InvalidInput("amount", "amount cannot have more than two decimal places")
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return nil, errors.InvalidInput("amount", "amount must be less than "+maxAmount.String())
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !isCurrencyCode(currency) {
		return nil, errors.InvalidInput("currency", "currency must be a 3-letter ISO code")
	}

	date, err := time.Parse(expenseDateLayout, req.ExpenseDate)
	if err != nil {
		return nil, errors.InvalidInput("expense_date", "expense date must be YYYY-MM-DD")
	}
	if date.After(s.now()) {
		return nil, errors.InvalidInput("expense_date", "expense date cannot be in the future")
	}

	paidBy := strings.TrimSpace(req.PaidBy)
	if paidBy == "" {
		paidBy = DefaultPaidBy
	}

	return &repository.Claim{
		Description: description,
		Category:    req.Category,
		Amount:      amount,
		Currency:    currency,
		ExpenseDate: date,
		PaidBy:      paidBy,
		Remarks:     strings.TrimSpace(req.Remarks),
		Status:      string(approval.ClaimDraft),
	}, nil
}

// GetClaim returns a claim the caller may see.
func (s *ClaimService) GetClaim(ctx context.Context, actorID, id string) (*repository.Claim, error) {
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	return loadVisibleClaim(ctx, s.claims, s.users, actor, id)
}

// ListClaims lists claims by role: employees see their own, managers see
// their own and their reports', admins see the whole company.
func (s *ClaimService) ListClaims(ctx context.Context, actorID string, req *ListClaimsRequest) ([]*repository.Claim, error) {
	actor, err := loadActiveActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}

	filter := repository.ClaimFilter{
		CompanyID: actor.CompanyID,
		Status:    req.Status,
		Limit:     req.Limit,
		Offset:    max(req.Offset, 0),
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	filter.Limit = min(filter.Limit, maxPageSize)

	switch approval.Role(actor.Role) {
	case approval.RoleAdmin:
	case approval.RoleManager:
		reports, err := s.users.ListReports(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		filter.EmployeeIDs = append([]string{actor.ID}, reports...)
	default:
		filter.EmployeeIDs = []string{actor.ID}
	}

	return s.claims.List(ctx, filter)
}

// DeleteClaim deletes a draft owned by the caller.
func (s *ClaimService) DeleteClaim(ctx context.Context, actorID, id string) error {
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return err
	}
	claim, err := loadVisibleClaim(ctx, s.claims, s.users, actor, id)
	if err != nil {
		return err
	}
	if claim.EmployeeID != actor.ID {
		return errors.New(errors.ErrCodeForbidden, "only the claim owner can delete it")
	}
	if claim.Status != string(approval.ClaimDraft) {
		return errors.New(errors.ErrCodeFailedPrecondition, "only draft claims can be deleted")
	}
	if err := s.claims.DeleteDraft(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("claim_id", id).Str("employee_id", actor.ID).Msg("Draft claim deleted")
	return nil
}
