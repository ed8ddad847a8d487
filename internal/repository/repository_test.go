package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/internal/common/database"
	"github.com/pesio-ai/be-expense-approvals/internal/common/errors"
)

// testDB connects to TEST_DATABASE_URL and applies migrations. Tests are
// skipped when it is unset.
func testDB(t *testing.T) *database.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := database.Open(ctx, dsn, database.Config{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.Migrate(ctx)
	require.NoError(t, err)
	return db
}

type fixture struct {
	company  *Company
	admin    *User
	manager  *User
	employee *User
}

func seed(t *testing.T, db *database.DB) fixture {
	t.Helper()
	ctx := context.Background()
	suffix := time.Now().Format("150405.000000000")

	company := &Company{Name: "Acme " + suffix, BaseCurrency: "USD", Country: "US"}
	require.NoError(t, NewCompanyRepository(db).Create(ctx, company))

	users := NewUserRepository(db)
	admin := &User{CompanyID: company.ID, Name: "Ada", Email: "ada+" + suffix + "@acme.test", Role: "admin", IsActive: true}
	require.NoError(t, users.Create(ctx, admin))
	manager := &User{CompanyID: company.ID, Name: "Max", Email: "max+" + suffix + "@acme.test", Role: "manager", IsActive: true}
	require.NoError(t, users.Create(ctx, manager))
	employee := &User{CompanyID: company.ID, Name: "Eve", Email: "eve+" + suffix + "@acme.test", Role: "employee", ManagerID: &manager.ID, IsActive: true}
	require.NoError(t, users.Create(ctx, employee))

	return fixture{company: company, admin: admin, manager: manager, employee: employee}
}

func TestUserRepository_DuplicateEmail(t *testing.T) {
	db := testDB(t)
	f := seed(t, db)

	dup := &User{CompanyID: f.company.ID, Name: "Eve 2", Email: f.employee.Email, Role: "employee", IsActive: true}
	err := NewUserRepository(db).Create(context.Background(), dup)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}

func TestApprovalPolicyRepository_SingleActive(t *testing.T) {
	db := testDB(t)
	f := seed(t, db)
	ctx := context.Background()
	repo := NewApprovalPolicyRepository(db)

	first := &ApprovalPolicy{CompanyID: f.company.ID, Name: "v1", RequiredApprovers: []string{f.manager.ID}, QuorumPercentage: 100}
	require.NoError(t, repo.Activate(ctx, first))

	second := &ApprovalPolicy{CompanyID: f.company.ID, Name: "v2", RequiredApprovers: []string{f.manager.ID, f.admin.ID}, Sequential: true}
	require.NoError(t, repo.Supersede(ctx, first.ID, second))

	active, err := repo.GetActive(ctx, f.company.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)
	require.NotNil(t, active.SupersedesID)
	assert.Equal(t, first.ID, *active.SupersedesID)

	old, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.Equal(t, []string{f.manager.ID}, old.RequiredApprovers)

	all, err := repo.List(ctx, f.company.ID, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, repo.Deactivate(ctx, second.ID, f.company.ID))
	active, err = repo.GetActive(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestClaimRepository_ApprovalRoundTrip(t *testing.T) {
	db := testDB(t)
	f := seed(t, db)
	ctx := context.Background()

	policy := &ApprovalPolicy{CompanyID: f.company.ID, Name: "v1", RequiredApprovers: []string{f.admin.ID}, IncludeManagerApprover: true, Sequential: true}
	require.NoError(t, NewApprovalPolicyRepository(db).Activate(ctx, policy))

	claims := NewClaimRepository(db)
	claim := &Claim{
		CompanyID:   f.company.ID,
		EmployeeID:  f.employee.ID,
		Description: "Client dinner",
		Category:    "Food",
		Amount:      decimal.RequireFromString("84.50"),
		Currency:    "USD",
		ExpenseDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		PaidBy:      "Cash",
	}
	require.NoError(t, claims.Create(ctx, claim))
	assert.Equal(t, "draft", claim.Status)

	now := time.Now().UTC().Truncate(time.Microsecond)
	submitted, err := claims.UpdateApproval(ctx, claim.ID, func(c *Claim) (*Claim, error) {
		next := *c
		next.Status = "awaiting_approval"
		next.PolicyID = &policy.ID
		next.CurrentApproverID = &f.manager.ID
		next.SubmittedAt = &now
		next.Slots = []*ClaimApprovalSlot{
			{ApproverID: f.manager.ID, Status: "pending"},
			{ApproverID: f.admin.ID, Status: "pending"},
		}
		return &next, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, submitted.Version)

	pending, err := claims.ListActionableBy(ctx, f.manager.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, claim.ID, pending[0].ID)

	pending, err = claims.ListActionableBy(ctx, f.admin.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = claims.UpdateApproval(ctx, claim.ID, func(c *Claim) (*Claim, error) {
		next := *c
		next.Slots = []*ClaimApprovalSlot{
			{ApproverID: f.manager.ID, Status: "approved", Comment: "fine", DecidedAt: &now},
			{ApproverID: f.admin.ID, Status: "pending"},
		}
		next.CurrentApproverID = &f.admin.ID
		return &next, nil
	})
	require.NoError(t, err)

	got, err := claims.GetByID(ctx, claim.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("84.50")))
	require.Len(t, got.Slots, 2)
	assert.Equal(t, "approved", got.Slots[0].Status)
	assert.Equal(t, "fine", got.Slots[0].Comment)
	assert.Equal(t, f.admin.ID, *got.CurrentApproverID)
	assert.Equal(t, 3, got.Version)

	err = claims.DeleteDraft(ctx, claim.ID)
	assert.Equal(t, errors.ErrCodeFailedPrecondition, errors.CodeOf(err))
}

func TestApprovalAuditRepository_AppendAndList(t *testing.T) {
	db := testDB(t)
	f := seed(t, db)
	ctx := context.Background()

	claim := &Claim{
		CompanyID: f.company.ID, EmployeeID: f.employee.ID, Description: "Taxi",
		Category: "Transport", Amount: decimal.NewFromInt(20), Currency: "USD",
		ExpenseDate: time.Now(), PaidBy: "Cash",
	}
	require.NoError(t, NewClaimRepository(db).Create(ctx, claim))

	audit := NewApprovalAuditRepository(db)
	before, after := "draft", "awaiting_approval"
	require.NoError(t, audit.Append(ctx, &ApprovalAuditEntry{
		ClaimID: claim.ID, CompanyID: f.company.ID, Action: "submitted",
		PerformedBy: f.employee.ID, StatusBefore: &before, StatusAfter: &after,
		Metadata: map[string]interface{}{"approvers": 1},
	}))

	entries, err := audit.ListByClaim(ctx, claim.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "submitted", entries[0].Action)
	assert.EqualValues(t, 1, entries[0].Metadata["approvers"])
}
