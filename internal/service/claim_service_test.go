package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/internal/common/errors"
)

func validClaim() *CreateClaimRequest {
	return &CreateClaimRequest{
		Description: "Taxi to airport",
		Category:    "Transport",
		Amount:      "42.10",
		Currency:    "eur",
		ExpenseDate: "2025-03-02",
	}
}

func TestCreateClaim(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	emp := e.addUser("eve", "employee", nil)

	c, err := e.claimSvc.CreateClaim(ctx, emp.ID, validClaim())
	require.NoError(t, err)
	assert.Equal(t, "draft", c.Status)
	assert.Equal(t, "EUR", c.Currency)
	assert.Equal(t, "Cash", c.PaidBy)
	assert.Equal(t, "42.1", c.Amount.String())
	assert.Equal(t, emp.ID, c.EmployeeID)
	assert.Equal(t, e.company.ID, c.CompanyID)
}

func TestCreateClaim_AmountPrecision(t *testing.T) {
	e := newEnv()
	emp := e.addUser("eve", "employee", nil)

	for _, amount := range []string{"10.000", "10.50", "999999999999.99"} {
		req := validClaim()
		req.Amount = amount
		c, err := e.claimSvc.CreateClaim(context.Background(), emp.ID, req)
		require.NoError(t, err, amount)
		assert.True(t, c.Amount.Equal(c.Amount.Round(2)), amount)
	}
}

func TestCreateClaim_Validation(t *testing.T) {
	e := newEnv()
	emp := e.addUser("eve", "employee", nil)

	tests := []struct {
		name   string
		mutate func(r *CreateClaimRequest)
		field  string
	}{
		{"no description", func(r *CreateClaimRequest) { r.Description = " " }, "description"},
		{"unknown category", func(r *CreateClaimRequest) { r.Category = "Gifts" }, "category"},
		{"zero amount", func(r *CreateClaimRequest) { r.Amount = "0" }, "amount"},
		{"negative amount", func(r *CreateClaimRequest) { r.Amount = "-5" }, "amount"},
		{"not a number", func(r *CreateClaimRequest) { r.Amount = "ten" }, "amount"},
		{"fractional cents", func(r *CreateClaimRequest) { r.Amount = "1.005" }, "amount"},
		{"too large", func(r *CreateClaimRequest) { r.Amount = "1000000000000" }, "amount"},
		{"bad currency", func(r *CreateClaimRequest) { r.Currency = "E1" }, "currency"},
		{"bad date", func(r *CreateClaimRequest) { r.ExpenseDate = "02/03/2025" }, "expense_date"},
		{"future date", func(r *CreateClaimRequest) { r.ExpenseDate = "2999-01-01" }, "expense_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validClaim()
			tt.mutate(req)
			_, err := e.claimSvc.CreateClaim(context.Background(), emp.ID, req)
			var appErr *errors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, errors.ErrCodeInvalidInput, appErr.Code)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
}

func TestListClaims_ByRole(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	mgr := e.addUser("mia", "manager", nil)
	emp := e.addUser("eve", "employee", mgr)
	other := e.addUser("oli", "employee", nil)

	mine := e.draft(mgr)
	report := e.draft(emp)
	unrelated := e.draft(other)

	claimIDs := func(actorID string) []string {
		claims, err := e.claimSvc.ListClaims(ctx, actorID, &ListClaimsRequest{})
		require.NoError(t, err)
		var out []string
		for _, c := range claims {
			out = append(out, c.ID)
		}
		return out
	}

	assert.Equal(t, []string{report.ID}, claimIDs(emp.ID))
	assert.ElementsMatch(t, []string{mine.ID, report.ID}, claimIDs(mgr.ID))
	assert.ElementsMatch(t, []string{mine.ID, report.ID, unrelated.ID}, claimIDs(e.admin.ID))

	page, err := e.claimSvc.ListClaims(ctx, e.admin.ID, &ListClaimsRequest{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, unrelated.ID, page[0].ID)
}

func TestGetClaim_Visibility(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	mgr := e.addUser("mia", "manager", nil)
	emp := e.addUser("eve", "employee", mgr)
	peer := e.addUser("pat", "employee", nil)
	claim := e.draft(emp)

	for _, viewer := range ids(emp, mgr, e.admin) {
		got, err := e.claimSvc.GetClaim(ctx, viewer, claim.ID)
		require.NoError(t, err)
		assert.Equal(t, claim.ID, got.ID)
	}
	_, err := e.claimSvc.GetClaim(ctx, peer.ID, claim.ID)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestDeleteClaim(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	a := e.addUser("alice", "manager", nil)
	emp := e.addUser("eve", "employee", nil)
	e.setPolicy(&PolicyRequest{RequiredApprovers: ids(a)})

	submitted, err := e.routingSvc.SubmitClaim(ctx, e.draft(emp).ID, emp.ID)
	require.NoError(t, err)
	err = e.claimSvc.DeleteClaim(ctx, emp.ID, submitted.ID)
	assert.Equal(t, errors.ErrCodeFailedPrecondition, errors.CodeOf(err))

	draft := e.draft(emp)
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(e.claimSvc.DeleteClaim(ctx, e.admin.ID, draft.ID)))
	require.NoError(t, e.claimSvc.DeleteClaim(ctx, emp.ID, draft.ID))

	_, err = e.claimSvc.GetClaim(ctx, emp.ID, draft.ID)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}
