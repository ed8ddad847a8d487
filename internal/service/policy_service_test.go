package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/internal/common/errors"
)

func TestCreatePolicy_Validation(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	a := e.addUser("alice", "manager", nil)
	b := e.addUser("bob", "manager", nil)
	gone := e.addUser("gina", "manager", nil)
	e.deactivate(gone)

	tests := []struct {
		name  string
		req   *PolicyRequest
		field string
	}{
		{"missing name", &PolicyRequest{RequiredApprovers: ids(a)}, "name"},
		{"quorum too high", &PolicyRequest{Name: "p", RequiredApprovers: ids(a), QuorumPercentage: intPtr(101)}, "quorum_percentage"},
		{"quorum negative", &PolicyRequest{Name: "p", RequiredApprovers: ids(a), QuorumPercentage: intPtr(-1)}, "quorum_percentage"},
		{"no approvers", &PolicyRequest{Name: "p"}, "required_approvers"},
		{"duplicate approver", &PolicyRequest{Name: "p", RequiredApprovers: []string{a.ID, b.ID, a.ID}}, "required_approvers"},
		{"unknown approver", &PolicyRequest{Name: "p", RequiredApprovers: []string{a.ID, "ghost"}}, "required_approvers"},
		{"inactive approver", &PolicyRequest{Name: "p", RequiredApprovers: ids(a, gone)}, "required_approvers"},
		{"override not required", &PolicyRequest{Name: "p", RequiredApprovers: ids(a), OverrideApprovers: ids(b)}, "override_approvers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.policySvc.CreatePolicy(ctx, e.admin.ID, tt.req)
			require.Error(t, err)
			var appErr *errors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, errors.ErrCodeInvalidInput, appErr.Code)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}

	p, err := e.policySvc.GetActivePolicy(ctx, a.ID)
	assert.Nil(t, p)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestCreatePolicy_Defaults(t *testing.T) {
	e := newEnv()
	a := e.addUser("alice", "manager", nil)

	p, err := e.policySvc.CreatePolicy(context.Background(), e.admin.ID, &PolicyRequest{
		Name:              "  Standard  ",
		RequiredApprovers: ids(a),
		OverrideApprovers: []string{a.ID, a.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, "Standard", p.Name)
	assert.Equal(t, 100, p.QuorumPercentage)
	assert.Equal(t, ids(a), p.OverrideApprovers)
	assert.True(t, p.IsActive)
	assert.Equal(t, e.company.ID, p.CompanyID)
	assert.Equal(t, e.admin.ID, *p.CreatedBy)
}

func TestCreatePolicy_ManagerOnlyAllowed(t *testing.T) {
	e := newEnv()
	p, err := e.policySvc.CreatePolicy(context.Background(), e.admin.ID, &PolicyRequest{
		Name:                   "Manager signs off",
		IncludeManagerApprover: true,
		QuorumPercentage:       intPtr(0),
	})
	require.NoError(t, err)
	assert.Empty(t, p.RequiredApprovers)
	assert.Equal(t, 0, p.QuorumPercentage)
}

func TestPolicyService_AdminOnly(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	mgr := e.addUser("mia", "manager", nil)

	_, err := e.policySvc.CreatePolicy(ctx, mgr.ID, &PolicyRequest{Name: "p", RequiredApprovers: ids(mgr)})
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))

	_, err = e.policySvc.ListPolicies(ctx, mgr.ID, false)
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))

	e.deactivate(mgr)
	_, err = e.policySvc.GetActivePolicy(ctx, mgr.ID)
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))
}

func TestUpdatePolicy_SupersedesAndKeepsBoundClaims(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	a := e.addUser("alice", "manager", nil)
	b := e.addUser("bob", "manager", nil)
	emp := e.addUser("eve", "employee", nil)
	first := e.setPolicy(&PolicyRequest{RequiredApprovers: ids(a)})

	claim, err := e.routingSvc.SubmitClaim(ctx, e.draft(emp).ID, emp.ID)
	require.NoError(t, err)

	second, err := e.policySvc.UpdatePolicy(ctx, e.admin.ID, first.ID, &PolicyRequest{Name: "Two", RequiredApprovers: ids(b)})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	require.NotNil(t, second.SupersedesID)
	assert.Equal(t, first.ID, *second.SupersedesID)

	active, err := e.policySvc.GetActivePolicy(ctx, emp.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	old, err := e.policySvc.GetPolicy(ctx, e.admin.ID, first.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.Equal(t, ids(a), old.RequiredApprovers)

	// The open claim still follows the policy it was submitted under.
	res, err := e.routingSvc.DecideClaim(ctx, &DecideRequest{ClaimID: claim.ID, ActorID: a.ID, Action: "approve"})
	require.NoError(t, err)
	assert.Equal(t, "approved", res.Claim.Status)

	all, err := e.policySvc.ListPolicies(ctx, e.admin.ID, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	activeOnly, err := e.policySvc.ListPolicies(ctx, e.admin.ID, true)
	require.NoError(t, err)
	assert.Len(t, activeOnly, 1)
}

func TestDeactivatePolicy_BlocksSubmission(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	a := e.addUser("alice", "manager", nil)
	emp := e.addUser("eve", "employee", nil)
	p := e.setPolicy(&PolicyRequest{RequiredApprovers: ids(a)})

	require.NoError(t, e.policySvc.DeactivatePolicy(ctx, e.admin.ID, p.ID))

	_, err := e.routingSvc.SubmitClaim(ctx, e.draft(emp).ID, emp.ID)
	assert.Equal(t, errors.ErrCodeFailedPrecondition, errors.CodeOf(err))
	assert.Equal(t, "cannot submit, ask an admin to configure approval rules", errors.PublicMessage(err))
}
