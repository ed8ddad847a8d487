package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/internal/common/auth"
	"github.com/pesio-ai/be-expense-approvals/internal/common/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/lock"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
	"github.com/pesio-ai/be-expense-approvals/internal/service/servicetest"
)

type testServer struct {
	mux      *http.ServeMux
	users    *servicetest.Users
	company  string
	admin    *repository.User
	routing  *service.ApprovalRoutingService
	claims   *service.ClaimService
	policies *service.PolicyService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.Nop()
	users := servicetest.NewUsers()
	policies := &servicetest.Policies{}
	claims := servicetest.NewClaims()

	userSvc := service.NewUserService(servicetest.NewCompanies(users), users, log)
	claimSvc := service.NewClaimService(claims, users, log)
	routing := service.NewApprovalRoutingService(claims, policies, users, &servicetest.Audit{}, &servicetest.Publisher{}, lock.NewLocal(), nil, log)
	policySvc := service.NewPolicyService(policies, users, log)

	company, admin, err := userSvc.ProvisionCompany(context.Background(), service.OperatorRole, &service.ProvisionCompanyRequest{
		Name: "Acme", BaseCurrency: "USD", AdminName: "Ada", AdminEmail: "ada@acme.test",
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewHTTPHandler(claimSvc, routing, policySvc, userSvc, log).Register(mux)
	return &testServer{
		mux:      mux,
		users:    users,
		company:  company.ID,
		admin:    admin,
		routing:  routing,
		claims:   claimSvc,
		policies: policySvc,
	}
}

func (s *testServer) addUser(t *testing.T, name, role string) *repository.User {
	t.Helper()
	u := &repository.User{CompanyID: s.company, Name: name, Email: name + "@acme.test", Role: role, IsActive: true}
	require.NoError(t, s.users.Create(context.Background(), u))
	return u
}

// do sends a request as userID; an empty userID sends no principal.
func (s *testServer) do(t *testing.T, method, target, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if userID != "" {
		req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: userID, CompanyID: s.company}))
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHTTP_ClaimApprovalFlow(t *testing.T) {
	s := newTestServer(t)
	approver := s.addUser(t, "alice", "manager")
	emp := s.addUser(t, "eve", "employee")

	rec := s.do(t, http.MethodPost, "/api/v1/policies", s.admin.ID, map[string]interface{}{
		"name":               "Default",
		"required_approvers": []string{approver.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/claims", emp.ID, map[string]string{
		"description":  "Hotel",
		"category":     "Accommodation",
		"amount":       "310.00",
		"currency":     "USD",
		"expense_date": "2025-05-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var claim repository.Claim
	decode(t, rec, &claim)
	assert.Equal(t, "draft", claim.Status)
	assert.Equal(t, "310", claim.Amount.String())

	rec = s.do(t, http.MethodPost, "/api/v1/claims/submit", emp.ID, map[string]string{"id": claim.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/approvals/pending", approver.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending struct {
		Claims []repository.Claim `json:"claims"`
	}
	decode(t, rec, &pending)
	require.Len(t, pending.Claims, 1)
	assert.Equal(t, claim.ID, pending.Claims[0].ID)

	rec = s.do(t, http.MethodPost, "/api/v1/claims/decide", approver.ID, map[string]string{
		"claim_id": claim.ID, "action": "approve", "comment": "fine",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result struct {
		Transition string           `json:"transition"`
		Claim      repository.Claim `json:"claim"`
	}
	decode(t, rec, &result)
	assert.Equal(t, "approved", result.Transition)
	assert.Equal(t, "approved", result.Claim.Status)

	rec = s.do(t, http.MethodGet, "/api/v1/claims/history?id="+claim.ID, emp.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		History []repository.ApprovalAuditEntry `json:"history"`
	}
	decode(t, rec, &history)
	assert.Len(t, history.History, 2)
}

func TestHTTP_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	approver := s.addUser(t, "alice", "manager")
	emp := s.addUser(t, "eve", "employee")

	claim, err := s.claims.CreateClaim(context.Background(), emp.ID, &service.CreateClaimRequest{
		Description: "Lunch", Category: "Food", Amount: "12", Currency: "USD", ExpenseDate: "2025-05-01",
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		target string
		user   string
		body   interface{}
		status int
		code   string
	}{
		{"no principal", http.MethodGet, "/api/v1/claims", "", nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"submit without policy", http.MethodPost, "/api/v1/claims/submit", emp.ID, map[string]string{"id": claim.ID}, http.StatusUnprocessableEntity, "FAILED_PRECONDITION"},
		{"decide draft", http.MethodPost, "/api/v1/claims/decide", approver.ID, map[string]string{"claim_id": claim.ID, "action": "approve"}, http.StatusUnprocessableEntity, "FAILED_PRECONDITION"},
		{"policy as non-admin", http.MethodPost, "/api/v1/policies", approver.ID, map[string]interface{}{"name": "x", "required_approvers": []string{approver.ID}}, http.StatusForbidden, "FORBIDDEN"},
		{"invalid claim", http.MethodPost, "/api/v1/claims", emp.ID, map[string]string{"description": "x", "category": "Bribes"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"hidden claim", http.MethodGet, "/api/v1/claims/get?id=" + claim.ID, approver.ID, nil, http.StatusNotFound, "NOT_FOUND"},
		{"provision without operator role", http.MethodPost, "/api/v1/companies", s.admin.ID, map[string]string{"name": "Other"}, http.StatusForbidden, "FORBIDDEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.target, tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			var body struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			decode(t, rec, &body)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.NotEmpty(t, body.Error.Message)
		})
	}
}

func TestHTTP_RequestShape(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPatch, "/api/v1/claims", s.admin.ID, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/claims/submit", s.admin.ID, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/claims/get", s.admin.ID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/claims/decide", bytes.NewBufferString("{"))
	req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: s.admin.ID}))
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_BehindAuthMiddleware(t *testing.T) {
	s := newTestServer(t)
	v := auth.NewJWTValidator("secret", "")
	h := auth.Middleware(v)(s.mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/companies/me", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
