package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pesio-ai/be-expense-approvals/internal/common/auth"
	"github.com/pesio-ai/be-expense-approvals/internal/common/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/common/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	claims   *service.ClaimService
	routing  *service.ApprovalRoutingService
	policies *service.PolicyService
	users    *service.UserService
	log      *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	claims *service.ClaimService,
	routing *service.ApprovalRoutingService,
	policies *service.PolicyService,
	users *service.UserService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		claims:   claims,
		routing:  routing,
		policies: policies,
		users:    users,
		log:      log.Component("http"),
	}
}

// Register mounts the API routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	// Claim routes
	mux.HandleFunc("/api/v1/claims", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListClaims(w, r)
		case http.MethodPost:
			h.CreateClaim(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/claims/get", h.GetClaim)
	mux.HandleFunc("/api/v1/claims/delete", h.DeleteClaim)
	mux.HandleFunc("/api/v1/claims/submit", h.SubmitClaim)
	mux.HandleFunc("/api/v1/claims/decide", h.DecideClaim)
	mux.HandleFunc("/api/v1/claims/history", h.GetApprovalHistory)
	mux.HandleFunc("/api/v1/approvals/pending", h.ListPendingApprovals)

	// Policy routes
	mux.HandleFunc("/api/v1/policies", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListPolicies(w, r)
		case http.MethodPost:
			h.CreatePolicy(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/policies/active", h.GetActivePolicy)
	mux.HandleFunc("/api/v1/policies/get", h.GetPolicy)
	mux.HandleFunc("/api/v1/policies/update", h.UpdatePolicy)
	mux.HandleFunc("/api/v1/policies/deactivate", h.DeactivatePolicy)

	// User and company routes
	mux.HandleFunc("/api/v1/users", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListUsers(w, r)
		case http.MethodPost:
			h.CreateUser(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/users/get", h.GetUser)
	mux.HandleFunc("/api/v1/users/update", h.UpdateUser)
	mux.HandleFunc("/api/v1/users/deactivate", h.DeactivateUser)
	mux.HandleFunc("/api/v1/users/managers", h.ListManagers)
	mux.HandleFunc("/api/v1/companies", h.ProvisionCompany)
	mux.HandleFunc("/api/v1/companies/me", h.GetCompany)
}

// ── Claims ────────────────────────────────────────────────────────────────────

// CreateClaim handles create claim HTTP requests
func (h *HTTPHandler) CreateClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req service.CreateClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	claim, err := h.claims.CreateClaim(r.Context(), p.UserID, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, claim)
}

// GetClaim handles get claim HTTP requests
func (h *HTTPHandler) GetClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := requireQuery(w, r, "id")
	if !ok {
		return
	}

	claim, err := h.claims.GetClaim(r.Context(), p.UserID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

// ListClaims handles list claims HTTP requests
func (h *HTTPHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	claims, err := h.claims.ListClaims(r.Context(), p.UserID, &service.ListClaimsRequest{
		Status: r.URL.Query().Get("status"),
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"claims":   claims,
		"page":     page,
		"pageSize": pageSize,
	})
}

// DeleteClaim handles delete claim HTTP requests
func (h *HTTPHandler) DeleteClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := requireQuery(w, r, "id")
	if !ok {
		return
	}

	if err := h.claims.DeleteClaim(r.Context(), p.UserID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitClaim handles submit claim HTTP requests
func (h *HTTPHandler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	claim, err := h.routing.SubmitClaim(r.Context(), req.ID, p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

// DecideClaim handles approve and reject HTTP requests
func (h *HTTPHandler) DecideClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req service.DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClaimID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.ActorID = p.UserID

	result, err := h.routing.DecideClaim(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListPendingApprovals handles pending approvals HTTP requests
func (h *HTTPHandler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	claims, err := h.routing.ListPendingApprovals(r.Context(), p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"claims": claims})
}

// GetApprovalHistory handles approval history HTTP requests
func (h *HTTPHandler) GetApprovalHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := requireQuery(w, r, "id")
	if !ok {
		return
	}

	entries, err := h.routing.GetApprovalHistory(r.Context(), id, p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// ── Policies ──────────────────────────────────────────────────────────────────

// CreatePolicy handles create policy HTTP requests
func (h *HTTPHandler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req service.PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	policy, err := h.policies.CreatePolicy(r.Context(), p.UserID, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, policy)
}

// UpdatePolicy handles update policy HTTP requests
func (h *HTTPHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := requireQuery(w, r, "id")
	if !ok {
		return
	}

	var req service.PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	policy, err := h.policies.UpdatePolicy(r.Context(), p.UserID, id, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

// DeactivatePolicy handles deactivate policy HTTP requests
func (h *HTTPHandler) DeactivatePolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.policies.DeactivatePolicy(r.Context(), p.UserID, req.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// GetActivePolicy handles active policy HTTP requests
func (h *HTTPHandler) GetActivePolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	policy, err := h.policies.GetActivePolicy(r.Context(), p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

// GetPolicy handles get policy HTTP requests
func (h *HTTPHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := requireQuery(w, r, "id")
	if !ok {
		return
	}

	policy, err := h.policies.GetPolicy(r.Context(), p.UserID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

// ListPolicies handles list policies HTTP requests
func (h *HTTPHandler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	activeOnly := r.URL.Query().Get("active_only") == "true"

	policies, err := h.policies.ListPolicies(r.Context(), p.UserID, activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"policies": policies})
}

// ── Users and companies ───────────────────────────────────────────────────────

// ProvisionCompany handles company provisioning HTTP requests
func (h *HTTPHandler) ProvisionCompany(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req service.ProvisionCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	company, admin, err := h.users.ProvisionCompany(r.Context(), p.Role, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"company": company,
		"admin":   admin,
	})
}

// GetCompany handles current company HTTP requests
func (h *HTTPHandler) GetCompany(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	company, err := h.users.GetCompany(r.Context(), p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, company)
}

// CreateUser handles create user HTTP requests
func (h *HTTPHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req service.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.users.CreateUser(r.Context(), p.UserID, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// GetUser handles get user HTTP requests
func (h *HTTPHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := requireQuery(w, r, "id")
	if !ok {
		return
	}

	user, err := h.users.GetUser(r.Context(), p.UserID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateUser handles update user HTTP requests
func (h *HTTPHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := requireQuery(w, r, "id")
	if !ok {
		return
	}

	var req service.UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.users.UpdateUser(r.Context(), p.UserID, id, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// DeactivateUser handles deactivate user HTTP requests
func (h *HTTPHandler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.users.DeactivateUser(r.Context(), p.UserID, req.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// ListUsers handles list users HTTP requests
func (h *HTTPHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	users, err := h.users.ListUsers(r.Context(), p.UserID, includeInactive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// ListManagers handles list managers HTTP requests
func (h *HTTPHandler) ListManagers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	users, err := h.users.ListManagers(r.Context(), p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (h *HTTPHandler) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		h.writeError(w, r, errors.New(errors.ErrCodeUnauthorized, "caller is not authenticated"))
		return auth.Principal{}, false
	}
	return p, true
}

func requireQuery(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		http.Error(w, "Query parameter "+key+" is required", http.StatusBadRequest)
		return "", false
	}
	return v, true
}

type errorBody struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
	Field   string      `json:"field,omitempty"`
}

// writeError renders err as {"error": {...}}. Internal errors are logged
// and their detail withheld.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Code: errors.CodeOf(err), Message: errors.PublicMessage(err)}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		body.Field = appErr.Field
	}

	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	} else {
		h.log.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request refused")
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
