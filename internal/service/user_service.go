package service

import (
	"context"
	"net/mail"
	"strings"

	"github.com/pesio-ai/be-expense-approvals/internal/approval"
	"github.com/pesio-ai/be-expense-approvals/internal/common/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/common/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// OperatorRole is the token role allowed to provision new companies. It is
// not a company role and never appears on a user row.
const OperatorRole = "operator"

// UserService provisions companies and administers their users.
type UserService struct {
	companies CompanyStore
	users     UserStore
	log       *logger.Logger
}

// NewUserService creates a new user service
func NewUserService(companies CompanyStore, users UserStore, log *logger.Logger) *UserService {
	return &UserService{companies: companies, users: users, log: log}
}

// ProvisionCompanyRequest creates a company and its first admin.
type ProvisionCompanyRequest struct {
	Name         string `json:"name"`
	BaseCurrency string `json:"base_currency"`
	Country      string `json:"country"`
	AdminName    string `json:"admin_name"`
	AdminEmail   string `json:"admin_email"`
}

// CreateUserRequest adds a user to the admin's company.
type CreateUserRequest struct {
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Role      string  `json:"role"`
	ManagerID *string `json:"manager_id"`
}

// UpdateUserRequest changes the mutable fields of a user. Nil fields are
// left as they are; an empty ManagerID clears the manager.
type UpdateUserRequest struct {
	Name      *string `json:"name"`
	Role      *string `json:"role"`
	ManagerID *string `json:"manager_id"`
}

// ProvisionCompany creates a company together with its admin user.
func (s *UserService) ProvisionCompany(ctx context.Context, callerRole string, req *ProvisionCompanyRequest) (*repository.Company, *repository.User, error) {
	if callerRole != OperatorRole {
		return nil, nil, errors.New(errors.ErrCodeForbidden, "operator role required")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, nil, errors.InvalidInput("name", "company name is required")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.BaseCurrency))
	if !isCurrencyCode(currency) {
		return nil, nil, errors.InvalidInput("base_currency", "base currency must be a 3-letter ISO code")
	}
	adminName := strings.TrimSpace(req.AdminName)
	if adminName == "" {
		return nil, nil, errors.InvalidInput("admin_name", "admin name is required")
	}
	email, ok := normalizeEmail(req.AdminEmail)
	if !ok {
		return nil, nil, errors.InvalidInput("admin_email", "a valid email address is required")
	}

	company := &repository.Company{
		Name:         name,
		BaseCurrency: currency,
		Country:      strings.TrimSpace(req.Country),
	}
	admin := &repository.User{Name: adminName, Email: email}
	if err := s.companies.CreateWithAdmin(ctx, company, admin); err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("company_id", company.ID).
		Str("admin_id", admin.ID).
		Msg("Company provisioned")
	return company, admin, nil
}

// GetCompany returns the caller's company.
func (s *UserService) GetCompany(ctx context.Context, actorID string) (*repository.Company, error) {
	actor, err := loadActiveActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	return s.companies.GetByID(ctx, actor.CompanyID)
}

// CreateUser adds an active user to the admin's company.
func (s *UserService) CreateUser(ctx context.Context, actorID string, req *CreateUserRequest) (*repository.User, error) {
	admin, err := loadAdmin(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errors.InvalidInput("name", "name is required")
	}
	email, ok := normalizeEmail(req.Email)
	if !ok {
		return nil, errors.InvalidInput("email", "a valid email address is required")
	}
	role := req.Role
	if role == "" {
		role = string(approval.RoleEmployee)
	}
	if !approval.Role(role).Valid() {
		return nil, errors.InvalidInput("role", "role must be admin, manager or employee")
	}

	u := &repository.User{
		CompanyID: admin.CompanyID,
		Name:      name,
		Email:     email,
		Role:      role,
		IsActive:  true,
	}
	if req.ManagerID != nil && *req.ManagerID != "" {
		if err := s.checkManager(ctx, admin.CompanyID, "", *req.ManagerID); err != nil {
			return nil, err
		}
		u.ManagerID = req.ManagerID
	}

	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", u.ID).
		Str("company_id", u.CompanyID).
		Str("role", u.Role).
		Msg("User created")
	return u, nil
}

// UpdateUser edits a user of the admin's company.
func (s *UserService) UpdateUser(ctx context.Context, actorID, id string, req *UpdateUserRequest) (*repository.User, error) {
	admin, err := loadAdmin(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	u, err := s.getOwned(ctx, admin, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, errors.InvalidInput("name", "name must not be empty")
		}
		u.Name = name
	}
	if req.Role != nil {
		if !approval.Role(*req.Role).Valid() {
			return nil, errors.InvalidInput("role", "role must be admin, manager or employee")
		}
		if u.ID == admin.ID && *req.Role != string(approval.RoleAdmin) {
			return nil, errors.InvalidInput("role", "admins cannot demote themselves")
		}
		u.Role = *req.Role
	}
	if req.ManagerID != nil {
		if *req.ManagerID == "" {
			u.ManagerID = nil
		} else {
			if err := s.checkManager(ctx, admin.CompanyID, u.ID, *req.ManagerID); err != nil {
				return nil, err
			}
			managerID := *req.ManagerID
			u.ManagerID = &managerID
		}
	}

	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info().Str("user_id", u.ID).Str("company_id", u.CompanyID).Msg("User updated")
	return u, nil
}

// DeactivateUser soft-deletes a user. Slots they hold on open claims stay
// in place; their decisions are refused as inactive.
func (s *UserService) DeactivateUser(ctx context.Context, actorID, id string) error {
	admin, err := loadAdmin(ctx, s.users, actorID)
	if err != nil {
		return err
	}
	if id == admin.ID {
		return errors.InvalidInput("id", "admins cannot deactivate themselves")
	}
	if err := s.users.Deactivate(ctx, id, admin.CompanyID); err != nil {
		return err
	}
	s.log.Info().Str("user_id", id).Str("company_id", admin.CompanyID).Msg("User deactivated")
	return nil
}

// GetUser returns a user of the caller's company. Non-admins may only read
// themselves.
func (s *UserService) GetUser(ctx context.Context, actorID, id string) (*repository.User, error) {
	actor, err := loadActiveActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	if actor.ID == id {
		return actor, nil
	}
	if actor.Role != string(approval.RoleAdmin) {
		return nil, errors.NotFound("user", id)
	}
	return s.getOwned(ctx, actor, id)
}

// ListUsers lists the admin's company users.
func (s *UserService) ListUsers(ctx context.Context, actorID string, includeInactive bool) ([]*repository.User, error) {
	admin, err := loadAdmin(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	return s.users.List(ctx, admin.CompanyID, includeInactive)
}

// ListManagers lists the users who can be assigned as someone's manager.
func (s *UserService) ListManagers(ctx context.Context, actorID string) ([]*repository.User, error) {
	admin, err := loadAdmin(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	return s.users.ListManagers(ctx, admin.CompanyID)
}

func (s *UserService) getOwned(ctx context.Context, admin *repository.User, id string) (*repository.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.CompanyID != admin.CompanyID {
		return nil, errors.NotFound("user", id)
	}
	return u, nil
}

// checkManager requires managerID to be an active manager or admin of
// companyID other than userID itself.
func (s *UserService) checkManager(ctx context.Context, companyID, userID, managerID string) error {
	if managerID == userID {
		return errors.InvalidInput("manager_id", "a user cannot be their own manager")
	}
	m, err := s.users.GetByID(ctx, managerID)
	if errors.CodeOf(err) == errors.ErrCodeNotFound {
		return errors.InvalidInput("manager_id", "manager not found")
	}
	if err != nil {
		return err
	}
	if m.CompanyID != companyID {
		return errors.InvalidInput("manager_id", "manager not found")
	}
	if m.Role != string(approval.RoleManager) && m.Role != string(approval.RoleAdmin) {
		return errors.InvalidInput("manager_id", "manager must have the manager or admin role")
	}
	if !m.IsActive {
		return errors.InvalidInput("manager_id", "manager is inactive")
	}
	return nil
}

// normalizeEmail accepts a bare address and lower-cases it.
func normalizeEmail(raw string) (string, bool) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
