package service

import (
	"context"

	"github.com/pesio-ai/be-expense-approvals/internal/common/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/lock"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/service/servicetest"
)

// env wires every service over the fakes.
type env struct {
	users     *servicetest.Users
	companies *servicetest.Companies
	policies  *servicetest.Policies
	claims    *servicetest.Claims
	audit     *servicetest.Audit
	publisher *servicetest.Publisher

	userSvc    *UserService
	policySvc  *PolicyService
	claimSvc   *ClaimService
	routingSvc *ApprovalRoutingService

	company *repository.Company
	admin   *repository.User
}

func newEnv() *env {
	e := &env{
		users:     servicetest.NewUsers(),
		policies:  &servicetest.Policies{},
		claims:    servicetest.NewClaims(),
		audit:     &servicetest.Audit{},
		publisher: &servicetest.Publisher{},
	}
	e.companies = servicetest.NewCompanies(e.users)
	log := logger.Nop()
	e.userSvc = NewUserService(e.companies, e.users, log)
	e.policySvc = NewPolicyService(e.policies, e.users, log)
	e.claimSvc = NewClaimService(e.claims, e.users, log)
	e.routingSvc = NewApprovalRoutingService(e.claims, e.policies, e.users, e.audit, e.publisher, lock.NewLocal(), nil, log)

	company, admin, err := e.userSvc.ProvisionCompany(context.Background(), OperatorRole, &ProvisionCompanyRequest{
		Name:         "Acme",
		BaseCurrency: "USD",
		Country:      "US",
		AdminName:    "Ada Admin",
		AdminEmail:   "ada@acme.test",
	})
	if err != nil {
		panic(err)
	}
	e.company, e.admin = company, admin
	return e
}

// addUser inserts a user straight into the store.
func (e *env) addUser(name, role string, manager *repository.User) *repository.User {
	u := &repository.User{
		CompanyID: e.company.ID,
		Name:      name,
		Email:     name + "@acme.test",
		Role:      role,
		IsActive:  true,
	}
	if manager != nil {
		u.ManagerID = &manager.ID
	}
	if err := e.users.Create(context.Background(), u); err != nil {
		panic(err)
	}
	return u
}

func (e *env) setPolicy(req *PolicyRequest) *repository.ApprovalPolicy {
	if req.Name == "" {
		req.Name = "Default"
	}
	p, err := e.policySvc.CreatePolicy(context.Background(), e.admin.ID, req)
	if err != nil {
		panic(err)
	}
	return p
}

func (e *env) draft(owner *repository.User) *repository.Claim {
	c, err := e.claimSvc.CreateClaim(context.Background(), owner.ID, &CreateClaimRequest{
		Description: "Client dinner",
		Category:    "Food",
		Amount:      "120.50",
		Currency:    "usd",
		ExpenseDate: "2025-01-10",
	})
	if err != nil {
		panic(err)
	}
	return c
}

func (e *env) deactivate(u *repository.User) {
	if err := e.users.Deactivate(context.Background(), u.ID, u.CompanyID); err != nil {
		panic(err)
	}
}

func ids(users ...*repository.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.ID
	}
	return out
}

func intPtr(n int) *int { return &n }
