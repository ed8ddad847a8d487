// Package servicetest provides in-memory stores that behave like the
// repositories, for service and handler tests.
package servicetest

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-expense-approvals/internal/approval"
	"github.com/pesio-ai/be-expense-approvals/internal/common/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// Users is an in-memory UserStore.
type Users struct {
	mu   sync.Mutex
	byID map[string]*repository.User
}

func NewUsers() *Users {
	return &Users{byID: map[string]*repository.User{}}
}

func copyUser(u *repository.User) *repository.User {
	c := *u
	return &c
}

func (f *Users) Create(_ context.Context, u *repository.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return errors.New(errors.ErrCodeConflict, "a user with this email already exists")
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt, u.UpdatedAt = time.Now(), time.Now()
	f.byID[u.ID] = copyUser(u)
	return nil
}

func (f *Users) GetByID(_ context.Context, id string) (*repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, errors.NotFound("user", id)
	}
	return copyUser(u), nil
}

func (f *Users) GetByIDs(_ context.Context, ids []string) ([]*repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.User
	for _, id := range ids {
		if u, ok := f.byID[id]; ok {
			out = append(out, copyUser(u))
		}
	}
	return out, nil
}

func (f *Users) Update(_ context.Context, u *repository.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[u.ID]; !ok {
		return errors.NotFound("user", u.ID)
	}
	u.UpdatedAt = time.Now()
	f.byID[u.ID] = copyUser(u)
	return nil
}

func (f *Users) Deactivate(_ context.Context, id, companyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok || u.CompanyID != companyID {
		return errors.NotFound("user", id)
	}
	u.IsActive = false
	return nil
}

func (f *Users) List(_ context.Context, companyID string, includeInactive bool) ([]*repository.User, error) {
	return f.filter(func(u *repository.User) bool {
		return u.CompanyID == companyID && (includeInactive || u.IsActive)
	}), nil
}

func (f *Users) ListManagers(_ context.Context, companyID string) ([]*repository.User, error) {
	return f.filter(func(u *repository.User) bool {
		return u.CompanyID == companyID && u.IsActive && (u.Role == "manager" || u.Role == "admin")
	}), nil
}

func (f *Users) ListReports(_ context.Context, managerID string) ([]string, error) {
	var ids []string
	for _, u := range f.filter(func(u *repository.User) bool {
		return u.ManagerID != nil && *u.ManagerID == managerID
	}) {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (f *Users) filter(keep func(*repository.User) bool) []*repository.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.User
	for _, u := range f.byID {
		if keep(u) {
			out = append(out, copyUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Companies is an in-memory CompanyStore that creates admins in Users.
type Companies struct {
	users *Users
	mu    sync.Mutex
	byID  map[string]*repository.Company
}

func NewCompanies(users *Users) *Companies {
	return &Companies{users: users, byID: map[string]*repository.Company{}}
}

func (f *Companies) CreateWithAdmin(ctx context.Context, c *repository.Company, admin *repository.User) error {
	f.mu.Lock()
	c.ID = uuid.NewString()
	f.mu.Unlock()

	admin.CompanyID = c.ID
	admin.Role = "admin"
	admin.IsActive = true
	if err := f.users.Create(ctx, admin); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *c
	f.byID[c.ID] = &stored
	return nil
}

func (f *Companies) GetByID(_ context.Context, id string) (*repository.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok {
		return nil, errors.NotFound("company", id)
	}
	out := *c
	return &out, nil
}

// Policies is an in-memory PolicyStore. The zero value is ready to use.
type Policies struct {
	mu   sync.Mutex
	rows []*repository.ApprovalPolicy
}

func copyPolicy(p *repository.ApprovalPolicy) *repository.ApprovalPolicy {
	c := *p
	c.RequiredApprovers = slices.Clone(p.RequiredApprovers)
	c.OverrideApprovers = slices.Clone(p.OverrideApprovers)
	return &c
}

func (f *Policies) Activate(_ context.Context, p *repository.ApprovalPolicy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activate(p)
	return nil
}

func (f *Policies) activate(p *repository.ApprovalPolicy) {
	for _, row := range f.rows {
		if row.CompanyID == p.CompanyID {
			row.IsActive = false
		}
	}
	p.ID = uuid.NewString()
	p.IsActive = true
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	f.rows = append(f.rows, copyPolicy(p))
}

func (f *Policies) Supersede(_ context.Context, oldID string, p *repository.ApprovalPolicy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.ID == oldID && row.CompanyID == p.CompanyID {
			id := oldID
			p.SupersedesID = &id
			f.activate(p)
			return nil
		}
	}
	return errors.NotFound("approval_policy", oldID)
}

func (f *Policies) GetByID(_ context.Context, id string) (*repository.ApprovalPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.ID == id {
			return copyPolicy(row), nil
		}
	}
	return nil, errors.NotFound("approval_policy", id)
}

func (f *Policies) GetActive(_ context.Context, companyID string) (*repository.ApprovalPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.CompanyID == companyID && row.IsActive {
			return copyPolicy(row), nil
		}
	}
	return nil, nil
}

func (f *Policies) List(_ context.Context, companyID string, activeOnly bool) ([]*repository.ApprovalPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.ApprovalPolicy
	for i := len(f.rows) - 1; i >= 0; i-- {
		row := f.rows[i]
		if row.CompanyID == companyID && (!activeOnly || row.IsActive) {
			out = append(out, copyPolicy(row))
		}
	}
	return out, nil
}

func (f *Policies) Deactivate(_ context.Context, id, companyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.ID == id && row.CompanyID == companyID {
			row.IsActive = false
			return nil
		}
	}
	return errors.NotFound("approval_policy", id)
}

// Claims is an in-memory ClaimStore. UpdateApproval holds the store lock
// while fn runs, so updates of one claim never interleave.
type Claims struct {
	mu   sync.Mutex
	byID map[string]*repository.Claim
	seq  int
}

func NewClaims() *Claims {
	return &Claims{byID: map[string]*repository.Claim{}}
}

func copyClaim(c *repository.Claim) *repository.Claim {
	out := *c
	out.Slots = make([]*repository.ClaimApprovalSlot, len(c.Slots))
	for i, s := range c.Slots {
		slot := *s
		out.Slots[i] = &slot
	}
	return &out
}

func (f *Claims) Create(_ context.Context, c *repository.Claim) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	c.ID = uuid.NewString()
	c.Status = "draft"
	c.Version = 1
	// Distinct creation times keep newest-first ordering stable.
	c.CreatedAt = time.Date(2025, 1, 1, 0, 0, f.seq, 0, time.UTC)
	c.UpdatedAt = c.CreatedAt
	f.byID[c.ID] = copyClaim(c)
	return nil
}

func (f *Claims) GetByID(_ context.Context, id string) (*repository.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok {
		return nil, errors.NotFound("claim", id)
	}
	return copyClaim(c), nil
}

func (f *Claims) List(_ context.Context, filter repository.ClaimFilter) ([]*repository.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Claim
	for _, c := range f.byID {
		if filter.CompanyID != "" && c.CompanyID != filter.CompanyID {
			continue
		}
		if filter.EmployeeIDs != nil && !slices.Contains(filter.EmployeeIDs, c.EmployeeID) {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, copyClaim(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *Claims) ListActionableBy(_ context.Context, approverID string) ([]*repository.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Claim
	for _, c := range f.byID {
		if approvalState(c).ActionableBy(approverID) {
			out = append(out, copyClaim(c))
		}
	}
	return out, nil
}

// approvalState is the part of c that decides who may act on it.
func approvalState(c *repository.Claim) *approval.State {
	s := &approval.State{Status: approval.ClaimStatus(c.Status)}
	if c.CurrentApproverID != nil {
		s.CurrentApproverID = *c.CurrentApproverID
	}
	for _, slot := range c.Slots {
		s.Slots = append(s.Slots, approval.Slot{ApproverID: slot.ApproverID, Status: approval.SlotStatus(slot.Status)})
	}
	return s
}

func (f *Claims) DeleteDraft(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok || c.Status != "draft" {
		return errors.New(errors.ErrCodeFailedPrecondition, "only draft claims can be deleted")
	}
	delete(f.byID, id)
	return nil
}

func (f *Claims) UpdateApproval(_ context.Context, id string, fn func(current *repository.Claim) (*repository.Claim, error)) (*repository.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.byID[id]
	if !ok {
		return nil, errors.NotFound("claim", id)
	}
	next, err := fn(copyClaim(stored))
	if err != nil {
		return nil, err
	}
	next.Version = stored.Version + 1
	f.byID[id] = copyClaim(next)
	return next, nil
}

// Audit is an in-memory AuditStore. The zero value is ready to use.
type Audit struct {
	mu      sync.Mutex
	entries []*repository.ApprovalAuditEntry
}

func (f *Audit) Append(_ context.Context, e *repository.ApprovalAuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = uuid.NewString()
	if e.PerformedAt.IsZero() {
		e.PerformedAt = time.Now()
	}
	stored := *e
	f.entries = append(f.entries, &stored)
	return nil
}

func (f *Audit) ListByClaim(_ context.Context, claimID string) ([]*repository.ApprovalAuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.ApprovalAuditEntry
	for _, e := range f.entries {
		if e.ClaimID == claimID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Actions lists the audit actions recorded for claimID in order.
func (f *Audit) Actions(claimID string) []string {
	entries, _ := f.ListByClaim(context.Background(), claimID)
	var out []string
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

// Event is one notification captured by Publisher.
type Event struct {
	EventType  string
	ClaimID    string
	ActorID    string
	Recipients []string
	Payload    map[string]interface{}
}

// Publisher records published notification events.
type Publisher struct {
	mu     sync.Mutex
	events []Event
}

func (f *Publisher) PublishClaimEvent(_ context.Context, eventType, claimID, _ string, actorID string, recipients []string, payload map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, Event{
		EventType:  eventType,
		ClaimID:    claimID,
		ActorID:    actorID,
		Recipients: slices.Clone(recipients),
		Payload:    payload,
	})
}

func (f *Publisher) Types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.EventType)
	}
	return out
}

// Last returns the most recent event. It panics when nothing was published.
func (f *Publisher) Last() Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[len(f.events)-1]
}

