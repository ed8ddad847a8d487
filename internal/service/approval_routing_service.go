package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pesio-ai/be-expense-approvals/internal/approval"
	"github.com/pesio-ai/be-expense-approvals/internal/common/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/common/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/lock"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/telemetry"
)

// Notification event types, published on notifications.expense.<event>.
const (
	EventClaimSubmitted        = "claim_submitted"
	EventClaimApprovalRequired = "claim_approval_required"
	EventClaimApproved         = "claim_approved"
	EventClaimRejected         = "claim_rejected"
)

// Audit actions.
const (
	AuditSubmitted        = "submitted"
	AuditApproved         = "approved"
	AuditRejected         = "rejected"
	AuditAdvanced         = "advanced"
	AuditOverrideBackfill = "override_backfill"
)

// ApprovalRoutingService runs claims through their approval workflow: it
// binds a claim to the company's active policy on submission and applies
// approver decisions, one at a time per claim.
type ApprovalRoutingService struct {
	claims    ClaimStore
	policies  PolicyStore
	users     UserStore
	audit     AuditStore
	publisher NotificationPublisherInterface
	locker    lock.Locker
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	log       *logger.Logger
	now       func() time.Time
}

// NewApprovalRoutingService creates a new ApprovalRoutingService. publisher
// and metrics may be nil.
func NewApprovalRoutingService(
	claims ClaimStore,
	policies PolicyStore,
	users UserStore,
	audit AuditStore,
	publisher NotificationPublisherInterface,
	locker lock.Locker,
	metrics *telemetry.Metrics,
	log *logger.Logger,
) *ApprovalRoutingService {
	return &ApprovalRoutingService{
		claims:    claims,
		policies:  policies,
		users:     users,
		audit:     audit,
		publisher: publisher,
		locker:    locker,
		metrics:   metrics,
		tracer:    otel.Tracer(telemetry.InstrumentationName),
		log:       log,
		now:       time.Now,
	}
}

// DecideRequest is one approver's decision on a claim.
type DecideRequest struct {
	ClaimID string `json:"claim_id"`
	ActorID string `json:"-"`
	Action  string `json:"action"`
	Comment string `json:"comment"`
}

// DecisionResult reports what a decision did.
type DecisionResult struct {
	Claim          *repository.Claim `json:"claim"`
	Transition     string            `json:"transition"`
	Override       string            `json:"override,omitempty"`
	NextApproverID string            `json:"next_approver_id,omitempty"`
	Backfilled     []string          `json:"backfilled,omitempty"`
}

// ── Submit ────────────────────────────────────────────────────────────────────

// SubmitClaim binds a draft claim to its company's active policy and opens
// it for approval. Only the claim's owner may submit it.
func (s *ApprovalRoutingService) SubmitClaim(ctx context.Context, claimID, actorID string) (*repository.Claim, error) {
	ctx, span := s.tracer.Start(ctx, "ApprovalRoutingService.SubmitClaim",
		trace.WithAttributes(attribute.String("claim.id", claimID)))
	defer span.End()

	actor, err := loadActiveActor(ctx, s.users, actorID)
	if err != nil {
		return nil, s.fail(span, err)
	}

	release, err := s.acquire(ctx, claimID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	defer release()

	var before string
	var policy *repository.ApprovalPolicy
	claim, err := s.claims.UpdateApproval(ctx, claimID, func(current *repository.Claim) (*repository.Claim, error) {
		if current.EmployeeID != actor.ID {
			return nil, errors.New(errors.ErrCodeForbidden, "only the claim owner can submit it")
		}
		before = current.Status

		var err error
		policy, err = s.policies.GetActive(ctx, current.CompanyID)
		if err != nil {
			return nil, err
		}

		employee, err := s.employeeWithManager(ctx, current.EmployeeID)
		if err != nil {
			return nil, err
		}

		state, err := approval.Initiate(approval.ClaimStatus(current.Status), toEnginePolicy(policy), employee)
		if err != nil {
			return nil, engineError(err)
		}

		next := withState(current, state)
		next.SubmittedAt = timePtr(s.now())
		return next, nil
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	span.SetAttributes(
		attribute.String("policy.id", policy.ID),
		attribute.Int("approvers", len(claim.Slots)),
	)
	s.metrics.Submitted(ctx, policy.Sequential)

	approvers := slotApprovers(claim)
	s.appendAudit(ctx, &repository.ApprovalAuditEntry{
		ClaimID:      claim.ID,
		CompanyID:    claim.CompanyID,
		PolicyID:     claim.PolicyID,
		Action:       AuditSubmitted,
		PerformedBy:  actor.ID,
		StatusBefore: &before,
		StatusAfter:  &claim.Status,
		Metadata: map[string]interface{}{
			"approvers":  approvers,
			"sequential": policy.Sequential,
			"quorum":     policy.QuorumPercentage,
		},
	})

	recipients := approvers
	if claim.CurrentApproverID != nil {
		recipients = []string{*claim.CurrentApproverID}
	}
	s.publish(ctx, EventClaimSubmitted, claim, actor.ID, recipients, nil)

	s.log.Info().
		Str("claim_id", claim.ID).
		Str("policy_id", policy.ID).
		Str("company_id", claim.CompanyID).
		Int("approvers", len(approvers)).
		Bool("sequential", policy.Sequential).
		Msg("Claim submitted for approval")

	return claim, nil
}

// employeeWithManager loads the submitter and, when set, their manager.
func (s *ApprovalRoutingService) employeeWithManager(ctx context.Context, employeeID string) (approval.Employee, error) {
	employee, err := s.users.GetByID(ctx, employeeID)
	if err != nil {
		return approval.Employee{}, err
	}
	out := approval.Employee{ID: employee.ID}
	if employee.ManagerID == nil {
		return out, nil
	}

	manager, err := s.users.GetByID(ctx, *employee.ManagerID)
	if errors.CodeOf(err) == errors.ErrCodeNotFound {
		s.log.Warn().Str("employee_id", employee.ID).Str("manager_id", *employee.ManagerID).
			Msg("Manager not found; submitting without manager approver")
		return out, nil
	}
	if err != nil {
		return approval.Employee{}, err
	}
	out.Manager = &approval.Person{ID: manager.ID, Active: manager.IsActive}
	return out, nil
}

// ── Decide ────────────────────────────────────────────────────────────────────

// DecideClaim applies an approve or reject decision. Decisions on one claim
// are serialised by the claim lock and the claim row lock.
func (s *ApprovalRoutingService) DecideClaim(ctx context.Context, req *DecideRequest) (*DecisionResult, error) {
	ctx, span := s.tracer.Start(ctx, "ApprovalRoutingService.DecideClaim",
		trace.WithAttributes(
			attribute.String("claim.id", req.ClaimID),
			attribute.String("approval.action", req.Action),
		))
	defer span.End()
	start := s.now()

	actor, err := loadActor(ctx, s.users, req.ActorID)
	if err != nil {
		return nil, s.fail(span, err)
	}

	release, err := s.acquire(ctx, req.ClaimID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	defer release()

	var res *approval.Result
	var before string
	claim, err := s.claims.UpdateApproval(ctx, req.ClaimID, func(current *repository.Claim) (*repository.Claim, error) {
		before = current.Status
		if current.CompanyID != actor.CompanyID {
			return nil, engineError(approval.ErrNotAnAuthorizedApprover)
		}

		if current.PolicyID == nil {
			// Never submitted, so there is no bound policy.
			return nil, engineError(approval.ErrClaimNotAwaitingApproval)
		}
		bound, err := s.policies.GetByID(ctx, *current.PolicyID)
		if err != nil {
			return nil, err
		}

		res, err = approval.Decide(toState(current), toEnginePolicy(bound), approval.Decision{
			Actor: approval.Actor{
				ID:     actor.ID,
				Role:   approval.Role(actor.Role),
				Active: actor.IsActive,
			},
			Action:  approval.Action(req.Action),
			Comment: req.Comment,
			At:      s.now(),
		})
		if err != nil {
			s.metrics.Refused(ctx, refusalReason(err))
			return nil, engineError(err)
		}
		return withState(current, res.State), nil
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	span.SetAttributes(
		attribute.String("approval.transition", string(res.Transition)),
		attribute.String("approval.override", string(res.Override)),
	)
	s.metrics.Decided(ctx, string(res.Transition), string(res.Override), s.now().Sub(start))

	s.recordDecision(ctx, claim, actor.ID, req, res, before)
	s.notifyDecision(ctx, claim, actor.ID, req, res)

	s.log.Info().
		Str("claim_id", claim.ID).
		Str("approver_id", actor.ID).
		Str("action", req.Action).
		Str("transition", string(res.Transition)).
		Str("override", string(res.Override)).
		Str("status", claim.Status).
		Msg("Approval decision recorded")

	return &DecisionResult{
		Claim:          claim,
		Transition:     string(res.Transition),
		Override:       string(res.Override),
		NextApproverID: res.NextApproverID,
		Backfilled:     res.Backfilled,
	}, nil
}

func (s *ApprovalRoutingService) recordDecision(ctx context.Context, claim *repository.Claim, actorID string, req *DecideRequest, res *approval.Result, before string) {
	action := AuditApproved
	if req.Action == string(approval.ActionReject) {
		action = AuditRejected
	}
	s.appendAudit(ctx, &repository.ApprovalAuditEntry{
		ClaimID:      claim.ID,
		CompanyID:    claim.CompanyID,
		PolicyID:     claim.PolicyID,
		Action:       action,
		PerformedBy:  actorID,
		StatusBefore: &before,
		StatusAfter:  &claim.Status,
		Metadata: map[string]interface{}{
			"comment":    req.Comment,
			"transition": string(res.Transition),
		},
	})

	switch {
	case res.Override != approval.OverrideNone && len(res.Backfilled) > 0:
		s.appendAudit(ctx, &repository.ApprovalAuditEntry{
			ClaimID:      claim.ID,
			CompanyID:    claim.CompanyID,
			PolicyID:     claim.PolicyID,
			Action:       AuditOverrideBackfill,
			PerformedBy:  actorID,
			StatusBefore: &before,
			StatusAfter:  &claim.Status,
			Metadata: map[string]interface{}{
				"override":   string(res.Override),
				"backfilled": res.Backfilled,
			},
		})
	case res.Transition == approval.TransitionAdvanced:
		s.appendAudit(ctx, &repository.ApprovalAuditEntry{
			ClaimID:      claim.ID,
			CompanyID:    claim.CompanyID,
			PolicyID:     claim.PolicyID,
			Action:       AuditAdvanced,
			PerformedBy:  actorID,
			StatusBefore: &before,
			StatusAfter:  &claim.Status,
			Metadata:     map[string]interface{}{"next_approver_id": res.NextApproverID},
		})
	}
}

func (s *ApprovalRoutingService) notifyDecision(ctx context.Context, claim *repository.Claim, actorID string, req *DecideRequest, res *approval.Result) {
	payload := map[string]interface{}{
		"comment":     req.Comment,
		"description": claim.Description,
		"amount":      claim.Amount.StringFixed(2),
		"currency":    claim.Currency,
	}
	switch res.Transition {
	case approval.TransitionAdvanced:
		s.publish(ctx, EventClaimApprovalRequired, claim, actorID, []string{res.NextApproverID}, payload)
	case approval.TransitionApproved:
		if res.Override != approval.OverrideNone {
			payload["override"] = string(res.Override)
		}
		s.publish(ctx, EventClaimApproved, claim, actorID, []string{claim.EmployeeID}, payload)
	case approval.TransitionRejected:
		s.publish(ctx, EventClaimRejected, claim, actorID, []string{claim.EmployeeID}, payload)
	}
}

// ── Query helpers ─────────────────────────────────────────────────────────────

// ListPendingApprovals returns the claims the user can act on right now.
func (s *ApprovalRoutingService) ListPendingApprovals(ctx context.Context, actorID string) ([]*repository.Claim, error) {
	actor, err := loadActiveActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	return s.claims.ListActionableBy(ctx, actor.ID)
}

// GetApprovalHistory returns the audit trail of a claim the caller can see.
func (s *ApprovalRoutingService) GetApprovalHistory(ctx context.Context, claimID, actorID string) ([]*repository.ApprovalAuditEntry, error) {
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	if _, err := loadVisibleClaim(ctx, s.claims, s.users, actor, claimID); err != nil {
		return nil, err
	}
	return s.audit.ListByClaim(ctx, claimID)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

func (s *ApprovalRoutingService) acquire(ctx context.Context, claimID string) (func(), error) {
	release, err := s.locker.Acquire(ctx, lock.ClaimKey(claimID))
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, errors.Wrap(err, errors.ErrCodeConflict, "claim is being updated, retry")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock claim")
	}
	return release, nil
}

func (s *ApprovalRoutingService) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(errors.CodeOf(err)))
	return err
}

// appendAudit writes an audit entry and logs a warning on failure (never returns error).
func (s *ApprovalRoutingService) appendAudit(ctx context.Context, entry *repository.ApprovalAuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("claim_id", entry.ClaimID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

func (s *ApprovalRoutingService) publish(ctx context.Context, event string, claim *repository.Claim, actorID string, recipients []string, payload map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishClaimEvent(ctx, event, claim.ID, claim.CompanyID, actorID, recipients, payload)
}

func slotApprovers(c *repository.Claim) []string {
	ids := make([]string, 0, len(c.Slots))
	for _, slot := range c.Slots {
		ids = append(ids, slot.ApproverID)
	}
	return ids
}
