package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Publisher is the JetStream client method the notification publisher needs.
// *nats.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NotificationPublisher publishes expense approval events to NATS JetStream
// for consumption by the be-plt-notifications service.
//
// Subject convention: notifications.expense.<event_type>
// Event types: claim_submitted, claim_approval_required, claim_approved,
//              claim_rejected
//
// Publishing never fails the caller: errors are logged and dropped so a
// notification outage cannot block an approval.
type NotificationPublisher struct {
	nats Publisher
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	EntityID     string                 `json:"entity_id"`
	ActorID      string                 `json:"actor_id"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	IsActionable bool                   `json:"is_actionable,omitempty"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS client.
func NewNotificationPublisher(nats Publisher, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: nats, log: log}
}

// PublishClaimEvent publishes an expense claim event. companyID is sent as
// the event's entity.
func (p *NotificationPublisher) PublishClaimEvent(ctx context.Context, eventType, claimID, companyID, actorID string, recipients []string, payload map[string]interface{}) {
	if p.nats == nil || len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		EntityID:     companyID,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: "expense_claim",
		ResourceID:   claimID,
		IsActionable: actionable(eventType),
		Severity:     severity(eventType),
		Category:     "expense_approval",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.expense.%s", eventType)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("claim_id", claimID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("claim_id", claimID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}

// actionable reports whether recipients of eventType are expected to act.
func actionable(eventType string) bool {
	switch eventType {
	case "claim_submitted", "claim_approval_required":
		return true
	}
	return false
}

func severity(eventType string) string {
	if eventType == "claim_rejected" {
		return "warning"
	}
	return "info"
}
