package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"vrpdash/internal/store"
)

type Publisher struct {
	Store store.Store
	now   func() time.Time
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s, now: time.Now}
}

// Emit sends an event to all subscriptions for the tenant and event type and
// returns how many new deliveries were enqueued; duplicates are not counted.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, data any) (int, error) {
	return p.EmitWithID(ctx, tenantID, "evt_"+uuid.NewString(), eventType, data)
}

// EmitWithID is Emit with a caller-chosen event id. Deliveries are deduplicated
// on the id, so a stable id makes re-emission idempotent.
func (p *Publisher) EmitWithID(ctx context.Context, tenantID, eventID, eventType string, data any) (int, error) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, eventType)
	if err != nil {
		return 0, fmt.Errorf("lookup subscriptions for %s: %w", eventType, err)
	}
	if len(subs) == 0 {
		return 0, nil
	}
	payload := map[string]any{
		"id":       eventID,
		"type":     eventType,
		"tenantId": tenantID,
		"ts":       p.now().UTC().Format(time.RFC3339),
		"data":     data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	n := 0
	for _, s := range subs {
		_, created, err := p.Store.EnqueueWebhook(ctx, tenantID, s.ID, eventType, s.URL, s.Secret, body)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{"subscription": s.ID, "event": eventType}).Warn("enqueue webhook")
			continue
		}
		if created {
			n++
		}
	}
	return n, nil
}
