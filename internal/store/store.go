package store

import (
    "context"
    "encoding/json"
    "errors"
    "time"

    "vrpdash/internal/model"
)

// Store is the persistence interface used by the API server.
type Store interface {
    // Trips (route documents)
    SaveTrip(ctx context.Context, tenantID, tripID string, doc json.RawMessage) (model.TripRecord, error)
    GetTrip(ctx context.Context, tenantID, tripID string) (model.TripRecord, error)
    ListTrips(ctx context.Context, tenantID, cursor string, limit int) ([]model.TripSummary, string, error)
    DeleteTrip(ctx context.Context, tenantID, tripID string) error

    // Subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, tenantID, id string) error

    // Webhook deliveries
    // EnqueueWebhook returns the delivery id; created is false when an
    // identical event was already queued and the existing id is returned.
    EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (id string, created bool, err error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
    ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error)
    RetryWebhookDelivery(ctx context.Context, tenantID, id string) error
}

// Pinger is implemented by stores backed by a remote database.
type Pinger interface {
    Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

const (
    defaultPageSize = 100
    maxPageSize     = 500
)

func pageSize(limit int) int {
    if limit <= 0 || limit > maxPageSize { return defaultPageSize }
    return limit
}
