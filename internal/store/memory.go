package store

import (
    "context"
    "encoding/json"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"
    "vrpdash/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu    sync.Mutex
    trips map[string]map[string]model.TripRecord // tenant -> trip id -> record
    subs  map[string][]model.Subscription        // tenant -> subscriptions
    // Webhooks queue state
    deliveries         map[string]*memDelivery // id -> delivery state
    deliveriesByTenant map[string][]string     // tenant -> delivery ids
    dedup              map[string]string       // tenant|event|url|key -> delivery id
    dlq                []map[string]any        // dead-lettered deliveries
    now                func() time.Time
}

func NewMemory() *Memory {
    return &Memory{
        trips:              map[string]map[string]model.TripRecord{},
        subs:               map[string][]model.Subscription{},
        deliveries:         map[string]*memDelivery{},
        deliveriesByTenant: map[string][]string{},
        dedup:              map[string]string{},
        dlq:                []map[string]any{},
        now:                func() time.Time { return time.Now().UTC() },
    }
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

func (m *Memory) SaveTrip(ctx context.Context, tenantID, tripID string, doc json.RawMessage) (model.TripRecord, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if tripID == "" { tripID = uuid.New().String() }
    byID := m.trips[tenantID]
    if byID == nil {
        byID = map[string]model.TripRecord{}
        m.trips[tenantID] = byID
    }
    now := m.now()
    rec, ok := byID[tripID]
    if ok {
        rec.Version++
    } else {
        rec = model.TripRecord{ID: tripID, TenantID: tenantID, Version: 1, CreatedAt: now}
    }
    rec.Document = append(json.RawMessage(nil), doc...)
    rec.UpdatedAt = now
    byID[tripID] = rec
    return rec, nil
}

func (m *Memory) GetTrip(ctx context.Context, tenantID, tripID string) (model.TripRecord, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    rec, ok := m.trips[tenantID][tripID]
    if !ok { return model.TripRecord{}, ErrNotFound }
    rec.Document = append(json.RawMessage(nil), rec.Document...)
    return rec, nil
}

// ListTrips returns summaries newest first; the cursor is the last trip id of
// the previous page.
func (m *Memory) ListTrips(ctx context.Context, tenantID, cursor string, limit int) ([]model.TripSummary, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    all := make([]model.TripSummary, 0, len(m.trips[tenantID]))
    for _, r := range m.trips[tenantID] {
        all = append(all, model.TripSummary{ID: r.ID, Version: r.Version, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt})
    }
    sort.Slice(all, func(i, j int) bool {
        if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) { return all[i].UpdatedAt.After(all[j].UpdatedAt) }
        return all[i].ID > all[j].ID
    })
    start := 0
    if cursor != "" {
        start = -1
        for i := range all { if all[i].ID == cursor { start = i+1; break } }
        // unknown cursor (trip deleted, or from another tenant) ends the listing
        if start < 0 { return []model.TripSummary{}, "", nil }
    }
    limit = pageSize(limit)
    end := start + limit
    if end > len(all) { end = len(all) }
    items := append([]model.TripSummary{}, all[start:end]...)
    next := ""
    if end < len(all) { next = all[end-1].ID }
    return items, next, nil
}

func (m *Memory) DeleteTrip(ctx context.Context, tenantID, tripID string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.trips[tenantID][tripID]; !ok { return ErrNotFound }
    delete(m.trips[tenantID], tripID)
    return nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscription
    for _, s := range m.subs[tenantID] {
        for _, e := range s.Events { if e == eventType { out = append(out, s); break } }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    list := m.subs[tenantID]
    start := 0
    if cursor != "" {
        for i := range list { if list[i].ID == cursor { start = i+1; break } }
    }
    limit = pageSize(limit)
    end := start + limit
    if end > len(list) { end = len(list) }
    items := append([]model.Subscription{}, list[start:end]...)
    next := ""
    if end < len(list) { next = list[end-1].ID }
    return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    arr := m.subs[tenantID]
    out := make([]model.Subscription, 0, len(arr))
    for _, s := range arr { if s.ID != id { out = append(out, s) } }
    if len(out) == len(arr) { return ErrNotFound }
    m.subs[tenantID] = out
    return nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, bool, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    key := tenantID + "|" + eventType + "|" + url + "|" + computeDedupKey(payload)
    if id, dup := m.dedup[key]; dup { return id, false, nil }
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending, Attempts: 0}, NextAttemptAt: m.now()}
    m.deliveries[id] = d
    m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
    m.dedup[key] = id
    return id, true, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := m.now()
    due := []*memDelivery{}
    for _, d := range m.deliveries {
        if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
            due = append(due, d)
        }
    }
    sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
    out := []WebhookDelivery{}
    for _, d := range due {
        out = append(out, d.WebhookDelivery)
        if limit > 0 && len(out) >= limit { break }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = DeliveryDelivered
        now := m.now()
        d.DeliveredAt = &now
    } else {
        d.Status = DeliveryRetry
        d.LastError = lastError
        if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = m.now().Add(1 * time.Minute) }
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Attempts++
    d.Status = DeliveryFailed
    d.LastError = lastError
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    m.dlq = append(m.dlq, map[string]any{"id": id, "tenantId": d.TenantID, "eventType": d.EventType, "lastError": lastError, "responseCode": responseCode, "latencyMs": latencyMs})
    return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ids := m.deliveriesByTenant[tenantID]
    start := 0
    if cursor != "" {
        for i := range ids { if ids[i] == cursor { start = i+1; break } }
    }
    limit = pageSize(limit)
    out := []map[string]any{}
    next := ""
    for _, id := range ids[start:] {
        d := m.deliveries[id]
        if status != "" && d.Status != status { continue }
        if len(out) == limit { next = out[len(out)-1]["id"].(string); break }
        item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
        if !d.NextAttemptAt.IsZero() { item["nextAttemptAt"] = d.NextAttemptAt }
        if d.LastError != "" { item["lastError"] = d.LastError }
        if d.ResponseCode != 0 { item["responseCode"] = d.ResponseCode }
        out = append(out, item)
    }
    return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil || d.TenantID != tenantID { return ErrNotFound }
    d.Status = DeliveryPending
    d.NextAttemptAt = m.now()
    return nil
}
