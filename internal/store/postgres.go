package store

import (
    "context"
    "database/sql"
    "embed"
    "encoding/json"
    "errors"
    "fmt"
    "io/fs"
    "sort"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "vrpdash/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, fmt.Errorf("open postgres: %w", err)
    }
    if err := db.Ping(); err != nil {
        return nil, fmt.Errorf("ping postgres: %w", err)
    }
    return &Postgres{db: db}, nil
}

// NewPostgresDB wraps an existing handle; tests pass a sqlmock connection.
func NewPostgresDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies the embedded schema files in name order. Every statement is
// idempotent, so running it on each start is safe.
func (p *Postgres) Migrate(ctx context.Context) error {
    names, err := fs.Glob(migrations, "migrations/*.sql")
    if err != nil { return err }
    sort.Strings(names)
    for _, name := range names {
        b, err := migrations.ReadFile(name)
        if err != nil { return err }
        if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
            return fmt.Errorf("migrate %s: %w", name, err)
        }
    }
    return nil
}

// SaveTrip upserts a route document, bumping the version on overwrite.
func (p *Postgres) SaveTrip(ctx context.Context, tenantID, tripID string, doc json.RawMessage) (model.TripRecord, error) {
    if tripID == "" { tripID = uuid.New().String() }
    rec := model.TripRecord{ID: tripID, TenantID: tenantID}
    err := p.db.QueryRowContext(ctx, `INSERT INTO trips (tenant_id, id, version, document) VALUES ($1,$2,1,$3)
        ON CONFLICT (tenant_id, id) DO UPDATE SET document=EXCLUDED.document, version=trips.version+1, updated_at=now()
        RETURNING version, created_at, updated_at`, tenantID, tripID, []byte(doc)).Scan(&rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
    if err != nil { return model.TripRecord{}, fmt.Errorf("save trip %s: %w", tripID, err) }
    rec.Document = append(json.RawMessage(nil), doc...)
    return rec, nil
}

func (p *Postgres) GetTrip(ctx context.Context, tenantID, tripID string) (model.TripRecord, error) {
    rec := model.TripRecord{ID: tripID, TenantID: tenantID}
    var doc []byte
    err := p.db.QueryRowContext(ctx, `SELECT version, document, created_at, updated_at FROM trips WHERE tenant_id=$1 AND id=$2`, tenantID, tripID).
        Scan(&rec.Version, &doc, &rec.CreatedAt, &rec.UpdatedAt)
    if errors.Is(err, sql.ErrNoRows) { return model.TripRecord{}, ErrNotFound }
    if err != nil { return model.TripRecord{}, fmt.Errorf("get trip %s: %w", tripID, err) }
    rec.Document = doc
    return rec, nil
}

func (p *Postgres) ListTrips(ctx context.Context, tenantID, cursor string, limit int) ([]model.TripSummary, string, error) {
    limit = pageSize(limit)
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id, version, created_at, updated_at FROM trips
            WHERE tenant_id=$1 AND (updated_at, id) < (SELECT updated_at, id FROM trips WHERE tenant_id=$1 AND id=$2)
            ORDER BY updated_at DESC, id DESC LIMIT $3`, tenantID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id, version, created_at, updated_at FROM trips WHERE tenant_id=$1 ORDER BY updated_at DESC, id DESC LIMIT $2`, tenantID, limit)
    }
    if err != nil { return nil, "", fmt.Errorf("list trips: %w", err) }
    defer rows.Close()
    out := []model.TripSummary{}
    for rows.Next() {
        var t model.TripSummary
        if err := rows.Scan(&t.ID, &t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil { return nil, "", err }
        out = append(out, t)
    }
    if err := rows.Err(); err != nil { return nil, "", err }
    next := ""
    if len(out) == limit { next = out[len(out)-1].ID }
    return out, next, nil
}

func (p *Postgres) DeleteTrip(ctx context.Context, tenantID, tripID string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM trips WHERE tenant_id=$1 AND id=$2`, tenantID, tripID)
    if err != nil { return fmt.Errorf("delete trip %s: %w", tripID, err) }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(req.Events)
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`, id, req.TenantID, req.URL, ev, nullIfEmpty(req.Secret))
    if err != nil { return model.Subscription{}, fmt.Errorf("create subscription: %w", err) }
    return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    filter, _ := json.Marshal([]string{eventType})
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=$1 AND events @> $2::jsonb`, tenantID, filter)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, err }
        s.TenantID = tenantID
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    limit = pageSize(limit)
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Subscription{}
    var last string
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, "", err }
        s.TenantID = tenantID
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
        last = s.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

// Webhook deliveries
func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, bool, error) {
    dk := computeDedupKey(payload)
    var id string
    err := p.db.QueryRowContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now(),$8)
        ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING
        RETURNING id::text`, uuid.New().String(), tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk).Scan(&id)
    if err == nil { return id, true, nil }
    if !errors.Is(err, sql.ErrNoRows) { return "", false, fmt.Errorf("enqueue webhook: %w", err) }
    // conflict: hand back the delivery already queued for this event
    err = p.db.QueryRowContext(ctx, `SELECT id::text FROM webhook_deliveries
        WHERE tenant_id=$1 AND event_type=$2 AND url=$3 AND dedup_key=$4`, tenantID, eventType, url, dk).Scan(&id)
    if err != nil { return "", false, fmt.Errorf("enqueue webhook: lookup duplicate: %w", err) }
    return id, false, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$1, next_attempt_at=$2, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$3`, nullIfEmpty(lastError), *nextAttemptAt, id, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

// FailWebhookDelivery marks a delivery dead and copies it to the DLQ in one transaction.
func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    if _, err := tx.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs); err != nil {
        return err
    }
    if _, err := tx.ExecContext(ctx, `INSERT INTO webhook_dlq (id, tenant_id, delivery_id, event_type, url, secret, payload, attempts, last_error)
        SELECT gen_random_uuid(), tenant_id, id, event_type, url, secret, payload, attempts, $2 FROM webhook_deliveries WHERE id=$1`, id, nullIfEmpty(lastError)); err != nil {
        return err
    }
    return tx.Commit()
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
    limit = pageSize(limit)
    q := `SELECT id::text, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url, COALESCE(response_code,0) FROM webhook_deliveries WHERE tenant_id=$1 AND ($2 = '' OR status=$2) AND ($3 = '' OR id::text > $3) ORDER BY id LIMIT $4`
    rows, err := p.db.QueryContext(ctx, q, tenantID, status, cursor, limit)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []map[string]any{}
    var last string
    for rows.Next() {
        var id, typ, st, lastErr, url string
        var attempts, code int
        var nextAt sql.NullTime
        if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url, &code); err != nil { return nil, "", err }
        m := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
        if nextAt.Valid { m["nextAttemptAt"] = nextAt.Time }
        if lastErr != "" { m["lastError"] = lastErr }
        if code != 0 { m["responseCode"] = code }
        out = append(out, m)
        last = id
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, rows.Err()
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
    res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now(), updated_at=now() WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

// Helpers
func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
