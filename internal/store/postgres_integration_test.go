//go:build postgres_integration

package store

import (
    "encoding/json"
    "os"
    "testing"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
    dsn := os.Getenv("DATABASE_URL")
    if dsn == "" { t.Skip("DATABASE_URL not set; skipping integration test") }
    p, err := NewPostgres(dsn)
    if err != nil { t.Fatalf("NewPostgres: %v", err) }
    if err := p.Ping(t.Context()); err != nil { t.Fatalf("Ping: %v", err) }
    if err := p.Migrate(t.Context()); err != nil { t.Fatalf("Migrate: %v", err) }
    rec, err := p.SaveTrip(t.Context(), "t_it", "", json.RawMessage(`{"ortools":[]}`))
    if err != nil { t.Fatalf("SaveTrip: %v", err) }
    if _, err := p.GetTrip(t.Context(), "t_it", rec.ID); err != nil { t.Fatalf("GetTrip: %v", err) }
    if _, _, err := p.ListTrips(t.Context(), "t_it", "", 1); err != nil { t.Fatalf("ListTrips: %v", err) }
    if err := p.DeleteTrip(t.Context(), "t_it", rec.ID); err != nil { t.Fatalf("DeleteTrip: %v", err) }
}
