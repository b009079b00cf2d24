package integrations

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
)

// RouteSource is an upstream system that produces route documents for trips.
type RouteSource interface {
    Name() string
    // FetchRoute returns the bare route document for a trip (any {"route": ...}
    // envelope already removed).
    FetchRoute(ctx context.Context, tripID string) (json.RawMessage, error)
    ListTripIDs(ctx context.Context) ([]string, error)
}

// ErrNotFound is returned when the source does not know the trip.
var ErrNotFound = errors.New("route not found at source")

// StatusError carries a non-2xx upstream response.
type StatusError struct {
    Source  string
    Code    int
    Message string
}

func (e *StatusError) Error() string {
    if e.Message == "" {
        return fmt.Sprintf("%s: HTTP %d", e.Source, e.Code)
    }
    return fmt.Sprintf("%s: HTTP %d: %s", e.Source, e.Code, e.Message)
}
