package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrpdash/internal/model"
)

func TestMemoryTripLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec, err := m.SaveTrip(ctx, "t1", "trip-1", json.RawMessage(`{"ortools":[]}`))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)

	rec, err = m.SaveTrip(ctx, "t1", "trip-1", json.RawMessage(`{"refined_routes":[]}`))
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Version)

	got, err := m.GetTrip(ctx, "t1", "trip-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"refined_routes":[]}`, string(got.Document))

	_, err = m.GetTrip(ctx, "other-tenant", "trip-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.DeleteTrip(ctx, "t1", "trip-1"))
	assert.ErrorIs(t, m.DeleteTrip(ctx, "t1", "trip-1"), ErrNotFound)
}

func TestMemoryListTripsNewestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		m.now = func() time.Time { return at }
		_, err := m.SaveTrip(ctx, "t1", id, json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	page, next, err := m.ListTrips(ctx, "t1", "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID)
	assert.Equal(t, "b", page[1].ID)
	assert.Equal(t, "b", next)

	page, next, err = m.ListTrips(ctx, "t1", next, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)
	assert.Equal(t, "", next)
}

func TestMemoryListTripsUnknownCursorIsEmpty(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := m.SaveTrip(ctx, "t1", id, json.RawMessage(`{}`))
		require.NoError(t, err)
	}
	_, next, err := m.ListTrips(ctx, "t1", "", 1)
	require.NoError(t, err)
	require.NoError(t, m.DeleteTrip(ctx, "t1", next))

	page, next, err := m.ListTrips(ctx, "t1", next, 2)
	require.NoError(t, err)
	assert.Empty(t, page, "a stale cursor must not restart at the first page")
	assert.NotNil(t, page)
	assert.Equal(t, "", next)

	page, _, err = m.ListTrips(ctx, "t1", "never-existed", 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemorySaveTripGeneratesID(t *testing.T) {
	m := NewMemory()
	rec, err := m.SaveTrip(context.Background(), "t1", "", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
}

func TestMemorySubscriptions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	s, err := m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://x", Events: []string{"trip.analyzed"}})
	require.NoError(t, err)

	subs, err := m.GetSubscriptionsForEvent(ctx, "t1", "trip.analyzed")
	require.NoError(t, err)
	assert.Len(t, subs, 1)
	subs, err = m.GetSubscriptionsForEvent(ctx, "t1", "route.fuel_risk.high")
	require.NoError(t, err)
	assert.Empty(t, subs)

	require.NoError(t, m.DeleteSubscription(ctx, "t1", s.ID))
	assert.ErrorIs(t, m.DeleteSubscription(ctx, "t1", s.ID), ErrNotFound)
}

func TestMemoryWebhookQueue(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	payload := []byte(`{"id":"evt_1","type":"trip.analyzed"}`)

	id, created, err := m.EnqueueWebhook(ctx, "t1", "s1", "trip.analyzed", "http://x", "sec", payload)
	require.NoError(t, err)
	assert.True(t, created)
	dup, created, err := m.EnqueueWebhook(ctx, "t1", "s1", "trip.analyzed", "http://x", "sec", payload)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, dup, "same event id is enqueued once")

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	later := time.Now().Add(time.Hour)
	require.NoError(t, m.MarkWebhookDelivery(ctx, id, false, &later, "503", 503, 5))
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, m.RetryWebhookDelivery(ctx, "t1", id))
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	require.NoError(t, m.FailWebhookDelivery(ctx, id, "gone", 410, 3))
	items, _, err := m.ListWebhookDeliveries(ctx, "t1", DeliveryFailed, "", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0]["attempts"])
	assert.Equal(t, "gone", items[0]["lastError"])
}
