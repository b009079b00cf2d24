package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrpdash/internal/config"
	"vrpdash/internal/integrations"
)

const tripDoc = `{"route":{
  "trip_id":"TRIP-1",
  "depot":{"id":"D","lat":0,"lon":0},
  "ortools":[
    {"vehicle_id":"V1","route":[{"id":"A"}],"total_distance_km":10,"fuel_used_l":2,"fuel_cost":5,"load":3},
    {"vehicle_id":"V2","route":[],"total_distance_km":0}
  ],
  "refined_routes":[
    {"vehicle":"V1","total_distance_km":10,
     "sequence":[{"id":"D","lat":0,"lon":0},{"id":"A","lat":0,"lon":0.01,"nearby_petrol_stations":[{"name":"Shell","lat":0,"lon":0.005}]}],
     "metrics":{"total_normal_duration_secs":3600,"total_traffic_duration_secs":3960,"fuel_used_l":2,"fuel_cost":5,"eco_score":"High","traffic_level":"moderate"}},
    {"vehicle":"V2","total_distance_km":0,"sequence":[{"id":"B"}],"metrics":{"fuel_used_l":1}}
  ]
}}`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.FromEnv(func(string) string { return "" })
	require.NoError(t, err)
	cfg.RateRPS = 0
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(testConfig(t))
	require.NoError(t, err)
	return s
}

type call struct {
	method, path, body string
	headers            map[string]string
}

func do(t *testing.T, h http.Handler, c call) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m), rr.Body.String())
	return m
}

func TestHealthReady(t *testing.T) {
	h := newTestServer(t).Routes()
	assert.Equal(t, http.StatusOK, do(t, h, call{method: http.MethodGet, path: "/healthz"}).Code)
	assert.Equal(t, http.StatusOK, do(t, h, call{method: http.MethodGet, path: "/readyz"}).Code)

	rr := do(t, h, call{method: http.MethodGet, path: "/debug/info"})
	require.Equal(t, http.StatusOK, rr.Code)
	cfg := decode(t, rr)["config"].(map[string]any)
	assert.Equal(t, "memory", cfg["store"])

	rr = do(t, h, call{method: http.MethodGet, path: "/metrics"})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "http_requests_total")
}

func TestTripLifecycle(t *testing.T) {
	h := newTestServer(t).Routes()

	rr := do(t, h, call{method: http.MethodPost, path: "/v1/trips", body: tripDoc})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	up := decode(t, rr)
	assert.Equal(t, "TRIP-1", up["tripId"])
	assert.EqualValues(t, 1, up["version"])
	base := up["dashboard"].(map[string]any)["baseKpis"].(map[string]any)
	assert.EqualValues(t, 2, base["totalVehicles"])
	assert.EqualValues(t, 1, base["activeVehicles"])

	rr = do(t, h, call{method: http.MethodPost, path: "/v1/trips", body: tripDoc})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.EqualValues(t, 2, decode(t, rr)["version"])

	rr = do(t, h, call{method: http.MethodGet, path: "/v1/trips"})
	require.Equal(t, http.StatusOK, rr.Code)
	items := decode(t, rr)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "TRIP-1", items[0].(map[string]any)["tripId"])

	rr = do(t, h, call{method: http.MethodGet, path: "/v1/trips/TRIP-1"})
	require.Equal(t, http.StatusOK, rr.Code)
	doc := decode(t, rr)["document"].(map[string]any)
	assert.Equal(t, "TRIP-1", doc["trip_id"], "the envelope is stripped before storage")

	rr = do(t, h, call{method: http.MethodGet, path: "/v1/trips/TRIP-1/dashboard?vehicle=V1"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("X-Trip-Version"))
	d := decode(t, rr)
	assert.Equal(t, "V1", d["filter"])
	assert.Len(t, d["genaiKpis"].(map[string]any)["filtered"], 1)
	assert.Len(t, d["amenityKpis"].(map[string]any)["perRoute"], 2)

	rr = do(t, h, call{method: http.MethodGet, path: "/v1/trips/TRIP-1/charts"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, decode(t, rr), "distanceVsFuel")

	rr = do(t, h, call{method: http.MethodGet, path: "/v1/trips/TRIP-1/map?vehicle=V2"})
	require.Equal(t, http.StatusOK, rr.Code)
	m := decode(t, rr)
	assert.Equal(t, []any{"V1", "V2"}, m["vehicles"])
	assert.Equal(t, "FeatureCollection", m["geojson"].(map[string]any)["type"])

	assert.Equal(t, http.StatusNoContent, do(t, h, call{method: http.MethodDelete, path: "/v1/trips/TRIP-1"}).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, call{method: http.MethodGet, path: "/v1/trips/TRIP-1/dashboard"}).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, call{method: http.MethodDelete, path: "/v1/trips/TRIP-1"}).Code)
}

func TestUploadTripIDFromQuery(t *testing.T) {
	h := newTestServer(t).Routes()
	rr := do(t, h, call{method: http.MethodPost, path: "/v1/trips?tripId=manual", body: `{"ortools":[]}`})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "manual", decode(t, rr)["tripId"])

	rr = do(t, h, call{method: http.MethodPost, path: "/v1/trips", body: `{"ortools":[]}`})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Len(t, decode(t, rr)["tripId"], 36, "generated ids are uuids")
}

func TestUploadValidation(t *testing.T) {
	h := newTestServer(t).Routes()
	cases := map[string]struct {
		body string
		want int
	}{
		"malformed json":  {`{"ortools":`, http.StatusBadRequest},
		"array root":      {`[1,2]`, http.StatusUnprocessableEntity},
		"ortools object":  {`{"ortools":{"vehicle_id":1}}`, http.StatusUnprocessableEntity},
		"refined string":  {`{"refined_routes":"none"}`, http.StatusUnprocessableEntity},
		"null arrays":     {`{"ortools":null,"refined_routes":null}`, http.StatusCreated},
		"malformed items": {`{"refined_routes":[null,42,{"vehicle":7}]}`, http.StatusCreated},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := do(t, h, call{method: http.MethodPost, path: "/v1/trips", body: tc.body})
			assert.Equal(t, tc.want, rr.Code, rr.Body.String())
			if tc.want >= 400 {
				assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
			}
		})
	}
}

func TestRoleChecks(t *testing.T) {
	h := newTestServer(t).Routes()
	viewer := map[string]string{"X-Role": "viewer"}
	assert.Equal(t, http.StatusForbidden, do(t, h, call{method: http.MethodPost, path: "/v1/trips", body: tripDoc, headers: viewer}).Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, call{method: http.MethodGet, path: "/v1/subscriptions", headers: viewer}).Code)

	dispatcher := map[string]string{"X-Role": "dispatcher", "X-Tenant-Id": "acme"}
	require.Equal(t, http.StatusCreated, do(t, h, call{method: http.MethodPost, path: "/v1/trips", body: tripDoc, headers: dispatcher}).Code)
	assert.Equal(t, http.StatusOK, do(t, h, call{method: http.MethodGet, path: "/v1/trips/TRIP-1", headers: map[string]string{"X-Tenant-Id": "acme", "X-Role": "viewer"}}).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, call{method: http.MethodGet, path: "/v1/trips/TRIP-1"}).Code, "trips are tenant scoped")
}

func TestBearerRequiredOutsideDevMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Mode = "hmac"
	cfg.Auth.HMACSecret = "s3cret"
	s, err := NewServer(cfg)
	require.NoError(t, err)
	h := s.Routes()

	rr := do(t, h, call{method: http.MethodGet, path: "/v1/trips", headers: map[string]string{"X-Tenant-Id": "acme"}})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = do(t, h, call{method: http.MethodGet, path: "/v1/trips", headers: map[string]string{"Authorization": "Bearer acme:admin"}})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, http.StatusOK, do(t, h, call{method: http.MethodGet, path: "/healthz"}).Code)
}

func TestAnalyzeIsStateless(t *testing.T) {
	h := newTestServer(t).Routes()
	rr := do(t, h, call{method: http.MethodPost, path: "/v1/analyze?vehicle=v1", body: tripDoc, headers: map[string]string{"X-Role": "viewer"}})
	require.Equal(t, http.StatusOK, rr.Code)
	d := decode(t, rr)
	assert.Equal(t, "v1", d["filter"])
	assert.Empty(t, d["baseKpis"].(map[string]any)["filteredByVehicle"], "fleet filter is case-sensitive by default")
	assert.Len(t, d["genaiKpis"].(map[string]any)["filtered"], 1, "route filter ignores case")

	rr = do(t, h, call{method: http.MethodGet, path: "/v1/trips"})
	assert.Empty(t, decode(t, rr)["items"])

	rr = do(t, h, call{method: http.MethodGet, path: "/v1/policy"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 50, decode(t, rr)["policy"].(map[string]any)["assumed_speed_kmph"])
}

type fakeSource struct {
	docs  map[string]string
	calls int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) FetchRoute(_ context.Context, id string) (json.RawMessage, error) {
	f.calls++
	if d, ok := f.docs[id]; ok {
		return json.RawMessage(d), nil
	}
	if id == "broken" {
		return nil, &integrations.StatusError{Source: "fake", Code: 500}
	}
	return nil, integrations.ErrNotFound
}

func (f *fakeSource) ListTripIDs(context.Context) ([]string, error) {
	ids := make([]string, 0, len(f.docs))
	for id := range f.docs {
		ids = append(ids, id)
	}
	return ids, nil
}

func TestSourceFallbackCachesTrip(t *testing.T) {
	s := newTestServer(t)
	h := s.Routes()
	assert.Equal(t, http.StatusNotFound, do(t, h, call{method: http.MethodGet, path: "/v1/source/trips"}).Code)

	src := &fakeSource{docs: map[string]string{"REMOTE": `{"ortools":[{"vehicle_id":"V9","route":["a"]}]}`}}
	s.Source = src

	rr := do(t, h, call{method: http.MethodGet, path: "/v1/trips/REMOTE/dashboard"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.EqualValues(t, 1, decode(t, rr)["baseKpis"].(map[string]any)["activeVehicles"])

	rr = do(t, h, call{method: http.MethodGet, path: "/v1/trips/REMOTE"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, src.calls, "second read is served from the store")

	assert.Equal(t, http.StatusNotFound, do(t, h, call{method: http.MethodGet, path: "/v1/trips/nope"}).Code)
	assert.Equal(t, http.StatusBadGateway, do(t, h, call{method: http.MethodGet, path: "/v1/trips/broken"}).Code)

	rr = do(t, h, call{method: http.MethodGet, path: "/v1/source/trips"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, decode(t, rr)["count"])
}

func TestSubscriptionsAndWebhookFanout(t *testing.T) {
	s := newTestServer(t)
	s.Config.FuelRiskAlertThreshold = 1
	h := s.Routes()

	rr := do(t, h, call{method: http.MethodPost, path: "/v1/subscriptions", body: `{"url":"ftp://x","events":["trip.analyzed"]}`})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, h, call{method: http.MethodPost, path: "/v1/subscriptions", body: `{"url":"https://hooks.example/x","events":["order.created"]}`})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, call{method: http.MethodPost, path: "/v1/subscriptions", body: `{"url":"https://hooks.example/x","events":["trip.analyzed","route.fuel_risk.high"],"secret":"k"}`})
	require.Equal(t, http.StatusCreated, rr.Code)
	subID := decode(t, rr)["id"].(string)

	rr = do(t, h, call{method: http.MethodGet, path: "/v1/subscriptions"})
	require.Equal(t, http.StatusOK, rr.Code)
	subs := decode(t, rr)["items"].([]any)
	require.Len(t, subs, 1)
	assert.NotContains(t, subs[0], "secret")

	require.Equal(t, http.StatusCreated, do(t, h, call{method: http.MethodPost, path: "/v1/trips", body: tripDoc}).Code)

	rr = do(t, h, call{method: http.MethodGet, path: "/v1/admin/webhook-deliveries"})
	require.Equal(t, http.StatusOK, rr.Code)
	deliveries := decode(t, rr)["items"].([]any)
	byType := map[string]int{}
	for _, d := range deliveries {
		byType[d.(map[string]any)["eventType"].(string)]++
	}
	assert.Equal(t, 1, byType["trip.analyzed"])
	assert.Equal(t, 2, byType["route.fuel_risk.high"], "one alert per route at or above the threshold")

	id := deliveries[0].(map[string]any)["id"].(string)
	assert.Equal(t, http.StatusAccepted, do(t, h, call{method: http.MethodPost, path: "/v1/admin/webhook-deliveries/" + id + "/retry"}).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, call{method: http.MethodPost, path: "/v1/admin/webhook-deliveries/missing/retry"}).Code)

	assert.Equal(t, http.StatusNoContent, do(t, h, call{method: http.MethodDelete, path: "/v1/subscriptions/" + subID}).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, call{method: http.MethodDelete, path: "/v1/subscriptions/" + subID}).Code)
}

func TestReuploadAfterDeleteNotifiesAgain(t *testing.T) {
	h := newTestServer(t).Routes()
	rr := do(t, h, call{method: http.MethodPost, path: "/v1/subscriptions", body: `{"url":"https://hooks.example/x","events":["trip.analyzed"]}`})
	require.Equal(t, http.StatusCreated, rr.Code)

	require.Equal(t, http.StatusCreated, do(t, h, call{method: http.MethodPost, path: "/v1/trips", body: tripDoc}).Code)
	require.Equal(t, http.StatusNoContent, do(t, h, call{method: http.MethodDelete, path: "/v1/trips/TRIP-1"}).Code)
	rr = do(t, h, call{method: http.MethodPost, path: "/v1/trips", body: tripDoc})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.EqualValues(t, 1, decode(t, rr)["version"], "re-created trip starts over at version 1")

	rr = do(t, h, call{method: http.MethodGet, path: "/v1/admin/webhook-deliveries"})
	require.Equal(t, http.StatusOK, rr.Code)
	n := 0
	for _, d := range decode(t, rr)["items"].([]any) {
		if d.(map[string]any)["eventType"] == "trip.analyzed" {
			n++
		}
	}
	assert.Equal(t, 2, n, "the second trip.analyzed must not be deduplicated against the deleted trip")
}

func TestRateLimiter(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateRPS = 1
	cfg.RateBurst = 1
	s, err := NewServer(cfg)
	require.NoError(t, err)
	h := s.Routes()
	assert.Equal(t, http.StatusOK, do(t, h, call{method: http.MethodGet, path: "/healthz"}).Code)
	rr := do(t, h, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func readLines(t *testing.T, body interface{ Read([]byte) (int, error) }) <-chan string {
	t.Helper()
	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

func waitFor(t *testing.T, lines <-chan string, want string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case l, ok := <-lines:
			require.True(t, ok, "stream closed before %q", want)
			if l == want {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %q", want)
		}
	}
}

func TestTripEventsStream(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Routes())
	defer srv.Close()

	first, err := http.Post(srv.URL+"/v1/trips", "application/json", strings.NewReader(tripDoc))
	require.NoError(t, err)
	first.Body.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/trips/TRIP-1/events/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := readLines(t, resp.Body)
	waitFor(t, lines, "event: heartbeat")

	up, err := http.Post(srv.URL+"/v1/trips", "application/json", strings.NewReader(tripDoc))
	require.NoError(t, err)
	up.Body.Close()
	waitFor(t, lines, "event: trip.analyzed")

	resp404, err := http.Get(srv.URL + "/v1/trips/unknown/events/stream")
	require.NoError(t, err)
	resp404.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp404.StatusCode)
}

func TestTripWebSocket(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Routes())
	defer srv.Close()
	first, err := http.Post(srv.URL+"/v1/trips", "application/json", strings.NewReader(tripDoc))
	require.NoError(t, err)
	first.Body.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/trips/TRIP-1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var msg struct {
		Type    string         `json:"type"`
		Version int            `json:"version"`
		Filter  string         `json:"filter"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "dashboard", msg.Type)
	assert.Equal(t, 1, msg.Version)
	assert.Equal(t, "", msg.Filter)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "filter", "vehicle": "V2"}))
	msg.Filter = ""
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "V2", msg.Filter)
	assert.Len(t, msg.Data["genaiKpis"].(map[string]any)["filtered"], 1)

	up, err := http.Post(srv.URL+"/v1/trips", "application/json", bytes.NewReader([]byte(tripDoc)))
	require.NoError(t, err)
	up.Body.Close()
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "dashboard", msg.Type)
	assert.Equal(t, 2, msg.Version)
	assert.Equal(t, "V2", msg.Filter, "the filter survives re-analysis")
}
