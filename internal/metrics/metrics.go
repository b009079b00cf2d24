package metrics

import (
    "net/http"
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // DashboardCompute times one full analytics pass by entry point (upload, dashboard, analyze, ws)
    DashboardCompute = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "dashboard_compute_seconds", Help: "Dashboard derivation time in seconds.", Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25}},
        []string{"source"},
    )
    // FleetFuelRisk holds the last computed fleet average fuel risk per trip
    FleetFuelRisk = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{Name: "fleet_fuel_risk_score", Help: "Average fuel risk score (0-100) of the last analysis per trip."},
        []string{"tenant", "trip"},
    )
    // TripsStored counts route documents written, by origin (upload, backend)
    TripsStored = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "trips_stored_total", Help: "Route documents stored."},
        []string{"origin"},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the dedicated registry. Safe to call more than once.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(DashboardCompute)
        Registry.MustRegister(FleetFuelRisk)
        Registry.MustRegister(TripsStored)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
    RegisterDefault()
    return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
