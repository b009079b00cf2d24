package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"vrpdash/internal/analytics"
	"vrpdash/internal/integrations"
	"vrpdash/internal/metrics"
	"vrpdash/internal/model"
	"vrpdash/internal/store"
	"vrpdash/internal/webhooks"
)

const maxDocumentBytes = 16 << 20

// tripKey scopes broker channels by tenant so trip ids never collide across tenants.
func tripKey(tenant, tripID string) string { return tenant + ":" + tripID }

// UploadTripHandler handles POST /v1/trips. The trip id comes from ?tripId=,
// then a string trip_id in the document, else a new uuid.
func (s *Server) UploadTripHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.writer(w, r)
	if !ok {
		return
	}
	raw, doc, err := decodeRouteDocument(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		writeDecodeProblem(w, r, err)
		return
	}
	tripID := strings.TrimSpace(r.URL.Query().Get("tripId"))
	if tripID == "" {
		if v, ok := raw["trip_id"].(string); ok {
			tripID = strings.TrimSpace(v)
		}
	}
	body, err := json.Marshal(raw)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid document", err.Error(), r.URL.Path)
		return
	}
	rec, err := s.Store.SaveTrip(r.Context(), p.Tenant, tripID, body)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Save trip failed", err.Error(), r.URL.Path)
		return
	}
	metrics.TripsStored.WithLabelValues("upload").Inc()
	d := s.compute("upload", p.Tenant, rec.ID, doc, "")
	s.notifyAnalyzed(r.Context(), p.Tenant, rec, d)
	writeJSON(w, http.StatusCreated, map[string]any{
		"tripId":    rec.ID,
		"version":   rec.Version,
		"updatedAt": rec.UpdatedAt,
		"dashboard": d,
	})
}

// ListTripsHandler handles GET /v1/trips.
func (s *Server) ListTripsHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	items, next, err := s.Store.ListTrips(r.Context(), p.Tenant, r.URL.Query().Get("cursor"), queryLimit(r))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List trips failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// GetTripHandler handles GET /v1/trips/{id}.
func (s *Server) GetTripHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	rec, err := s.loadTrip(r.Context(), p.Tenant, r.PathValue("id"))
	if err != nil {
		writeLoadProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteTripHandler handles DELETE /v1/trips/{id}.
func (s *Server) DeleteTripHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.writer(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := s.Store.DeleteTrip(r.Context(), p.Tenant, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Trip not found", id, r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Delete trip failed", err.Error(), r.URL.Path)
		return
	}
	metrics.FleetFuelRisk.DeleteLabelValues(p.Tenant, id)
	w.WriteHeader(http.StatusNoContent)
}

// DashboardHandler handles GET /v1/trips/{id}/dashboard?vehicle=.
func (s *Server) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	s.withDashboard(w, r, func(d analytics.Dashboard) any { return d })
}

// ChartsHandler handles GET /v1/trips/{id}/charts?vehicle=.
func (s *Server) ChartsHandler(w http.ResponseWriter, r *http.Request) {
	s.withDashboard(w, r, func(d analytics.Dashboard) any { return d.Charts })
}

// MapHandler handles GET /v1/trips/{id}/map?vehicle=.
func (s *Server) MapHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	doc, _, err := s.tripDocument(r.Context(), p.Tenant, r.PathValue("id"))
	if err != nil {
		writeLoadProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics.BuildMapOverlay(doc, r.URL.Query().Get("vehicle")))
}

func (s *Server) withDashboard(w http.ResponseWriter, r *http.Request, view func(analytics.Dashboard) any) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	doc, rec, err := s.tripDocument(r.Context(), p.Tenant, id)
	if err != nil {
		writeLoadProblem(w, r, err)
		return
	}
	d := s.compute("dashboard", p.Tenant, rec.ID, doc, r.URL.Query().Get("vehicle"))
	w.Header().Set("X-Trip-Version", strconv.Itoa(rec.Version))
	writeJSON(w, http.StatusOK, view(d))
}

// AnalyzeHandler handles POST /v1/analyze?vehicle=; nothing is stored.
func (s *Server) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.principal(w, r); !ok {
		return
	}
	_, doc, err := decodeRouteDocument(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		writeDecodeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.compute("analyze", "", "", doc, r.URL.Query().Get("vehicle")))
}

// SourceTripsHandler handles GET /v1/source/trips: trip ids known to the VRP backend.
func (s *Server) SourceTripsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.principal(w, r); !ok {
		return
	}
	if s.Source == nil {
		writeProblem(w, http.StatusNotFound, "No route source", "VRP_BACKEND_URL is not configured", r.URL.Path)
		return
	}
	ids, err := s.Source.ListTripIDs(r.Context())
	if err != nil {
		writeLoadProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": s.Source.Name(), "tripIds": ids, "count": len(ids)})
}

// PolicyHandler handles GET /v1/policy.
func (s *Server) PolicyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"policy":  s.Engine.Policy,
		"options": map[string]bool{"caseSensitiveVehicleFilter": s.Engine.Options.CaseSensitiveVehicleFilter},
	})
}

// loadTrip returns the stored trip, falling back to the route source on a
// miss. Fetched documents are cached in the store.
func (s *Server) loadTrip(ctx context.Context, tenant, tripID string) (model.TripRecord, error) {
	rec, err := s.Store.GetTrip(ctx, tenant, tripID)
	if err == nil || !errors.Is(err, store.ErrNotFound) || s.Source == nil {
		return rec, err
	}
	doc, err := s.Source.FetchRoute(ctx, tripID)
	if err != nil {
		return model.TripRecord{}, err
	}
	rec, err = s.Store.SaveTrip(ctx, tenant, tripID, doc)
	if err != nil {
		return model.TripRecord{}, fmt.Errorf("cache fetched trip: %w", err)
	}
	metrics.TripsStored.WithLabelValues("backend").Inc()
	log.WithFields(log.Fields{"tenant": tenant, "trip": tripID, "source": s.Source.Name()}).Info("trip fetched from source")
	return rec, nil
}

func (s *Server) tripDocument(ctx context.Context, tenant, tripID string) (model.RouteDocument, model.TripRecord, error) {
	rec, err := s.loadTrip(ctx, tenant, tripID)
	if err != nil {
		return model.RouteDocument{}, rec, err
	}
	doc, err := model.DecodeDocument(bytes.NewReader(rec.Document))
	if err != nil {
		return model.RouteDocument{}, rec, fmt.Errorf("stored trip %s: %w", tripID, err)
	}
	return doc, rec, nil
}

// compute runs the engine and records timing; for stored trips it also
// updates the fleet fuel risk gauge.
func (s *Server) compute(source, tenant, tripID string, doc model.RouteDocument, filter string) analytics.Dashboard {
	start := time.Now()
	d := s.Engine.Compute(doc, filter)
	metrics.DashboardCompute.WithLabelValues(source).Observe(time.Since(start).Seconds())
	if tripID != "" {
		metrics.FleetFuelRisk.WithLabelValues(tenant, tripID).Set(float64(d.Amenity.AvgFuelRiskScore))
	}
	return d
}

// notifyAnalyzed publishes trip.analyzed to live subscribers and emits the
// trip.analyzed and route.fuel_risk.high webhooks.
func (s *Server) notifyAnalyzed(ctx context.Context, tenant string, rec model.TripRecord, d analytics.Dashboard) {
	data := webhooks.TripAnalyzedData(rec.ID, rec.Version, d)
	s.Broker.Publish(tripKey(tenant, rec.ID), Event{Type: webhooks.EventTripAnalyzed, Data: data})
	if s.Pub == nil {
		return
	}
	fields := log.Fields{"tenant": tenant, "trip": rec.ID, "version": rec.Version}
	if _, err := s.Pub.EmitWithID(ctx, tenant, webhooks.TripAnalyzedID(rec), webhooks.EventTripAnalyzed, data); err != nil {
		log.WithError(err).WithFields(fields).Warn("emit trip.analyzed")
	}
	for _, a := range webhooks.FuelRiskAlerts(rec, d, int(s.Config.FuelRiskAlertThreshold)) {
		if _, err := s.Pub.EmitWithID(ctx, tenant, a.ID, webhooks.EventFuelRiskHigh, a.Data); err != nil {
			log.WithError(err).WithFields(fields).Warn("emit route.fuel_risk.high")
		}
	}
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

func writeDecodeProblem(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeProblem(w, http.StatusRequestEntityTooLarge, "Document too large", err.Error(), r.URL.Path)
	case errors.Is(err, errInvalidDocument):
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid route document", err.Error(), r.URL.Path)
	case errors.Is(err, model.ErrNotObject):
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid route document", err.Error(), r.URL.Path)
	default:
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
	}
}

func writeLoadProblem(w http.ResponseWriter, r *http.Request, err error) {
	var upstream *integrations.StatusError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, integrations.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Trip not found", r.PathValue("id"), r.URL.Path)
	case errors.As(err, &upstream):
		writeProblem(w, http.StatusBadGateway, "Route source failed", err.Error(), r.URL.Path)
	default:
		writeProblem(w, http.StatusInternalServerError, "Load trip failed", err.Error(), r.URL.Path)
	}
}
