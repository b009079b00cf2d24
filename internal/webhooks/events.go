package webhooks

import (
	"fmt"
	"strconv"

	"vrpdash/internal/analytics"
	"vrpdash/internal/model"
)

// Event types.
const (
	EventTripAnalyzed = "trip.analyzed"
	EventFuelRiskHigh = "route.fuel_risk.high"
)

// KnownEvents lists the event types subscriptions may ask for.
var KnownEvents = []string{EventTripAnalyzed, EventFuelRiskHigh}

// TripAnalyzedID is stable per stored version so re-emitting it is not
// delivered twice. The record's creation time is part of the id: deleting a
// trip restarts its versions, and the new record must not collide with the
// old one's deliveries.
func TripAnalyzedID(rec model.TripRecord) string {
	return fmt.Sprintf("%s:%s:v%d", EventTripAnalyzed, recordKey(rec), rec.Version)
}

func recordKey(rec model.TripRecord) string {
	return rec.ID + ":" + strconv.FormatInt(rec.CreatedAt.UnixNano(), 36)
}

// TripAnalyzedData is the headline payload of a trip.analyzed event.
func TripAnalyzedData(tripID string, version int, d analytics.Dashboard) map[string]any {
	return map[string]any{
		"tripId":           tripID,
		"version":          version,
		"totalVehicles":    d.FleetBase.TotalVehicles,
		"activeVehicles":   d.FleetBase.ActiveVehicles,
		"routes":           len(d.Routes.Routes),
		"onTimePct":        d.Routes.OnTimePct,
		"maxDelayPct":      d.Routes.MaxDelayPct,
		"avgFuelRiskScore": d.Amenity.AvgFuelRiskScore,
		"avgRiskBand":      d.Amenity.AvgRiskBand,
		"confidence":       d.Amenity.OverallConfidence,
	}
}

// FuelRiskAlert is one route at or above the alert threshold.
type FuelRiskAlert struct {
	ID   string
	Data map[string]any
}

// FuelRiskAlerts returns an alert for every route scoring >= threshold.
// A threshold <= 0 disables alerts.
func FuelRiskAlerts(rec model.TripRecord, d analytics.Dashboard, threshold int) []FuelRiskAlert {
	if threshold <= 0 {
		return nil
	}
	var out []FuelRiskAlert
	for i, r := range d.Amenity.PerRoute {
		if r.FuelRiskScore < threshold {
			continue
		}
		data := map[string]any{
			"tripId":        rec.ID,
			"version":       rec.Version,
			"vehicle":       r.Vehicle,
			"fuelRiskScore": r.FuelRiskScore,
			"riskBand":      r.RiskBand,
			"threshold":     threshold,
		}
		if r.NextStation != nil {
			data["nextStation"] = r.NextStation
			data["nextStationEtaMin"] = r.NextStationEtaMin
		}
		out = append(out, FuelRiskAlert{
			ID:   fmt.Sprintf("%s:%s:v%d:%d", EventFuelRiskHigh, recordKey(rec), rec.Version, i),
			Data: data,
		})
	}
	return out
}
