package analytics

import (
	"math"
	"strconv"

	"vrpdash/internal/model"
)

// DataConfidence labels how much amenity data backs a route's estimates.
type DataConfidence struct {
	Petrol  string `json:"petrol"`
	Repairs string `json:"repairs"`
}

// StationSuggestion is the nearest petrol station seen anywhere on a route.
type StationSuggestion struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Name       string  `json:"name"`
	DistanceKm float64 `json:"distance_km"`
}

// AmenityRouteMetrics is the geospatial risk and coverage profile of one route.
type AmenityRouteMetrics struct {
	Vehicle                    string             `json:"vehicle"`
	MedianFuelKm               *float64           `json:"medianFuelKm"`
	MaxFuelKm                  *float64           `json:"maxFuelKm"`
	PctStopsWithin1kmFuel      int                `json:"pctStopsWithin1kmFuel"`
	PctStopsWithin3kmFuel      int                `json:"pctStopsWithin3kmFuel"`
	MedianRepairKm             *float64           `json:"medianRepairKm"`
	MaxRepairKm                *float64           `json:"maxRepairKm"`
	StationCount               int                `json:"stationCount"`
	RepairCount                int                `json:"repairCount"`
	FuelUsedL                  float64            `json:"fuelUsedL"`
	Consumption                *float64           `json:"consumptionLPerKm"`
	EstimatedKmRemaining       *float64           `json:"estimatedKmRemaining"`
	FuelRiskScore              int                `json:"fuelRiskScore"`
	RiskBand                   string             `json:"riskBand"`
	DataConfidence             DataConfidence     `json:"dataConfidence"`
	NextStation                *StationSuggestion `json:"nextStation"`
	NextStationEtaMin          *int               `json:"nextStationEtaMin"`
	RepairCoveragePct          int                `json:"repairCoveragePct"`
	RedundancyWithin10km       int                `json:"redundancyWithin10km"`
	PerStopContingencyEstimate *float64           `json:"perStopContingencyEstimate"`
	FuelPerKm                  *float64           `json:"fuelPerKm"`
	CostPerKm                  *float64           `json:"costPerKm"`
	CostPerStop                float64            `json:"costPerStop"`
	StopsPerHour               *float64           `json:"stopsPerHour"`
	WorkloadIndex              *int               `json:"workloadIndex"`
}

// AmenitySummary aggregates amenity metrics across every route.
type AmenitySummary struct {
	AggMedianFuelKm   *float64       `json:"aggMedianFuelKm"`
	AvgFuelRiskScore  int            `json:"avgFuelRiskScore"`
	AvgRiskBand       string         `json:"avgRiskBand"`
	TotalStations     int            `json:"totalStations"`
	TotalRepairs      int            `json:"totalRepairs"`
	OverallConfidence DataConfidence `json:"overallConfidence"`
}

type AmenityKpis struct {
	PerRoute []AmenityRouteMetrics `json:"perRoute"`
	// Filtered holds the rows whose vehicle passes the current filter.
	Filtered []AmenityRouteMetrics `json:"filtered"`
	AmenitySummary
}

// ComputeAmenity derives amenity metrics for every route and summarizes them.
// The summary always covers routes; filtered only selects presentation rows.
func ComputeAmenity(routes []RefinedRouteKpi, filtered []RefinedRouteKpi, depot *model.Depot, p Policy) AmenityKpis {
	k := AmenityKpis{
		PerRoute: make([]AmenityRouteMetrics, 0, len(routes)),
		Filtered: make([]AmenityRouteMetrics, 0, len(filtered)),
	}
	var medians, risks []float64
	for _, r := range routes {
		m := RouteAmenityMetrics(r, depot, p)
		k.PerRoute = append(k.PerRoute, m)
		if m.MedianFuelKm != nil {
			medians = append(medians, *m.MedianFuelKm)
		}
		risks = append(risks, float64(m.FuelRiskScore))
		k.TotalStations += m.StationCount
		k.TotalRepairs += m.RepairCount
	}
	k.AggMedianFuelKm = roundPtr(Mean(medians), 2)
	if avg := Mean(risks); avg != nil {
		k.AvgFuelRiskScore = int(math.Round(*avg))
	}
	k.AvgRiskBand = p.RiskBand(float64(k.AvgFuelRiskScore))
	k.OverallConfidence = DataConfidence{
		Petrol:  p.confidence(k.TotalStations),
		Repairs: p.confidence(k.TotalRepairs),
	}
	for _, f := range filtered {
		if f.Index >= 0 && f.Index < len(k.PerRoute) {
			k.Filtered = append(k.Filtered, k.PerRoute[f.Index])
		}
	}
	return k
}

// nearestAmenity scans one stop's amenity list. It returns the nearest valid
// entry and its distance, and records every valid coordinate in seen.
func nearestAmenity(from model.GeoPoint, set model.AmenitySet, seen map[string]struct{}) (model.Amenity, float64, bool) {
	var best model.Amenity
	bestDist := math.Inf(1)
	for _, a := range set.Items {
		if a.Location == nil {
			continue
		}
		seen[coordKey(*a.Location)] = struct{}{}
		if d := distanceKm(from, *a.Location); d < bestDist {
			bestDist = d
			best = a
		}
	}
	return best, bestDist, !math.IsInf(bestDist, 1)
}

func coordKey(g model.GeoPoint) string {
	return strconv.FormatFloat(g.Lat, 'g', -1, 64) + ":" + strconv.FormatFloat(g.Lon, 'g', -1, 64)
}

// RouteAmenityMetrics computes the amenity, risk and ratio profile of one route.
func RouteAmenityMetrics(r RefinedRouteKpi, depot *model.Depot, p Policy) AmenityRouteMetrics {
	var fuelDists, repairDists, depotDists []float64
	stations := map[string]struct{}{}
	repairs := map[string]struct{}{}

	var best *StationSuggestion
	bestDist := math.Inf(1)

	for _, stop := range r.Sequence {
		if stop.Location == nil {
			continue
		}
		at := *stop.Location
		if depot != nil && depot.Location != nil {
			depotDists = append(depotDists, distanceKm(at, *depot.Location))
		}
		if a, d, ok := nearestAmenity(at, stop.PetrolStations, stations); ok {
			fuelDists = append(fuelDists, d)
			if d < bestDist {
				bestDist = d
				best = &StationSuggestion{Lat: a.Location.Lat, Lon: a.Location.Lon, Name: stationName(a)}
			}
		}
		if _, d, ok := nearestAmenity(at, stop.RepairShops, repairs); ok {
			repairDists = append(repairDists, d)
		}
	}

	out := AmenityRouteMetrics{
		Vehicle:               r.Vehicle,
		MedianFuelKm:          roundPtr(Median(fuelDists), 2),
		MaxFuelKm:             roundPtr(Max(fuelDists), 2),
		PctStopsWithin1kmFuel: int(math.Round(PercentWithin(fuelDists, 1))),
		PctStopsWithin3kmFuel: int(math.Round(PercentWithin(fuelDists, 3))),
		MedianRepairKm:        roundPtr(Median(repairDists), 2),
		MaxRepairKm:           roundPtr(Max(repairDists), 2),
		StationCount:          len(stations),
		RepairCount:           len(repairs),
		FuelUsedL:             RoundTo(r.FuelL, 2),
		DataConfidence: DataConfidence{
			Petrol:  p.confidence(len(stations)),
			Repairs: p.confidence(len(repairs)),
		},
		// distinct repair coordinates anywhere on the route, not radius filtered
		RedundancyWithin10km: len(repairs),
	}

	if r.DistanceKm > 0 {
		out.Consumption = SafeDiv(r.FuelL, r.DistanceKm)
	}
	out.EstimatedKmRemaining = estimateRange(r, out.Consumption)

	medFuel := Median(fuelDists)
	out.FuelRiskScore = fuelRisk(medFuel, r.FuelL, PercentWithin(fuelDists, p.FuelRisk.NearbyKm), out.EstimatedKmRemaining, p.FuelRisk)
	out.RiskBand = p.RiskBand(float64(out.FuelRiskScore))

	if best != nil {
		best.DistanceKm = RoundTo(bestDist, 2)
		out.NextStation = best
		out.NextStationEtaMin = ptr(int(math.Round(bestDist / p.AssumedSpeedKmph * 60)))
	}

	if n := len(r.Sequence); n > 0 {
		covered := 0
		for _, d := range repairDists {
			if d <= p.RepairCoverageRadiusKm {
				covered++
			}
		}
		out.RepairCoveragePct = int(math.Round(float64(covered) / float64(n) * 100))
	}

	out.PerStopContingencyEstimate = contingency(depot, depotDists, Median(repairDists), p)

	if r.DistanceKm > 0 {
		out.FuelPerKm = roundPtr(SafeDiv(r.FuelL, r.DistanceKm), 4)
		out.CostPerKm = roundPtr(SafeDiv(r.FuelCost, r.DistanceKm), 4)
	}
	out.CostPerStop = RoundTo(Finite(r.FuelCost/math.Max(1, float64(r.Stops))), 2)

	totalHours := r.DistanceKm / p.FallbackSpeedKmph
	if r.NormalSecs != 0 {
		totalHours = r.NormalSecs / 3600
	}
	if totalHours > 0 {
		sph := RoundTo(Finite(float64(r.Stops)/totalHours), 2)
		out.StopsPerHour = &sph
		w := math.Min(50, sph*5) + math.Min(30, totalHours*2) + math.Min(20, float64(r.Stops)*0.5)
		out.WorkloadIndex = ptr(int(math.Round(math.Min(100, w))))
	}
	return out
}

func stationName(a model.Amenity) string {
	switch {
	case a.Name != "":
		return a.Name
	case a.ID != "":
		return a.ID
	default:
		return "station"
	}
}

// estimateRange turns remaining fuel, or capacity minus fuel used, into km
// at the route's consumption. Nil when consumption or both figures are unknown.
func estimateRange(r RefinedRouteKpi, consumption *float64) *float64 {
	if consumption == nil || *consumption <= 0 {
		return nil
	}
	if rem := r.Metrics.FuelRemainingL; rem != nil {
		return SafeDiv(*rem, *consumption)
	}
	if capacity := r.Metrics.FuelCapacityL; capacity != nil {
		if left := *capacity - r.FuelL; left > 0 {
			return SafeDiv(left, *consumption)
		}
	}
	return nil
}

// fuelRisk is the additive 0-100 heuristic: distance to fuel, fuel burned,
// sparse nearby coverage and short or unknown range each add weight.
func fuelRisk(medFuel *float64, fuelUsed, pctNearby float64, rangeKm *float64, w FuelRiskWeights) int {
	risk := 0.0
	if medFuel != nil {
		risk += math.Min(w.MedianCap, *medFuel*w.MedianKmFactor)
	}
	risk += math.Min(w.FuelUsedCap, fuelUsed*w.FuelUsedFactor)
	if pctNearby < w.SparseNearbyPct {
		risk += w.SparseNearbyPenalty
	}
	switch {
	case rangeKm == nil:
		risk += w.UnknownRangePenalty
	case *rangeKm < w.CriticalRangeKm:
		risk += w.CriticalRangePenalty
	case *rangeKm < w.LowRangeKm:
		risk += w.LowRangePenalty
	}
	return int(math.Round(Clamp(risk, 0, 100)))
}

// contingency prices a detour per stop: distance cost plus delay cost at the
// assumed speed. The depot reference wins whenever the depot is located, even
// if no stop is, in which case there is no estimate.
func contingency(depot *model.Depot, depotDists []float64, medRepair *float64, p Policy) *float64 {
	var d *float64
	if depot != nil && depot.Location != nil {
		d = Mean(depotDists)
	} else {
		d = medRepair
	}
	if d == nil {
		return nil
	}
	v := *d*p.AvgCostPerKm + *d/p.AssumedSpeedKmph*p.HourlyDelayCost
	return ptr(RoundTo(v, 2))
}
