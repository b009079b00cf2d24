package analytics

import (
	"math"
	"strconv"
	"strings"

	"vrpdash/internal/model"
)

// RefinedRouteKpi is the per-route figure set derived from one refined route.
type RefinedRouteKpi struct {
	Index         int                  `json:"idx"`
	Vehicle       string               `json:"vehicle"`
	DistanceKm    float64              `json:"distance_km"`
	FuelL         float64              `json:"fuel_l"`
	FuelCost      float64              `json:"fuel_cost"`
	EcoScore      *string              `json:"eco_score"`
	EcoScoreNum   *int                 `json:"eco_score_num"`
	NormalSecs    float64              `json:"normal_secs"`
	TrafficSecs   float64              `json:"traffic_secs"`
	DelayPct      float64              `json:"delay_pct"`
	Stops         int                  `json:"stops"`
	TrafficLevel  string               `json:"traffic_level"`
	RoadCondition string               `json:"road_condition"`
	Notes         string               `json:"notes"`
	FuelStations  int                  `json:"fuelStations"`
	RepairShops   int                  `json:"repairShops"`
	FuelPerKm     *float64             `json:"fuelPerKm"`
	WorkloadIndex *int                 `json:"workloadIndex"`
	Sequence      []model.SequenceStop `json:"-"`
	Metrics       model.RouteMetrics   `json:"-"`
}

// RouteKpis holds every refined route plus fleet-level aggregates over them.
type RouteKpis struct {
	Routes            []RefinedRouteKpi `json:"routes"`
	TotalDistanceKm   float64           `json:"totalDistance"`
	TotalFuelL        float64           `json:"totalFuel"`
	TotalCost         float64           `json:"totalCost"`
	TotalFuelStations int               `json:"totalFuelStations"`
	TotalRepairShops  int               `json:"totalRepairShops"`
	TotalStops        int               `json:"totalStops"`
	OnTimePct         float64           `json:"onTimePct"`
	MaxDelayPct       float64           `json:"maxDelay"`
	AvgStopsPerRoute  float64           `json:"avgStopsPerRoute"`
	AvgEcoScore       *string           `json:"avgEcoScore"`
	Filtered          []RefinedRouteKpi `json:"filtered"`
}

var ecoScale = map[string]int{"low": 1, "medium": 2, "high": 3}

// EcoScoreNumeric maps low/medium/high (any case) to 1/2/3.
func EcoScoreNumeric(score string) *int {
	if n, ok := ecoScale[strings.ToLower(score)]; ok {
		return &n
	}
	return nil
}

// EcoBucket maps an average eco score back onto a label.
func EcoBucket(avg float64) string {
	switch {
	case avg >= 2.5:
		return "high"
	case avg >= 1.5:
		return "medium"
	default:
		return "low"
	}
}

// toSeconds applies the unit precedence: seconds when present, else minutes
// converted and rounded, else zero.
func toSeconds(mins, secs *float64) float64 {
	if secs != nil {
		return *secs
	}
	if mins != nil {
		return math.Round(*mins * 60)
	}
	return 0
}

// CountStops counts sequence entries with an id other than the depot's.
func CountStops(seq []model.SequenceStop, depot *model.Depot) int {
	depotID := ""
	if depot != nil {
		depotID = depot.ID
	}
	n := 0
	for _, s := range seq {
		if s.ID != "" && s.ID != depotID {
			n++
		}
	}
	return n
}

// RouteLabel is the vehicle label for the route at index i.
func RouteLabel(r model.RefinedRoute, i int) string {
	if r.Vehicle != "" {
		return r.Vehicle
	}
	return "V" + strconv.Itoa(i+1)
}

func ComputeRouteKpis(routes []model.RefinedRoute, depot *model.Depot, filter string, p Policy) RouteKpis {
	k := RouteKpis{
		Routes:   make([]RefinedRouteKpi, 0, len(routes)),
		Filtered: []RefinedRouteKpi{},
	}
	var ecoSum, ecoN, onTime int
	maxDelay := 0.0
	for i, r := range routes {
		rk := refinedKpi(r, i, depot)
		k.Routes = append(k.Routes, rk)

		k.TotalDistanceKm += rk.DistanceKm
		k.TotalFuelL += rk.FuelL
		k.TotalCost += rk.FuelCost
		k.TotalFuelStations += rk.FuelStations
		k.TotalRepairShops += rk.RepairShops
		k.TotalStops += rk.Stops
		if rk.DelayPct <= p.OnTimeDelayThreshold {
			onTime++
		}
		maxDelay = math.Max(maxDelay, rk.DelayPct)
		if rk.EcoScoreNum != nil {
			ecoSum += *rk.EcoScoreNum
			ecoN++
		}
		if matchVehicle(rk.Vehicle, filter, false) {
			k.Filtered = append(k.Filtered, rk)
		}
	}
	k.TotalDistanceKm = Finite(k.TotalDistanceKm)
	k.TotalFuelL = Finite(k.TotalFuelL)
	k.TotalCost = Finite(k.TotalCost)
	k.MaxDelayPct = Finite(maxDelay * 100)
	if n := len(k.Routes); n > 0 {
		k.OnTimePct = float64(onTime) / float64(n) * 100
		k.AvgStopsPerRoute = float64(k.TotalStops) / float64(n)
	}
	if ecoN > 0 {
		k.AvgEcoScore = ptr(EcoBucket(float64(ecoSum) / float64(ecoN)))
	}
	return k
}

func refinedKpi(r model.RefinedRoute, i int, depot *model.Depot) RefinedRouteKpi {
	m := r.Metrics
	normal := toSeconds(m.NormalMins, m.NormalSecs)
	traffic := toSeconds(m.TrafficMins, m.TrafficSecs)
	rk := RefinedRouteKpi{
		Index:         i,
		Vehicle:       RouteLabel(r, i),
		DistanceKm:    r.TotalDistanceKm,
		FuelL:         m.FuelUsedL,
		FuelCost:      m.FuelCost,
		NormalSecs:    normal,
		TrafficSecs:   traffic,
		Stops:         CountStops(r.Sequence, depot),
		TrafficLevel:  m.TrafficLevel,
		RoadCondition: m.RoadCondition,
		Notes:         m.Notes,
		Sequence:      r.Sequence,
		Metrics:       m,
	}
	if d := SafeDiv(traffic-normal, normal); normal > 0 && d != nil {
		rk.DelayPct = *d
	}
	if m.EcoScore != "" {
		rk.EcoScore = ptr(m.EcoScore)
		rk.EcoScoreNum = EcoScoreNumeric(m.EcoScore)
	}
	for _, s := range r.Sequence {
		rk.FuelStations += s.PetrolStations.Count
		rk.RepairShops += s.RepairShops.Count
	}
	if rk.DistanceKm > 0 {
		rk.FuelPerKm = roundPtr(SafeDiv(rk.FuelL, rk.DistanceKm), 4)
	}
	// traffic duration wins when both are known
	dur := traffic
	if dur == 0 {
		dur = normal
	}
	if dur > 0 && rk.Stops > 0 {
		if perHour := SafeDiv(float64(rk.Stops), dur/3600); perHour != nil {
			rk.WorkloadIndex = ptr(int(math.Round(math.Min(*perHour*10, math.MaxInt32))))
		}
	}
	return rk
}
