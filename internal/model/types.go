package model

import (
    "encoding/json"
    "time"
)

// Canonical route document types. Everything here is produced by Normalize;
// the engine never sees raw JSON.

type GeoPoint struct {
    Lat float64 `json:"lat"`
    Lon float64 `json:"lon"`
}

// RouteDocument is the solver output for one trip.
type RouteDocument struct {
    Depot          *Depot          `json:"depot"`
    SolverVehicles []SolverVehicle `json:"ortools"`
    RefinedRoutes  []RefinedRoute  `json:"refined_routes"`
}

// Depot is the fixed origin/return point. Location is nil when lat/lon are not numeric.
type Depot struct {
    ID       string    `json:"id"`
    Location *GeoPoint `json:"location,omitempty"`
}

// SolverVehicle is the first-pass assignment for one vehicle.
type SolverVehicle struct {
    VehicleID       string   `json:"vehicle_id"`
    Route           []string `json:"route"`
    TotalDistanceKm float64  `json:"total_distance_km"`
    FuelUsedL       float64  `json:"fuel_used_l"`
    FuelCost        float64  `json:"fuel_cost"`
    Load            float64  `json:"load"`
}

// Active reports whether the solver gave this vehicle any stops.
func (v SolverVehicle) Active() bool { return len(v.Route) > 0 }

// RefinedRoute is the amenity-enriched second pass for one vehicle.
type RefinedRoute struct {
    Vehicle         string         `json:"vehicle"`
    TotalDistanceKm float64        `json:"total_distance_km"`
    Sequence        []SequenceStop `json:"sequence"`
    Metrics         RouteMetrics   `json:"metrics"`
}

type SequenceStop struct {
    // ID is empty when the source id was missing or falsy.
    ID             string     `json:"id"`
    Location       *GeoPoint  `json:"location,omitempty"`
    PetrolStations AmenitySet `json:"nearby_petrol_stations"`
    RepairShops    AmenitySet `json:"nearby_repair_shops"`
}

// AmenitySet holds the amenities listed near a stop. Count is the list length
// when a list was supplied (malformed entries included), otherwise the numeric
// count the source carried in place of the list.
type AmenitySet struct {
    Items []Amenity `json:"items"`
    Count int       `json:"count"`
}

type Amenity struct {
    ID       string    `json:"id,omitempty"`
    Name     string    `json:"name,omitempty"`
    Location *GeoPoint `json:"location,omitempty"`
}

// RouteMetrics is the canonical form of the free-form refined route metrics bag.
// Duration fields stay split by unit so the seconds-over-minutes precedence is
// applied in exactly one place.
type RouteMetrics struct {
    NormalSecs     *float64       `json:"total_normal_duration_secs,omitempty"`
    NormalMins     *float64       `json:"total_normal_duration_mins,omitempty"`
    TrafficSecs    *float64       `json:"total_traffic_duration_secs,omitempty"`
    TrafficMins    *float64       `json:"total_traffic_duration_mins,omitempty"`
    FuelUsedL      float64        `json:"fuel_used_l"`
    FuelCost       float64        `json:"fuel_cost"`
    EcoScore       string         `json:"eco_score,omitempty"`
    TrafficLevel   string         `json:"traffic_level"`
    RoadCondition  string         `json:"road_condition"`
    Notes          string         `json:"notes"`
    FuelRemainingL *float64       `json:"fuel_remaining_l,omitempty"`
    FuelCapacityL  *float64       `json:"fuel_capacity_l,omitempty"`
    Extra          map[string]any `json:"extra,omitempty"`
}

// TripRecord is a stored route document.
type TripRecord struct {
    ID        string          `json:"tripId"`
    TenantID  string          `json:"tenantId"`
    Version   int             `json:"version"`
    Document  json.RawMessage `json:"document"`
    CreatedAt time.Time       `json:"createdAt"`
    UpdatedAt time.Time       `json:"updatedAt"`
}

type TripSummary struct {
    ID        string    `json:"tripId"`
    Version   int       `json:"version"`
    CreatedAt time.Time `json:"createdAt"`
    UpdatedAt time.Time `json:"updatedAt"`
}

type SubscriptionRequest struct {
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret"`
}

type Subscription struct {
    ID       string   `json:"id"`
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret,omitempty"`
}
