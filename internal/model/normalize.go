package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrNotObject is returned when a route document root is not a JSON object.
var ErrNotObject = errors.New("route document must be a JSON object")

// DecodeRaw reads one JSON value with UseNumber and returns the document
// object. A backend envelope of the form {"route": {...}} is unwrapped.
func DecodeRaw(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode route document: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	if inner, ok := m["route"].(map[string]any); ok {
		return inner, nil
	}
	return m, nil
}

// DecodeDocument decodes and normalizes a route document.
func DecodeDocument(r io.Reader) (RouteDocument, error) {
	raw, err := DecodeRaw(r)
	if err != nil {
		return RouteDocument{}, err
	}
	return Normalize(raw), nil
}

// Normalize maps a loosely-typed route document onto the canonical schema.
// It never fails: missing collections become empty, malformed entries are
// kept with zero values, and alias fields collapse onto one field.
func Normalize(raw map[string]any) RouteDocument {
	doc := RouteDocument{
		SolverVehicles: []SolverVehicle{},
		RefinedRoutes:  []RefinedRoute{},
	}
	if d, ok := raw["depot"].(map[string]any); ok {
		dep := Depot{ID: truthyID(d["id"]), Location: strictPoint(d)}
		doc.Depot = &dep
	}
	for _, v := range asSlice(raw["ortools"]) {
		m, _ := v.(map[string]any)
		doc.SolverVehicles = append(doc.SolverVehicles, normalizeVehicle(m))
	}
	for _, v := range asSlice(raw["refined_routes"]) {
		m, _ := v.(map[string]any)
		doc.RefinedRoutes = append(doc.RefinedRoutes, normalizeRefined(m))
	}
	return doc
}

func normalizeVehicle(m map[string]any) SolverVehicle {
	v := SolverVehicle{
		VehicleID:       idString(m["vehicle_id"]),
		Route:           []string{},
		TotalDistanceKm: lenientOrZero(m["total_distance_km"]),
		FuelUsedL:       lenientOrZero(m["fuel_used_l"]),
		FuelCost:        lenientOrZero(m["fuel_cost"]),
		Load:            lenientOrZero(m["load"]),
	}
	for _, s := range asSlice(m["route"]) {
		if sm, ok := s.(map[string]any); ok {
			v.Route = append(v.Route, idString(sm["id"]))
			continue
		}
		v.Route = append(v.Route, idString(s))
	}
	return v
}

func normalizeRefined(m map[string]any) RefinedRoute {
	r := RefinedRoute{
		TotalDistanceKm: lenientOrZero(m["total_distance_km"]),
		Sequence:        []SequenceStop{},
	}
	if v, ok := m["vehicle"]; ok && v != nil {
		r.Vehicle = idString(v)
	}
	for _, s := range asSlice(m["sequence"]) {
		sm, _ := s.(map[string]any)
		r.Sequence = append(r.Sequence, SequenceStop{
			ID:             truthyID(sm["id"]),
			Location:       strictPoint(sm),
			PetrolStations: normalizeAmenities(sm["nearby_petrol_stations"]),
			RepairShops:    normalizeAmenities(sm["nearby_repair_shops"]),
		})
	}
	metrics, _ := m["metrics"].(map[string]any)
	r.Metrics = normalizeMetrics(metrics)
	return r
}

func normalizeAmenities(v any) AmenitySet {
	list, ok := v.([]any)
	if !ok {
		return AmenitySet{Items: []Amenity{}, Count: int(lenientOrZero(v))}
	}
	set := AmenitySet{Items: make([]Amenity, 0, len(list)), Count: len(list)}
	for _, a := range list {
		am, _ := a.(map[string]any)
		item := Amenity{Location: strictPoint(am)}
		if n, ok := am["name"]; ok && n != nil {
			item.Name = idString(n)
		}
		if id, ok := am["id"]; ok && id != nil {
			item.ID = idString(id)
		}
		set.Items = append(set.Items, item)
	}
	return set
}

var knownMetricKeys = map[string]struct{}{
	"total_normal_duration_secs": {}, "total_normal_duration_mins": {},
	"total_traffic_duration_secs": {}, "total_traffic_duration_mins": {},
	"fuel_used_l": {}, "fuel_cost": {}, "eco_score": {}, "traffic_level": {},
	"road_condition": {}, "notes": {}, "fuel_remaining_l": {}, "remaining_fuel_l": {},
	"fuel_capacity_l": {},
}

func normalizeMetrics(m map[string]any) RouteMetrics {
	rm := RouteMetrics{
		NormalSecs:    strictOpt(m["total_normal_duration_secs"]),
		NormalMins:    strictOpt(m["total_normal_duration_mins"]),
		TrafficSecs:   strictOpt(m["total_traffic_duration_secs"]),
		TrafficMins:   strictOpt(m["total_traffic_duration_mins"]),
		FuelUsedL:     lenientOrZero(m["fuel_used_l"]),
		FuelCost:      lenientOrZero(m["fuel_cost"]),
		TrafficLevel:  textOf(m["traffic_level"]),
		RoadCondition: textOf(m["road_condition"]),
		Notes:         textOf(m["notes"]),
		FuelCapacityL: lenientOpt(m["fuel_capacity_l"]),
	}
	if v, ok := m["eco_score"]; ok && v != nil {
		rm.EcoScore = textOf(v)
	}
	// fuel_remaining_l wins over the legacy remaining_fuel_l spelling
	rm.FuelRemainingL = lenientOpt(m["fuel_remaining_l"])
	if rm.FuelRemainingL == nil {
		rm.FuelRemainingL = lenientOpt(m["remaining_fuel_l"])
	}
	for k, v := range m {
		if _, known := knownMetricKeys[k]; known {
			continue
		}
		if rm.Extra == nil {
			rm.Extra = map[string]any{}
		}
		rm.Extra[k] = v
	}
	return rm
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// strictFloat accepts JSON numbers only.
func strictFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case json.Number:
		var err error
		if f, err = x.Float64(); err != nil {
			return 0, false
		}
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// lenientFloat also accepts numeric strings, mirroring loose numeric coercion
// of upstream payloads where numbers arrive quoted.
func lenientFloat(v any) (float64, bool) {
	if f, ok := strictFloat(v); ok {
		return f, true
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func lenientOrZero(v any) float64 {
	f, _ := lenientFloat(v)
	return f
}

func lenientOpt(v any) *float64 {
	if f, ok := lenientFloat(v); ok {
		return &f
	}
	return nil
}

func strictOpt(v any) *float64 {
	if f, ok := strictFloat(v); ok {
		return &f
	}
	return nil
}

func strictPoint(m map[string]any) *GeoPoint {
	lat, ok1 := strictFloat(m["lat"])
	lon, ok2 := strictFloat(m["lon"])
	if !ok1 || !ok2 {
		return nil
	}
	return &GeoPoint{Lat: lat, Lon: lon}
}

// idString renders an identifier of any JSON type as a string.
func idString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	}
	if f, ok := strictFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// truthyID is idString with falsy values (0, false, "") mapped to "".
func truthyID(v any) string {
	if b, ok := v.(bool); ok && !b {
		return ""
	}
	if f, ok := strictFloat(v); ok && f == 0 {
		return ""
	}
	return idString(v)
}

func textOf(v any) string {
	if v == nil {
		return ""
	}
	return idString(v)
}
