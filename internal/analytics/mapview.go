package analytics

import (
	"strconv"

	"vrpdash/internal/model"
)

// RoutePalette colours route lines by route index, wrapping around.
var RoutePalette = []string{"#EF4444", "#2563EB", "#16A34A", "#8B5CF6", "#F97316", "#7C3AED", "#0EA5A4"}

// AllVehicles selects every route on the map.
const AllVehicles = "All"

type RouteLine struct {
	Index   int              `json:"idx"`
	Vehicle string           `json:"vehicle"`
	Color   string           `json:"color"`
	Points  []model.GeoPoint `json:"points"`
	Active  bool             `json:"active"`
}

type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

func (b *Bounds) extend(g model.GeoPoint) {
	b.South = min(b.South, g.Lat)
	b.North = max(b.North, g.Lat)
	b.West = min(b.West, g.Lon)
	b.East = max(b.East, g.Lon)
}

// GeoJSON types, limited to the geometries the overlay emits.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type Geometry struct {
	Type string `json:"type"`
	// [lon, lat] for Point, [][lon, lat] for LineString
	Coordinates any `json:"coordinates"`
}

// MapOverlay is everything a map view needs to draw a route document.
type MapOverlay struct {
	Selected string            `json:"selected"`
	Vehicles []string          `json:"vehicles"`
	Lines    []RouteLine       `json:"lines"`
	Bounds   *Bounds           `json:"bounds"`
	GeoJSON  FeatureCollection `json:"geojson"`
}

func pointFeature(g model.GeoPoint, props map[string]any) Feature {
	return Feature{
		Type:       "Feature",
		Geometry:   Geometry{Type: "Point", Coordinates: []float64{g.Lon, g.Lat}},
		Properties: props,
	}
}

// BuildMapOverlay projects the document onto map layers. selected is a
// vehicle label; empty or AllVehicles shows every route.
func BuildMapOverlay(doc model.RouteDocument, selected string) MapOverlay {
	if selected == "" {
		selected = AllVehicles
	}
	ov := MapOverlay{
		Selected: selected,
		Vehicles: []string{},
		Lines:    make([]RouteLine, 0, len(doc.RefinedRoutes)),
		GeoJSON:  FeatureCollection{Type: "FeatureCollection", Features: []Feature{}},
	}
	var bounds *Bounds
	include := func(g model.GeoPoint) {
		if bounds == nil {
			bounds = &Bounds{South: g.Lat, North: g.Lat, West: g.Lon, East: g.Lon}
			return
		}
		bounds.extend(g)
	}

	if doc.Depot != nil && doc.Depot.Location != nil {
		include(*doc.Depot.Location)
		ov.GeoJSON.Features = append(ov.GeoJSON.Features, pointFeature(*doc.Depot.Location, map[string]any{
			"kind": "depot",
			"id":   doc.Depot.ID,
		}))
	}

	seenVehicle := map[string]bool{}
	seenAmenity := map[string]bool{}
	for i, r := range doc.RefinedRoutes {
		if r.Vehicle != "" && !seenVehicle[r.Vehicle] {
			seenVehicle[r.Vehicle] = true
			ov.Vehicles = append(ov.Vehicles, r.Vehicle)
		}
		label := r.Vehicle
		if label == "" {
			label = "Route " + strconv.Itoa(i+1)
		}
		line := RouteLine{
			Index:   i,
			Vehicle: label,
			Color:   RoutePalette[i%len(RoutePalette)],
			Points:  []model.GeoPoint{},
			Active:  selected == AllVehicles || selected == label,
		}
		for j, s := range r.Sequence {
			if s.Location == nil {
				continue
			}
			line.Points = append(line.Points, *s.Location)
			if !line.Active {
				continue
			}
			include(*s.Location)
			name := s.ID
			if name == "" {
				name = "Stop " + strconv.Itoa(j+1)
			}
			ov.GeoJSON.Features = append(ov.GeoJSON.Features, pointFeature(*s.Location, map[string]any{
				"kind":    "stop",
				"label":   name,
				"order":   j + 1,
				"vehicle": label,
				"color":   line.Color,
			}))
			ov.GeoJSON.Features = appendAmenities(ov.GeoJSON.Features, "petrol", s.PetrolStations, seenAmenity)
			ov.GeoJSON.Features = appendAmenities(ov.GeoJSON.Features, "repair", s.RepairShops, seenAmenity)
		}
		if line.Active && len(line.Points) >= 2 {
			coords := make([][]float64, 0, len(line.Points))
			for _, p := range line.Points {
				coords = append(coords, []float64{p.Lon, p.Lat})
			}
			ov.GeoJSON.Features = append(ov.GeoJSON.Features, Feature{
				Type:     "Feature",
				Geometry: Geometry{Type: "LineString", Coordinates: coords},
				Properties: map[string]any{
					"kind":    "route",
					"vehicle": label,
					"color":   line.Color,
				},
			})
		}
		ov.Lines = append(ov.Lines, line)
	}
	ov.Bounds = bounds
	return ov
}

func appendAmenities(fs []Feature, kind string, set model.AmenitySet, seen map[string]bool) []Feature {
	for _, a := range set.Items {
		if a.Location == nil {
			continue
		}
		key := kind + "|" + coordKey(*a.Location)
		if seen[key] {
			continue
		}
		seen[key] = true
		props := map[string]any{"kind": kind}
		if a.Name != "" {
			props["name"] = a.Name
		}
		if a.ID != "" {
			props["id"] = a.ID
		}
		fs = append(fs, pointFeature(*a.Location, props))
	}
	return fs
}
