package analytics

import "strings"

// NameValue is one slice of a categorical chart.
type NameValue struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type ScatterPoint struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Label string  `json:"label"`
}

type AmenityCounts struct {
	Vehicle      string `json:"vehicle"`
	FuelStations int    `json:"fuelStations"`
	RepairShops  int    `json:"repairShops"`
}

type LevelCount struct {
	Level string `json:"level"`
	Count int    `json:"count"`
}

type StopsDistance struct {
	Stops    int     `json:"stops"`
	Distance float64 `json:"distance"`
	Vehicle  string  `json:"vehicle"`
}

type DurationPair struct {
	Route       string  `json:"route"`
	NormalMins  float64 `json:"normal_mins"`
	TrafficMins float64 `json:"traffic_mins"`
}

// Charts are flat series for presentation. Every series except ActiveVsIdle
// is built from the filtered refined routes.
type Charts struct {
	ActiveVsIdle       []NameValue     `json:"activeVsIdle"`
	DistanceVsFuel     []ScatterPoint  `json:"distanceVsFuel"`
	FuelVsRepair       []AmenityCounts `json:"fuelVsRepairByRoute"`
	EcoDistribution    []NameValue     `json:"ecoDistribution"`
	TrafficCounts      []LevelCount    `json:"trafficCounts"`
	StopsVsDistance    []StopsDistance `json:"stopsVsDistance"`
	DurationComparison []DurationPair  `json:"durationComparison"`
}

func BuildCharts(base FleetBaseKpis, routes RouteKpis) Charts {
	f := routes.Filtered
	c := Charts{
		ActiveVsIdle: []NameValue{
			{Name: "Active", Value: base.ActiveVehicles},
			{Name: "Idle", Value: base.IdleVehicles},
		},
		DistanceVsFuel:     make([]ScatterPoint, 0, len(f)),
		FuelVsRepair:       make([]AmenityCounts, 0, len(f)),
		TrafficCounts:      []LevelCount{},
		StopsVsDistance:    make([]StopsDistance, 0, len(f)),
		DurationComparison: make([]DurationPair, 0, len(f)),
	}
	var high, medium, low, na int
	trafficIdx := map[string]int{}
	for _, r := range f {
		c.DistanceVsFuel = append(c.DistanceVsFuel, ScatterPoint{X: r.DistanceKm, Y: r.FuelL, Label: r.Vehicle})
		c.FuelVsRepair = append(c.FuelVsRepair, AmenityCounts{Vehicle: r.Vehicle, FuelStations: r.FuelStations, RepairShops: r.RepairShops})
		c.StopsVsDistance = append(c.StopsVsDistance, StopsDistance{Stops: r.Stops, Distance: r.DistanceKm, Vehicle: r.Vehicle})
		c.DurationComparison = append(c.DurationComparison, DurationPair{
			Route:       r.Vehicle,
			NormalMins:  r.NormalSecs / 60,
			TrafficMins: r.TrafficSecs / 60,
		})

		eco := ""
		if r.EcoScore != nil {
			eco = strings.ToLower(*r.EcoScore)
		}
		switch eco {
		case "high":
			high++
		case "medium":
			medium++
		case "low":
			low++
		default:
			na++
		}

		// first-seen order
		if i, ok := trafficIdx[r.TrafficLevel]; ok {
			c.TrafficCounts[i].Count++
		} else {
			trafficIdx[r.TrafficLevel] = len(c.TrafficCounts)
			c.TrafficCounts = append(c.TrafficCounts, LevelCount{Level: r.TrafficLevel, Count: 1})
		}
	}
	c.EcoDistribution = []NameValue{
		{Name: "High", Value: high},
		{Name: "Medium", Value: medium},
		{Name: "Low", Value: low},
		{Name: "N/A", Value: na},
	}
	return c
}
