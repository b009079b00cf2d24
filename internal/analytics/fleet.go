package analytics

import (
	"strings"

	"vrpdash/internal/model"
)

// VehicleRow is one solver vehicle in the fleet table.
type VehicleRow struct {
	VehicleID  string  `json:"vehicle_id"`
	DistanceKm float64 `json:"distance_km"`
	FuelL      float64 `json:"fuel_l"`
	FuelCost   float64 `json:"fuel_cost"`
	Load       float64 `json:"load"`
	Stops      int     `json:"stops"`
	IsActive   bool    `json:"isActive"`
}

// FleetBaseKpis aggregates the first-pass solver output. Totals always cover
// the whole fleet; only FilteredByVehicle reflects the vehicle filter.
type FleetBaseKpis struct {
	TotalVehicles     int          `json:"totalVehicles"`
	ActiveVehicles    int          `json:"activeVehicles"`
	IdleVehicles      int          `json:"idleVehicles"`
	TotalDistanceKm   float64      `json:"totalDistance"`
	TotalFuelUsedL    float64      `json:"totalFuelUsed"`
	TotalFuelCost     float64      `json:"totalFuelCost"`
	TotalLoad         float64      `json:"totalLoad"`
	ByVehicle         []VehicleRow `json:"byVehicle"`
	FilteredByVehicle []VehicleRow `json:"filteredByVehicle"`
}

func ComputeFleetBase(vehicles []model.SolverVehicle, filter string, opts Options) FleetBaseKpis {
	k := FleetBaseKpis{
		TotalVehicles:     len(vehicles),
		ByVehicle:         make([]VehicleRow, 0, len(vehicles)),
		FilteredByVehicle: []VehicleRow{},
	}
	for _, v := range vehicles {
		row := VehicleRow{
			VehicleID:  v.VehicleID,
			DistanceKm: v.TotalDistanceKm,
			FuelL:      v.FuelUsedL,
			FuelCost:   v.FuelCost,
			Load:       v.Load,
			Stops:      len(v.Route),
			IsActive:   v.Active(),
		}
		if row.IsActive {
			k.ActiveVehicles++
		}
		k.TotalDistanceKm += row.DistanceKm
		k.TotalFuelUsedL += row.FuelL
		k.TotalFuelCost += row.FuelCost
		k.TotalLoad += row.Load
		k.ByVehicle = append(k.ByVehicle, row)
		if matchVehicle(row.VehicleID, filter, opts.CaseSensitiveVehicleFilter) {
			k.FilteredByVehicle = append(k.FilteredByVehicle, row)
		}
	}
	k.IdleVehicles = k.TotalVehicles - k.ActiveVehicles
	k.TotalDistanceKm = Finite(k.TotalDistanceKm)
	k.TotalFuelUsedL = Finite(k.TotalFuelUsedL)
	k.TotalFuelCost = Finite(k.TotalFuelCost)
	k.TotalLoad = Finite(k.TotalLoad)
	return k
}

// matchVehicle reports whether id contains filter. An empty filter matches all.
func matchVehicle(id, filter string, caseSensitive bool) bool {
	if filter == "" {
		return true
	}
	if caseSensitive {
		return strings.Contains(id, filter)
	}
	return strings.Contains(strings.ToLower(id), strings.ToLower(filter))
}
