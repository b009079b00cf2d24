package analytics

import (
	"math"
	"reflect"
	"sort"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"vrpdash/internal/model"
)

func TestGeometryProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	lat := gen.Float64Range(-90, 90)
	lon := gen.Float64Range(-180, 180)

	properties.Property("distance to self is zero", prop.ForAll(
		func(a, b float64) bool { return HaversineKm(a, b, a, b) == 0 },
		lat, lon,
	))
	properties.Property("distance is symmetric", prop.ForAll(
		func(a, b, c, d float64) bool { return HaversineKm(a, b, c, d) == HaversineKm(c, d, a, b) },
		lat, lon, lat, lon,
	))
	properties.Property("distance is bounded by half the circumference", prop.ForAll(
		func(a, b, c, d float64) bool {
			km := HaversineKm(a, b, c, d)
			return km >= 0 && km <= math.Pi*EarthRadiusKm+1e-6
		},
		lat, lon, lat, lon,
	))
	properties.TestingRun(t)
}

func TestStatsProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	values := gen.SliceOf(gen.Float64Range(-1000, 1000))

	properties.Property("median lies between min and max", prop.ForAll(
		func(vs []float64) bool {
			m := Median(vs)
			if len(vs) == 0 {
				return m == nil
			}
			s := append([]float64(nil), vs...)
			sort.Float64s(s)
			return m != nil && *m >= s[0] && *m <= s[len(s)-1]
		},
		values,
	))
	properties.Property("percentWithin is a percentage", prop.ForAll(
		func(vs []float64, k float64) bool {
			p := PercentWithin(vs, k)
			return p >= 0 && p <= 100
		},
		values, gen.Float64Range(-1000, 1000),
	))
	properties.TestingRun(t)
}

// genDocument builds a route document from generated stop offsets and fuel
// figures so the pipeline sees varied amenity layouts.
func genDocument(offsets []float64, fuel float64, dist float64) model.RouteDocument {
	seq := make([]model.SequenceStop, 0, len(offsets))
	for i, o := range offsets {
		seq = append(seq, model.SequenceStop{
			ID:             "S" + strconv.Itoa(i),
			Location:       loc(o, o),
			PetrolStations: amenities(model.Amenity{Location: loc(o+0.01, o)}),
			RepairShops:    amenities(model.Amenity{Location: loc(o, o-0.02)}),
		})
	}
	return model.RouteDocument{
		Depot:          &model.Depot{ID: "D", Location: loc(0, 0)},
		SolverVehicles: []model.SolverVehicle{{VehicleID: "V1", Route: []string{"S0"}, TotalDistanceKm: dist, FuelUsedL: fuel}},
		RefinedRoutes: []model.RefinedRoute{{
			Vehicle:         "V1",
			TotalDistanceKm: dist,
			Sequence:        seq,
			Metrics:         model.RouteMetrics{FuelUsedL: fuel, FuelCost: fuel * 1.7, NormalSecs: f64(dist * 60)},
		}},
	}
}

func TestPipelineProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	e := NewEngine(DefaultPolicy(), DefaultOptions())
	offsets := gen.SliceOf(gen.Float64Range(-1, 1))
	fuel := gen.Float64Range(0, 50)
	dist := gen.Float64Range(0, 500)

	properties.Property("compute is idempotent", prop.ForAll(
		func(o []float64, f, d float64) bool {
			return reflect.DeepEqual(e.Compute(genDocument(o, f, d), "v"), e.Compute(genDocument(o, f, d), "v"))
		},
		offsets, fuel, dist,
	))
	properties.Property("fuel risk stays within 0..100", prop.ForAll(
		func(o []float64, f, d float64) bool {
			for _, m := range e.Compute(genDocument(o, f, d), "").Amenity.PerRoute {
				if m.FuelRiskScore < 0 || m.FuelRiskScore > 100 {
					return false
				}
			}
			return true
		},
		offsets, fuel, dist,
	))
	properties.Property("filter never changes totals", prop.ForAll(
		func(o []float64, f, d float64) bool {
			all := e.Compute(genDocument(o, f, d), "")
			none := e.Compute(genDocument(o, f, d), "zzz")
			return all.FleetBase.TotalFuelUsedL == none.FleetBase.TotalFuelUsedL &&
				all.Routes.TotalStops == none.Routes.TotalStops &&
				reflect.DeepEqual(all.Amenity.AmenitySummary, none.Amenity.AmenitySummary) &&
				len(none.Routes.Filtered) == 0
		},
		offsets, fuel, dist,
	))
	properties.Property("ratios are finite", prop.ForAll(
		func(o []float64, f, d float64) bool {
			for _, m := range e.Compute(genDocument(o, f, d), "").Amenity.PerRoute {
				for _, p := range []*float64{m.FuelPerKm, m.CostPerKm, m.StopsPerHour, m.PerStopContingencyEstimate, m.EstimatedKmRemaining} {
					if p != nil && (math.IsNaN(*p) || math.IsInf(*p, 0)) {
						return false
					}
				}
			}
			return true
		},
		offsets, fuel, dist,
	))
	properties.TestingRun(t)
}
