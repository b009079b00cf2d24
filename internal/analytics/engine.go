package analytics

import "vrpdash/internal/model"

// Dashboard is the complete derived view of one route document.
type Dashboard struct {
	Filter    string        `json:"filter"`
	FleetBase FleetBaseKpis `json:"baseKpis"`
	Routes    RouteKpis     `json:"genaiKpis"`
	Amenity   AmenityKpis   `json:"amenityKpis"`
	Charts    Charts        `json:"charts"`
}

// Engine binds a scoring policy and presentation options. The zero value is
// not useful; use NewEngine.
type Engine struct {
	Policy  Policy
	Options Options
}

func NewEngine(p Policy, opts Options) *Engine {
	return &Engine{Policy: p, Options: opts}
}

// Compute runs the full pipeline. It is deterministic and does not retain or
// modify doc; call it again whenever the document or filter changes.
func (e *Engine) Compute(doc model.RouteDocument, filter string) Dashboard {
	base := ComputeFleetBase(doc.SolverVehicles, filter, e.Options)
	routes := ComputeRouteKpis(doc.RefinedRoutes, doc.Depot, filter, e.Policy)
	amenity := ComputeAmenity(routes.Routes, routes.Filtered, doc.Depot, e.Policy)
	return Dashboard{
		Filter:    filter,
		FleetBase: base,
		Routes:    routes,
		Amenity:   amenity,
		Charts:    BuildCharts(base, routes),
	}
}
