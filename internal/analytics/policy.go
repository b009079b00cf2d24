package analytics

import (
	"errors"
	"fmt"
)

// Policy holds the tunable heuristics behind the derived metrics. The values
// are business assumptions, not physics, and load from YAML over DefaultPolicy.
type Policy struct {
	AssumedSpeedKmph       float64              `yaml:"assumed_speed_kmph" json:"assumed_speed_kmph"`
	AvgCostPerKm           float64              `yaml:"avg_cost_per_km" json:"avg_cost_per_km"`
	HourlyDelayCost        float64              `yaml:"hourly_delay_cost" json:"hourly_delay_cost"`
	FallbackSpeedKmph      float64              `yaml:"fallback_speed_kmph" json:"fallback_speed_kmph"`
	OnTimeDelayThreshold   float64              `yaml:"on_time_delay_threshold" json:"on_time_delay_threshold"`
	RepairCoverageRadiusKm float64              `yaml:"repair_coverage_radius_km" json:"repair_coverage_radius_km"`
	FuelRisk               FuelRiskWeights      `yaml:"fuel_risk" json:"fuel_risk"`
	Confidence             ConfidenceThresholds `yaml:"confidence" json:"confidence"`
	RiskBands              RiskBands            `yaml:"risk_bands" json:"risk_bands"`
}

// FuelRiskWeights parameterizes the additive fuel risk score.
type FuelRiskWeights struct {
	MedianKmFactor       float64 `yaml:"median_km_factor" json:"median_km_factor"`
	MedianCap            float64 `yaml:"median_cap" json:"median_cap"`
	FuelUsedFactor       float64 `yaml:"fuel_used_factor" json:"fuel_used_factor"`
	FuelUsedCap          float64 `yaml:"fuel_used_cap" json:"fuel_used_cap"`
	SparseNearbyPenalty  float64 `yaml:"sparse_nearby_penalty" json:"sparse_nearby_penalty"`
	SparseNearbyPct      float64 `yaml:"sparse_nearby_pct" json:"sparse_nearby_pct"`
	NearbyKm             float64 `yaml:"nearby_km" json:"nearby_km"`
	CriticalRangeKm      float64 `yaml:"critical_range_km" json:"critical_range_km"`
	CriticalRangePenalty float64 `yaml:"critical_range_penalty" json:"critical_range_penalty"`
	LowRangeKm           float64 `yaml:"low_range_km" json:"low_range_km"`
	LowRangePenalty      float64 `yaml:"low_range_penalty" json:"low_range_penalty"`
	UnknownRangePenalty  float64 `yaml:"unknown_range_penalty" json:"unknown_range_penalty"`
}

// ConfidenceThresholds are distinct-amenity counts at which data becomes ok or rich.
type ConfidenceThresholds struct {
	OK   int `yaml:"ok" json:"ok"`
	Rich int `yaml:"rich" json:"rich"`
}

// RiskBands are the exclusive lower bounds of the medium and high bands.
type RiskBands struct {
	High   float64 `yaml:"high" json:"high"`
	Medium float64 `yaml:"medium" json:"medium"`
}

func DefaultPolicy() Policy {
	return Policy{
		AssumedSpeedKmph:       50,
		AvgCostPerKm:           0.8,
		HourlyDelayCost:        30,
		FallbackSpeedKmph:      40,
		OnTimeDelayThreshold:   0.10,
		RepairCoverageRadiusKm: 10,
		FuelRisk: FuelRiskWeights{
			MedianKmFactor:       10,
			MedianCap:            50,
			FuelUsedFactor:       8,
			FuelUsedCap:          25,
			SparseNearbyPenalty:  15,
			SparseNearbyPct:      50,
			NearbyKm:             1,
			CriticalRangeKm:      20,
			CriticalRangePenalty: 20,
			LowRangeKm:           50,
			LowRangePenalty:      10,
			UnknownRangePenalty:  5,
		},
		Confidence: ConfidenceThresholds{OK: 2, Rich: 4},
		RiskBands:  RiskBands{High: 65, Medium: 35},
	}
}

var ErrInvalidPolicy = errors.New("invalid policy")

// Validate rejects policies that would divide by zero or score backwards.
func (p Policy) Validate() error {
	if p.AssumedSpeedKmph <= 0 {
		return fmt.Errorf("%w: assumed_speed_kmph must be positive", ErrInvalidPolicy)
	}
	if p.FallbackSpeedKmph <= 0 {
		return fmt.Errorf("%w: fallback_speed_kmph must be positive", ErrInvalidPolicy)
	}
	nonNeg := map[string]float64{
		"avg_cost_per_km":                  p.AvgCostPerKm,
		"hourly_delay_cost":                p.HourlyDelayCost,
		"on_time_delay_threshold":          p.OnTimeDelayThreshold,
		"repair_coverage_radius_km":        p.RepairCoverageRadiusKm,
		"fuel_risk.median_km_factor":       p.FuelRisk.MedianKmFactor,
		"fuel_risk.median_cap":             p.FuelRisk.MedianCap,
		"fuel_risk.fuel_used_factor":       p.FuelRisk.FuelUsedFactor,
		"fuel_risk.fuel_used_cap":          p.FuelRisk.FuelUsedCap,
		"fuel_risk.sparse_nearby_penalty":  p.FuelRisk.SparseNearbyPenalty,
		"fuel_risk.sparse_nearby_pct":      p.FuelRisk.SparseNearbyPct,
		"fuel_risk.nearby_km":              p.FuelRisk.NearbyKm,
		"fuel_risk.critical_range_km":      p.FuelRisk.CriticalRangeKm,
		"fuel_risk.critical_range_penalty": p.FuelRisk.CriticalRangePenalty,
		"fuel_risk.low_range_km":           p.FuelRisk.LowRangeKm,
		"fuel_risk.low_range_penalty":      p.FuelRisk.LowRangePenalty,
		"fuel_risk.unknown_range_penalty":  p.FuelRisk.UnknownRangePenalty,
	}
	for name, v := range nonNeg {
		if v < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidPolicy, name)
		}
	}
	if p.FuelRisk.LowRangeKm < p.FuelRisk.CriticalRangeKm {
		return fmt.Errorf("%w: fuel_risk.low_range_km below critical_range_km", ErrInvalidPolicy)
	}
	if p.Confidence.OK < 0 || p.Confidence.Rich < p.Confidence.OK {
		return fmt.Errorf("%w: confidence thresholds must satisfy 0 <= ok <= rich", ErrInvalidPolicy)
	}
	if p.RiskBands.Medium < 0 || p.RiskBands.High < p.RiskBands.Medium {
		return fmt.Errorf("%w: risk bands must satisfy 0 <= medium <= high", ErrInvalidPolicy)
	}
	return nil
}

// Confidence labels.
const (
	ConfidenceSparse = "sparse"
	ConfidenceOK     = "ok"
	ConfidenceRich   = "rich"
)

func (p Policy) confidence(distinct int) string {
	switch {
	case distinct >= p.Confidence.Rich:
		return ConfidenceRich
	case distinct >= p.Confidence.OK:
		return ConfidenceOK
	default:
		return ConfidenceSparse
	}
}

// Risk band labels.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// RiskBand classifies a 0-100 fuel risk score.
func (p Policy) RiskBand(score float64) string {
	switch {
	case score > p.RiskBands.High:
		return RiskHigh
	case score > p.RiskBands.Medium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Options control presentation-only behaviour of the engine.
type Options struct {
	// CaseSensitiveVehicleFilter applies to the solver vehicle table only;
	// refined route filtering is always case-insensitive.
	CaseSensitiveVehicleFilter bool `json:"case_sensitive_vehicle_filter"`
}

func DefaultOptions() Options { return Options{CaseSensitiveVehicleFilter: true} }
