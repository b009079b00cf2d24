package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrpdash/internal/analytics"
)

func lookup(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	c, err := FromEnv(lookup(nil))
	require.NoError(t, err)
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, "dev", c.Auth.Mode)
	assert.Equal(t, "tenant", c.Auth.TenantClaim)
	assert.Equal(t, 8, c.WebhookMaxAttempts)
	assert.Equal(t, 65.0, c.FuelRiskAlertThreshold)
	assert.True(t, c.Options.CaseSensitiveVehicleFilter)
	assert.Equal(t, analytics.DefaultPolicy(), c.Policy)
	assert.Equal(t, "memory", c.Public()["store"])
}

func TestFromEnvOverrides(t *testing.T) {
	c, err := FromEnv(lookup(map[string]string{
		"PORT":                          "9000",
		"DATABASE_URL":                  "postgres://x",
		"DB_MIGRATE":                    "true",
		"REDIS_URL":                     "redis://localhost:6379/0",
		"AUTH_MODE":                     "hmac",
		"AUTH_HMAC_SECRET":              "s",
		"RATE_RPS":                      "0",
		"RATE_BURST":                    "5",
		"VRP_BACKEND_URL":               "http://backend:8000/",
		"VEHICLE_FILTER_CASE_SENSITIVE": "false",
	}))
	require.NoError(t, err)
	assert.Equal(t, "9000", c.Port)
	assert.True(t, c.DBMigrate)
	assert.Equal(t, "hmac", c.Auth.Mode)
	assert.Equal(t, 0.0, c.RateRPS)
	assert.Equal(t, 5, c.RateBurst)
	assert.Equal(t, "http://backend:8000", c.BackendURL)
	assert.False(t, c.Options.CaseSensitiveVehicleFilter)

	pub := c.Public()
	assert.Equal(t, "postgres", pub["store"])
	assert.Equal(t, "redis", pub["broker"])
	assert.NotContains(t, pub, "hmacSecret")
}

func TestFromEnvRejectsBadNumbers(t *testing.T) {
	_, err := FromEnv(lookup(map[string]string{"RATE_BURST": "lots"}))
	assert.ErrorContains(t, err, "RATE_BURST")
}

func TestParsePolicyOverlaysDefaults(t *testing.T) {
	p, err := ParsePolicy([]byte("assumed_speed_kmph: 60\nfuel_risk:\n  nearby_km: 2\nrisk_bands:\n  high: 80\n"))
	require.NoError(t, err)
	assert.Equal(t, 60.0, p.AssumedSpeedKmph)
	assert.Equal(t, 2.0, p.FuelRisk.NearbyKm)
	assert.Equal(t, 50.0, p.FuelRisk.MedianCap)
	assert.Equal(t, 80.0, p.RiskBands.High)
	assert.Equal(t, 35.0, p.RiskBands.Medium)
	assert.Equal(t, 0.8, p.AvgCostPerKm)
}

func TestParsePolicyValidates(t *testing.T) {
	_, err := ParsePolicy([]byte("fallback_speed_kmph: 0\n"))
	assert.ErrorIs(t, err, analytics.ErrInvalidPolicy)

	_, err = ParsePolicy([]byte("fuel_risk: [1, 2]\n"))
	assert.Error(t, err)
}

func TestLoadPolicyFile(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, analytics.DefaultPolicy(), p)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hourly_delay_cost: 45\n"), 0o600))
	p, err = LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 45.0, p.HourlyDelayCost)

	_, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = FromEnv(lookup(map[string]string{"POLICY_FILE": "/nonexistent/policy.yaml"}))
	assert.Error(t, err)
}
