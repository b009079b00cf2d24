// Package config reads service settings from the environment (optionally a
// .env file) and the scoring policy from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"vrpdash/internal/analytics"
	"vrpdash/internal/auth"
)

type Config struct {
	Port        string
	DatabaseURL string
	DBMigrate   bool
	RedisURL    string

	Auth auth.Config

	RateRPS   float64
	RateBurst int

	WebhookMaxAttempts     int
	FuelRiskAlertThreshold float64

	BackendURL   string
	BackendToken string

	PolicyFile string
	Policy     analytics.Policy
	Options    analytics.Options
}

// Load reads .env when present, then the environment. An invalid numeric
// value or policy file is an error rather than a silent default.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function so tests can supply a map.
func FromEnv(getenv func(string) string) (Config, error) {
	e := env{get: getenv}
	c := Config{
		Port:        e.str("PORT", "8080"),
		DatabaseURL: e.str("DATABASE_URL", ""),
		DBMigrate:   e.boolean("DB_MIGRATE", false),
		RedisURL:    e.str("REDIS_URL", ""),
		Auth: auth.Config{
			Mode:        e.str("AUTH_MODE", auth.ModeDev),
			HMACSecret:  e.str("AUTH_HMAC_SECRET", ""),
			JWKSURL:     e.str("AUTH_JWKS_URL", ""),
			TenantClaim: e.str("AUTH_TENANT_CLAIM", "tenant"),
			RoleClaim:   e.str("AUTH_ROLE_CLAIM", "role"),
		},
		RateRPS:                e.float("RATE_RPS", 20),
		RateBurst:              e.integer("RATE_BURST", 40),
		WebhookMaxAttempts:     e.integer("WEBHOOK_MAX_ATTEMPTS", 8),
		FuelRiskAlertThreshold: e.float("FUEL_RISK_ALERT_THRESHOLD", 65),
		BackendURL:             strings.TrimRight(e.str("VRP_BACKEND_URL", ""), "/"),
		BackendToken:           e.str("VRP_BACKEND_TOKEN", ""),
		PolicyFile:             e.str("POLICY_FILE", ""),
		Options: analytics.Options{
			CaseSensitiveVehicleFilter: e.boolean("VEHICLE_FILTER_CASE_SENSITIVE", true),
		},
	}
	if e.err != nil {
		return Config{}, e.err
	}
	p, err := LoadPolicy(c.PolicyFile)
	if err != nil {
		return Config{}, err
	}
	c.Policy = p
	return c, nil
}

// LoadPolicy overlays the YAML file at path onto the default policy. An empty
// path returns the defaults.
func LoadPolicy(path string) (analytics.Policy, error) {
	p := analytics.DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("load policy %q: %w", path, err)
	}
	return ParsePolicy(data)
}

func ParsePolicy(data []byte) (analytics.Policy, error) {
	p := analytics.DefaultPolicy()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// env collects the first parse error so Load can report it once.
type env struct {
	get func(string) string
	err error
}

func (e *env) str(k, d string) string {
	if v := strings.TrimSpace(e.get(k)); v != "" {
		return v
	}
	return d
}

func (e *env) float(k string, d float64) float64 {
	v := strings.TrimSpace(e.get(k))
	if v == "" {
		return d
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(k, v, err)
		return d
	}
	return f
}

func (e *env) integer(k string, d int) int {
	v := strings.TrimSpace(e.get(k))
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(k, v, err)
		return d
	}
	return n
}

func (e *env) boolean(k string, d bool) bool {
	v := strings.TrimSpace(e.get(k))
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(k, v, err)
		return d
	}
	return b
}

func (e *env) fail(k, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("config: %s=%q: %w", k, v, err)
	}
}

// Public returns the settings safe to expose on /debug/info.
func (c Config) Public() map[string]any {
	return map[string]any{
		"port":                   c.Port,
		"store":                  storeKind(c.DatabaseURL),
		"broker":                 brokerKind(c.RedisURL),
		"authMode":               c.Auth.Mode,
		"rateRps":                c.RateRPS,
		"rateBurst":              c.RateBurst,
		"webhookMaxAttempts":     c.WebhookMaxAttempts,
		"fuelRiskAlertThreshold": c.FuelRiskAlertThreshold,
		"backendConfigured":      c.BackendURL != "",
		"policyFile":             c.PolicyFile,
		"caseSensitiveFilter":    c.Options.CaseSensitiveVehicleFilter,
	}
}

func storeKind(dsn string) string {
	if dsn == "" {
		return "memory"
	}
	return "postgres"
}

func brokerKind(url string) string {
	if url == "" {
		return "memory"
	}
	return "redis"
}
