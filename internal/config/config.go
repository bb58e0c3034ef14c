// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Data service settings.
	SupabaseURL        string // Project root URL, e.g. https://abcdefgh.supabase.co
	SupabaseAnonKey    string // Key for the caller-scoped channel.
	SupabaseServiceKey string // Service-role key for the administrative channel; falls back to the anon key when unset.
	SupabaseDBURL      string // Optional direct Postgres URL; enables the direct audit sink.
	SupabaseTimeout    time.Duration

	// CORS settings.
	CORSOrigins []string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:               envInt("ROSTER_PORT", 3001),
		ReadTimeout:        envDuration("ROSTER_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:       envDuration("ROSTER_WRITE_TIMEOUT", 30*time.Second),
		SupabaseURL:        envStr("SUPABASE_URL", ""),
		SupabaseAnonKey:    envStr("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: envStr("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabaseDBURL:      envStr("SUPABASE_DB_URL", ""),
		SupabaseTimeout:    envDuration("ROSTER_SUPABASE_TIMEOUT", 30*time.Second),
		CORSOrigins:        envList("ROSTER_CORS_ORIGINS", []string{"http://localhost:8080"}),
		OTELEndpoint:       envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:       envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:        envStr("OTEL_SERVICE_NAME", "roster"),
		LogLevel:           envStr("ROSTER_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.SupabaseURL == "" {
		return fmt.Errorf("config: SUPABASE_URL is required")
	}
	if c.SupabaseAnonKey == "" {
		return fmt.Errorf("config: SUPABASE_ANON_KEY is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: ROSTER_PORT must be a valid port number")
	}
	return nil
}

// ServiceKey returns the key for the administrative channel: the
// service-role key when configured, else the anon key (matching the
// upstream deployment default).
func (c Config) ServiceKey() string {
	if c.SupabaseServiceKey != "" {
		return c.SupabaseServiceKey
	}
	return c.SupabaseAnonKey
}

// HasServiceRoleKey reports whether a dedicated service-role key is
// configured. The testing-only upload endpoint requires one.
func (c Config) HasServiceRoleKey() bool {
	return c.SupabaseServiceKey != ""
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
