// Package config loads service settings from the environment
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config holds all runtime settings for the server and its tools
type Config struct {
	Port        string
	Environment string
	DatabaseURL string

	// Message bus
	NATSPort int
	NATSURL  string // external NATS; when empty an embedded server is started

	// Upstream analysis service
	AnalysisServiceURL string
	AnalysisTimeout    time.Duration

	// Fan-out and escalation audiences
	NotifyRoles    []string
	EmergencyRoles []string

	// Escalation defaults for system-generated emergencies
	Hotline             string
	ContactName         string
	DefaultLat          float64
	DefaultLon          float64
	DefaultLocationName string

	JWTSecret        string
	IntakeRatePerMin int

	RetentionDays int
	SeedPassword  string
}

// IsProduction reports whether the service runs with production settings
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads .env (if present) and the process environment
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:                getEnv("PORT", "3000"),
		Environment:         getEnv("ENV", "development"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		NATSPort:            getEnvInt("NATS_PORT", 4233),
		NATSURL:             getEnv("NATS_URL", ""),
		AnalysisServiceURL:  getEnv("ANALYSIS_SERVICE_URL", "http://localhost:8000"),
		AnalysisTimeout:     getEnvDuration("ANALYSIS_TIMEOUT", 60*time.Second),
		NotifyRoles:         getEnvList("NOTIFY_ROLES", []string{"police", "admin"}),
		EmergencyRoles:      getEnvList("EMERGENCY_ROLES", []string{"police", "ambulance", "admin"}),
		Hotline:             getEnv("ESCALATION_HOTLINE", "112"),
		ContactName:         getEnv("ESCALATION_CONTACT_NAME", "TrafficGuard AI System"),
		DefaultLat:          getEnvFloat("DEFAULT_LAT", -1.9536),
		DefaultLon:          getEnvFloat("DEFAULT_LON", 30.0606),
		DefaultLocationName: getEnv("DEFAULT_LOCATION_NAME", "Kigali, Rwanda"),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		IntakeRatePerMin:    getEnvInt("INTAKE_RATE_PER_MIN", 120),
		RetentionDays:       getEnvInt("CLEANUP_RETENTION_DAYS", 30),
		SeedPassword:        getEnv("SEED_PASSWORD", ""),
	}

	if cfg.JWTSecret == "" {
		log.Warn("⚠️ JWT_SECRET is not set, using development secret")
		cfg.JWTSecret = "default-dev-secret-change-me"
	}

	return cfg
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal
		}
		log.Warnf("⚠️ Invalid integer for %s: %q, using %d", key, v, defaultVal)
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Warnf("⚠️ Invalid number for %s: %q, using %v", key, v, defaultVal)
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Warnf("⚠️ Invalid duration for %s: %q, using %s", key, v, defaultVal)
	}
	return defaultVal
}

// getEnvList parses a comma separated list, dropping blanks
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
