// Package config loads and validates application configuration from
// environment variables, with optional .env file support for local runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the milelog daemon.
// Values are populated by Load from environment variables.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Defaults to "8080".
	Port string

	// LogLevel controls the minimum log level. Defaults to "info".
	// Valid values: debug, info, warn, error.
	LogLevel string

	// CORSOrigins is the list of allowed cross-origin request origins.
	// Set CORS_ORIGINS to a comma-separated list to override.
	CORSOrigins []string

	// UserID is the account all locally recorded trips belong to.
	// Defaults to "local" for single-user offline installs.
	UserID string

	// DBPath is the path of the local SQLite database file.
	DBPath string

	// RemoteDatabaseURL is the Postgres connection string for the
	// authoritative remote trip store. Empty means offline-only mode:
	// trips are recorded locally and sync operations accumulate in the
	// offline queue until a URL is configured.
	RemoteDatabaseURL string

	// NATSURL is the NATS server delivering geo samples. Empty disables
	// the NATS sample source.
	NATSURL string

	// GeocoderURL is the base URL of a reverse-geocoding service.
	// Empty means addresses fall back to "lat, lon" strings.
	GeocoderURL string

	// DrivingSpeedMPH is the minimum speed interpreted as driving.
	DrivingSpeedMPH float64

	// StationaryDuration is how long speed must stay below the driving
	// threshold before an active trip is considered finished.
	StationaryDuration time.Duration

	// MinTripMiles is the minimum distance a completed trip must cover to
	// be saved. Zero means save everything.
	MinTripMiles float64

	// WatchdogInterval re-checks stationary completion when no samples
	// arrive at all (e.g. airplane mode). Zero disables the watchdog and
	// trips complete only on receipt of a new low-speed sample.
	WatchdogInterval time.Duration

	// SyncStartupDelay defers the first full sync so it never slows
	// process startup. SyncInterval schedules the periodic cycles after it.
	SyncStartupDelay time.Duration
	SyncInterval     time.Duration
}

// Load reads configuration from the environment (and a .env file when
// present) and returns a Config. Returns an error listing any values that
// fail to parse or validate.
func Load() (Config, error) {
	// Missing .env is fine — the environment is authoritative.
	_ = godotenv.Load()

	cfg := Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSOrigins: splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		UserID:      getEnv("USER_ID", "local"),

		DBPath:            getEnv("DB_PATH", "milelog.db"),
		RemoteDatabaseURL: os.Getenv("REMOTE_DATABASE_URL"),
		NATSURL:           os.Getenv("NATS_URL"),
		GeocoderURL:       os.Getenv("GEOCODER_URL"),
	}

	var errs []string

	cfg.DrivingSpeedMPH = getEnvFloat("DRIVING_SPEED_MPH", 5, &errs)
	cfg.MinTripMiles = getEnvFloat("MIN_TRIP_MILES", 0, &errs)
	cfg.StationaryDuration = getEnvDuration("STATIONARY_DURATION", 3*time.Minute, &errs)
	cfg.WatchdogInterval = getEnvDuration("WATCHDOG_INTERVAL", 0, &errs)
	cfg.SyncStartupDelay = getEnvDuration("SYNC_STARTUP_DELAY", 10*time.Second, &errs)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 15*time.Minute, &errs)

	if cfg.DrivingSpeedMPH <= 0 {
		errs = append(errs, "DRIVING_SPEED_MPH must be positive")
	}
	if cfg.StationaryDuration <= 0 {
		errs = append(errs, "STATIONARY_DURATION must be positive")
	}
	if cfg.SyncInterval <= 0 {
		errs = append(errs, "SYNC_INTERVAL must be positive")
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// getEnv returns the value of the environment variable named by key,
// or fallback if the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvFloat parses a float environment variable, appending to errs on a
// malformed value.
func getEnvFloat(key string, fallback float64, errs *[]string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return fallback
	}
	return f
}

// getEnvDuration parses a duration environment variable ("90s", "3m", ...),
// appending to errs on a malformed value.
func getEnvDuration(key string, fallback time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return fallback
	}
	return d
}

// splitCSV splits a comma-separated string into a trimmed slice, ignoring empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}
