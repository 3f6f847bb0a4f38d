// Package config provides process configuration for the MIDI bridge.
//
// The mapping itself (targets, rules, scaling) lives in the mapping document
// named by MAPPING_CONFIG; this package only covers how the process runs.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the bridge process.
type Config struct {
	Env string

	// Mapping document
	MappingPath string
	MIDIDevice  string // overrides midiDeviceInput when set

	// Dispatch
	QueueSize     int
	HTTPTimeout   time.Duration
	ShutdownGrace time.Duration

	// Status API
	StatusEnabled bool
	Port          string
	CORSOrigin    string

	// Revision history
	RevisionHistoryEnabled bool
	DatabaseURL            string
}

// Load loads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Env: getEnv("ENV", "development"),

		MappingPath: getEnv("MAPPING_CONFIG", "./oscconfig.json"),
		MIDIDevice:  getEnv("MIDI_DEVICE", ""),

		QueueSize:     getEnvInt("DISPATCH_QUEUE_SIZE", 256),
		HTTPTimeout:   time.Duration(getEnvInt("HTTP_TIMEOUT_MS", 2000)) * time.Millisecond,
		ShutdownGrace: time.Duration(getEnvInt("SHUTDOWN_GRACE_MS", 2000)) * time.Millisecond,

		StatusEnabled: getEnvBool("STATUS_ENABLED", true),
		Port:          getEnv("PORT", "4100"),
		CORSOrigin:    getEnv("CORS_ORIGIN", "http://localhost:3000"),

		RevisionHistoryEnabled: getEnvBool("REVISION_HISTORY_ENABLED", true),
		DatabaseURL:            getEnv("DATABASE_URL", "file:./midibridge.db"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default value.
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
