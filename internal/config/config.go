package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/IZEUS01/Exfil-Guard/internal/model"
)

// Config is the environment-driven configuration snapshot for the detection
// core. Defaults mirror the shipped product: 1000 retained events, 7-day
// retention with hourly cleanup, badge capped at 99, alerts from medium up.
type Config struct {
	HTTPAddr  string
	NATSURL   string
	RulesURL  string
	RulesFile string
	KVBucket  string

	MaxEvents       int
	CleanupAge      time.Duration
	CleanupInterval time.Duration

	BadgeCap         int
	StoreMinSeverity model.Severity
	AlertMinSeverity model.Severity
	AlertTimeout     time.Duration
	MaxAlerts        int

	HotReload bool
	Debounce  time.Duration
}

// FromEnv loads the configuration from environment variables with defaults.
func FromEnv() *Config {
	return &Config{
		HTTPAddr:  getEnv("EXFILGUARD_HTTP_ADDR", ":8080"),
		NATSURL:   getEnv("EXFILGUARD_NATS_URL", "nats://localhost:4222"),
		RulesURL:  getEnv("EXFILGUARD_RULES_URL", ""),
		RulesFile: getEnv("EXFILGUARD_RULES_FILE", ""),
		KVBucket:  getEnv("EXFILGUARD_KV_BUCKET", "exfilguard"),

		MaxEvents:       getEnvInt("EXFILGUARD_MAX_EVENTS", 1000),
		CleanupAge:      time.Duration(getEnvInt("EXFILGUARD_CLEANUP_DAYS", 7)) * 24 * time.Hour,
		CleanupInterval: getEnvDuration("EXFILGUARD_CLEANUP_INTERVAL", time.Hour),

		BadgeCap:         getEnvInt("EXFILGUARD_BADGE_CAP", 99),
		StoreMinSeverity: model.ParseSeverity(getEnv("EXFILGUARD_STORE_MIN_SEVERITY", "low")),
		AlertMinSeverity: model.ParseSeverity(getEnv("EXFILGUARD_ALERT_MIN_SEVERITY", "medium")),
		AlertTimeout:     getEnvDuration("EXFILGUARD_ALERT_TIMEOUT", 6*time.Second),
		MaxAlerts:        getEnvInt("EXFILGUARD_MAX_ALERTS", 3),

		HotReload: getEnvBool("EXFILGUARD_HOT_RELOAD", false),
		Debounce:  time.Duration(getEnvInt("EXFILGUARD_DEBOUNCE_MS", 500)) * time.Millisecond,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.EqualFold(value, "true") || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
