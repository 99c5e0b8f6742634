package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ContentDir       string
	AnonTemplateDir  string
	NamedTemplateDir string
	AutosaveDelay    time.Duration
	AnonTTL          time.Duration
	GCInterval       time.Duration
	GitEmail         string
	PrettierCommand  []string
	MigrationsDir    string
	MetricsAddr      string
	// Logging
	LogLevel  string
	LogFormat string
	// Optional backends; empty disables them.
	RedisURL    string
	DatabaseURL string
}

func Load() Config {
	return Config{
		ContentDir:       getenv("LIVEDIT_CONTENT_DIR", "./content"),
		AnonTemplateDir:  getenv("LIVEDIT_ANON_TEMPLATE_DIR", "./content/anonymous"),
		NamedTemplateDir: getenv("LIVEDIT_NAMED_TEMPLATE_DIR", "./content/testuser"),
		AutosaveDelay:    time.Duration(getenvInt("LIVEDIT_AUTOSAVE_DELAY_MS", 5000)) * time.Millisecond,
		AnonTTL:          DaysToTTL(getenvInt("LIVEDIT_ANON_TTL_DAYS", 1)),
		GCInterval:       time.Duration(getenvInt("LIVEDIT_GC_INTERVAL_SECONDS", 60)) * time.Second,
		GitEmail:         getenv("LIVEDIT_GIT_EMAIL", "actions@browsertests.local"),
		PrettierCommand:  strings.Fields(getenv("LIVEDIT_PRETTIER_CMD", "npx prettier --write")),
		MigrationsDir:    getenv("LIVEDIT_MIGRATIONS_DIR", "./db/migrations"),
		MetricsAddr:      getenv("METRICS_ADDR", ":9464"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogFormat:        getenv("LOG_FORMAT", "json"),
		RedisURL:         getenv("REDIS_URL", ""),
		DatabaseURL:      getenv("DATABASE_URL", ""),
	}
}

// DaysToTTL converts a day count into an anonymous workspace lifetime.
// Zero days means test mode: ten seconds.
func DaysToTTL(days int) time.Duration {
	if days < 0 {
		days = 0
	}
	if days == 0 {
		return 10 * time.Second
	}
	return time.Duration(days) * 24 * time.Hour
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
