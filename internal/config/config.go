package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

type Config struct {
	Port          string
	DBPath        string
	Password      string
	RefDataPath   string
	GeoIPPath     string
	FlushInterval time.Duration
	BufferSize    int
	GeoCacheSize  int
	PageSize      int
	MaxRows       int
	Location      *time.Location
	// EventsDBURL points the event reader at an external Postgres log.
	EventsDBURL string
	// EventsPageLimit is the external store's per-request row limit, 0 for none.
	EventsPageLimit      int
	BlockDatacenters     bool
	AttributionOverwrite bool
}

func Load() (*Config, error) {
	password := os.Getenv("LEADTRACE_PASSWORD")
	if password == "" {
		return nil, fmt.Errorf("LEADTRACE_PASSWORD is required")
	}

	tz := envOrDefault("LEADTRACE_TIMEZONE", "America/New_York")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("LEADTRACE_TIMEZONE: %w", err)
	}

	cfg := &Config{
		Port:                 envOrDefault("LEADTRACE_PORT", "8080"),
		DBPath:               envOrDefault("LEADTRACE_DB_PATH", "./leadtrace.db"),
		Password:             password,
		RefDataPath:          envOrDefault("LEADTRACE_REFDATA_PATH", "./refdata.yaml"),
		GeoIPPath:            os.Getenv("LEADTRACE_GEOIP_PATH"),
		FlushInterval:        parseDuration("LEADTRACE_FLUSH_INTERVAL", 30*time.Second),
		BufferSize:           parseInt("LEADTRACE_BUFFER_SIZE", 50000),
		GeoCacheSize:         parseInt("LEADTRACE_GEO_CACHE_SIZE", 10000),
		PageSize:             parseInt("LEADTRACE_PAGE_SIZE", 1000),
		MaxRows:              parseInt("LEADTRACE_MAX_ROWS", 200000),
		Location:             loc,
		EventsDBURL:          os.Getenv("LEADTRACE_EVENTS_DB_URL"),
		EventsPageLimit:      parseInt("LEADTRACE_EVENTS_PAGE_LIMIT", 0),
		BlockDatacenters:     parseBool("LEADTRACE_BLOCK_DATACENTERS", false),
		AttributionOverwrite: parseBool("LEADTRACE_ATTRIBUTION_OVERWRITE", false),
	}

	if cfg.FlushInterval <= 0 {
		return nil, fmt.Errorf("LEADTRACE_FLUSH_INTERVAL must be positive")
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("LEADTRACE_BUFFER_SIZE must be positive")
	}
	if cfg.GeoCacheSize <= 0 {
		return nil, fmt.Errorf("LEADTRACE_GEO_CACHE_SIZE must be positive")
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("LEADTRACE_PAGE_SIZE must be positive")
	}
	if cfg.EventsPageLimit < 0 {
		return nil, fmt.Errorf("LEADTRACE_EVENTS_PAGE_LIMIT must not be negative")
	}
	if cfg.MaxRows < cfg.PageSize {
		return nil, fmt.Errorf("LEADTRACE_MAX_ROWS must be at least LEADTRACE_PAGE_SIZE")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
