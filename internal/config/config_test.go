package config

import (
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LEADTRACE_PASSWORD", "LEADTRACE_PORT", "LEADTRACE_DB_PATH", "LEADTRACE_REFDATA_PATH",
		"LEADTRACE_GEOIP_PATH", "LEADTRACE_FLUSH_INTERVAL", "LEADTRACE_BUFFER_SIZE",
		"LEADTRACE_GEO_CACHE_SIZE", "LEADTRACE_PAGE_SIZE", "LEADTRACE_MAX_ROWS",
		"LEADTRACE_TIMEZONE", "LEADTRACE_EVENTS_DB_URL", "LEADTRACE_BLOCK_DATACENTERS",
		"LEADTRACE_ATTRIBUTION_OVERWRITE", "LEADTRACE_EVENTS_PAGE_LIMIT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_MinimalValid(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEADTRACE_PASSWORD", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %q, want %q", cfg.Port, "8080")
	}
	if cfg.DBPath != "./leadtrace.db" {
		t.Errorf("dbpath = %q, want %q", cfg.DBPath, "./leadtrace.db")
	}
	if cfg.RefDataPath != "./refdata.yaml" {
		t.Errorf("refdata path = %q", cfg.RefDataPath)
	}
	if cfg.FlushInterval != 30*time.Second {
		t.Errorf("flush interval = %v, want %v", cfg.FlushInterval, 30*time.Second)
	}
	if cfg.BufferSize != 50000 {
		t.Errorf("buffer size = %d, want %d", cfg.BufferSize, 50000)
	}
	if cfg.PageSize != 1000 || cfg.MaxRows != 200000 {
		t.Errorf("page size/max rows = %d/%d, want 1000/200000", cfg.PageSize, cfg.MaxRows)
	}
	if cfg.Location.String() != "America/New_York" {
		t.Errorf("location = %v, want America/New_York", cfg.Location)
	}
	if cfg.BlockDatacenters || cfg.AttributionOverwrite || cfg.EventsDBURL != "" || cfg.EventsPageLimit != 0 {
		t.Errorf("optional features should default off: %+v", cfg)
	}
}

func TestLoad_AllFieldsOverridden(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEADTRACE_PASSWORD", "s3cret")
	t.Setenv("LEADTRACE_PORT", "9090")
	t.Setenv("LEADTRACE_DB_PATH", "/tmp/test.db")
	t.Setenv("LEADTRACE_REFDATA_PATH", "/etc/leadtrace/refdata.yaml")
	t.Setenv("LEADTRACE_GEOIP_PATH", "/data/geo.mmdb")
	t.Setenv("LEADTRACE_FLUSH_INTERVAL", "10s")
	t.Setenv("LEADTRACE_BUFFER_SIZE", "500")
	t.Setenv("LEADTRACE_GEO_CACHE_SIZE", "200")
	t.Setenv("LEADTRACE_PAGE_SIZE", "250")
	t.Setenv("LEADTRACE_MAX_ROWS", "5000")
	t.Setenv("LEADTRACE_TIMEZONE", "America/Chicago")
	t.Setenv("LEADTRACE_EVENTS_DB_URL", "postgres://localhost/events")
	t.Setenv("LEADTRACE_BLOCK_DATACENTERS", "true")
	t.Setenv("LEADTRACE_ATTRIBUTION_OVERWRITE", "1")
	t.Setenv("LEADTRACE_EVENTS_PAGE_LIMIT", "100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "9090" || cfg.DBPath != "/tmp/test.db" || cfg.GeoIPPath != "/data/geo.mmdb" {
		t.Errorf("paths = %+v", cfg)
	}
	if cfg.RefDataPath != "/etc/leadtrace/refdata.yaml" {
		t.Errorf("refdata path = %q", cfg.RefDataPath)
	}
	if cfg.FlushInterval != 10*time.Second || cfg.BufferSize != 500 || cfg.GeoCacheSize != 200 {
		t.Errorf("collector settings = %v/%d/%d", cfg.FlushInterval, cfg.BufferSize, cfg.GeoCacheSize)
	}
	if cfg.PageSize != 250 || cfg.MaxRows != 5000 {
		t.Errorf("page size/max rows = %d/%d", cfg.PageSize, cfg.MaxRows)
	}
	if cfg.Location.String() != "America/Chicago" {
		t.Errorf("location = %v", cfg.Location)
	}
	if !cfg.BlockDatacenters || !cfg.AttributionOverwrite || cfg.EventsDBURL == "" {
		t.Errorf("optional features not enabled: %+v", cfg)
	}
	if cfg.EventsPageLimit != 100 {
		t.Errorf("events page limit = %d, want 100", cfg.EventsPageLimit)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing password", map[string]string{}, "LEADTRACE_PASSWORD"},
		{"bad timezone", map[string]string{"LEADTRACE_TIMEZONE": "Mars/Olympus"}, "LEADTRACE_TIMEZONE"},
		{"zero flush", map[string]string{"LEADTRACE_FLUSH_INTERVAL": "0s"}, "LEADTRACE_FLUSH_INTERVAL"},
		{"negative buffer", map[string]string{"LEADTRACE_BUFFER_SIZE": "-1"}, "LEADTRACE_BUFFER_SIZE"},
		{"zero geo cache", map[string]string{"LEADTRACE_GEO_CACHE_SIZE": "0"}, "LEADTRACE_GEO_CACHE_SIZE"},
		{"zero page size", map[string]string{"LEADTRACE_PAGE_SIZE": "0"}, "LEADTRACE_PAGE_SIZE"},
		{"negative events page limit", map[string]string{"LEADTRACE_EVENTS_PAGE_LIMIT": "-5"}, "LEADTRACE_EVENTS_PAGE_LIMIT"},
		{"cap below page", map[string]string{"LEADTRACE_PAGE_SIZE": "1000", "LEADTRACE_MAX_ROWS": "10"}, "LEADTRACE_MAX_ROWS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if tt.name != "missing password" {
				t.Setenv("LEADTRACE_PASSWORD", "secret")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEADTRACE_PASSWORD", "secret")
	t.Setenv("LEADTRACE_BUFFER_SIZE", "lots")
	t.Setenv("LEADTRACE_FLUSH_INTERVAL", "soon")
	t.Setenv("LEADTRACE_BLOCK_DATACENTERS", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BufferSize != 50000 || cfg.FlushInterval != 30*time.Second || cfg.BlockDatacenters {
		t.Errorf("fallbacks not applied: %+v", cfg)
	}
}
