package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetConfig(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(filename, []byte(`
capacity: 20
maxObjectSize: 4096
userAgent: forward-cache-test
upstreamTimeout: 30s
maxConnections: 64
admin: 127.0.0.1:9090
snapshot: cache.db
`), 0644)
	if err != nil {
		t.Fatal(err)
	}

	config, err := getConfig(filename)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	want := Config{
		Capacity:        20,
		MaxObjectSize:   4096,
		UserAgent:       "forward-cache-test",
		UpstreamTimeout: 30 * time.Second,
		MaxConnections:  64,
		Admin:           "127.0.0.1:9090",
		Snapshot:        "cache.db",
	}
	if config != want {
		t.Fatalf("Config is %+v", config)
	}
}

func TestGetConfigMissingFile(t *testing.T) {
	if _, err := getConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Expected error")
	}
}

func TestMergeConfigKeepsDefaults(t *testing.T) {
	base := Config{Capacity: 100, MaxObjectSize: 102400}
	merged := mergeConfig(base, Config{Admin: ":9090"})
	if merged.Capacity != 100 || merged.MaxObjectSize != 102400 || merged.Admin != ":9090" {
		t.Fatalf("Config is %+v", merged)
	}
}
