package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Import.ChunkSize != 1000 || cfg.Warehouse.BatchSize != 500 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestValidate_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "bad_kind", mutate: func(c *Config) { c.Storage.Kind = "oracle" }, want: "Storage.Kind"},
		{name: "empty_dsn", mutate: func(c *Config) { c.Storage.DSN = "" }, want: "Storage.DSN"},
		{name: "zero_chunk", mutate: func(c *Config) { c.Import.ChunkSize = 0 }, want: "ChunkSize"},
		{name: "pubsub_without_project", mutate: func(c *Config) { c.Queue.Kind = "pubsub" }, want: "Queue.Project"},
		{name: "redis_lock_without_addr", mutate: func(c *Config) { c.Lock.Kind = "redis"; c.Redis.Addr = "" }, want: "Redis.Addr"},
		{name: "bad_clock", mutate: func(c *Config) { c.Schedule.DailyAt = "25:99" }, want: "DailyAt"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	var v struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":"90s","b":2}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.A.Duration != 90*time.Second || v.B.Duration != 2*time.Second {
		t.Fatalf("got %v / %v", v.A, v.B)
	}
	if err := json.Unmarshal([]byte(`{"a":"soon"}`), &v); err == nil {
		t.Fatalf("want error for bad duration")
	}
}

func TestApplyEnv_Overrides(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"PRICEETL_STORAGE_KIND": "postgres",
		"PRICEETL_STORAGE_DSN":  "postgres://u@h/db",
		"PRICEETL_CHUNK_SIZE":   "250",
		"METRICS_TAGS":          "env:ci, ,service:priceetl",
	}
	cfg := Default()
	if err := applyEnv(&cfg, func(k string) string { return env[k] }); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Storage.Kind != "postgres" || cfg.Storage.DSN != "postgres://u@h/db" {
		t.Fatalf("storage=%+v", cfg.Storage)
	}
	if cfg.Import.ChunkSize != 250 {
		t.Fatalf("chunk=%d", cfg.Import.ChunkSize)
	}
	if len(cfg.Metrics.Tags) != 2 {
		t.Fatalf("tags=%v", cfg.Metrics.Tags)
	}

	bad := Default()
	if err := applyEnv(&bad, func(k string) string {
		if k == "PRICEETL_CHUNK_SIZE" {
			return "many"
		}
		return ""
	}); err == nil {
		t.Fatalf("want error for non-numeric chunk size")
	}
}

// Not parallel: Load reads the process environment.
func TestLoad_FileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "priceetl.json")
	body := `{"storage":{"kind":"sqlite","dsn":"` + filepath.ToSlash(filepath.Join(dir, "x.db")) + `"},
	          "warehouse":{"batch_size":50,"incremental_lookback":"48h"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("PRICEETL_EXPORT_DIR", filepath.Join(dir, "out"))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Warehouse.BatchSize != 50 || cfg.Warehouse.IncrementalLookback.Duration != 48*time.Hour {
		t.Fatalf("warehouse=%+v", cfg.Warehouse)
	}
	if cfg.Import.ChunkSize != 1000 {
		t.Fatalf("default chunk lost: %d", cfg.Import.ChunkSize)
	}
	if cfg.Export.Dir != filepath.Join(dir, "out") {
		t.Fatalf("export dir=%q", cfg.Export.Dir)
	}

	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("want error for missing file")
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	h, m, err := ParseClock("02:30")
	if err != nil || h != 2 || m != 30 {
		t.Fatalf("got %d:%d err=%v", h, m, err)
	}
	if _, _, err := ParseClock("2pm"); err == nil {
		t.Fatalf("want error")
	}
}
