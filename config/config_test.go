package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"CONFIG_FILE", "HOST", "PORT", "APP_ENV", "DEBUG", "MODE", "PUSH_DISPATCH",
	"CAMERA_SOURCE", "CAMERA_BACKEND", "JPEG_QUALITY", "GATEWAY_DRIVER",
	"DATABASE_URL", "SQLITE_PATH", "USERS_TABLE", "CACHE_TTL", "MATCH_TOLERANCE",
	"MATCH_METRIC", "DOWNSCALE_FACTOR", "CHANNEL_ORDER", "DETECTION_CONFIDENCE",
	"THROTTLE_MODE", "FRAME_MODULUS", "PROCESSING_INTERVAL", "QUEUE_CAPACITY",
	"WORKERS", "ONNXRUNTIME_LIB", "DETECTOR_MODEL", "EMBEDDER_MODEL", "ONNX_POOL_SIZE",
	"CLUSTER_IOU",
}

// clearEnv blanks every key Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("TTL = %v, want 5m", cfg.Cache.TTL)
	}
	if cfg.Recognition.Tolerance != 0.6 || cfg.Recognition.Downscale != 0.25 {
		t.Errorf("recognition defaults = %+v", cfg.Recognition)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Errorf("Driver = %q, want memory", cfg.Store.Driver)
	}
	if !cfg.Server.PushEnabled() || cfg.Server.PullEnabled() {
		t.Errorf("default mode should be push only")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_TTL", "90")
	t.Setenv("MATCH_TOLERANCE", "0.45")
	t.Setenv("MODE", "BOTH")
	t.Setenv("GATEWAY_DRIVER", "supabase")
	t.Setenv("DATABASE_URL", "postgres://localhost/attendance")
	t.Setenv("DEBUG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr() != "0.0.0.0:9090" {
		t.Errorf("Addr = %q", cfg.Server.Addr())
	}
	if cfg.Cache.TTL != 90*time.Second {
		t.Errorf("TTL = %v, want 90s", cfg.Cache.TTL)
	}
	if cfg.Recognition.Tolerance != 0.45 {
		t.Errorf("Tolerance = %v", cfg.Recognition.Tolerance)
	}
	if !cfg.Server.PushEnabled() || !cfg.Server.PullEnabled() {
		t.Errorf("mode both should enable push and pull")
	}
	if cfg.Store.Driver != DriverPostgres || cfg.Store.DSN() != "postgres://localhost/attendance" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if !cfg.Server.Debug {
		t.Error("DEBUG=true should enable debug")
	}
}

func TestLoad_ProductionDisablesDebug(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEBUG", "true")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Debug {
		t.Error("debug must be off in production")
	}
}

func TestLoad_YAMLOverlay(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "attendance.yaml")
	yamlData := `
recognition:
  tolerance: 0.5
  metric: cosine
scheduler:
  throttle_mode: interval
  processing_interval: 750ms
cache:
  ttl: 1m
`
	if err := os.WriteFile(path, []byte(yamlData), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MATCH_TOLERANCE", "0.55")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Recognition.Metric != "cosine" {
		t.Errorf("Metric = %q, want cosine from file", cfg.Recognition.Metric)
	}
	if cfg.Recognition.Tolerance != 0.55 {
		t.Errorf("Tolerance = %v, env must win over file", cfg.Recognition.Tolerance)
	}
	if cfg.Scheduler.ProcessingInterval != 750*time.Millisecond {
		t.Errorf("ProcessingInterval = %v", cfg.Scheduler.ProcessingInterval)
	}
	if cfg.Cache.TTL != time.Minute {
		t.Errorf("TTL = %v", cfg.Cache.TTL)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("unset keys should keep defaults, Port = %d", cfg.Server.Port)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_MetricAliases(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"l2", "euclidean"},
		{"L2", "euclidean"},
		{"Euclidean", "euclidean"},
		{"cosine", "cosine"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("MATCH_METRIC", tt.env)
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Recognition.Metric != tt.want {
				t.Errorf("Metric = %q, want %q", cfg.Recognition.Metric, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Server.Mode = "stream" }, "MODE"},
		{"postgres without url", func(c *Config) { c.Store.Driver = DriverPostgres }, "DATABASE_URL"},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }, "CACHE_TTL"},
		{"downscale above one", func(c *Config) { c.Recognition.Downscale = 2 }, "DOWNSCALE_FACTOR"},
		{"bad channel order", func(c *Config) { c.Recognition.ChannelOrder = "yuv" }, "CHANNEL_ORDER"},
		{"zero workers", func(c *Config) { c.Scheduler.Workers = 0 }, "WORKERS"},
		{"bad backend", func(c *Config) { c.Camera.Backend = "v4l" }, "CAMERA_BACKEND"},
		{"cluster iou of one", func(c *Config) { c.Recognition.ClusterIoU = 1 }, "CLUSTER_IOU"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error mentioning %s", err, tt.want)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestEnvHelpers_InvalidFallsBack(t *testing.T) {
	t.Setenv("X_INT", "abc")
	t.Setenv("X_FLOAT", "one")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_BOOL", "maybe")

	if got := envInt("X_INT", 3); got != 3 {
		t.Errorf("envInt = %d", got)
	}
	if got := envFloat("X_FLOAT", 1.5); got != 1.5 {
		t.Errorf("envFloat = %v", got)
	}
	if got := envDuration("X_DUR", time.Second); got != time.Second {
		t.Errorf("envDuration = %v", got)
	}
	if got := envBool("X_BOOL", true); !got {
		t.Errorf("envBool = %v", got)
	}
}
