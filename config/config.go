package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Camera      CameraConfig      `yaml:"camera"`
	Store       StoreConfig       `yaml:"store"`
	Cache       CacheConfig       `yaml:"cache"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Models      ModelsConfig      `yaml:"models"`
}

type ServerConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	AppEnv string `yaml:"app_env"`
	Debug  bool   `yaml:"debug"`
	// Mode is push (browser uploads frames), pull (server reads the camera) or both.
	Mode         string `yaml:"mode"`
	PushDispatch string `yaml:"push_dispatch"` // sync or async
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s ServerConfig) PushEnabled() bool { return s.Mode == ModePush || s.Mode == ModeBoth }
func (s ServerConfig) PullEnabled() bool { return s.Mode == ModePull || s.Mode == ModeBoth }

type CameraConfig struct {
	Source      string `yaml:"source"`  // device path, device index, file or stream URL
	Backend     string `yaml:"backend"` // ffmpeg or gocv
	JPEGQuality int    `yaml:"jpeg_quality"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver"` // postgres, sqlite or memory
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
	Table       string `yaml:"table"`
}

// DSN is the connection string for the configured driver.
func (s StoreConfig) DSN() string {
	if s.Driver == DriverSQLite {
		return s.SQLitePath
	}
	return s.DatabaseURL
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type RecognitionConfig struct {
	Tolerance           float64 `yaml:"tolerance"`
	Metric              string  `yaml:"metric"`
	Downscale           float64 `yaml:"downscale"`
	ChannelOrder        string  `yaml:"channel_order"`
	DetectionConfidence float64 `yaml:"detection_confidence"`
	ClusterIoU          float64 `yaml:"cluster_iou"`
}

type SchedulerConfig struct {
	ThrottleMode       string        `yaml:"throttle_mode"`
	FrameModulus       int           `yaml:"frame_modulus"`
	ProcessingInterval time.Duration `yaml:"processing_interval"`
	QueueCapacity      int           `yaml:"queue_capacity"`
	Workers            int           `yaml:"workers"`
}

type ModelsConfig struct {
	ONNXRuntimeLib string `yaml:"onnxruntime_lib"`
	DetectorModel  string `yaml:"detector_model"`
	EmbedderModel  string `yaml:"embedder_model"`
	PoolSize       int    `yaml:"pool_size"`
}

const (
	ModePush = "push"
	ModePull = "pull"
	ModeBoth = "both"

	DispatchSync  = "sync"
	DispatchAsync = "async"

	BackendFFmpeg = "ffmpeg"
	BackendGoCV   = "gocv"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			AppEnv:       "development",
			Mode:         ModePush,
			PushDispatch: DispatchSync,
		},
		Camera: CameraConfig{
			Source:      "/dev/video0",
			Backend:     BackendFFmpeg,
			JPEGQuality: 80,
		},
		Store: StoreConfig{
			Driver:     DriverMemory,
			SQLitePath: "attendance.db",
			Table:      "users",
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
		},
		Recognition: RecognitionConfig{
			Tolerance:           0.6,
			Metric:              "euclidean",
			Downscale:           0.25,
			ChannelOrder:        "rgb",
			DetectionConfidence: 0.8,
			ClusterIoU:          0.45,
		},
		Scheduler: SchedulerConfig{
			ThrottleMode:       "singleflight",
			FrameModulus:       5,
			ProcessingInterval: 200 * time.Millisecond,
			QueueCapacity:      4,
			Workers:            2,
		},
		Models: ModelsConfig{
			DetectorModel: "models/yolo11n_face.onnx",
			EmbedderModel: "models/arcface_r100.onnx",
			PoolSize:      4,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// CONFIG_FILE, and then environment variables, each overriding the previous.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = envString("HOST", c.Server.Host)
	c.Server.Port = envInt("PORT", c.Server.Port)
	c.Server.AppEnv = envString("APP_ENV", c.Server.AppEnv)
	c.Server.Debug = envBool("DEBUG", c.Server.Debug)
	c.Server.Mode = envString("MODE", c.Server.Mode)
	c.Server.PushDispatch = envString("PUSH_DISPATCH", c.Server.PushDispatch)

	c.Camera.Source = envString("CAMERA_SOURCE", c.Camera.Source)
	c.Camera.Backend = envString("CAMERA_BACKEND", c.Camera.Backend)
	c.Camera.JPEGQuality = envInt("JPEG_QUALITY", c.Camera.JPEGQuality)

	c.Store.Driver = envString("GATEWAY_DRIVER", c.Store.Driver)
	c.Store.DatabaseURL = envString("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.SQLitePath = envString("SQLITE_PATH", c.Store.SQLitePath)
	c.Store.Table = envString("USERS_TABLE", c.Store.Table)

	c.Cache.TTL = envDuration("CACHE_TTL", c.Cache.TTL)

	c.Recognition.Tolerance = envFloat("MATCH_TOLERANCE", c.Recognition.Tolerance)
	c.Recognition.Metric = envString("MATCH_METRIC", c.Recognition.Metric)
	c.Recognition.Downscale = envFloat("DOWNSCALE_FACTOR", c.Recognition.Downscale)
	c.Recognition.ChannelOrder = envString("CHANNEL_ORDER", c.Recognition.ChannelOrder)
	c.Recognition.DetectionConfidence = envFloat("DETECTION_CONFIDENCE", c.Recognition.DetectionConfidence)
	c.Recognition.ClusterIoU = envFloat("CLUSTER_IOU", c.Recognition.ClusterIoU)

	c.Scheduler.ThrottleMode = envString("THROTTLE_MODE", c.Scheduler.ThrottleMode)
	c.Scheduler.FrameModulus = envInt("FRAME_MODULUS", c.Scheduler.FrameModulus)
	c.Scheduler.ProcessingInterval = envDuration("PROCESSING_INTERVAL", c.Scheduler.ProcessingInterval)
	c.Scheduler.QueueCapacity = envInt("QUEUE_CAPACITY", c.Scheduler.QueueCapacity)
	c.Scheduler.Workers = envInt("WORKERS", c.Scheduler.Workers)

	c.Models.ONNXRuntimeLib = envString("ONNXRUNTIME_LIB", c.Models.ONNXRuntimeLib)
	c.Models.DetectorModel = envString("DETECTOR_MODEL", c.Models.DetectorModel)
	c.Models.EmbedderModel = envString("EMBEDDER_MODEL", c.Models.EmbedderModel)
	c.Models.PoolSize = envInt("ONNX_POOL_SIZE", c.Models.PoolSize)
}

func (c *Config) normalize() {
	c.Server.Mode = strings.ToLower(c.Server.Mode)
	c.Server.PushDispatch = strings.ToLower(c.Server.PushDispatch)
	c.Camera.Backend = strings.ToLower(c.Camera.Backend)
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	if c.Store.Driver == "postgresql" || c.Store.Driver == "supabase" {
		c.Store.Driver = DriverPostgres
	}
	c.Recognition.Metric = strings.ToLower(c.Recognition.Metric)
	if c.Recognition.Metric == "l2" {
		c.Recognition.Metric = "euclidean"
	}
	c.Recognition.ChannelOrder = strings.ToLower(c.Recognition.ChannelOrder)
	c.Scheduler.ThrottleMode = strings.ToLower(c.Scheduler.ThrottleMode)

	if c.Server.AppEnv == "production" {
		c.Server.Debug = false
	}
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "PORT out of range: %d", c.Server.Port)
	check(oneOf(c.Server.Mode, ModePush, ModePull, ModeBoth), "MODE must be push, pull or both, got %q", c.Server.Mode)
	check(oneOf(c.Server.PushDispatch, DispatchSync, DispatchAsync), "PUSH_DISPATCH must be sync or async, got %q", c.Server.PushDispatch)
	check(oneOf(c.Camera.Backend, BackendFFmpeg, BackendGoCV), "CAMERA_BACKEND must be ffmpeg or gocv, got %q", c.Camera.Backend)
	check(c.Camera.JPEGQuality >= 1 && c.Camera.JPEGQuality <= 100, "JPEG_QUALITY must be within 1..100, got %d", c.Camera.JPEGQuality)
	check(oneOf(c.Store.Driver, DriverPostgres, DriverSQLite, DriverMemory), "GATEWAY_DRIVER must be postgres, sqlite or memory, got %q", c.Store.Driver)
	check(c.Store.Driver != DriverPostgres || c.Store.DatabaseURL != "", "DATABASE_URL is required for the postgres gateway")
	check(c.Store.Driver != DriverSQLite || c.Store.SQLitePath != "", "SQLITE_PATH is required for the sqlite gateway")
	check(c.Cache.TTL > 0, "CACHE_TTL must be positive, got %v", c.Cache.TTL)
	check(c.Recognition.Tolerance > 0, "MATCH_TOLERANCE must be positive, got %v", c.Recognition.Tolerance)
	check(oneOf(c.Recognition.Metric, "euclidean", "cosine"), "MATCH_METRIC must be euclidean or cosine, got %q", c.Recognition.Metric)
	check(c.Recognition.Downscale > 0 && c.Recognition.Downscale <= 1, "DOWNSCALE_FACTOR must be within (0, 1], got %v", c.Recognition.Downscale)
	check(oneOf(c.Recognition.ChannelOrder, "rgb", "bgr"), "CHANNEL_ORDER must be rgb or bgr, got %q", c.Recognition.ChannelOrder)
	check(c.Recognition.DetectionConfidence > 0 && c.Recognition.DetectionConfidence < 1, "DETECTION_CONFIDENCE must be within (0, 1), got %v", c.Recognition.DetectionConfidence)
	check(c.Recognition.ClusterIoU > 0 && c.Recognition.ClusterIoU < 1, "CLUSTER_IOU must be within (0, 1), got %v", c.Recognition.ClusterIoU)
	check(oneOf(c.Scheduler.ThrottleMode, "modulus", "interval", "singleflight"), "THROTTLE_MODE must be modulus, interval or singleflight, got %q", c.Scheduler.ThrottleMode)
	check(c.Scheduler.FrameModulus > 0, "FRAME_MODULUS must be positive, got %d", c.Scheduler.FrameModulus)
	check(c.Scheduler.ProcessingInterval >= 0, "PROCESSING_INTERVAL must not be negative")
	check(c.Scheduler.QueueCapacity > 0, "QUEUE_CAPACITY must be positive, got %d", c.Scheduler.QueueCapacity)
	check(c.Scheduler.Workers > 0, "WORKERS must be positive, got %d", c.Scheduler.Workers)
	check(c.Models.PoolSize > 0, "ONNX_POOL_SIZE must be positive, got %d", c.Models.PoolSize)

	return errors.Join(errs...)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as an integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envDuration accepts Go durations ("5m") and bare seconds ("300").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(n * float64(time.Second))
	}
	return defaultVal
}
