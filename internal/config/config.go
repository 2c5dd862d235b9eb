package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/dunamismax/snapcrop/internal/domain"
	"github.com/hibiken/asynq"
	"github.com/ilyakaznacheev/cleanenv"
)

// EnvFile names an optional YAML file loaded before the environment.
const EnvFile = "SNAPCROP_CONFIG"

type Config struct {
	API       APIConfig       `yaml:"api"`
	Upload    UploadConfig    `yaml:"upload"`
	Transform TransformConfig `yaml:"transform"`
	Session   SessionConfig   `yaml:"session"`
	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	BgRemove  BgRemoveConfig  `yaml:"bg_remove"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

type APIConfig struct {
	Addr            string        `yaml:"addr" env:"SNAPCROP_API_ADDR" env-default:":8080"`
	PublicURL       string        `yaml:"public_url" env:"SNAPCROP_PUBLIC_URL" env-default:"http://localhost:8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SNAPCROP_API_READ_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SNAPCROP_API_SHUTDOWN_TIMEOUT" env-default:"15s"`
}

// UploadConfig holds the file gate ceilings. The crop-image page keeps the
// tighter limit; every other preset uses MaxBytes.
type UploadConfig struct {
	MaxBytes          int64 `yaml:"max_bytes" env:"SNAPCROP_UPLOAD_MAX_BYTES" env-default:"41943040"`
	CropImageMaxBytes int64 `yaml:"crop_image_max_bytes" env:"SNAPCROP_UPLOAD_CROP_IMAGE_MAX_BYTES" env-default:"10485760"`
}

type TransformConfig struct {
	Timeout   time.Duration `yaml:"timeout" env:"SNAPCROP_TRANSFORM_TIMEOUT" env-default:"30s"`
	SmartCrop bool          `yaml:"smart_crop" env:"SNAPCROP_TRANSFORM_SMART_CROP" env-default:"false"`
}

type SessionConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl" env:"SNAPCROP_SESSION_IDLE_TTL" env-default:"30m"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SNAPCROP_SESSION_SWEEP_INTERVAL" env-default:"1m"`
}

type QueueConfig struct {
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB" env-default:"0"`
	Name          string `yaml:"name" env:"ASYNC_QUEUE" env-default:"default"`
	Enabled       bool   `yaml:"enabled" env:"SNAPCROP_QUEUE_ENABLED" env-default:"true"`
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int    `yaml:"concurrency" env:"WORKER_CONCURRENCY"`
	MaxActiveJobs  int    `yaml:"max_active_jobs" env:"WORKER_MAX_ACTIVE_JOBS"`
	MetricsAddr    string `yaml:"metrics_addr" env:"WORKER_METRICS_ADDR" env-default:":9091"`
	LocalOutputDir string `yaml:"local_output_dir" env:"WORKER_LOCAL_OUTPUT_DIR" env-default:"./.snapcrop-output"`
}

type StorageConfig struct {
	Endpoint   string        `yaml:"endpoint" env:"MINIO_ENDPOINT" env-default:"localhost:9000"`
	AccessKey  string        `yaml:"access_key" env:"MINIO_ACCESS_KEY" env-default:"minioadmin"`
	SecretKey  string        `yaml:"secret_key" env:"MINIO_SECRET_KEY" env-default:"minioadmin"`
	Bucket     string        `yaml:"bucket" env:"MINIO_BUCKET" env-default:"snapcrop-jobs"`
	UseSSL     bool          `yaml:"use_ssl" env:"MINIO_USE_SSL" env-default:"false"`
	PresignTTL time.Duration `yaml:"presign_ttl" env:"MINIO_PRESIGN_TTL" env-default:"15m"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"POSTGRES_DSN"`
}

type RateLimitConfig struct {
	Enabled      bool    `yaml:"enabled" env:"SNAPCROP_RATE_LIMIT_ENABLED" env-default:"false"`
	RatePerSec   float64 `yaml:"rate_per_sec" env:"SNAPCROP_RATE_LIMIT_RATE" env-default:"2"`
	Burst        int     `yaml:"burst" env:"SNAPCROP_RATE_LIMIT_BURST" env-default:"20"`
	ClientHeader string  `yaml:"client_header" env:"SNAPCROP_RATE_LIMIT_CLIENT_HEADER" env-default:"X-Client-ID"`
}

type WebhookConfig struct {
	SigningSecret  string        `yaml:"signing_secret" env:"SNAPCROP_WEBHOOK_SECRET"`
	Timeout        time.Duration `yaml:"timeout" env:"SNAPCROP_WEBHOOK_TIMEOUT" env-default:"10s"`
	MaxAttempts    int           `yaml:"max_attempts" env:"SNAPCROP_WEBHOOK_MAX_ATTEMPTS" env-default:"3"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"SNAPCROP_WEBHOOK_INITIAL_BACKOFF" env-default:"1s"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"SNAPCROP_WEBHOOK_MAX_BACKOFF" env-default:"10s"`
}

// BgRemoveConfig configures both ends of background removal. The API calls
// Endpoint upstream; the worker posts job sources to RouteURL, the API's own
// /api/bg-remove route.
type BgRemoveConfig struct {
	Endpoint string        `yaml:"endpoint" env:"REMOVE_BG_ENDPOINT" env-default:"https://api.remove.bg/v1.0/removebg"`
	APIKey   string        `yaml:"api_key" env:"REMOVE_BG_API_KEY"`
	Timeout  time.Duration `yaml:"timeout" env:"REMOVE_BG_TIMEOUT" env-default:"30s"`
	RouteURL string        `yaml:"route_url" env:"SNAPCROP_BG_REMOVE_URL"`
}

type TelemetryConfig struct {
	Exporter     string `yaml:"exporter" env:"OTEL_TRACES_EXPORTER" env-default:"none"`
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Load reads the YAML file named by SNAPCROP_CONFIG, if any, then applies
// environment overrides and defaults.
func Load() (Config, error) {
	var cfg Config

	if path := os.Getenv(EnvFile); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read config from env: %w", err)
	}

	cfg.applyDerivedDefaults()
	return cfg, cfg.Validate()
}

func (c *Config) applyDerivedDefaults() {
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = max(2, runtime.NumCPU())
	}
	if c.Worker.MaxActiveJobs <= 0 {
		c.Worker.MaxActiveJobs = max(1, runtime.NumCPU()/2)
	}
	if c.BgRemove.RouteURL == "" {
		c.BgRemove.RouteURL = strings.TrimRight(c.API.PublicURL, "/") + "/api/bg-remove"
	}
}

func (c Config) Validate() error {
	if c.Upload.MaxBytes <= 0 || c.Upload.CropImageMaxBytes <= 0 {
		return fmt.Errorf("upload ceilings must be positive")
	}
	if c.Transform.Timeout <= 0 {
		return fmt.Errorf("transform timeout must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RatePerSec <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive rate and burst")
	}
	return nil
}

// UploadLimit is the gate ceiling for a preset.
func (c Config) UploadLimit(preset string) int64 {
	if preset == "" || preset == domain.PresetCropImage {
		return c.Upload.CropImageMaxBytes
	}
	return c.Upload.MaxBytes
}

// Usage renders the environment variable help text.
func Usage() string {
	text, err := cleanenv.GetDescription(&Config{}, nil)
	if err != nil {
		return err.Error()
	}
	return text
}
