// Package config provides configuration loading for the datapipe service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flexinfer/datapipe/pkg/types"
)

// Config holds all configuration for the datapipe service.
type Config struct {
	// Server configuration
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration

	// Pipeline definitions
	PipelinesPath string

	// Engine configuration
	EngineType   string // "local" or "warehouse"
	WarehouseDSN string
	PingTimeout  time.Duration

	// Data directory for the filesystem connection
	DataDir string

	// S3 connection (optional; enabled when the bucket is set)
	S3Endpoint  string
	S3Bucket    string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3Prefix    string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// ResultStore configuration
	ResultStoreType string // "memory" or "redis"
	ResultStoreTTL  time.Duration
	EventMaxLen     int64

	// CORS configuration
	CORSOrigins []string

	// Rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Tracing
	TracingEnabled  bool
	TracingEndpoint string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port:          getEnv("PORT", "7080"),
		ReadTimeout:   getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  getDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownGrace: getDuration("SHUTDOWN_GRACE", 10*time.Second),

		// Pipelines
		PipelinesPath: getEnv("PIPELINES_PATH", "pipelines.yaml"),

		// Engine
		EngineType:   getEnv("DP_ENGINE", "local"), // "local" or "warehouse"
		WarehouseDSN: getEnv("WAREHOUSE_DSN", ""),
		PingTimeout:  getDuration("WAREHOUSE_PING_TIMEOUT", 5*time.Second),

		// Data
		DataDir: getEnv("DATA_DIR", "data"),

		// S3
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		S3UseSSL:    getBool("S3_USE_SSL", true),
		S3Prefix:    getEnv("S3_PREFIX", ""),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		// ResultStore
		ResultStoreType: getEnv("DP_RESULTSTORE", "memory"), // "memory" or "redis"
		ResultStoreTTL:  getDuration("RESULTSTORE_TTL", 7*24*time.Hour), // 7 days
		EventMaxLen:     getInt64("EVENT_MAX_LEN", 5000),

		// CORS
		CORSOrigins: getStringSlice("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),

		// Rate limiting
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 100.0),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 200),

		// Tracing
		TracingEnabled:  getBool("TRACING_ENABLED", false),
		TracingEndpoint: getEnv("OTLP_ENDPOINT", "localhost:4317"),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// PipelinesFile is the on-disk document listing pipeline definitions.
type PipelinesFile struct {
	Pipelines []types.PipelineConfig `yaml:"pipelines"`
}

// LoadPipelines reads and decodes a pipelines definition file. Every
// pipeline in the file is validated before any is returned.
func LoadPipelines(path string) ([]types.PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipelines file: %w", err)
	}

	var file PipelinesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse pipelines file: %w", err)
	}
	if len(file.Pipelines) == 0 {
		return nil, fmt.Errorf("pipelines file %q defines no pipelines", path)
	}

	seen := make(map[string]struct{}, len(file.Pipelines))
	for i := range file.Pipelines {
		p := &file.Pipelines[i]
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, ok := seen[p.Name]; ok {
			return nil, fmt.Errorf("duplicate pipeline name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return file.Pipelines, nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		return strings.Split(val, ",")
	}
	return defaultVal
}
