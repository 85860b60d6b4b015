package config

import (
	"os"
	"regexp"
	"time"

	"github.com/amoylab/wuhost/internal/engine"
	"github.com/amoylab/wuhost/pkg/helper"
	"github.com/amoylab/wuhost/pkg/trace"

	"github.com/ifuryst/lol"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// WuHostConfig represents the host service configuration
	WuHostConfig struct {
		Host      HostConfig      `yaml:"host"`
		Signaling SignalingConfig `yaml:"signaling"`
		Session   SessionConfig   `yaml:"session"`
		Admin     AdminConfig     `yaml:"admin"`
		Logger    LoggerConfig    `yaml:"logger"`
		Metrics   MetricsConfig   `yaml:"metrics"`
		Tracing   trace.Config    `yaml:"tracing"`
	}

	// HostConfig configures the session host and the UDP socket it is fed from
	HostConfig struct {
		BindAddress       string        `yaml:"bind_address"`
		BindPort          string        `yaml:"bind_port"`
		MaxSessions       int           `yaml:"max_sessions"`       // values <= 0 are clamped to 1
		ServeInterval     time.Duration `yaml:"serve_interval"`     // period of the event drain tick
		IdleTimeout       time.Duration `yaml:"idle_timeout"`       // reference engine idle cutoff
		PermissiveAddress bool          `yaml:"permissive_address"` // decode malformed addresses to 0 instead of rejecting
		ReadBatch         int           `yaml:"read_batch"`         // datagrams per batched socket read
		ReadBufferSize    int           `yaml:"read_buffer_size"`   // SO_RCVBUF, 0 keeps the system default
		WriteBufferSize   int           `yaml:"write_buffer_size"`  // SO_SNDBUF, 0 keeps the system default
		Echo              bool          `yaml:"echo"`               // echo received payloads back to the sender
	}

	// SignalingConfig configures the HTTP endpoint used for session negotiation and admin
	SignalingConfig struct {
		Port            int           `yaml:"port"`
		Path            string        `yaml:"path"`
		MaxOfferSize    int64         `yaml:"max_offer_size"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		CORS            *CORSConfig   `yaml:"cors,omitempty"`
	}

	CORSConfig struct {
		AllowOrigins     []string `yaml:"allow_origins,omitempty"`
		AllowMethods     []string `yaml:"allow_methods,omitempty"`
		AllowHeaders     []string `yaml:"allow_headers,omitempty"`
		ExposeHeaders    []string `yaml:"expose_headers,omitempty"`
		AllowCredentials bool     `yaml:"allow_credentials"`
	}

	// SessionConfig represents the session directory configuration
	SessionConfig struct {
		Type  string             `yaml:"type"`  // "memory" or "redis"
		Redis SessionRedisConfig `yaml:"redis"` // Redis configuration
	}

	// SessionRedisConfig represents the Redis configuration for the session directory
	SessionRedisConfig struct {
		Addr     string        `yaml:"addr"`
		Username string        `yaml:"username"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Topic    string        `yaml:"topic"`
		Prefix   string        `yaml:"prefix"`
		TTL      time.Duration `yaml:"ttl"` // TTL for session records in Redis
	}

	// AdminConfig protects the admin API
	AdminConfig struct {
		JWT JWTConfig `yaml:"jwt"`
	}

	// JWTConfig enables bearer token auth on the admin API when SecretKey is set
	JWTConfig struct {
		SecretKey string        `yaml:"secret_key"`
		Duration  time.Duration `yaml:"duration"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone"`   // time zone for log timestamps, e.g., "UTC", default is local
		TimeFormat string `yaml:"time_format"` // time format for log timestamps, default is "2006-01-02 15:04:05"
	}

	// MetricsConfig represents the Prometheus metrics configuration
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Namespace string    `yaml:"namespace"`
		Path      string    `yaml:"path"`
		Buckets   []float64 `yaml:"buckets"`
	}
)

// Default returns the configuration used for any field the YAML file leaves out.
func Default() WuHostConfig {
	return WuHostConfig{
		Host: HostConfig{
			BindAddress:   "0.0.0.0",
			BindPort:      "9555",
			MaxSessions:   engine.DefaultMaxSessions,
			ServeInterval: 10 * time.Millisecond,
			IdleTimeout:   30 * time.Second,
			ReadBatch:     16,
		},
		Signaling: SignalingConfig{
			Port:            8000,
			Path:            "/sdp",
			MaxOfferSize:    64 << 10,
			ShutdownTimeout: 5 * time.Second,
		},
		Session: SessionConfig{
			Type: "memory",
			Redis: SessionRedisConfig{
				Topic:  "wuhost:sessions",
				Prefix: "wuhost",
				TTL:    time.Hour,
			},
		},
		Admin: AdminConfig{
			JWT: JWTConfig{Duration: 24 * time.Hour},
		},
		Metrics: MetricsConfig{
			Namespace: "wuhost",
			Path:      "/metrics",
		},
		Tracing: trace.Config{
			ServiceName: "wuhost",
			SamplerRate: 1,
		},
	}
}

// LoadConfig loads configuration from a YAML file with environment variable support
func LoadConfig(filename string) (*WuHostConfig, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, cfgPath, err
	}
	return cfg, cfgPath, nil
}

// Parse decodes YAML content on top of Default and validates the result
func Parse(data []byte) (*WuHostConfig, error) {
	// Resolve environment variables
	data = resolveEnv(data)
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Validate durations after unmarshalling
	if cfg.Host.ServeInterval <= 0 {
		cfg.Host.ServeInterval = 10 * time.Millisecond
	}
	if cfg.Host.ReadBatch <= 0 {
		cfg.Host.ReadBatch = 1
	}
	if cfg.Signaling.Path == "" {
		cfg.Signaling.Path = "/sdp"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Signaling.MaxOfferSize <= 0 {
		cfg.Signaling.MaxOfferSize = 64 << 10
	}
	if cfg.Signaling.ShutdownTimeout <= 0 {
		cfg.Signaling.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Signaling.CORS != nil {
		cfg.Signaling.CORS.AllowOrigins = lol.UniqSlice(cfg.Signaling.CORS.AllowOrigins)
		cfg.Signaling.CORS.AllowMethods = lol.UniqSlice(cfg.Signaling.CORS.AllowMethods)
		cfg.Signaling.CORS.AllowHeaders = lol.UniqSlice(cfg.Signaling.CORS.AllowHeaders)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
