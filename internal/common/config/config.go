package config

import (
	"os"
	"regexp"
	"time"

	"github.com/amoylab/roomhub/pkg/helper"
	"github.com/amoylab/roomhub/pkg/trace"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// ChatServerConfig represents the chat server configuration
	ChatServerConfig struct {
		Port      int             `yaml:"port"`
		Logger    LoggerConfig    `yaml:"logger"`
		Storage   StorageConfig   `yaml:"storage"`
		WebSocket WebSocketConfig `yaml:"websocket"`
		Metrics   MetricsConfig   `yaml:"metrics"`
		Tracing   trace.Config    `yaml:"tracing"`
	}

	// WebSocketConfig represents the per-connection transport settings
	WebSocketConfig struct {
		SendQueueSize    int           `yaml:"send_queue_size"`   // outbound events buffered per connection
		WriteWait        time.Duration `yaml:"write_wait"`        // deadline for a single frame write
		PongWait         time.Duration `yaml:"pong_wait"`         // read deadline extended on every pong
		PingPeriod       time.Duration `yaml:"ping_period"`       // must be shorter than pong_wait
		MaxMessageSize   int64         `yaml:"max_message_size"`  // inbound frame limit in bytes
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"` // upgrade handshake timeout
		AllowedOrigins   []string      `yaml:"allowed_origins"`   // empty allows any origin
	}

	// MetricsConfig represents the prometheus metrics configuration
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Path      string    `yaml:"path"`
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
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
)

type Type interface {
	ChatServerConfig
}

// LoadConfig loads configuration from a YAML file with environment variable support
func LoadConfig[T Type](filename string) (*T, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	// Resolve environment variables
	data = resolveEnv(data)
	var cfg T
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, err
	}

	if chatCfg, ok := any(&cfg).(*ChatServerConfig); ok {
		chatCfg.SetDefaults()
		if err := chatCfg.Validate(); err != nil {
			return nil, cfgPath, err
		}
	}

	return &cfg, cfgPath, nil
}

// SetDefaults fills unset fields with the values the server runs with out of the box
func (c *ChatServerConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 5235
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
	if c.Storage.Redis.ClusterType == "" {
		c.Storage.Redis.ClusterType = "single"
	}
	if c.Storage.Redis.Prefix == "" {
		c.Storage.Redis.Prefix = "roomhub"
	}

	ws := &c.WebSocket
	if ws.SendQueueSize <= 0 {
		ws.SendQueueSize = 256
	}
	if ws.WriteWait <= 0 {
		ws.WriteWait = 10 * time.Second
	}
	if ws.PongWait <= 0 {
		ws.PongWait = 60 * time.Second
	}
	if ws.PingPeriod <= 0 || ws.PingPeriod >= ws.PongWait {
		ws.PingPeriod = ws.PongWait * 9 / 10
	}
	if ws.MaxMessageSize <= 0 {
		ws.MaxMessageSize = 64 * 1024
	}
	if ws.HandshakeTimeout <= 0 {
		ws.HandshakeTimeout = 10 * time.Second
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "roomhub"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "roomhub"
	}
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
