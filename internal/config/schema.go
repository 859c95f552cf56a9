package config

import (
	"time"

	"github.com/jackzampolin/fable/internal/broadcast"
	"github.com/jackzampolin/fable/internal/dispatcher"
	"github.com/jackzampolin/fable/internal/orchestrator"
)

// Config holds fable configuration.
// Stored at: config.yaml (or the path passed via --config)
type Config struct {
	Server     ServerCfg     `mapstructure:"server" yaml:"server"`
	Storage    StorageCfg    `mapstructure:"storage" yaml:"storage"`
	OpenAI     OpenAICfg     `mapstructure:"openai" yaml:"openai"`
	Generation GenerationCfg `mapstructure:"generation" yaml:"generation"`
	Stream     StreamCfg     `mapstructure:"stream" yaml:"stream"`
}

// ServerCfg configures the HTTP listener.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// StorageCfg configures persistence.
type StorageCfg struct {
	// DBPath is the SQLite database file (":memory:" for ephemeral runs).
	// Empty means ~/.fable/data/fable.db.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// OpenAICfg configures the OpenAI-backed generators.
type OpenAICfg struct {
	APIKey         string  `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url"`
	TextModel      string  `mapstructure:"text_model" yaml:"text_model"`
	ImageModel     string  `mapstructure:"image_model" yaml:"image_model"`
	ImageSize      string  `mapstructure:"image_size" yaml:"image_size"`
	TextRateLimit  float64 `mapstructure:"text_rate_limit" yaml:"text_rate_limit"`   // requests per second
	ImageRateLimit float64 `mapstructure:"image_rate_limit" yaml:"image_rate_limit"` // requests per second
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`   // per external call
}

// GenerationCfg bounds generation jobs.
type GenerationCfg struct {
	MinPages         int     `mapstructure:"min_pages" yaml:"min_pages"`
	MaxPages         int     `mapstructure:"max_pages" yaml:"max_pages"`
	ImageWorkers     int     `mapstructure:"image_workers" yaml:"image_workers"` // concurrent image calls per job
	RetryAttempts    int     `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryBaseSeconds float64 `mapstructure:"retry_base_seconds" yaml:"retry_base_seconds"`
	RetryMaxSeconds  float64 `mapstructure:"retry_max_seconds" yaml:"retry_max_seconds"`
}

// StreamCfg configures the progress stream.
type StreamCfg struct {
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds" yaml:"heartbeat_seconds"`
	BufferSize       int `mapstructure:"buffer_size" yaml:"buffer_size"` // per-subscriber event buffer
	MissedLimit      int `mapstructure:"missed_limit" yaml:"missed_limit"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageCfg{
			DBPath: "",
		},
		OpenAI: OpenAICfg{
			APIKey:         "${OPENAI_API_KEY}",
			TextModel:      "gpt-4o",
			ImageModel:     "dall-e-3",
			ImageSize:      "1024x1024",
			TextRateLimit:  2.0,
			ImageRateLimit: 1.0,
			TimeoutSeconds: 120,
		},
		Generation: GenerationCfg{
			MinPages:         1,
			MaxPages:         20,
			ImageWorkers:     3,
			RetryAttempts:    3,
			RetryBaseSeconds: 2,
			RetryMaxSeconds:  30,
		},
		Stream: StreamCfg{
			HeartbeatSeconds: 30,
			BufferSize:       64,
			MissedLimit:      3,
		},
	}
}

// OrchestratorConfig converts the generation section into job tuning.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		ImageWorkers:   c.Generation.ImageWorkers,
		MaxAttempts:    uint(c.Generation.RetryAttempts),
		RetryBaseDelay: secondsToDuration(c.Generation.RetryBaseSeconds),
		RetryMaxDelay:  secondsToDuration(c.Generation.RetryMaxSeconds),
	}
}

// DispatcherLimits converts the generation section into admission limits.
func (c *Config) DispatcherLimits() dispatcher.Limits {
	return dispatcher.Limits{
		MinPages: c.Generation.MinPages,
		MaxPages: c.Generation.MaxPages,
	}
}

// BroadcastConfig converts the stream section into broadcaster tuning.
func (c *Config) BroadcastConfig() broadcast.Config {
	return broadcast.Config{
		BufferSize:        c.Stream.BufferSize,
		HeartbeatInterval: time.Duration(c.Stream.HeartbeatSeconds) * time.Second,
		MissedLimit:       c.Stream.MissedLimit,
	}
}

// CallTimeout returns the per-call timeout for external AI requests.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.OpenAI.TimeoutSeconds) * time.Second
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
