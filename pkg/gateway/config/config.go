// Package config loads gateway configuration from OPTIFLOW_-prefixed
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the gateway's full configuration surface.
type Config struct {
	ListenAddr        string        `env:"OPTIFLOW_LISTEN_ADDR" envDefault:":8080"`
	LogLevel          string        `env:"OPTIFLOW_LOG_LEVEL" envDefault:"info"`
	ReadHeaderTimeout time.Duration `env:"OPTIFLOW_READ_HEADER_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout   time.Duration `env:"OPTIFLOW_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// Speech backends. Leaving a key empty disables that half of the
	// pipeline; sessions then run text-only.
	DeepgramAPIKey    string `env:"OPTIFLOW_DEEPGRAM_API_KEY"`
	DeepgramModel     string `env:"OPTIFLOW_DEEPGRAM_MODEL" envDefault:"nova-2"`
	ElevenLabsAPIKey  string `env:"OPTIFLOW_ELEVENLABS_API_KEY"`
	ElevenLabsVoiceID string `env:"OPTIFLOW_ELEVENLABS_VOICE_ID" envDefault:"EXAVITQu4vr4xnSDxMaL"`
	SampleRate        int    `env:"OPTIFLOW_SAMPLE_RATE" envDefault:"16000"`

	// Conversational fallback.
	GeminiAPIKey string `env:"OPTIFLOW_GEMINI_API_KEY"`
	GeminiModel  string `env:"OPTIFLOW_GEMINI_MODEL" envDefault:"gemini-2.5-flash"`

	// External action execution.
	ActionProxyURL string `env:"OPTIFLOW_ACTION_PROXY_URL"`
	ActionProxyKey string `env:"OPTIFLOW_ACTION_PROXY_KEY"`

	// Lifecycle webhook (participant join/leave events).
	LifecycleWebhookURL string `env:"OPTIFLOW_LIFECYCLE_WEBHOOK_URL"`
	LifecycleWebhookKey string `env:"OPTIFLOW_LIFECYCLE_WEBHOOK_KEY"`

	// Storage.
	SQLitePath  string `env:"OPTIFLOW_SQLITE_PATH" envDefault:"data/voice-core.db"`
	PostgresDSN string `env:"OPTIFLOW_POSTGRES_DSN"`

	// Session behavior.
	IdleTimeout       time.Duration `env:"OPTIFLOW_IDLE_TIMEOUT" envDefault:"5m"`
	DrainGrace        time.Duration `env:"OPTIFLOW_DRAIN_GRACE" envDefault:"10s"`
	HistoryCapacity   int           `env:"OPTIFLOW_HISTORY_CAPACITY" envDefault:"50"`
	WaitForReconnect  bool          `env:"OPTIFLOW_WAIT_FOR_RECONNECT" envDefault:"false"`
	Greeting          string        `env:"OPTIFLOW_GREETING"`
	OutboundQueueSize int           `env:"OPTIFLOW_OUTBOUND_QUEUE" envDefault:"128"`
	MaxAudioFPS       int           `env:"OPTIFLOW_MAX_AUDIO_FPS" envDefault:"100"`
	MaxAudioBPS       int64         `env:"OPTIFLOW_MAX_AUDIO_BPS" envDefault:"262144"`
	MaxMessageBytes   int64         `env:"OPTIFLOW_MAX_MESSAGE_BYTES" envDefault:"1048576"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
