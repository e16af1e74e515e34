package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddress string `env:"HTTP_ADDRESS" envDefault:":8787"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	STT  STTConfig
	Hint HintConfig

	BufferCap        int           `env:"TRANSCRIPT_BUFFER_CAP" envDefault:"50"`
	WindowSize       int           `env:"CONTEXT_WINDOW_SIZE" envDefault:"10"`
	MaxChars         int           `env:"CONTEXT_MAX_CHARS" envDefault:"2000"`
	AutoHints        bool          `env:"AUTO_HINTS" envDefault:"true"`
	AutoHintDebounce time.Duration `env:"AUTO_HINT_DEBOUNCE" envDefault:"0s"`
	PrimaryLabel     string        `env:"SPEAKER_PRIMARY_LABEL" envDefault:"Me"`
	SecondaryLabel   string        `env:"SPEAKER_SECONDARY_LABEL" envDefault:"Them"`

	// empty disables session persistence, event publishing and audio forwarding
	RedisAddr    string        `env:"REDIS_ADDR"`
	RedisURL     string        `env:"REDIS_URL"`
	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	AudioStream  string        `env:"AUDIO_STREAM" envDefault:"audio:frames"`
	AudioGroup   string        `env:"AUDIO_GROUP" envDefault:"hintd"`
	EventsPrefix string        `env:"EVENTS_CHANNEL_PREFIX" envDefault:"hints"`

	// empty disables API auth
	JWTSecret string `env:"API_JWT_SECRET"`
}

type STTConfig struct {
	URL        string `env:"STT_WS_URL" envDefault:"ws://127.0.0.1:8765/ws/transcribe"`
	APIKey     string `env:"STT_API_KEY"`
	SampleRate int    `env:"STT_SAMPLE_RATE" envDefault:"16000"`
	Encoding   string `env:"STT_ENCODING" envDefault:"pcm_s16le"`
}

type HintConfig struct {
	BaseURL      string        `env:"HINT_BACKEND_URL" envDefault:"http://127.0.0.1:8000"`
	StreamPath   string        `env:"HINT_STREAM_PATH" envDefault:"/api/hint/stream"`
	APIKey       string        `env:"HINT_API_KEY"`
	Profile      string        `env:"HINT_PROFILE" envDefault:"interview"`
	Model        string        `env:"HINT_MODEL"`
	SystemPrompt string        `env:"HINT_SYSTEM_PROMPT"`
	UserContext  string        `env:"HINT_USER_CONTEXT"`
	MaxTokens    int           `env:"HINT_MAX_TOKENS" envDefault:"300"`
	Temperature  float64       `env:"HINT_TEMPERATURE" envDefault:"0.7"`
	Timeout      time.Duration `env:"HINT_TIMEOUT" envDefault:"60s"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse(env.Options{})
}

// Parse builds a Config from opts.Environment, or the process environment
// when that is nil.
func Parse(opts env.Options) (*Config, error) {
	c := &Config{}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch {
	case c.BufferCap < 1:
		return fmt.Errorf("TRANSCRIPT_BUFFER_CAP must be >= 1, got %d", c.BufferCap)
	case c.WindowSize < 1:
		return fmt.Errorf("CONTEXT_WINDOW_SIZE must be >= 1, got %d", c.WindowSize)
	case c.MaxChars < 0:
		return fmt.Errorf("CONTEXT_MAX_CHARS must be >= 0, got %d", c.MaxChars)
	case c.Hint.Timeout <= 0:
		return fmt.Errorf("HINT_TIMEOUT must be positive, got %s", c.Hint.Timeout)
	case c.Hint.MaxTokens < 1:
		return fmt.Errorf("HINT_MAX_TOKENS must be >= 1, got %d", c.Hint.MaxTokens)
	}
	return nil
}

// Redis returns the configured Redis address or URL, REDIS_ADDR first.
func (c *Config) Redis() string {
	if c.RedisAddr != "" {
		return c.RedisAddr
	}
	return c.RedisURL
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// Redacted is the config with secrets masked, for printing.
func (c Config) Redacted() Config {
	c.STT.APIKey = mask(c.STT.APIKey)
	c.Hint.APIKey = mask(c.Hint.APIKey)
	c.JWTSecret = mask(c.JWTSecret)
	if c.RedisURL != "" {
		c.RedisURL = redactURL(c.RedisURL)
	}
	return c
}
