package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMiniaudio = "miniaudio"
	BackendPortaudio = "portaudio"
	BackendNone      = "none"

	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// Config is the companion's configuration file.
type Config struct {
	Agent        AgentConfig        `yaml:"agent"`
	User         UserConfig         `yaml:"user"`
	Signaling    SignalingConfig    `yaml:"signaling"`
	Conversation ConversationConfig `yaml:"conversation"`
	Audio        AudioConfig        `yaml:"audio"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// AgentConfig locates the agent backend. APIURL may be empty, in which case
// session ids are generated locally.
type AgentConfig struct {
	APIURL       string `yaml:"api_url"`
	SignalingURL string `yaml:"signaling_url"`
	MediaURL     string `yaml:"media_url"`
}

type UserConfig struct {
	ID string `yaml:"id"`
}

type SignalingConfig struct {
	Backoff     string `yaml:"backoff"`
	MaxAttempts int    `yaml:"max_attempts"`

	ReconnectInterval time.Duration `yaml:"-"`
	MaxBackoff        time.Duration `yaml:"-"`
	HeartbeatInterval time.Duration `yaml:"-"`
	HeartbeatTimeout  time.Duration `yaml:"-"`

	ReconnectIntervalRaw string `yaml:"reconnect_interval"`
	MaxBackoffRaw        string `yaml:"max_backoff"`
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	HeartbeatTimeoutRaw  string `yaml:"heartbeat_timeout"`
}

type ConversationConfig struct {
	ProcessingTimeout time.Duration `yaml:"-"`
	LevelPollInterval time.Duration `yaml:"-"`
	MaxRecording      time.Duration `yaml:"-"`

	ProcessingTimeoutRaw string `yaml:"processing_timeout"`
	LevelPollIntervalRaw string `yaml:"level_poll_interval"`
	MaxRecordingRaw      string `yaml:"max_recording"`
}

type AudioConfig struct {
	Backend    string `yaml:"backend"`
	BufferSize int    `yaml:"buffer_size"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// File receives logs. The terminal belongs to the UI, so logs are
	// discarded when it is empty.
	File string `yaml:"file"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			SignalingURL: "ws://localhost:8080",
			MediaURL:     "ws://localhost:8080/media",
		},
		User: UserConfig{ID: "companion"},
		Signaling: SignalingConfig{
			Backoff:           BackoffConstant,
			MaxAttempts:       5,
			ReconnectInterval: 3 * time.Second,
			MaxBackoff:        30 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			HeartbeatTimeout:  10 * time.Second,
		},
		Conversation: ConversationConfig{
			ProcessingTimeout: 30 * time.Second,
			LevelPollInterval: 100 * time.Millisecond,
		},
		Audio: AudioConfig{
			Backend:    BackendMiniaudio,
			BufferSize: 1024,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the file at path over the defaults. ${VAR} references are
// expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with its value, or nothing when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate returns the first problem found.
func (c *Config) Validate() error {
	if c.Agent.SignalingURL == "" {
		return fmt.Errorf("agent.signaling_url is required")
	}
	if c.Agent.MediaURL == "" {
		return fmt.Errorf("agent.media_url is required")
	}
	if c.User.ID == "" {
		return fmt.Errorf("user.id is required")
	}

	switch c.Signaling.Backoff {
	case BackoffConstant, BackoffExponential:
	default:
		return fmt.Errorf("signaling.backoff must be %q or %q, got %q", BackoffConstant, BackoffExponential, c.Signaling.Backoff)
	}
	if c.Signaling.MaxAttempts < 0 {
		return fmt.Errorf("signaling.max_attempts must not be negative")
	}
	if c.Signaling.ReconnectInterval <= 0 {
		return fmt.Errorf("signaling.reconnect_interval must be positive")
	}

	if c.Conversation.ProcessingTimeout <= 0 {
		return fmt.Errorf("conversation.processing_timeout must be positive")
	}
	if c.Conversation.LevelPollInterval <= 0 {
		return fmt.Errorf("conversation.level_poll_interval must be positive")
	}

	switch c.Audio.Backend {
	case BackendMiniaudio, BackendPortaudio, BackendNone:
	default:
		return fmt.Errorf("audio.backend must be one of %s, %s, %s; got %q", BackendMiniaudio, BackendPortaudio, BackendNone, c.Audio.Backend)
	}

	return nil
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"signaling.reconnect_interval", cfg.Signaling.ReconnectIntervalRaw, &cfg.Signaling.ReconnectInterval},
		{"signaling.max_backoff", cfg.Signaling.MaxBackoffRaw, &cfg.Signaling.MaxBackoff},
		{"signaling.heartbeat_interval", cfg.Signaling.HeartbeatIntervalRaw, &cfg.Signaling.HeartbeatInterval},
		{"signaling.heartbeat_timeout", cfg.Signaling.HeartbeatTimeoutRaw, &cfg.Signaling.HeartbeatTimeout},
		{"conversation.processing_timeout", cfg.Conversation.ProcessingTimeoutRaw, &cfg.Conversation.ProcessingTimeout},
		{"conversation.level_poll_interval", cfg.Conversation.LevelPollIntervalRaw, &cfg.Conversation.LevelPollInterval},
		{"conversation.max_recording", cfg.Conversation.MaxRecordingRaw, &cfg.Conversation.MaxRecording},
	}

	for _, field := range fields {
		if field.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(field.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", field.name, field.raw, err)
		}
		*field.dst = parsed
	}
	return nil
}
