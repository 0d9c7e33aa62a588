// Package config provides the configuration schema, loader, and provider registry
// for the voxlink voice-command client.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l onto the matching [slog.Level]. Unknown values map to Info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Default values applied by [LoadFromReader] to fields left empty.
const (
	DefaultBaseURL     = "http://localhost:5000"
	DefaultTimeout     = 30 * time.Second
	DefaultLanguage    = "en-US"
	DefaultSampleRate  = 16000
	DefaultRearmDelay  = time.Second
	DefaultThreshold   = 0.88
	DefaultMaxFailures = 5
	DefaultResetWindow = 30 * time.Second
)

// Config is the root configuration structure for voxlink.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Listen        ListenConfig        `yaml:"listen"`
	Speech        SpeechConfig        `yaml:"speech"`
	Providers     ProvidersConfig     `yaml:"providers"`
	VoiceCommands VoiceCommandsConfig `yaml:"voice_commands"`
}

// ServerConfig holds logging and the optional operations endpoint.
type ServerConfig struct {
	// ListenAddr is the TCP address for /healthz, /readyz and /metrics
	// (e.g., ":9090"). Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It can be changed without a restart.
	LogLevel LogLevel `yaml:"log_level"`

	// OTLPEndpoint, when set, exports traces over OTLP/HTTP.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// GatewayConfig locates the remote command processor.
type GatewayConfig struct {
	// BaseURL is the scheme and host of the command processor. Commands are
	// posted to BaseURL + "/process_command".
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each request.
	Timeout time.Duration `yaml:"timeout"`

	// CircuitBreaker enables fast failure while the processor is down.
	// When nil, every command is sent.
	CircuitBreaker *BreakerConfig `yaml:"circuit_breaker"`
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ListenConfig controls capture, recognition and re-arming.
type ListenConfig struct {
	// Language is the BCP-47 recognition language.
	Language string `yaml:"language"`

	// SampleRate is the rate audio is captured and streamed at.
	SampleRate int `yaml:"sample_rate"`

	// RearmDelay is the pause between a finished turn and listening again.
	RearmDelay time.Duration `yaml:"rearm_delay"`

	// SilenceTimeout ends a capture when nothing was recognised for this
	// long. Zero disables it.
	SilenceTimeout time.Duration `yaml:"silence_timeout"`

	// HoldWhileSpeaking delays re-arming until the spoken reply finished.
	// Defaults to true.
	HoldWhileSpeaking *bool `yaml:"hold_while_speaking"`
}

// Hold reports the effective hold_while_speaking setting.
func (l ListenConfig) Hold() bool {
	return l.HoldWhileSpeaking == nil || *l.HoldWhileSpeaking
}

// SpeechConfig configures voice selection.
type SpeechConfig struct {
	// VoiceKeywords are matched case-insensitively against voice names and
	// IDs. A voice with female gender metadata always matches.
	VoiceKeywords []string `yaml:"voice_keywords"`

	// DefaultVoice is used when no voice matches a keyword.
	DefaultVoice string `yaml:"default_voice"`
}

// ProvidersConfig declares which provider implementation to use for
// recognition and synthesis. Each field selects a named provider registered
// in the [Registry].
type ProvidersConfig struct {
	STT         ProviderEntry `yaml:"stt"`
	TTS         ProviderEntry `yaml:"tts"`
	TTSFallback ProviderEntry `yaml:"tts_fallback"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "deepgram", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-3", "tts-1").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// VoiceCommandsConfig enables locally handled control phrases.
type VoiceCommandsConfig struct {
	Enabled bool `yaml:"enabled"`

	// PausePhrases stop automatic listening when spoken.
	PausePhrases []string `yaml:"pause_phrases"`

	// Threshold is the minimum similarity in (0, 1] for a phrase to match.
	Threshold float64 `yaml:"threshold"`
}

// applyDefaults fills zero values with their defaults.
func (c *Config) applyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Gateway.BaseURL == "" {
		c.Gateway.BaseURL = DefaultBaseURL
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = DefaultTimeout
	}
	if cb := c.Gateway.CircuitBreaker; cb != nil {
		if cb.MaxFailures == 0 {
			cb.MaxFailures = DefaultMaxFailures
		}
		if cb.ResetTimeout == 0 {
			cb.ResetTimeout = DefaultResetWindow
		}
	}
	if c.Listen.Language == "" {
		c.Listen.Language = DefaultLanguage
	}
	if c.Listen.SampleRate == 0 {
		c.Listen.SampleRate = DefaultSampleRate
	}
	if c.Listen.RearmDelay == 0 {
		c.Listen.RearmDelay = DefaultRearmDelay
	}
	if c.VoiceCommands.Threshold == 0 {
		c.VoiceCommands.Threshold = DefaultThreshold
	}
}
