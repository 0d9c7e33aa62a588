package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram"},
	"tts": {"elevenlabs", "openai"},
}

// envRef matches ${NAME} references.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${VAR} references from the environment, decodes
// the YAML from r, applies defaults and validates the result. Unknown keys
// are rejected. A reference to an unset variable expands to "".
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnv replaces every ${NAME} in s with the value of the environment
// variable NAME. Bare $NAME is left alone.
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(m[2 : len(m)-1])
	})
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if ep := cfg.Server.OTLPEndpoint; ep != "" {
		if err := checkURL(ep, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("server.otlp_endpoint: %w", err))
		}
	}

	// Gateway
	if err := checkURL(cfg.Gateway.BaseURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("gateway.base_url: %w", err))
	}
	if cfg.Gateway.Timeout < 0 {
		errs = append(errs, fmt.Errorf("gateway.timeout %s must not be negative", cfg.Gateway.Timeout))
	}
	if cb := cfg.Gateway.CircuitBreaker; cb != nil {
		if cb.MaxFailures < 0 {
			errs = append(errs, fmt.Errorf("gateway.circuit_breaker.max_failures %d must not be negative", cb.MaxFailures))
		}
		if cb.ResetTimeout < 0 {
			errs = append(errs, fmt.Errorf("gateway.circuit_breaker.reset_timeout %s must not be negative", cb.ResetTimeout))
		}
	}

	// Listen
	if cfg.Listen.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("listen.sample_rate %d must not be negative", cfg.Listen.SampleRate))
	}
	if cfg.Listen.RearmDelay < 0 {
		errs = append(errs, fmt.Errorf("listen.rearm_delay %s must not be negative", cfg.Listen.RearmDelay))
	}
	if cfg.Listen.SilenceTimeout < 0 {
		errs = append(errs, fmt.Errorf("listen.silence_timeout %s must not be negative", cfg.Listen.SilenceTimeout))
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("tts", cfg.Providers.TTSFallback.Name)
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; listening will report capture unavailable")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; replies will only be displayed")
		if cfg.Providers.TTSFallback.Name != "" {
			errs = append(errs, errors.New("providers.tts_fallback requires providers.tts"))
		}
	}
	for kind, entry := range map[string]ProviderEntry{"stt": cfg.Providers.STT, "tts": cfg.Providers.TTS, "tts_fallback": cfg.Providers.TTSFallback} {
		if entry.Name != "" && entry.APIKey == "" {
			slog.Warn("provider has no api_key; check your environment", "kind", kind, "name", entry.Name)
		}
	}

	// Voice commands
	if t := cfg.VoiceCommands.Threshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("voice_commands.threshold %.2f is out of range (0, 1]", t))
	}
	for i, p := range cfg.VoiceCommands.PausePhrases {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("voice_commands.pause_phrases[%d] is empty", i))
		}
	}

	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("%q must use one of %v", raw, schemes)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
