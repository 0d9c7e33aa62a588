package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Log level and voice keywords apply live; other sections are reported
// in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoiceChanged     bool
	NewVoiceKeywords []string

	// RestartRequired lists changed sections that only take effect after a
	// restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VoiceChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Speech.VoiceKeywords, new.Speech.VoiceKeywords) {
		d.VoiceChanged = true
		d.NewVoiceKeywords = slices.Clone(new.Speech.VoiceKeywords)
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.OTLPEndpoint != new.Server.OTLPEndpoint {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Speech.DefaultVoice != new.Speech.DefaultVoice {
		d.RestartRequired = append(d.RestartRequired, "speech")
	}
	if !gatewayEqual(old.Gateway, new.Gateway) {
		d.RestartRequired = append(d.RestartRequired, "gateway")
	}
	if old.Listen.Language != new.Listen.Language ||
		old.Listen.SampleRate != new.Listen.SampleRate ||
		old.Listen.RearmDelay != new.Listen.RearmDelay ||
		old.Listen.SilenceTimeout != new.Listen.SilenceTimeout ||
		old.Listen.Hold() != new.Listen.Hold() {
		d.RestartRequired = append(d.RestartRequired, "listen")
	}
	if !providerEqual(old.Providers.STT, new.Providers.STT) ||
		!providerEqual(old.Providers.TTS, new.Providers.TTS) ||
		!providerEqual(old.Providers.TTSFallback, new.Providers.TTSFallback) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.VoiceCommands.Enabled != new.VoiceCommands.Enabled ||
		old.VoiceCommands.Threshold != new.VoiceCommands.Threshold ||
		!slices.Equal(old.VoiceCommands.PausePhrases, new.VoiceCommands.PausePhrases) {
		d.RestartRequired = append(d.RestartRequired, "voice_commands")
	}

	return d
}

func gatewayEqual(a, b GatewayConfig) bool {
	if a.BaseURL != b.BaseURL || a.Timeout != b.Timeout {
		return false
	}
	if (a.CircuitBreaker == nil) != (b.CircuitBreaker == nil) {
		return false
	}
	return a.CircuitBreaker == nil || *a.CircuitBreaker == *b.CircuitBreaker
}

func providerEqual(a, b ProviderEntry) bool {
	return reflect.DeepEqual(a, b)
}
