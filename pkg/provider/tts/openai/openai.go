// Package openai provides a TTS provider backed by the OpenAI audio speech
// endpoint. Each utterance is a single request; the response body is raw
// 24 kHz 16-bit mono PCM streamed back as it arrives.
package openai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxlink/pkg/provider/tts"
)

// DefaultModel is the default OpenAI speech model.
const DefaultModel = "gpt-4o-mini-tts"

// pcmSampleRate is fixed by the API for response_format=pcm.
const pcmSampleRate = 24000

const (
	providerName = "openai"
	readChunk    = 4800 // 100 ms at 24 kHz
)

// builtinVoices is the fixed OpenAI voice catalogue. The API has no listing
// endpoint, so gender metadata is maintained here.
var builtinVoices = []struct {
	id, gender string
}{
	{"alloy", "neutral"},
	{"ash", "male"},
	{"ballad", "male"},
	{"coral", "female"},
	{"echo", "male"},
	{"fable", "male"},
	{"nova", "female"},
	{"onyx", "male"},
	{"sage", "female"},
	{"shimmer", "female"},
}

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI TTS Provider.
// If model is empty, DefaultModel is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return pcmSampleRate }

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	out := make([]tts.VoiceProfile, 0, len(builtinVoices))
	for _, v := range builtinVoices {
		out = append(out, tts.VoiceProfile{
			ID:       v.id,
			Name:     v.id,
			Provider: providerName,
			Metadata: map[string]string{tts.MetaGender: v.gender},
		})
	}
	return out, nil
}

// SynthesizeStream implements tts.Provider. The API accepts a complete input,
// so fragments are collected until text is closed before the request is sent.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = "alloy"
	}

	audioCh := make(chan []byte, 64)
	go func() {
		defer close(audioCh)

		input, ok := collect(ctx, text)
		if !ok || strings.TrimSpace(input) == "" {
			return
		}

		resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
			Input:          input,
			Model:          oai.SpeechModel(p.model),
			Voice:          oai.AudioSpeechNewParamsVoice(voiceID),
			ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
			Speed:          oai.Float(voice.Speed()),
		})
		if err != nil {
			slog.Warn("openai tts: speech request failed", "voice", voiceID, "err", err)
			return
		}
		defer resp.Body.Close()

		streamBody(ctx, resp.Body, audioCh)
	}()
	return audioCh, nil
}

// collect joins fragments from text until it is closed. ok is false when ctx
// ended first.
func collect(ctx context.Context, text <-chan string) (string, bool) {
	var sb strings.Builder
	for {
		select {
		case frag, open := <-text:
			if !open {
				return sb.String(), true
			}
			if sb.Len() > 0 && frag != "" {
				sb.WriteByte(' ')
			}
			sb.WriteString(frag)
		case <-ctx.Done():
			return "", false
		}
	}
}

// streamBody forwards r to out in sample-aligned chunks.
func streamBody(ctx context.Context, r io.Reader, out chan<- []byte) {
	buf := make([]byte, readChunk)
	var carry []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			even := len(data) &^ 1
			chunk := make([]byte, even)
			copy(chunk, data[:even])
			carry = append([]byte(nil), data[even:]...)
			if len(chunk) > 0 {
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				slog.Warn("openai tts: read audio", "err", err)
			}
			return
		}
	}
}
