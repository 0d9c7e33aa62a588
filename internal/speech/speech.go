// Package speech speaks command processor replies through a TTS provider and
// the local speaker.
//
// An [Output] plays at most one utterance at a time: [Output.Speak] cancels
// whatever is being said before starting the new text. Voices are chosen
// once per provider from its catalogue, preferring female voices, and
// rendered at neutral rate and pitch.
//
// Several providers can be registered; they are tried in order when
// synthesis cannot start, each behind its own circuit breaker.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/resilience"
	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/provider/tts"
)

// DefaultKeywords are matched against voice names and IDs when picking a
// voice.
var DefaultKeywords = []string{"female", "zira"}

// ErrNoEngine is returned by [New] when no provider was supplied.
var ErrNoEngine = errors.New("speech: at least one engine is required")

// ErrClosed is returned by [Output.Speak] after [Output.Close].
var ErrClosed = errors.New("speech: output closed")

// Engine is a named TTS provider. DefaultVoice is the voice ID used when no
// catalogue entry matches the keywords; empty means the first catalogue
// voice, or the provider's own default when the catalogue is empty.
type Engine struct {
	Name         string
	Provider     tts.Provider
	DefaultVoice string
}

// Option configures an [Output].
type Option func(*Output)

// WithKeywords replaces [DefaultKeywords]. Matching is case-insensitive.
func WithKeywords(keywords ...string) Option {
	return func(o *Output) { o.keywords = normalizeKeywords(keywords) }
}

// WithFallback registers an engine tried after the primary.
func WithFallback(e Engine) Option {
	return func(o *Output) { o.fallbacks = append(o.fallbacks, e) }
}

// WithBreaker sets the breaker template applied to every engine.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(o *Output) { o.breaker = cfg }
}

// WithMetrics records utterance durations and provider errors.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Output) { o.metrics = m }
}

// Output is the speech output. It is safe for concurrent use.
type Output struct {
	playback  audio.Playback
	group     *resilience.FallbackGroup[*engine]
	engines   []*engine
	fallbacks []Engine
	breaker   resilience.CircuitBreakerConfig
	metrics   *observe.Metrics

	mu       sync.Mutex
	keywords []string
	cur      *utterance
	closed   bool
	wg       sync.WaitGroup
}

// utterance is one Speak call in flight.
type utterance struct {
	text   string
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an Output speaking through primary and playback.
func New(primary Engine, playback audio.Playback, opts ...Option) (*Output, error) {
	if primary.Provider == nil {
		return nil, ErrNoEngine
	}
	if playback == nil {
		return nil, errors.New("speech: playback is required")
	}
	o := &Output{
		playback: playback,
		keywords: normalizeKeywords(DefaultKeywords),
	}
	for _, opt := range opts {
		opt(o)
	}

	first := newEngine(primary, 0)
	o.engines = append(o.engines, first)
	o.group = resilience.NewFallbackGroup(first, first.name,
		resilience.FallbackConfig{CircuitBreaker: o.breaker})
	for _, fb := range o.fallbacks {
		if fb.Provider == nil {
			continue
		}
		e := newEngine(fb, len(o.engines))
		o.engines = append(o.engines, e)
		o.group.AddFallback(e.name, e)
	}
	return o, nil
}

// Engines returns the engine names in failover order.
func (o *Output) Engines() []string { return o.group.Names() }

// SetKeywords replaces the voice keywords. Cached voice choices are dropped
// so the next utterance picks again.
func (o *Output) SetKeywords(keywords []string) {
	kw := normalizeKeywords(keywords)
	o.mu.Lock()
	o.keywords = kw
	o.mu.Unlock()
	for _, e := range o.engines {
		e.forgetChoice()
	}
}

// Speak cancels the utterance in flight, if any, and starts speaking text in
// the background. Blank text only cancels. ctx bounds the new utterance.
func (o *Output) Speak(ctx context.Context, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}

	prev := o.cur
	if prev != nil {
		prev.cancel()
	}
	o.cur = nil
	if strings.TrimSpace(text) == "" {
		return nil
	}

	uctx, cancel := context.WithCancel(ctx)
	u := &utterance{text: text, cancel: cancel, done: make(chan struct{})}
	o.cur = u
	keywords := o.keywords

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(u.done)
		defer cancel()
		if prev != nil {
			<-prev.done
		}
		o.run(uctx, u, keywords)
	}()
	return nil
}

// Speaking reports whether an utterance is in flight.
func (o *Output) Speaking() bool {
	o.mu.Lock()
	u := o.cur
	o.mu.Unlock()
	if u == nil {
		return false
	}
	select {
	case <-u.done:
		return false
	default:
		return true
	}
}

// Done returns a channel closed once the current utterance has finished.
// With nothing in flight the channel is already closed.
func (o *Output) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur == nil {
		return closedCh
	}
	return o.cur.done
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Cancel stops the current utterance. No-op when silent.
func (o *Output) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur != nil {
		o.cur.cancel()
	}
}

// Close cancels speech and waits for playback to stop. Further Speak calls
// fail with [ErrClosed].
func (o *Output) Close() error {
	o.mu.Lock()
	o.closed = true
	if o.cur != nil {
		o.cur.cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
	return nil
}

// Voice returns the voice the first healthy engine would use right now.
func (o *Output) Voice(ctx context.Context) (engineName string, v tts.VoiceProfile, err error) {
	o.mu.Lock()
	keywords := o.keywords
	o.mu.Unlock()
	err = o.group.Execute(func(e *engine) error {
		engineName, v = e.name, e.voice(ctx, keywords)
		return nil
	})
	return engineName, v, err
}

func (o *Output) run(ctx context.Context, u *utterance, keywords []string) {
	start := time.Now()
	status := "ok"
	defer func() {
		if o.metrics != nil {
			o.metrics.SpeechDuration.Record(context.WithoutCancel(ctx), time.Since(start).Seconds(),
				metric.WithAttributes(observe.Attr("status", status)))
		}
	}()

	st, err := resilience.ExecuteWithResult(o.group, func(e *engine) (stream, error) {
		voice := e.voice(ctx, keywords)
		text := make(chan string, 1)
		text <- u.text
		close(text)
		pcm, err := e.provider.SynthesizeStream(ctx, text, voice)
		if err != nil {
			if o.metrics != nil && ctx.Err() == nil {
				o.metrics.RecordProviderError(ctx, e.name, "tts")
			}
			return stream{}, err
		}
		return stream{engine: e, voice: voice, pcm: pcm}, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			status = "interrupted"
			return
		}
		status = "error"
		slog.Warn("speech synthesis failed", "err", err)
		return
	}

	format := audio.Format{SampleRate: st.engine.provider.SampleRate(), Channels: 1}
	slog.Debug("speaking", "engine", st.engine.name, "voice", st.voice.ID, "chars", len(u.text))
	if err := o.playback.Play(ctx, st.pcm, format); err != nil {
		audio.Drain(st.pcm)
		if ctx.Err() != nil {
			status = "interrupted"
			return
		}
		status = "error"
		slog.Warn("speech playback failed", "engine", st.engine.name, "err", err)
	}
}

// stream is a started synthesis.
type stream struct {
	engine *engine
	voice  tts.VoiceProfile
	pcm    <-chan []byte
}

// engine wraps a provider with its cached catalogue and voice choice.
type engine struct {
	name         string
	provider     tts.Provider
	defaultVoice string

	mu     sync.Mutex
	loaded bool
	voices []tts.VoiceProfile
	choice *tts.VoiceProfile
}

func newEngine(e Engine, i int) *engine {
	name := e.Name
	if name == "" {
		name = fmt.Sprintf("tts-%d", i)
	}
	return &engine{name: name, provider: e.Provider, defaultVoice: e.DefaultVoice}
}

func (e *engine) forgetChoice() {
	e.mu.Lock()
	e.choice = nil
	e.mu.Unlock()
}

// voice returns the cached choice, selecting it on first use. A failed
// catalogue fetch is not cached, so the next call tries again.
func (e *engine) voice(ctx context.Context, keywords []string) tts.VoiceProfile {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.choice != nil {
		return *e.choice
	}
	if !e.loaded {
		voices, err := e.provider.ListVoices(ctx)
		if err != nil {
			slog.Warn("speech: voice catalogue unavailable", "engine", e.name, "err", err)
			return neutral(tts.VoiceProfile{ID: e.defaultVoice})
		}
		e.voices, e.loaded = voices, true
	}
	v := neutral(SelectVoice(e.voices, keywords, e.defaultVoice))
	e.choice = &v
	slog.Info("speech voice selected", "engine", e.name, "voice_id", v.ID, "voice_name", v.Name)
	return v
}

// neutral pins rate and pitch to their defaults.
func neutral(v tts.VoiceProfile) tts.VoiceProfile {
	v.SpeedFactor = 1.0
	v.PitchShift = 0
	return v
}

// SelectVoice picks the first voice whose name or ID contains one of
// keywords, or whose gender metadata is female. Without a match it returns
// the voice with ID or name defaultVoice, then the first voice, then a bare
// profile carrying defaultVoice as its ID.
//
// The first-voice step stands in for an engine default voice: streaming
// engines such as ElevenLabs have none and reject an empty voice ID.
func SelectVoice(voices []tts.VoiceProfile, keywords []string, defaultVoice string) tts.VoiceProfile {
	keywords = normalizeKeywords(keywords)
	for _, v := range voices {
		if isPreferred(v, keywords) {
			return v
		}
	}
	if defaultVoice != "" {
		for _, v := range voices {
			if v.ID == defaultVoice || strings.EqualFold(v.Name, defaultVoice) {
				return v
			}
		}
		return tts.VoiceProfile{ID: defaultVoice}
	}
	if len(voices) > 0 {
		return voices[0]
	}
	return tts.VoiceProfile{}
}

func isPreferred(v tts.VoiceProfile, keywords []string) bool {
	if strings.EqualFold(v.Metadata[tts.MetaGender], "female") {
		return true
	}
	name, id := strings.ToLower(v.Name), strings.ToLower(v.ID)
	return slices.ContainsFunc(keywords, func(k string) bool {
		return strings.Contains(name, k) || strings.Contains(id, k)
	})
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}
