// Package listen runs one capture session at a time: it opens the microphone,
// streams the audio to a speech-to-text engine and reports what happens as
// generation-tagged events.
//
// A session starts with EventStart and always ends with EventEnd, with
// EventResult and EventError in between. Events from one session carry the
// generation returned by the Begin call that started it, so consumers can
// drop late events from a session they already abandoned.
package listen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/provider/stt"
)

// ErrCaptureUnavailable is returned (wrapped) by Begin when capture cannot
// start: no capture engine is configured, the microphone cannot be opened or
// the recognition stream cannot be established.
var ErrCaptureUnavailable = errors.New("listen: capture unavailable")

// DefaultStartTimeout bounds how long Begin waits for the microphone and the
// recognition stream to come up.
const DefaultStartTimeout = 10 * time.Second

// ErrSilence is reported when a session ends because nothing was recognised
// for the configured silence timeout.
var ErrSilence = errors.New("listen: no speech detected")

// EventType classifies session events.
type EventType int

const (
	// EventStart is emitted once capture is running.
	EventStart EventType = iota
	// EventResult carries the current recognition results.
	EventResult
	// EventError reports a recognition or capture fault.
	EventError
	// EventEnd is the last event of every session.
	EventEnd
)

// String returns the lowercase name of the event type.
func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventResult:
		return "result"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Result is one recognised segment.
type Result struct {
	IsFinal bool
	// Alternatives are the ranked hypotheses, best first. Never empty.
	Alternatives []string
}

// Best returns the top hypothesis.
func (r Result) Best() string {
	if len(r.Alternatives) == 0 {
		return ""
	}
	return r.Alternatives[0]
}

// Event is emitted by a [Session].
type Event struct {
	Type EventType
	Gen  uint64
	// Results holds, for EventResult, every segment committed so far in the
	// session followed by the segment in progress, in engine order.
	Results []Result
	// Err is set for EventError.
	Err error
}

// Config controls capture and recognition.
type Config struct {
	// Device is the format the microphone is opened with. Default: the
	// recognition format.
	Device audio.Format

	// Stream is passed to the STT engine. Default: 16 kHz mono.
	Stream stt.StreamConfig

	// SilenceTimeout ends the session when no result arrived for this long.
	// Zero disables it.
	SilenceTimeout time.Duration

	// StartTimeout bounds opening the microphone and the recognition stream
	// in Begin. Default: [DefaultStartTimeout].
	StartTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Stream.SampleRate == 0 {
		c.Stream.SampleRate = 16000
	}
	if c.Stream.Channels == 0 {
		c.Stream.Channels = 1
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.Device.SampleRate == 0 {
		c.Device.SampleRate = c.Stream.SampleRate
	}
	if c.Device.Channels == 0 {
		c.Device.Channels = c.Stream.Channels
	}
}

// Session adapts a microphone and an STT engine into the listening session
// the controller drives. Only one capture runs at a time.
//
// All methods are safe for concurrent use.
type Session struct {
	capture  audio.Capture
	provider stt.Provider
	cfg      Config

	mu     sync.Mutex
	gen    uint64
	active *run
	sink   func(Event)
}

// New returns a Session. Either collaborator may be nil, in which case Begin
// fails with ErrCaptureUnavailable.
func New(capture audio.Capture, provider stt.Provider, cfg Config) *Session {
	cfg.applyDefaults()
	return &Session{capture: capture, provider: provider, cfg: cfg}
}

// OnEvent registers fn as the event sink, replacing any previous one. fn is
// called from internal goroutines, one event at a time per session, and must
// not block for long.
func (s *Session) OnEvent(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = fn
}

// Active reports whether a capture is running.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Begin starts a new capture session and returns its generation. A session
// still running is ended first.
func (s *Session) Begin(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.active.stop(nil)
		s.active = nil
	}
	if s.capture == nil || s.provider == nil {
		return 0, fmt.Errorf("listen: begin: no capture engine configured: %w", ErrCaptureUnavailable)
	}

	// runCtx outlives Begin, so the start phase is bounded by a watchdog
	// instead of a deadline on the context.
	runCtx, cancel := context.WithCancel(ctx)
	watchdog := time.AfterFunc(s.cfg.StartTimeout, cancel)
	in, err := s.capture.Open(runCtx, s.cfg.Device)
	if err != nil {
		watchdog.Stop()
		cancel()
		return 0, fmt.Errorf("listen: open microphone: %w: %w", ErrCaptureUnavailable, err)
	}
	handle, err := s.provider.StartStream(runCtx, s.cfg.Stream)
	if !watchdog.Stop() {
		if err == nil {
			_ = handle.Close()
		}
		err = fmt.Errorf("not started within %v: %w", s.cfg.StartTimeout, context.DeadlineExceeded)
	}
	if err != nil {
		_ = in.Close()
		cancel()
		return 0, fmt.Errorf("listen: start recognition: %w: %w", ErrCaptureUnavailable, err)
	}

	s.gen++
	r := &run{
		gen:     s.gen,
		cancel:  cancel,
		in:      in,
		handle:  handle,
		emit:    s.emitter(),
		silence: s.cfg.SilenceTimeout,
	}
	r.onDone = func() { s.release(r) }
	s.active = r

	target := audio.Format{SampleRate: s.cfg.Stream.SampleRate, Channels: s.cfg.Stream.Channels}
	go r.pumpAudio(audio.ConvertStream(in.Frames(), target))
	go r.pumpResults()

	slog.Debug("listen: session started", "gen", r.gen, "device", s.cfg.Device)
	return r.gen, nil
}

// End stops the running capture, if any. It returns without waiting for the
// engine to wind down; EventEnd follows asynchronously. Calling End with no
// active session is a no-op.
func (s *Session) End() error {
	s.mu.Lock()
	r := s.active
	s.active = nil
	s.mu.Unlock()

	if r != nil {
		r.stop(nil)
	}
	return nil
}

// emitter returns a function delivering events to the current sink.
func (s *Session) emitter() func(Event) {
	return func(ev Event) {
		s.mu.Lock()
		sink := s.sink
		s.mu.Unlock()
		if sink != nil {
			sink(ev)
		}
	}
}

// release clears r as the active run once it finished on its own.
func (s *Session) release(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == r {
		s.active = nil
	}
}

// run is a single capture session.
type run struct {
	gen     uint64
	cancel  context.CancelFunc
	in      audio.InputStream
	handle  stt.SessionHandle
	emit    func(Event)
	onDone  func()
	silence time.Duration

	stopOnce sync.Once
	errMu    sync.Mutex
	err      error // local fault that ended the run
}

// stop tears the run down in the background. cause, if non-nil, is reported
// as EventError before EventEnd.
func (r *run) stop(cause error) {
	r.stopOnce.Do(func() {
		if cause != nil {
			r.errMu.Lock()
			r.err = cause
			r.errMu.Unlock()
		}
		go func() {
			if err := r.in.Close(); err != nil {
				slog.Debug("listen: close microphone", "gen", r.gen, "err", err)
			}
			if err := r.handle.Close(); err != nil {
				slog.Debug("listen: close recognition", "gen", r.gen, "err", err)
			}
			r.cancel()
		}()
	})
}

func (r *run) localErr() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

// pumpAudio forwards microphone frames to the engine.
func (r *run) pumpAudio(frames <-chan audio.AudioFrame) {
	for frame := range frames {
		if err := r.handle.SendAudio(frame.Data); err != nil {
			if !errors.Is(err, stt.ErrSessionClosed) {
				r.stop(fmt.Errorf("listen: send audio: %w", err))
			}
			audio.Drain(frames)
			return
		}
	}
}

// pumpResults turns engine output into events. It owns the event order of
// the run: start, results, optional error, end.
func (r *run) pumpResults() {
	r.emit(Event{Type: EventStart, Gen: r.gen})

	var (
		committed []Result
		timer     *time.Timer
		timeout   <-chan time.Time
	)
	if r.silence > 0 {
		timer = time.NewTimer(r.silence)
		defer timer.Stop()
		timeout = timer.C
	}

	results := r.handle.Transcripts()
loop:
	for {
		select {
		case t, ok := <-results:
			if !ok {
				break loop
			}
			if timer != nil {
				timer.Reset(r.silence)
			}
			res := Result{IsFinal: t.IsFinal, Alternatives: t.Texts()}
			snapshot := make([]Result, 0, len(committed)+1)
			snapshot = append(snapshot, committed...)
			snapshot = append(snapshot, res)
			if t.IsFinal {
				committed = append(committed, res)
			}
			r.emit(Event{Type: EventResult, Gen: r.gen, Results: snapshot})
		case <-timeout:
			timeout = nil
			r.stop(ErrSilence)
		}
	}

	if err := r.localErr(); err != nil {
		r.emit(Event{Type: EventError, Gen: r.gen, Err: err})
	} else if err := r.handle.Err(); err != nil {
		r.emit(Event{Type: EventError, Gen: r.gen, Err: err})
	}
	// The engine may finish on its own; make sure the microphone is released.
	r.stop(nil)
	r.onDone()
	r.emit(Event{Type: EventEnd, Gen: r.gen})
}
