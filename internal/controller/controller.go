// Package controller implements the interaction controller: the state machine
// that turns captured speech into command processor round-trips and spoken
// replies.
//
// A voice turn runs Idle → Listening → Processing → Idle. Capture is ended in
// the same step that accepts a final transcript, before the command is sent,
// so the spoken reply can never be captured as the next command. At most one
// request is outstanding at any time. After a completed turn listening is
// re-armed once the re-arm delay has passed, unless the user paused.
//
// All transitions happen on the goroutine running [Controller.Run]. The other
// methods only post events to it.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxlink/internal/gateway"
	"github.com/MrWong99/voxlink/internal/listen"
	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/transcript"
	"github.com/MrWong99/voxlink/internal/voicecmd"
)

// UI texts.
const (
	StatusListening  = "Listening..."
	StatusProcessing = "Processing..."
	StatusReady      = "Ready to listen"
	StatusIdle       = "Press Enter to start speaking"
	StatusPaused     = "Listening paused. Press Enter to resume"

	// FallbackErrorMessage replaces an empty failure message.
	FallbackErrorMessage = "Error processing command. Please try again."

	// Apology is spoken after a failed turn.
	Apology = "I encountered an error. Please try again."
)

// DefaultRearmDelay is the pause between a finished turn and the automatic
// restart of listening.
const DefaultRearmDelay = time.Second

// ErrAlreadyRunning is returned by a second concurrent call to Run.
var ErrAlreadyRunning = errors.New("controller: already running")

// State is the controller's turn state.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// Listener is the capture side: a microphone feeding a recogniser.
type Listener interface {
	OnEvent(fn func(listen.Event))
	Begin(ctx context.Context) (uint64, error)
	End() error
}

// Gateway submits a finalized transcript.
type Gateway interface {
	Submit(ctx context.Context, text string) gateway.Result
}

// Speaker speaks text, cancelling whatever it was saying.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Speaking() bool
	Done() <-chan struct{}
}

// UI is the presentation surface. Transcript changes reach it through the
// transcript log's observer, not through the controller.
type UI interface {
	SetStatus(text string)
	SetRecording(on bool)
	SetLastCommand(text string)
}

type nopUI struct{}

func (nopUI) SetStatus(string)      {}
func (nopUI) SetRecording(bool)     {}
func (nopUI) SetLastCommand(string) {}

// Option configures a [Controller].
type Option func(*Controller)

// WithUI sets the presentation surface.
func WithUI(ui UI) Option {
	return func(c *Controller) { c.ui = ui }
}

// WithRearmDelay overrides [DefaultRearmDelay].
func WithRearmDelay(d time.Duration) Option {
	return func(c *Controller) { c.rearmDelay = d }
}

// WithHoldWhileSpeaking delays a due re-arm until the speaker went quiet.
func WithHoldWhileSpeaking(hold bool) Option {
	return func(c *Controller) { c.holdWhileSpeaking = hold }
}

// WithCommands enables local voice commands. A final transcript matching a
// pause command is handled without contacting the gateway.
func WithCommands(f *voicecmd.Filter) Option {
	return func(c *Controller) { c.commands = f }
}

// WithMetrics records turn outcomes, re-arms and recognition errors.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller is the interaction controller.
type Controller struct {
	listener Listener
	gateway  Gateway
	speaker  Speaker
	log      *transcript.Log

	ui                UI
	rearmDelay        time.Duration
	holdWhileSpeaking bool
	commands          *voicecmd.Filter
	metrics           *observe.Metrics

	events  chan any
	done    chan struct{}
	running atomic.Bool

	stateMirror  atomic.Int32
	pausedMirror atomic.Bool

	// Loop-owned.
	state      State
	paused     bool
	gen        uint64
	capturing  bool
	rearmCycle uint64
	rearm      *time.Timer
	turnSeq    uint64
	turn       *turn
}

// turn is the request in flight.
type turn struct {
	seq     uint64
	id      string
	command string
	started time.Time
	ctx     context.Context
	span    trace.Span
}

type (
	evStart   struct{}
	evStop    struct{}
	evToggle  struct{}
	evSession struct{ ev listen.Event }
	evReply   struct {
		seq uint64
		res gateway.Result
	}
	evRearm struct{ cycle uint64 }
)

// New creates a Controller. listener, gw, speaker and log are required.
func New(listener Listener, gw Gateway, speaker Speaker, log *transcript.Log, opts ...Option) (*Controller, error) {
	if listener == nil || gw == nil || speaker == nil || log == nil {
		return nil, errors.New("controller: listener, gateway, speaker and transcript log are required")
	}
	c := &Controller{
		listener:   listener,
		gateway:    gw,
		speaker:    speaker,
		log:        log,
		ui:         nopUI{},
		rearmDelay: DefaultRearmDelay,
		events:     make(chan any, 64),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Start requests Idle → Listening. It is ignored, with a warning, unless
// the controller is Idle. Start clears a user pause.
func (c *Controller) Start() { c.post(evStart{}) }

// Stop requests Listening → Idle and pauses automatic re-arming until the
// next Start or Toggle. In any other state only the pause takes effect.
func (c *Controller) Stop() { c.post(evStop{}) }

// Toggle stops when Listening and starts otherwise.
func (c *Controller) Toggle() { c.post(evToggle{}) }

// State returns a snapshot of the current state.
func (c *Controller) State() State { return State(c.stateMirror.Load()) }

// Paused reports whether automatic re-arming is suppressed by the user.
func (c *Controller) Paused() bool { return c.pausedMirror.Load() }

// Ready reports whether the event loop is running. It serves readiness
// probes.
func (c *Controller) Ready() bool {
	if !c.running.Load() {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// post delivers e to the loop. Events posted after Run returned are dropped.
func (c *Controller) post(e any) {
	select {
	case c.events <- e:
	case <-c.done:
	}
}

// Run processes events until ctx is cancelled. It ends any capture and
// pending re-arm on the way out and returns nil.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	c.listener.OnEvent(func(ev listen.Event) { c.post(evSession{ev}) })
	c.ui.SetStatus(StatusIdle)
	c.ui.SetRecording(false)

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case e := <-c.events:
			c.handle(ctx, e)
		}
	}
}

func (c *Controller) shutdown() {
	c.cancelRearm()
	c.endCapture()
	if t := c.turn; t != nil {
		t.span.End()
		c.turn = nil
	}
	c.listener.OnEvent(nil)
}

func (c *Controller) handle(ctx context.Context, e any) {
	switch e := e.(type) {
	case evStart:
		c.setPaused(false)
		c.start(ctx)
	case evStop:
		c.stop()
	case evToggle:
		if c.state == StateListening {
			c.stop()
		} else {
			c.setPaused(false)
			c.start(ctx)
		}
	case evSession:
		c.onSession(ctx, e.ev)
	case evReply:
		c.onReply(ctx, e.seq, e.res)
	case evRearm:
		c.onRearm(ctx, e.cycle)
	}
}

// start begins capture from Idle and reports whether it did.
func (c *Controller) start(ctx context.Context) bool {
	if c.state != StateIdle {
		slog.Warn("start ignored", "state", c.state.String())
		return false
	}
	c.cancelRearm()

	gen, err := c.listener.Begin(ctx)
	if err != nil {
		slog.Warn("cannot start listening", "err", err)
		c.ui.SetStatus("Error: " + describe(err))
		return false
	}
	c.gen = gen
	c.capturing = true
	if c.metrics != nil {
		c.metrics.ActiveCaptures.Add(ctx, 1)
	}
	c.setState(StateListening)
	slog.Debug("listening", "gen", gen)
	return true
}

func (c *Controller) stop() {
	c.setPaused(true)
	c.cancelRearm()
	if c.state != StateListening {
		return
	}
	c.endCapture()
	c.log.DiscardInterim()
	c.setState(StateIdle)
	c.ui.SetRecording(false)
	c.ui.SetStatus(StatusIdle)
}

// endCapture ends the running capture and forgets its generation so late
// events from it are ignored.
func (c *Controller) endCapture() {
	if !c.capturing {
		return
	}
	if err := c.listener.End(); err != nil {
		slog.Warn("ending capture failed", "gen", c.gen, "err", err)
	}
	c.capturing = false
	c.gen = 0
	if c.metrics != nil {
		c.metrics.ActiveCaptures.Add(context.Background(), -1)
	}
}

func (c *Controller) onSession(ctx context.Context, ev listen.Event) {
	if ev.Gen == 0 || ev.Gen != c.gen {
		slog.Debug("ignoring event from stale capture", "type", ev.Type.String(), "gen", ev.Gen, "current", c.gen)
		return
	}

	switch ev.Type {
	case listen.EventStart:
		if c.state == StateListening {
			c.ui.SetStatus(StatusListening)
			c.ui.SetRecording(true)
		}

	case listen.EventResult:
		if c.state != StateListening || len(ev.Results) == 0 {
			return
		}
		text := joinBest(ev.Results)
		if ev.Results[len(ev.Results)-1].IsFinal {
			c.onFinal(ctx, text)
			return
		}
		if text == "" {
			c.log.DiscardInterim()
			return
		}
		c.log.AppendInterim(text)

	case listen.EventError:
		slog.Warn("recognition error", "gen", ev.Gen, "err", ev.Err)
		if c.metrics != nil {
			c.metrics.RecognitionErrors.Add(ctx, 1)
		}
		c.ui.SetStatus("Error: " + describe(ev.Err))

	case listen.EventEnd:
		c.capturing = false
		c.gen = 0
		if c.metrics != nil {
			c.metrics.ActiveCaptures.Add(ctx, -1)
		}
		c.ui.SetRecording(false)
		if c.state == StateListening {
			c.log.DiscardInterim()
			c.setState(StateIdle)
			c.ui.SetStatus(StatusIdle)
		}
	}
}

// onFinal commits the utterance, ends capture and submits the command.
func (c *Controller) onFinal(ctx context.Context, text string) {
	c.endCapture()
	c.ui.SetRecording(false)

	if text == "" {
		c.log.DiscardInterim()
		c.setState(StateIdle)
		c.ui.SetStatus(StatusReady)
		c.record(ctx, "empty", 0)
		c.scheduleRearm()
		return
	}

	c.log.CommitFinal(text)
	c.ui.SetLastCommand(text)

	if c.commands != nil {
		if cmd, ok := c.commands.Check(text); ok && cmd.Action == voicecmd.ActionPause {
			slog.Info("voice command", "command", cmd.Name)
			c.setPaused(true)
			c.setState(StateIdle)
			c.ui.SetStatus(StatusPaused)
			c.record(ctx, "local", 0)
			return
		}
	}

	c.setState(StateProcessing)
	c.ui.SetStatus(StatusProcessing)

	c.turnSeq++
	t := &turn{
		seq:     c.turnSeq,
		id:      uuid.NewString(),
		command: text,
		started: time.Now(),
	}
	t.ctx, t.span = observe.StartTurn(ctx, t.id)
	c.turn = t
	observe.Logger(t.ctx).Info("submitting command", "turn", t.id, "chars", len(text))

	go func() {
		res := c.gateway.Submit(t.ctx, text)
		c.post(evReply{seq: t.seq, res: res})
	}()
}

func (c *Controller) onReply(ctx context.Context, seq uint64, res gateway.Result) {
	t := c.turn
	if t == nil || t.seq != seq || c.state != StateProcessing {
		slog.Debug("ignoring reply for finished turn", "seq", seq)
		return
	}
	c.turn = nil
	logger := observe.Logger(t.ctx).With("turn", t.id)

	switch r := res.(type) {
	case gateway.Success:
		if r.Text != "" {
			c.log.AppendSystem(r.Text, false)
			c.speak(ctx, r.Text)
		}
		c.ui.SetStatus(StatusReady)
		t.span.SetAttributes(attribute.String("turn.outcome", "success"))
		logger.Info("turn complete", "chars", len(r.Text))
		c.record(ctx, "success", time.Since(t.started))

	case gateway.Failure:
		msg := r.Message
		if strings.TrimSpace(msg) == "" {
			msg = FallbackErrorMessage
		}
		c.log.AppendSystem(msg, true)
		c.speak(ctx, Apology)
		c.ui.SetStatus(msg)
		t.span.SetAttributes(
			attribute.String("turn.outcome", "failure"),
			attribute.String("turn.fault", r.Fault.String()),
		)
		logger.Warn("turn failed", "fault", r.Fault.String(), "err", msg)
		c.record(ctx, "failure", time.Since(t.started))
	}

	t.span.End()
	c.setState(StateIdle)
	c.scheduleRearm()
}

func (c *Controller) speak(ctx context.Context, text string) {
	if err := c.speaker.Speak(ctx, text); err != nil {
		slog.Warn("cannot speak reply", "err", err)
	}
}

// scheduleRearm arms the re-arm timer for a new cycle unless paused.
func (c *Controller) scheduleRearm() {
	if c.paused {
		return
	}
	c.cancelRearm()
	cycle := c.rearmCycle
	c.rearm = time.AfterFunc(c.rearmDelay, func() { c.post(evRearm{cycle: cycle}) })
}

// cancelRearm stops the timer and invalidates any tick already posted.
func (c *Controller) cancelRearm() {
	if c.rearm != nil {
		c.rearm.Stop()
		c.rearm = nil
	}
	c.rearmCycle++
}

func (c *Controller) onRearm(ctx context.Context, cycle uint64) {
	if cycle != c.rearmCycle {
		return
	}
	if c.paused || c.state != StateIdle {
		c.recordRearm(ctx, "skipped")
		return
	}
	if c.holdWhileSpeaking && c.speaker.Speaking() {
		c.recordRearm(ctx, "deferred")
		quiet := c.speaker.Done()
		go func() {
			select {
			case <-quiet:
				c.post(evRearm{cycle: cycle})
			case <-c.done:
			}
		}()
		return
	}

	c.rearm = nil
	if c.start(ctx) {
		c.recordRearm(ctx, "started")
		return
	}
	c.recordRearm(ctx, "failed")
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	slog.Debug("state change", "from", c.state.String(), "state", s.String())
	c.state = s
	c.stateMirror.Store(int32(s))
}

func (c *Controller) setPaused(p bool) {
	c.paused = p
	c.pausedMirror.Store(p)
}

func (c *Controller) record(ctx context.Context, outcome string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordTurn(ctx, outcome, d)
	}
}

func (c *Controller) recordRearm(ctx context.Context, result string) {
	slog.Debug("re-arm", "result", result)
	if c.metrics != nil {
		c.metrics.RecordRearm(ctx, result)
	}
}

// joinBest concatenates the best hypothesis of every result in order.
func joinBest(results []listen.Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if s := strings.TrimSpace(r.Best()); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// describe renders a capture fault for the status line.
func describe(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, listen.ErrSilence):
		return "no speech detected"
	case errors.Is(err, listen.ErrCaptureUnavailable):
		return "speech capture unavailable"
	default:
		return err.Error()
	}
}
