// Package app wires all voxlink subsystems into a running client.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the controller loop together with the console,
// the status server and the config watcher, and Shutdown tears everything
// down in order.
//
// For testing, inject providers directly through [Providers] and redirect
// the console with [WithInput] and [WithOutput].
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxlink/internal/config"
	"github.com/MrWong99/voxlink/internal/controller"
	"github.com/MrWong99/voxlink/internal/gateway"
	"github.com/MrWong99/voxlink/internal/health"
	"github.com/MrWong99/voxlink/internal/listen"
	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/resilience"
	"github.com/MrWong99/voxlink/internal/speech"
	"github.com/MrWong99/voxlink/internal/transcript"
	"github.com/MrWong99/voxlink/internal/ui/console"
	"github.com/MrWong99/voxlink/internal/voicecmd"
	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/provider/stt"
	"github.com/MrWong99/voxlink/pkg/provider/tts"
)

// shutdownGrace bounds the status server's graceful shutdown.
const shutdownGrace = 5 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	STT         stt.Provider
	TTS         tts.Provider
	TTSFallback tts.Provider
	Capture     audio.Capture
	Playback    audio.Playback
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	level   *slog.LevelVar
	metrics *observe.Metrics
	input   io.Reader
	output  io.Writer

	watchPath     string
	watchInterval time.Duration

	// Subsystems, initialised in New and torn down in Shutdown.
	log      *transcript.Log
	console  *console.Console
	listener *listen.Session
	gateway  *gateway.Gateway
	speech   *speech.Output // nil when replies are display-only
	ctrl     *controller.Controller
	watcher  *config.Watcher
	server   *http.Server
	ln       net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithInput sets where console controls are read from. Default: os.Stdin.
// A nil reader disables console controls.
func WithInput(r io.Reader) Option {
	return func(a *App) { a.input = r }
}

// WithOutput sets where the console writes. Default: os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.output = w }
}

// WithLevelVar lets hot reload change the level of the caller's logger.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithConfigFile watches path and applies live-reloadable changes. A zero
// interval uses the watcher's default.
func WithConfigFile(path string, interval time.Duration) Option {
	return func(a *App) {
		a.watchPath = path
		a.watchInterval = interval
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New binds the status server's listener so that [App.Addr] is valid before
// Run is called.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		input:     os.Stdin,
		output:    os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level != nil {
		a.level.Set(cfg.Server.LogLevel.Slog())
	}

	// ── 1. Console + transcript ──────────────────────────────────────────
	a.console = console.New(a.output)
	a.log = transcript.New(transcript.WithObserver(a.console.Observe))

	// ── 2. Listening session ─────────────────────────────────────────────
	a.listener = listen.New(providers.Capture, providers.STT, listen.Config{
		Stream: stt.StreamConfig{
			SampleRate: cfg.Listen.SampleRate,
			Channels:   1,
			Language:   cfg.Listen.Language,
		},
		SilenceTimeout: cfg.Listen.SilenceTimeout,
	})

	// ── 3. Command gateway ───────────────────────────────────────────────
	if err := a.initGateway(); err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	// ── 4. Speech output ─────────────────────────────────────────────────
	if err := a.initSpeech(); err != nil {
		return nil, fmt.Errorf("app: init speech: %w", err)
	}

	// ── 5. Controller ────────────────────────────────────────────────────
	if err := a.initController(); err != nil {
		return nil, fmt.Errorf("app: init controller: %w", err)
	}

	// ── 6. Config watcher ────────────────────────────────────────────────
	if a.watchPath != "" {
		var wopts []config.WatcherOption
		if a.watchInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.watchInterval))
		}
		w, err := config.NewWatcher(a.watchPath, a.Reload, wopts...)
		if err != nil {
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
	}

	// ── 7. Status server ─────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init status server: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initGateway() error {
	opts := []gateway.Option{
		gateway.WithTimeout(a.cfg.Gateway.Timeout),
		gateway.WithMetrics(a.metrics),
	}
	if cb := a.cfg.Gateway.CircuitBreaker; cb != nil {
		opts = append(opts, gateway.WithCircuitBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("command processor circuit changed", "breaker", name, "from", from, "to", to)
			},
		}))
	}
	gw, err := gateway.New(a.cfg.Gateway.BaseURL, opts...)
	if err != nil {
		return err
	}
	a.gateway = gw
	return nil
}

// initSpeech builds the speech output when a TTS provider and a playback
// device are available. Otherwise replies are only displayed.
func (a *App) initSpeech() error {
	p := a.providers
	if p.TTS == nil || p.Playback == nil {
		slog.Info("speech output disabled; replies are display-only",
			"tts", p.TTS != nil, "playback", p.Playback != nil)
		return nil
	}

	keywords := a.cfg.Speech.VoiceKeywords
	if len(keywords) == 0 {
		keywords = speech.DefaultKeywords
	}
	opts := []speech.Option{
		speech.WithKeywords(keywords...),
		speech.WithMetrics(a.metrics),
	}
	if p.TTSFallback != nil {
		opts = append(opts, speech.WithFallback(speech.Engine{
			Name:     a.cfg.Providers.TTSFallback.Name,
			Provider: p.TTSFallback,
		}))
	}
	out, err := speech.New(speech.Engine{
		Name:         a.cfg.Providers.TTS.Name,
		Provider:     p.TTS,
		DefaultVoice: a.cfg.Speech.DefaultVoice,
	}, p.Playback, opts...)
	if err != nil {
		return err
	}
	a.speech = out
	a.closers = append(a.closers, out.Close)
	return nil
}

func (a *App) initController() error {
	var speaker controller.Speaker = nopSpeaker{}
	if a.speech != nil {
		speaker = a.speech
	}

	opts := []controller.Option{
		controller.WithUI(a.console),
		controller.WithRearmDelay(a.cfg.Listen.RearmDelay),
		controller.WithHoldWhileSpeaking(a.cfg.Listen.Hold()),
		controller.WithMetrics(a.metrics),
	}
	if vc := a.cfg.VoiceCommands; vc.Enabled {
		f := voicecmd.New(
			[]voicecmd.Command{voicecmd.PauseCommand(vc.PausePhrases)},
			voicecmd.WithThreshold(vc.Threshold),
		)
		opts = append(opts, controller.WithCommands(f))
	}

	ctrl, err := controller.New(a.listener, a.gateway, speaker, a.log, opts...)
	if err != nil {
		return err
	}
	a.ctrl = ctrl
	return nil
}

func (a *App) initServer() error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	health.New(
		health.Flag("controller", a.ctrl.Ready, "controller loop not running"),
		health.Checker{Name: "gateway", Check: a.gateway.Check},
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	a.ln = ln
	a.server = &http.Server{
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Addr returns the status server's bound address, or "" when disabled.
func (a *App) Addr() string {
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

// Controller returns the interaction controller.
func (a *App) Controller() *controller.Controller { return a.ctrl }

// Transcript returns the session transcript.
func (a *App) Transcript() *transcript.Log { return a.log }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the controller loop, the status server, the config watcher and
// the console controls. It blocks until ctx is cancelled, the user quits on
// the console, or one of them fails. A clean stop returns nil.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.ctrl.Run(gctx)
	})

	if a.server != nil {
		g.Go(func() error {
			slog.Info("status server listening", "addr", a.Addr())
			if err := a.server.Serve(a.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
			defer scancel()
			return a.server.Shutdown(sctx)
		})
	}

	if a.watcher != nil {
		g.Go(func() error {
			return a.watcher.Run(gctx)
		})
	}

	if a.input != nil {
		g.Go(func() error {
			return a.console.ReadControls(gctx, a.input, a.ctrl, cancel)
		})
	}

	slog.Info("app running", "gateway", a.gateway.Endpoint(), "speech", a.speech != nil)
	return g.Wait()
}

// Reload applies the live-reloadable parts of a changed config and warns
// about the rest. It is the config watcher's callback.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VoiceChanged && a.speech != nil {
		keywords := d.NewVoiceKeywords
		if len(keywords) == 0 {
			keywords = speech.DefaultKeywords
		}
		a.speech.SetKeywords(keywords)
		slog.Info("voice keywords changed", "keywords", keywords)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.listener.End(); err != nil {
			slog.Warn("listener end error", "err", err)
		}
		if a.server != nil {
			_ = a.server.Close()
			// Serve may never have taken ownership of the listener.
			_ = a.ln.Close()
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// nopSpeaker stands in when replies are display-only.
type nopSpeaker struct{}

func (nopSpeaker) Speak(context.Context, string) error { return nil }
func (nopSpeaker) Speaking() bool                       { return false }
func (nopSpeaker) Done() <-chan struct{}                { return closedCh }

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
