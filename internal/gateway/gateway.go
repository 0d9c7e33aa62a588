// Package gateway sends finalized transcripts to the remote command processor
// and maps its replies onto a two-way [Result]: [Success] or [Failure].
//
// Every [Gateway.Submit] issues exactly one HTTP request. Retrying is left to
// the caller's re-arm cycle. An optional circuit breaker turns a processor
// that keeps failing into immediate transport failures until it recovers.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/resilience"
)

const (
	// DefaultPath is the processor's command route.
	DefaultPath = "/process_command"

	// DefaultTimeout bounds one round-trip.
	DefaultTimeout = 30 * time.Second

	// maxReplyBytes caps how much of a reply body is read.
	maxReplyBytes = 1 << 20
)

// Fault classifies a [Failure].
type Fault int

const (
	// FaultTransport covers network, timeout and decode problems, and calls
	// rejected by an open circuit breaker.
	FaultTransport Fault = iota + 1

	// FaultRemote means the processor answered but reported an error, either
	// with a non-2xx status or with an error field.
	FaultRemote
)

func (f Fault) String() string {
	switch f {
	case FaultTransport:
		return "transport"
	case FaultRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Request is the JSON body of a command submission.
type Request struct {
	Command string `json:"command"`
}

// Result is either a [Success] or a [Failure].
type Result interface {
	result()
}

// Success carries the processor's response text. Text is empty when the
// reply had no response field.
type Success struct {
	Text string
}

// Failure carries a human-readable message and its classification.
type Failure struct {
	Message string
	Fault   Fault
}

func (Success) result() {}
func (Failure) result() {}

// reply is the processor's JSON body. Both fields are optional.
type reply struct {
	Response *string `json:"response"`
	Error    string  `json:"error"`
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithHTTPClient replaces the default client. The client is used as given;
// it is not wrapped with tracing.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithTimeout bounds each submission. Zero or negative disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithPath overrides [DefaultPath].
func WithPath(p string) Option {
	return func(g *Gateway) { g.path = p }
}

// WithCircuitBreaker guards submissions with a breaker built from cfg.
// Transport faults and 5xx statuses count as failures; remote errors
// reported with a 2xx or 4xx status do not.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(g *Gateway) {
		if cfg.Name == "" {
			cfg.Name = "gateway"
		}
		cfg.IsFailure = func(err error) bool {
			return errors.Is(err, errCountable)
		}
		g.breaker = resilience.NewCircuitBreaker(cfg)
	}
}

// WithMetrics records round-trip latency by outcome.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// errCountable marks outcomes the breaker counts against the processor.
var errCountable = errors.New("gateway: countable failure")

// Gateway is the command processor client. It is safe for concurrent use.
type Gateway struct {
	endpoint string
	path     string
	timeout  time.Duration
	client   *http.Client
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics
}

// New creates a Gateway for the processor at baseURL (scheme and host, with
// an optional path prefix).
func New(baseURL string, opts ...Option) (*Gateway, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("gateway: parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("gateway: base URL %q must use http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("gateway: base URL %q has no host", baseURL)
	}

	g := &Gateway{
		path:    DefaultPath,
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(g)
	}
	if g.client == nil {
		g.client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	g.endpoint = strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(g.path, "/")
	return g, nil
}

// Endpoint returns the full URL submissions are posted to.
func (g *Gateway) Endpoint() string { return g.endpoint }

// ErrUnavailable is returned by [Gateway.Check] while the breaker is open.
var ErrUnavailable = errors.New("gateway: circuit open")

// Check reports ErrUnavailable while submissions fail fast. It does not
// contact the processor.
func (g *Gateway) Check(context.Context) error {
	if g.breaker != nil && g.breaker.State() == resilience.StateOpen {
		return ErrUnavailable
	}
	return nil
}

// Submit posts text to the processor and classifies the outcome. It never
// returns nil.
func (g *Gateway) Submit(ctx context.Context, text string) Result {
	start := time.Now()

	var res Result
	if g.breaker == nil {
		res, _ = g.post(ctx, text)
	} else {
		err := g.breaker.Execute(func() error {
			var err error
			res, err = g.post(ctx, text)
			return err
		})
		if errors.Is(err, resilience.ErrCircuitOpen) {
			res = Failure{Message: "command processor unavailable, try again shortly", Fault: FaultTransport}
		}
	}

	g.record(ctx, res, time.Since(start))
	return res
}

// post performs the round-trip. The returned error is non-nil only for
// outcomes the breaker should count.
func (g *Gateway) post(ctx context.Context, text string) (Result, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	body, err := json.Marshal(Request{Command: text})
	if err != nil {
		return Failure{Message: err.Error(), Fault: FaultTransport}, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return Failure{Message: err.Error(), Fault: FaultTransport}, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Failure{Message: err.Error(), Fault: FaultTransport}, nil
		}
		return Failure{Message: err.Error(), Fault: FaultTransport}, errCountable
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxReplyBytes))
		f := Failure{Message: fmt.Sprintf("HTTP error! status: %d", resp.StatusCode), Fault: FaultRemote}
		if resp.StatusCode >= 500 {
			return f, errCountable
		}
		return f, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return Failure{Message: err.Error(), Fault: FaultTransport}, errCountable
	}
	// The whole body must be one JSON value.
	var r reply
	if err := json.Unmarshal(data, &r); err != nil {
		return Failure{Message: "invalid reply from command processor: " + err.Error(), Fault: FaultTransport}, errCountable
	}
	if r.Error != "" {
		return Failure{Message: r.Error, Fault: FaultRemote}, nil
	}
	if r.Response == nil {
		return Success{}, nil
	}
	return Success{Text: *r.Response}, nil
}

func (g *Gateway) record(ctx context.Context, res Result, d time.Duration) {
	outcome, fault := "success", ""
	if f, ok := res.(Failure); ok {
		outcome, fault = "failure", f.Fault.String()
		slog.Warn("command submission failed", "fault", fault, "err", f.Message, "duration", d)
	} else {
		slog.Debug("command submitted", "duration", d)
	}
	if g.metrics != nil {
		g.metrics.RecordGatewayRequest(ctx, outcome, fault, d)
	}
}
