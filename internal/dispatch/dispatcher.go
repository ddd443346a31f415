package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/stampede/internal/catalog"
	"github.com/torosent/stampede/internal/config"
	"github.com/torosent/stampede/internal/metrics"
	"github.com/torosent/stampede/internal/payload"
	"github.com/torosent/stampede/internal/pool"
	"github.com/torosent/stampede/internal/tracing"
	"github.com/torosent/stampede/internal/transport"
)

const (
	maxBodyReadSize    = 1024 * 1024
	maxLoggedBodyBytes = 256
	successField       = "success"
)

// Pool is the subset of pool.ConnectionPool used by the dispatcher.
type Pool interface {
	Acquire(ctx context.Context) (*transport.Conn, error)
	Release(h *transport.Conn, hint pool.Hint) error
	Invalidate(h *transport.Conn) error
}

// Recorder receives every outcome.
type Recorder interface {
	Record(metrics.Outcome)
}

// Options configures a Dispatcher.
type Options struct {
	Target    string
	Timeout   time.Duration
	Catalog   *catalog.Catalog
	Payloads  *payload.Generator
	Pool      Pool
	Recorder  Recorder
	Logger    *zap.Logger
	Tracer    trace.Tracer
	Propagate bool
	// LogEvery throttles failure logs; zero logs at most one failure per second.
	LogEvery time.Duration
}

// Dispatcher sends requests and classifies their outcomes. It is safe for
// concurrent use.
type Dispatcher struct {
	timeout   time.Duration
	catalog   *catalog.Catalog
	payloads  *payload.Generator
	pool      Pool
	recorder  Recorder
	builders  map[string]*transport.RequestBuilder
	target    string
	logger    *zap.Logger
	tracer    trace.Tracer
	propagate bool
	failLog   *rate.Sometimes
}

// New validates opts and prepares a request builder per catalog endpoint.
func New(opts Options) (*Dispatcher, error) {
	if opts.Catalog == nil {
		return nil, errors.New("dispatch: catalog is required")
	}
	if opts.Pool == nil {
		return nil, errors.New("dispatch: pool is required")
	}
	if opts.Payloads == nil {
		return nil, errors.New("dispatch: payload generator is required")
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("dispatch: timeout must be > 0, got %s", opts.Timeout)
	}

	builders := make(map[string]*transport.RequestBuilder, opts.Catalog.Len())
	for _, ep := range opts.Catalog.Endpoints() {
		b, err := transport.NewRequestBuilder(opts.Target, ep)
		if err != nil {
			return nil, fmt.Errorf("dispatch: %w", err)
		}
		builders[ep.DisplayName()] = b
	}

	logEvery := opts.LogEvery
	if logEvery <= 0 {
		logEvery = time.Second
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		timeout:   opts.Timeout,
		catalog:   opts.Catalog,
		payloads:  opts.Payloads,
		pool:      opts.Pool,
		recorder:  opts.Recorder,
		builders:  builders,
		target:    opts.Target,
		logger:    logger,
		tracer:    tracer,
		propagate: opts.Propagate,
		failLog:   &rate.Sometimes{First: 1, Interval: logEvery},
	}, nil
}

// DispatchNext sends one request to an endpoint chosen by catalog weight.
func (d *Dispatcher) DispatchNext(ctx context.Context) metrics.Outcome {
	return d.Dispatch(ctx, d.catalog.Select())
}

// Dispatch sends one request to ep and returns its outcome, which has also
// been recorded. ctx bounds the whole exchange together with the request
// timeout; callers that must not abort in-flight work pass a context
// detached from cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, ep config.Endpoint) (out metrics.Outcome) {
	name := ep.DisplayName()
	start := time.Now()

	var held lease
	ctx, span := tracing.StartRequestSpan(ctx, d.tracer, ep.Method, name)
	defer func() {
		if r := recover(); r != nil {
			// The handle's state is unknown after a panic mid-exchange.
			if held.active {
				_ = d.pool.Invalidate(held.conn)
			}
			out = metrics.Failed(name, time.Since(start), metrics.ClassConnection, 0)
			d.logFailure(name, out, fmt.Errorf("panic: %v", r))
		}
		var spanErr error
		if !out.Success {
			spanErr = errors.New(string(out.Class))
		}
		tracing.EndSpan(span, spanErr,
			attribute.Int("http.response.status_code", out.StatusCode),
			attribute.String("stampede.outcome", outcomeLabel(out)),
		)
		if d.recorder != nil {
			d.recorder.Record(out)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out, err := d.exchange(ctx, ep, name, start, &held)
	if !out.Success {
		d.logFailure(name, out, err)
	}
	return out
}

// lease tracks the handle an exchange has checked out of the pool.
type lease struct {
	conn   *transport.Conn
	active bool
}

func (d *Dispatcher) release(l *lease, hint pool.Hint) {
	_ = d.pool.Release(l.conn, hint)
	*l = lease{}
}

func (d *Dispatcher) invalidate(l *lease) {
	_ = d.pool.Invalidate(l.conn)
	*l = lease{}
}

func (d *Dispatcher) exchange(ctx context.Context, ep config.Endpoint, name string, start time.Time, held *lease) (metrics.Outcome, error) {
	fail := func(class metrics.Class, status int, err error) (metrics.Outcome, error) {
		return metrics.Failed(name, time.Since(start), class, status), err
	}

	builder, ok := d.builders[name]
	if !ok {
		var err error
		builder, err = transport.NewRequestBuilder(d.target, ep)
		if err != nil {
			return fail(metrics.ClassProtocol, 0, err)
		}
	}

	body, err := d.payloads.Body(ep.Payload)
	if err != nil {
		return fail(metrics.ClassProtocol, 0, err)
	}

	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return fail(metrics.ClassConnection, 0, err)
	}
	*held = lease{conn: conn, active: true}

	req, err := builder.Build(ctx, body)
	if err != nil {
		d.release(held, pool.Hint{})
		return fail(metrics.ClassProtocol, 0, err)
	}
	if d.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := conn.Do(req)
	if err != nil {
		d.invalidate(held)
		return fail(classifyTransportError(ctx, err), 0, err)
	}

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyReadSize))
	_ = resp.Body.Close()
	latency := time.Since(start)
	status := resp.StatusCode

	if readErr != nil {
		d.invalidate(held)
		class := metrics.ClassProtocol
		if isTimeout(ctx, readErr) {
			class = metrics.ClassTimeout
		}
		return metrics.Failed(name, latency, class, status), readErr
	}
	d.release(held, pool.Hint{Close: transport.WantsClose(resp)})

	if status < 200 || status > 299 {
		return metrics.Failed(name, latency, metrics.HTTPError(status), status), fmt.Errorf("status %d: %s", status, snippet(data))
	}

	if class, err := checkContract(ep.Response, data); err != nil {
		return metrics.Failed(name, latency, class, status), err
	}
	return metrics.Succeeded(name, latency, status), nil
}

// checkContract validates the body against the endpoint's response contract.
func checkContract(contract config.ResponseContract, body []byte) (metrics.Class, error) {
	switch contract {
	case config.ResponseJSON:
		if !gjson.ValidBytes(body) {
			return metrics.ClassProtocol, fmt.Errorf("invalid JSON body: %s", snippet(body))
		}
	case config.ResponseSuccessFlag:
		if !gjson.ValidBytes(body) {
			return metrics.ClassProtocol, fmt.Errorf("invalid JSON body: %s", snippet(body))
		}
		flag := gjson.GetBytes(body, successField)
		if !flag.IsBool() || !flag.Bool() {
			return metrics.ClassApplication, fmt.Errorf("%q is %s", successField, describe(flag))
		}
	}
	return "", nil
}

func classifyTransportError(ctx context.Context, err error) metrics.Class {
	if isTimeout(ctx, err) {
		return metrics.ClassTimeout
	}
	return metrics.ClassConnection
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func (d *Dispatcher) logFailure(endpoint string, out metrics.Outcome, err error) {
	d.failLog.Do(func() {
		fields := []zap.Field{
			zap.String("endpoint", endpoint),
			zap.String("class", string(out.Class)),
			zap.Duration("latency", out.Latency),
		}
		if out.StatusCode != 0 {
			fields = append(fields, zap.Int("status", out.StatusCode))
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		d.logger.Warn("request failed", fields...)
	})
}

func outcomeLabel(o metrics.Outcome) string {
	if o.Success {
		return "success"
	}
	return string(o.Class)
}

func describe(r gjson.Result) string {
	if !r.Exists() {
		return "missing"
	}
	if r.IsBool() {
		return strconv.FormatBool(r.Bool())
	}
	return "not a boolean"
}

func snippet(body []byte) string {
	if len(body) > maxLoggedBodyBytes {
		body = body[:maxLoggedBodyBytes]
	}
	return string(body)
}

var _ Pool = (*pool.ConnectionPool[*transport.Conn])(nil)
