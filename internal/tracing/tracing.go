// Package tracing resolves the OpenTelemetry tracer used for tick phase
// spans and traces admin HTTP requests.
//
// The tracer comes from the global provider. Configure it in main() before
// starting the server:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
package tracing

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultTracerName is the instrumentation name of worldsync spans.
const DefaultTracerName = "worldsync"

// Config configures tracing.
type Config struct {
	// Enabled turns span creation on. Disabled tracing uses a no-op tracer
	// regardless of the global provider.
	Enabled bool

	// TracerName is the name of the tracer (default: "worldsync").
	TracerName string

	// Filter determines which admin requests to trace.
	// If nil, all requests are traced.
	Filter func(r *http.Request) bool
}

// Option configures tracing.
type Option func(*Config)

// WithEnabled turns tracing on or off.
func WithEnabled(enabled bool) Option {
	return func(c *Config) {
		c.Enabled = enabled
	}
}

// WithTracerName sets the tracer name.
func WithTracerName(name string) Option {
	return func(c *Config) {
		c.TracerName = name
	}
}

// WithRequestFilter sets a filter for traced admin requests.
func WithRequestFilter(filter func(r *http.Request) bool) Option {
	return func(c *Config) {
		c.Filter = filter
	}
}

func defaultConfig() Config {
	return Config{
		Enabled:    true,
		TracerName: DefaultTracerName,
	}
}

// Tracing holds the resolved tracer.
type Tracing struct {
	config Config
	tracer trace.Tracer
}

// New resolves the tracer from the global provider.
func New(opts ...Option) *Tracing {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.TracerName == "" {
		config.TracerName = DefaultTracerName
	}

	var tracer trace.Tracer
	if config.Enabled {
		tracer = otel.Tracer(config.TracerName)
	} else {
		tracer = noop.NewTracerProvider().Tracer(config.TracerName)
	}
	return &Tracing{config: config, tracer: tracer}
}

// Tracer returns the tracer for tick phase spans.
func (t *Tracing) Tracer() trace.Tracer {
	return t.tracer
}

// Middleware traces each HTTP request with a server span. Responses with a
// 5xx status mark the span as failed.
func (t *Tracing) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.config.Filter != nil && !t.config.Filter(r) {
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := t.tracer.Start(r.Context(),
			fmt.Sprintf("admin %s %s", r.Method, r.URL.Path),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("net.peer.addr", r.RemoteAddr),
			),
		)
		defer span.End()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", sw.status))
		if sw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(sw.status))
		} else {
			span.SetStatus(codes.Ok, "")
		}
	})
}

// RecordError marks span as failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
