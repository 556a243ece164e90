package otel

import (
	"context"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	ExportStrategyNone   = ""
	ExportStrategyStdout = "stdout"
	ExportStrategyHttp   = "http"
	ExportStrategyGrpc   = "grpc"
)

// Config selects where spans are exported.  Exporters can be further configured using the standard OTEL
// environment variables.
type Config struct {
	// One of stdout, http, grpc.  Empty disables tracing
	ExportStrategy string `validate:"omitempty,oneof=stdout http grpc"`
	// Collector endpoint (host:port) for the http and grpc strategies.  Empty uses the OTEL default
	Endpoint string
	// If true the collector is contacted without TLS
	Insecure    bool
	ServiceName string
}

func getTracerProvider(ctx context.Context, c Config, r *resource.Resource) (trace.TracerProvider, error) {
	var exp sdktrace.SpanExporter
	var err error

	switch c.ExportStrategy {
	case ExportStrategyStdout:
		exp, err = stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
		if err != nil {
			return nil, errors.WithMessage(err, "creating stdout trace exporter")
		}
	case ExportStrategyHttp:
		exp, err = newHttpTraceExporter(ctx, c)
		if err != nil {
			return nil, err
		}
	case ExportStrategyGrpc:
		exp, err = newGrpcTraceExporter(ctx, c)
		if err != nil {
			return nil, err
		}
	default:
		return tracenoop.NewTracerProvider(), nil
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(r),
	), nil
}

// LoadOtel sets the configured tracer provider as the global OTEL tracer provider.
// Returns the closer which should be used to flush and shut down the provider.
func LoadOtel(ctx context.Context, c Config) (closer func(ctx context.Context) error, e error) {
	r, err := NewResource(c.ServiceName)
	if err != nil {
		return nil, err
	}
	tp, err := getTracerProvider(ctx, c, r)
	if err != nil {
		return nil, errors.WithMessage(err, "getting otel tracer provider")
	}

	otel.SetTracerProvider(tp)
	otel.SetErrorHandler(NewDefaultErrorHandler())
	if c.ExportStrategy != ExportStrategyNone {
		// Unless no-op, always propagate trace context and baggage
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		log.Infof("Exporting traces using %s", c.ExportStrategy)
	}

	return func(ctx context.Context) error {
		if sdk, ok := tp.(*sdktrace.TracerProvider); ok {
			return sdk.Shutdown(ctx)
		}
		return nil
	}, nil
}

func newHttpTraceExporter(ctx context.Context, c Config) (sdktrace.SpanExporter, error) {
	var opts []otlptracehttp.Option
	if c.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(c.Endpoint))
	}
	if c.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, errors.WithMessage(err, "creating OTLP HTTP trace exporter")
	}
	return exporter, nil
}

func newGrpcTraceExporter(ctx context.Context, c Config) (sdktrace.SpanExporter, error) {
	var opts []otlptracegrpc.Option
	if c.Endpoint != "" {
		opts = append(opts, otlptracegrpc.WithEndpoint(c.Endpoint))
	}
	if c.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, errors.WithMessage(err, "creating OTLP gRPC trace exporter")
	}
	return exporter, nil
}

// NewResource returns a resource describing this application.
func NewResource(serviceName string) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
	}

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, attrs...),
	)
	if err != nil {
		return nil, errors.WithMessage(err, "creating resource")
	}
	return r, nil
}

type DefaultErrorHandler struct{}

func NewDefaultErrorHandler() *DefaultErrorHandler {
	return &DefaultErrorHandler{}
}

func (DefaultErrorHandler) Handle(err error) {
	log.WithError(err).Warn("OTEL error")
}
