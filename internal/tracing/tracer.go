package tracing

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"sync"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.11.0"

	"github.com/pgillich/reservation-gateway/internal/buildinfo"
)

type ErrorHandler struct {
	log *logr.Logger
}

func (e *ErrorHandler) Handle(err error) {
	e.log.Error(err, "OTEL ERROR")
}

var errorHandler = &ErrorHandler{} //nolint:gochecknoglobals // otel global
var onceSetOtel sync.Once          //nolint:gochecknoglobals // local once
var onceBodySetOtel = func() {     //nolint:gochecknoglobals // local once
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetErrorHandler(errorHandler)
	otel.SetLogger(*errorHandler.log)
}

func SetErrorHandlerLogger(log *logr.Logger) {
	errorHandler.log = log
}

const (
	ServiceNamespace      = "reservation-gateway"
	StateKeyClientCommand = "client_command"
)

func InitTracer(exporter sdktrace.SpanExporter, sampler sdktrace.Sampler, service string, instance string, command string, log logr.Logger) *sdktrace.TracerProvider {
	attrs := []attribute.KeyValue{
		semconv.ServiceNamespaceKey.String(ServiceNamespace),
		semconv.ServiceNameKey.String(service),
		semconv.ServiceInstanceIDKey.String(instance),
		semconv.ServiceVersionKey.String(buildinfo.Linked().Version),
		attribute.Int("attrID", os.Getpid()),
	}
	if command != "" {
		attrs = append(attrs, attribute.String(StateKeyClientCommand, command))
	}
	providerOptions := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL, attrs...)),
	}
	if exporter != nil {
		providerOptions = append(providerOptions, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(providerOptions...)

	if errorHandler.log == nil {
		errorHandler.log = &log
	}
	onceSetOtel.Do(onceBodySetOtel)

	return tp
}

// NewExporter selects the span exporter: OTLP wins over Jaeger, none if both are empty
func NewExporter(jaegerURL string, otlpURL string) (sdktrace.SpanExporter, error) {
	if exporter, err := OtlpProvider(otlpURL); err != nil || exporter != nil {
		return exporter, err
	}

	return JaegerProvider(jaegerURL)
}

func JaegerProvider(jUrl string) (sdktrace.SpanExporter, error) {
	if jUrl == "" || jUrl == "-" {
		return nil, nil
	}

	return jaeger.New(jaeger.WithCollectorEndpoint(
		jaeger.WithEndpoint(jUrl),
	))
}

func OtlpProvider(oUrl string) (sdktrace.SpanExporter, error) {
	if oUrl == "" || oUrl == "-" {
		return nil, nil
	}

	otlpUrl, err := url.ParseRequestURI(oUrl)
	if err != nil {
		return nil, err
	}

	return otlptracehttp.New(context.Background(), // otlptracehttp.client.Start does nothing in a HTTP client
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithEndpoint(otlpUrl.Host),
		otlptracehttp.WithURLPath(otlpUrl.Path),
	)
}

// InjectHeader writes the trace context of ctx into a message header
func InjectHeader(ctx context.Context, header map[string][]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(header)))
}

// ExtractHeader returns ctx extended with the trace context found in a message header
func ExtractHeader(ctx context.Context, header map[string][]string) context.Context {
	if header == nil {
		return ctx
	}

	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(http.Header(header)))
}

func Version() string {
	return "0.1.0"
}

// SemVersion is the semantic version to be supplied to tracer/meter creation.
func SemVersion() string {
	return "semver:" + Version()
}
