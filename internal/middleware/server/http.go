package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	metric_api "go.opentelemetry.io/otel/metric"

	"github.com/pgillich/reservation-gateway/internal/middleware"
)

// ChiMetricMiddleware counts the incoming requests and sums their duration,
// labelled by method, route pattern and status code.
func ChiMetricMiddleware(meter metric_api.Meter, name string,
	description string, attributes map[string]string, log logr.Logger,
) func(next http.Handler) http.Handler {
	baseAttrs := make([]attribute.KeyValue, 0, len(attributes))
	for aKey, aVal := range attributes {
		baseAttrs = append(baseAttrs, attribute.Key(aKey).String(aVal))
	}
	attempted, err := middleware.Int64CounterGetInstrument(name, metric_api.WithDescription(description))
	if err != nil {
		log.Error(err, "unable to instantiate counter", "metricName", name)
		panic(err)
	}
	durationSum, err := middleware.Float64CounterGetInstrument(name+"_duration", metric_api.WithDescription(description+", duration sum"), metric_api.WithUnit("s"))
	if err != nil {
		log.Error(err, "unable to instantiate time counter", "metricName", name)
		panic(err)
	}

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			lrw := NewLoggingResponseWriter(w)

			beginTS := time.Now()

			next.ServeHTTP(lrw, r)

			elapsedSec := time.Since(beginTS).Seconds()
			attrs := make([]attribute.KeyValue, len(baseAttrs), len(baseAttrs)+4)
			copy(attrs, baseAttrs)
			attrs = append(attrs,
				attribute.Key(middleware.MetrAttrMethod).String(r.Method),
				attribute.Key(middleware.MetrAttrHost).String(middleware.GetHost(r)),
				attribute.Key(middleware.MetrAttrPathPattern).String(getRoutePath(r.Context(), r)),
				attribute.Key(middleware.MetrAttrStatus).Int(lrw.statusCode),
			)
			opt := metric_api.WithAttributes(attrs...)
			attempted.Add(r.Context(), 1, opt)
			durationSum.Add(r.Context(), elapsedSec, opt)
		}

		return http.HandlerFunc(fn)
	}
}

// getRoutePath returns the matched chi route pattern, falling back to the raw path.
// Must be called after the router served the request.
func getRoutePath(ctx context.Context, r *http.Request) string {
	if rctx := chi.RouteContext(ctx); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if r.URL.RawPath != "" {
		return r.URL.RawPath
	}

	return r.URL.Path
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func NewLoggingResponseWriter(w http.ResponseWriter) *loggingResponseWriter {
	return &loggingResponseWriter{w, http.StatusOK}
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}
