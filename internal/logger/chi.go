package logger

import (
	"fmt"
	"net/http"
	"time"

	"emperror.dev/errors"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
)

// ChiLogr is a chi middleware.LogFormatter writing access logs through logr.
// The request logger is also put into the request context.
type ChiLogr struct {
	logr.Logger
}

type ChiLogrEntry struct {
	logr.Logger
}

func (e *ChiLogrEntry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra interface{}) {
	if extra == nil {
		extra = "IN_HTTP_RESP"
	}
	e.WithValues(
		"status", status,
		"bytes", bytes,
		"elapsed", fmt.Sprintf("%.3f", elapsed.Seconds()),
	).Info(fmt.Sprintf("%+v", extra))
}

func (e *ChiLogrEntry) Panic(v interface{}, stack []byte) {
	e.WithValues(
		"panic", v,
		"stack", string(stack),
	).Error(errors.NewPlain("chi panic"), "PANIC")
}

func (l *ChiLogr) NewLogEntry(r *http.Request) middleware.LogEntry {
	reqID := middleware.GetReqID(r.Context())

	return &ChiLogrEntry{l.WithValues(
		"reqID", reqID,
		"method", r.Method,
		"URL", r.URL.String(),
		"RemoteAddr", r.RemoteAddr,
	)}
}

// ChiContextLogger puts the request-scoped logger into the request context,
// so handlers can use FromContext.
func ChiContextLogger(log logr.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			reqLog := log.WithValues(
				"reqID", middleware.GetReqID(r.Context()),
				"inMethod", r.Method,
				"inUrl", r.URL.String(),
			)
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), reqLog)))
		}

		return http.HandlerFunc(fn)
	}
}
