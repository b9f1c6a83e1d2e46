// Package handler is the HTTP surface of the gateway.
// A reservation request is validated, routed, then the handler waits for its result.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"emperror.dev/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	metric_api "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/pgillich/reservation-gateway/internal/buildinfo"
	"github.com/pgillich/reservation-gateway/internal/correlation"
	"github.com/pgillich/reservation-gateway/internal/logger"
	"github.com/pgillich/reservation-gateway/internal/middleware"
	"github.com/pgillich/reservation-gateway/internal/middleware/inner"
	"github.com/pgillich/reservation-gateway/internal/reservation"
	"github.com/pgillich/reservation-gateway/internal/router"
)

var ErrTimeout = errors.NewPlain("reservation processing timed out")

const (
	DefaultWaitAttempts = 10
	DefaultWaitDelay    = 2 * time.Second
	DefaultMaxPending   = 1024

	MsgInvalid      = "Invalid reservation data"
	MsgStartFailed  = "Failed to start reservation processing"
	MsgTimeout      = "Reservation processing timed out"
	MsgOverloaded   = "Too many pending reservations"
	MsgInfoFailed   = "Unable to read package info"
	MsgServerStatus = "Server is running"
)

type Router interface {
	Route(ctx context.Context, req reservation.Request) error
}

type ResultReader interface {
	GetReservation(ctx context.Context, key string) *reservation.Result
}

type Config struct {
	// WaitAttempts is the max number of waiting rounds
	WaitAttempts int
	// WaitDelay is the max duration of a waiting round
	WaitDelay time.Duration
	// MaxPending bounds the concurrent waits
	MaxPending int64
	// InfoPath is the package metadata file, linked build info is used if empty
	InfoPath string
}

type Handler struct {
	cfg      Config
	router   Router
	results  ResultReader
	registry *correlation.Registry
	validate *validatorv10.Validate
	waitMw   inner.InternalMiddleware
	newID    func() string
	log      logr.Logger
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type ReservationResponse struct {
	Message       string             `json:"message"`
	ReservationID string             `json:"reservation_id"`
	Status        reservation.Status `json:"status"`
}

func New(cfg Config, r Router, results ResultReader, registry *correlation.Registry,
	tr trace.Tracer, meter metric_api.Meter, log logr.Logger,
) *Handler {
	if cfg.WaitAttempts <= 0 {
		cfg.WaitAttempts = DefaultWaitAttempts
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = DefaultWaitDelay
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	ctx := logger.NewContext(context.Background(), log)

	return &Handler{
		cfg:      cfg,
		router:   r,
		results:  results,
		registry: registry,
		validate: reservation.NewValidator(),
		waitMw: inner.InternalMiddlewareChain(
			inner.SemAcquire(semaphore.NewWeighted(cfg.MaxPending)),
			inner.Span(tr, "WAIT reservation", trace.SpanKindInternal),
			inner.Metrics(ctx, meter, "reservation_wait", "Reservation waits", map[string]string{}, middleware.FirstErr),
		),
		newID: uuid.NewString,
		log:   log,
	}
}

// Routes registers the handlers, with a request scoped logger in the context
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(logger.ChiContextLogger(h.log))
		r.Post("/reservations", h.CreateReservation)
		r.Get("/status", h.Status)
		r.Get("/info", h.Info)
	})
}

func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	ctx, log := logger.FromContext(r.Context())

	req, err := reservation.Decode(r.Body, h.validate)
	if err != nil {
		log.Info("Invalid reservation", "errors", reservation.FieldErrors(err))
		h.writeJSON(w, log, http.StatusBadRequest, ErrorResponse{Error: MsgInvalid})

		return
	}
	req.ReservationID = h.newID()
	ctx, log = logger.FromContext(ctx, logger.KeyReservationID, req.ReservationID)

	waiter, err := h.registry.Register(req.ReservationID)
	if err != nil {
		log.Error(err, "Unable to register reservation")
		h.writeJSON(w, log, http.StatusInternalServerError, ErrorResponse{Error: MsgStartFailed})

		return
	}
	defer h.registry.Release(req.ReservationID)

	if err := h.router.Route(ctx, req); err != nil {
		if !router.Delivery(err) {
			h.writeJSON(w, log, http.StatusInternalServerError, ErrorResponse{Error: MsgStartFailed})

			return
		}
		log.Info("Reservation not delivered, waiting for result anyway", "reason", err.Error())
	}

	res, err := h.waitMw(func(ctx context.Context) (interface{}, error) {
		return h.wait(ctx, waiter)
	})(ctx)
	switch {
	case err == nil:
		result := res.(*reservation.Result) //nolint:forcetypeassert // wait returns *reservation.Result
		log.Info("Reservation resolved", "status", result.Status)
		h.writeJSON(w, log, http.StatusOK, ReservationResponse{
			Message:       "Reservation received. Status: " + string(result.Status),
			ReservationID: req.ReservationID,
			Status:        result.Status,
		})
	case errors.Is(err, inner.ErrSemAcquire):
		log.Error(err, "Reservation wait not started")
		h.writeJSON(w, log, http.StatusServiceUnavailable, ErrorResponse{Error: MsgOverloaded})
	default:
		log.Error(err, "Reservation not resolved")
		h.writeJSON(w, log, http.StatusGatewayTimeout, ErrorResponse{Error: MsgTimeout})
	}
}

// wait blocks until the result is readable, for at most WaitAttempts rounds of WaitDelay.
// After the signal each round reads the cache once.
func (h *Handler) wait(ctx context.Context, waiter *correlation.Waiter) (*reservation.Result, error) {
	_, log := logger.FromContext(ctx)
	signalled := false
	for attempt := 1; attempt <= h.cfg.WaitAttempts; attempt++ {
		ready := waiter.Ready()
		if signalled {
			ready = nil
		}
		timer := time.NewTimer(h.cfg.WaitDelay)
		select {
		case <-ready:
			signalled = true
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()

			return nil, errors.WithStack(ctx.Err())
		}
		timer.Stop()

		if signalled {
			if result := h.results.GetReservation(ctx, waiter.ID); result != nil {
				return result, nil
			}
			log.V(1).Info("Result announced but not readable", "attempt", attempt)
		}
	}

	return nil, errors.WithDetails(ErrTimeout, "attempts", strconv.Itoa(h.cfg.WaitAttempts))
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(MsgServerStatus)); err != nil {
		h.log.Error(err, "unable to write response")
	}
}

func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	_, log := logger.FromContext(r.Context())
	info, err := buildinfo.Load(h.cfg.InfoPath)
	if err != nil {
		log.Error(err, "Unable to load package info")
		h.writeJSON(w, log, http.StatusInternalServerError, ErrorResponse{Error: MsgInfoFailed})

		return
	}
	h.writeJSON(w, log, http.StatusOK, info)
}

func (h *Handler) writeJSON(w http.ResponseWriter, log logr.Logger, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error(err, "unable to write response")
	}
}
