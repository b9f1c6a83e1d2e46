// Package simulator answers reservation requests like a worker tier would, for local runs and tests.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	metric_api "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pgillich/reservation-gateway/internal/broker"
	"github.com/pgillich/reservation-gateway/internal/logger"
	"github.com/pgillich/reservation-gateway/internal/middleware"
	"github.com/pgillich/reservation-gateway/internal/middleware/inner"
	"github.com/pgillich/reservation-gateway/internal/reservation"
	"github.com/pgillich/reservation-gateway/internal/router"
)

const DefaultMaxPartySize = 12

type Publisher interface {
	SendMessage(ctx context.Context, queue string, payload interface{}) error
}

type Config struct {
	// MaxPartySize is the largest party that gets a table
	MaxPartySize int
	// Delay is the simulated processing time
	Delay time.Duration
}

type Simulator struct {
	cfg       Config
	publisher Publisher
	mw        inner.InternalMiddleware
	log       logr.Logger
}

func New(cfg Config, publisher Publisher, tr trace.Tracer, meter metric_api.Meter, log logr.Logger) *Simulator {
	if cfg.MaxPartySize <= 0 {
		cfg.MaxPartySize = DefaultMaxPartySize
	}
	ctx := logger.NewContext(context.Background(), log)

	return &Simulator{
		cfg:       cfg,
		publisher: publisher,
		log:       log,
		mw: inner.InternalMiddlewareChain(
			inner.TryCatch(),
			inner.Logger(map[string]string{"handler": "simulator"}, 1, 1),
			inner.Span(tr, "PROCESS reservation", trace.SpanKindConsumer),
			inner.Metrics(ctx, meter, "reservations_simulated", "Simulated reservation decisions", map[string]string{}, middleware.FirstErr),
		),
	}
}

// Decide is the simulated decision
func (s *Simulator) Decide(req reservation.Request) reservation.Result {
	if req.PartySize > s.cfg.MaxPartySize {
		return reservation.Result{
			ReservationID: req.ReservationID,
			Status:        reservation.StatusNoTableAvailable,
			Message:       fmt.Sprintf("no table for %d guests", req.PartySize),
		}
	}

	return reservation.Result{
		ReservationID: req.ReservationID,
		Status:        reservation.StatusSuccess,
		Message:       "table reserved for " + string(req.GuestType),
	}
}

// Handle decides the request of msg and publishes the result onto the results queue
func (s *Simulator) Handle(ctx context.Context, msg broker.Message) {
	ctx = logger.NewContext(ctx, s.log.WithValues(logger.KeyQueue, msg.Queue))
	_, _ = s.mw(func(ctx context.Context) (interface{}, error) { //nolint:errcheck // logged by middleware
		return nil, s.process(ctx, msg.Data)
	})(ctx)
}

func (s *Simulator) process(ctx context.Context, data []byte) error {
	var result reservation.Result
	req := reservation.Request{}
	if err := json.Unmarshal(data, &req); err != nil {
		id := struct {
			ReservationID string `json:"reservation_id"`
		}{}
		if json.Unmarshal(data, &id) != nil || id.ReservationID == "" {
			return fmt.Errorf("undecodable reservation: %w", err)
		}
		result = reservation.Result{ReservationID: id.ReservationID, Status: reservation.StatusError, Message: "undecodable reservation"}
	} else {
		result = s.Decide(req)
	}

	if s.cfg.Delay > 0 {
		select {
		case <-time.After(s.cfg.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	_, log := logger.FromContext(ctx, logger.KeyReservationID, result.ReservationID)
	if err := s.publisher.SendMessage(ctx, router.ResultsQueue, result); err != nil {
		return err
	}
	log.V(1).Info("Result published", "status", result.Status)

	return nil
}
