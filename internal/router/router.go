// Package router puts reservation requests onto the priority queue of their guest tier
// and consumes the results queue.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"emperror.dev/errors"
	"github.com/go-logr/logr"
	metric_api "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pgillich/reservation-gateway/internal/broker"
	"github.com/pgillich/reservation-gateway/internal/cache"
	"github.com/pgillich/reservation-gateway/internal/logger"
	"github.com/pgillich/reservation-gateway/internal/middleware"
	"github.com/pgillich/reservation-gateway/internal/middleware/inner"
	"github.com/pgillich/reservation-gateway/internal/reservation"
)

const (
	RegularGuestQueue  = "regular_guest_processing_queue"
	VIPGuestQueue      = "vip_guest_processing_queue"
	LoyaltyMemberQueue = "loyalty_member_processing_queue"

	ResultsQueue = "booking_processing_results"
)

var (
	ErrUnknownTier   = errors.NewPlain("unknown guest tier")
	ErrInvalidResult = errors.NewPlain("invalid reservation result")
)

var queues = map[reservation.GuestType]string{ //nolint:gochecknoglobals // static mapping
	reservation.GuestRegular: RegularGuestQueue,
	reservation.GuestVIP:     VIPGuestQueue,
	reservation.GuestLoyalty: LoyaltyMemberQueue,
}

// QueueFor returns the priority queue of the guest tier
func QueueFor(guestType reservation.GuestType) (string, bool) {
	queue, has := queues[guestType]

	return queue, has
}

// PriorityQueues returns all priority queues
func PriorityQueues() []string {
	return []string{RegularGuestQueue, VIPGuestQueue, LoyaltyMemberQueue}
}

type Publisher interface {
	SendMessage(ctx context.Context, queue string, payload interface{}) error
}

type Subscriber interface {
	Connect(ctx context.Context) error
	SubscribeWithReconnect(ctx context.Context, queue string, handler broker.Handler)
	StopReconnecting()
}

type Broker interface {
	Publisher
	Subscriber
}

// ResultWriter stores results and announces them, see cache.Client
type ResultWriter interface {
	Connect(ctx context.Context) error
	SetReservation(ctx context.Context, key string, result reservation.Result) error
	Publish(ctx context.Context, channel string, message string) error
}

type Router struct {
	broker Broker
	writer ResultWriter
	log    logr.Logger

	startOnce sync.Once
	resultMw  inner.InternalMiddleware
}

func New(b Broker, writer ResultWriter, tr trace.Tracer, meter metric_api.Meter, log logr.Logger) *Router {
	ctx := logger.NewContext(context.Background(), log)

	return &Router{
		broker: b,
		writer: writer,
		log:    log,
		resultMw: inner.InternalMiddlewareChain(
			inner.TryCatch(),
			inner.Logger(map[string]string{"handler": "result", logger.KeyQueue: ResultsQueue}, 1, 1),
			inner.Span(tr, "CONSUME "+ResultsQueue, trace.SpanKindConsumer),
			inner.Metrics(ctx, meter, "results_consumed", "Consumed results",
				map[string]string{middleware.MetrAttrQueue: ResultsQueue}, middleware.FirstErr,
			),
		),
	}
}

// Route publishes the request to the queue of its guest tier. Failures are logged and returned, not retried.
func (r *Router) Route(ctx context.Context, req reservation.Request) error {
	log := r.log.WithValues(logger.KeyReservationID, req.ReservationID, "guestType", req.GuestType)
	queue, has := QueueFor(req.GuestType)
	if !has {
		err := errors.WithDetails(ErrUnknownTier, "guestType", req.GuestType)
		log.Error(err, "Unable to route reservation")

		return err
	}
	log = log.WithValues(logger.KeyQueue, queue)

	if err := r.broker.SendMessage(ctx, queue, req); err != nil {
		log.Error(err, "Unable to route reservation")

		return err
	}
	log.V(1).Info("Reservation routed")

	return nil
}

// Delivery reports whether err is a broker side failure of Route, after which a result may still never come
func Delivery(err error) bool {
	return errors.Is(err, broker.ErrPublish) || errors.Is(err, broker.ErrNotConnected)
}

// Start connects the broker and starts consuming the results queue. Only the first call has effect.
func (r *Router) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		log := r.log.WithValues(logger.KeyQueue, ResultsQueue)
		ctx = logger.NewContext(ctx, log)
		if err := r.broker.Connect(ctx); err != nil {
			log.Error(err, "Unable to connect to broker, supervision keeps trying")
		}
		go r.broker.SubscribeWithReconnect(ctx, ResultsQueue, r.handleResult)
	})
}

// Stop ends the supervision of the results queue
func (r *Router) Stop() {
	r.broker.StopReconnecting()
}

func (r *Router) handleResult(ctx context.Context, msg broker.Message) {
	_, _ = r.resultMw(func(ctx context.Context) (interface{}, error) { //nolint:errcheck // logged by middleware
		return nil, r.storeResult(ctx, msg.Data)
	})(ctx)
}

func (r *Router) storeResult(ctx context.Context, data []byte) error {
	result := reservation.Result{}
	if err := json.Unmarshal(data, &result); err != nil {
		return errors.WithDetails(fmt.Errorf("%w: %w", ErrInvalidResult, err), "data", string(data))
	}
	if result.ReservationID == "" {
		return errors.WithDetails(ErrInvalidResult, "data", string(data))
	}
	ctx, log := logger.FromContext(ctx, logger.KeyReservationID, result.ReservationID)

	if err := r.writer.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %w", cache.ErrCacheWrite, err)
	}
	if err := r.writer.SetReservation(ctx, result.ReservationID, result); err != nil {
		return err
	}
	if err := r.writer.Publish(ctx, cache.DataAvailableChannel, result.ReservationID); err != nil {
		return err
	}
	log.V(1).Info("Result stored", "status", result.Status)

	return nil
}

var (
	_ Broker       = (*broker.Client)(nil)
	_ ResultWriter = (*cache.Client)(nil)
)
