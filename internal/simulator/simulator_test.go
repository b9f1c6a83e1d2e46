package simulator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"

	"github.com/pgillich/reservation-gateway/internal/broker"
	"github.com/pgillich/reservation-gateway/internal/logger"
	"github.com/pgillich/reservation-gateway/internal/middleware"
	"github.com/pgillich/reservation-gateway/internal/reservation"
	"github.com/pgillich/reservation-gateway/internal/router"
)

type fakePublisher struct {
	mu      sync.Mutex
	queues  []string
	results []reservation.Result
}

func (p *fakePublisher) SendMessage(_ context.Context, queue string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues = append(p.queues, queue)
	p.results = append(p.results, payload.(reservation.Result)) //nolint:forcetypeassert // test

	return nil
}

func newSimulator(t *testing.T, publisher Publisher) *Simulator {
	t.Helper()
	log := logger.GetLogger(t.Name())

	return New(Config{MaxPartySize: 6}, publisher, trace.NewNoopTracerProvider().Tracer("test"), middleware.GetMeter(log), log)
}

func TestDecide(t *testing.T) {
	sim := newSimulator(t, &fakePublisher{})

	assert.Equal(t, reservation.StatusSuccess, sim.Decide(reservation.Request{ReservationID: "a", PartySize: 6}).Status)
	noTable := sim.Decide(reservation.Request{ReservationID: "b", PartySize: 7})
	assert.Equal(t, reservation.StatusNoTableAvailable, noTable.Status)
	assert.Equal(t, "b", noTable.ReservationID)
}

func TestHandle(t *testing.T) {
	publisher := &fakePublisher{}
	sim := newSimulator(t, publisher)

	sim.Handle(context.Background(), broker.Message{Queue: router.VIPGuestQueue, Data: []byte(`{"reservation_id":"r-1","party_size":2,"guest_type":"VIP Guest"}`)})
	sim.Handle(context.Background(), broker.Message{Queue: router.VIPGuestQueue, Data: []byte(`{"reservation_id":"r-2","party_size":"two"}`)})
	sim.Handle(context.Background(), broker.Message{Queue: router.VIPGuestQueue, Data: []byte(`garbage`)})

	assert.Equal(t, []string{router.ResultsQueue, router.ResultsQueue}, publisher.queues)
	assert.Equal(t, reservation.StatusSuccess, publisher.results[0].Status)
	assert.Equal(t, "r-1", publisher.results[0].ReservationID)
	assert.Equal(t, reservation.StatusError, publisher.results[1].Status)
	assert.Equal(t, "r-2", publisher.results[1].ReservationID)
}
