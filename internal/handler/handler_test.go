package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/trace"

	"github.com/pgillich/reservation-gateway/internal/broker"
	"github.com/pgillich/reservation-gateway/internal/correlation"
	"github.com/pgillich/reservation-gateway/internal/logger"
	"github.com/pgillich/reservation-gateway/internal/middleware"
	"github.com/pgillich/reservation-gateway/internal/reservation"
	"github.com/pgillich/reservation-gateway/internal/router"
)

const validBody = `{
	"user_id": "u-1",
	"restaurant_id": "rest-1",
	"date": "2024-05-01",
	"time": "19:00",
	"party_size": 4,
	"guest_type": "VIP Guest",
	"contact_info": {"email": "guest@example.com"}
}`

type fakeRouter struct {
	mu      sync.Mutex
	routed  []reservation.Request
	err     error
	onRoute func(req reservation.Request)
}

func (r *fakeRouter) Route(_ context.Context, req reservation.Request) error {
	r.mu.Lock()
	r.routed = append(r.routed, req)
	r.mu.Unlock()
	if r.onRoute != nil {
		r.onRoute(req)
	}

	return r.err
}

type fakeResults struct {
	mu      sync.Mutex
	results map[string]*reservation.Result
	reads   int
	// readableAfter hides the results for the first reads
	readableAfter int
}

func (f *fakeResults) GetReservation(_ context.Context, key string) *reservation.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.reads <= f.readableAfter {
		return nil
	}

	return f.results[key]
}

func (f *fakeResults) set(key string, result *reservation.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[key] = result
}

func (f *fakeResults) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.reads
}

type HandlerTestSuite struct {
	suite.Suite
	log      logr.Logger
	router   *fakeRouter
	results  *fakeResults
	registry *correlation.Registry
	cfg      Config
}

func TestHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}

func (s *HandlerTestSuite) SetupTest() {
	s.log = logger.GetLogger(s.T().Name())
	s.router = &fakeRouter{}
	s.results = &fakeResults{results: map[string]*reservation.Result{}}
	s.registry = correlation.NewRegistry()
	s.cfg = Config{WaitAttempts: 3, WaitDelay: 20 * time.Millisecond}
}

func (s *HandlerTestSuite) serve(method string, path string, body string) *httptest.ResponseRecorder {
	h := New(s.cfg, s.router, s.results, s.registry,
		trace.NewNoopTracerProvider().Tracer("test"), middleware.GetMeter(s.log), s.log,
	)
	h.newID = func() string { return "fixed-id" }
	mux := chi.NewRouter()
	h.Routes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))

	return rec
}

// resolveOnRoute stores the result and announces it, like the results consumer
func (s *HandlerTestSuite) resolveOnRoute(status reservation.Status) {
	s.router.onRoute = func(req reservation.Request) {
		go func() {
			s.results.set(req.ReservationID, &reservation.Result{ReservationID: req.ReservationID, Status: status})
			s.registry.Notify(req.ReservationID)
		}()
	}
}

func (s *HandlerTestSuite) TestInvalidReservation() {
	for name, body := range map[string]string{
		"not json":      `{`,
		"type mismatch": strings.Replace(validBody, `"party_size": 4`, `"party_size": "4"`, 1),
		"unknown tier":  strings.Replace(validBody, `VIP Guest`, `Gold Guest`, 1),
		"no contact":    strings.Replace(validBody, `"email": "guest@example.com"`, ``, 1),
	} {
		rec := s.serve(http.MethodPost, "/reservations", body)
		s.Equal(http.StatusBadRequest, rec.Code, name)
		s.JSONEq(`{"error":"Invalid reservation data"}`, rec.Body.String(), name)
	}
	s.Empty(s.router.routed)
	s.Zero(s.registry.Pending())
}

func (s *HandlerTestSuite) TestResolved() {
	s.resolveOnRoute(reservation.StatusSuccess)

	rec := s.serve(http.MethodPost, "/reservations", validBody)

	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"message":"Reservation received. Status: SUCCESS","reservation_id":"fixed-id","status":"SUCCESS"}`, rec.Body.String())
	s.Require().Len(s.router.routed, 1)
	s.Equal("fixed-id", s.router.routed[0].ReservationID)
	s.Equal(reservation.GuestVIP, s.router.routed[0].GuestType)
	s.Equal(1, s.results.readCount())
	s.Zero(s.registry.Pending())
}

func (s *HandlerTestSuite) TestClientIDOverwritten() {
	s.resolveOnRoute(reservation.StatusNoTableAvailable)
	body := strings.Replace(validBody, `"user_id"`, `"reservation_id": "client-id", "user_id"`, 1)

	rec := s.serve(http.MethodPost, "/reservations", body)

	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"message":"Reservation received. Status: NO_TABLE_AVAILABLE","reservation_id":"fixed-id","status":"NO_TABLE_AVAILABLE"}`, rec.Body.String())
}

func (s *HandlerTestSuite) TestTimeoutWithoutSignal() {
	begin := time.Now()
	rec := s.serve(http.MethodPost, "/reservations", validBody)

	s.Equal(http.StatusGatewayTimeout, rec.Code)
	s.JSONEq(`{"error":"Reservation processing timed out"}`, rec.Body.String())
	s.GreaterOrEqual(time.Since(begin), time.Duration(s.cfg.WaitAttempts)*s.cfg.WaitDelay)
	s.Zero(s.results.readCount(), "cache is not read before the signal")
	s.Zero(s.registry.Pending())
}

func (s *HandlerTestSuite) TestTimeoutAfterSignal() {
	s.router.onRoute = func(req reservation.Request) {
		s.registry.Notify(req.ReservationID)
	}

	rec := s.serve(http.MethodPost, "/reservations", validBody)

	s.Equal(http.StatusGatewayTimeout, rec.Code)
	s.Equal(s.cfg.WaitAttempts, s.results.readCount(), "one read per round after the signal")
}

func (s *HandlerTestSuite) TestLateResult() {
	s.results.readableAfter = 1
	s.resolveOnRoute(reservation.StatusSuccess)

	rec := s.serve(http.MethodPost, "/reservations", validBody)

	s.Equal(http.StatusOK, rec.Code)
	s.Equal(2, s.results.readCount())
}

func (s *HandlerTestSuite) TestRouteFailures() {
	s.router.err = router.ErrUnknownTier
	rec := s.serve(http.MethodPost, "/reservations", validBody)
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.JSONEq(`{"error":"Failed to start reservation processing"}`, rec.Body.String())
	s.Zero(s.registry.Pending())

	s.router.err = broker.ErrPublish
	rec = s.serve(http.MethodPost, "/reservations", validBody)
	s.Equal(http.StatusGatewayTimeout, rec.Code, "publish failures are waited out")
}

func (s *HandlerTestSuite) TestStatus() {
	rec := s.serve(http.MethodGet, "/status", "")

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("Server is running", rec.Body.String())
}

func (s *HandlerTestSuite) TestInfo() {
	infoPath := filepath.Join(s.T().TempDir(), "package.json")
	s.Require().NoError(os.WriteFile(infoPath, []byte(`{"name":"gw","version":"1.2.3","description":"d","author":"a"}`), 0o600))
	s.cfg.InfoPath = infoPath

	rec := s.serve(http.MethodGet, "/info", "")
	s.Equal(http.StatusOK, rec.Code)
	info := map[string]string{}
	s.NoError(json.Unmarshal(rec.Body.Bytes(), &info))
	s.Equal(map[string]string{"name": "gw", "version": "1.2.3", "description": "d", "author": "a"}, info)

	s.cfg.InfoPath = filepath.Join(s.T().TempDir(), "missing.json")
	rec = s.serve(http.MethodGet, "/info", "")
	s.Equal(http.StatusInternalServerError, rec.Code)
}

func (s *HandlerTestSuite) TestConfigDefaults() {
	h := New(Config{}, s.router, s.results, s.registry,
		trace.NewNoopTracerProvider().Tracer("test"), middleware.GetMeter(s.log), s.log,
	)

	s.Equal(10, h.cfg.WaitAttempts)
	s.Equal(2*time.Second, h.cfg.WaitDelay)
	s.Equal(int64(1024), h.cfg.MaxPending)
	s.Equal(DefaultWaitAttempts, h.cfg.WaitAttempts)
	s.Equal(DefaultWaitDelay, h.cfg.WaitDelay)
}
