package cache

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/suite"

	"github.com/pgillich/reservation-gateway/internal/logger"
	"github.com/pgillich/reservation-gateway/internal/reservation"
)

type CacheTestSuite struct {
	suite.Suite
	log   logr.Logger
	redis *miniredis.Miniredis
}

func TestCacheTestSuite(t *testing.T) {
	suite.Run(t, new(CacheTestSuite))
}

func (s *CacheTestSuite) SetupTest() {
	s.log = logger.GetLogger(s.T().Name())
	s.redis = miniredis.RunT(s.T())
}

func (s *CacheTestSuite) newClient(ttl time.Duration) *Client {
	client := NewClient(Config{URL: "redis://" + s.redis.Addr() + "/0", ResultTTL: ttl}, s.log)
	s.Require().NoError(client.Connect(context.Background()))
	s.T().Cleanup(func() { _ = client.Disconnect() })

	return client
}

func (s *CacheTestSuite) TestConnectIdempotent() {
	ctx := context.Background()
	client := NewClient(Config{URL: "redis://" + s.redis.Addr()}, s.log)

	s.False(client.IsConnected())
	s.NoError(client.Disconnect())
	s.NoError(client.Connect(ctx))
	s.NoError(client.Connect(ctx))
	s.True(client.IsConnected())
	s.NoError(client.Disconnect())
	s.NoError(client.Disconnect())
	s.False(client.IsConnected())
}

func (s *CacheTestSuite) TestConnectFailure() {
	client := NewClient(Config{URL: "not-a-redis-url"}, s.log)
	s.Error(client.Connect(context.Background()))
	s.False(client.IsConnected())
}

func (s *CacheTestSuite) TestSetGetReservation() {
	ctx := context.Background()
	client := s.newClient(0)

	s.Nil(client.GetReservation(ctx, "missing"))

	result := reservation.Result{ReservationID: "r-1", Status: reservation.StatusSuccess}
	s.NoError(client.SetReservation(ctx, "r-1", result))
	s.Equal(&result, client.GetReservation(ctx, "r-1"))
	s.Zero(s.redis.TTL("r-1"))
}

func (s *CacheTestSuite) TestResultTTL() {
	ctx := context.Background()
	client := s.newClient(time.Minute)

	s.NoError(client.SetReservation(ctx, "r-2", reservation.Result{ReservationID: "r-2", Status: reservation.StatusNoTableAvailable}))
	s.Equal(time.Minute, s.redis.TTL("r-2"))
	s.redis.FastForward(2 * time.Minute)
	s.Nil(client.GetReservation(ctx, "r-2"))
}

func (s *CacheTestSuite) TestInvalidEntry() {
	client := s.newClient(0)
	s.Require().NoError(s.redis.Set("broken", "{"))

	s.Nil(client.GetReservation(context.Background(), "broken"))
}

func (s *CacheTestSuite) TestNotConnected() {
	ctx := context.Background()
	client := NewClient(Config{URL: "redis://" + downAddr(s.T())}, s.log)

	s.Nil(client.GetReservation(ctx, "r-1"))
	s.ErrorIs(client.SetReservation(ctx, "r-1", reservation.Result{}), ErrCacheWrite)
	s.ErrorIs(client.SetReservation(ctx, "r-1", reservation.Result{}), ErrNotConnected)
	s.ErrorIs(client.Publish(ctx, DataAvailableChannel, "r-1"), ErrNotConnected)
	client.Subscribe(ctx, DataAvailableChannel)
}

func (s *CacheTestSuite) TestDisconnectedStaysDisconnected() {
	ctx := context.Background()
	client := s.newClient(0)
	s.NoError(client.Disconnect())

	s.ErrorIs(client.SetReservation(ctx, "r-1", reservation.Result{}), ErrNotConnected)
	s.False(client.IsConnected())
}

func (s *CacheTestSuite) TestConnectAfterCacheRecovered() {
	ctx := context.Background()
	addr := downAddr(s.T())
	client := NewClient(Config{URL: "redis://" + addr + "/0"}, s.log)
	s.T().Cleanup(func() { _ = client.Disconnect() })

	s.Error(client.Connect(ctx))
	s.ErrorIs(client.SetReservation(ctx, "r-9", reservation.Result{ReservationID: "r-9"}), ErrCacheWrite)
	s.Nil(client.GetReservation(ctx, "r-9"))

	recovered := miniredis.NewMiniRedis()
	s.Require().NoError(recovered.StartAddr(addr))
	s.T().Cleanup(recovered.Close)

	result := reservation.Result{ReservationID: "r-9", Status: reservation.StatusSuccess}
	s.NoError(client.SetReservation(ctx, "r-9", result))
	s.True(recovered.Exists("r-9"))
	s.Equal(&result, client.GetReservation(ctx, "r-9"))
	s.True(client.IsConnected())
}

func (s *CacheTestSuite) TestKeepSubscribed() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr := downAddr(s.T())
	subscriber := NewClient(Config{URL: "redis://" + addr + "/0"}, s.log)
	s.T().Cleanup(func() { _ = subscriber.Disconnect() })

	received := make(chan string, 1)
	subscriber.OnMessage(func(_ string, payload string) {
		received <- payload
	})
	go subscriber.KeepSubscribed(ctx, DataAvailableChannel, 20*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	recovered := miniredis.NewMiniRedis()
	s.Require().NoError(recovered.StartAddr(addr))
	s.T().Cleanup(recovered.Close)
	s.Eventually(func() bool {
		return recovered.PubSubNumSub(DataAvailableChannel)[DataAvailableChannel] == 1
	}, 5*time.Second, 10*time.Millisecond)

	recovered.Publish(DataAvailableChannel, "r-10")
	select {
	case payload := <-received:
		s.Equal("r-10", payload)
	case <-time.After(5 * time.Second):
		s.Fail("no message")
	}
}

func (s *CacheTestSuite) TestWriteFailure() {
	ctx := context.Background()
	client := s.newClient(0)
	s.redis.SetError("server down")

	s.ErrorIs(client.SetReservation(ctx, "r-1", reservation.Result{}), ErrCacheWrite)
	s.Nil(client.GetReservation(ctx, "r-1"))
}

func (s *CacheTestSuite) TestPublishSubscribe() {
	ctx := context.Background()
	publisher := s.newClient(0)
	subscriber := s.newClient(0)

	received := make(chan string, 1)
	subscriber.OnMessage(func(channel string, payload string) {
		panic("handler failures do not stop the dispatcher")
	})
	subscriber.OnMessage(func(channel string, payload string) {
		s.Equal(DataAvailableChannel, channel)
		received <- payload
	})
	subscriber.Subscribe(ctx, DataAvailableChannel)

	s.NoError(publisher.Publish(ctx, DataAvailableChannel, "r-3"))
	select {
	case payload := <-received:
		s.Equal("r-3", payload)
	case <-time.After(5 * time.Second):
		s.Fail("no message")
	}
}

// downAddr is a local address nothing listens on
func downAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	return addr
}
