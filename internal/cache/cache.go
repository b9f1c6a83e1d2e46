// Package cache stores reservation results and announces them over Redis pub/sub.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/pgillich/reservation-gateway/internal/logger"
	"github.com/pgillich/reservation-gateway/internal/reservation"
)

var (
	ErrNotConnected = errors.NewPlain("cache not connected")
	ErrCacheWrite   = errors.NewPlain("cache write failed")
)

// DataAvailableChannel announces the correlation id of a stored result
const DataAvailableChannel = "dataAvailable"

const DefaultRetryInterval = 5 * time.Second

type MessageHandler func(channel string, payload string)

type Config struct {
	URL string
	// ResultTTL is the expiry of stored results, 0 means no expiry
	ResultTTL time.Duration
}

// Client is one Redis connection pool. A subscribed client is used for nothing else.
type Client struct {
	cfg Config
	log logr.Logger

	mu         sync.Mutex
	rdb        *redis.Client
	connecting bool
	// disconnected is set by Disconnect, no lazy connect happens after it
	disconnected bool
	pubsubs    []*redis.PubSub
	handlers   []MessageHandler
}

func NewClient(cfg Config, log logr.Logger) *Client {
	return &Client{
		cfg: cfg,
		log: log,
	}
}

// Connect opens the client and checks it. Connecting an already connected client is a no-op,
// as is a call while another Connect is in flight.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.rdb != nil {
		c.mu.Unlock()

		return nil
	}
	if c.connecting {
		c.mu.Unlock()
		c.log.Info("Cache connection already in progress")

		return nil
	}
	c.connecting = true
	c.disconnected = false
	c.mu.Unlock()

	rdb, err := c.open(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connecting = false
	if err != nil {
		c.log.Error(err, "Unable to connect to cache")

		return err
	}
	c.rdb = rdb
	c.log.Info("Cache connected")

	return nil
}

func (c *Client) open(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(c.cfg.URL)
	if err != nil {
		return nil, errors.WrapWithDetails(err, "invalid cache URL", "url", c.cfg.URL)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()

		return nil, errors.Wrap(err, "unable to ping cache")
	}

	return rdb, nil
}

// Disconnect closes subscriptions and the pool. Disconnecting a disconnected client is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disconnected = true
	if c.rdb == nil {
		return nil
	}
	for _, ps := range c.pubsubs {
		if err := ps.Close(); err != nil {
			c.log.Error(err, "Unable to close subscription")
		}
	}
	c.pubsubs = nil
	err := c.rdb.Close()
	c.rdb = nil
	if err != nil {
		c.log.Error(err, "Unable to disconnect from cache")

		return errors.Wrap(err, "unable to disconnect from cache")
	}
	c.log.Info("Cache disconnected")

	return nil
}

func (c *Client) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.disconnected
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rdb != nil
}

// client returns the connected client. A client that failed to connect earlier
// (and was not disconnected since) tries to connect again.
func (c *Client) client(ctx context.Context) (*redis.Client, error) {
	c.mu.Lock()
	rdb, disconnected := c.rdb, c.disconnected
	c.mu.Unlock()
	if rdb != nil {
		return rdb, nil
	}
	if disconnected {
		return nil, ErrNotConnected
	}
	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb == nil {
		return nil, ErrNotConnected
	}

	return c.rdb, nil
}

// GetReservation returns the stored result, or nil if it is absent or unreadable
func (c *Client) GetReservation(ctx context.Context, key string) *reservation.Result {
	log := c.log.WithValues(logger.KeyReservationID, key)
	rdb, err := c.client(ctx)
	if err != nil {
		log.Error(err, "Unable to get reservation")

		return nil
	}

	data, err := rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	} else if err != nil {
		log.Error(err, "Unable to get reservation")

		return nil
	}

	result := &reservation.Result{}
	if err := json.Unmarshal(data, result); err != nil {
		log.Error(err, "Invalid reservation in cache")

		return nil
	}

	return result
}

// SetReservation stores the result under key
func (c *Client) SetReservation(ctx context.Context, key string, result reservation.Result) error {
	rdb, err := c.client(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCacheWrite, err)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCacheWrite, err)
	}
	if err := rdb.Set(ctx, key, data, c.cfg.ResultTTL).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheWrite, err)
	}

	return nil
}

func (c *Client) Publish(ctx context.Context, channel string, message string) error {
	rdb, err := c.client(ctx)
	if err != nil {
		return err
	}
	if err := rdb.Publish(ctx, channel, message).Err(); err != nil {
		return errors.WrapWithDetails(err, "unable to publish", "channel", channel)
	}

	return nil
}

// OnMessage adds a handler, called for every message of every subscribed channel
func (c *Client) OnMessage(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers = append(c.handlers, handler)
}

// Subscribe starts dispatching the messages of channel to the handlers.
// Failures are logged only. The dispatcher ends on Disconnect.
func (c *Client) Subscribe(ctx context.Context, channel string) {
	if err := c.subscribe(ctx, channel); err != nil {
		c.log.Error(err, "Unable to subscribe", "channel", channel)
	}
}

// KeepSubscribed retries Subscribe every interval until it succeeds or ctx is done.
// An established subscription is restored by go-redis itself.
func (c *Client) KeepSubscribed(ctx context.Context, channel string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	for {
		err := c.subscribe(ctx, channel)
		if err == nil || c.isDisconnected() {
			return
		}
		c.log.Error(err, "Unable to subscribe, retrying", "channel", channel, "retryIn", interval.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (c *Client) subscribe(ctx context.Context, channel string) error {
	log := c.log.WithValues("channel", channel)
	rdb, err := c.client(ctx)
	if err != nil {
		return err
	}

	ps := rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()

		return errors.WrapWithDetails(err, "unable to subscribe", "channel", channel)
	}

	c.mu.Lock()
	c.pubsubs = append(c.pubsubs, ps)
	c.mu.Unlock()
	log.Info("Subscribed")

	go func() {
		for msg := range ps.Channel() {
			c.dispatch(log, msg.Channel, msg.Payload)
		}
		log.V(1).Info("Subscription closed")
	}()

	return nil
}

func (c *Client) dispatch(log logr.Logger, channel string, payload string) {
	c.mu.Lock()
	handlers := append([]MessageHandler{}, c.handlers...)
	c.mu.Unlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error(fmt.Errorf("%v", r), "Message handler panic")
				}
			}()
			handler(channel, payload)
		}()
	}
}
