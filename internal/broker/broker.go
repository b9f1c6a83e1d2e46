// Package broker is the JetStream client used for the priority queues and the results queue.
// A queue is a durable stream with a single subject, both named after the queue.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"emperror.dev/errors"
	"github.com/go-logr/logr"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/pgillich/reservation-gateway/internal/logger"
	"github.com/pgillich/reservation-gateway/internal/tracing"
)

var (
	ErrConnection   = errors.NewPlain("broker connection failed")
	ErrNotConnected = errors.NewPlain("broker not connected")
	ErrPublish      = errors.NewPlain("broker publish failed")
)

const (
	DefaultReconnectInterval = 5 * time.Second
	DefaultMaxAge            = 24 * time.Hour
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	// URL overrides Host, Port, User and Password
	URL string

	// Name identifies the connection on the server
	Name string
	// Durable is the durable consumer name prefix, instances sharing it share the deliveries
	Durable string
	// MaxReconnects of the underlying connection, before it is closed and the supervision loop takes over
	MaxReconnects int
	// ReconnectInterval is the pause of the supervision loop
	ReconnectInterval time.Duration
	// MaxAge is the retention of the queue streams
	MaxAge time.Duration
}

// ServerURL builds the connection URL. Missing credentials still produce a URL,
// the server decides at connect time.
func (c Config) ServerURL() string {
	if c.URL != "" {
		return c.URL
	}

	return (&url.URL{
		Scheme: "nats",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
	}).String()
}

// Message is a delivered queue message
type Message struct {
	Queue  string
	Header map[string][]string
	Data   []byte
}

// Handler is called for every delivered message, ctx carries the trace context of the publisher
type Handler func(ctx context.Context, msg Message)

// Client holds one connection and its JetStream context, shared by publishers and consumers.
type Client struct {
	cfg Config
	log logr.Logger

	mu        sync.RWMutex
	conn      *nats.Conn
	js        jetstream.JetStream
	declared  map[string]struct{}
	consumers map[string]jetstream.ConsumeContext

	stopping atomic.Bool
}

func NewClient(cfg Config, log logr.Logger) *Client {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Durable == "" {
		cfg.Durable = "gateway"
	}

	return &Client{
		cfg: cfg,
		log: log.WithValues("broker", cfg.Name),
	}
}

// StreamName is the name of the stream backing the queue
func StreamName(queue string) string {
	return queue
}

// Connect opens the connection and the JetStream context.
// It is a no-op if the current connection is still usable.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.usableLocked() {
		return nil
	}
	c.resetLocked()

	conn, err := nats.Connect(c.cfg.ServerURL(), c.options()...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()

		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	c.conn = conn
	c.js = js
	c.declared = map[string]struct{}{}
	c.consumers = map[string]jetstream.ConsumeContext{}
	c.log.Info("Broker connected", "url", conn.ConnectedUrlRedacted())

	return nil
}

func (c *Client) options() []nats.Option {
	return []nats.Option{
		nats.Name(c.cfg.Name),
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.ReconnectWait(time.Second),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.log.Info("Broker disconnected", "reason", fmt.Sprintf("%v", err))
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			c.log.Info("Broker reconnected", "url", conn.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.log.Info("Broker connection closed")
		}),
	}
}

// usableLocked reports whether the connection exists and is not closed (it may be reconnecting)
func (c *Client) usableLocked() bool {
	return c.conn != nil && !c.conn.IsClosed()
}

// resetLocked forgets a stale connection with its consumers
func (c *Client) resetLocked() {
	c.stopConsumersLocked()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.js = nil
	c.declared = nil
}

func (c *Client) stopConsumersLocked() {
	for queue, consumer := range c.consumers {
		consumer.Stop()
		c.log.V(1).Info("Consumer stopped", logger.KeyQueue, queue)
	}
	c.consumers = nil
}

// IsConnected reports whether the connection is up right now
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.conn != nil && c.conn.IsConnected()
}

func (c *Client) jetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.usableLocked() || c.js == nil {
		return nil, ErrNotConnected
	}

	return c.js, nil
}

// DeclareQueue creates the durable stream of the queue, if missing
func (c *Client) DeclareQueue(ctx context.Context, queue string) error {
	js, err := c.jetStream()
	if err != nil {
		return err
	}

	return c.declare(ctx, js, queue)
}

func (c *Client) declare(ctx context.Context, js jetstream.JetStream, queue string) error {
	c.mu.RLock()
	_, has := c.declared[queue]
	c.mu.RUnlock()
	if has {
		return nil
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName(queue),
		Subjects:  []string{queue},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    c.cfg.MaxAge,
	}); err != nil {
		return errors.WrapWithDetails(err, "unable to declare queue", logger.KeyQueue, queue)
	}

	c.mu.Lock()
	if c.declared != nil {
		c.declared[queue] = struct{}{}
	}
	c.mu.Unlock()

	return nil
}

// SendMessage declares the queue and publishes the JSON encoded payload ([]byte is sent as is).
// The trace context of ctx is put into the message header.
func (c *Client) SendMessage(ctx context.Context, queue string, payload interface{}) error {
	js, err := c.jetStream()
	if err != nil {
		return err
	}
	if err := c.declare(ctx, js, queue); err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}

	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case json.RawMessage:
		data = p
	default:
		if data, err = json.Marshal(payload); err != nil {
			return errors.WrapWithDetails(err, "unable to encode message", logger.KeyQueue, queue)
		}
	}

	msg := nats.NewMsg(queue)
	msg.Data = data
	tracing.InjectHeader(ctx, msg.Header)
	if _, err := js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}

	return nil
}

// CloseConnection stops the consumers and drains the connection
func (c *Client) CloseConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	c.stopConsumersLocked()
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.declared = nil

	if conn.IsClosed() {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()

		return errors.Wrap(err, "unable to drain broker connection")
	}

	return nil
}
