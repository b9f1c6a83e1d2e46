package broker

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/pgillich/reservation-gateway/internal/logger"
	"github.com/pgillich/reservation-gateway/internal/tracing"
)

// SubscribeWithReconnect keeps a consumer of the queue alive until ctx is done or StopReconnecting is called.
// Each round it (re)connects if the connection is not usable, declares the queue and registers
// the consumer if it is not registered on the current connection, then pauses ReconnectInterval.
// Messages are acknowledged on delivery, before the handler runs.
func (c *Client) SubscribeWithReconnect(ctx context.Context, queue string, handler Handler) {
	log := c.log.WithValues(logger.KeyQueue, queue)
	log.Info("Supervision started")
	defer log.Info("Supervision stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if c.stopping.Load() {
			return
		}

		if err := c.ensureConsumer(ctx, queue, handler); err != nil {
			log.Error(err, "Unable to subscribe, retrying", "retryIn", c.cfg.ReconnectInterval.String())
		}
		timer.Reset(c.cfg.ReconnectInterval)
	}
}

// StopReconnecting ends all supervision loops of the client after their current pause
func (c *Client) StopReconnecting() {
	c.stopping.Store(true)
}

// ConsumerName is the durable consumer name of the queue
func (c *Client) ConsumerName(queue string) string {
	return c.cfg.Durable + "_" + queue
}

func (c *Client) ensureConsumer(ctx context.Context, queue string, handler Handler) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	js, err := c.jetStream()
	if err != nil {
		return err
	}
	if err := c.declare(ctx, js, queue); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.js != js || c.consumers == nil {
		return ErrNotConnected
	}
	if _, has := c.consumers[queue]; has {
		return nil
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, StreamName(queue), jetstream.ConsumerConfig{
		Durable:       c.ConsumerName(queue),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		FilterSubject: queue,
	})
	if err != nil {
		return errors.WrapWithDetails(err, "unable to create consumer", logger.KeyQueue, queue)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := msg.Ack(); err != nil {
			c.log.Error(err, "Unable to acknowledge message", logger.KeyQueue, queue)
		}
		handler(tracing.ExtractHeader(ctx, msg.Headers()), Message{
			Queue:  queue,
			Header: msg.Headers(),
			Data:   msg.Data(),
		})
	}, jetstream.ConsumeErrHandler(func(consumeCtx jetstream.ConsumeContext, err error) {
		c.log.Error(err, "Consumer error", logger.KeyQueue, queue)
		if errors.Is(err, jetstream.ErrConsumerDeleted) || errors.Is(err, jetstream.ErrConsumerNotFound) {
			c.dropConsumer(queue, consumeCtx)
		}
	}))
	if err != nil {
		return errors.WrapWithDetails(err, "unable to consume", logger.KeyQueue, queue)
	}
	c.consumers[queue] = consumeCtx
	c.log.Info("Consumer registered", logger.KeyQueue, queue, "consumer", c.ConsumerName(queue))

	return nil
}

// dropConsumer forgets a broken consumer, so the next round registers it again
func (c *Client) dropConsumer(queue string, consumeCtx jetstream.ConsumeContext) {
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if current, has := c.consumers[queue]; has && current == consumeCtx {
			current.Stop()
			delete(c.consumers, queue)
		}
	}()
}
