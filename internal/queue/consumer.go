// Package queue feeds storage notifications from an AMQP queue to the converter.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/yungbote/price-summarizer/internal/convert"
	"github.com/yungbote/price-summarizer/internal/events"
	"github.com/yungbote/price-summarizer/internal/observability"
	"github.com/yungbote/price-summarizer/internal/pkg/retry"
	"github.com/yungbote/price-summarizer/internal/platform/logger"
)

type Settlement string

const (
	SettleAck     Settlement = "ack"
	SettleRequeue Settlement = "requeue"
	SettleReject  Settlement = "reject"
)

// Converter is the part of *convert.Converter the consumer needs.
type Converter interface {
	Convert(ctx context.Context, ref events.ObjectRef) (*convert.Outcome, error)
}

const (
	QueueTypeQuorum  = "quorum"
	QueueTypeClassic = "classic"
)

type Config struct {
	URL         string
	Queue       string
	ConsumerTag string
	Prefetch    int
	// QueueType is quorum (default) or classic. Only quorum queues stamp
	// x-delivery-count, so MaxDeliveries has no effect on classic queues.
	QueueType string
	// MaxDeliveries rejects a message once its x-delivery-count reaches it.
	// Zero requeues transient failures forever.
	MaxDeliveries int64
	// RequeueDelay is the first pause before a transient failure is requeued.
	// It doubles per delivery up to MaxReconnectDelay.
	RequeueDelay time.Duration
	// ReconnectDelay is the first pause between connection attempts. It
	// doubles per failed attempt up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

type Consumer struct {
	log     *logger.Logger
	cfg     Config
	conv    Converter
	metrics *observability.Metrics
}

func NewConsumer(log *logger.Logger, cfg Config, conv Converter, metrics *observability.Metrics) (*Consumer, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("queue: missing amqp url")
	}
	if strings.TrimSpace(cfg.Queue) == "" {
		return nil, errors.New("queue: missing queue name")
	}
	if conv == nil {
		return nil, errors.New("queue: converter required")
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	cfg.QueueType = strings.ToLower(strings.TrimSpace(cfg.QueueType))
	switch cfg.QueueType {
	case "":
		cfg.QueueType = QueueTypeQuorum
	case QueueTypeQuorum, QueueTypeClassic:
	default:
		return nil, fmt.Errorf("queue: unknown queue type %q", cfg.QueueType)
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = time.Minute
	}
	c := &Consumer{
		log:     log.With("component", "QueueConsumer", "queue", cfg.Queue),
		cfg:     cfg,
		conv:    conv,
		metrics: metrics,
	}
	if cfg.QueueType == QueueTypeClassic && cfg.MaxDeliveries > 0 {
		c.log.Warn("classic queues carry no x-delivery-count; max deliveries is not enforced", "max_deliveries", cfg.MaxDeliveries)
	}
	return c, nil
}

type queueDeclarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

func (c *Consumer) declare(ch queueDeclarer) error {
	args := amqp.Table{"x-queue-type": c.cfg.QueueType}
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare %s queue: %w", c.cfg.QueueType, err)
	}
	return nil
}

// Run consumes until ctx is cancelled, reconnecting after broker failures.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := retry.Backoff{Base: c.cfg.ReconnectDelay, Max: c.cfg.MaxReconnectDelay}
	attempt := 0
	for {
		connected, err := c.consumeOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			attempt = 0
		}
		delay := backoff.Delay(attempt)
		attempt++
		c.log.Warn("queue connection lost; reconnecting", "error", err, "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// consumeOnce reports whether it got as far as consuming before failing.
func (c *Consumer) consumeOnce(ctx context.Context) (bool, error) {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return false, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return false, fmt.Errorf("set qos: %w", err)
	}
	if err := c.declare(ch); err != nil {
		return false, err
	}
	deliveries, err := ch.Consume(c.cfg.Queue, c.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return false, fmt.Errorf("consume: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	c.log.Info("consuming", "prefetch", c.cfg.Prefetch)
	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(c.cfg.ConsumerTag, false)
			return true, ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return true, errors.New("connection closed")
			}
			return true, amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return true, errors.New("delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	deliveries := deliveryCount(d)
	settlement := c.Process(ctx, d.Body, deliveries)
	var err error
	switch settlement {
	case SettleAck:
		err = d.Ack(false)
	case SettleRequeue:
		c.waitBeforeRequeue(ctx, deliveries)
		err = d.Nack(false, true)
	default:
		err = d.Reject(false)
	}
	if err != nil {
		c.log.Error("settle delivery failed", "settlement", settlement, "delivery_tag", d.DeliveryTag, "error", err)
		return
	}
	c.metrics.IncDelivery(string(settlement))
}

// Process converts one message body and decides how to settle it. Permanent
// failures are acked, since redelivering them cannot succeed.
func (c *Consumer) Process(ctx context.Context, body []byte, deliveries int64) Settlement {
	ref, err := events.Decode(body)
	if err != nil {
		c.log.Warn("rejecting undecodable message", "error", err)
		return SettleReject
	}
	if ref.Source == "" || ref.Source == events.SourceDirect {
		ref.Source = events.SourceQueue
	}

	out, err := c.conv.Convert(ctx, ref)
	switch {
	case out == nil:
		c.log.Error("conversion returned no outcome", "input", ref.String(), "error", err)
	case err == nil:
		return SettleAck
	case out.Permanent():
		c.log.Warn("dropping message after permanent failure", "input", ref.String(), "code", out.Code, "error", err)
		return SettleAck
	}

	if c.cfg.MaxDeliveries > 0 && deliveries >= c.cfg.MaxDeliveries {
		c.log.Error("giving up after repeated failures", "input", ref.String(), "deliveries", deliveries, "error", err)
		return SettleReject
	}
	return SettleRequeue
}

// waitBeforeRequeue keeps a failing message from cycling straight back.
func (c *Consumer) waitBeforeRequeue(ctx context.Context, deliveries int64) {
	delay := retry.Backoff{Base: c.cfg.RequeueDelay, Max: c.cfg.MaxReconnectDelay}.Delay(int(deliveries))
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// deliveryCount reads the quorum-queue x-delivery-count header.
func deliveryCount(d amqp.Delivery) int64 {
	switch v := d.Headers["x-delivery-count"].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	}
	if d.Redelivered {
		return 1
	}
	return 0
}
