package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	amqplib "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Harsh-BH/appjob/internal/dispatcher"
	"github.com/Harsh-BH/appjob/internal/domain"
	"github.com/Harsh-BH/appjob/internal/usecase"
)

const (
	// QueueName is where clients enqueue start requests.
	QueueName = "appjob.requests"

	deadLetterExchange = "dlx.appjob.requests"

	// Reconnection parameters
	maxReconnectDelay  = 30 * time.Second
	baseReconnectDelay = 1 * time.Second
)

// Starter starts a job from a request.
type Starter interface {
	Start(ctx context.Context, req usecase.StartRequest) (dispatcher.JobInfo, error)
}

// Consumer reads start requests from RabbitMQ and starts jobs for them.
// A delivery is acked once the job is accepted, dead-lettered when the request
// can never succeed, and requeued when the engines are temporarily full.
type Consumer struct {
	url      string
	prefetch int
	starter  Starter
	logger   *zap.Logger

	mu      sync.Mutex
	conn    *amqplib.Connection
	channel *amqplib.Channel
	closed  bool
	closeCh chan struct{}
}

// NewConsumer connects to RabbitMQ and declares the request queue.
func NewConsumer(url string, prefetch int, starter Starter, logger *zap.Logger) (*Consumer, error) {
	c := newConsumer(url, prefetch, starter, logger)
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func newConsumer(url string, prefetch int, starter Starter, logger *zap.Logger) *Consumer {
	if prefetch < 1 {
		prefetch = 1
	}
	return &Consumer{
		url:      url,
		prefetch: prefetch,
		starter:  starter,
		logger:   logger,
		closeCh:  make(chan struct{}),
	}
}

func (c *Consumer) connect() error {
	conn, err := amqplib.Dial(c.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp qos: %w", err)
	}

	_, err = ch.QueueDeclare(
		QueueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqplib.Table{
			"x-queue-type":              "quorum",
			"x-dead-letter-exchange":    deadLetterExchange,
			"x-dead-letter-routing-key": QueueName + ".dlq",
		},
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp queue declare: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	return nil
}

// Start consumes until ctx is cancelled or Close is called, reconnecting
// with exponential backoff when the connection drops.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if err == nil || c.stopped(ctx) {
			return nil
		}

		c.logger.Warn("AMQP consumer lost connection, reconnecting...", zap.Error(err))

		for attempt := 0; ; attempt++ {
			delay := time.Duration(math.Min(
				float64(baseReconnectDelay)*math.Pow(2, float64(attempt)),
				float64(maxReconnectDelay),
			))
			c.logger.Info("Reconnect attempt",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)

			select {
			case <-c.closeCh:
				return nil
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}

			if err := c.connect(); err != nil {
				c.logger.Error("Reconnect failed", zap.Error(err))
				continue
			}

			c.logger.Info("Reconnected to RabbitMQ")
			break
		}
	}
}

func (c *Consumer) stopped(ctx context.Context) bool {
	select {
	case <-c.closeCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()

	if ch == nil {
		return errors.New("channel is nil")
	}

	deliveries, err := ch.Consume(
		QueueName,
		"",    // auto-generated consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}

	c.logger.Info("AMQP consumer started", zap.String("queue", QueueName))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("AMQP consumer stopping (context cancelled)")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, delivery)
		}
	}
}

// Verdict is what happens to a delivery after it was handled.
type Verdict int

const (
	Ack Verdict = iota
	Reject
	Requeue
)

func (v Verdict) String() string {
	switch v {
	case Ack:
		return "ack"
	case Reject:
		return "reject"
	case Requeue:
		return "requeue"
	}
	return "unknown"
}

// Decide maps the outcome of a start attempt to a verdict. Bad and duplicate
// requests go to the dead-letter queue; capacity and infrastructure errors
// are retried.
func Decide(err error) Verdict {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, usecase.ErrInvalidRequest),
		errors.Is(err, usecase.ErrDuplicateRequest),
		errors.Is(err, domain.ErrUnknownEngine):
		return Reject
	default:
		return Requeue
	}
}

func (c *Consumer) handle(ctx context.Context, delivery amqplib.Delivery) Verdict {
	var req usecase.StartRequest
	err := json.Unmarshal(delivery.Body, &req)
	if err != nil {
		err = fmt.Errorf("%w: %v", usecase.ErrInvalidRequest, err)
	} else {
		if req.RequestID == "" {
			req.RequestID = delivery.MessageId
		}
		var info dispatcher.JobInfo
		info, err = c.starter.Start(ctx, req)
		if err == nil {
			c.logger.Debug("Started job from queue",
				zap.Int64("job_id", int64(info.ID)),
				zap.String("kind", req.Kind),
				zap.String("request_id", req.RequestID),
			)
		}
	}

	verdict := Decide(err)
	switch verdict {
	case Ack:
		err = delivery.Ack(false)
	case Reject:
		c.logger.Warn("Rejecting start request", zap.Error(err), zap.String("message_id", delivery.MessageId))
		err = delivery.Nack(false, false)
	case Requeue:
		c.logger.Warn("Requeueing start request", zap.Error(err), zap.String("message_id", delivery.MessageId))
		err = delivery.Nack(false, true)
	}
	if err != nil {
		c.logger.Error("Failed to settle delivery", zap.Stringer("verdict", verdict), zap.Error(err))
	}
	return verdict
}

// Close stops consuming and closes the connection.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closeCh)

	var errs []error
	if c.channel != nil {
		errs = append(errs, c.channel.Close())
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
	}
	return errors.Join(errs...)
}
