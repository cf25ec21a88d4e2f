package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/gsoc2/novu/internal/infrastructure/config"
)

// Publisher is the subset of *amqp.Channel used to republish failed jobs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQSource consumes a durable queue with manual acknowledgements.
type RabbitMQSource struct {
	queue       string
	conn        *amqp.Connection
	publisher   Publisher
	deliveries  <-chan amqp.Delivery
	maxAttempts int
	logger      *slog.Logger
}

// DialRabbitMQ connects to the broker, declares queue and starts consuming it.
func DialRabbitMQ(cfg config.WorkersConfig, queue string, logger *slog.Logger) (*RabbitMQSource, error) {
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("consume queue %s: %w", queue, err)
	}

	src := NewRabbitMQSource(queue, deliveries, ch, cfg.MaxAttempts, logger)
	src.conn = conn
	return src, nil
}

// NewRabbitMQSource builds a source over an open delivery stream.
func NewRabbitMQSource(queue string, deliveries <-chan amqp.Delivery, publisher Publisher, maxAttempts int, logger *slog.Logger) *RabbitMQSource {
	return &RabbitMQSource{
		queue:       queue,
		publisher:   publisher,
		deliveries:  deliveries,
		maxAttempts: maxAttempts,
		logger:      logger.With(slog.String("source", "rabbitmq"), slog.String("queue", queue)),
	}
}

// Connection returns the broker connection, nil when the source was built
// over an injected delivery stream.
func (s *RabbitMQSource) Connection() *amqp.Connection {
	return s.conn
}

// Fetch waits for the next delivery.
func (s *RabbitMQSource) Fetch(ctx context.Context) (*Job, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-s.deliveries:
		if !ok {
			return nil, ErrSourceClosed
		}
		id := d.MessageId
		if id == "" {
			id = strconv.FormatUint(d.DeliveryTag, 10)
		}
		return &Job{
			ID:      id,
			Topic:   s.queue,
			Payload: d.Body,
			Attempt: headerAttempt(d.Headers),
			ref:     d,
		}, nil
	}
}

// Ack acknowledges the delivery of job.
func (s *RabbitMQSource) Ack(_ context.Context, job *Job) error {
	d, ok := job.ref.(amqp.Delivery)
	if !ok {
		return fmt.Errorf("job %s was not fetched from rabbitmq", job.ID)
	}
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("ack delivery: %w", err)
	}
	return nil
}

// Retry publishes a copy of job with its attempt incremented and acks the
// original. Once maxAttempts is reached the delivery is rejected without requeue.
func (s *RabbitMQSource) Retry(ctx context.Context, job *Job, cause error) error {
	d, ok := job.ref.(amqp.Delivery)
	if !ok {
		return fmt.Errorf("job %s was not fetched from rabbitmq", job.ID)
	}

	if job.Attempt >= s.maxAttempts {
		s.logger.Error("dropping job after final attempt",
			slog.String("job_id", job.ID),
			slog.Int("attempt", job.Attempt),
			slog.String("error", errString(cause)))
		if err := d.Nack(false, false); err != nil {
			return fmt.Errorf("nack delivery: %w", err)
		}
		return nil
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[AttemptHeader] = int32(job.Attempt + 1)

	err := s.publisher.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		Headers:      headers,
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Body:         d.Body,
	})
	if err != nil {
		return fmt.Errorf("republish delivery: %w", err)
	}
	return s.Ack(ctx, job)
}

// Close closes the channel and, when owned, the connection.
func (s *RabbitMQSource) Close() error {
	err := s.publisher.Close()
	if s.conn != nil && !s.conn.IsClosed() {
		err = errors.Join(err, s.conn.Close())
	}
	return err
}

func headerAttempt(headers amqp.Table) int {
	switch v := headers[AttemptHeader].(type) {
	case int32:
		return max(int(v), 1)
	case int64:
		return max(int(v), 1)
	case int:
		return max(v, 1)
	case string:
		return parseAttempt(v)
	case []byte:
		return parseAttempt(string(v))
	default:
		return 1
	}
}
