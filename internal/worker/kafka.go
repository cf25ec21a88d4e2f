package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/gsoc2/novu/internal/infrastructure/config"
)

// MessageReader is the subset of *kafka.Reader used by KafkaSource.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageWriter is the subset of *kafka.Writer used by KafkaSource.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource consumes a topic through a consumer group. Failed jobs are
// republished to the same topic with an incremented attempt header.
type KafkaSource struct {
	topic       string
	reader      MessageReader
	writer      MessageWriter
	maxAttempts int
	logger      *slog.Logger
}

// NewKafkaSource builds a source over an existing reader and writer.
func NewKafkaSource(topic string, reader MessageReader, writer MessageWriter, maxAttempts int, logger *slog.Logger) *KafkaSource {
	return &KafkaSource{
		topic:       topic,
		reader:      reader,
		writer:      writer,
		maxAttempts: maxAttempts,
		logger:      logger.With(slog.String("source", "kafka"), slog.String("topic", topic)),
	}
}

// NewKafkaSourceFromConfig builds a consumer-group reader and a retry writer for topic.
func NewKafkaSourceFromConfig(cfg config.WorkersConfig, topic string, logger *slog.Logger) *KafkaSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaSource(topic, reader, writer, cfg.MaxAttempts, logger)
}

// Fetch blocks for the next message of the topic.
func (s *KafkaSource) Fetch(ctx context.Context) (*Job, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrSourceClosed
		}
		return nil, fmt.Errorf("fetch message: %w", err)
	}

	attempt := 1
	for _, h := range msg.Headers {
		if h.Key == AttemptHeader {
			attempt = parseAttempt(string(h.Value))
		}
	}

	return &Job{
		ID:      messageID(msg),
		Topic:   s.topic,
		Payload: msg.Value,
		Attempt: attempt,
		ref:     msg,
	}, nil
}

// Ack commits the offset of job.
func (s *KafkaSource) Ack(ctx context.Context, job *Job) error {
	msg, ok := job.ref.(kafka.Message)
	if !ok {
		return fmt.Errorf("job %s was not fetched from kafka", job.ID)
	}
	if err := s.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

// Retry republishes job with its attempt incremented and commits the
// original offset. Once maxAttempts is reached the job is committed and dropped.
func (s *KafkaSource) Retry(ctx context.Context, job *Job, cause error) error {
	msg, ok := job.ref.(kafka.Message)
	if !ok {
		return fmt.Errorf("job %s was not fetched from kafka", job.ID)
	}

	if job.Attempt >= s.maxAttempts {
		s.logger.Error("dropping job after final attempt",
			slog.String("job_id", job.ID),
			slog.Int("attempt", job.Attempt),
			slog.String("error", errString(cause)))
		return s.Ack(ctx, job)
	}

	retry := kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: withAttempt(msg.Headers, job.Attempt+1),
	}
	if err := s.writer.WriteMessages(ctx, retry); err != nil {
		return fmt.Errorf("republish message: %w", err)
	}
	return s.Ack(ctx, job)
}

// Close closes the reader and the writer.
func (s *KafkaSource) Close() error {
	return errors.Join(s.reader.Close(), s.writer.Close())
}

func messageID(msg kafka.Message) string {
	if len(msg.Key) > 0 {
		return string(msg.Key)
	}
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}

func withAttempt(headers []kafka.Header, attempt int) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers)+1)
	for _, h := range headers {
		if h.Key != AttemptHeader {
			out = append(out, h)
		}
	}
	return append(out, kafka.Header{Key: AttemptHeader, Value: []byte(strconv.Itoa(attempt))})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
