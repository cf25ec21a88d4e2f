// Package health provides dependency health indicators and an aggregated
// health report.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// RedisIndicator reports whether Redis answers PING.
type RedisIndicator struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisIndicator creates a Redis indicator.
func NewRedisIndicator(client redis.UniversalClient, timeout time.Duration) *RedisIndicator {
	return &RedisIndicator{client: client, timeout: timeout}
}

func (r *RedisIndicator) Name() string { return "redis" }

// IsHealthy pings Redis.
func (r *RedisIndicator) IsHealthy(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return false, fmt.Errorf("redis ping: %w", err)
	}
	return true, nil
}

// KafkaIndicator reports whether any configured broker accepts connections.
type KafkaIndicator struct {
	brokers []string
	dialer  *kafka.Dialer
}

// NewKafkaIndicator creates a Kafka indicator.
func NewKafkaIndicator(brokers []string, timeout time.Duration) *KafkaIndicator {
	return &KafkaIndicator{
		brokers: brokers,
		dialer:  &kafka.Dialer{Timeout: timeout},
	}
}

func (k *KafkaIndicator) Name() string { return "kafka" }

// IsHealthy dials brokers in order until one answers.
func (k *KafkaIndicator) IsHealthy(ctx context.Context) (bool, error) {
	if len(k.brokers) == 0 {
		return false, errors.New("no kafka brokers configured")
	}

	var errs []error
	for _, broker := range k.brokers {
		conn, err := k.dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, fmt.Errorf("dial %s: %w", broker, err))
			continue
		}
		_ = conn.Close()
		return true, nil
	}
	return false, errors.Join(errs...)
}

// ConnectionState is satisfied by *amqp091.Connection.
type ConnectionState interface {
	IsClosed() bool
}

// RabbitMQIndicator reports whether the AMQP connection is open.
type RabbitMQIndicator struct {
	conn func() ConnectionState
}

// NewRabbitMQIndicator creates an indicator over the connection returned by conn,
// which may change across reconnects.
func NewRabbitMQIndicator(conn func() ConnectionState) *RabbitMQIndicator {
	return &RabbitMQIndicator{conn: conn}
}

func (r *RabbitMQIndicator) Name() string { return "rabbitmq" }

// IsHealthy checks the connection state.
func (r *RabbitMQIndicator) IsHealthy(context.Context) (bool, error) {
	conn := r.conn()
	if conn == nil {
		return false, errors.New("rabbitmq not connected")
	}
	return !conn.IsClosed(), nil
}
