// Package queue moves verification envelopes and receipts between the
// gateway and its callers. Kafka is the production transport, stdio serves
// local pipelines and the in-process broker serves tests and embedding.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	DriverKafka  = "kafka"
	DriverStdio  = "stdio"
	DriverMemory = "memory"
)

// EnvKafkaTLS enables TLS on Kafka connections when set to a truthy value.
const EnvKafkaTLS = "ANONDEPOSIT_QUEUE_KAFKA_TLS"

const (
	defaultMaxLineBytes  = 4 << 20
	defaultKafkaMinBytes = 1
	defaultKafkaMaxBytes = 16 << 20
	defaultBatchTimeout  = 10 * time.Millisecond
)

var (
	ErrInvalidConfig = errors.New("queue: invalid config")
	ErrClosed        = errors.New("queue: closed")
)

// Message is a record delivered to a consumer.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
	// Timestamp is the producer time for kafka and memory, receive time for stdio.
	Timestamp time.Time

	ackFn func(context.Context) error
}

// Ack marks the message as processed. It is a no-op for drivers without
// delivery tracking.
func (m Message) Ack(ctx context.Context) error {
	if m.ackFn == nil {
		return nil
	}
	return m.ackFn(ctx)
}

type Consumer interface {
	Messages() <-chan Message
	Errors() <-chan error
	Close() error
}

// Producer publishes records. Key selects the partition on kafka and may be nil.
type Producer interface {
	Publish(ctx context.Context, topic string, key, payload []byte) error
	Close() error
}

type ConsumerConfig struct {
	Driver string

	Brokers       []string
	Group         string
	Topics        []string
	KafkaMinBytes int
	KafkaMaxBytes int
	KafkaTLS      bool

	Reader       io.Reader
	MaxLineBytes int

	Broker *MemoryBroker
}

type ProducerConfig struct {
	Driver string

	Brokers      []string
	BatchTimeout time.Duration
	KafkaTLS     bool

	Writer io.Writer

	Broker *MemoryBroker
}

func NewConsumer(ctx context.Context, cfg ConsumerConfig) (Consumer, error) {
	switch normalizeDriver(cfg.Driver) {
	case DriverKafka:
		return newKafkaConsumer(ctx, cfg)
	case DriverStdio:
		return newStdioConsumer(ctx, cfg)
	case DriverMemory:
		if cfg.Broker == nil {
			return nil, fmt.Errorf("%w: memory consumer requires a broker", ErrInvalidConfig)
		}
		topics := normalizeList(cfg.Topics)
		if len(topics) == 0 {
			return nil, fmt.Errorf("%w: memory consumer requires at least one topic", ErrInvalidConfig)
		}
		return cfg.Broker.Subscribe(topics...), nil
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

func NewProducer(cfg ProducerConfig) (Producer, error) {
	switch normalizeDriver(cfg.Driver) {
	case DriverKafka:
		return newKafkaProducer(cfg)
	case DriverStdio:
		return newStdioProducer(cfg), nil
	case DriverMemory:
		if cfg.Broker == nil {
			return nil, fmt.Errorf("%w: memory producer requires a broker", ErrInvalidConfig)
		}
		return cfg.Broker, nil
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

// TLSFromEnv reports whether EnvKafkaTLS is set to a truthy value.
func TLSFromEnv() bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(EnvKafkaTLS))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func SplitCommaList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return normalizeList(strings.Split(s, ","))
}

func normalizeDriver(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return DriverKafka
	}
	return v
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
