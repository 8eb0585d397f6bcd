package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryBroker_DeliversAndCountsAcks(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	c, err := NewConsumer(context.Background(), ConsumerConfig{Driver: DriverMemory, Broker: b, Topics: []string{"in"}})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	defer func() { _ = c.Close() }()
	p, err := NewProducer(ProducerConfig{Driver: DriverMemory, Broker: b})
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}

	ctx := context.Background()
	if err := p.Publish(ctx, "in", []byte("k1"), []byte("one")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Publish(ctx, "other", nil, []byte("skip")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case m := <-c.Messages():
		if m.Topic != "in" || string(m.Key) != "k1" || string(m.Value) != "one" {
			t.Fatalf("message: %+v", m)
		}
		if err := m.Ack(ctx); err != nil {
			t.Fatalf("Ack: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout")
	}
	select {
	case m := <-c.Messages():
		t.Fatalf("unexpected delivery: %+v", m)
	default:
	}

	if got := b.Acked("in"); got != 1 {
		t.Fatalf("Acked: got=%d want=1", got)
	}
	if got := b.Published("other"); len(got) != 1 || string(got[0]) != "skip" {
		t.Fatalf("Published: got=%q", got)
	}
}

func TestMemoryBroker_CloseSemantics(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	c := b.Subscribe("in")
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close #2: %v", err)
	}
	if _, ok := <-c.Messages(); ok {
		t.Fatalf("messages channel should be closed")
	}
	if err := b.Publish(context.Background(), "in", nil, []byte("x")); err != nil {
		t.Fatalf("Publish after unsubscribe: %v", err)
	}

	_ = b.Close()
	if err := b.Publish(context.Background(), "in", nil, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Publish after close: got=%v want=%v", err, ErrClosed)
	}
}
