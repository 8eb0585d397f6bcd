package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker is an in-process Producer that fans records out to its
// subscribers. It keeps every published record and counts acks per topic.
type MemoryBroker struct {
	mu        sync.Mutex
	subs      map[string][]*memoryConsumer
	published map[string][]Message
	acked     map[string]int
	closed    bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs:      make(map[string][]*memoryConsumer),
		published: make(map[string][]Message),
		acked:     make(map[string]int),
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string, key, payload []byte) error {
	msg := Message{
		Topic:     topic,
		Key:       append([]byte(nil), key...),
		Value:     append([]byte(nil), payload...),
		Timestamp: time.Now().UTC(),
	}
	msg.ackFn = func(context.Context) error {
		b.mu.Lock()
		b.acked[topic]++
		b.mu.Unlock()
		return nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.published[topic] = append(b.published[topic], msg)
	subs := append([]*memoryConsumer(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, c := range subs {
		if err := c.deliver(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting publishes. Subscribers stay open until closed.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Subscribe returns a consumer for records published after the call.
func (b *MemoryBroker) Subscribe(topics ...string) Consumer {
	c := &memoryConsumer{
		broker: b,
		topics: topics,
		msgCh:  make(chan Message, 256),
		errCh:  make(chan error),
		stop:   make(chan struct{}),
	}
	b.mu.Lock()
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], c)
	}
	b.mu.Unlock()
	return c
}

// Published returns the payloads published to topic, oldest first.
func (b *MemoryBroker) Published(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, 0, len(b.published[topic]))
	for _, m := range b.published[topic] {
		out = append(out, append([]byte(nil), m.Value...))
	}
	return out
}

func (b *MemoryBroker) Acked(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acked[topic]
}

func (b *MemoryBroker) unsubscribe(c *memoryConsumer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range c.topics {
		subs := b.subs[t]
		for i, s := range subs {
			if s == c {
				b.subs[t] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

type memoryConsumer struct {
	broker *MemoryBroker
	topics []string

	// senders hold mu for reading; Close takes it for writing once stop is
	// closed so msgCh is never closed under a sender.
	mu    sync.RWMutex
	msgCh chan Message
	errCh chan error
	stop  chan struct{}
	once  sync.Once
}

func (c *memoryConsumer) deliver(ctx context.Context, msg Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	select {
	case <-c.stop:
		return nil
	default:
	}
	select {
	case c.msgCh <- msg:
		return nil
	case <-c.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *memoryConsumer) Messages() <-chan Message { return c.msgCh }

func (c *memoryConsumer) Errors() <-chan error { return c.errCh }

func (c *memoryConsumer) Close() error {
	c.once.Do(func() {
		close(c.stop)
		c.broker.unsubscribe(c)
		c.mu.Lock()
		close(c.msgCh)
		close(c.errCh)
		c.mu.Unlock()
	})
	return nil
}
