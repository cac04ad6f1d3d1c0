package bus

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSBus implements MessageBus on a NATS connection. The connection is
// borrowed: Close ends this bus's subscriptions but leaves it open.
type NATSBus struct {
	conn   *nats.Conn
	config Config

	mu     sync.Mutex
	subs   map[*natsSub]struct{}
	closed bool
}

// NewNATSBus creates a bus on conn.
func NewNATSBus(conn *nats.Conn, cfg Config) *NATSBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &NATSBus{
		conn:   conn,
		config: cfg,
		subs:   make(map[*natsSub]struct{}),
	}
}

// Publish sends a message to a subject.
func (b *NATSBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.isClosed() {
		return ErrClosed
	}

	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Subscribe creates a subscription to pattern.
func (b *NATSBus) Subscribe(pattern string) (Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.conn.IsClosed() {
		return nil, ErrClosed
	}

	sub := &natsSub{ch: make(chan *Message, b.config.BufferSize), bus: b}
	ns, err := b.conn.Subscribe(pattern, func(m *nats.Msg) {
		sub.deliver(&Message{Subject: m.Subject, Data: m.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	sub.sub = ns
	b.subs[sub] = struct{}{}
	return sub, nil
}

// Flush waits until the server has processed every published message.
func (b *NATSBus) Flush() error {
	return b.conn.Flush()
}

// Close ends every subscription made through this bus.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var firstErr error
	for sub := range subs {
		if err := sub.end(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *NATSBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed || b.conn.IsClosed()
}

type natsSub struct {
	sub *nats.Subscription
	bus *NATSBus

	mu    sync.Mutex // guards ch against delivery after end
	ch    chan *Message
	ended bool
}

func (s *natsSub) deliver(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	select {
	case s.ch <- msg:
	default:
		// Buffer full
	}
}

func (s *natsSub) Messages() <-chan *Message {
	return s.ch
}

func (s *natsSub) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	return s.end()
}

func (s *natsSub) end() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	s.ended = true
	close(s.ch)

	if !s.sub.IsValid() {
		return nil
	}
	return s.sub.Unsubscribe()
}
