// Package bus carries change events for tasks and the work log over a
// publish/subscribe message bus.
//
// Two implementations are provided:
//
//   - NATSBus publishes on a NATS connection shared with the rest of the
//     process
//   - MemoryBus delivers in-process and is used in tests
//
// Subjects follow NATS conventions: dot-separated tokens, where "*" in a
// subscription matches one token and a trailing ">" matches the rest.
//
//	sub, _ := b.Subscribe("devsupport.tasks.>")
//	for msg := range sub.Messages() {
//	    ev, _ := bus.DecodeEvent(msg)
//	}
package bus

import (
	"errors"
	"strings"
)

// Common errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrInvalidSubject = errors.New("invalid subject")
)

// Message is a message received from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// Publisher sends messages.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// MessageBus provides publish/subscribe messaging.
type MessageBus interface {
	Publisher

	// Subscribe delivers every message whose subject matches pattern.
	Subscribe(pattern string) (Subscription, error)

	// Close ends every subscription.
	Close() error
}

// Subscription is an active subscription.
type Subscription interface {
	// Messages returns the channel for incoming messages. It is closed
	// when the subscription ends.
	Messages() <-chan *Message

	Unsubscribe() error
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize for subscription channels. Messages beyond it are dropped.
	// Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// ValidateSubject checks a publish subject: non-empty tokens, no wildcards
// and no whitespace.
func ValidateSubject(subject string) error {
	if err := validateTokens(subject); err != nil {
		return err
	}
	if strings.ContainsAny(subject, "*>") {
		return ErrInvalidSubject
	}
	return nil
}

// ValidatePattern checks a subscription pattern. ">" may only be the last
// token.
func ValidatePattern(pattern string) error {
	if err := validateTokens(pattern); err != nil {
		return err
	}
	tokens := strings.Split(pattern, ".")
	for i, tok := range tokens {
		if tok == ">" && i != len(tokens)-1 {
			return ErrInvalidSubject
		}
		if tok != "*" && tok != ">" && strings.ContainsAny(tok, "*>") {
			return ErrInvalidSubject
		}
	}
	return nil
}

func validateTokens(s string) error {
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return ErrInvalidSubject
	}
	for _, tok := range strings.Split(s, ".") {
		if tok == "" {
			return ErrInvalidSubject
		}
	}
	return nil
}

// Match reports whether subject matches pattern.
func Match(pattern, subject string) bool {
	p := strings.Split(pattern, ".")
	s := strings.Split(subject, ".")
	for i, tok := range p {
		if tok == ">" {
			return len(s) > i
		}
		if i >= len(s) {
			return false
		}
		if tok != "*" && tok != s[i] {
			return false
		}
	}
	return len(p) == len(s)
}
