// Package heartbeat announces a running server on the event bus at a fixed
// interval, so watchers can tell which servers are alive and how busy they
// are.
package heartbeat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/devsupport/bus"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrNotStarted     = errors.New("heartbeat not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Statuses.
const (
	StatusServing  = "serving"
	StatusDraining = "draining"
)

// Heartbeat is the payload of a server.heartbeat event.
type Heartbeat struct {
	ServerID  string `json:"server_id"`
	Transport string `json:"transport"`
	Status    string `json:"status"`

	// InFlight is the number of tool calls being handled.
	InFlight int64 `json:"in_flight"`
}

// Config configures a Sender.
type Config struct {
	Events    *bus.Emitter
	ServerID  string
	Transport string

	// Interval between heartbeats.
	// Default: 5 seconds
	Interval time.Duration

	// InFlight reports the current load. Optional.
	InFlight func() int64
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Events == nil || c.ServerID == "" {
		return ErrInvalidConfig
	}
	return nil
}

// Sender publishes heartbeats until stopped.
type Sender struct {
	cfg    Config
	status atomic.Value // string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSender creates a sender with status serving.
func NewSender(cfg Config) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.InFlight == nil {
		cfg.InFlight = func() int64 { return 0 }
	}

	s := &Sender{cfg: cfg}
	s.status.Store(StatusServing)
	return s, nil
}

// SetStatus changes the status sent from the next heartbeat on.
func (s *Sender) SetStatus(status string) {
	s.status.Store(status)
}

// Start sends one heartbeat immediately and then one per interval until
// Stop is called or ctx ends.
func (s *Sender) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyStarted
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx, s.stopCh, s.doneCh)
	return nil
}

func (s *Sender) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	s.send()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.send()
		}
	}
}

func (s *Sender) send() {
	s.cfg.Events.Emit(bus.EventHeartbeat, s.current())
}

func (s *Sender) current() Heartbeat {
	return Heartbeat{
		ServerID:  s.cfg.ServerID,
		Transport: s.cfg.Transport,
		Status:    s.status.Load().(string),
		InFlight:  s.cfg.InFlight(),
	}
}

// Stop sends a final draining heartbeat and stops the loop.
func (s *Sender) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.running = false
	stop, done := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stop)
	<-done

	s.SetStatus(StatusDraining)
	s.send()
	return nil
}
