package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vinayprograms/devsupport/logging"
)

// DefaultPrefix is the first subject token of every event.
const DefaultPrefix = "devsupport"

// Event types. The subject of an event is "<prefix>.<type>".
const (
	EventTaskAdded     = "tasks.added"
	EventTaskCompleted = "tasks.completed"
	EventWorkLogged    = "worklog.logged"
	EventHeartbeat     = "server.heartbeat"
)

// Event is the payload published for a change.
type Event struct {
	Type string          `json:"type"`
	At   string          `json:"at"`
	Data json.RawMessage `json:"data"`
}

// DecodeEvent parses a message published by an Emitter.
func DecodeEvent(msg *Message) (Event, error) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event on %s: %w", msg.Subject, err)
	}
	return ev, nil
}

// Emitter publishes change events. A nil *Emitter discards them, so
// components can emit unconditionally.
type Emitter struct {
	pub    Publisher
	prefix string
	logger *logging.Logger
	now    func() time.Time
}

// NewEmitter creates an emitter publishing under prefix. An empty prefix
// uses DefaultPrefix.
func NewEmitter(pub Publisher, prefix string, logger *logging.Logger) *Emitter {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Emitter{
		pub:    pub,
		prefix: prefix,
		logger: logger.WithComponent("bus"),
		now:    time.Now,
	}
}

// Subject returns the subject for eventType.
func (e *Emitter) Subject(eventType string) string {
	return e.prefix + "." + eventType
}

// Pattern returns the subscription pattern matching every event.
func (e *Emitter) Pattern() string {
	return e.prefix + ".>"
}

// Emit publishes data as an event. Failures are logged, never returned:
// the change has already been persisted.
func (e *Emitter) Emit(eventType string, data interface{}) {
	if e == nil {
		return
	}

	payload, err := json.Marshal(data)
	if err == nil {
		payload, err = json.Marshal(Event{
			Type: eventType,
			At:   e.now().UTC().Format(time.RFC3339Nano),
			Data: payload,
		})
	}
	if err == nil {
		err = e.pub.Publish(e.Subject(eventType), payload)
	}
	if err != nil {
		e.logger.Warn("event_publish_failed", map[string]interface{}{
			"type":  eventType,
			"error": err.Error(),
		})
		return
	}
	e.logger.Debug("event_published", map[string]interface{}{"type": eventType})
}
