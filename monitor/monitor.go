// Package monitor defines the observer the dispatcher notifies about chat
// activity, with implementations for structured logging and Redis pub/sub.
// Monitoring stays a pluggable collaborator; the core never writes to a
// console or a broker directly.
package monitor

import (
	"time"

	"github.com/cyberinferno/go-chat/logger"
)

// EventKind identifies the type of chat activity being observed.
type EventKind int

const (
	EventJoin EventKind = iota + 1
	EventLeave
	EventChat
	EventWhisper
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventJoin:
		return "join"
	case EventLeave:
		return "leave"
	case EventChat:
		return "chat"
	case EventWhisper:
		return "whisper"
	default:
		return "unknown"
	}
}

// Event describes one accepted chat event. Recipient is set for whispers
// only; Detail carries the message body or notice text.
type Event struct {
	Kind      EventKind
	Username  string
	Recipient string
	Detail    string
	Time      time.Time
}

// Monitor observes accepted chat events. Observe is called synchronously on
// the dispatching goroutine; implementations must be safe for concurrent use
// and must not block.
type Monitor interface {
	Observe(e Event)
}

// nopMonitor ignores all events.
type nopMonitor struct{}

func (nopMonitor) Observe(Event) {}

// Nop returns a Monitor that ignores everything.
func Nop() Monitor {
	return nopMonitor{}
}

// multiMonitor fans each event out to several monitors in order.
type multiMonitor []Monitor

func (m multiMonitor) Observe(e Event) {
	for _, mon := range m {
		mon.Observe(e)
	}
}

// Multi combines several monitors into one; nil entries are skipped.
//
// Parameters:
//   - monitors: The monitors to notify, in order
//
// Returns:
//   - A Monitor that forwards every event to each given monitor
func Multi(monitors ...Monitor) Monitor {
	combined := make(multiMonitor, 0, len(monitors))
	for _, m := range monitors {
		if m != nil {
			combined = append(combined, m)
		}
	}

	return combined
}

// LogMonitor writes each event to a structured logger at info level.
type LogMonitor struct {
	log logger.Logger
}

// NewLogMonitor creates a Monitor that logs events through log.
//
// Parameters:
//   - log: Destination logger; a no-op logger if nil
//
// Returns:
//   - A new LogMonitor instance
func NewLogMonitor(log logger.Logger) *LogMonitor {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &LogMonitor{log: log}
}

// Observe implements Monitor.
func (m *LogMonitor) Observe(e Event) {
	fields := []logger.Field{
		{Key: "event", Value: e.Kind.String()},
		{Key: "username", Value: e.Username},
	}
	if e.Recipient != "" {
		fields = append(fields, logger.Field{Key: "recipient", Value: e.Recipient})
	}
	if e.Detail != "" {
		fields = append(fields, logger.Field{Key: "detail", Value: e.Detail})
	}

	m.log.Info("chat event", fields...)
}
