// Package session holds the server-side state for one connected peer: its
// identity, its exclusively owned transport, its bounded outbound queue and
// its lifecycle state.
package session

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/go-chat/protocol"
)

// DefaultQueueSize is the outbound queue capacity used when no explicit size
// is given to New.
const DefaultQueueSize = 32

// State represents the lifecycle state of a session.
type State int

const (
	StateConnecting State = iota // Connected but not yet joined
	StateActive                  // Joined and registered under a username
	StateClosing                 // Shutting down; outbound queue is being drained
	StateClosed                  // Terminal; transport released
)

// String returns a human-readable name for the session state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

var (
	// ErrQueueFull is returned by Enqueue when the outbound queue stayed full
	// for the whole bounded wait. Callers treat the peer as stalled.
	ErrQueueFull = errors.New("session: outbound queue full")

	// ErrClosing is returned by Enqueue once the session has left the
	// Connecting and Active states; nothing enqueued after that point is
	// guaranteed to reach the peer.
	ErrClosing = errors.New("session: closing")
)

// Session is the server-side record of one connection. The transport handle
// is owned exclusively by the session and released exactly once. Messages
// enqueued with Enqueue are delivered to the peer in FIFO order by the
// connection's writer, which consumes Outbound.
//
// A Session is safe for concurrent use.
type Session struct {
	id   string
	conn net.Conn

	mu       sync.RWMutex
	username string
	state    State

	outbound chan protocol.Message
	closing  chan struct{} // closed on the first transition to Closing
	done     chan struct{} // closed on the transition to Closed

	closeOnce sync.Once
	connOnce  sync.Once
}

// New creates a Session in the Connecting state for the given transport.
//
// Parameters:
//   - id: Pre-join connection identity, unique per connection
//   - conn: The transport handle; ownership passes to the session
//   - queueSize: Outbound queue capacity; DefaultQueueSize when <= 0
//
// Returns:
//   - A new Session ready for use by a connection handler
func New(id string, conn net.Conn, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	return &Session{
		id:       id,
		conn:     conn,
		state:    StateConnecting,
		outbound: make(chan protocol.Message, queueSize),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the pre-join connection identity assigned at accept time.
func (s *Session) ID() string {
	return s.id
}

// Conn returns the session's transport handle. Only the session's own
// connection handler may read from or write to it.
func (s *Session) Conn() net.Conn {
	return s.conn
}

// Username returns the username bound by Activate, or "" before joining.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Activate binds the username and transitions Connecting -> Active. The
// username is immutable afterwards.
//
// Parameters:
//   - username: The identity accepted at join time
//
// Returns:
//   - An error if the session is not in the Connecting state
func (s *Session) Activate(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnecting {
		return fmt.Errorf("session %s: cannot activate from state %s", s.id, s.state)
	}

	s.username = username
	s.state = StateActive
	return nil
}

// BeginClose transitions the session to Closing and signals the writer to
// drain the outbound queue and release the transport. Only the first call
// performs the transition.
//
// Returns:
//   - wasActive: true if the session was Active when the transition happened
//   - first: true for the call that performed the transition, false otherwise
func (s *Session) BeginClose() (wasActive, first bool) {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return false, false
	}

	wasActive = s.state == StateActive
	s.state = StateClosing
	s.mu.Unlock()

	close(s.closing)
	return wasActive, true
}

// Enqueue appends a message to the outbound queue, waiting at most wait for
// space when the queue is full. The queue preserves FIFO order per session.
//
// Parameters:
//   - m: The message to deliver to this peer
//   - wait: Bounded time to wait for queue space; 0 means do not wait
//
// Returns:
//   - ErrClosing if the session is no longer accepting deliveries,
//     ErrQueueFull if the queue stayed full for the whole wait, nil otherwise
func (s *Session) Enqueue(m protocol.Message, wait time.Duration) error {
	if st := s.State(); st == StateClosing || st == StateClosed {
		return ErrClosing
	}

	select {
	case s.outbound <- m:
		return nil
	default:
	}

	if wait <= 0 {
		return ErrQueueFull
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case s.outbound <- m:
		return nil
	case <-s.done:
		return ErrClosing
	case <-timer.C:
		return ErrQueueFull
	}
}

// Outbound returns the channel the connection's writer drains. No other
// component may consume it.
func (s *Session) Outbound() <-chan protocol.Message {
	return s.outbound
}

// Closing returns a channel that is closed when the session enters the
// Closing state. The writer uses it to switch into drain mode.
func (s *Session) Closing() <-chan struct{} {
	return s.closing
}

// Done returns a channel that is closed when the session reaches Closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Kill releases the transport handle without advancing the lifecycle state,
// forcing both connection loops to fail out and run their regular teardown.
// Used to cut off stalled peers. Safe to call multiple times; the transport
// is closed at most once between Kill and Close.
func (s *Session) Kill() {
	s.connOnce.Do(func() {
		_ = s.conn.Close()
	})
}

// Close marks the session Closed and releases the transport if Kill has not
// already done so. It is idempotent; only the first call does any work.
//
// Returns:
//   - The error from closing the transport, if this call released it
func (s *Session) Close() error {
	s.BeginClose()

	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		close(s.done)
		s.connOnce.Do(func() {
			err = s.conn.Close()
		})
	})

	return err
}
