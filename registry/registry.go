// Package registry provides the shared, concurrency-safe directory of active
// chat sessions keyed by username. It is the single structure mutated by more
// than one connection's workers; every membership read and write goes through
// it under its reader-writer discipline.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/cyberinferno/go-chat/logger"
	"github.com/cyberinferno/go-chat/protocol"
	"github.com/cyberinferno/go-chat/session"
)

// DefaultEnqueueWait is the bounded time a broadcast waits for space on a
// full outbound queue before the owning peer is treated as stalled.
const DefaultEnqueueWait = 50 * time.Millisecond

// ErrDuplicateUsername is returned by Register when the username is already
// bound to a session that is connecting or active.
var ErrDuplicateUsername = errors.New("registry: username already taken")

// Registry maps usernames (unique, case-sensitive) to their sessions and
// remembers insertion order so directory snapshots are insertion-stable.
// All methods are safe for concurrent use.
type Registry struct {
	Logger logger.Logger

	// EnqueueWait bounds how long Broadcast waits per stalled recipient
	// before disconnecting it. DefaultEnqueueWait when zero.
	EnqueueWait time.Duration

	mu       sync.RWMutex
	sessions map[string]*session.Session
	order    []string
}

// New creates an empty Registry.
//
// Parameters:
//   - log: Logger for stalled-peer disconnections; a no-op logger if nil
//
// Returns:
//   - A new Registry ready for use
func New(log logger.Logger) *Registry {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Registry{
		Logger:      log,
		EnqueueWait: DefaultEnqueueWait,
		sessions:    make(map[string]*session.Session),
	}
}

// Register inserts the session under username. At most one live session may
// hold a username at any instant; the check and the insert are one atomic
// step, so of any number of concurrent attempts on the same name exactly one
// succeeds. A name is taken as soon as its holder is registered, even before
// it finishes joining; only a leftover entry whose session is already
// shutting down is replaced.
//
// Parameters:
//   - username: The identity to bind, case-sensitive
//   - s: The session joining under that identity
//
// Returns:
//   - ErrDuplicateUsername if the name is held by a live session
func (r *Registry) Register(username string, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[username]; ok {
		switch existing.State() {
		case session.StateConnecting, session.StateActive:
			return ErrDuplicateUsername
		}
		r.removeOrder(username)
	}

	r.sessions[username] = s
	r.order = append(r.order, username)
	return nil
}

// Unregister removes the username from the directory, but only while the
// entry still belongs to s. A teardown that lost the name to a rejoining
// client must not evict the successor, so the identity check and the delete
// are one atomic step. Idempotent and a no-op when the name is absent or
// held by another session.
//
// Parameters:
//   - username: The identity to remove
//   - s: The session whose entry it must still be
func (r *Registry) Unregister(username string, s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[username]; !ok || existing != s {
		return
	}

	delete(r.sessions, username)
	r.removeOrder(username)
}

// Lookup returns the session registered under username, if any. The returned
// handle must be used immediately and not retained across blocking calls.
//
// Parameters:
//   - username: The identity to look up
//
// Returns:
//   - The session and true if found, or nil and false otherwise
func (r *Registry) Lookup(username string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[username]
	return s, ok
}

// Snapshot returns a consistent point-in-time view of all registered
// usernames in insertion order.
//
// Returns:
//   - A copy of the username list; the caller owns it
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, len(r.order))
	copy(users, r.order)
	return users
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Broadcast enqueues the message onto every Active session's outbound queue
// except the excluded username, in registration order. Broadcasts are
// serialized with each other, so no recipient ever observes a later
// broadcast before an earlier one addressed to it; all targets are enqueued
// before Broadcast returns.
//
// A recipient whose queue stays full for EnqueueWait is stalled: its
// transport is cut off so its connection handler runs the regular quit
// teardown, and delivery to the remaining recipients proceeds.
//
// Parameters:
//   - m: The message to fan out
//   - exclude: Username to skip, or "" to deliver to everyone
func (r *Registry) Broadcast(m protocol.Message, exclude string) {
	var stalled []*session.Session

	r.mu.Lock()
	wait := r.EnqueueWait
	if wait <= 0 {
		wait = DefaultEnqueueWait
	}
	for _, username := range r.order {
		if username == exclude {
			continue
		}

		s := r.sessions[username]
		if s.State() != session.StateActive {
			continue
		}

		if err := s.Enqueue(m, wait); errors.Is(err, session.ErrQueueFull) {
			stalled = append(stalled, s)
		}
	}
	r.mu.Unlock()

	for _, s := range stalled {
		r.Logger.Warn("disconnecting stalled peer",
			logger.Field{Key: "username", Value: s.Username()},
			logger.Field{Key: "id", Value: s.ID()},
		)
		s.Kill()
	}
}

// removeOrder drops username from the insertion-order list; caller holds r.mu.
func (r *Registry) removeOrder(username string) {
	for i, name := range r.order {
		if name == username {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
