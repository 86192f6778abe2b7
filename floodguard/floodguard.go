// Package floodguard limits how many messages a user may send within a time
// window. Counters live in an expiring in-memory cache, so idle users cost
// nothing and a user's window resets on its own.
package floodguard

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Guard is a per-user fixed-window message limiter. A nil *Guard allows
// everything, so callers can treat it as optional. Safe for concurrent use.
type Guard struct {
	limit  int
	window time.Duration
	counts *cache.Cache
}

// New creates a Guard allowing up to limit messages per user within each
// window. A limit of zero or less disables the guard.
//
// Parameters:
//   - limit: Maximum messages per user per window
//   - window: Length of the counting window
//
// Returns:
//   - A new Guard instance
func New(limit int, window time.Duration) *Guard {
	return &Guard{
		limit:  limit,
		window: window,
		counts: cache.New(window, 2*window),
	}
}

// Allow records one message for username and reports whether the user is
// still within the limit. The first message of a window starts a fresh
// counter that expires when the window ends.
//
// Parameters:
//   - username: The sending user
//
// Returns:
//   - true if the message may be delivered, false if the user is over the limit
func (g *Guard) Allow(username string) bool {
	if g == nil || g.limit <= 0 {
		return true
	}

	if err := g.counts.Add(username, 1, g.window); err == nil {
		return g.limit >= 1
	}

	n, err := g.counts.IncrementInt(username, 1)
	if err != nil {
		// Entry expired between Add and Increment; start a fresh window.
		g.counts.Set(username, 1, g.window)
		return g.limit >= 1
	}

	return n <= g.limit
}

// Forget drops the counter for username, e.g. when the user disconnects.
//
// Parameters:
//   - username: The user whose counter to drop
func (g *Guard) Forget(username string) {
	if g == nil {
		return
	}
	g.counts.Delete(username)
}
