// Package dispatcher interprets decoded protocol messages against the
// sender's session and the registry. It holds no state of its own: every
// membership read and write goes through the registry, and every delivery
// goes through a session's outbound queue.
package dispatcher

import (
	"errors"
	"strings"
	"time"

	"github.com/cyberinferno/go-chat/floodguard"
	"github.com/cyberinferno/go-chat/logger"
	"github.com/cyberinferno/go-chat/monitor"
	"github.com/cyberinferno/go-chat/protocol"
	"github.com/cyberinferno/go-chat/registry"
	"github.com/cyberinferno/go-chat/session"
)

// Protocol-level error texts sent back to clients. Semantic failures are
// always answered in-band and never terminate other sessions.
const (
	errNotJoined       = "not joined"
	errAlreadyJoined   = "already joined"
	errInvalidUsername = "invalid username"
	errUsernameTaken   = "username already taken"
	errUserNotFound    = "user not found"
	errUserUnreachable = "user unreachable"
	errRateLimited     = "rate limit exceeded"
	errUnsupported     = "unsupported message"
)

// replyWait bounds how long a direct reply to the sender may wait for queue
// space. A sender whose own queue is full is stalled like any other peer.
const replyWait = 50 * time.Millisecond

// Dispatcher routes messages between sessions. Registry is required; the
// remaining fields are optional collaborators.
type Dispatcher struct {
	Registry *registry.Registry

	// Monitor is notified of every accepted join, leave, chat and whisper.
	Monitor monitor.Monitor

	// Guard rate-limits chats and whispers per user; nil disables limiting.
	Guard *floodguard.Guard

	Logger logger.Logger
}

// New creates a Dispatcher over the given registry with a no-op monitor and
// logger; callers overwrite the exported fields as needed.
//
// Parameters:
//   - reg: The session registry, the single source of truth for membership
//
// Returns:
//   - A new Dispatcher instance
func New(reg *registry.Registry) *Dispatcher {
	return &Dispatcher{
		Registry: reg,
		Monitor:  monitor.Nop(),
		Logger:   logger.NewNopLogger(),
	}
}

// Dispatch feeds one decoded message into the session's state machine.
// Semantic failures are answered with an ERROR frame on the sender's own
// queue; they never affect other sessions. Messages arriving while the
// session is Closing or Closed are dropped.
//
// Parameters:
//   - sess: The session the message arrived on
//   - msg: The decoded message
func (d *Dispatcher) Dispatch(sess *session.Session, msg protocol.Message) {
	switch sess.State() {
	case session.StateConnecting:
		if msg.Kind == protocol.KindJoin {
			d.handleJoin(sess, msg)
			return
		}
		d.reply(sess, protocol.NewError(errNotJoined))
	case session.StateActive:
		switch msg.Kind {
		case protocol.KindJoin:
			d.reply(sess, protocol.NewError(errAlreadyJoined))
		case protocol.KindChat:
			d.handleChat(sess, msg)
		case protocol.KindWhisper:
			d.handleWhisper(sess, msg)
		case protocol.KindListRequest:
			d.handleList(sess)
		case protocol.KindQuit:
			d.Disconnect(sess)
		default:
			d.reply(sess, protocol.NewError(errUnsupported))
		}
	default:
		// Closing or Closed: no further delivery or registry mutation.
	}
}

// Disconnect drives the session's quit transition: unregister, notify the
// remaining sessions, and signal the writer to drain. It is the single
// teardown path for explicit QUIT frames, transport failures and forced
// disconnections alike, and it unregisters at most once per session. The
// transport itself is released by the connection handler once the drain has
// finished.
//
// Parameters:
//   - sess: The session leaving the chat
func (d *Dispatcher) Disconnect(sess *session.Session) {
	wasActive, first := sess.BeginClose()
	if !first {
		return
	}

	if !wasActive {
		return
	}

	username := sess.Username()
	d.Registry.Unregister(username, sess)
	d.Guard.Forget(username)
	d.Registry.Broadcast(protocol.NewNotice(username+" left"), username)

	d.observe(monitor.Event{Kind: monitor.EventLeave, Username: username})
	d.log().Info("user left",
		logger.Field{Key: "username", Value: username},
		logger.Field{Key: "id", Value: sess.ID()},
	)
}

// handleJoin validates the requested username, registers the session and
// announces the newcomer. On failure the session receives an ERROR frame and
// transitions to Closing.
func (d *Dispatcher) handleJoin(sess *session.Session, msg protocol.Message) {
	username := msg.Sender
	if !validUsername(username) {
		d.rejectJoin(sess, errInvalidUsername)
		return
	}

	if err := d.Registry.Register(username, sess); err != nil {
		if errors.Is(err, registry.ErrDuplicateUsername) {
			d.rejectJoin(sess, errUsernameTaken)
			return
		}
		d.rejectJoin(sess, errInvalidUsername)
		return
	}

	if err := sess.Activate(username); err != nil {
		// The connection died between registration and activation.
		d.Registry.Unregister(username, sess)
		return
	}

	// Join acknowledgement: the newcomer sees the current directory.
	d.reply(sess, protocol.NewListResponse(d.Registry.Snapshot()))
	d.Registry.Broadcast(protocol.NewNotice(username+" joined"), username)

	d.observe(monitor.Event{Kind: monitor.EventJoin, Username: username})
	d.log().Info("user joined",
		logger.Field{Key: "username", Value: username},
		logger.Field{Key: "id", Value: sess.ID()},
	)
}

// handleChat fans the message out to every other active session. The sender
// never receives an echo of its own chat; the client displays it locally.
func (d *Dispatcher) handleChat(sess *session.Session, msg protocol.Message) {
	username := sess.Username()
	if !d.Guard.Allow(username) {
		d.reply(sess, protocol.NewError(errRateLimited))
		return
	}

	// The sender identity on the wire is the session's, never the frame's.
	d.Registry.Broadcast(protocol.NewChat(username, msg.Body), username)
	d.observe(monitor.Event{Kind: monitor.EventChat, Username: username, Detail: msg.Body})
}

// handleWhisper delivers the message to the recipient only.
func (d *Dispatcher) handleWhisper(sess *session.Session, msg protocol.Message) {
	username := sess.Username()
	if !d.Guard.Allow(username) {
		d.reply(sess, protocol.NewError(errRateLimited))
		return
	}

	recipient, ok := d.Registry.Lookup(msg.Recipient)
	if !ok || recipient.State() != session.StateActive {
		d.reply(sess, protocol.NewError(errUserNotFound))
		return
	}

	err := recipient.Enqueue(protocol.NewWhisper(username, msg.Recipient, msg.Body), replyWait)
	if errors.Is(err, session.ErrQueueFull) {
		d.log().Warn("disconnecting stalled whisper recipient",
			logger.Field{Key: "username", Value: msg.Recipient},
		)
		recipient.Kill()
		d.reply(sess, protocol.NewError(errUserUnreachable))
		return
	}
	if err != nil {
		d.reply(sess, protocol.NewError(errUserNotFound))
		return
	}

	d.observe(monitor.Event{
		Kind:      monitor.EventWhisper,
		Username:  username,
		Recipient: msg.Recipient,
		Detail:    msg.Body,
	})
}

// handleList answers the sender, and only the sender, with a point-in-time
// directory snapshot.
func (d *Dispatcher) handleList(sess *session.Session) {
	d.reply(sess, protocol.NewListResponse(d.Registry.Snapshot()))
}

// rejectJoin answers a failed join with an ERROR frame and moves the session
// to Closing; the writer drains the reply before the transport is released.
func (d *Dispatcher) rejectJoin(sess *session.Session, reason string) {
	d.reply(sess, protocol.NewError(reason))
	sess.BeginClose()

	d.log().Info("join rejected",
		logger.Field{Key: "reason", Value: reason},
		logger.Field{Key: "id", Value: sess.ID()},
	)
}

// reply enqueues a message for the sender itself.
func (d *Dispatcher) reply(sess *session.Session, msg protocol.Message) {
	if err := sess.Enqueue(msg, replyWait); errors.Is(err, session.ErrQueueFull) {
		sess.Kill()
	}
}

func (d *Dispatcher) observe(e monitor.Event) {
	if d.Monitor == nil {
		return
	}
	e.Time = time.Now().UTC()
	d.Monitor.Observe(e)
}

func (d *Dispatcher) log() logger.Logger {
	if d.Logger == nil {
		return logger.NewNopLogger()
	}
	return d.Logger
}

// validUsername reports whether the name can live inside a non-final
// protocol field and inside a LIST_USERS roster.
func validUsername(name string) bool {
	if name == "" || len(name) > 32 {
		return false
	}
	if strings.ContainsAny(name, ":,\n\r ") {
		return false
	}
	return true
}
