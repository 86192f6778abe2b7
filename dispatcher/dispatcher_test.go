package dispatcher

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-chat/floodguard"
	"github.com/cyberinferno/go-chat/monitor"
	"github.com/cyberinferno/go-chat/protocol"
	"github.com/cyberinferno/go-chat/registry"
	"github.com/cyberinferno/go-chat/session"
)

// eventRecorder captures monitor events emitted by the dispatcher.
type eventRecorder struct {
	events []monitor.Event
}

func (r *eventRecorder) Observe(e monitor.Event) {
	r.events = append(r.events, e)
}

func newDispatcher(t *testing.T) (*Dispatcher, *registry.Registry, *eventRecorder) {
	t.Helper()
	reg := registry.New(nil)
	rec := &eventRecorder{}
	d := New(reg)
	d.Monitor = rec
	return d, reg, rec
}

func newSession(t *testing.T, id string) *session.Session {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	return session.New(id, local, 16)
}

// join drives a successful join and discards the roster acknowledgement.
func join(t *testing.T, d *Dispatcher, sess *session.Session, username string) {
	t.Helper()
	d.Dispatch(sess, protocol.NewJoin(username))
	require.Equal(t, session.StateActive, sess.State())
	ack := <-sess.Outbound()
	require.Equal(t, protocol.KindListResponse, ack.Kind)
}

// drain returns every message currently queued for the session.
func drain(sess *session.Session) []protocol.Message {
	var out []protocol.Message
	for {
		select {
		case m := <-sess.Outbound():
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestDispatcher_Join(t *testing.T) {
	t.Run("activates and acknowledges with the directory", func(t *testing.T) {
		d, reg, rec := newDispatcher(t)
		sess := newSession(t, "c1")

		d.Dispatch(sess, protocol.NewJoin("alice"))

		assert.Equal(t, session.StateActive, sess.State())
		assert.Equal(t, "alice", sess.Username())
		assert.Equal(t, []string{"alice"}, reg.Snapshot())

		ack := <-sess.Outbound()
		assert.Equal(t, protocol.NewListResponse([]string{"alice"}), ack)

		require.Len(t, rec.events, 1)
		assert.Equal(t, monitor.EventJoin, rec.events[0].Kind)
		assert.Equal(t, "alice", rec.events[0].Username)
	})

	t.Run("announces the newcomer to others only", func(t *testing.T) {
		d, _, _ := newDispatcher(t)
		alice := newSession(t, "c1")
		join(t, d, alice, "alice")

		bob := newSession(t, "c2")
		join(t, d, bob, "bob")

		aliceMsgs := drain(alice)
		require.Len(t, aliceMsgs, 1)
		assert.Equal(t, protocol.NewNotice("bob joined"), aliceMsgs[0])
		assert.Empty(t, drain(bob))
	})

	t.Run("rejects duplicate username", func(t *testing.T) {
		d, reg, _ := newDispatcher(t)
		alice := newSession(t, "c1")
		join(t, d, alice, "alice")

		imposter := newSession(t, "c2")
		d.Dispatch(imposter, protocol.NewJoin("alice"))

		msgs := drain(imposter)
		require.Len(t, msgs, 1)
		assert.Equal(t, protocol.NewError("username already taken"), msgs[0])
		assert.Equal(t, session.StateClosing, imposter.State())
		assert.Equal(t, []string{"alice"}, reg.Snapshot())
	})

	t.Run("rejects invalid usernames", func(t *testing.T) {
		for _, name := range []string{"", "has space", "has:colon", "has,comma"} {
			d, reg, _ := newDispatcher(t)
			sess := newSession(t, "c1")
			d.Dispatch(sess, protocol.NewJoin(name))

			msgs := drain(sess)
			require.Len(t, msgs, 1, "username %q", name)
			assert.Equal(t, protocol.NewError("invalid username"), msgs[0])
			assert.Equal(t, session.StateClosing, sess.State())
			assert.Equal(t, 0, reg.Count())
		}
	})

	t.Run("rejects join while already joined", func(t *testing.T) {
		d, _, _ := newDispatcher(t)
		alice := newSession(t, "c1")
		join(t, d, alice, "alice")

		d.Dispatch(alice, protocol.NewJoin("alice2"))
		msgs := drain(alice)
		require.Len(t, msgs, 1)
		assert.Equal(t, protocol.NewError("already joined"), msgs[0])
		assert.Equal(t, session.StateActive, alice.State())
	})
}

func TestDispatcher_CommandBeforeJoin(t *testing.T) {
	for _, msg := range []protocol.Message{
		protocol.NewChat("alice", "hi"),
		protocol.NewWhisper("alice", "bob", "hi"),
		protocol.NewListRequest(),
		protocol.NewQuit("alice"),
	} {
		d, _, _ := newDispatcher(t)
		sess := newSession(t, "c1")
		d.Dispatch(sess, msg)

		msgs := drain(sess)
		require.Len(t, msgs, 1, "kind %s", msg.Kind)
		assert.Equal(t, protocol.NewError("not joined"), msgs[0])
	}
}

func TestDispatcher_Chat(t *testing.T) {
	t.Run("broadcasts to everyone except the sender", func(t *testing.T) {
		d, _, rec := newDispatcher(t)
		alice := newSession(t, "c1")
		bob := newSession(t, "c2")
		carol := newSession(t, "c3")
		join(t, d, alice, "alice")
		join(t, d, bob, "bob")
		join(t, d, carol, "carol")
		drain(alice)
		drain(bob)
		drain(carol)

		d.Dispatch(alice, protocol.NewChat("alice", "hello everyone"))

		want := protocol.NewChat("alice", "hello everyone")
		assert.Equal(t, []protocol.Message{want}, drain(bob))
		assert.Equal(t, []protocol.Message{want}, drain(carol))
		assert.Empty(t, drain(alice))

		last := rec.events[len(rec.events)-1]
		assert.Equal(t, monitor.EventChat, last.Kind)
		assert.Equal(t, "hello everyone", last.Detail)
	})

	t.Run("sender identity comes from the session", func(t *testing.T) {
		d, _, _ := newDispatcher(t)
		alice := newSession(t, "c1")
		bob := newSession(t, "c2")
		join(t, d, alice, "alice")
		join(t, d, bob, "bob")
		drain(alice)
		drain(bob)

		// A frame claiming to be from bob is still delivered as alice.
		d.Dispatch(alice, protocol.NewChat("bob", "spoofed"))

		msgs := drain(bob)
		require.Len(t, msgs, 1)
		assert.Equal(t, "alice", msgs[0].Sender)
	})
}

func TestDispatcher_Whisper(t *testing.T) {
	t.Run("delivers to the recipient only", func(t *testing.T) {
		d, _, rec := newDispatcher(t)
		alice := newSession(t, "c1")
		bob := newSession(t, "c2")
		carol := newSession(t, "c3")
		join(t, d, alice, "alice")
		join(t, d, bob, "bob")
		join(t, d, carol, "carol")
		drain(alice)
		drain(bob)
		drain(carol)

		d.Dispatch(alice, protocol.NewWhisper("alice", "bob", "psst"))

		msgs := drain(bob)
		require.Len(t, msgs, 1)
		assert.Equal(t, protocol.NewWhisper("alice", "bob", "psst"), msgs[0])
		assert.Empty(t, drain(alice))
		assert.Empty(t, drain(carol))

		last := rec.events[len(rec.events)-1]
		assert.Equal(t, monitor.EventWhisper, last.Kind)
		assert.Equal(t, "bob", last.Recipient)
	})

	t.Run("unknown recipient errors the sender only", func(t *testing.T) {
		d, _, _ := newDispatcher(t)
		alice := newSession(t, "c1")
		bob := newSession(t, "c2")
		join(t, d, alice, "alice")
		join(t, d, bob, "bob")
		drain(alice)
		drain(bob)

		d.Dispatch(alice, protocol.NewWhisper("alice", "mallory", "hello?"))

		msgs := drain(alice)
		require.Len(t, msgs, 1)
		assert.Equal(t, protocol.NewError("user not found"), msgs[0])
		assert.Empty(t, drain(bob))
	})
}

func TestDispatcher_List(t *testing.T) {
	d, _, _ := newDispatcher(t)
	alice := newSession(t, "c1")
	bob := newSession(t, "c2")
	carol := newSession(t, "c3")
	join(t, d, alice, "alice")
	join(t, d, bob, "bob")
	join(t, d, carol, "carol")
	drain(alice)
	drain(bob)
	drain(carol)

	d.Dispatch(bob, protocol.NewListRequest())

	msgs := drain(bob)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.NewListResponse([]string{"alice", "bob", "carol"}), msgs[0])
	assert.Empty(t, drain(alice))
	assert.Empty(t, drain(carol))
}

func TestDispatcher_Quit(t *testing.T) {
	t.Run("unregisters and notifies the others", func(t *testing.T) {
		d, reg, rec := newDispatcher(t)
		alice := newSession(t, "c1")
		bob := newSession(t, "c2")
		join(t, d, alice, "alice")
		join(t, d, bob, "bob")
		drain(alice)
		drain(bob)

		d.Dispatch(alice, protocol.NewQuit("alice"))

		assert.Equal(t, []string{"bob"}, reg.Snapshot())
		msgs := drain(bob)
		require.Len(t, msgs, 1)
		assert.Equal(t, protocol.NewNotice("alice left"), msgs[0])

		last := rec.events[len(rec.events)-1]
		assert.Equal(t, monitor.EventLeave, last.Kind)
		assert.Equal(t, "alice", last.Username)
	})

	t.Run("disconnect is exactly once", func(t *testing.T) {
		d, reg, _ := newDispatcher(t)
		alice := newSession(t, "c1")
		bob := newSession(t, "c2")
		join(t, d, alice, "alice")
		join(t, d, bob, "bob")
		drain(alice)
		drain(bob)

		d.Disconnect(alice)
		d.Disconnect(alice) // transport teardown follows an explicit quit

		assert.Equal(t, []string{"bob"}, reg.Snapshot())
		assert.Len(t, drain(bob), 1, "left notice must be delivered exactly once")
	})

	t.Run("disconnect of a never-joined session is silent", func(t *testing.T) {
		d, reg, rec := newDispatcher(t)
		alice := newSession(t, "c1")
		bob := newSession(t, "c2")
		join(t, d, bob, "bob")
		drain(bob)

		d.Disconnect(alice)

		assert.Equal(t, 1, reg.Count())
		assert.Empty(t, drain(bob))
		assert.Len(t, rec.events, 1) // only bob's join
	})

	t.Run("messages after closing are dropped", func(t *testing.T) {
		d, _, _ := newDispatcher(t)
		alice := newSession(t, "c1")
		join(t, d, alice, "alice")
		d.Disconnect(alice)
		drain(alice)

		d.Dispatch(alice, protocol.NewChat("alice", "too late"))
		assert.Empty(t, drain(alice))
	})
}

func TestDispatcher_RateLimiting(t *testing.T) {
	d, _, _ := newDispatcher(t)
	d.Guard = floodguard.New(2, time.Minute)

	alice := newSession(t, "c1")
	bob := newSession(t, "c2")
	join(t, d, alice, "alice")
	join(t, d, bob, "bob")
	drain(alice)
	drain(bob)

	d.Dispatch(alice, protocol.NewChat("alice", "one"))
	d.Dispatch(alice, protocol.NewChat("alice", "two"))
	d.Dispatch(alice, protocol.NewChat("alice", "three"))

	assert.Len(t, drain(bob), 2, "over-limit message must not be delivered")

	msgs := drain(alice)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.NewError("rate limit exceeded"), msgs[0])
}
