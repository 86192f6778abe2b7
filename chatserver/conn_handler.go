package chatserver

import (
	"bufio"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/go-chat/logger"
	"github.com/cyberinferno/go-chat/protocol"
	"github.com/cyberinferno/go-chat/session"
)

// handleConn owns one connection end to end. The inbound and outbound loops
// run concurrently and share nothing but the session; whichever loop ends
// first drags the other down, and teardown funnels through the dispatcher's
// quit transition so a crash, a reset and an explicit QUIT all look the same
// to every other client.
func (s *ChatServer) handleConn(sess *session.Session) {
	defer func() {
		s.removeConn(sess.ID())
		s.wg.Done()
	}()

	g := new(errgroup.Group)
	g.Go(func() error {
		err := s.inboundLoop(sess)
		// Read failure, EOF and a dispatcher-driven Closing state all end
		// here; the quit transition runs at most once per session.
		s.Dispatcher.Disconnect(sess)
		return err
	})
	g.Go(func() error {
		return s.outboundLoop(sess)
	})

	if err := g.Wait(); err != nil {
		s.Logger.Debug("connection loops ended",
			logger.Field{Key: "id", Value: sess.ID()},
			logger.Field{Key: "error", Value: err},
		)
	}

	_ = sess.Close()

	s.Logger.Debug("connection closed",
		logger.Field{Key: "id", Value: sess.ID()},
		logger.Field{Key: "username", Value: sess.Username()},
	)
}

// inboundLoop blocks on transport reads, decodes each frame and feeds it to
// the dispatcher. A malformed frame is answered with an ERROR reply and the
// connection stays open; only transport failure or a lifecycle transition
// ends the loop.
func (s *ChatServer) inboundLoop(sess *session.Session) error {
	scanner := bufio.NewScanner(sess.Conn())
	scanner.Buffer(make([]byte, 0, 4096), maxFrameSize)

	for scanner.Scan() {
		msg, err := protocol.Decode(scanner.Text())
		if err != nil {
			if enqErr := sess.Enqueue(protocol.NewError(err.Error()), replyWait); enqErr != nil {
				s.Logger.Debug("dropping error reply",
					logger.Field{Key: "id", Value: sess.ID()},
					logger.Field{Key: "error", Value: enqErr},
				)
			}
			continue
		}

		s.Dispatcher.Dispatch(sess, msg)

		if st := sess.State(); st == session.StateClosing || st == session.StateClosed {
			return nil
		}
	}

	// scanner.Err() is nil on EOF: a silent hang-up is an implicit quit.
	return scanner.Err()
}

// outboundLoop drains the session's outbound queue onto the transport. Once
// the session starts closing it flushes whatever is already queued, then
// releases the transport; the session reaches Closed before its connection
// handle is closed. A write failure means the peer is unreachable and ends
// the loop immediately.
func (s *ChatServer) outboundLoop(sess *session.Session) error {
	// Run the quit transition before releasing the transport: Close would
	// otherwise consume the Closing transition without unregistering, and a
	// peer cut off mid-write would linger in the directory. Releasing the
	// transport here also unblocks the inbound loop.
	defer func() {
		s.Dispatcher.Disconnect(sess)
		_ = sess.Close()
	}()

	for {
		select {
		case msg := <-sess.Outbound():
			if err := s.writeFrame(sess, msg); err != nil {
				return err
			}
		case <-sess.Closing():
			for {
				select {
				case msg := <-sess.Outbound():
					if err := s.writeFrame(sess, msg); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		}
	}
}

// writeFrame encodes and writes a single frame with the configured deadline.
// Messages that cannot be encoded were built from unvalidated content; they
// are logged and skipped without ending the connection.
func (s *ChatServer) writeFrame(sess *session.Session, msg protocol.Message) error {
	line, err := protocol.Encode(msg)
	if err != nil {
		s.Logger.Error("failed to encode outbound frame",
			logger.Field{Key: "id", Value: sess.ID()},
			logger.Field{Key: "kind", Value: msg.Kind.String()},
			logger.Field{Key: "error", Value: err},
		)
		return nil
	}

	conn := sess.Conn()
	timeout := s.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}

	_, err = conn.Write([]byte(line + "\n"))
	return err
}
