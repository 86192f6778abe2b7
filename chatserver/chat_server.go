// Package chatserver implements the TCP chat server: an accept loop that
// hands each connection to a session, and per connection a pair of
// independently running loops wired together only through the session's
// outbound queue and the shared registry.
package chatserver

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cyberinferno/go-chat/dispatcher"
	"github.com/cyberinferno/go-chat/logger"
	"github.com/cyberinferno/go-chat/session"
)

const (
	// DefaultWriteTimeout bounds a single frame write to a peer.
	DefaultWriteTimeout = 10 * time.Second

	// maxFrameSize caps the length of one inbound frame.
	maxFrameSize = 64 * 1024

	// replyWait bounds how long an ERROR reply to a malformed frame may wait
	// for queue space, matching the dispatcher's direct-reply policy.
	replyWait = 50 * time.Millisecond
)

// ChatServer accepts TCP connections and runs the chat protocol over them.
// Each accepted connection gets a session identified by a fresh UUID until it
// joins under a username. The server runs its accept loop in a goroutine and
// supports graceful stop.
type ChatServer struct {
	Logger     logger.Logger
	Name       string
	Addr       string
	Dispatcher *dispatcher.Dispatcher

	// QueueSize is the outbound queue capacity per session;
	// session.DefaultQueueSize when <= 0.
	QueueSize int

	// WriteTimeout bounds a single frame write; DefaultWriteTimeout when 0.
	WriteTimeout time.Duration

	listener net.Listener
	running  atomic.Bool

	mu    sync.RWMutex
	conns map[string]*session.Session

	wg sync.WaitGroup
}

// New creates a ChatServer bound to addr once Start is called.
//
// Parameters:
//   - addr: TCP address to listen on, e.g. ":4000" or "127.0.0.1:0"
//   - disp: The dispatcher handling all decoded messages
//   - log: Logger for connection lifecycle events; a no-op logger if nil
//
// Returns:
//   - A new ChatServer instance
func New(addr string, disp *dispatcher.Dispatcher, log logger.Logger) *ChatServer {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &ChatServer{
		Logger:       log,
		Name:         "chat",
		Addr:         addr,
		Dispatcher:   disp,
		QueueSize:    session.DefaultQueueSize,
		WriteTimeout: DefaultWriteTimeout,
		conns:        make(map[string]*session.Session),
	}
}

// Start starts the server by binding to Addr and beginning the accept loop
// in a goroutine. It is safe to call only when the server is not already
// running.
//
// Returns:
//   - An error if the server is already running or if listening on Addr fails
func (s *ChatServer) Start() error {
	if s.running.Load() {
		s.Logger.Error("server already running")
		return fmt.Errorf("server %s already running", s.Name)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.listener = ln
	s.running.Store(true)

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name),
		logger.Field{Key: "addr", Value: ln.Addr().String()})
	go s.acceptLoop()

	return nil
}

// ListenAddr returns the address the server is actually listening on, which
// differs from Addr when Addr requested an ephemeral port. Empty before Start.
func (s *ChatServer) ListenAddr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the server: it closes the listener, closes every live session
// and waits for all connection handlers to finish. Safe to call when the
// server is not running.
func (s *ChatServer) Stop() {
	if !s.running.Load() {
		s.Logger.Info(fmt.Sprintf("%s server not running", s.Name))
		return
	}

	s.running.Store(false)
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.mu.RLock()
	sessions := make([]*session.Session, 0, len(s.conns))
	for _, sess := range s.conns {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		_ = sess.Close()
	}

	s.wg.Wait()
	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

// ConnCount returns the number of live connections, joined or not.
func (s *ChatServer) ConnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// acceptLoop runs in a goroutine and accepts incoming connections. Each
// connection gets a UUID, a session and a handler goroutine. It exits when
// the server is stopped.
func (s *ChatServer) acceptLoop() {
	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name),
				logger.Field{Key: "error", Value: err})
			continue
		}

		id := uuid.NewString()
		sess := session.New(id, conn, s.QueueSize)
		s.addConn(sess)

		s.Logger.Debug("connection accepted",
			logger.Field{Key: "id", Value: id},
			logger.Field{Key: "remote", Value: conn.RemoteAddr().String()},
		)

		s.wg.Add(1)
		go s.handleConn(sess)
	}
}

func (s *ChatServer) addConn(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[sess.ID()] = sess
}

func (s *ChatServer) removeConn(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}
