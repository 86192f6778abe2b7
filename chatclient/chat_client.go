// Package chatclient provides an event-driven client for the chat protocol.
// Callers register handlers for server pushes (chat, whispers, notices,
// rosters, errors), then join and send through typed methods; a background
// read loop decodes frames and drives the handlers.
package chatclient

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/go-chat/protocol"
)

// State represents the current state of the client connection.
type State int

const (
	Disconnected State = iota // Not connected
	Connecting                // Dial in progress
	Connected                 // Joined and exchanging frames
	Closed                    // Client has been closed and must not be reused
)

// String returns a human-readable name for the connection state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ChatHandler is called for each chat message pushed by the server.
// Handlers run on the read loop goroutine and must not block.
type ChatHandler func(sender, body string)

// WhisperHandler is called for each private message addressed to this client.
// Handlers run on the read loop goroutine and must not block.
type WhisperHandler func(sender, body string)

// NoticeHandler is called for each system notice (joins, leaves).
// Handlers run on the read loop goroutine and must not block.
type NoticeHandler func(text string)

// RosterHandler is called with the user directory, both as the join
// acknowledgement and in response to List.
// Handlers run on the read loop goroutine and must not block.
type RosterHandler func(users []string)

// ServerErrorHandler is called for each ERROR frame pushed by the server.
// Handlers run on the read loop goroutine and must not block.
type ServerErrorHandler func(text string)

// DisconnectHandler is called once when the connection ends. The error is
// nil after a deliberate Close or Quit and non-nil on transport failure.
type DisconnectHandler func(err error)

// Config holds configuration for the chat client.
type Config struct {
	// Address is the "host:port" of the chat server.
	Address string
	// DialTimeout is the max duration for establishing the connection.
	DialTimeout time.Duration
	// WriteTimeout is the max duration for a single frame write; 0 means no timeout.
	WriteTimeout time.Duration
	// MaxFrameSize caps the length of one inbound frame.
	MaxFrameSize int
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with defaults: DialTimeout 10s, WriteTimeout 10s, MaxFrameSize 64KiB
func DefaultConfig(address string) Config {
	return Config{
		Address:      address,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		MaxFrameSize: 64 * 1024,
	}
}

// ChatClient is a chat protocol client that drives I/O via events. Register
// handlers, call Join to connect and identify, then use Chat, Whisper, List
// and Quit. It is safe for concurrent use.
type ChatClient struct {
	config Config

	mu       sync.RWMutex
	conn     net.Conn
	state    State
	username string
	closed   bool

	onChat        ChatHandler
	onWhisper     WhisperHandler
	onNotice      NoticeHandler
	onRoster      RosterHandler
	onServerError ServerErrorHandler
	onDisconnect  DisconnectHandler

	writeMu        sync.Mutex
	disconnectOnce sync.Once
	wg             sync.WaitGroup
}

// New creates a new chat client with the given config. The client starts in
// Disconnected state; call Join to connect.
//
// Parameters:
//   - config: Connection settings (e.g. from DefaultConfig)
//
// Returns:
//   - A new *ChatClient ready to use; call Close when done to release resources
func New(config Config) *ChatClient {
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = 64 * 1024
	}

	return &ChatClient{
		config: config,
		state:  Disconnected,
	}
}

// OnChat registers the handler for chat messages. Only one handler is
// active; repeated calls replace the previous handler.
func (c *ChatClient) OnChat(handler ChatHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChat = handler
}

// OnWhisper registers the handler for private messages.
func (c *ChatClient) OnWhisper(handler WhisperHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWhisper = handler
}

// OnNotice registers the handler for system notices.
func (c *ChatClient) OnNotice(handler NoticeHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNotice = handler
}

// OnRoster registers the handler for user directory responses.
func (c *ChatClient) OnRoster(handler RosterHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRoster = handler
}

// OnServerError registers the handler for ERROR frames.
func (c *ChatClient) OnServerError(handler ServerErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onServerError = handler
}

// OnDisconnect registers the handler invoked once when the connection ends.
func (c *ChatClient) OnDisconnect(handler DisconnectHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = handler
}

// Join connects to the configured address and identifies as username. On
// success the read loop starts and the client is Connected; server pushes
// begin arriving on the registered handlers, starting with the roster
// acknowledgement.
//
// Parameters:
//   - username: The identity to join under
//
// Returns:
//   - An error if the client is closed, already connected, the dial fails
//     or the join frame cannot be sent
func (c *ChatClient) Join(username string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("chatclient: client is closed")
	}
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return fmt.Errorf("chatclient: already connected or connecting")
	}
	c.state = Connecting
	c.mu.Unlock()

	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("chatclient: dial %s: %w", c.config.Address, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.username = username
	c.state = Connected
	c.mu.Unlock()

	if err := c.send(protocol.NewJoin(username)); err != nil {
		_ = conn.Close()
		c.setState(Disconnected)
		return err
	}

	c.wg.Add(1)
	go c.readLoop(conn)

	return nil
}

// Username returns the identity passed to Join, or "" before joining.
func (c *ChatClient) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// GetState returns the current connection state.
func (c *ChatClient) GetState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected returns true if the client is in Connected state.
func (c *ChatClient) IsConnected() bool {
	return c.GetState() == Connected
}

// Chat sends a chat message to everyone else in the room. The server does
// not echo it back; display it locally.
//
// Parameters:
//   - body: The message text; must not contain the frame delimiter
//
// Returns:
//   - An error if not connected or the write fails
func (c *ChatClient) Chat(body string) error {
	return c.send(protocol.NewChat(c.Username(), body))
}

// Whisper sends a private message to a single user.
//
// Parameters:
//   - recipient: The target username
//   - body: The message text; must not contain the frame delimiter
//
// Returns:
//   - An error if not connected or the write fails
func (c *ChatClient) Whisper(recipient, body string) error {
	return c.send(protocol.NewWhisper(c.Username(), recipient, body))
}

// List requests the user directory; the response arrives on OnRoster.
//
// Returns:
//   - An error if not connected or the write fails
func (c *ChatClient) List() error {
	return c.send(protocol.NewListRequest())
}

// Quit announces departure and closes the client. The server tears the
// session down on its side; local resources are released immediately.
//
// Returns:
//   - An error if the quit frame could not be sent; the client is closed
//     either way
func (c *ChatClient) Quit() error {
	err := c.send(protocol.NewQuit(c.Username()))
	c.close(nil)
	return err
}

// Close shuts down the client and stops the read loop. After Close the
// client is in Closed state and must not be reused. Idempotent.
//
// Returns:
//   - nil
func (c *ChatClient) Close() error {
	c.close(nil)
	return nil
}

// send encodes and writes one frame. Writes are serialized so concurrent
// callers cannot interleave partial frames.
func (c *ChatClient) send(m protocol.Message) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return fmt.Errorf("chatclient: not connected")
	}

	line, err := protocol.Encode(m)
	if err != nil {
		return fmt.Errorf("chatclient: encode %s frame: %w", m.Kind, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}

	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("chatclient: write: %w", err)
	}

	return nil
}

// readLoop decodes server frames and drives the registered handlers until
// the connection ends. Malformed frames from the server are skipped.
func (c *ChatClient) readLoop(conn net.Conn) {
	defer c.wg.Done()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), c.config.MaxFrameSize)

	for scanner.Scan() {
		msg, err := protocol.Decode(scanner.Text())
		if err != nil {
			continue
		}

		c.dispatch(msg)
	}

	var cause error
	if err := scanner.Err(); err != nil && !c.isClosed() {
		cause = err
	}
	c.close(cause)
}

// dispatch invokes the handler registered for the message kind, if any.
func (c *ChatClient) dispatch(msg protocol.Message) {
	c.mu.RLock()
	onChat := c.onChat
	onWhisper := c.onWhisper
	onNotice := c.onNotice
	onRoster := c.onRoster
	onServerError := c.onServerError
	c.mu.RUnlock()

	switch msg.Kind {
	case protocol.KindChat:
		if onChat != nil {
			onChat(msg.Sender, msg.Body)
		}
	case protocol.KindWhisper:
		if onWhisper != nil {
			onWhisper(msg.Sender, msg.Body)
		}
	case protocol.KindNotice:
		if onNotice != nil {
			onNotice(msg.Body)
		}
	case protocol.KindListResponse:
		if onRoster != nil {
			onRoster(msg.Users)
		}
	case protocol.KindError:
		if onServerError != nil {
			onServerError(msg.Body)
		}
	}
}

// close releases the connection, marks the client Closed and emits the
// disconnect event exactly once.
func (c *ChatClient) close(cause error) {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.state = Closed
	conn := c.conn
	c.conn = nil
	handler := c.onDisconnect
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	if alreadyClosed {
		return
	}

	c.disconnectOnce.Do(func() {
		if handler != nil {
			handler(cause)
		}
	})
}

func (c *ChatClient) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *ChatClient) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
