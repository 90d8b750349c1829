// Package xmpp implements the persistent chat session for chatty.
// A Session owns exactly one connection to the XMPP server and keeps it
// alive across the process lifetime: it connects, announces presence,
// fetches the roster, detects disconnects and reconnects automatically.
// A failed connection attempt is retried after a fixed delay; a dropped
// established connection is retried immediately.
package xmpp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionState represents the current session state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateTerminating  ConnectionState = "terminating"
)

// ConnectionEvent represents a session state change.
type ConnectionEvent struct {
	State     ConnectionState
	Previous  ConnectionState
	Timestamp time.Time

	// Resumed is true when this Connected state follows an earlier
	// session in the same process, i.e. the connection was recovered
	// after a loss. It is false exactly once, on the first connect.
	Resumed bool

	// Reason describes what triggered the change.
	Reason string
}

// ConnectionObserver receives session state changes.
type ConnectionObserver interface {
	OnConnectionChange(evt ConnectionEvent)
}

// Message is an inbound one-to-one chat message.
type Message struct {
	// From is the full JID of the sender.
	From string

	// Body is the message text.
	Body string

	// Type is the stanza type ("chat" or "normal").
	Type string

	// Received is when the message arrived locally.
	Received time.Time
}

// Config holds the XMPP session configuration.
type Config struct {
	// JID is the chat account identity (user@domain).
	JID string `yaml:"jid"`

	// Password is the account password.
	Password string `yaml:"password"`

	// Server is the host:port to connect to. Empty derives the host
	// from the JID domain.
	Server string `yaml:"server"`

	// Resource is the XMPP resource of this session.
	Resource string `yaml:"resource"`

	// DirectTLS uses old-style TLS on connect instead of STARTTLS.
	DirectTLS bool `yaml:"direct_tls"`

	// StatusMessage is the presence status text.
	StatusMessage string `yaml:"status_message"`

	// RetryDelay is the wait before retrying after a failed connection
	// attempt. A dropped established connection reconnects immediately.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// PingInterval is the keepalive ping interval while connected.
	PingInterval time.Duration `yaml:"ping_interval"`

	// Debug logs the raw XML stream.
	Debug bool `yaml:"debug"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Resource:     "chatty",
		RetryDelay:   5 * time.Minute,
		PingInterval: 2 * time.Minute,
	}
}

// Errors.
var (
	// ErrNotConnected signals a send attempt while the session is not
	// established. Callers are expected to branch on this with
	// errors.Is and degrade instead of failing.
	ErrNotConnected = errors.New("xmpp: not connected")
)

// transport abstracts the wire-level client so the session state
// machine can run against a fake in tests.
type transport interface {
	// Announce sends the initial presence.
	Announce() error

	// Roster requests the contact list.
	Roster() error

	// SendChat sends a one-to-one chat message.
	SendChat(to, body string) error

	// Recv blocks until the next inbound chat message or stream error.
	Recv() (Message, error)

	// Ping sends a keepalive ping to the server.
	Ping() error

	// Close tears the connection down, unblocking Recv.
	Close() error
}

// dialFunc establishes a transport. Replaced in tests.
type dialFunc func(cfg Config, logger *slog.Logger) (transport, error)

// Session manages the chat connection lifecycle.
type Session struct {
	cfg    Config
	logger *slog.Logger
	dial   dialFunc

	// messages buffers inbound chat messages for the application.
	messages chan Message

	// conn is the live transport, nil while disconnected.
	conn   transport
	connMu sync.Mutex

	// connected mirrors whether sends are currently possible.
	connected atomic.Bool

	// state is the current ConnectionState.
	state atomic.Value

	// reconnect enables automatic reconnection. Cleared by Terminate
	// before the transport is closed so the ensuing disconnect does
	// not trigger another attempt.
	reconnect atomic.Bool

	// sessions counts successful session starts; any start after the
	// first is a resume.
	sessions atomic.Int32

	observers []ConnectionObserver
	obsMu     sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	startOnce sync.Once
	termOnce  sync.Once
}

// New creates a Session. Start must be called to begin connecting.
func New(cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Minute
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 2 * time.Minute
	}
	s := &Session{
		cfg:      cfg,
		logger:   logger.With("component", "xmpp"),
		dial:     dialClient,
		messages: make(chan Message, 64),
		done:     make(chan struct{}),
	}
	s.state.Store(StateDisconnected)
	return s
}

// State returns the current session state.
func (s *Session) State() ConnectionState {
	return s.state.Load().(ConnectionState)
}

// IsConnected returns true while the session is established.
func (s *Session) IsConnected() bool { return s.connected.Load() }

// Receive returns the inbound message channel.
func (s *Session) Receive() <-chan Message { return s.messages }

// AddConnectionObserver registers an observer for state changes.
func (s *Session) AddConnectionObserver(obs ConnectionObserver) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, obs)
}

// Start begins connecting in the background. The outcome of the
// attempt is observable through connection events and State; Start
// itself only validates the configuration.
func (s *Session) Start(ctx context.Context) error {
	if s.cfg.JID == "" || s.cfg.Password == "" {
		return fmt.Errorf("xmpp: jid and password are required")
	}
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(ctx)
		s.reconnect.Store(true)
		go s.run()
	})
	return nil
}

// Send delivers a one-to-one chat message. It returns ErrNotConnected
// while the session is down; any other failure is wrapped. Callers go
// through the bridge's delivery guard rather than calling this raw.
func (s *Session) Send(to, body string) error {
	if !s.connected.Load() {
		return ErrNotConnected
	}
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.SendChat(to, body); err != nil {
		return fmt.Errorf("xmpp: send to %s: %w", to, err)
	}
	return nil
}

// Terminate disables reconnection, closes the transport and blocks
// until the session loop has fully wound down. Calling it again is a
// no-op.
func (s *Session) Terminate() {
	s.termOnce.Do(func() {
		s.logger.Info("terminating session")
		s.reconnect.Store(false)
		s.setState(StateTerminating, "terminate")
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		if s.cancel != nil {
			s.cancel()
		}
	})
	if s.cancel == nil {
		// Start was never called; there is no loop to wait for.
		s.state.Store(StateDisconnected)
		return
	}
	<-s.done
	s.logger.Info("session terminated")
}

// run is the connection loop: dial, serve the established session,
// decide whether and when to try again.
func (s *Session) run() {
	defer close(s.done)
	for {
		if s.ctx.Err() != nil || !s.reconnect.Load() {
			s.setState(StateDisconnected, "shutdown")
			return
		}

		s.setState(StateConnecting, "")
		conn, err := s.dial(s.cfg, s.logger)
		if err != nil {
			s.logger.Warn("connection failed",
				"error", err, "retry_in", s.cfg.RetryDelay)
			s.setState(StateDisconnected, "connect_failure")
			if !s.reconnect.Load() {
				return
			}
			// Fixed delay before the next attempt: hammering a down
			// server helps nobody.
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(s.cfg.RetryDelay):
			}
			continue
		}

		if !s.reconnect.Load() {
			// Terminate raced the dial.
			_ = conn.Close()
			s.setState(StateDisconnected, "terminated")
			return
		}

		err = s.serve(conn)

		if !s.reconnect.Load() {
			s.setState(StateDisconnected, "terminated")
			return
		}
		s.logger.Warn("connection lost, reconnecting", "error", err)
		s.setState(StateDisconnected, "connection_lost")
		// Dropped connections retry immediately; the RetryDelay above
		// only applies to failed dials.
	}
}

// serve runs one established session until the transport fails.
func (s *Session) serve(conn transport) error {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.connected.Store(true)

	if err := conn.Announce(); err != nil {
		s.logger.Warn("presence announcement failed", "error", err)
	}
	if err := conn.Roster(); err != nil {
		s.logger.Warn("roster request failed", "error", err)
	}

	resumed := s.sessions.Add(1) > 1
	s.logger.Info("session established", "jid", s.cfg.JID, "resumed", resumed)
	s.notify(ConnectionEvent{
		State:     StateConnected,
		Previous:  s.swapState(StateConnected),
		Timestamp: time.Now(),
		Resumed:   resumed,
	})

	stop := make(chan struct{})
	go s.keepalive(conn, stop)

	err := s.readLoop(conn)

	close(stop)
	s.connected.Store(false)
	s.connMu.Lock()
	s.conn = nil
	s.connMu.Unlock()
	_ = conn.Close()
	return err
}

// readLoop pumps inbound messages until the transport errors out.
func (s *Session) readLoop(conn transport) error {
	for {
		msg, err := conn.Recv()
		if err != nil {
			return err
		}
		if msg.Type != "chat" && msg.Type != "normal" {
			continue
		}
		if msg.Body == "" {
			continue
		}
		select {
		case s.messages <- msg:
		default:
			s.logger.Warn("message buffer full, dropping message",
				"from", msg.From)
		}
	}
}

// keepalive pings the server periodically while the session is up. A
// failed ping closes the transport, which unblocks the read loop and
// lets the normal reconnect path take over.
func (s *Session) keepalive(conn transport, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				s.logger.Warn("keepalive ping failed, closing connection",
					"error", err)
				_ = conn.Close()
				return
			}
		}
	}
}

// setState stores the new state and notifies observers.
func (s *Session) setState(state ConnectionState, reason string) {
	prev := s.swapState(state)
	if prev == state {
		return
	}
	s.notify(ConnectionEvent{
		State:     state,
		Previous:  prev,
		Timestamp: time.Now(),
		Reason:    reason,
	})
}

// swapState stores the new state and returns the previous one.
func (s *Session) swapState(state ConnectionState) ConnectionState {
	prev := s.State()
	s.state.Store(state)
	return prev
}

// notify delivers an event to all observers. Observers run inline; a
// panicking observer must not take the session down.
func (s *Session) notify(evt ConnectionEvent) {
	s.obsMu.Lock()
	observers := make([]ConnectionObserver, len(s.observers))
	copy(observers, s.observers)
	s.obsMu.Unlock()

	for _, obs := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Warn("connection observer panic", "error", r)
				}
			}()
			obs.OnConnectionChange(evt)
		}()
	}
}
