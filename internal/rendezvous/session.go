package rendezvous

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrSessionClosed is returned when writing to a closed session.
var ErrSessionClosed = errors.New("session closed")

// Session is a host's control channel. It is registered under its
// fingerprint once the host has announced its game port.
type Session struct {
	ID           string
	RemoteIP     net.IP
	Fingerprint  string
	GamePort     uint16
	ConnectedAt  time.Time
	RegisteredAt time.Time

	conn         Conn
	writeTimeout time.Duration

	mu       sync.Mutex // protects conn writes and the fields below
	lastSeen time.Time
	closed   bool
	done     chan struct{}
}

// NewSession wraps conn for a host connecting from remoteIP.
func NewSession(conn Conn, remoteIP net.IP, writeTimeout time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		RemoteIP:     remoteIP,
		ConnectedAt:  now,
		conn:         conn,
		writeTimeout: writeTimeout,
		lastSeen:     now,
		done:         make(chan struct{}),
	}
}

// Send writes one text frame. Safe for concurrent use.
func (s *Session) Send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("session %s: %w", s.ID, ErrSessionClosed)
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Ping writes a ping control frame.
func (s *Session) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
}

// CloseWith sends a close frame with code and reason, then closes the
// connection. The frame is best effort.
func (s *Session) CloseWith(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(s.writeTimeout))
	return s.closeLocked()
}

// Close closes the session's connection.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	s.closed = true
	close(s.done)
	return s.conn.Close()
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// IsClosed returns whether the session is closed.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// UpdateLastSeen updates the last seen timestamp.
func (s *Session) UpdateLastSeen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()
}

// LastSeen returns when the host was last heard from.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Host returns the registered ip:port the fingerprint was computed from.
func (s *Session) Host() string {
	return net.JoinHostPort(s.RemoteIP.String(), fmt.Sprint(s.GamePort))
}

// SessionInfo is a snapshot of a session for the stats endpoint.
type SessionInfo struct {
	ID           string `json:"id"`
	Fingerprint  string `json:"fingerprint"`
	GamePort     uint16 `json:"game_port"`
	RegisteredAt int64  `json:"registered_at"`
	LastSeen     int64  `json:"last_seen"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:           s.ID,
		Fingerprint:  s.Fingerprint,
		GamePort:     s.GamePort,
		RegisteredAt: s.RegisteredAt.UnixMilli(),
		LastSeen:     s.LastSeen().UnixMilli(),
	}
}
