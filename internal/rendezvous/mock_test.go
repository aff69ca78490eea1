package rendezvous

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errMockClosed = errors.New("connection closed")

type mockFrame struct {
	messageType int
	data        []byte
}

// MockConn is a mock WebSocket connection for testing. ReadMessage blocks
// until a frame is enqueued or the connection is closed.
type MockConn struct {
	mu          sync.Mutex
	closed      bool
	reads       chan mockFrame
	closedCh    chan struct{}
	written     [][]byte
	controls    []mockFrame
	writeErr    error
	pongHandler func(string) error
}

// NewMockConn creates a new mock connection.
func NewMockConn() *MockConn {
	return &MockConn{
		reads:    make(chan mockFrame, 16),
		closedCh: make(chan struct{}),
	}
}

// WriteMessage implements Conn.
func (m *MockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errMockClosed
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written = append(m.written, append([]byte(nil), data...))
	return nil
}

// WriteControl implements Conn.
func (m *MockConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errMockClosed
	}
	m.controls = append(m.controls, mockFrame{messageType, append([]byte(nil), data...)})
	return nil
}

// ReadMessage implements Conn.
func (m *MockConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-m.reads:
		return f.messageType, f.data, nil
	case <-m.closedCh:
		return 0, nil, errMockClosed
	}
}

// Close implements Conn.
func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closedCh)
	}
	return nil
}

func (m *MockConn) SetWriteDeadline(time.Time) error { return nil }
func (m *MockConn) SetReadDeadline(time.Time) error  { return nil }
func (m *MockConn) SetReadLimit(int64)               {}

// SetPongHandler implements Conn.
func (m *MockConn) SetPongHandler(h func(appData string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pongHandler = h
}

// EnqueueText queues a text frame for ReadMessage.
func (m *MockConn) EnqueueText(s string) {
	m.reads <- mockFrame{websocket.TextMessage, []byte(s)}
}

// EnqueueBinary queues a binary frame for ReadMessage.
func (m *MockConn) EnqueueBinary(b []byte) {
	m.reads <- mockFrame{websocket.BinaryMessage, b}
}

// Written returns the data frames written so far, as strings.
func (m *MockConn) Written() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.written))
	for i, w := range m.written {
		out[i] = string(w)
	}
	return out
}

// CloseCode returns the code of the close frame written, or -1.
func (m *MockConn) CloseCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.controls {
		if c.messageType == websocket.CloseMessage && len(c.data) >= 2 {
			return int(c.data[0])<<8 | int(c.data[1])
		}
	}
	return -1
}

// SetWriteError sets an error to be returned by WriteMessage.
func (m *MockConn) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// IsClosed returns whether the connection is closed.
func (m *MockConn) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SimulatePong simulates receiving a pong message.
func (m *MockConn) SimulatePong() error {
	m.mu.Lock()
	handler := m.pongHandler
	m.mu.Unlock()

	if handler != nil {
		return handler("")
	}
	return nil
}

// MockUpgrader hands out queued connections.
type MockUpgrader struct {
	mu    sync.Mutex
	conns []*MockConn
	err   error
}

// NewMockUpgrader creates an upgrader that returns conns in order.
func NewMockUpgrader(conns ...*MockConn) *MockUpgrader {
	return &MockUpgrader{conns: conns}
}

// Upgrade implements Upgrader.
func (m *MockUpgrader) Upgrade(http.ResponseWriter, *http.Request, http.Header) (Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	if len(m.conns) == 0 {
		return nil, errors.New("no mock connection queued")
	}
	c := m.conns[0]
	m.conns = m.conns[1:]
	return c, nil
}

// newTestSession returns a registered-looking session on a mock conn.
func newTestSession(fp string) (*Session, *MockConn) {
	conn := NewMockConn()
	s := NewSession(conn, net.IPv4(1, 2, 3, 4).To4(), time.Second)
	s.Fingerprint = fp
	s.GamePort = 7777
	s.RegisteredAt = time.Now()
	return s, conn
}
