package hostagent

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saintparish4/brpunch/pkg/types"
)

type frame struct {
	messageType int
	data        []byte
}

type readResult struct {
	frame
	err error
}

// mockConn replays queued frames. Ping and close frames are dispatched to the
// registered handlers the way gorilla/websocket does inside ReadMessage.
type mockConn struct {
	mu           sync.Mutex
	reads        chan readResult
	written      []frame
	controls     []frame
	writeErr     error
	closed       bool
	pingHandler  func(string) error
	closeHandler func(int, string) error
}

func newMockConn() *mockConn {
	return &mockConn{reads: make(chan readResult, 32)}
}

func (m *mockConn) text(s string) {
	m.reads <- readResult{frame: frame{websocket.TextMessage, []byte(s)}}
}

func (m *mockConn) binary(b []byte) {
	m.reads <- readResult{frame: frame{websocket.BinaryMessage, b}}
}

func (m *mockConn) ping(s string) {
	m.reads <- readResult{frame: frame{websocket.PingMessage, []byte(s)}}
}

func (m *mockConn) fail(err error) {
	m.reads <- readResult{err: err}
}

func (m *mockConn) closeFrame(code int) {
	m.reads <- readResult{frame: frame{websocket.CloseMessage, websocket.FormatCloseMessage(code, "")}}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	for r := range m.reads {
		if r.err != nil {
			return 0, nil, r.err
		}
		switch r.messageType {
		case websocket.PingMessage:
			m.mu.Lock()
			h := m.pingHandler
			m.mu.Unlock()
			if err := h(string(r.data)); err != nil {
				return 0, nil, err
			}
			continue
		case websocket.CloseMessage:
			code := int(r.data[0])<<8 | int(r.data[1])
			m.mu.Lock()
			h := m.closeHandler
			m.mu.Unlock()
			if err := h(code, ""); err != nil {
				return 0, nil, err
			}
			return 0, nil, &websocket.CloseError{Code: code}
		}
		return r.messageType, r.data, nil
	}
	return 0, nil, errors.New("read on drained mock")
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written = append(m.written, frame{messageType, append([]byte(nil), data...)})
	return nil
}

func (m *mockConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controls = append(m.controls, frame{messageType, append([]byte(nil), data...)})
	return nil
}

func (m *mockConn) SetPingHandler(h func(string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingHandler = h
}

func (m *mockConn) SetCloseHandler(h func(int, string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeHandler = h
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) writtenText() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, f := range m.written {
		out = append(out, string(f.data))
	}
	return out
}

func (m *mockConn) controlFrames(messageType int) []frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []frame
	for _, f := range m.controls {
		if f.messageType == messageType {
			out = append(out, f)
		}
	}
	return out
}

type recordingPuncher struct {
	mu   sync.Mutex
	dsts []string
	err  error
}

func (p *recordingPuncher) Punch(dst types.Endpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.dsts = append(p.dsts, dst.String())
	return nil
}

func (p *recordingPuncher) punched() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.dsts...)
}
