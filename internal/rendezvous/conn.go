package rendezvous

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn abstracts a WebSocket connection for testability.
// This interface is satisfied by *websocket.Conn from gorilla/websocket.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
}

// Upgrader abstracts WebSocket upgrade functionality.
type Upgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (Conn, error)
}

// GorillaUpgrader adapts websocket.Upgrader to the Upgrader interface.
type GorillaUpgrader struct {
	*websocket.Upgrader
}

// NewGorillaUpgrader creates an upgrader that accepts any origin. Hosts are
// game servers, not browsers.
func NewGorillaUpgrader() *GorillaUpgrader {
	return &GorillaUpgrader{
		Upgrader: &websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
}

// Upgrade implements the Upgrader interface.
func (g *GorillaUpgrader) Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (Conn, error) {
	conn, err := g.Upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
