// Package hostagent runs the host side: it captures a frame template, keeps a
// control channel open to the rendezvous service and punches toward every
// client the service introduces.
package hostagent

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saintparish4/brpunch/internal/protocol"
	"github.com/saintparish4/brpunch/pkg/types"
)

// State of the control channel.
type State int32

const (
	StateDisconnected State = iota
	StateOpen
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Conn is the control channel. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetPingHandler(h func(appData string) error)
	SetCloseHandler(h func(code int, text string) error)
	Close() error
}

// Puncher sends one punch frame toward a client.
type Puncher interface {
	Punch(dst types.Endpoint) error
}

// Agent serves the control channel for one game server.
type Agent struct {
	gamePort uint16
	puncher  Puncher
	logger   *zap.Logger
	state    atomic.Int32

	WriteTimeout time.Duration
}

// NewAgent creates an agent that registers gamePort and punches with p.
func NewAgent(gamePort uint16, p Puncher, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		gamePort:     gamePort,
		puncher:      p,
		logger:       logger.Named("agent"),
		WriteTimeout: 10 * time.Second,
	}
}

// State returns the current channel state.
func (a *Agent) State() State {
	return State(a.state.Load())
}

// Run registers on conn and processes directives in arrival order until the
// channel ends. A close frame from the service ends it cleanly and Run returns
// nil. Any other read or write failure returns an error wrapping
// types.ErrChannelTransport. Malformed directives and punch failures are
// logged and do not end the channel.
func (a *Agent) Run(conn Conn) error {
	defer conn.Close()

	conn.SetPingHandler(func(data string) error {
		err := conn.WriteControl(websocket.PongMessage, []byte(data), a.deadline())
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			return err
		}
		return nil
	})
	conn.SetCloseHandler(func(code int, text string) error {
		a.logger.Info("service closed the channel", zap.Int("code", code), zap.String("reason", text))
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), a.deadline())
		return nil
	})

	if err := conn.WriteMessage(websocket.TextMessage, []byte(protocol.FormatRegister(a.gamePort))); err != nil {
		return a.fail(conn, err)
	}
	a.state.Store(int32(StateOpen))
	a.logger.Info("registering", zap.Uint16("game_port", a.gamePort))

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				a.state.Store(int32(StateClosed))
				return nil
			}
			return a.fail(conn, err)
		}
		if msgType != websocket.TextMessage {
			a.logger.Debug("ignoring non-text frame", zap.Int("type", msgType))
			continue
		}
		a.handle(string(data))
	}
}

func (a *Agent) handle(msg string) {
	dst, err := protocol.ParseOpen(msg)
	switch {
	case errors.Is(err, protocol.ErrNotDirective):
		if msg == protocol.AckText {
			a.logger.Info("registered with rendezvous")
		} else {
			a.logger.Debug("ignoring message", zap.String("msg", msg))
		}
		return
	case err != nil:
		a.logger.Warn("bad directive", zap.Error(err))
		return
	}

	if err := a.puncher.Punch(dst); err != nil {
		a.logger.Warn("punch failed", zap.Stringer("client", dst), zap.Error(err))
		return
	}
	a.logger.Info("punched", zap.Stringer("client", dst))
}

// fail records a transport error, sends a best-effort close frame and
// returns the wrapped error.
func (a *Agent) fail(conn Conn, err error) error {
	a.state.Store(int32(StateError))
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "transport error"),
		a.deadline())
	return fmt.Errorf("%w: %w", types.ErrChannelTransport, err)
}

func (a *Agent) deadline() time.Time {
	return time.Now().Add(a.WriteTimeout)
}
