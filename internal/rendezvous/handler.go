package rendezvous

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saintparish4/brpunch/internal/protocol"
	"github.com/saintparish4/brpunch/pkg/fingerprint"
)

// maxMessageSize bounds frames read from hosts. The only meaningful one is
// the registration.
const maxMessageSize = 1024

var errNotText = errors.New("registration must be a text frame")

// HostHandler accepts host control channels on /api/host.
type HostHandler struct {
	registry *Registry
	upgrader Upgrader
	resolver AddrResolver
	metrics  *Metrics
	logger   *zap.Logger

	// Configuration
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	PongWait        time.Duration
	RegisterTimeout time.Duration
}

// NewHostHandler creates a host handler backed by registry.
func NewHostHandler(registry *Registry, resolver AddrResolver, metrics *Metrics, logger *zap.Logger) *HostHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HostHandler{
		registry:        registry,
		upgrader:        NewGorillaUpgrader(),
		resolver:        resolver,
		metrics:         metrics,
		logger:          logger,
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
		PongWait:        60 * time.Second,
		RegisterTimeout: 10 * time.Second,
	}
}

// SetUpgrader sets the WebSocket upgrader.
func (h *HostHandler) SetUpgrader(u Upgrader) {
	h.upgrader = u
}

// ServeHTTP upgrades the request, waits for the registration and serves the
// session until it closes.
func (h *HostHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	remoteIP := h.resolver.HostIP(r)
	if remoteIP == nil || remoteIP.To4() == nil {
		http.Error(w, "host address must be IPv4", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Stringer("remote", remoteIP), zap.Error(err))
		return
	}

	sess := NewSession(conn, remoteIP, h.WriteTimeout)
	log := h.logger.With(zap.String("session", sess.ID), zap.Stringer("remote", remoteIP))
	defer h.handleDisconnect(sess, log)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(h.RegisterTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.PongWait))
		sess.UpdateLastSeen()
		return nil
	})

	if !h.register(sess, log) {
		return
	}

	conn.SetReadDeadline(time.Now().Add(h.PongWait))
	go h.pingLoop(sess)

	h.readLoop(sess, log)
}

// register reads the first frame, which must announce the game port, and
// inserts the session into the registry.
func (h *HostHandler) register(sess *Session, log *zap.Logger) bool {
	msgType, data, err := sess.conn.ReadMessage()
	if err != nil {
		log.Debug("closed before registering", zap.Error(err))
		return false
	}

	var port uint16
	if msgType == websocket.TextMessage {
		port, err = protocol.ParseRegister(string(data))
	} else {
		err = errNotText
	}
	if err != nil {
		log.Info("rejecting host", zap.Error(err))
		h.metrics.Rejected.Inc()
		sess.CloseWith(websocket.CloseProtocolError, "expected server_port:<port>")
		return false
	}

	sess.GamePort = port
	sess.Fingerprint = fingerprint.Of(sess.RemoteIP.String(), port)
	sess.RegisteredAt = time.Now()
	sess.UpdateLastSeen()

	if old := h.registry.Register(sess); old != nil {
		log.Info("displacing previous session", zap.String("previous", old.ID))
		h.metrics.Displaced.Inc()
		old.CloseWith(websocket.CloseNormalClosure, "replaced by a newer registration")
	}
	h.metrics.Registrations.Inc()

	log.Info("host registered",
		zap.String("host", sess.Host()),
		zap.String("fingerprint", sess.Fingerprint))

	if err := sess.Send(protocol.AckText); err != nil {
		log.Debug("ack failed", zap.Error(err))
		return false
	}
	return true
}

// readLoop drains frames until the connection fails. Hosts send nothing
// after registering, but reading is what surfaces pongs and close frames.
func (h *HostHandler) readLoop(sess *Session, log *zap.Logger) {
	for {
		_, _, err := sess.conn.ReadMessage()
		if err != nil {
			if !sess.IsClosed() {
				log.Debug("read error", zap.Error(err))
			}
			return
		}
		sess.UpdateLastSeen()
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (h *HostHandler) pingLoop(sess *Session) {
	ticker := time.NewTicker(h.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.Done():
			return
		case <-ticker.C:
			if err := sess.Ping(); err != nil {
				return
			}
		}
	}
}

// handleDisconnect closes the session and removes it unless a newer
// registration has taken its place.
func (h *HostHandler) handleDisconnect(sess *Session, log *zap.Logger) {
	sess.Close()
	if sess.Fingerprint == "" {
		return
	}
	if h.registry.Unregister(sess) {
		log.Info("host left", zap.String("fingerprint", sess.Fingerprint))
	}
}
