package rendezvous

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/saintparish4/brpunch/internal/protocol"
	"github.com/saintparish4/brpunch/pkg/fingerprint"
	"github.com/saintparish4/brpunch/pkg/types"
)

// JoinHandler serves POST /api/join?target=<fingerprint>&port=<port>. It
// forwards an open directive to the target host.
type JoinHandler struct {
	registry *Registry
	resolver AddrResolver
	metrics  *Metrics
	logger   *zap.Logger
}

// NewJoinHandler creates a join handler backed by registry.
func NewJoinHandler(registry *Registry, resolver AddrResolver, metrics *Metrics, logger *zap.Logger) *JoinHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JoinHandler{
		registry: registry,
		resolver: resolver,
		metrics:  metrics,
		logger:   logger,
	}
}

func (h *JoinHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	target := q.Get("target")
	if !fingerprint.Valid(target) {
		h.metrics.Joins.WithLabelValues(joinBadRequest).Inc()
		http.Error(w, "target must be a 40 character lowercase hex fingerprint", http.StatusBadRequest)
		return
	}

	port, err := types.ParsePort(q.Get("port"))
	if err != nil {
		h.metrics.Joins.WithLabelValues(joinBadRequest).Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	clientIP := h.resolver.ClientIP(r)
	if clientIP == nil || clientIP.To4() == nil {
		h.metrics.Joins.WithLabelValues(joinBadRequest).Inc()
		http.Error(w, "client address must be IPv4", http.StatusBadRequest)
		return
	}
	client := types.Endpoint{IP: clientIP.To4(), Port: port}

	log := h.logger.With(zap.Stringer("client", client), zap.String("target", target))

	sess := h.registry.Get(target)
	if sess == nil {
		h.metrics.Joins.WithLabelValues(joinUnknown).Inc()
		log.Info("join for unknown target")
		http.Error(w, "target not found", http.StatusNotFound)
		return
	}

	if err := sess.Send(protocol.FormatOpen(client)); err != nil {
		h.metrics.Joins.WithLabelValues(joinSendFailed).Inc()
		log.Warn("directive not delivered", zap.String("session", sess.ID), zap.Error(err))
		http.Error(w, "host unreachable", http.StatusBadGateway)
		return
	}

	h.metrics.Joins.WithLabelValues(joinSent).Inc()
	log.Info("join forwarded", zap.String("host", sess.Host()), zap.String("session", sess.ID))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(protocol.AckText))
}
