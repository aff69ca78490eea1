package rendezvous

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saintparish4/brpunch/pkg/fingerprint"
)

func TestServerHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
	assert.Contains(t, response, "timestamp")
}

func TestServerHealthMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("POST", "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServerStatsEndpoint(t *testing.T) {
	s := newTestServer(t)
	a, _ := newTestSession(fpA)
	b, _ := newTestSession(fpB)
	s.Registry().Register(a)
	s.Registry().Register(b)

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 2.0, response["hosts"])
	assert.Contains(t, response, "uptime_seconds")
	assert.Contains(t, response, "oldest_registration")
}

func TestServerBanner(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, Banner, w.Body.String())
}

func TestServerNotFound(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/nonexistent", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "not found", response["error"])
	assert.Equal(t, "/nonexistent", response["path"])
}

func TestServerMetrics(t *testing.T) {
	s := newTestServer(t)
	a, _ := newTestSession(fpA)
	s.Registry().Register(a)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "brpunch_hosts_registered 1")
}

// TestServerLifecycle runs a real listener with a real WebSocket host.
func TestServerLifecycle(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Start(context.Background()))

	base := "http://" + s.Addr()
	resp, err := http.Get(base + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, Banner, string(body))

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/api/host", nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("server_port:7777")))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(msg))

	fp := fingerprint.Sum("127.0.0.1:7777")
	require.NotNil(t, s.Registry().Get(fp))

	resp, err = http.Post(base+"/api/join?target="+fp+"&port=51000", "text/plain", strings.NewReader(""))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, msg, err = ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "open 127.0.0.1 51000", string(msg))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	// The host sees the going-away close frame.
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
