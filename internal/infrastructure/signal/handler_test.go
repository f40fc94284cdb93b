package signal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"peerlink/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newGinServer(t *testing.T) (*testServer, string) {
	t.Helper()
	tokens, err := NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	log := zaptest.NewLogger(t).Sugar()
	ws := NewWebSocketServer(tokens, DefaultServerOptions(), nil, log)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.GET("/peerjs", ws.Handler())
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		ws.Close()
		srv.Close()
	})
	return &testServer{WebSocketServer: ws, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/peerjs"}, srv.URL
}

func TestHandler_RejectsBadIDBeforeUpgrade(t *testing.T) {
	_, base := newGinServer(t)

	tests := []struct {
		name  string
		query string
		body  string
	}{
		{name: "missing id", query: "", body: "peer ID is required"},
		{name: "malformed id", query: "?id=not%20valid", body: "invalid peer ID format"},
		{name: "plain http", query: "?id=alice", body: "websocket upgrade required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(base + "/peerjs" + tt.query)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body struct {
				Error   string `json:"error"`
				Message string `json:"message"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, "INVALID_INPUT", body.Error)
			assert.Contains(t, body.Message, tt.body)
		})
	}
}

func TestHandler_DialReportsRejection(t *testing.T) {
	srv, _ := newGinServer(t)

	_, err := srv.dial(t, "not valid", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid id")
	assert.Equal(t, 0, srv.ConnectionCount())

	c, err := srv.dial(t, "alice", "")
	require.NoError(t, err)
	assert.NotEmpty(t, c.Token())
	assert.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
}
