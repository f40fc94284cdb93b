package signal

import (
	apperrors "peerlink/pkg/errors"
	"peerlink/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handler is the gin route for peer sockets. Requests that cannot become a
// registration are refused with a JSON error before the upgrade, through
// middleware.ErrorHandlerMiddleware.
func (s *WebSocketServer) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Query("id")
		if err := validation.ValidatePeerID(id); err != nil {
			_ = c.Error(apperrors.NewInvalidInputError("invalid id: "+err.Error()).WithContext("id", id))
			return
		}
		if !websocket.IsWebSocketUpgrade(c.Request) {
			_ = c.Error(apperrors.NewInvalidInputError("websocket upgrade required").WithContext("id", id))
			return
		}
		s.HandleWebSocket(c.Writer, c.Request)
	}
}
