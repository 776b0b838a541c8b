package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browsers send the page origin; identity is established in-band via
	// set_session, so any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and runs the connection's pumps until the
// peer disconnects.
func (h *Handlers) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "remote", c.ClientIP(), "error", err)
		return
	}

	client, err := h.hub.NewClient(conn)
	if err != nil {
		h.log.Error("ws client setup failed", "error", err)
		_ = conn.Close()
		return
	}

	h.log.Debug("ws connected", "conn_id", client.ID(), "remote", c.ClientIP())
	h.hub.Serve(client, h.coord)
}
