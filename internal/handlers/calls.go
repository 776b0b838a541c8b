package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// CallHistory returns the call records of one chat, oldest first.
// ?limit=N caps the result.
func (h *Handlers) CallHistory(c *gin.Context) {
	chatID := c.Param("chatId")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	records, err := h.calls.History(chatID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// ActiveCall reports whether a call is running in the chat and who is in
// it, so a reconnecting client can offer to rejoin.
func (h *Handlers) ActiveCall(c *gin.Context) {
	chatID := c.Param("chatId")

	members, active := h.coord.RoomSnapshot(chatID)
	c.JSON(http.StatusOK, gin.H{
		"active":  active,
		"members": members,
	})
}

// GetTURNConfig hands clients the ICE server list. The TURN relay is
// UDP-only; media privacy comes from DTLS-SRTP, not turns:.
func (h *Handlers) GetTURNConfig(c *gin.Context) {
	host := c.Request.Host
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}

	creds := h.turn.Credentials()
	stunURL := fmt.Sprintf("stun:%s:%d", host, h.turn.Port())
	turnURL := fmt.Sprintf("turn:%s:%d", host, h.turn.Port())

	c.JSON(http.StatusOK, gin.H{
		"iceServers": []map[string]any{
			{"urls": stunURL},
			{
				"urls":       turnURL,
				"username":   creds.Username,
				"credential": creds.Password,
			},
		},
	})
}
