package api

import "github.com/gin-gonic/gin"

// Subscribers are anonymous; the hub handles the upgrade and the session.
func (h *handlers) handleWS(c *gin.Context) {
	h.svc.ServeWS(c.Writer, c.Request)
}
