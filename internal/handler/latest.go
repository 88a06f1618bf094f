package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gps-relay/internal/latest"
)

type LatestHandler struct {
	Slot *latest.Slot
}

// Latest echoes the most recent upload body byte for byte, or {} before the
// first upload.
func (h *LatestHandler) Latest(c *gin.Context) {
	sample, ok := h.Slot.Load()
	if !ok {
		c.Data(http.StatusOK, "application/json", []byte("{}"))
		return
	}
	c.Data(http.StatusOK, "application/json", sample.Payload)
}
