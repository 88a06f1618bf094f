package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"gps-relay/internal/apperr"
	"gps-relay/internal/ingest"
	"gps-relay/internal/logging"
	"gps-relay/internal/middleware"
)

const maxUploadBytes = 64 << 10

type UploadHandler struct {
	Service *ingest.Service
}

func (h *UploadHandler) Upload(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"detail": "could not read request body"})
		return
	}

	ctx := c.Request.Context()
	if deviceID, ok := middleware.TokenDeviceFromContext(c); ok {
		ctx = ingest.WithTokenDevice(ctx, deviceID)
	}

	resp, err := h.Service.Handle(ctx, body)
	if err != nil {
		status := apperr.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			logging.Ctx(ctx).Error().Err(err).Str("kind", apperr.KindOf(err).String()).Msg("upload failed")
		}
		_ = c.Error(err)
		c.JSON(status, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}
