package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Apezdr/hls-prototype-sub001/internal/apperrors"
)

// writeError translates a classified error into the status code and
// plain-text body spec.md §6/§7 dictate. Segment handlers surface
// Timeout as 202 so the player retries; every other kind maps to a
// fixed status with the kind-appropriate body.
func writeError(c *gin.Context, err error) {
	switch apperrors.GetKind(err) {
	case apperrors.DisabledFeature:
		c.String(http.StatusInternalServerError, "JIT transcoding is disabled")
	case apperrors.NotFound:
		c.String(http.StatusNotFound, "not found")
	case apperrors.BadRequest:
		c.String(http.StatusBadRequest, "bad request")
	case apperrors.Timeout:
		c.String(http.StatusAccepted, "segment is being generated")
	default:
		c.String(http.StatusInternalServerError, err.Error())
	}
}
