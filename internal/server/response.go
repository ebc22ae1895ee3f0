package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/stevedores/dashboard-sync/internal/errors"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Ok writes a success envelope.
func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

// Error writes an error envelope.
func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// StatusFor maps an error code to an HTTP status.
func StatusFor(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrValidation, apperrors.ErrInvalid, apperrors.ErrResolutionInvalid:
		return http.StatusUnprocessableEntity
	case apperrors.ErrNotFound, apperrors.ErrConflictNotFound:
		return http.StatusNotFound
	case apperrors.ErrSyncOffline, apperrors.ErrStoreClosed:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
