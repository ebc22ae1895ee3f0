package server

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/stevedores/dashboard-sync/internal/errors"
	"github.com/stevedores/dashboard-sync/internal/logging"
	"github.com/stevedores/dashboard-sync/internal/models"
	"github.com/stevedores/dashboard-sync/internal/sync/transport"
)

// SyncHandler serves the reconciliation API.
type SyncHandler struct {
	Reconciler *Reconciler
}

// Register mounts the routes on r.
func (h *SyncHandler) Register(r *gin.Engine) {
	r.POST(transport.ReconcilePath, h.reconcile)
	r.GET("/api/v1/entities/:type/:id", h.getEntity)
}

// The reconcile reply is the bare transport.Response; errors use the
// common envelope, whose code and message match transport.ErrorBody.
func (h *SyncHandler) reconcile(c *gin.Context) {
	var req transport.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if key := c.GetHeader("Idempotency-Key"); key != "" && req.ID != "" && key != req.ID {
		Error(c, http.StatusBadRequest, "Idempotency-Key does not match id", nil)
		return
	}

	resp, err := h.Reconciler.Reconcile(c.Request.Context(), req)
	if err != nil {
		status := StatusFor(err)
		if status >= http.StatusInternalServerError {
			logging.Error("reconcile failed", err, map[string]interface{}{"record_id": req.ID})
			Error(c, status, "reconcile failed", nil)
			return
		}
		Error(c, status, MessageOf(err), nil)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SyncHandler) getEntity(c *gin.Context) {
	entity, err := h.Reconciler.Entity(c.Request.Context(), models.EntityType(c.Param("type")), c.Param("id"))
	if err != nil {
		status := StatusFor(err)
		if status >= http.StatusInternalServerError {
			logging.Error("get entity failed", err)
		}
		Error(c, status, MessageOf(err), nil)
		return
	}
	Ok(c, entity, nil)
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	Ping func() error
}

// Register mounts the routes on r.
func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
}

func (h *HealthHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthHandler) ready(c *gin.Context) {
	if h.Ping == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_missing"})
		return
	}
	if err := h.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
