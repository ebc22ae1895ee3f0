// Package handlers provides the terminal's local REST API.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stevedores/dashboard-sync/internal/logging"
	"github.com/stevedores/dashboard-sync/internal/models"
	"github.com/stevedores/dashboard-sync/internal/server"
	syncengine "github.com/stevedores/dashboard-sync/internal/sync"
	"github.com/stevedores/dashboard-sync/internal/sync/conflict"
	"github.com/stevedores/dashboard-sync/internal/sync/scheduler"
	"github.com/stevedores/dashboard-sync/internal/sync/status"
)

// SyncHandler serves record submission and sync control for the dashboard UI.
type SyncHandler struct {
	Engine syncengine.SyncEngineInterface
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(engine syncengine.SyncEngineInterface) *SyncHandler {
	return &SyncHandler{Engine: engine}
}

// Register mounts the routes on r.
func (h *SyncHandler) Register(r *gin.Engine) {
	r.POST("/api/records", h.enqueue)

	g := r.Group("/api/sync")
	g.GET("/status", h.status)
	g.POST("/force", h.force)
	g.GET("/conflicts", h.conflicts)
	g.POST("/conflicts/:id/resolve", h.resolve)
	g.POST("/resolve", h.resolve)
	g.POST("/records/:id/retry", h.retry)
	g.DELETE("/records/:id", h.discard)
	g.POST("/purge", h.purge)

	r.POST("/api/network", h.network)
}

// =====================================================
// Records
// =====================================================

type enqueueRequest struct {
	EntityType models.EntityType `json:"entity_type"`
	Operation  models.Operation  `json:"operation"`
	TargetID   string            `json:"target_id"`
	Payload    models.Payload    `json:"payload"`
}

// enqueue handles POST /api/records. The mutation is durable once this
// returns; delivery happens in the background.
func (h *SyncHandler) enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	id, err := h.Engine.Enqueue(c.Request.Context(), req.EntityType, req.Operation, req.Payload, req.TargetID)
	if err != nil {
		h.fail(c, "enqueue failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"code": 0, "message": "queued", "data": gin.H{"id": id}})
}

// =====================================================
// Sync control
// =====================================================

func (h *SyncHandler) status(c *gin.Context) {
	server.Ok(c, h.Engine.Snapshot(), nil)
}

type passView struct {
	Reason     scheduler.Reason `json:"reason"`
	Ran        bool             `json:"ran"`
	Skipped    string           `json:"skipped,omitempty"`
	Batches    int              `json:"batches"`
	Synced     int              `json:"synced"`
	Conflicts  int              `json:"conflicts"`
	Retried    int              `json:"retried"`
	Failed     int              `json:"failed"`
	DurationMS int64            `json:"duration_ms"`
}

func viewPass(res scheduler.PassResult) passView {
	v := passView{
		Reason:    res.Reason,
		Ran:       res.Ran,
		Skipped:   res.Skipped,
		Batches:   res.Batches,
		Synced:    res.Synced,
		Conflicts: res.Conflicts,
		Retried:   res.Retried,
		Failed:    res.Failed,
	}
	if !res.FinishedAt.IsZero() {
		v.DurationMS = res.FinishedAt.Sub(res.StartedAt).Milliseconds()
	}
	return v
}

func (h *SyncHandler) force(c *gin.Context) {
	server.Ok(c, viewPass(h.Engine.ForceSync(c.Request.Context())), nil)
}

func (h *SyncHandler) purge(c *gin.Context) {
	n, err := h.Engine.Purge(c.Request.Context())
	if err != nil {
		h.fail(c, "purge failed", err)
		return
	}
	server.Ok(c, gin.H{"purged": n}, nil)
}

// =====================================================
// Conflicts
// =====================================================

type conflictView struct {
	RecordID   string            `json:"record_id"`
	EntityType models.EntityType `json:"entity_type"`
	TargetID   string            `json:"target_id"`
	Operation  models.Operation  `json:"operation"`
	Local      models.Payload    `json:"local"`
	Server     models.Payload    `json:"server"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (h *SyncHandler) conflicts(c *gin.Context) {
	recs := h.Engine.Conflicts()
	out := make([]conflictView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, conflictView{
			RecordID:   rec.ID,
			EntityType: rec.EntityType,
			TargetID:   rec.TargetID,
			Operation:  rec.Operation,
			Local:      rec.Payload,
			Server:     rec.ConflictData,
			UpdatedAt:  rec.UpdatedAtTime(),
		})
	}
	server.Ok(c, out, map[string]any{"count": len(out)})
}

// resolveRequest is the manual resolution body. strategy and merged are
// accepted as older spellings of resolution and mergedPayload.
type resolveRequest struct {
	RecordID      string            `json:"recordId"`
	Resolution    conflict.Strategy `json:"resolution"`
	MergedPayload models.Payload    `json:"mergedPayload,omitempty"`

	Strategy conflict.Strategy `json:"strategy"`
	Merged   models.Payload    `json:"merged,omitempty"`
}

func (r resolveRequest) strategy() conflict.Strategy {
	if r.Resolution != "" {
		return r.Resolution
	}
	return r.Strategy
}

func (r resolveRequest) merged() models.Payload {
	if r.MergedPayload != nil {
		return r.MergedPayload
	}
	return r.Merged
}

// resolve handles POST /api/sync/conflicts/:id/resolve and
// POST /api/sync/resolve, where the record comes from recordId.
func (h *SyncHandler) resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	id := c.Param("id")
	switch {
	case id == "" && req.RecordID == "":
		server.Error(c, http.StatusBadRequest, "recordId is required", nil)
		return
	case id == "":
		id = req.RecordID
	case req.RecordID != "" && req.RecordID != id:
		server.Error(c, http.StatusBadRequest, "recordId does not match the path", nil)
		return
	}

	payload, err := h.Engine.ResolveConflict(c.Request.Context(), id, req.strategy(), req.merged())
	if err != nil {
		h.fail(c, "resolve failed", err)
		return
	}
	server.Ok(c, gin.H{"record_id": id, "payload": payload}, nil)
}

func (h *SyncHandler) retry(c *gin.Context) {
	rec, err := h.Engine.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "retry failed", err)
		return
	}
	server.Ok(c, status.Summarize(rec), nil)
}

func (h *SyncHandler) discard(c *gin.Context) {
	if err := h.Engine.Discard(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "discard failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// =====================================================
// Platform signals
// =====================================================

type networkRequest struct {
	Online  *bool `json:"online"`
	Visible *bool `json:"visible"`
}

// network lets the UI shell report connectivity and visibility changes.
func (h *SyncHandler) network(c *gin.Context) {
	var req networkRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Online == nil && req.Visible == nil) {
		server.Error(c, http.StatusBadRequest, "online or visible is required", nil)
		return
	}
	if req.Online != nil {
		h.Engine.SetOnline(*req.Online)
	}
	if req.Visible != nil {
		h.Engine.SetVisible(*req.Visible)
	}
	server.Ok(c, gin.H{"is_online": h.Engine.Snapshot().IsOnline}, nil)
}

// fail maps err to a status. Internal failures are logged and reported
// without detail.
func (h *SyncHandler) fail(c *gin.Context, action string, err error) {
	code := server.StatusFor(err)
	if code >= http.StatusInternalServerError {
		logging.Error(action, err, map[string]interface{}{"path": c.FullPath()})
		server.Error(c, code, action, nil)
		return
	}
	server.Error(c, code, server.MessageOf(err), nil)
}
