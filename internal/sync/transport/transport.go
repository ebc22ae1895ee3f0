// Package transport carries sync records to the remote reconciliation endpoint.
package transport

import (
	"context"

	"github.com/stevedores/dashboard-sync/internal/models"
)

// ReconcilePath is the reconciliation endpoint relative to the server URL.
const ReconcilePath = "/api/v1/sync/reconcile"

// Result is the reconciliation outcome reported by the server.
type Result string

const (
	ResultSuccess  Result = "success"
	ResultConflict Result = "conflict"
)

// Request is one record submitted for reconciliation.
type Request struct {
	ID         string            `json:"id"`
	EntityType models.EntityType `json:"entityType"`
	TargetID   string            `json:"targetId"`
	Operation  models.Operation  `json:"operation"`
	Payload    models.Payload    `json:"payload,omitempty"`
	ClientHash string            `json:"clientHash"`
	BaseHash   string            `json:"baseHash,omitempty"`
	Force      bool              `json:"force,omitempty"`
}

// Response is the server's answer to a Request.
type Response struct {
	Result     Result         `json:"result"`
	ServerHash string         `json:"serverHash,omitempty"`
	ServerData models.Payload `json:"serverData,omitempty"`
}

// ErrorBody is the JSON body of a non-200 reply.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Transport sends a request and returns the server's outcome. Errors are
// categorized: permanent for rejected input, transient for everything else.
type Transport interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// NewRequest builds the wire request for a record.
func NewRequest(rec *models.SyncRecord) Request {
	return Request{
		ID:         rec.ID,
		EntityType: rec.EntityType,
		TargetID:   rec.TargetID,
		Operation:  rec.Operation,
		Payload:    rec.Payload,
		ClientHash: rec.ClientHash,
		BaseHash:   rec.BaseHash,
		Force:      rec.Forced(),
	}
}

// Func adapts a function to the Transport interface.
type Func func(ctx context.Context, req Request) (*Response, error)

// Send calls f.
func (f Func) Send(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
