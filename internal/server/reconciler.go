// Package server implements the remote reconciliation endpoint that
// terminals deliver their queued mutations to.
package server

import (
	"context"
	"time"

	apperrors "github.com/stevedores/dashboard-sync/internal/errors"
	"github.com/stevedores/dashboard-sync/internal/db"
	"github.com/stevedores/dashboard-sync/internal/logging"
	"github.com/stevedores/dashboard-sync/internal/models"
	"github.com/stevedores/dashboard-sync/internal/sync/fingerprint"
	"github.com/stevedores/dashboard-sync/internal/sync/transport"
)

// Reconciler applies client mutations to the authoritative entity store.
//
// A mutation conflicts when the entity exists, the client based its edit
// on a different version (BaseHash), the client's payload is not already
// the current one and the request is not forced. An empty BaseHash is
// accepted as last writer. Deliveries are idempotent per
// (id, clientHash, baseHash, force).
type Reconciler struct {
	repo *db.Repository
	now  func() time.Time
}

// NewReconciler creates a Reconciler over repo.
func NewReconciler(repo *db.Repository) *Reconciler {
	return &Reconciler{repo: repo, now: time.Now}
}

// Validate checks the request shape.
func Validate(req transport.Request) error {
	switch {
	case req.ID == "":
		return apperrors.New(apperrors.ErrValidation, "id is required")
	case req.EntityType == "":
		return apperrors.New(apperrors.ErrValidation, "entityType is required")
	case req.TargetID == "":
		return apperrors.New(apperrors.ErrValidation, "targetId is required")
	case !req.Operation.Valid():
		return apperrors.Newf(apperrors.ErrValidation, "unknown operation %q", req.Operation)
	}
	if req.Operation == models.OperationDelete {
		return nil
	}
	if req.Payload == nil {
		return apperrors.Newf(apperrors.ErrValidation, "%s requires a payload", req.Operation)
	}
	if req.ClientHash != fingerprint.Of(req.Payload) {
		return apperrors.New(apperrors.ErrValidation, "clientHash does not match payload")
	}
	return nil
}

// Reconcile applies req and reports the outcome.
func (r *Reconciler) Reconcile(ctx context.Context, req transport.Request) (*transport.Response, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	var resp *transport.Response
	err := r.repo.WithTx(ctx, func(tx *db.Repository) error {
		applied, err := tx.GetAppliedOperation(ctx, req.ID, req.ClientHash, req.BaseHash, req.Force)
		if err == nil {
			resp = &transport.Response{Result: transport.ResultSuccess, ServerHash: applied.ServerHash}
			return nil
		}
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			return err
		}

		current, err := tx.GetEntity(ctx, req.EntityType, req.TargetID)
		if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		live := current != nil && !current.Deleted

		if live && !req.Force && req.BaseHash != "" &&
			req.BaseHash != current.Hash && req.ClientHash != current.Hash {
			resp = &transport.Response{
				Result:     transport.ResultConflict,
				ServerHash: current.Hash,
				ServerData: current.Data,
			}
			return nil
		}

		now := r.now().UnixMilli()
		serverHash := ""
		switch req.Operation {
		case models.OperationDelete:
			if live {
				current.Deleted = true
				current.Hash = ""
				current.UpdatedAt = now
				if err := tx.PutEntity(ctx, current); err != nil {
					return err
				}
			}
		default:
			serverHash = fingerprint.Of(req.Payload)
			entity := &models.Entity{
				EntityType: req.EntityType,
				ID:         req.TargetID,
				Data:       req.Payload,
				Hash:       serverHash,
				UpdatedAt:  now,
			}
			if err := tx.PutEntity(ctx, entity); err != nil {
				return err
			}
		}

		if err := tx.CreateAppliedOperation(ctx, &models.AppliedOperation{
			RecordID:   req.ID,
			ClientHash: req.ClientHash,
			BaseHash:   req.BaseHash,
			Forced:     req.Force,
			EntityType: req.EntityType,
			TargetID:   req.TargetID,
			ServerHash: serverHash,
			AppliedAt:  now,
		}); err != nil {
			return err
		}
		resp = &transport.Response{Result: transport.ResultSuccess, ServerHash: serverHash}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Debug("reconciled", map[string]interface{}{
		"record_id":   req.ID,
		"entity_type": string(req.EntityType),
		"target_id":   req.TargetID,
		"operation":   string(req.Operation),
		"forced":      req.Force,
		"result":      string(resp.Result),
	})
	return resp, nil
}

// Entity returns the current authoritative copy of an entity.
func (r *Reconciler) Entity(ctx context.Context, entityType models.EntityType, id string) (*models.Entity, error) {
	return r.repo.GetEntity(ctx, entityType, id)
}
