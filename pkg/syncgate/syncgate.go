// Package syncgate decides which records may ever leave the device.
// Every outbound sync payload must pass through the gate; the storage
// engine itself never transmits anything.
//
// The gate is fail-closed: if the persisted boundary toggle cannot be
// read, the answer is "not allowed".
package syncgate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kittclouds/sovereign/internal/store"
)

// Boundaries is the persistence surface the gate needs. *store.Store
// satisfies it.
type Boundaries interface {
	GetSyncBoundary(ctx context.Context, layer store.Layer) (bool, error)
	SetSyncBoundary(ctx context.Context, layer store.Layer, allowed bool) error
	GetAllSyncBoundaries(ctx context.Context) ([]store.SyncBoundary, error)
}

// Controller gates outbound sync by layer.
type Controller struct {
	boundaries Boundaries
	log        *zap.Logger
}

// NewController creates a gate over the given boundary storage.
func NewController(b Boundaries, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{boundaries: b, log: log}
}

// IsSyncAllowed reports whether records of the given layer may be
// transmitted. Unknown layers and storage failures both answer false.
func (c *Controller) IsSyncAllowed(ctx context.Context, layer store.Layer) bool {
	if !layer.Valid() {
		return false
	}
	allowed, err := c.boundaries.GetSyncBoundary(ctx, layer)
	if err != nil {
		c.log.Warn("boundary read failed, refusing sync",
			zap.String("layer", string(layer)), zap.Error(err))
		return false
	}
	return allowed
}

// SetBoundary is the only mutator. It takes effect for every subsequent
// sync decision; it never retracts data already transmitted.
func (c *Controller) SetBoundary(ctx context.Context, layer store.Layer, allowed bool) error {
	if err := c.boundaries.SetSyncBoundary(ctx, layer, allowed); err != nil {
		return fmt.Errorf("set boundary: %w", err)
	}
	c.log.Info("sync boundary changed",
		zap.String("layer", string(layer)), zap.Bool("allowed", allowed))
	return nil
}

// Boundaries returns the toggle for every layer, unset layers included
// at their closed default.
func (c *Controller) Boundaries(ctx context.Context) ([]store.SyncBoundary, error) {
	return c.boundaries.GetAllSyncBoundaries(ctx)
}

// FilterOutbound splits candidate records into those eligible for an
// outbound payload and those held back by their layer's boundary. The
// held-back records are returned rather than dropped so the caller can
// report them.
func (c *Controller) FilterOutbound(ctx context.Context, records []store.Reflection) (allowed, held []store.Reflection) {
	verdicts := make(map[store.Layer]bool, len(store.Layers()))
	for _, layer := range store.Layers() {
		verdicts[layer] = c.IsSyncAllowed(ctx, layer)
	}
	for _, r := range records {
		if verdicts[r.Layer] {
			allowed = append(allowed, r)
		} else {
			held = append(held, r)
		}
	}
	if len(held) > 0 {
		c.log.Debug("records held back by sync boundary", zap.Int("count", len(held)))
	}
	return allowed, held
}
