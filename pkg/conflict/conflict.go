// Package conflict classifies incoming remote writes against local
// state and drives the connection status machine. Remote versions are
// never written to storage directly: clean fast-forwards go through the
// engine's normal update path, and anything ambiguous is staged as a
// conflict record until the user resolves it. The package never merges
// on its own; surfacing beats guessing.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kittclouds/sovereign/internal/store"
	"github.com/kittclouds/sovereign/pkg/syncgate"
)

// Status is the connection state surfaced to the UI.
type Status string

const (
	StatusOK         Status = "ok"         // no known divergence
	StatusOffline    Status = "offline"    // no transport; no divergence check performed
	StatusSyncing    Status = "syncing"    // reconciliation pass in progress
	StatusConflicted Status = "conflicted" // at least one divergent record on the layer
)

// RemoteVersion is an incoming record from another device, together
// with that device's revision counter and the hash of the version it
// branched from.
type RemoteVersion struct {
	Reflection store.Reflection
	Rev        int64
	BaseHash   string
}

// Record pairs the local and remote versions of one diverged record.
// It lives only until the user resolves it.
type Record struct {
	ID         string
	Local      store.Reflection
	Remote     RemoteVersion
	DetectedAt time.Time
}

// Disposition says what Submit did with a remote version.
type Disposition string

const (
	DispositionNoop        Disposition = "noop"         // already have this content
	DispositionApplied     Disposition = "applied"      // new record, added
	DispositionFastForward Disposition = "fast-forward" // clean descendant, updated
	DispositionConflicted  Disposition = "conflicted"   // staged for resolution
	DispositionRefused     Disposition = "refused"      // layer's boundary is closed
)

// Choice selects which version wins a resolution.
type Choice int

const (
	ChooseLocal Choice = iota
	ChooseRemote
	ChooseMerged
)

// ErrSyncNotAllowed is returned when a remote write arrives for a layer
// whose sync boundary is closed.
var ErrSyncNotAllowed = errors.New("sync not allowed for layer")

// ErrUnknownConflict is returned by Resolve for an id that is not
// staged.
var ErrUnknownConflict = errors.New("unknown conflict")

// Detector stages divergent remote writes and tracks connection status.
// Safe for concurrent use.
type Detector struct {
	store *store.Store
	gate  *syncgate.Controller
	log   *zap.Logger

	mu        sync.RWMutex
	conflicts map[string]Record // conflict id -> record
	online    bool
	syncing   bool
}

// NewDetector creates a detector over the given store and sync gate.
func NewDetector(s *store.Store, gate *syncgate.Controller, log *zap.Logger) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{
		store:     s,
		gate:      gate,
		log:       log,
		conflicts: make(map[string]Record),
	}
}

// SetOnline records whether a transport is available. Offline means no
// divergence checks happen at all.
func (d *Detector) SetOnline(online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.online = online
	if !online {
		d.syncing = false
	}
}

// BeginSync marks a reconciliation pass in progress.
func (d *Detector) BeginSync() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.online = true
	d.syncing = true
}

// EndSync marks the reconciliation pass finished.
func (d *Detector) EndSync() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncing = false
}

// Status reports the connection state for one layer. Staged conflicts
// dominate every other state for their layer.
func (d *Detector) Status(layer store.Layer) Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, rec := range d.conflicts {
		if rec.Local.Layer == layer {
			return StatusConflicted
		}
	}
	switch {
	case d.syncing:
		return StatusSyncing
	case !d.online:
		return StatusOffline
	}
	return StatusOK
}

// Conflicts returns the staged records, oldest first.
func (d *Detector) Conflicts() []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Record, 0, len(d.conflicts))
	for _, rec := range d.conflicts {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Submit classifies one remote version against local state. Exactly one
// of four things happens: nothing (already have it), a normal engine
// write (new record or clean fast-forward), a staged conflict record
// with store.ErrConflicted, or a refusal because the layer's boundary
// is closed.
func (d *Detector) Submit(ctx context.Context, remote RemoteVersion) (Disposition, error) {
	r := remote.Reflection
	if !d.gate.IsSyncAllowed(ctx, r.Layer) {
		return DispositionRefused, fmt.Errorf("%w: %s", ErrSyncNotAllowed, r.Layer)
	}

	local, err := d.store.GetReflection(ctx, r.ID)
	if errors.Is(err, store.ErrNotFound) {
		r.Rev = remote.Rev
		if err := d.store.AddReflection(ctx, r); err != nil {
			return "", fmt.Errorf("apply remote add: %w", err)
		}
		return DispositionApplied, nil
	}
	if err != nil {
		return "", fmt.Errorf("load local version: %w", err)
	}

	localHash := store.ContentHash(local)
	remoteHash := store.ContentHash(r)

	// Same content is never a conflict, whatever the counters say.
	// Differing content is always either a fast-forward or a staged
	// conflict; a matching base hash alone proves the remote branched
	// from the current local content, not that we have seen its edit.
	if localHash == remoteHash {
		return DispositionNoop, nil
	}

	if remote.Rev > local.Rev && (remote.BaseHash == localHash || additiveOver(local, r)) {
		r.CreatedAt = local.CreatedAt
		if err := d.store.UpdateReflection(ctx, r); err != nil {
			return "", fmt.Errorf("apply fast-forward: %w", err)
		}
		d.log.Info("fast-forwarded remote write",
			zap.String("id", r.ID), zap.Int64("remoteRev", remote.Rev))
		return DispositionFastForward, nil
	}

	rec := Record{
		ID:         uuid.NewString(),
		Local:      local,
		Remote:     remote,
		DetectedAt: time.Now().UTC(),
	}
	d.mu.Lock()
	d.conflicts[rec.ID] = rec
	d.mu.Unlock()

	d.log.Warn("divergent remote write staged",
		zap.String("id", r.ID), zap.String("conflict", rec.ID))
	return DispositionConflicted, fmt.Errorf("record %s: %w", r.ID, store.ErrConflicted)
}

// Resolve applies the user's decision for one staged conflict. It
// performs exactly one engine update and discards the record. merged is
// only consulted for ChooseMerged.
func (d *Detector) Resolve(ctx context.Context, conflictID string, choice Choice, merged *store.Reflection) error {
	d.mu.Lock()
	rec, ok := d.conflicts[conflictID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", conflictID, ErrUnknownConflict)
	}

	var winner store.Reflection
	switch choice {
	case ChooseLocal:
		winner = rec.Local
	case ChooseRemote:
		winner = rec.Remote.Reflection
	case ChooseMerged:
		if merged == nil {
			return errors.New("merged resolution requires an explicit payload")
		}
		winner = *merged
	default:
		return fmt.Errorf("unknown choice %d", choice)
	}

	winner.ID = rec.Local.ID
	winner.CreatedAt = rec.Local.CreatedAt
	if err := d.store.UpdateReflection(ctx, winner); err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}

	d.mu.Lock()
	delete(d.conflicts, conflictID)
	d.mu.Unlock()

	d.log.Info("conflict resolved",
		zap.String("conflict", conflictID), zap.String("id", winner.ID))
	return nil
}

// additiveOver reports whether remote only adds to local: identical
// content and flags, tags and metadata that are supersets, and a thread
// reference that was empty before. Such a remote is replayable over
// local without losing anything.
func additiveOver(local, remote store.Reflection) bool {
	if local.Content != remote.Content ||
		local.Encrypted != remote.Encrypted ||
		local.Layer != remote.Layer ||
		local.Modality != remote.Modality ||
		local.Visible != remote.Visible ||
		local.IdentityAxisID != remote.IdentityAxisID {
		return false
	}
	if local.ThreadID != "" && local.ThreadID != remote.ThreadID {
		return false
	}

	remoteTags := make(map[string]bool, len(remote.Tags))
	for _, t := range remote.Tags {
		remoteTags[t] = true
	}
	for _, t := range local.Tags {
		if !remoteTags[t] {
			return false
		}
	}

	for k, v := range local.Metadata {
		rv, ok := remote.Metadata[k]
		if !ok || !rv.Equal(v) {
			return false
		}
	}
	return true
}
