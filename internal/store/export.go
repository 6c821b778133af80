package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SnapshotVersion is the export format version. Bump only on an
// incompatible shape change; Decode rejects versions it does not know.
const SnapshotVersion = 1

// Snapshot is a complete, self-contained copy of the journal. All
// timestamps serialize as RFC 3339 so a snapshot remains readable
// without this program.
type Snapshot struct {
	Version        int             `json:"version"`
	ExportedAt     time.Time       `json:"exportedAt"`
	Reflections    []Reflection    `json:"reflections"`
	Threads        []Thread        `json:"threads"`
	IdentityAxes   []IdentityAxis  `json:"identityAxes"`
	Settings       *UserSettings   `json:"settings,omitempty"`
	ConsentRecords []ConsentRecord `json:"consentRecords"`
}

// ImportStatus classifies what happened to one record during import.
type ImportStatus string

const (
	ImportAdded   ImportStatus = "added"
	ImportSkipped ImportStatus = "skipped" // identifier already present
	ImportFailed  ImportStatus = "failed"  // validation or storage error
)

// ImportOutcome reports the fate of a single imported record. Import
// never aborts the whole batch over one bad record.
type ImportOutcome struct {
	Collection string       `json:"collection"`
	ID         string       `json:"id"`
	Status     ImportStatus `json:"status"`
	Err        string       `json:"error,omitempty"`
}

// ExportAll assembles a snapshot of every collection. Collections are
// gathered concurrently; each read sees a consistent view because the
// store serializes writes behind its lock.
func (s *Store) ExportAll(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: time.Now().UTC(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Reflections, err = s.GetAllReflections(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Threads, err = s.GetAllThreads(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.IdentityAxes, err = s.GetAllIdentityAxes(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.ConsentRecords, err = s.GetAllConsent(gctx)
		return err
	})
	g.Go(func() error {
		u, err := s.GetSettings(gctx)
		if err != nil {
			return err
		}
		snap.Settings = &u
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	s.log.Info("exported snapshot",
		zap.Int("reflections", len(snap.Reflections)),
		zap.Int("threads", len(snap.Threads)),
		zap.Int("identityAxes", len(snap.IdentityAxes)),
		zap.Int("consentRecords", len(snap.ConsentRecords)))
	return snap, nil
}

// ImportAll merges a snapshot into the store, one record at a time
// through the normal Add path. Records whose identifier already exists
// are skipped, which makes importing the same snapshot twice a no-op.
// A failed record never blocks the rest of the batch.
//
// Identity axes land first so reflections can reference them. Thread
// membership is restored from the thread side: a reflection's thread
// link is re-established when its thread imports, so reflections whose
// thread is absent from the snapshot come in unthreaded rather than
// dangling.
func (s *Store) ImportAll(ctx context.Context, snap *Snapshot) ([]ImportOutcome, error) {
	if snap == nil {
		return nil, errors.New("import: nil snapshot")
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("import: unsupported snapshot version %d", snap.Version)
	}

	var out []ImportOutcome
	record := func(collection, id string, err error) {
		o := ImportOutcome{Collection: collection, ID: id, Status: ImportAdded}
		switch {
		case errors.Is(err, ErrAlreadyExists):
			o.Status = ImportSkipped
		case err != nil:
			o.Status = ImportFailed
			o.Err = err.Error()
		}
		out = append(out, o)
	}

	for _, a := range snap.IdentityAxes {
		record("identityAxes", a.ID, s.AddIdentityAxis(ctx, a))
	}
	for _, r := range snap.Reflections {
		r.ThreadID = ""
		record("reflections", r.ID, s.AddReflection(ctx, r))
	}
	for _, t := range snap.Threads {
		record("threads", t.ID, s.AddThread(ctx, t))
	}
	for _, c := range snap.ConsentRecords {
		record("consentRecords", c.ID, s.AppendConsent(ctx, c))
	}
	if snap.Settings != nil {
		persisted, err := s.hasSettings(ctx)
		if err != nil {
			return out, fmt.Errorf("import: %w", err)
		}
		if !persisted {
			record("settings", "1", s.PutSettings(ctx, *snap.Settings))
		} else {
			record("settings", "1", ErrAlreadyExists)
		}
	}

	added, skipped, failed := 0, 0, 0
	for _, o := range out {
		switch o.Status {
		case ImportAdded:
			added++
		case ImportSkipped:
			skipped++
		case ImportFailed:
			failed++
		}
	}
	s.log.Info("imported snapshot",
		zap.Int("added", added), zap.Int("skipped", skipped), zap.Int("failed", failed))
	return out, nil
}

// hasSettings reports whether the settings singleton has ever been
// written. Import must not clobber local preferences.
func (s *Store) hasSettings(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM user_settings WHERE id = 1").Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// EncodeSnapshot renders a snapshot as indented JSON.
func EncodeSnapshot(snap *Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses JSON produced by EncodeSnapshot. Unknown fields
// are rejected so a foreign or corrupted file fails loudly instead of
// importing garbage.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var snap Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version == 0 {
		return nil, errors.New("decode snapshot: missing version")
	}
	return &snap, nil
}
