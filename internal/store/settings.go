package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetSettings returns the singleton settings record. Before the first
// write it returns DefaultSettings, never an error.
func (s *Store) GetSettings(ctx context.Context) (UserSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var u UserSettings
	var highContrast int
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT theme, high_contrast, font_scale, default_layer, default_modality, updated_at
		FROM user_settings WHERE id = 1
	`).Scan(&u.Theme, &highContrast, &u.FontScale, (*string)(&u.DefaultLayer), &u.DefaultModality, &updatedAt)
	if err == sql.ErrNoRows {
		return DefaultSettings(), nil
	}
	if err != nil {
		return UserSettings{}, fmt.Errorf("get settings: %w", err)
	}
	u.HighContrast = highContrast != 0
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

// PutSettings writes the singleton settings record, creating it on
// first write. Exactly one instance exists afterwards.
func (s *Store) PutSettings(ctx context.Context, u UserSettings) error {
	if err := ValidateSettings(u); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "put settings", func(tx *sql.Tx) error {
		if u.UpdatedAt.IsZero() {
			u.UpdatedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_settings (id, theme, high_contrast, font_scale, default_layer, default_modality, updated_at)
			VALUES (1, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				theme = excluded.theme,
				high_contrast = excluded.high_contrast,
				font_scale = excluded.font_scale,
				default_layer = excluded.default_layer,
				default_modality = excluded.default_modality,
				updated_at = excluded.updated_at
		`, u.Theme, boolToInt(u.HighContrast), u.FontScale,
			string(u.DefaultLayer), u.DefaultModality, millis(u.UpdatedAt))
		if err != nil {
			return abortErr("put settings", err)
		}
		return nil
	})
}

// ===========================================================================
// Consent log (append-only)
// ===========================================================================

// AppendConsent records a consent event. There is no update or delete
// path for consent records by design of the data model.
func (s *Store) AppendConsent(ctx context.Context, c ConsentRecord) error {
	if err := ValidateConsent(c); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "append consent", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM consent_records WHERE id = ?", c.ID).Scan(&exists)
		if err == nil {
			return fmt.Errorf("consent record %s: %w", c.ID, ErrAlreadyExists)
		}
		if err != sql.ErrNoRows {
			return abortErr("append consent", err)
		}

		if c.Timestamp.IsZero() {
			c.Timestamp = time.Now().UTC()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO consent_records (id, kind, accepted, ts) VALUES (?, ?, ?, ?)
		`, c.ID, string(c.Kind), boolToInt(c.Accepted), millis(c.Timestamp))
		if err != nil {
			return abortErr("append consent", err)
		}
		return nil
	})
}

// GetConsent returns one consent record by id.
func (s *Store) GetConsent(ctx context.Context, id string) (ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c ConsentRecord
	var accepted int
	var ts int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, kind, accepted, ts FROM consent_records WHERE id = ?", id).
		Scan(&c.ID, (*string)(&c.Kind), &accepted, &ts)
	if err == sql.ErrNoRows {
		return ConsentRecord{}, fmt.Errorf("consent record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ConsentRecord{}, fmt.Errorf("get consent: %w", err)
	}
	c.Accepted = accepted != 0
	c.Timestamp = fromMillis(ts)
	return c, nil
}

// GetAllConsent returns the full consent log, oldest first.
func (s *Store) GetAllConsent(ctx context.Context) ([]ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryConsent(ctx,
		"SELECT id, kind, accepted, ts FROM consent_records ORDER BY ts, id")
}

// GetConsentSince returns consent records at or after t, using the
// timestamp index.
func (s *Store) GetConsentSince(ctx context.Context, t time.Time) ([]ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryConsent(ctx,
		"SELECT id, kind, accepted, ts FROM consent_records WHERE ts >= ? ORDER BY ts, id",
		millis(t))
}

func (s *Store) queryConsent(ctx context.Context, query string, args ...any) ([]ConsentRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query consent: %w", err)
	}
	defer rows.Close()

	var out []ConsentRecord
	for rows.Next() {
		var c ConsentRecord
		var accepted int
		var ts int64
		if err := rows.Scan(&c.ID, (*string)(&c.Kind), &accepted, &ts); err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		c.Accepted = accepted != 0
		c.Timestamp = fromMillis(ts)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ===========================================================================
// Sync boundaries
// ===========================================================================

// GetSyncBoundary reads a layer's boundary toggle. Layers with no
// persisted row default to false: nothing leaves the device until the
// user explicitly allows it.
func (s *Store) GetSyncBoundary(ctx context.Context, layer Layer) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var allowed int
	err := s.db.QueryRowContext(ctx,
		"SELECT allowed FROM sync_boundaries WHERE layer = ?", string(layer)).Scan(&allowed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get sync boundary: %w", err)
	}
	return allowed != 0, nil
}

// SetSyncBoundary persists a layer's boundary toggle. Takes effect for
// every subsequent sync decision; it never retracts data already sent.
func (s *Store) SetSyncBoundary(ctx context.Context, layer Layer, allowed bool) error {
	if !layer.Valid() {
		return &ValidationError{Code: CodeInvalidEnumValue, Field: "layer", Message: fmt.Sprintf("%s is not a valid layer", layer)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "set sync boundary", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sync_boundaries (layer, allowed, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(layer) DO UPDATE SET
				allowed = excluded.allowed,
				updated_at = excluded.updated_at
		`, string(layer), boolToInt(allowed), millis(time.Now().UTC()))
		if err != nil {
			return abortErr("set sync boundary", err)
		}
		return nil
	})
}

// GetAllSyncBoundaries returns the toggle for every known layer,
// including unset layers at their false default.
func (s *Store) GetAllSyncBoundaries(ctx context.Context) ([]SyncBoundary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	persisted := make(map[Layer]SyncBoundary)
	rows, err := s.db.QueryContext(ctx, "SELECT layer, allowed, updated_at FROM sync_boundaries")
	if err != nil {
		return nil, fmt.Errorf("query sync boundaries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b SyncBoundary
		var allowed int
		var updatedAt int64
		if err := rows.Scan((*string)(&b.Layer), &allowed, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan sync boundary: %w", err)
		}
		b.Allowed = allowed != 0
		b.UpdatedAt = fromMillis(updatedAt)
		persisted[b.Layer] = b
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]SyncBoundary, 0, len(Layers()))
	for _, layer := range Layers() {
		if b, ok := persisted[layer]; ok {
			out = append(out, b)
		} else {
			out = append(out, SyncBoundary{Layer: layer, Allowed: false})
		}
	}
	return out, nil
}
