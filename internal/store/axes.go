package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const axisCols = "id, label, value, color, created_at, updated_at"

// AddIdentityAxis validates and inserts a new identity axis.
func (s *Store) AddIdentityAxis(ctx context.Context, a IdentityAxis) error {
	if err := ValidateIdentityAxis(a); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "add identity axis", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM identity_axes WHERE id = ?", a.ID).Scan(&exists)
		if err == nil {
			return fmt.Errorf("identity axis %s: %w", a.ID, ErrAlreadyExists)
		}
		if err != sql.ErrNoRows {
			return abortErr("add identity axis", err)
		}

		now := time.Now().UTC()
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = a.CreatedAt
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO identity_axes (id, label, value, color, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, a.ID, a.Label, a.Value, a.Color, millis(a.CreatedAt), millis(a.UpdatedAt))
		if err != nil {
			return abortErr("add identity axis", err)
		}
		return nil
	})
}

// GetIdentityAxis returns a copy of one axis.
func (s *Store) GetIdentityAxis(ctx context.Context, id string) (IdentityAxis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+axisCols+" FROM identity_axes WHERE id = ?", id)
	a, err := scanAxis(row)
	if err == sql.ErrNoRows {
		return IdentityAxis{}, fmt.Errorf("identity axis %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return IdentityAxis{}, fmt.Errorf("get identity axis: %w", err)
	}
	return a, nil
}

// GetAllIdentityAxes returns every axis ordered by label.
func (s *Store) GetAllIdentityAxes(ctx context.Context) ([]IdentityAxis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+axisCols+" FROM identity_axes ORDER BY label, id")
	if err != nil {
		return nil, fmt.Errorf("query identity axes: %w", err)
	}
	defer rows.Close()

	var out []IdentityAxis
	for rows.Next() {
		a, err := scanAxis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity axis: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateIdentityAxis replaces the stored axis wholesale.
func (s *Store) UpdateIdentityAxis(ctx context.Context, a IdentityAxis) error {
	if err := ValidateIdentityAxis(a); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "update identity axis", func(tx *sql.Tx) error {
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = time.Now().UTC()
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE identity_axes SET label = ?, value = ?, color = ?, updated_at = ?
			WHERE id = ?
		`, a.Label, a.Value, a.Color, millis(a.UpdatedAt), a.ID)
		if err != nil {
			return abortErr("update identity axis", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return abortErr("update identity axis", err)
		}
		if n == 0 {
			return fmt.Errorf("identity axis %s: %w", a.ID, ErrNotFound)
		}
		return nil
	})
}

// DeleteIdentityAxis removes one axis. Reflections referencing it keep
// the back-reference cleared in the same transaction; the axis never
// owned them.
func (s *Store) DeleteIdentityAxis(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "delete identity axis", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM identity_axes WHERE id = ?", id)
		if err != nil {
			return abortErr("delete identity axis", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return abortErr("delete identity axis", err)
		}
		if n == 0 {
			return fmt.Errorf("identity axis %s: %w", id, ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE reflections SET identity_axis_id = NULL WHERE identity_axis_id = ?", id); err != nil {
			return abortErr("clear axis references", err)
		}
		return nil
	})
}

func scanAxis(row rowScanner) (IdentityAxis, error) {
	var a IdentityAxis
	var value, color sql.NullString
	var createdAt, updatedAt int64

	if err := row.Scan(&a.ID, &a.Label, &value, &color, &createdAt, &updatedAt); err != nil {
		return IdentityAxis{}, err
	}
	if value.Valid {
		a.Value = value.String
	}
	if color.Valid {
		a.Color = color.String
	}
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	return a, nil
}
