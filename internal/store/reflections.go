package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const reflectionCols = `id, content, encrypted, layer, modality, thread_id,
	identity_axis_id, tags, visible, metadata, rev, created_at, updated_at`

// ReflectionIndex names a secondary index usable with
// GetReflectionsByIndex.
type ReflectionIndex string

const (
	ReflectionByCreated    ReflectionIndex = "created_at"
	ReflectionByThread     ReflectionIndex = "thread_id"
	ReflectionByLayer      ReflectionIndex = "layer"
	ReflectionByVisibility ReflectionIndex = "visible"
)

// AddReflection validates and inserts a new reflection. Fails with
// ErrAlreadyExists if the identifier is present and ValidationError if
// the record is malformed or references a missing thread or axis.
func (s *Store) AddReflection(ctx context.Context, r Reflection) error {
	if err := ValidateReflection(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "add reflection", func(tx *sql.Tx) error {
		if err := checkReflectionRefs(r, txRefs(ctx, tx)); err != nil {
			return err
		}

		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM reflections WHERE id = ?", r.ID).Scan(&exists)
		if err == nil {
			return fmt.Errorf("reflection %s: %w", r.ID, ErrAlreadyExists)
		}
		if err != sql.ErrNoRows {
			return abortErr("add reflection", err)
		}

		if r.Rev == 0 {
			r.Rev = 1
		}
		if err := execInsertReflection(ctx, tx, r); err != nil {
			return abortErr("add reflection", err)
		}
		s.log.Debug("reflection added", zap.String("id", r.ID), zap.String("layer", string(r.Layer)))
		return nil
	})
}

// GetReflection returns a copy of one reflection.
func (s *Store) GetReflection(ctx context.Context, id string) (Reflection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+reflectionCols+" FROM reflections WHERE id = ?", id)
	r, err := scanReflection(row)
	if err == sql.ErrNoRows {
		return Reflection{}, fmt.Errorf("reflection %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Reflection{}, fmt.Errorf("get reflection: %w", err)
	}
	return r, nil
}

// GetAllReflections returns every reflection ordered by creation time.
func (s *Store) GetAllReflections(ctx context.Context) ([]Reflection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryReflections(ctx,
		"SELECT "+reflectionCols+" FROM reflections ORDER BY created_at, id")
}

// GetReflectionsByIndex resolves an indexed query. Supported pairs:
// created_at with a time.Time (records created at or after the value),
// thread_id with a string, layer with a Layer, visible with a bool.
func (s *Store) GetReflectionsByIndex(ctx context.Context, index ReflectionIndex, value any) ([]Reflection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	base := "SELECT " + reflectionCols + " FROM reflections WHERE %s ORDER BY created_at, id"
	switch index {
	case ReflectionByCreated:
		t, ok := value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("index %s wants time.Time, got %T", index, value)
		}
		return s.queryReflections(ctx, fmt.Sprintf(base, "created_at >= ?"), millis(t))
	case ReflectionByThread:
		id, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("index %s wants string, got %T", index, value)
		}
		return s.queryReflections(ctx, fmt.Sprintf(base, "thread_id = ?"), id)
	case ReflectionByLayer:
		layer, ok := value.(Layer)
		if !ok {
			return nil, fmt.Errorf("index %s wants Layer, got %T", index, value)
		}
		return s.queryReflections(ctx, fmt.Sprintf(base, "layer = ?"), string(layer))
	case ReflectionByVisibility:
		v, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("index %s wants bool, got %T", index, value)
		}
		return s.queryReflections(ctx, fmt.Sprintf(base, "visible = ?"), boolToInt(v))
	default:
		return nil, fmt.Errorf("unknown reflection index %q", index)
	}
}

// GetUnthreadedReflections returns reflections with no owning thread,
// oldest first. Read path for thread discovery.
func (s *Store) GetUnthreadedReflections(ctx context.Context) ([]Reflection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryReflections(ctx,
		"SELECT "+reflectionCols+` FROM reflections
		 WHERE thread_id IS NULL OR thread_id = '' ORDER BY created_at, id`)
}

// UpdateReflection replaces the stored record wholesale and bumps its
// revision. Partial field writes do not exist; callers read, modify the
// copy, and submit the whole record. Fails with ErrNotFound if the id is
// missing.
func (s *Store) UpdateReflection(ctx context.Context, r Reflection) error {
	if err := ValidateReflection(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "update reflection", func(tx *sql.Tx) error {
		if err := checkReflectionRefs(r, txRefs(ctx, tx)); err != nil {
			return err
		}

		var rev int64
		var createdAt int64
		err := tx.QueryRowContext(ctx,
			"SELECT rev, created_at FROM reflections WHERE id = ?", r.ID).Scan(&rev, &createdAt)
		if err == sql.ErrNoRows {
			return fmt.Errorf("reflection %s: %w", r.ID, ErrNotFound)
		}
		if err != nil {
			return abortErr("update reflection", err)
		}

		// Revision and creation time are engine-owned.
		r.Rev = rev + 1
		r.CreatedAt = fromMillis(createdAt)
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = time.Now().UTC()
		}

		tags, err := marshalJSON(r.Tags, len(r.Tags) == 0)
		if err != nil {
			return err
		}
		meta, err := marshalJSON(r.Metadata, len(r.Metadata) == 0)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE reflections SET content = ?, encrypted = ?, layer = ?, modality = ?,
				thread_id = ?, identity_axis_id = ?, tags = ?, visible = ?, metadata = ?,
				rev = ?, updated_at = ?
			WHERE id = ?
		`, r.Content, boolToInt(r.Encrypted), string(r.Layer), r.Modality,
			nullStr(r.ThreadID), nullStr(r.IdentityAxisID), tags, boolToInt(r.Visible), meta,
			r.Rev, millis(r.UpdatedAt), r.ID)
		if err != nil {
			return abortErr("update reflection", err)
		}
		s.log.Debug("reflection updated", zap.String("id", r.ID), zap.Int64("rev", r.Rev))
		return nil
	})
}

// DeleteReflection removes one reflection and scrubs it from any thread
// member list in the same transaction. Fails with ErrNotFound if the id
// is missing, so callers can detect lost deletes.
func (s *Store) DeleteReflection(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "delete reflection", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM reflections WHERE id = ?", id)
		if err != nil {
			return abortErr("delete reflection", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return abortErr("delete reflection", err)
		}
		if n == 0 {
			return fmt.Errorf("reflection %s: %w", id, ErrNotFound)
		}
		if err := removeThreadMember(ctx, tx, id); err != nil {
			return err
		}
		s.log.Debug("reflection deleted", zap.String("id", id))
		return nil
	})
}

// ---------------------------------------------------------------------------

func execInsertReflection(ctx context.Context, tx *sql.Tx, r Reflection) error {
	tags, err := marshalJSON(r.Tags, len(r.Tags) == 0)
	if err != nil {
		return err
	}
	meta, err := marshalJSON(r.Metadata, len(r.Metadata) == 0)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reflections (id, content, encrypted, layer, modality, thread_id,
			identity_axis_id, tags, visible, metadata, rev, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Content, boolToInt(r.Encrypted), string(r.Layer), r.Modality,
		nullStr(r.ThreadID), nullStr(r.IdentityAxisID), tags, boolToInt(r.Visible), meta,
		r.Rev, millis(r.CreatedAt), millis(r.UpdatedAt))
	return err
}

func (s *Store) queryReflections(ctx context.Context, query string, args ...any) ([]Reflection, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reflections: %w", err)
	}
	defer rows.Close()

	var out []Reflection
	for rows.Next() {
		r, err := scanReflection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reflection: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReflection(row rowScanner) (Reflection, error) {
	var r Reflection
	var encrypted, visible int
	var threadID, axisID, tags, meta sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&r.ID, &r.Content, &encrypted, (*string)(&r.Layer), &r.Modality,
		&threadID, &axisID, &tags, &visible, &meta, &r.Rev, &createdAt, &updatedAt)
	if err != nil {
		return Reflection{}, err
	}

	r.Encrypted = encrypted != 0
	r.Visible = visible != 0
	if threadID.Valid {
		r.ThreadID = threadID.String
	}
	if axisID.Valid {
		r.IdentityAxisID = axisID.String
	}
	if err := unmarshalJSON(tags, &r.Tags); err != nil {
		return Reflection{}, err
	}
	if err := unmarshalJSON(meta, &r.Metadata); err != nil {
		return Reflection{}, err
	}
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	return r, nil
}

// txRefs builds referential checks bound to the current transaction.
func txRefs(ctx context.Context, tx *sql.Tx) refCheck {
	exists := func(table string) func(string) (bool, error) {
		return func(id string) (bool, error) {
			var one int
			err := tx.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&one)
			if err == sql.ErrNoRows {
				return false, nil
			}
			if err != nil {
				return false, abortErr("check reference", err)
			}
			return true, nil
		}
	}
	return refCheck{
		threadExists: exists("threads"),
		axisExists:   exists("identity_axes"),
		memberExists: exists("reflections"),
	}
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
