package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const threadCols = "id, title, member_ids, tags, created_at, updated_at"

// ThreadIndex names a secondary index usable with GetThreadsByIndex.
type ThreadIndex string

// ThreadByCreated selects threads created at or after a time.Time.
const ThreadByCreated ThreadIndex = "created_at"

// AddThread validates and inserts a new thread. Membership is
// authoritative on the thread: each member reflection's thread reference
// is set inside the same transaction.
func (s *Store) AddThread(ctx context.Context, t Thread) error {
	if err := ValidateThread(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "add thread", func(tx *sql.Tx) error {
		if err := checkThreadRefs(t, txRefs(ctx, tx)); err != nil {
			return err
		}

		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM threads WHERE id = ?", t.ID).Scan(&exists)
		if err == nil {
			return fmt.Errorf("thread %s: %w", t.ID, ErrAlreadyExists)
		}
		if err != sql.ErrNoRows {
			return abortErr("add thread", err)
		}

		now := time.Now().UTC()
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = t.CreatedAt
		}

		members, err := marshalJSON(t.MemberIDs, false)
		if err != nil {
			return err
		}
		tags, err := marshalJSON(t.Tags, len(t.Tags) == 0)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO threads (id, title, member_ids, tags, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, t.ID, t.Title, members, tags, millis(t.CreatedAt), millis(t.UpdatedAt))
		if err != nil {
			return abortErr("add thread", err)
		}

		if err := claimMembers(ctx, tx, t.ID, t.MemberIDs); err != nil {
			return err
		}
		s.log.Debug("thread added", zap.String("id", t.ID), zap.Int("members", len(t.MemberIDs)))
		return nil
	})
}

// GetThread returns a copy of one thread.
func (s *Store) GetThread(ctx context.Context, id string) (Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+threadCols+" FROM threads WHERE id = ?", id)
	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return Thread{}, fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Thread{}, fmt.Errorf("get thread: %w", err)
	}
	return t, nil
}

// GetAllThreads returns every thread ordered by creation time.
func (s *Store) GetAllThreads(ctx context.Context) ([]Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryThreads(ctx, "SELECT "+threadCols+" FROM threads ORDER BY created_at, id")
}

// GetThreadsByIndex resolves an indexed query over threads.
func (s *Store) GetThreadsByIndex(ctx context.Context, index ThreadIndex, value any) ([]Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch index {
	case ThreadByCreated:
		t, ok := value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("index %s wants time.Time, got %T", index, value)
		}
		return s.queryThreads(ctx,
			"SELECT "+threadCols+" FROM threads WHERE created_at >= ? ORDER BY created_at, id",
			millis(t))
	default:
		return nil, fmt.Errorf("unknown thread index %q", index)
	}
}

// UpdateThread replaces the stored thread wholesale. Members removed
// from the list are orphaned (thread reference cleared); members added
// are claimed, all in one transaction.
func (s *Store) UpdateThread(ctx context.Context, t Thread) error {
	if err := ValidateThread(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "update thread", func(tx *sql.Tx) error {
		if err := checkThreadRefs(t, txRefs(ctx, tx)); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, "SELECT "+threadCols+" FROM threads WHERE id = ?", t.ID)
		prev, err := scanThread(row)
		if err == sql.ErrNoRows {
			return fmt.Errorf("thread %s: %w", t.ID, ErrNotFound)
		}
		if err != nil {
			return abortErr("update thread", err)
		}

		t.CreatedAt = prev.CreatedAt
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = time.Now().UTC()
		}

		members, err := marshalJSON(t.MemberIDs, false)
		if err != nil {
			return err
		}
		tags, err := marshalJSON(t.Tags, len(t.Tags) == 0)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE threads SET title = ?, member_ids = ?, tags = ?, updated_at = ?
			WHERE id = ?
		`, t.Title, members, tags, millis(t.UpdatedAt), t.ID)
		if err != nil {
			return abortErr("update thread", err)
		}

		kept := make(map[string]struct{}, len(t.MemberIDs))
		for _, id := range t.MemberIDs {
			kept[id] = struct{}{}
		}
		for _, id := range prev.MemberIDs {
			if _, ok := kept[id]; ok {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE reflections SET thread_id = NULL WHERE id = ?", id); err != nil {
				return abortErr("orphan member", err)
			}
		}
		return claimMembers(ctx, tx, t.ID, t.MemberIDs)
	})
}

// DeleteThread removes a thread and orphans its member reflections
// (thread reference set to null). Orphaning is the default because an
// irreversible cascade conflicts with export-before-delete; use
// DeleteThreadCascade when the members should go too.
func (s *Store) DeleteThread(ctx context.Context, id string) error {
	return s.deleteThread(ctx, id, false)
}

// DeleteThreadCascade removes a thread and every member reflection.
func (s *Store) DeleteThreadCascade(ctx context.Context, id string) error {
	return s.deleteThread(ctx, id, true)
}

func (s *Store) deleteThread(ctx context.Context, id string, cascade bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "delete thread", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM threads WHERE id = ?", id).Scan(&exists)
		if err == sql.ErrNoRows {
			return fmt.Errorf("thread %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return abortErr("delete thread", err)
		}

		if cascade {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM reflections WHERE thread_id = ?", id); err != nil {
				return abortErr("cascade members", err)
			}
		} else {
			if _, err := tx.ExecContext(ctx,
				"UPDATE reflections SET thread_id = NULL WHERE thread_id = ?", id); err != nil {
				return abortErr("orphan members", err)
			}
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM threads WHERE id = ?", id); err != nil {
			return abortErr("delete thread", err)
		}
		s.log.Debug("thread deleted", zap.String("id", id), zap.Bool("cascade", cascade))
		return nil
	})
}

// ---------------------------------------------------------------------------

func (s *Store) queryThreads(ctx context.Context, query string, args ...any) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	var out []Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanThread(row rowScanner) (Thread, error) {
	var t Thread
	var members, tags sql.NullString
	var createdAt, updatedAt int64

	if err := row.Scan(&t.ID, &t.Title, &members, &tags, &createdAt, &updatedAt); err != nil {
		return Thread{}, err
	}
	if err := unmarshalJSON(members, &t.MemberIDs); err != nil {
		return Thread{}, err
	}
	if err := unmarshalJSON(tags, &t.Tags); err != nil {
		return Thread{}, err
	}
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return t, nil
}

// claimMembers points each member reflection at the owning thread. A
// member moving in from another thread is scrubbed from that thread's
// member list in the same transaction, so membership stays consistent
// from both sides.
func claimMembers(ctx context.Context, tx *sql.Tx, threadID string, memberIDs []string) error {
	for _, id := range memberIDs {
		var prev sql.NullString
		err := tx.QueryRowContext(ctx,
			"SELECT thread_id FROM reflections WHERE id = ?", id).Scan(&prev)
		if err != nil {
			return abortErr("claim member", err)
		}
		if prev.Valid && prev.String != "" && prev.String != threadID {
			if err := dropThreadMember(ctx, tx, prev.String, id); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE reflections SET thread_id = ? WHERE id = ?", threadID, id); err != nil {
			return abortErr("claim member", err)
		}
	}
	return nil
}

// dropThreadMember removes one reflection from one thread's member list.
func dropThreadMember(ctx context.Context, tx *sql.Tx, threadID, reflectionID string) error {
	row := tx.QueryRowContext(ctx, "SELECT "+threadCols+" FROM threads WHERE id = ?", threadID)
	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return abortErr("load previous thread", err)
	}

	kept := t.MemberIDs[:0]
	for _, id := range t.MemberIDs {
		if id != reflectionID {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(t.MemberIDs) {
		return nil
	}
	members, err := marshalJSON(kept, false)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE threads SET member_ids = ?, updated_at = ? WHERE id = ?",
		members, millis(time.Now().UTC()), threadID); err != nil {
		return abortErr("scrub member", err)
	}
	return nil
}

// removeThreadMember scrubs a deleted reflection from every member list.
func removeThreadMember(ctx context.Context, tx *sql.Tx, reflectionID string) error {
	rows, err := tx.QueryContext(ctx, "SELECT "+threadCols+" FROM threads")
	if err != nil {
		return abortErr("scan threads", err)
	}
	defer rows.Close()

	var dirty []Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return abortErr("scan thread", err)
		}
		for _, id := range t.MemberIDs {
			if id == reflectionID {
				dirty = append(dirty, t)
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return abortErr("scan threads", err)
	}

	for _, t := range dirty {
		kept := t.MemberIDs[:0]
		for _, id := range t.MemberIDs {
			if id != reflectionID {
				kept = append(kept, id)
			}
		}
		members, err := marshalJSON(kept, false)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE threads SET member_ids = ?, updated_at = ? WHERE id = ?",
			members, millis(time.Now().UTC()), t.ID); err != nil {
			return abortErr("scrub member", err)
		}
	}
	return nil
}
