// Package store persists thread checkpoints in SQLite. Each thread owns a
// linear checkpoint history ordered by a store-assigned sequence number;
// loading a thread returns the latest checkpoint.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"ticketpilot/pkg/logx"
	"ticketpilot/pkg/proto"
)

// ErrNotFound is returned when a thread does not exist or is not owned by
// the requesting user. Callers cannot distinguish the two cases.
var ErrNotFound = errors.New("thread not found")

// Store is a SQLite-backed checkpoint store. It implements
// graph.CheckpointStore.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (or creates) the checkpoint database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping checkpoint database: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// SQLite supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("store")
	logger.Info("checkpoint database ready: %s", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close checkpoint database: %w", err)
	}
	return nil
}

// Save appends a checkpoint to the thread's history. The store assigns the
// next sequence number and writes it back into cp.
func (s *Store) Save(ctx context.Context, cp *proto.Checkpoint) error {
	if cp.Thread == nil {
		return fmt.Errorf("checkpoint for thread %s has no thread snapshot", cp.ThreadID)
	}
	blob, err := json.Marshal(cp.Thread)
	if err != nil {
		return fmt.Errorf("encode thread %s: %w", cp.ThreadID, err)
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE thread_id = ?`,
		cp.ThreadID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next checkpoint seq for thread %s: %w", cp.ThreadID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, seq, user_id, step, thread, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cp.ThreadID, seq, cp.UserID, cp.Step, string(blob), cp.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint for thread %s: %w", cp.ThreadID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint for thread %s: %w", cp.ThreadID, err)
	}

	cp.Seq = seq
	return nil
}

// Load returns the latest checkpoint for a thread.
func (s *Store) Load(ctx context.Context, threadID string) (*proto.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT thread_id, seq, user_id, step, thread, created_at
		   FROM checkpoints
		  WHERE thread_id = ?
		  ORDER BY seq DESC LIMIT 1`,
		threadID,
	)
	return scanCheckpoint(row)
}

// LoadOwned returns the latest checkpoint for a thread if userID owns it.
// A thread owned by someone else is indistinguishable from a missing one.
func (s *Store) LoadOwned(ctx context.Context, threadID, userID string) (*proto.Checkpoint, error) {
	cp, err := s.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if cp.UserID != userID {
		return nil, ErrNotFound
	}
	return cp, nil
}

// Owner returns the owning user of a thread.
func (s *Store) Owner(ctx context.Context, threadID string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM checkpoints WHERE thread_id = ? LIMIT 1`,
		threadID,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query thread %s owner: %w", threadID, err)
	}
	return owner, nil
}

// List returns summaries of a user's threads, most recently updated first.
func (s *Store) List(ctx context.Context, userID string) ([]proto.ThreadSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.thread_id, c.user_id, c.thread, c.created_at
		   FROM checkpoints c
		  INNER JOIN (
			SELECT thread_id, MAX(seq) AS max_seq
			  FROM checkpoints
			 WHERE user_id = ?
			 GROUP BY thread_id
		  ) latest ON c.thread_id = latest.thread_id AND c.seq = latest.max_seq
		  ORDER BY c.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list threads for user %s: %w", userID, err)
	}
	defer rows.Close() //nolint:errcheck // read-side close

	var summaries []proto.ThreadSummary
	for rows.Next() {
		var threadID, owner, blob, createdAt string
		if err := rows.Scan(&threadID, &owner, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scan thread summary: %w", err)
		}

		var th proto.Thread
		if err := json.Unmarshal([]byte(blob), &th); err != nil {
			return nil, fmt.Errorf("decode thread %s: %w", threadID, err)
		}
		updated, _ := time.Parse(time.RFC3339Nano, createdAt)

		summaries = append(summaries, proto.ThreadSummary{
			ID:        threadID,
			UserID:    owner,
			Title:     threadTitle(&th),
			Status:    th.Status,
			UpdatedAt: updated,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread summaries: %w", err)
	}
	return summaries, nil
}

// Delete removes a thread's entire checkpoint history. The delete is scoped
// to the owner; a mismatch reports ErrNotFound.
func (s *Store) Delete(ctx context.Context, threadID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE thread_id = ? AND user_id = ?`,
		threadID, userID,
	)
	if err != nil {
		return fmt.Errorf("delete thread %s: %w", threadID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete thread %s: %w", threadID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	s.logger.Info("deleted thread %s (%d checkpoints)", threadID, affected)
	return nil
}

// History returns all checkpoints for a thread in sequence order. Used by
// the operator CLI for inspection.
func (s *Store) History(ctx context.Context, threadID string) ([]proto.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id, seq, user_id, step, thread, created_at
		   FROM checkpoints
		  WHERE thread_id = ?
		  ORDER BY seq ASC`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("load history for thread %s: %w", threadID, err)
	}
	defer rows.Close() //nolint:errcheck // read-side close

	var history []proto.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, *cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history for thread %s: %w", threadID, err)
	}
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	return history, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*proto.Checkpoint, error) {
	var cp proto.Checkpoint
	var blob, createdAt string
	err := row.Scan(&cp.ThreadID, &cp.Seq, &cp.UserID, &cp.Step, &blob, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}

	var th proto.Thread
	if err := json.Unmarshal([]byte(blob), &th); err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", cp.ThreadID, err)
	}
	cp.Thread = &th
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &cp, nil
}

// threadTitle derives a listing title from the first human message.
func threadTitle(th *proto.Thread) string {
	for i := range th.Messages {
		if th.Messages[i].Role == proto.RoleHuman && th.Messages[i].Content != "" {
			title := th.Messages[i].Content
			if len(title) > 80 {
				title = title[:77] + "..."
			}
			return title
		}
	}
	return "(empty thread)"
}
