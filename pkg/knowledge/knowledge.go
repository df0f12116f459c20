// Package knowledge stores retrievable documentation snippets in SQLite and
// serves full-text queries over them via FTS5.
package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"ticketpilot/pkg/logx"
	"ticketpilot/pkg/proto"
)

// ErrDocumentNotFound is returned when deleting a document that does not
// exist.
var ErrDocumentNotFound = errors.New("document not found")

// DefaultLimit bounds a retrieval when the caller does not set one.
const DefaultLimit = 5

// Store is a SQLite FTS5-backed document store.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (or creates) the knowledge database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open knowledge database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping knowledge database: %w", err)
	}
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db, logger: logx.NewLogger("knowledge")}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id         TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		source     TEXT NOT NULL DEFAULT '',
		content    TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_project ON documents (project_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
		content,
		content='documents',
		content_rowid='rowid'
	);

	CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
		INSERT INTO documents_fts (rowid, content) VALUES (new.rowid, new.content);
	END;

	CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
		INSERT INTO documents_fts (documents_fts, rowid, content)
			VALUES ('delete', old.rowid, old.content);
	END;

	CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
		INSERT INTO documents_fts (documents_fts, rowid, content)
			VALUES ('delete', old.rowid, old.content);
		INSERT INTO documents_fts (rowid, content) VALUES (new.rowid, new.content);
	END;
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create knowledge schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close knowledge database: %w", err)
	}
	return nil
}

// Add indexes a document under a project. An empty ID is assigned one.
func (s *Store) Add(ctx context.Context, projectID string, doc proto.Document) (string, error) {
	if doc.Content == "" {
		return "", fmt.Errorf("document content cannot be empty")
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, project_id, source, content, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			source = excluded.source,
			content = excluded.content`,
		doc.ID, projectID, doc.Source, doc.Content, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("index document %s: %w", doc.ID, err)
	}
	return doc.ID, nil
}

// AddBatch indexes documents under a project in one transaction and returns
// their ids. Either all documents are indexed or none are.
func (s *Store) AddBatch(ctx context.Context, projectID string, docs []proto.Document) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.Content == "" {
			return nil, fmt.Errorf("document content cannot be empty")
		}
		if doc.ID == "" {
			doc.ID = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, project_id, source, content, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
				source = excluded.source,
				content = excluded.content`,
			doc.ID, projectID, doc.Source, doc.Content, time.Now().UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return nil, fmt.Errorf("index document %s: %w", doc.ID, err)
		}
		ids = append(ids, doc.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	s.logger.Info("indexed %d documents for project %s", len(ids), projectID)
	return ids, nil
}

// Delete removes a document from the index.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if affected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// DeleteProject removes every document indexed under a project. Deleting a
// project with no documents is a no-op.
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("delete project %s documents: %w", projectID, err)
	}
	return nil
}

// Retrieve returns the documents best matching the query for a project,
// ranked by FTS5 relevance. An empty query or empty index yields an empty
// result, never an error.
func (s *Store) Retrieve(ctx context.Context, projectID, query string, limit int) ([]proto.Document, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	ftsQuery := buildMatchQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.source, d.content
		   FROM documents_fts f
		   JOIN documents d ON d.rowid = f.rowid
		  WHERE documents_fts MATCH ?
		    AND d.project_id = ?
		  ORDER BY bm25(documents_fts)
		  LIMIT ?`,
		ftsQuery, projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("full-text query failed: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-side close

	var docs []proto.Document
	for rows.Next() {
		var doc proto.Document
		if err := rows.Scan(&doc.ID, &doc.Source, &doc.Content); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// buildMatchQuery turns free text into an OR-joined FTS5 match expression.
// Terms are quoted so user input cannot inject FTS syntax.
func buildMatchQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}
