// Package creds stores tracker credentials per user in SQLite. Secrets are
// sealed with XChaCha20-Poly1305 under a process key; only the tracker
// client factory ever sees the decrypted value.
package creds

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	_ "modernc.org/sqlite" // SQLite driver

	"ticketpilot/pkg/logx"
	"ticketpilot/pkg/ticket"
)

// ErrNoCredential is returned when a user has no credential for a tracker.
var ErrNoCredential = errors.New("no credential for tracker")

// Store is a SQLite-backed credential store.
type Store struct {
	db     *sql.DB
	aead   cipher.AEAD
	logger *logx.Logger
}

// KeyFromHex decodes a 32-byte sealing key from its hex form in config.
func KeyFromHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode credential key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("credential key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

// Open opens (or creates) the credential database at path, sealing secrets
// under key.
func Open(path string, key []byte) (*Store, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init credential cipher: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open credential database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping credential database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS credentials (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		tracker    TEXT NOT NULL,
		domain     TEXT NOT NULL,
		email      TEXT NOT NULL DEFAULT '',
		secret     BLOB NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (user_id, tracker)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create credential schema: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db, aead: aead, logger: logx.NewLogger("creds")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close credential database: %w", err)
	}
	return nil
}

func (s *Store) seal(secret string) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, []byte(secret), nil), nil
}

func (s *Store) unseal(blob []byte) (string, error) {
	if len(blob) < s.aead.NonceSize() {
		return "", fmt.Errorf("sealed secret too short")
	}
	nonce, sealed := blob[:s.aead.NonceSize()], blob[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("unseal secret: %w", err)
	}
	return string(plain), nil
}

// Put stores a credential, replacing any existing one for the same user and
// tracker. Returns the credential ID.
func (s *Store) Put(ctx context.Context, cred ticket.Credential) (string, error) {
	if cred.UserID == "" || cred.Tracker == "" || cred.Secret == "" {
		return "", fmt.Errorf("credential requires user, tracker, and secret")
	}
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	sealed, err := s.seal(cred.Secret)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO credentials (id, user_id, tracker, domain, email, secret, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, tracker) DO UPDATE SET
			domain = excluded.domain,
			email = excluded.email,
			secret = excluded.secret`,
		cred.ID, cred.UserID, string(cred.Tracker), cred.Domain, cred.Email,
		sealed, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("store credential for user %s: %w", cred.UserID, err)
	}
	s.logger.Info("stored %s credential for user %s", cred.Tracker, cred.UserID)
	return cred.ID, nil
}

// Get returns a user's credential for a tracker with the secret decrypted.
func (s *Store) Get(ctx context.Context, userID string, tracker ticket.TrackerType) (ticket.Credential, error) {
	var cred ticket.Credential
	var trackerStr string
	var sealed []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, tracker, domain, email, secret
		   FROM credentials
		  WHERE user_id = ? AND tracker = ?`,
		userID, string(tracker),
	).Scan(&cred.ID, &cred.UserID, &trackerStr, &cred.Domain, &cred.Email, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return ticket.Credential{}, fmt.Errorf("user %s, tracker %s: %w", userID, tracker, ErrNoCredential)
	}
	if err != nil {
		return ticket.Credential{}, fmt.Errorf("load credential for user %s: %w", userID, err)
	}

	cred.Tracker = ticket.TrackerType(trackerStr)
	cred.Secret, err = s.unseal(sealed)
	if err != nil {
		return ticket.Credential{}, fmt.Errorf("credential for user %s: %w", userID, err)
	}
	return cred, nil
}

// List returns a user's credentials with secrets redacted.
func (s *Store) List(ctx context.Context, userID string) ([]ticket.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, tracker, domain, email
		   FROM credentials
		  WHERE user_id = ?
		  ORDER BY tracker`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list credentials for user %s: %w", userID, err)
	}
	defer rows.Close() //nolint:errcheck // read-side close

	var creds []ticket.Credential
	for rows.Next() {
		var cred ticket.Credential
		var trackerStr string
		if err := rows.Scan(&cred.ID, &cred.UserID, &trackerStr, &cred.Domain, &cred.Email); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		cred.Tracker = ticket.TrackerType(trackerStr)
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return creds, nil
}

// Delete removes a user's credential for a tracker.
func (s *Store) Delete(ctx context.Context, userID string, tracker ticket.TrackerType) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE user_id = ? AND tracker = ?`,
		userID, string(tracker),
	)
	if err != nil {
		return fmt.Errorf("delete credential for user %s: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete credential for user %s: %w", userID, err)
	}
	if affected == 0 {
		return fmt.Errorf("user %s, tracker %s: %w", userID, tracker, ErrNoCredential)
	}
	return nil
}
