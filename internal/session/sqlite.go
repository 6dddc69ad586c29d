package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists sessions to SQLite. Status, user and expiry are
// stored as columns for querying; the full session is a JSON blob.
type SQLiteStore struct {
	db     *sql.DB
	shared bool
}

const sessionSchema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		data BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
`

// NewSQLiteStore opens (or creates) a session store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(sessionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStoreDB wraps an existing database handle.
// The caller retains ownership of the handle; Close is a no-op on it.
func NewSQLiteStoreDB(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(sessionSchema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db, shared: true}, nil
}

// Create implements Store.
func (s *SQLiteStore) Create(sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, user_id, status, expires_at, data)
		VALUES (?, ?, ?, ?, ?)
	`, sess.ID, sess.UserID, string(sess.Status), sess.ExpiresAt.Format(time.RFC3339Nano), data)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(id string) (*Session, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM sessions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// Update implements Store.
// The terminal-status guard runs in the same statement as the write, so
// concurrent updaters cannot revive a finished session.
func (s *SQLiteStore) Update(sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	res, err := s.db.Exec(`
		UPDATE sessions
		SET user_id = ?, status = ?, expires_at = ?, data = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed', 'expired')
	`, sess.UserID, string(sess.Status), sess.ExpiresAt.Format(time.RFC3339Nano), data, sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if affected == 0 {
		var status string
		err := s.db.QueryRow(`SELECT status FROM sessions WHERE id = ?`, sess.ID).Scan(&status)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		return ErrTerminal
	}
	return nil
}

// ListByUser implements Store.
func (s *SQLiteStore) ListByUser(userID string) ([]*Session, error) {
	rows, err := s.db.Query(`SELECT data FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// ExpireStale implements Store.
func (s *SQLiteStore) ExpireStale(now time.Time) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT id, data FROM sessions
		WHERE status IN ('active', 'waiting_human_input') AND expires_at < ?
	`, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query stale sessions: %w", err)
	}
	defer rows.Close()

	type stale struct {
		id   string
		sess Session
	}
	var found []stale
	for rows.Next() {
		var st stale
		var data []byte
		if err := rows.Scan(&st.id, &data); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if err := json.Unmarshal(data, &st.sess); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		found = append(found, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var expired []string
	for _, st := range found {
		st.sess.Status = StatusExpired
		if err := s.Update(&st.sess); err != nil {
			// Lost a race with a concurrent terminal transition.
			continue
		}
		expired = append(expired, st.id)
	}
	return expired, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.shared {
		return nil
	}
	return s.db.Close()
}

// isUniqueViolation detects a primary key conflict without depending on
// driver-specific error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
