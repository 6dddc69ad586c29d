package feedback

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists feedback requests to SQLite.
type SQLiteStore struct {
	db     *sql.DB
	shared bool
}

const feedbackSchema = `
	CREATE TABLE IF NOT EXISTS feedback_requests (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		status TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		data BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_session ON feedback_requests(session_id, status);
`

// NewSQLiteStore opens (or creates) a feedback store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(feedbackSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStoreDB wraps an existing database handle.
// The caller retains ownership of the handle; Close is a no-op on it.
func NewSQLiteStoreDB(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(feedbackSchema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db, shared: true}, nil
}

// Create implements Store.
func (s *SQLiteStore) Create(r *Request) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO feedback_requests (id, session_id, status, expires_at, data)
		VALUES (?, ?, ?, ?, ?)
	`, r.ID, r.SessionID, string(r.Status), r.ExpiresAt.Format(time.RFC3339Nano), data)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(id string) (*Request, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM feedback_requests WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load request: %w", err)
	}
	return decode(data)
}

// Update implements Store.
func (s *SQLiteStore) Update(r *Request) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	res, err := s.db.Exec(`
		UPDATE feedback_requests
		SET session_id = ?, status = ?, expires_at = ?, data = ?
		WHERE id = ?
	`, r.SessionID, string(r.Status), r.ExpiresAt.Format(time.RFC3339Nano), data, r.ID)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingBySession implements Store.
func (s *SQLiteStore) PendingBySession(sessionID string) (*Request, error) {
	var data []byte
	err := s.db.QueryRow(`
		SELECT data FROM feedback_requests
		WHERE session_id = ? AND status = 'pending'
		ORDER BY rowid DESC LIMIT 1
	`, sessionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNoPending
	}
	if err != nil {
		return nil, fmt.Errorf("load pending request: %w", err)
	}
	return decode(data)
}

// ListPendingExpired implements Store.
func (s *SQLiteStore) ListPendingExpired(now time.Time) ([]*Request, error) {
	rows, err := s.db.Query(`
		SELECT data FROM feedback_requests
		WHERE status = 'pending' AND expires_at < ?
	`, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query expired requests: %w", err)
	}
	defer rows.Close()

	var expired []*Request
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		r, err := decode(data)
		if err != nil {
			return nil, err
		}
		expired = append(expired, r)
	}
	return expired, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.shared {
		return nil
	}
	return s.db.Close()
}

func decode(data []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &r, nil
}
