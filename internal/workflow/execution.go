package workflow

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// ExecutionStatus is the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	// ExecutionRunning is in progress, including runs suspended for
	// human input: suspension is not a terminal state, and the same
	// record continues when the answer arrives.
	ExecutionRunning ExecutionStatus = "running"

	// ExecutionCompleted finished normally.
	ExecutionCompleted ExecutionStatus = "completed"

	// ExecutionFailed hit an error. The session may still retry.
	ExecutionFailed ExecutionStatus = "failed"

	// ExecutionCancelled was abandoned while waiting for input,
	// typically because the session was completed first.
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Execution is the audit record of one workflow run. A run that
// suspends for human input keeps its record open; resumes append to the
// same Path, so the record spans the whole chain of turns until a
// terminal status is set exactly once.
type Execution struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Status    ExecutionStatus `json:"status"`

	// Intent the run resolved, once known.
	Intent string `json:"intent,omitempty"`

	// Input is the user message or feedback payload that triggered the
	// run.
	Input string `json:"input,omitempty"`

	// Path is the ordered list of node IDs the run visited.
	Path []string `json:"path"`

	// Output is the composed reply for completed runs.
	Output string `json:"output,omitempty"`

	// Error holds the failure message for failed runs.
	Error string `json:"error,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// newExecution starts a running execution record.
func newExecution(sessionID, input string) *Execution {
	return &Execution{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Input:     input,
		Status:    ExecutionRunning,
		StartedAt: time.Now().UTC(),
	}
}

// Cancel abandons an execution waiting on input.
func (e *Execution) Cancel() {
	e.finish(ExecutionCancelled, "")
}

func (e *Execution) finish(status ExecutionStatus, errMsg string) {
	now := time.Now().UTC()
	e.Status = status
	e.Error = errMsg
	e.FinishedAt = &now
}

// ErrExecutionNotFound means no execution exists with the given ID.
var ErrExecutionNotFound = errors.New("execution not found")

// ExecutionStore persists workflow execution records.
type ExecutionStore interface {
	Save(e *Execution) error
	Get(id string) (*Execution, error)
	ListBySession(sessionID string) ([]*Execution, error)
	Close() error
}

// MemoryExecutionStore is an in-memory execution store.
type MemoryExecutionStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	ids  []string // insertion order
}

// NewMemoryExecutionStore creates an empty in-memory store.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{data: make(map[string][]byte)}
}

// Save implements ExecutionStore. Saving an existing ID overwrites it.
func (m *MemoryExecutionStore) Save(e *Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, exists := m.data[e.ID]; !exists {
		m.ids = append(m.ids, e.ID)
	}
	m.data[e.ID] = data
	return nil
}

// Get implements ExecutionStore.
func (m *MemoryExecutionStore) Get(id string) (*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.data[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	var e Execution
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListBySession implements ExecutionStore, in insertion order.
func (m *MemoryExecutionStore) ListBySession(sessionID string) ([]*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var execs []*Execution
	for _, id := range m.ids {
		var e Execution
		if err := json.Unmarshal(m.data[id], &e); err != nil {
			return nil, err
		}
		if e.SessionID == sessionID {
			execs = append(execs, &e)
		}
	}
	return execs, nil
}

// Close implements ExecutionStore.
func (m *MemoryExecutionStore) Close() error {
	return nil
}

// SQLiteExecutionStore persists executions to SQLite.
type SQLiteExecutionStore struct {
	db     *sql.DB
	shared bool
}

const executionSchema = `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		status TEXT NOT NULL,
		data BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_executions_session ON executions(session_id);
`

// NewSQLiteExecutionStore opens (or creates) an execution store at path.
func NewSQLiteExecutionStore(path string) (*SQLiteExecutionStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(executionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteExecutionStore{db: db}, nil
}

// NewSQLiteExecutionStoreDB wraps an existing database handle.
// The caller retains ownership of the handle; Close is a no-op on it.
func NewSQLiteExecutionStoreDB(db *sql.DB) (*SQLiteExecutionStore, error) {
	if _, err := db.Exec(executionSchema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteExecutionStore{db: db, shared: true}, nil
}

// Save implements ExecutionStore.
func (s *SQLiteExecutionStore) Save(e *Execution) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode execution: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO executions (id, session_id, status, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			data = excluded.data
	`, e.ID, e.SessionID, string(e.Status), data)
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

// Get implements ExecutionStore.
func (s *SQLiteExecutionStore) Get(id string) (*Execution, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM executions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load execution: %w", err)
	}
	var e Execution
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode execution: %w", err)
	}
	return &e, nil
}

// ListBySession implements ExecutionStore, oldest first.
func (s *SQLiteExecutionStore) ListBySession(sessionID string) ([]*Execution, error) {
	rows, err := s.db.Query(`
		SELECT data FROM executions WHERE session_id = ? ORDER BY rowid
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		var e Execution
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode execution: %w", err)
		}
		execs = append(execs, &e)
	}
	return execs, rows.Err()
}

// Close implements ExecutionStore.
func (s *SQLiteExecutionStore) Close() error {
	if s.shared {
		return nil
	}
	return s.db.Close()
}
