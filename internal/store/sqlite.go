package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/grim-sudo/Automation/internal/conversation"
	"github.com/grim-sudo/Automation/internal/logging"
)

// SQLiteStore keeps snapshots in a SQLite database.
//
// Each row holds one serialized conversation.Context. Rows are never updated;
// a new checkpoint always gets a new id.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSQLiteStore")
	defer timer.Stop()

	logging.Store("Opening snapshot store at %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		turn_index INTEGER NOT NULL,
		context_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session_id, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create snapshots table: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Save serializes c into a new row.
func (s *SQLiteStore) Save(ctx context.Context, c *conversation.Context) (string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Save")
	defer timer.Stop()

	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode context: %w", err)
	}
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, session_id, turn_index, context_json, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, c.SessionID, c.TurnIndex, string(data), time.Now().UnixNano(),
	)
	if err != nil {
		logging.StoreError("Failed to save snapshot: session=%s turn=%d: %v", c.SessionID, c.TurnIndex, err)
		return "", err
	}
	logging.StoreDebug("Saved snapshot %s: session=%s turn=%d bytes=%d", id, c.SessionID, c.TurnIndex, len(data))
	return id, nil
}

// Load decodes the snapshot with the given id.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*conversation.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT context_json FROM snapshots WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		logging.StoreError("Failed to load snapshot %s: %v", id, err)
		return nil, err
	}

	c := &conversation.Context{}
	if err := json.Unmarshal([]byte(data), c); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", id, err)
	}
	logging.StoreDebug("Loaded snapshot %s: session=%s turn=%d", id, c.SessionID, c.TurnIndex)
	return c, nil
}

// List returns snapshot metadata for a session, newest first.
func (s *SQLiteStore) List(ctx context.Context, sessionID string) ([]SnapshotInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, turn_index, created_at
		 FROM snapshots
		 WHERE session_id = ?
		 ORDER BY created_at DESC, rowid DESC`,
		sessionID,
	)
	if err != nil {
		logging.StoreError("Failed to list snapshots for %s: %v", sessionID, err)
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var created int64
		if err := rows.Scan(&info.ID, &info.SessionID, &info.Turn, &created); err != nil {
			return nil, err
		}
		info.CreatedAt = time.Unix(0, created)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
