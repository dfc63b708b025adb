package usage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const usageTable = `CREATE TABLE IF NOT EXISTS usage (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	date  TEXT NOT NULL,
	count INTEGER NOT NULL
)`

// SQLiteStore keeps the state as a single row in a SQLite database.
type SQLiteStore struct {
	mu   sync.Mutex
	conn *sqlite.Conn
}

// OpenSQLite opens or creates the database at path. ":memory:" is accepted.
func OpenSQLite(path string) (*SQLiteStore, error) {
	flags := []sqlite.OpenFlags{sqlite.OpenReadWrite, sqlite.OpenCreate}
	if path == ":memory:" {
		flags = append(flags, sqlite.OpenMemory)
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create usage directory: %w", err)
	}

	conn, err := sqlite.OpenConn(path, flags...)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if err := sqlitex.ExecuteTransient(conn, usageTable, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create usage table: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

// Load reads the stored row. An empty table is an empty state.
func (s *SQLiteStore) Load(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state State
	err := sqlitex.Execute(s.conn, `SELECT date, count FROM usage WHERE id = 1`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			state.Date = stmt.ColumnText(0)
			state.Count = int(stmt.ColumnInt64(1))
			return nil
		}})
	if err != nil {
		return State{}, fmt.Errorf("failed to read usage: %w", err)
	}
	return state, nil
}

// Save upserts the row.
func (s *SQLiteStore) Save(ctx context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := sqlitex.Execute(s.conn,
		`INSERT INTO usage (id, date, count) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET date = excluded.date, count = excluded.count`,
		&sqlitex.ExecOptions{Args: []any{state.Date, state.Count}})
	if err != nil {
		return fmt.Errorf("failed to write usage: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}
