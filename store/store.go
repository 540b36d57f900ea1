// Package store persists saved script situations in SQLite so deferred
// work survives a host restart.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/nwscript/pkg/bytecode"
	"github.com/chazu/nwscript/vm"
	"github.com/chazu/nwscript/vm/wire"
)

// ErrSituationNotFound indicates the requested situation doesn't exist.
var ErrSituationNotFound = errors.New("situation not found")

// Entry describes a stored situation without decoding it.
type Entry struct {
	ID     string
	Script string
	Object uint32
	DueMs  int64
}

// Store is a SQLite-backed situation table.
type Store struct {
	db    *sql.DB
	path  string
	codec wire.EngineCodec
	log   commonlog.Logger
	mu    sync.Mutex
}

// Open opens (creating if needed) the database at path. codec serializes
// engine structures and may be nil if scripts never hold any.
func Open(path string, codec wire.EngineCodec) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS situations (
		id TEXT PRIMARY KEY,
		script TEXT NOT NULL,
		object INTEGER NOT NULL,
		due_ms INTEGER NOT NULL,
		data BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{
		db:    db,
		path:  path,
		codec: codec,
		log:   commonlog.GetLogger("nwscript.store"),
	}, nil
}

// Path returns the database file.
func (st *Store) Path() string { return st.path }

// Close closes the database connection.
func (st *Store) Close() error {
	if st.db != nil {
		return st.db.Close()
	}
	return nil
}

// Save stores a situation due dueMs milliseconds after it is restored and
// returns its new id.
func (st *Store) Save(ctx context.Context, state *vm.SavedState, dueMs int64) (string, error) {
	data, err := wire.MarshalSavedState(state, st.codec)
	if err != nil {
		return "", fmt.Errorf("encoding situation: %w", err)
	}
	id := uuid.NewString()

	st.mu.Lock()
	defer st.mu.Unlock()
	_, err = st.db.ExecContext(ctx,
		"INSERT INTO situations (id, script, object, due_ms, data) VALUES (?, ?, ?, ?, ?)",
		id, state.Program.Name, int64(state.Self), dueMs, data,
	)
	if err != nil {
		return "", fmt.Errorf("saving situation: %w", err)
	}
	st.log.Debugf("saved situation %s (%s, %d bytes)", id, state.Program.Name, len(data))
	return id, nil
}

// Load decodes the situation with the given id. resolve maps the stored
// script name to a loaded program.
func (st *Store) Load(ctx context.Context, id string, resolve func(string) (*bytecode.Program, error)) (*vm.SavedState, int64, error) {
	var (
		data  []byte
		dueMs int64
	)
	err := st.db.QueryRowContext(ctx, "SELECT data, due_ms FROM situations WHERE id = ?", id).Scan(&data, &dueMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, fmt.Errorf("%w: %s", ErrSituationNotFound, id)
		}
		return nil, 0, fmt.Errorf("querying situation: %w", err)
	}
	state, err := wire.UnmarshalSavedState(data, resolve, st.codec)
	if err != nil {
		return nil, 0, fmt.Errorf("situation %s: %w", id, err)
	}
	return state, dueMs, nil
}

// Delete removes a situation.
func (st *Store) Delete(ctx context.Context, id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	res, err := st.db.ExecContext(ctx, "DELETE FROM situations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting situation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSituationNotFound, id)
	}
	return nil
}

// List returns every stored situation ordered by due time.
func (st *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := st.db.QueryContext(ctx, "SELECT id, script, object, due_ms FROM situations ORDER BY due_ms, id")
	if err != nil {
		return nil, fmt.Errorf("listing situations: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			object int64
		)
		if err := rows.Scan(&e.ID, &e.Script, &object, &e.DueMs); err != nil {
			return nil, fmt.Errorf("scanning situation: %w", err)
		}
		e.Object = uint32(object)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
