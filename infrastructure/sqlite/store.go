// Package sqlite is a ports.StateStore backed by a SQLite database, so
// durable object state survives module rebuilds and process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	"github.com/reglet-dev/reglet-workers/domain/ports"
)

var _ ports.StateStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS object_state (
	class TEXT NOT NULL,
	object_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value BLOB NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (class, object_id, key)
);
`

// Store keeps object state in one table keyed by (class, object id, key).
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer; also keeps a :memory: database on a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Get implements ports.StateStore.
func (s *Store) Get(ctx context.Context, h entities.StateHandle, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM object_state WHERE class = ? AND object_id = ? AND key = ?`,
		h.Class, h.ID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", h.Class, key, err)
	}
	return value, true, nil
}

// Put implements ports.StateStore.
func (s *Store) Put(ctx context.Context, h entities.StateHandle, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO object_state (class, object_id, key, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (class, object_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, h.Class, h.ID, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", h.Class, key, err)
	}
	return nil
}

// Delete implements ports.StateStore.
func (s *Store) Delete(ctx context.Context, h entities.StateHandle, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM object_state WHERE class = ? AND object_id = ? AND key = ?`,
		h.Class, h.ID, key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", h.Class, key, err)
	}
	return nil
}

// List implements ports.StateStore.
func (s *Store) List(ctx context.Context, h entities.StateHandle, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM object_state
		WHERE class = ? AND object_id = ? AND key LIKE ? ESCAPE '\'
		ORDER BY key
	`, h.Class, h.ID, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", h.Class, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close implements ports.StateStore.
func (s *Store) Close() error {
	return s.db.Close()
}

func likePrefix(p string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(p) + "%"
}
