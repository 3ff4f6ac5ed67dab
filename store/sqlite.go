package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Seednode/undercover/game"
	_ "modernc.org/sqlite"
)

const roomsSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	state BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);`

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// SQLiteStore persists room state in a single SQLite file, one row per
// room. The version column backs the conditional writes Apply depends on.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the
// schema exists.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.Exec(roomsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create rooms table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, roomID string) (game.State, error) {
	state, _, err := s.get(ctx, roomID)
	return state, err
}

func (s *SQLiteStore) get(ctx context.Context, roomID string) (game.State, uint64, error) {
	var (
		blob    []byte
		version uint64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT state, version FROM rooms WHERE id = ?`, roomID,
	).Scan(&blob, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return game.State{}, 0, ErrRoomNotFound
	}
	if err != nil {
		return game.State{}, 0, fmt.Errorf("read room %q: %w", roomID, err)
	}

	var state game.State
	if err := json.Unmarshal(blob, &state); err != nil {
		return game.State{}, 0, fmt.Errorf("decode room %q: %w", roomID, err)
	}

	return state, version, nil
}

func (s *SQLiteStore) Put(ctx context.Context, roomID string, state game.State) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode room %q: %w", roomID, err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO rooms (id, version, state, updated_at) VALUES (?, 1, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	version = version + 1,
	state = excluded.state,
	updated_at = excluded.updated_at`,
		roomID, blob, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("write room %q: %w", roomID, err)
	}

	return nil
}

func (s *SQLiteStore) Apply(ctx context.Context, roomID string, fn IntentFunc) (game.State, error) {
	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return game.State{}, err
		}

		cur, version, err := s.get(ctx, roomID)
		if err != nil {
			return game.State{}, err
		}

		next, err := fn(cur)
		if err != nil {
			return cur, err
		}

		blob, err := json.Marshal(next)
		if err != nil {
			return game.State{}, fmt.Errorf("encode room %q: %w", roomID, err)
		}

		res, err := s.db.ExecContext(ctx, `
UPDATE rooms SET version = ?, state = ?, updated_at = ?
WHERE id = ? AND version = ?`,
			version+1, blob, toMillis(time.Now()), roomID, version)
		if err != nil {
			return game.State{}, fmt.Errorf("write room %q: %w", roomID, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return game.State{}, fmt.Errorf("write room %q: %w", roomID, err)
		}
		if affected == 0 {
			// Version moved under us; re-read and re-apply.
			continue
		}

		return next, nil
	}

	return game.State{}, fmt.Errorf("apply intent to room %q: %w", roomID, ErrConflict)
}

func (s *SQLiteStore) Delete(ctx context.Context, roomID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, roomID); err != nil {
		return fmt.Errorf("delete room %q: %w", roomID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rooms WHERE updated_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete idle rooms: %w", err)
	}
	return res.RowsAffected()
}
