// Package store persists one game state per room and guards every mutation
// with a conditional write: Apply re-reads, re-applies, and retries whenever
// another writer got in first, so a concurrently cast vote is never silently
// dropped by a last-writer-wins overwrite.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Seednode/undercover/game"
)

var (
	// ErrRoomNotFound means the room has ended or expired; clients stop
	// polling when they see it.
	ErrRoomNotFound = errors.New("room not found")

	// ErrConflict is a version-check failure during a conditional write.
	// Apply retries these internally; callers only see it once the retry
	// budget is exhausted.
	ErrConflict = errors.New("conflicting write")
)

// maxApplyAttempts bounds the read-apply-write retry loop. Conflicts are
// rare at party-game rates, so a handful of retries is plenty.
const maxApplyAttempts = 10

// IntentFunc derives the next game state from the current one. It must be
// pure: Apply may call it several times before a write sticks.
type IntentFunc func(game.State) (game.State, error)

// RoomStateStore holds the authoritative game state for each room.
type RoomStateStore interface {
	// Get returns the current state for a room.
	Get(ctx context.Context, roomID string) (game.State, error)

	// Put writes a state unconditionally, creating the room if needed.
	// Only room setup uses this; every in-game mutation goes through
	// Apply.
	Put(ctx context.Context, roomID string, s game.State) error

	// Apply runs fn against the current state and writes the result back
	// only if no other write landed in between, retrying on conflict.
	// When fn fails, the current state is returned alongside the error
	// and nothing is written.
	Apply(ctx context.Context, roomID string, fn IntentFunc) (game.State, error)

	// Delete removes a room.
	Delete(ctx context.Context, roomID string) error

	// DeleteIdle removes every room not written to since cutoff and
	// reports how many went away.
	DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error)
}
