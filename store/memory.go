package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Seednode/undercover/game"
)

type memoryRecord struct {
	state     game.State
	version   uint64
	updatedAt time.Time
}

// MemoryStore keeps room state in process memory. It enforces the same
// versioned-write contract as the durable store, so the Apply retry path is
// exercised identically in tests and in --db="" deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]memoryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]memoryRecord),
	}
}

func (m *MemoryStore) Get(ctx context.Context, roomID string) (game.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.rooms[roomID]
	if !ok {
		return game.State{}, ErrRoomNotFound
	}
	return rec.state.Clone(), nil
}

func (m *MemoryStore) Put(ctx context.Context, roomID string, s game.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.rooms[roomID]
	m.rooms[roomID] = memoryRecord{
		state:     s.Clone(),
		version:   rec.version + 1,
		updatedAt: time.Now(),
	}
	return nil
}

func (m *MemoryStore) Apply(ctx context.Context, roomID string, fn IntentFunc) (game.State, error) {
	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return game.State{}, err
		}

		m.mu.RLock()
		rec, ok := m.rooms[roomID]
		m.mu.RUnlock()
		if !ok {
			return game.State{}, ErrRoomNotFound
		}

		cur := rec.state.Clone()
		next, err := fn(cur)
		if err != nil {
			return cur, err
		}

		m.mu.Lock()
		latest, ok := m.rooms[roomID]
		if !ok {
			m.mu.Unlock()
			return game.State{}, ErrRoomNotFound
		}
		if latest.version != rec.version {
			// Someone else wrote first; re-read and re-apply.
			m.mu.Unlock()
			continue
		}
		m.rooms[roomID] = memoryRecord{
			state:     next.Clone(),
			version:   rec.version + 1,
			updatedAt: time.Now(),
		}
		m.mu.Unlock()

		return next, nil
	}

	return game.State{}, fmt.Errorf("apply intent to room %q: %w", roomID, ErrConflict)
}

func (m *MemoryStore) Delete(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.rooms, roomID)
	return nil
}

func (m *MemoryStore) DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var reaped int64
	for id, rec := range m.rooms {
		if rec.updatedAt.Before(cutoff) {
			delete(m.rooms, id)
			reaped++
		}
	}
	return reaped, nil
}
