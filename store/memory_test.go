package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Seednode/undercover/game"
)

func seedState() game.State {
	return game.State{
		Players: []game.Player{
			{ID: 0, Name: "alpha", WordType: game.WordNormal},
			{ID: 1, Name: "beta", WordType: game.WordNormal},
			{ID: 2, Name: "gamma", WordType: game.WordSimilar},
		},
		GameMode:    game.ModeSingleSuspect,
		VotingPhase: true,
	}
}

func TestMemoryStoreGetUnknownRoom(t *testing.T) {
	m := NewMemoryStore()

	if _, err := m.Get(context.Background(), "nope"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestMemoryStoreApplyUnknownRoom(t *testing.T) {
	m := NewMemoryStore()

	_, err := m.Apply(context.Background(), "nope", func(s game.State) (game.State, error) {
		return s, nil
	})
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestMemoryStoreApplyPersistsTransition(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if err := m.Put(ctx, "room", seedState()); err != nil {
		t.Fatalf("put: %v", err)
	}

	next, err := m.Apply(ctx, "room", game.ActivateVoting)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !next.VotingActivated {
		t.Fatalf("transition result not returned")
	}

	got, err := m.Get(ctx, "room")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.VotingActivated || got.VotingRound != 1 {
		t.Fatalf("transition not persisted: %+v", got)
	}
}

func TestMemoryStoreApplyErrorLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if err := m.Put(ctx, "room", seedState()); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Voting is not activated, so a cast must fail and write nothing.
	cur, err := m.Apply(ctx, "room", func(s game.State) (game.State, error) {
		return game.CastVote(s, 0, 1, "")
	})
	if !errors.Is(err, game.ErrNotActivated) {
		t.Fatalf("expected ErrNotActivated, got %v", err)
	}
	if cur.VotingActivated {
		t.Fatalf("error path returned mutated state")
	}

	got, _ := m.Get(ctx, "room")
	if p, _ := got.Player(1); p.Votes != 0 {
		t.Fatalf("failed intent was persisted: %+v", p)
	}
}

// Concurrent writers must never lose an update: the version check forces
// the losing writer to re-read and re-apply.
func TestMemoryStoreApplyConcurrentWritersNoLostUpdates(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if err := m.Put(ctx, "room", seedState()); err != nil {
		t.Fatalf("put: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Apply(ctx, "room", func(s game.State) (game.State, error) {
				next := s.Clone()
				next.VotingRound++
				return next, nil
			})
			if err != nil {
				t.Errorf("apply: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := m.Get(ctx, "room")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.VotingRound != writers {
		t.Fatalf("voting round = %d, want %d (lost updates)", got.VotingRound, writers)
	}
}

func TestMemoryStoreDeleteIdle(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if err := m.Put(ctx, "stale", seedState()); err != nil {
		t.Fatalf("put: %v", err)
	}

	reaped, err := m.DeleteIdle(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("delete idle: %v", err)
	}
	if reaped != 1 {
		t.Fatalf("reaped = %d, want 1", reaped)
	}
	if _, err := m.Get(ctx, "stale"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound after reap, got %v", err)
	}
}
