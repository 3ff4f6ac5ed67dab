package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Seednode/undercover/game"
)

func openTestDB(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := OpenSQLite(filepath.Join(t.TempDir(), "rooms.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	if _, err := s.Get(ctx, "room"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}

	if err := s.Put(ctx, "room", seedState()); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(ctx, "room")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Players) != 3 || got.GameMode != game.ModeSingleSuspect {
		t.Fatalf("state did not round-trip: %+v", got)
	}

	next, err := s.Apply(ctx, "room", game.ActivateVoting)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !next.VotingActivated {
		t.Fatalf("transition result not returned")
	}

	got, err = s.Get(ctx, "room")
	if err != nil {
		t.Fatalf("get after apply: %v", err)
	}
	if !got.VotingActivated || got.VotingRound != 1 {
		t.Fatalf("transition not persisted: %+v", got)
	}

	if err := s.Delete(ctx, "room"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "room"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound after delete, got %v", err)
	}
}

func TestSQLiteStoreApplyErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)
	if err := s.Put(ctx, "room", seedState()); err != nil {
		t.Fatalf("put: %v", err)
	}

	_, err := s.Apply(ctx, "room", func(st game.State) (game.State, error) {
		return game.CastVote(st, 0, 1, "")
	})
	if !errors.Is(err, game.ErrNotActivated) {
		t.Fatalf("expected ErrNotActivated, got %v", err)
	}

	got, _ := s.Get(ctx, "room")
	if p, _ := got.Player(1); p.Votes != 0 {
		t.Fatalf("failed intent was persisted: %+v", p)
	}
}

func TestSQLiteStorePutBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	if err := s.Put(ctx, "room", seedState()); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, v1, err := s.get(ctx, "room")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if err := s.Put(ctx, "room", seedState()); err != nil {
		t.Fatalf("second put: %v", err)
	}
	_, v2, err := s.get(ctx, "room")
	if err != nil {
		t.Fatalf("get after second put: %v", err)
	}

	if v2 != v1+1 {
		t.Fatalf("version = %d after %d, want increment", v2, v1)
	}
}

func TestSQLiteStoreDeleteIdle(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	if err := s.Put(ctx, "stale", seedState()); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "fresh", seedState()); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Backdate one room past the cutoff.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET updated_at = ? WHERE id = ?`,
		toMillis(time.Now().Add(-time.Hour)), "stale"); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	reaped, err := s.DeleteIdle(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("delete idle: %v", err)
	}
	if reaped != 1 {
		t.Fatalf("reaped = %d, want 1", reaped)
	}

	if _, err := s.Get(ctx, "stale"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("stale room survived the reap")
	}
	if _, err := s.Get(ctx, "fresh"); err != nil {
		t.Fatalf("fresh room was reaped: %v", err)
	}
}
