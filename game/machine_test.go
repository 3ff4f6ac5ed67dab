package game

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

// testState builds a state in the voting phase with one player per word
// type, ids 0..n-1 in turn order.
func testState(mode Mode, types ...WordType) State {
	players := make([]Player, len(types))
	for i, wt := range types {
		players[i] = Player{
			ID:       i,
			Name:     fmt.Sprintf("player-%d", i),
			WordType: wt,
		}
	}
	return State{
		Players:     players,
		GameMode:    mode,
		VotingPhase: true,
	}
}

func mustActivate(t *testing.T, s State) State {
	t.Helper()
	next, err := ActivateVoting(s)
	if err != nil {
		t.Fatalf("activate voting: %v", err)
	}
	return next
}

func mustCast(t *testing.T, s State, voter, target int, kind BallotKind) State {
	t.Helper()
	next, err := CastVote(s, voter, target, kind)
	if err != nil {
		t.Fatalf("cast vote %d -> %d: %v", voter, target, err)
	}
	return next
}

func TestActivateVotingStartsRound(t *testing.T) {
	s := testState(ModeSingleSuspect, WordNormal, WordNormal, WordSimilar)
	s.Players[0].Votes = 3
	s.Players[0].HasVoted = true

	next := mustActivate(t, s)

	if !next.VotingActivated {
		t.Errorf("expected voting activated")
	}
	if next.VotingRound != 1 {
		t.Errorf("voting round = %d, want 1", next.VotingRound)
	}
	if next.CurrentVotingPlayerIndex != 0 {
		t.Errorf("turn index = %d, want 0", next.CurrentVotingPlayerIndex)
	}
	if next.Players[0].Votes != 0 || next.Players[0].HasVoted {
		t.Errorf("expected per-round vote fields reset, got %+v", next.Players[0])
	}
}

func TestActivateVotingTwiceFails(t *testing.T) {
	s := mustActivate(t, testState(ModeSingleSuspect, WordNormal, WordNormal, WordSimilar))

	if _, err := ActivateVoting(s); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestActivateVotingOutsideVotingPhaseFails(t *testing.T) {
	s := testState(ModeSingleSuspect, WordNormal, WordNormal, WordSimilar)
	s.VotingPhase = false

	if _, err := ActivateVoting(s); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCastVoteRequiresActivation(t *testing.T) {
	s := testState(ModeSingleSuspect, WordNormal, WordNormal, WordSimilar)

	if _, err := CastVote(s, 0, 1, ""); !errors.Is(err, ErrNotActivated) {
		t.Fatalf("expected ErrNotActivated, got %v", err)
	}
}

func TestCastVoteOutOfTurn(t *testing.T) {
	s := mustActivate(t, testState(ModeSingleSuspect, WordNormal, WordNormal, WordSimilar))

	next, err := CastVote(s, 1, 0, "")
	if !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}
	if !reflect.DeepEqual(next, s) {
		t.Errorf("out-of-turn vote mutated state")
	}
}

func TestCastVoteUnknownVoterRejected(t *testing.T) {
	s := mustActivate(t, testState(ModeSingleSuspect, WordNormal, WordNormal, WordSimilar))

	if _, err := CastVote(s, 99, 0, ""); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}
}

func TestCastVoteInvalidTarget(t *testing.T) {
	s := testState(ModeSingleSuspect, WordNormal, WordNormal, WordNormal, WordSimilar)
	s.Players[2].IsEliminated = true
	s = mustActivate(t, s)

	for _, target := range []int{2, 42} {
		if _, err := CastVote(s, 0, target, ""); !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("target %d: expected ErrInvalidTarget, got %v", target, err)
		}
	}
}

func TestCastVoteRecordsBallotAndAdvances(t *testing.T) {
	s := mustActivate(t, testState(ModeSingleSuspect, WordNormal, WordNormal, WordSimilar))

	s = mustCast(t, s, 0, 1, "")

	p, _ := s.Player(0)
	if p.VotedFor == nil || *p.VotedFor != 1 {
		t.Errorf("ballot not recorded: %+v", p)
	}
	if !p.HasVoted {
		t.Errorf("expected hasVoted after single ballot")
	}
	target, _ := s.Player(1)
	if target.Votes != 1 {
		t.Errorf("target votes = %d, want 1", target.Votes)
	}
	if s.CurrentVotingPlayerIndex != 1 {
		t.Errorf("turn index = %d, want 1", s.CurrentVotingPlayerIndex)
	}
}

func TestCastVoteDuplicateBallot(t *testing.T) {
	s := mustActivate(t, testState(ModeMixed, WordNormal, WordNormal, WordSimilar, WordImposter))

	s = mustCast(t, s, 0, 1, BallotImposter)

	if _, err := CastVote(s, 0, 2, BallotImposter); !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}
}

func TestMixedModeRequiresBothBallots(t *testing.T) {
	s := mustActivate(t, testState(ModeMixed, WordNormal, WordNormal, WordSimilar, WordImposter))

	s = mustCast(t, s, 0, 3, BallotImposter)
	if s.CurrentVotingPlayerIndex != 0 {
		t.Fatalf("turn advanced after one of two ballots")
	}
	if p, _ := s.Player(0); p.HasVoted {
		t.Fatalf("hasVoted set after one of two ballots")
	}

	s = mustCast(t, s, 0, 2, BallotOtherWord)
	if s.CurrentVotingPlayerIndex != 1 {
		t.Fatalf("turn did not advance after both ballots")
	}
	if p, _ := s.Player(0); !p.HasVoted {
		t.Fatalf("hasVoted not set after both ballots")
	}
}

func TestMixedModeUnknownBallotKind(t *testing.T) {
	s := mustActivate(t, testState(ModeMixed, WordNormal, WordNormal, WordSimilar, WordImposter))

	if _, err := CastVote(s, 0, 1, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestSkipVoteAdvancesWithoutCounting(t *testing.T) {
	s := mustActivate(t, testState(ModeSingleSuspect, WordNormal, WordNormal, WordSimilar))

	next, err := SkipVote(s, 0, "")
	if err != nil {
		t.Fatalf("skip vote: %v", err)
	}

	p, _ := next.Player(0)
	if p.VotedFor == nil || *p.VotedFor != SkipMarker {
		t.Errorf("expected explicit skip marker, got %+v", p.VotedFor)
	}
	if !p.HasVoted {
		t.Errorf("expected hasVoted after skip")
	}
	if next.CurrentVotingPlayerIndex != 1 {
		t.Errorf("turn index = %d, want 1", next.CurrentVotingPlayerIndex)
	}
	for _, q := range next.Players {
		if q.Votes != 0 {
			t.Errorf("skip credited a target: %+v", q)
		}
	}
}

// The four-player sequential round: votes 0->1, 1->2, 2->0, 3->0 eliminate
// player 0 with two votes, and the turn pointer walks off the end of the
// active view.
func TestSequentialRoundScenario(t *testing.T) {
	s := mustActivate(t, testState(ModeSingleSuspect, WordNormal, WordNormal, WordNormal, WordSimilar))

	votes := [][2]int{{0, 1}, {1, 2}, {2, 0}, {3, 0}}
	for _, v := range votes {
		s = mustCast(t, s, v[0], v[1], "")
	}

	if s.CurrentVotingPlayerIndex != 4 {
		t.Errorf("turn index = %d, want 4", s.CurrentVotingPlayerIndex)
	}
	if !AllVoted(s) {
		t.Fatalf("expected all voted")
	}

	total := 0
	for _, p := range s.Players {
		total += p.Votes
	}
	if total != len(votes) {
		t.Errorf("ballot conservation violated: sum of votes = %d, want %d", total, len(votes))
	}

	s, err := CalculateResult(s)
	if err != nil {
		t.Fatalf("calculate result: %v", err)
	}

	if s.EliminatedPlayer == nil {
		t.Fatalf("expected an elimination")
	}
	if s.EliminatedPlayer.PlayerID != 0 || s.EliminatedPlayer.Votes != 2 {
		t.Errorf("eliminated = %+v, want player 0 with 2 votes", s.EliminatedPlayer)
	}
	if !s.WrongElimination || s.GameCompleted {
		t.Errorf("eliminating a normal-word player should continue the game")
	}

	// Racing clients may all trigger the result; repeats must be no-ops.
	again, err := CalculateResult(s)
	if err != nil {
		t.Fatalf("repeat calculate result: %v", err)
	}
	if !reflect.DeepEqual(again, s) {
		t.Errorf("repeated calculate result changed the outcome")
	}
}

func TestCalculateResultBeforeAllVoted(t *testing.T) {
	s := mustActivate(t, testState(ModeSingleSuspect, WordNormal, WordNormal, WordSimilar))
	s = mustCast(t, s, 0, 1, "")

	if _, err := CalculateResult(s); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestWinConditions(t *testing.T) {
	cases := []struct {
		name          string
		target        WordType
		wantCompleted bool
		wantWrong     bool
	}{
		{"imposter eliminated", WordImposter, true, false},
		{"similar eliminated", WordSimilar, true, false},
		{"normal eliminated", WordNormal, false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := mustActivate(t, testState(ModeSingleSuspect, WordNormal, tc.target, WordNormal))
			s = mustCast(t, s, 0, 1, "")
			s = mustCast(t, s, 1, 0, "")
			s = mustCast(t, s, 2, 1, "")

			s, err := CalculateResult(s)
			if err != nil {
				t.Fatalf("calculate result: %v", err)
			}

			if s.GameCompleted != tc.wantCompleted {
				t.Errorf("gameCompleted = %v, want %v", s.GameCompleted, tc.wantCompleted)
			}
			if s.WrongElimination != tc.wantWrong {
				t.Errorf("wrongElimination = %v, want %v", s.WrongElimination, tc.wantWrong)
			}
			if p, _ := s.Player(1); !p.IsEliminated {
				t.Errorf("target not marked eliminated")
			}
		})
	}
}

func TestTieBreakRestrictsPools(t *testing.T) {
	s := mustActivate(t, testState(ModeSingleSuspect, WordNormal, WordNormal, WordNormal, WordSimilar))
	s = mustCast(t, s, 0, 1, "")
	s = mustCast(t, s, 1, 0, "")
	s = mustCast(t, s, 2, 0, "")
	s = mustCast(t, s, 3, 1, "")

	s, err := CalculateResult(s)
	if err != nil {
		t.Fatalf("calculate result: %v", err)
	}
	if !s.IsTie {
		t.Fatalf("expected a tie between players 0 and 1, got %+v", s)
	}
	if !reflect.DeepEqual(s.TiedPlayers, []int{0, 1}) {
		t.Fatalf("tied players = %v, want [0 1]", s.TiedPlayers)
	}

	// Casting while the tie is pending is blocked until a revote.
	if _, err := CastVote(s, 0, 1, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition while tie pending, got %v", err)
	}

	s, err = Revote(s, s.TiedPlayers)
	if err != nil {
		t.Fatalf("revote: %v", err)
	}
	if s.VotingActivated {
		t.Fatalf("revote should require reactivation")
	}
	if s.IsTie {
		t.Fatalf("revote should consume the tie flag")
	}

	s = mustActivate(t, s)

	// Non-tied players are spectators for the sub-round.
	if _, err := CastVote(s, 2, 0, ""); !errors.Is(err, ErrNotYourTurn) {
		t.Errorf("spectator vote: expected ErrNotYourTurn, got %v", err)
	}
	if _, err := CastVote(s, 0, 2, ""); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("spectator target: expected ErrInvalidTarget, got %v", err)
	}

	s = mustCast(t, s, 0, 1, "")
	s = mustCast(t, s, 1, 1, "")

	s, err = CalculateResult(s)
	if err != nil {
		t.Fatalf("tie-break calculate result: %v", err)
	}
	if s.EliminatedPlayer == nil || s.EliminatedPlayer.PlayerID != 1 {
		t.Fatalf("expected player 1 eliminated, got %+v", s.EliminatedPlayer)
	}
	if s.TiedPlayers != nil {
		t.Errorf("tie scope should clear after elimination")
	}
}

func TestRevoteRejectsEliminatedIDs(t *testing.T) {
	s := testState(ModeSingleSuspect, WordNormal, WordNormal, WordSimilar)
	s.Players[1].IsEliminated = true

	if _, err := Revote(s, []int{0, 1}); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestContinueAfterElimination(t *testing.T) {
	s := mustActivate(t, testState(ModeSingleSuspect, WordNormal, WordNormal, WordNormal, WordSimilar))
	s = mustCast(t, s, 0, 1, "")
	s = mustCast(t, s, 1, 0, "")
	s = mustCast(t, s, 2, 0, "")
	s = mustCast(t, s, 3, 0, "")

	s, err := CalculateResult(s)
	if err != nil {
		t.Fatalf("calculate result: %v", err)
	}
	if !s.WrongElimination {
		t.Fatalf("expected wrong elimination, got %+v", s)
	}

	s, err = ContinueAfterElimination(s)
	if err != nil {
		t.Fatalf("continue after elimination: %v", err)
	}

	if s.EliminatedPlayer != nil || s.WrongElimination {
		t.Errorf("outcome not cleared: %+v", s)
	}
	if p, _ := s.Player(0); !p.IsEliminated {
		t.Errorf("elimination must be append-only")
	}
	if s.VotingActivated {
		t.Errorf("continuation should require reactivation")
	}
	if got := s.ActivePlayers(); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Errorf("active players = %v, want [1 2 3]", got)
	}

	// Next round runs among the remaining three; the eliminated seat never
	// reappears as voter or target.
	s = mustActivate(t, s)
	if _, err := CastVote(s, 0, 1, ""); !errors.Is(err, ErrNotYourTurn) {
		t.Errorf("eliminated voter: expected ErrNotYourTurn, got %v", err)
	}
	if _, err := CastVote(s, 1, 0, ""); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("eliminated target: expected ErrInvalidTarget, got %v", err)
	}
}

func TestContinueWithoutEliminationFails(t *testing.T) {
	s := testState(ModeSingleSuspect, WordNormal, WordNormal, WordSimilar)

	if _, err := ContinueAfterElimination(s); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}
