package game

import "errors"

// Recoverable transition failures. Callers map these to wire statuses; none
// of them mutate state.
var (
	ErrNotActivated      = errors.New("voting has not been activated")
	ErrNotYourTurn       = errors.New("not your turn to vote")
	ErrAlreadyVoted      = errors.New("ballot already resolved")
	ErrInvalidTarget     = errors.New("invalid vote target")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ActivateVoting opens a new voting round: clears every per-round vote
// field, rewinds the turn pointer, and bumps the round counter. Admin
// authorization is the caller's job; this only enforces machine legality.
func ActivateVoting(s State) (State, error) {
	if !s.VotingPhase || s.GameCompleted {
		return s, ErrInvalidTransition
	}
	if s.VotingActivated {
		return s, ErrInvalidTransition
	}
	// A pending outcome must be consumed (revote or continuation) before
	// a new round may start.
	if s.IsTie || s.EliminatedPlayer != nil {
		return s, ErrInvalidTransition
	}

	next := s.Clone()
	next.resetBallots()
	next.VotingActivated = true
	next.CurrentVotingPlayerIndex = 0
	next.VotingRound++

	return next, nil
}

// CastVote records one ballot for the current voter against targetID. In
// mixed mode kind selects which of the voter's two ballots this is; other
// modes ignore it. The turn pointer advances only once the voter's required
// ballots are all resolved.
func CastVote(s State, voterID, targetID int, kind BallotKind) (State, error) {
	next, slot, err := beginBallot(s, voterID, kind)
	if err != nil {
		return s, err
	}

	target := next.player(targetID)
	if target == nil || target.IsEliminated {
		return s, ErrInvalidTarget
	}
	if len(next.TiedPlayers) > 0 && !next.isTiedPlayer(targetID) {
		return s, ErrInvalidTarget
	}

	id := targetID
	*slot = &id
	target.Votes++

	finishBallot(&next, voterID)

	return next, nil
}

// SkipVote resolves a ballot with an explicit abstain. Turn advancement
// behaves exactly as for a cast vote, but no target is credited.
func SkipVote(s State, voterID int, kind BallotKind) (State, error) {
	next, slot, err := beginBallot(s, voterID, kind)
	if err != nil {
		return s, err
	}

	marker := SkipMarker
	*slot = &marker

	finishBallot(&next, voterID)

	return next, nil
}

// beginBallot runs the shared cast/skip checks and hands back a clone plus
// the voter's unresolved ballot slot within it.
func beginBallot(s State, voterID int, kind BallotKind) (State, **int, error) {
	if s.GameCompleted || s.IsTie || s.EliminatedPlayer != nil {
		return s, nil, ErrInvalidTransition
	}
	if !s.VotingActivated {
		return s, nil, ErrNotActivated
	}
	cur, ok := s.CurrentVoter()
	if !ok || cur != voterID {
		return s, nil, ErrNotYourTurn
	}

	next := s.Clone()
	voter := next.player(voterID)

	slot, err := voter.ballotSlot(next.GameMode, kind)
	if err != nil {
		return s, nil, err
	}
	if *slot != nil {
		return s, nil, ErrAlreadyVoted
	}

	return next, slot, nil
}

// finishBallot marks the voter done and advances the turn pointer once all
// of their required ballots are resolved. It never skips ahead further than
// one seat.
func finishBallot(s *State, voterID int) {
	voter := s.player(voterID)
	if !voter.ballotsResolved(s.GameMode) {
		return
	}
	voter.HasVoted = true
	s.CurrentVotingPlayerIndex++
}

// CalculateResult resolves the round once every eligible voter has voted:
// either records a tie for a revote, or eliminates the top target and
// settles the win condition from their word type. Calling it again while an
// outcome is already recorded is a no-op returning the state unchanged, so
// racing clients that all observe "all voted" stay harmless.
func CalculateResult(s State) (State, error) {
	if s.GameCompleted || s.IsTie || s.EliminatedPlayer != nil {
		return s, nil
	}
	if !s.VotingActivated {
		return s, ErrNotActivated
	}
	if !AllVoted(s) {
		return s, ErrInvalidTransition
	}

	outcome := Tally(s)
	next := s.Clone()
	next.VotingActivated = false

	if outcome.IsTie {
		next.IsTie = true
		next.TiedPlayers = append([]int(nil), outcome.Tied...)
		return next, nil
	}

	target := next.player(outcome.Winner)
	target.IsEliminated = true

	next.EliminatedPlayer = &Elimination{
		PlayerID: outcome.Winner,
		Votes:    outcome.MaxVotes,
		WordType: target.WordType,
	}
	next.WrongElimination = target.WordType == WordNormal
	next.GameCompleted = target.WordType == WordImposter || target.WordType == WordSimilar
	next.TiedPlayers = nil

	return next, nil
}

// Revote consumes a tie: clears all per-round vote fields and restricts the
// next round's voter and target pools to tiedIDs. The admin must reactivate
// voting before ballots may be cast again. An empty tiedIDs lifts the
// restriction and sets up a full revote.
func Revote(s State, tiedIDs []int) (State, error) {
	if s.GameCompleted || s.EliminatedPlayer != nil {
		return s, ErrInvalidTransition
	}
	for _, id := range tiedIDs {
		p := s.player(id)
		if p == nil || p.IsEliminated {
			return s, ErrInvalidTarget
		}
	}

	next := s.Clone()
	next.resetBallots()
	next.VotingActivated = false
	next.IsTie = false
	next.CurrentVotingPlayerIndex = 0
	if len(tiedIDs) > 0 {
		next.TiedPlayers = append([]int(nil), tiedIDs...)
	} else {
		next.TiedPlayers = nil
	}

	return next, nil
}

// ContinueAfterElimination clears a wrong-elimination outcome and sets up a
// fresh full round among the remaining active players. The eliminated
// player stays eliminated.
func ContinueAfterElimination(s State) (State, error) {
	if s.EliminatedPlayer == nil || s.GameCompleted {
		return s, ErrInvalidTransition
	}

	next := s.Clone()
	next.EliminatedPlayer = nil
	next.WrongElimination = false
	next.IsTie = false
	next.TiedPlayers = nil
	next.resetBallots()
	next.VotingActivated = false
	next.CurrentVotingPlayerIndex = 0

	return next, nil
}
