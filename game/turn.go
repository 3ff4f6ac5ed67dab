package game

// The turn scheduler: sequential voting walks the eligible-voters view one
// seat at a time, advancing only once the seat's required ballots are all
// resolved. The view is recomputed from the current elimination set on every
// call, never cached across rounds.

// ActivePlayers returns the ids of non-eliminated players in turn order.
func (s State) ActivePlayers() []int {
	ids := make([]int, 0, len(s.Players))
	for _, p := range s.Players {
		if p.IsEliminated {
			continue
		}
		ids = append(ids, p.ID)
	}
	return ids
}

// EligibleVoters returns the voter pool for the current round: all active
// players, or only the tied candidates during a tie-break sub-round.
func (s State) EligibleVoters() []int {
	active := s.ActivePlayers()
	if len(s.TiedPlayers) == 0 {
		return active
	}
	ids := make([]int, 0, len(s.TiedPlayers))
	for _, id := range active {
		if s.isTiedPlayer(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// EligibleTargets returns the target pool, which matches the voter pool
// restriction: any active player normally, tied candidates only during a
// tie-break.
func (s State) EligibleTargets() []int {
	return s.EligibleVoters()
}

// CurrentVoter returns the id of the player whose turn it is. The second
// return is false once the index has walked past the last eligible voter,
// which is the "all have voted" signal.
func (s State) CurrentVoter() (int, bool) {
	voters := s.EligibleVoters()
	if s.CurrentVotingPlayerIndex < 0 || s.CurrentVotingPlayerIndex >= len(voters) {
		return 0, false
	}
	return voters[s.CurrentVotingPlayerIndex], true
}

// AllVoted reports whether every eligible voter has resolved all required
// ballots for the current round.
func AllVoted(s State) bool {
	for _, id := range s.EligibleVoters() {
		p := s.player(id)
		if p == nil || !p.HasVoted {
			return false
		}
	}
	return true
}
