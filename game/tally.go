package game

// Outcome is the result of tallying a completed round.
type Outcome struct {
	Winner   int
	MaxVotes int
	IsTie    bool
	Tied     []int
}

// Tally resolves the elimination outcome from the accumulated per-player
// vote counts. Two or more eligible targets sharing the strict maximum is a
// tie. A maximum of zero (everyone abstained) cannot eliminate anyone, so
// it counts as a tie among all eligible targets, forcing a revote instead
// of an arbitrary pick.
func Tally(s State) Outcome {
	candidates := s.EligibleTargets()

	maxVotes := 0
	var lead []int
	for _, id := range candidates {
		p := s.player(id)
		switch {
		case p.Votes > maxVotes:
			maxVotes = p.Votes
			lead = []int{id}
		case p.Votes == maxVotes && maxVotes > 0:
			lead = append(lead, id)
		}
	}

	if maxVotes == 0 {
		return Outcome{
			IsTie:    true,
			Tied:     append([]int(nil), candidates...),
			MaxVotes: 0,
		}
	}

	if len(lead) > 1 {
		return Outcome{
			IsTie:    true,
			Tied:     lead,
			MaxVotes: maxVotes,
		}
	}

	return Outcome{
		Winner:   lead[0],
		MaxVotes: maxVotes,
	}
}

// RecountBallots rebuilds per-target counts by scanning every ballot slot.
// Clients reconciling a remote snapshot use this instead of incrementing
// their local counts, so repeated polls can never double-count.
func RecountBallots(s State) map[int]int {
	counts := make(map[int]int, len(s.Players))
	for _, p := range s.Players {
		for _, b := range []*int{p.VotedFor, p.VotedForImposter, p.VotedForOtherWord} {
			if b == nil || *b == SkipMarker {
				continue
			}
			counts[*b]++
		}
	}
	return counts
}
