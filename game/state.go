// Package game holds the voting core for the undercover word game: the
// value-typed game state, the transition functions that mutate it, and the
// tally logic that resolves a round. Everything in here is pure — no I/O,
// no clocks, no goroutines — so transitions can be retried safely by a
// conditional-write store.
package game

// WordType classifies the secret word a player was dealt.
type WordType string

const (
	WordNormal   WordType = "normal"
	WordSimilar  WordType = "similar"
	WordImposter WordType = "imposter"
)

// Mode selects how many ballots each voter casts per round and which
// special roles exist.
type Mode string

const (
	ModeSingleSuspect Mode = "single-suspect"
	ModeImposter      Mode = "imposter"
	ModeMixed         Mode = "mixed"
)

// BallotsPerPlayer is the number of ballots a voter must resolve before
// their turn ends.
func (m Mode) BallotsPerPlayer() int {
	if m == ModeMixed {
		return 2
	}
	return 1
}

// BallotKind selects which of a voter's ballots a cast or skip applies to.
// It only matters in mixed mode, where each voter casts one ballot per kind.
type BallotKind string

const (
	BallotImposter  BallotKind = "imposter"
	BallotOtherWord BallotKind = "otherWord"
)

// SkipMarker is the explicit abstain value stored in a ballot slot. It is
// distinct from an unset slot (nil): both block turn advancement until
// resolved, but a skip never credits any target.
const SkipMarker = -1

// Player is one seat in the game. Ballot slots are tri-state: nil means not
// yet voted, SkipMarker means an explicit abstain, anything else is a target
// player id.
type Player struct {
	ID           int      `json:"id"`
	Name         string   `json:"name"`
	CurrentWord  string   `json:"currentWord"`
	WordType     WordType `json:"wordType"`
	IsEliminated bool     `json:"isEliminated"`

	// VotedFor is the single ballot in single-suspect and imposter modes.
	// Mixed mode uses the two kind-specific slots instead.
	VotedFor          *int `json:"votedFor,omitempty"`
	VotedForImposter  *int `json:"votedForImposter,omitempty"`
	VotedForOtherWord *int `json:"votedForOtherWord,omitempty"`

	HasVoted bool `json:"hasVoted"`
	Votes    int  `json:"votes"`
}

// ballotSlot returns the slot a cast/skip should land in for the given mode.
func (p *Player) ballotSlot(mode Mode, kind BallotKind) (**int, error) {
	if mode != ModeMixed {
		return &p.VotedFor, nil
	}
	switch kind {
	case BallotImposter:
		return &p.VotedForImposter, nil
	case BallotOtherWord:
		return &p.VotedForOtherWord, nil
	default:
		return nil, ErrInvalidTransition
	}
}

// ballotsResolved reports whether every required ballot for the mode has
// been cast or explicitly skipped.
func (p *Player) ballotsResolved(mode Mode) bool {
	if mode == ModeMixed {
		return p.VotedForImposter != nil && p.VotedForOtherWord != nil
	}
	return p.VotedFor != nil
}

// Elimination records the outcome of a completed round.
type Elimination struct {
	PlayerID int      `json:"playerId"`
	Votes    int      `json:"votes"`
	WordType WordType `json:"wordType"`
}

// State is the authoritative game state for one room. It is treated as an
// immutable value: transitions clone it and return the replacement, and the
// store swaps the whole record under a version check.
type State struct {
	// Players in turn order. The order never changes for the lifetime of
	// the game; eliminated players stay in place but drop out of the
	// active view.
	Players []Player `json:"players"`

	GameMode Mode `json:"gameMode"`

	// VotingPhase is set once word distribution has completed and rounds
	// may begin.
	VotingPhase bool `json:"votingPhase"`

	// VotingActivated gates ballots behind an admin action each round.
	VotingActivated bool `json:"votingActivated"`

	// CurrentVotingPlayerIndex indexes the eligible-voters view, not the
	// raw players slice. Reaching the view's length means everyone voted.
	CurrentVotingPlayerIndex int `json:"currentVotingPlayerIndex"`

	VotingRound int `json:"votingRound"`

	// TiedPlayers restricts both the voter and target pools while a
	// tie-break sub-round is in progress; empty otherwise.
	TiedPlayers []int `json:"tiedPlayers,omitempty"`

	// IsTie is set when a tally ends in a tie and cleared by the revote
	// that consumes it.
	IsTie bool `json:"isTie"`

	EliminatedPlayer *Elimination `json:"eliminatedPlayer,omitempty"`
	WrongElimination bool         `json:"wrongElimination"`
	GameCompleted    bool         `json:"gameCompleted"`
}

// Clone returns a deep copy, including ballot pointers.
func (s State) Clone() State {
	next := s

	next.Players = make([]Player, len(s.Players))
	for i, p := range s.Players {
		p.VotedFor = cloneBallot(p.VotedFor)
		p.VotedForImposter = cloneBallot(p.VotedForImposter)
		p.VotedForOtherWord = cloneBallot(p.VotedForOtherWord)
		next.Players[i] = p
	}

	if s.TiedPlayers != nil {
		next.TiedPlayers = append([]int(nil), s.TiedPlayers...)
	}
	if s.EliminatedPlayer != nil {
		e := *s.EliminatedPlayer
		next.EliminatedPlayer = &e
	}

	return next
}

func cloneBallot(b *int) *int {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// player returns the player with the given id, or nil if unknown.
func (s *State) player(id int) *Player {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i]
		}
	}
	return nil
}

// Player is the exported lookup, returning a copy.
func (s State) Player(id int) (Player, bool) {
	p := s.player(id)
	if p == nil {
		return Player{}, false
	}
	return *p, true
}

func (s *State) isTiedPlayer(id int) bool {
	for _, t := range s.TiedPlayers {
		if t == id {
			return true
		}
	}
	return false
}

// resetBallots clears every per-round vote field. Elimination flags are
// untouched; IsEliminated in particular is append-only.
func (s *State) resetBallots() {
	for i := range s.Players {
		s.Players[i].VotedFor = nil
		s.Players[i].VotedForImposter = nil
		s.Players[i].VotedForOtherWord = nil
		s.Players[i].HasVoted = false
		s.Players[i].Votes = 0
	}
}
