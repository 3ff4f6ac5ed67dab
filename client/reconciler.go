// Package client implements the polling side of the game: a reconciler that
// periodically fetches the authoritative snapshot for a room and merges it
// into local state without clobbering a vote that is still in flight. The
// merge rules are transport-independent; a push feed can drive the same
// Merge on every event instead of on a timer tick.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Seednode/undercover/game"
	"github.com/google/uuid"
)

// ErrRoomGone means the server no longer knows the room; the polling loop
// halts permanently when it sees this.
var ErrRoomGone = errors.New("room no longer exists")

// Notifier receives each round outcome exactly once, no matter how many
// polls observe it. All methods are called from the reconciler's goroutine.
type Notifier interface {
	Tie(round int, tied []int)
	WrongElimination(round int, elim game.Elimination)
	GameWon(round int, elim game.Elimination)
}

// nopNotifier is the default when the caller does not care about outcome
// transitions.
type nopNotifier struct{}

func (nopNotifier) Tie(int, []int) {}

func (nopNotifier) WrongElimination(int, game.Elimination) {}

func (nopNotifier) GameWon(int, game.Elimination) {}

// Wire shapes, matching the server's game-state endpoint.
type intentRequest struct {
	Intent  string        `json:"intent"`
	Payload IntentPayload `json:"payload"`
}

// IntentPayload carries the arguments of a submitted intent.
type IntentPayload struct {
	VoterID     int             `json:"voterId"`
	TargetID    *int            `json:"targetId,omitempty"`
	BallotKind  game.BallotKind `json:"ballotKind,omitempty"`
	TiedPlayers []int           `json:"tiedPlayers,omitempty"`

	// Setup only.
	Players  []string  `json:"players,omitempty"`
	GameMode game.Mode `json:"gameMode,omitempty"`
}

type stateResponse struct {
	GameState *game.State `json:"gameState"`
	Status    string      `json:"status,omitempty"`
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithHTTPClient(c *http.Client) Option {
	return func(r *Reconciler) {
		r.httpClient = c
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		r.interval = d
	}
}

func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) {
		r.notifier = n
	}
}

// Reconciler polls one room's game-state endpoint and keeps a local copy of
// the authoritative state.
type Reconciler struct {
	httpClient *http.Client
	stateURL   string
	interval   time.Duration
	notifier   Notifier
	clientID   string

	mu               sync.Mutex
	state            game.State
	synced           bool
	votingInProgress bool
	announced        map[string]bool
}

// New builds a reconciler for the given room's game-state URL, e.g.
// "http://host:8080/undercover/AbCdEfGh/game-state".
func New(stateURL string, opts ...Option) *Reconciler {
	r := &Reconciler{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		stateURL:   stateURL,
		interval:   500 * time.Millisecond,
		notifier:   nopNotifier{},
		clientID:   uuid.NewString(),
		announced:  make(map[string]bool),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// ClientID identifies this poller across requests.
func (r *Reconciler) ClientID() string {
	return r.clientID
}

// State returns the latest reconciled snapshot.
func (r *Reconciler) State() game.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state.Clone()
}

// Run polls until the context is cancelled or the room disappears. A 404
// returns ErrRoomGone and halts for good; transient failures are simply
// retried on the next tick, since the loop is already periodic and
// low-rate.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Poll(ctx); errors.Is(err, ErrRoomGone) {
				return err
			}
		}
	}
}

// Poll fetches the authoritative snapshot once and merges it.
func (r *Reconciler) Poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.stateURL, nil)
	if err != nil {
		return err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ErrRoomGone
	default:
		return fmt.Errorf("fetch game state: unexpected status %d", resp.StatusCode)
	}

	var snap stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("decode game state: %w", err)
	}
	if snap.GameState == nil {
		return errors.New("decode game state: missing gameState")
	}

	r.Merge(*snap.GameState)

	return nil
}

// Merge folds a remote snapshot into local state.
//
// Round-progress fields (activation turning on, the turn pointer, tie and
// elimination outcomes) are authoritative and always adopted. The one
// exception is activation turning off: that is only adopted when no local
// vote is in flight, so a freshly cast ballot is not wiped by a snapshot
// captured before it persisted. Vote counts are rebuilt from the ballots in
// the snapshot every time, never incremented, so repeated polls cannot
// double-count.
func (r *Reconciler) Merge(remote game.State) {
	r.mu.Lock()

	adopted := remote.Clone()

	if r.synced && r.state.VotingActivated && !adopted.VotingActivated && r.votingInProgress {
		adopted.VotingActivated = true
	}

	counts := game.RecountBallots(adopted)
	for i := range adopted.Players {
		adopted.Players[i].Votes = counts[adopted.Players[i].ID]
	}

	r.state = adopted
	r.synced = true

	notify := r.pendingNotification(adopted)
	r.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// pendingNotification returns the at-most-one callback owed for the
// snapshot's current outcome. Must be called with r.mu held.
func (r *Reconciler) pendingNotification(s game.State) func() {
	round := s.VotingRound

	switch {
	case s.IsTie:
		if !r.markAnnounced(fmt.Sprintf("tie/%d", round)) {
			return nil
		}
		tied := append([]int(nil), s.TiedPlayers...)
		return func() { r.notifier.Tie(round, tied) }

	case s.EliminatedPlayer != nil && s.GameCompleted:
		if !r.markAnnounced(fmt.Sprintf("won/%d", round)) {
			return nil
		}
		elim := *s.EliminatedPlayer
		return func() { r.notifier.GameWon(round, elim) }

	case s.EliminatedPlayer != nil && s.WrongElimination:
		if !r.markAnnounced(fmt.Sprintf("wrong/%d", round)) {
			return nil
		}
		elim := *s.EliminatedPlayer
		return func() { r.notifier.WrongElimination(round, elim) }
	}

	return nil
}

func (r *Reconciler) markAnnounced(key string) bool {
	if r.announced[key] {
		return false
	}
	r.announced[key] = true
	return true
}

// CastVote submits a ballot. The in-flight guard is held from just before
// the request until the server's response snapshot has been merged, which
// is the window where a stale poll could otherwise wipe the ballot.
func (r *Reconciler) CastVote(ctx context.Context, voterID, targetID int, kind game.BallotKind) (game.State, string, error) {
	return r.vote(ctx, intentRequest{
		Intent: "castVote",
		Payload: IntentPayload{
			VoterID:    voterID,
			TargetID:   &targetID,
			BallotKind: kind,
		},
	})
}

// SkipVote submits an explicit abstain for one ballot.
func (r *Reconciler) SkipVote(ctx context.Context, voterID int, kind game.BallotKind) (game.State, string, error) {
	return r.vote(ctx, intentRequest{
		Intent: "skipVote",
		Payload: IntentPayload{
			VoterID:    voterID,
			BallotKind: kind,
		},
	})
}

// Setup deals words to the named players and creates the room's game state
// (host only).
func (r *Reconciler) Setup(ctx context.Context, players []string, mode game.Mode) (game.State, string, error) {
	return r.Intent(ctx, "setup", IntentPayload{Players: players, GameMode: mode})
}

// ActivateVoting asks the server to open a new round (host only).
func (r *Reconciler) ActivateVoting(ctx context.Context) (game.State, string, error) {
	return r.Intent(ctx, "activateVoting", IntentPayload{})
}

// CalculateResult asks the server to resolve the round. Any client that
// observes "all voted" may trigger this; repeats are no-ops server-side.
func (r *Reconciler) CalculateResult(ctx context.Context) (game.State, string, error) {
	return r.Intent(ctx, "calculateResult", IntentPayload{})
}

// Revote consumes a tie and restricts the next round to tied (host only).
func (r *Reconciler) Revote(ctx context.Context, tied []int) (game.State, string, error) {
	return r.Intent(ctx, "revote", IntentPayload{TiedPlayers: tied})
}

// ContinueAfterElimination clears a wrong elimination and sets up the next
// full round.
func (r *Reconciler) ContinueAfterElimination(ctx context.Context) (game.State, string, error) {
	return r.Intent(ctx, "continueAfterElimination", IntentPayload{})
}

func (r *Reconciler) vote(ctx context.Context, req intentRequest) (game.State, string, error) {
	r.mu.Lock()
	r.votingInProgress = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.votingInProgress = false
		r.mu.Unlock()
	}()

	return r.Intent(ctx, req.Intent, req.Payload)
}

// Intent submits any intent and merges the returned snapshot. The returned
// status is the server's verdict ("ok", "notYourTurn", ...); recoverable
// rejections are not errors.
func (r *Reconciler) Intent(ctx context.Context, intent string, payload IntentPayload) (game.State, string, error) {
	body, err := json.Marshal(intentRequest{Intent: intent, Payload: payload})
	if err != nil {
		return game.State{}, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.stateURL, bytes.NewReader(body))
	if err != nil {
		return game.State{}, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-ID", r.clientID)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return game.State{}, "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return game.State{}, "", ErrRoomGone
	default:
		return game.State{}, "", fmt.Errorf("submit intent %q: unexpected status %d", intent, resp.StatusCode)
	}

	var snap stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return game.State{}, "", fmt.Errorf("decode intent response: %w", err)
	}
	if snap.GameState == nil {
		return game.State{}, snap.Status, nil
	}

	r.Merge(*snap.GameState)

	return r.State(), snap.Status, nil
}
