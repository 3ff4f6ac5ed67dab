// Undercover voting server
//
// Players receive secret words (most share one word, one or more suspects get
// a different one), then vote sequentially to eliminate a suspect. The server
// holds one authoritative game state per room; browser sessions read and
// mutate it through a polling wire contract, with an optional websocket feed
// for clients that prefer push.
//
// Features:
// - Room-scoped endpoints: /path/:roomid/game-state (GET poll, POST intent)
// - Intents: setup, activateVoting, castVote, skipVote, calculateResult,
//   revote, continueAfterElimination
// - First cookie to touch a room becomes its host; host-only intents are
//   setup, activateVoting, and revote
// - Every mutation goes through the store's conditional write, so racing
//   intents retry instead of overwriting each other
// - Recoverable rejections (not your turn, already voted, ...) return the
//   current snapshot plus a status string, never an error page
// - Websocket observers at /path/:roomid/ws receive the snapshot on connect
//   and after every successful mutation
// - Rooms auto-reaped after a configurable idle timeout; reaping deletes the
//   store record, which is what turns polls into 404s
// - Random 8-char room IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current room, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/undercover/game"
	"github.com/Seednode/undercover/store"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const minPlayers = 3

// IntentRequest is the body of a POST to the game-state endpoint.
type IntentRequest struct {
	Intent  string        `json:"intent"`
	Payload IntentPayload `json:"payload"`
}

type IntentPayload struct {
	VoterID     int             `json:"voterId"`
	TargetID    *int            `json:"targetId,omitempty"`
	BallotKind  game.BallotKind `json:"ballotKind,omitempty"`
	TiedPlayers []int           `json:"tiedPlayers,omitempty"`

	// Setup only.
	Players  []string  `json:"players,omitempty"`
	GameMode game.Mode `json:"gameMode,omitempty"`
}

// StateResponse carries the authoritative snapshot plus the server's verdict
// on the submitted intent. Recoverable rejections come back with status 200
// and the unchanged snapshot.
type StateResponse struct {
	GameState *game.State `json:"gameState"`
	Status    string      `json:"status,omitempty"`
}

// statusFor maps transition failures to wire statuses. An empty string means
// the error is not a recoverable game-level rejection.
func statusFor(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, game.ErrNotActivated):
		return "notActivated"
	case errors.Is(err, game.ErrNotYourTurn):
		return "notYourTurn"
	case errors.Is(err, game.ErrAlreadyVoted):
		return "alreadyVoted"
	case errors.Is(err, game.ErrInvalidTarget):
		return "invalidTarget"
	case errors.Is(err, game.ErrInvalidTransition):
		return "invalidTransition"
	}
	return ""
}

// intentFunc builds the pure transition for an intent and reports whether it
// is host-only. Setup is handled separately since it creates the record.
func intentFunc(req IntentRequest) (store.IntentFunc, bool, error) {
	p := req.Payload

	switch req.Intent {
	case "activateVoting":
		return game.ActivateVoting, true, nil

	case "castVote":
		if p.TargetID == nil {
			return nil, false, errors.New("castVote requires targetId")
		}
		target := *p.TargetID
		return func(s game.State) (game.State, error) {
			return game.CastVote(s, p.VoterID, target, p.BallotKind)
		}, false, nil

	case "skipVote":
		return func(s game.State) (game.State, error) {
			return game.SkipVote(s, p.VoterID, p.BallotKind)
		}, false, nil

	case "calculateResult":
		return game.CalculateResult, false, nil

	case "revote":
		return func(s game.State) (game.State, error) {
			return game.Revote(s, p.TiedPlayers)
		}, true, nil

	case "continueAfterElimination":
		return game.ContinueAfterElimination, false, nil
	}

	return nil, false, fmt.Errorf("unknown intent %q", req.Intent)
}

// Word pairs for setup: everyone shares the first word, the similar-word
// holder gets the second. Nothing about the selection is meant to be fair or
// unpredictable beyond casual play.
var wordPairs = [][2]string{
	{"coffee", "tea"},
	{"piano", "accordion"},
	{"glacier", "iceberg"},
	{"novel", "biography"},
	{"lighthouse", "windmill"},
	{"submarine", "ferry"},
	{"butterfly", "moth"},
	{"waterfall", "fountain"},
	{"violin", "cello"},
	{"desert", "beach"},
	{"castle", "cathedral"},
	{"marathon", "sprint"},
}

// randInt returns a random int in [0, n) using crypto/rand.
func randInt(n int) int {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return int(b[0]) % n
}

// assignWords deals a word pair across the named seats according to the
// mode: single-suspect hides one similar-word holder, imposter mode hides
// one player with no word at all, mixed hides one of each.
func assignWords(names []string, mode game.Mode) ([]game.Player, error) {
	if len(names) < minPlayers {
		return nil, fmt.Errorf("at least %d players required", minPlayers)
	}

	similarSeat, imposterSeat := -1, -1
	switch mode {
	case game.ModeSingleSuspect:
		similarSeat = randInt(len(names))
	case game.ModeImposter:
		imposterSeat = randInt(len(names))
	case game.ModeMixed:
		if len(names) < minPlayers+1 {
			return nil, fmt.Errorf("mixed mode requires at least %d players", minPlayers+1)
		}
		similarSeat = randInt(len(names))
		imposterSeat = randInt(len(names))
		for imposterSeat == similarSeat {
			imposterSeat = randInt(len(names))
		}
	default:
		return nil, fmt.Errorf("unknown game mode %q", mode)
	}

	pair := wordPairs[randInt(len(wordPairs))]

	players := make([]game.Player, len(names))
	for i, name := range names {
		p := game.Player{
			ID:          i,
			Name:        strings.TrimSpace(name),
			CurrentWord: pair[0],
			WordType:    game.WordNormal,
		}
		switch i {
		case similarSeat:
			p.CurrentWord = pair[1]
			p.WordType = game.WordSimilar
		case imposterSeat:
			p.CurrentWord = ""
			p.WordType = game.WordImposter
		}
		players[i] = p
	}

	return players, nil
}

// observer is one websocket client watching a room.
type observer struct {
	conn *websocket.Conn
	send chan []byte
}

func (o *observer) writePump() {
	defer o.conn.Close()

	for msg := range o.send {
		if err := o.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Room tracks the in-process side of a game: host identity and connected
// websocket observers. The game state itself lives in the store.
type Room struct {
	id string

	mu         sync.Mutex
	hostID     string
	observers  map[*observer]bool
	createdAt  time.Time
	lastActive time.Time
}

func (room *Room) isHost(playerID string) bool {
	room.mu.Lock()
	defer room.mu.Unlock()

	return room.hostID != "" && room.hostID == playerID
}

func (room *Room) touch() {
	room.mu.Lock()
	defer room.mu.Unlock()

	room.lastActive = time.Now()
}

// broadcast fans a snapshot out to every observer. Slow consumers are
// dropped rather than blocking the round.
func (room *Room) broadcast(snapshot game.State) {
	msg, err := json.Marshal(StateResponse{GameState: &snapshot})
	if err != nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	for o := range room.observers {
		select {
		case o.send <- msg:
		default:
			delete(room.observers, o)
			close(o.send)
		}
	}
}

func (room *Room) addObserver(o *observer) {
	room.mu.Lock()
	defer room.mu.Unlock()

	room.observers[o] = true
}

func (room *Room) removeObserver(o *observer) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if _, ok := room.observers[o]; ok {
		delete(room.observers, o)
		close(o.send)
	}
}

// closeAll disconnects all observers of this room (used by the reaper).
func (room *Room) closeAll() {
	room.mu.Lock()
	defer room.mu.Unlock()

	for o := range room.observers {
		close(o.send)
		_ = o.conn.Close()
		delete(room.observers, o)
	}
}

// RoomManager holds the in-process rooms keyed by room ID, backed by one
// shared RoomStateStore.
type RoomManager struct {
	mu          sync.Mutex
	rooms       map[string]*Room
	store       store.RoomStateStore
	idleTimeout time.Duration
}

func newRoomManager(cfg *Config, st store.RoomStateStore) *RoomManager {
	rm := &RoomManager{
		rooms:       make(map[string]*Room),
		store:       st,
		idleTimeout: cfg.sessionTimeout,
	}
	if rm.idleTimeout > 0 {
		go rm.reaperLoop(cfg)
	}
	return rm
}

// room returns the in-process entry for roomID, creating it on first touch.
// The first known player to touch a room becomes its host.
func (rm *RoomManager) room(cfg *Config, roomID, playerID string) *Room {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if room, ok := rm.rooms[roomID]; ok {
		room.mu.Lock()
		if room.hostID == "" && playerID != "" {
			room.hostID = playerID
		}
		room.mu.Unlock()
		return room
	}

	now := time.Now()
	room := &Room{
		id:         roomID,
		hostID:     playerID,
		observers:  make(map[*observer]bool),
		createdAt:  now,
		lastActive: now,
	}
	rm.rooms[roomID] = room
	logf(cfg, "ROOMS: Opened room %s", roomID)

	return room
}

// roomIDAvailable reports whether an ID collides with neither an in-process
// room nor a persisted record. Rooms from before a restart only exist in the
// store, so the in-process map alone is not enough. A store error counts as
// a collision.
func (rm *RoomManager) roomIDAvailable(id string) bool {
	rm.mu.Lock()
	_, exists := rm.rooms[id]
	rm.mu.Unlock()

	if exists {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := rm.store.Get(ctx, id)

	return errors.Is(err, store.ErrRoomNotFound)
}

// newRoomID generates a crypto-random room ID and ensures it doesn't
// collide with existing rooms.
func (rm *RoomManager) newRoomID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		if rm.roomIDAvailable(id) {
			return id
		}
	}
}

// reaperLoop periodically removes rooms that have been idle longer than
// idleTimeout, both in process and in the store.
func (rm *RoomManager) reaperLoop(cfg *Config) {
	ticker := time.NewTicker(rm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-rm.idleTimeout)

		rm.mu.Lock()
		for id, room := range rm.rooms {
			room.mu.Lock()
			last := room.lastActive
			room.mu.Unlock()

			if last.Before(cutoff) {
				delete(rm.rooms, id)
				go room.closeAll()
				logf(cfg, "ROOMS: Reaped idle room %s", id)
			}
		}
		rm.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		reaped, err := rm.store.DeleteIdle(ctx, cutoff)
		cancel()
		if err != nil {
			logf(cfg, "ROOMS: Reaping idle room records failed: %v", err)
		} else if reaped > 0 {
			logf(cfg, "ROOMS: Reaped %d idle room records", reaped)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "undercover_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	// Non-browser clients carry their identity in a header instead of a
	// cookie. Without a stable identity the host check would fail every
	// request after the first.
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// serveGameState handles GET: the poll half of the wire contract.
func serveGameState(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")

		snapshot, err := rm.store.Get(r.Context(), roomID)
		if errors.Is(err, store.ErrRoomNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logf(cfg, "ROOMS: Reading room %s failed: %v", roomID, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, StateResponse{GameState: &snapshot})
	}
}

// serveIntent handles POST: decodes an intent, authorizes host-only ones,
// runs the transition through the store's conditional write, and fans the
// result out to websocket observers.
func serveIntent(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		playerID := getOrSetPlayerID(w, r)
		room := rm.room(cfg, roomID, playerID)

		var req IntentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if req.Intent == "setup" {
			rm.handleSetup(cfg, w, r, room, playerID, req)
			return
		}

		fn, hostOnly, err := intentFunc(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if hostOnly && !room.isHost(playerID) {
			http.Error(w, "host only", http.StatusForbidden)
			return
		}

		snapshot, err := rm.store.Apply(r.Context(), roomID, fn)
		status := statusFor(err)

		switch {
		case errors.Is(err, store.ErrRoomNotFound):
			http.Error(w, "room not found", http.StatusNotFound)
			return
		case status == "":
			// Includes an exhausted conflict retry budget; the client
			// will observe the authoritative state on its next poll.
			logf(cfg, "ROOMS: Intent %q in %s failed: %v", req.Intent, roomID, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		case err == nil:
			room.touch()
			room.broadcast(snapshot)
			logf(cfg, "GAMES: Intent %q by %s in %s", req.Intent, realIP(r), roomID)
		}

		writeJSON(w, StateResponse{GameState: &snapshot, Status: status})
	}
}

// handleSetup deals words and creates the room's game state. Unlike every
// other intent it writes unconditionally: it is the round-zero record the
// conditional writes build on.
func (rm *RoomManager) handleSetup(cfg *Config, w http.ResponseWriter, r *http.Request, room *Room, playerID string, req IntentRequest) {
	if !room.isHost(playerID) {
		http.Error(w, "host only", http.StatusForbidden)
		return
	}

	mode := req.Payload.GameMode
	if mode == "" {
		mode = game.ModeSingleSuspect
	}

	players, err := assignWords(req.Payload.Players, mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	state := game.State{
		Players:     players,
		GameMode:    mode,
		VotingPhase: true,
	}

	if err := rm.store.Put(r.Context(), room.id, state); err != nil {
		logf(cfg, "ROOMS: Setting up room %s failed: %v", room.id, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	room.touch()
	room.broadcast(state)
	logf(cfg, "GAMES: Room %s set up with %d players (%s)", room.id, len(players), mode)

	writeJSON(w, StateResponse{GameState: &state, Status: "ok"})
}

// serveRoomWS upgrades an observer connection and feeds it snapshots.
func serveRoomWS(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)
		room := rm.room(cfg, roomID, playerID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ROOMS: Upgrade error: %v", err)
			return
		}

		o := &observer{
			conn: conn,
			send: make(chan []byte, 8),
		}

		room.addObserver(o)
		go o.writePump()

		// Current snapshot first, so the observer starts consistent.
		if snapshot, err := rm.store.Get(r.Context(), roomID); err == nil {
			room.broadcastTo(o, snapshot)
		}

		// Observers are read-only; the read loop only detects closure.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		room.removeObserver(o)
		_ = conn.Close()
	}
}

// broadcastTo sends a snapshot to a single observer.
func (room *Room) broadcastTo(o *observer, snapshot game.State) {
	msg, err := json.Marshal(StateResponse{GameState: &snapshot})
	if err != nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if !room.observers[o] {
		return
	}

	select {
	case o.send <- msg:
	default:
		delete(room.observers, o)
		close(o.send)
	}
}

// serveRoomPage renders the minimal per-room client page.
func serveRoomPage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write([]byte(newPage("Undercover", "Room "+ps.ByName("roomid"))))
	}
}

// qrHandler generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:roomid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// redirectNewRoom handles GET /path by generating a new random room ID
// (with server-side collision detection) and redirecting to /path/:roomid.
func redirectNewRoom(cfg *Config, path string, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := rm.newRoomID()
		logf(cfg, "GAMES: Created room %s/%s", path, roomID)
		http.Redirect(w, r, cfg.prefix+path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

// registerUndercoverGame sets up routes so that:
//   - $path                       → redirects to new random room (8-char ID)
//   - $path/:roomid               → HTML client
//   - $path/:roomid/game-state    → GET poll / POST intent
//   - $path/:roomid/ws            → websocket snapshot feed
//   - $path/:roomid/qr            → PNG QR code for that room URL
func registerUndercoverGame(cfg *Config, path string, mux *httprouter.Router, st store.RoomStateStore) {
	rm := newRoomManager(cfg, st)

	// Root path → redirect to new random room
	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, path, rm))

	// Per-room client view (HTML)
	mux.GET(cfg.prefix+path+"/:roomid", serveRoomPage(cfg))

	// Poll / intent wire contract
	mux.GET(cfg.prefix+path+"/:roomid/game-state", serveGameState(cfg, rm))
	mux.POST(cfg.prefix+path+"/:roomid/game-state", serveIntent(cfg, rm))

	// Per-room websocket
	mux.GET(cfg.prefix+path+"/:roomid/ws", serveRoomWS(cfg, rm))

	// Per-room QR code
	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler)
}
