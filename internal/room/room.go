// Package room hosts one game per actor goroutine. All game state is
// owned by the actor; connections talk to it through the command channel
// and receive full-state broadcasts back.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ludo-live/internal/protocol"
	"ludo-live/internal/store"
	"ludo-live/ludo"
)

// Sink is one outbound connection. Send reports false when the
// connection is gone and the sink should be dropped.
type Sink interface {
	Send(data []byte) bool
}

type CommandType int

const (
	CmdJoin CommandType = iota
	CmdAction
	CmdConnLost
	CmdClose
)

// Command is a message to the room actor.
type Command struct {
	Type     CommandType
	UserID   uint64
	Name     string
	Sink     Sink
	Action   string
	Payload  json.RawMessage
	Response chan error
}

var ErrRoomClosed = errors.New("room closed")

// Config carries the turn policy and scheduling delays. Zero values fall
// back to the defaults below.
type Config struct {
	TurnLimit        int
	MaxInactiveTurns int
	PitySix          bool
	TripleSixPenalty bool
	Prize            int64

	// Delays between an event and its visible consequence, so clients can
	// animate the intermediate state.
	RollResolveDelay   time.Duration
	NoMoveAdvanceDelay time.Duration
	AutoStartDelay     time.Duration
	ReconnectGrace     time.Duration
	FinishedEvictDelay time.Duration
	IdleEvictDelay     time.Duration
	CountdownEvery     time.Duration

	Roll func() int
	Now  func() time.Time
}

func DefaultConfig() Config {
	return Config{
		TurnLimit:          30,
		MaxInactiveTurns:   5,
		PitySix:            true,
		TripleSixPenalty:   true,
		RollResolveDelay:   500 * time.Millisecond,
		NoMoveAdvanceDelay: 1500 * time.Millisecond,
		AutoStartDelay:     3 * time.Second,
		ReconnectGrace:     30 * time.Second,
		FinishedEvictDelay: 5 * time.Second,
		IdleEvictDelay:     60 * time.Second,
		CountdownEvery:     5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.TurnLimit <= 0 {
		c.TurnLimit = d.TurnLimit
	}
	if c.MaxInactiveTurns <= 0 {
		c.MaxInactiveTurns = d.MaxInactiveTurns
	}
	if c.RollResolveDelay <= 0 {
		c.RollResolveDelay = d.RollResolveDelay
	}
	if c.NoMoveAdvanceDelay <= 0 {
		c.NoMoveAdvanceDelay = d.NoMoveAdvanceDelay
	}
	if c.AutoStartDelay <= 0 {
		c.AutoStartDelay = d.AutoStartDelay
	}
	if c.ReconnectGrace <= 0 {
		c.ReconnectGrace = d.ReconnectGrace
	}
	if c.FinishedEvictDelay <= 0 {
		c.FinishedEvictDelay = d.FinishedEvictDelay
	}
	if c.IdleEvictDelay <= 0 {
		c.IdleEvictDelay = d.IdleEvictDelay
	}
	if c.CountdownEvery <= 0 {
		c.CountdownEvery = d.CountdownEvery
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Room is a single game instance with an actor goroutine.
type Room struct {
	Code string
	// GameID identifies this game instance. Codes are reusable across
	// games, so persisted turn history is keyed by this id.
	GameID string

	mu       sync.RWMutex
	game     *ludo.Game
	sinks    map[uint64]Sink
	closed   bool
	stopOnce sync.Once

	commands chan Command
	done     chan struct{}

	store store.Service
	cfg   Config

	// Pending deadlines, resolved by tick.
	rollResolveAt  time.Time
	advanceAt      time.Time
	autoStartAt    time.Time
	evictAt        time.Time
	graceDeadlines map[uint64]time.Time
	nextSecondAt   time.Time
	nextBroadcast  time.Time

	persistedSeq int
	payoutDone   bool
}

// New creates a room and starts its actor goroutine.
func New(code string, gameType ludo.GameType, maxPlayers int, tournamentID string, storeService store.Service, cfg Config) (*Room, error) {
	cfg.applyDefaults()

	game, err := ludo.New(ludo.Config{
		Code:             code,
		Type:             gameType,
		MaxPlayers:       maxPlayers,
		TournamentID:     tournamentID,
		TurnLimit:        cfg.TurnLimit,
		MaxInactiveTurns: cfg.MaxInactiveTurns,
		PitySix:          cfg.PitySix,
		TripleSixPenalty: cfg.TripleSixPenalty,
		Roll:             cfg.Roll,
		Now:              cfg.Now,
	})
	if err != nil {
		return nil, err
	}

	r := &Room{
		Code:           code,
		GameID:         uuid.NewString(),
		game:           game,
		sinks:          make(map[uint64]Sink),
		commands:       make(chan Command, 256),
		done:           make(chan struct{}),
		store:          storeService,
		cfg:            cfg,
		graceDeadlines: make(map[uint64]time.Time),
		evictAt:        cfg.Now().Add(cfg.IdleEvictDelay),
	}

	go r.run()

	log.Printf("[Room %s] Created (type=%s, max=%d)", code, gameType, maxPlayers)
	return r, nil
}

func (r *Room) run() {
	// Sub-second heartbeat so the 1s countdown and the short render
	// delays both resolve promptly.
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-r.commands:
			err := r.handleCommand(cmd)
			if cmd.Response != nil {
				cmd.Response <- err
			}
		case <-ticker.C:
			r.mu.Lock()
			r.tick(r.cfg.Now())
			r.mu.Unlock()
		case <-r.done:
			log.Printf("[Room %s] Actor stopped", r.Code)
			return
		}
	}
}

// SubmitCommand delivers a command to the actor and waits for its result.
func (r *Room) SubmitCommand(cmd Command) error {
	if cmd.Response == nil {
		cmd.Response = make(chan error, 1)
	}

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrRoomClosed
	}

	select {
	case r.commands <- cmd:
	case <-r.done:
		return ErrRoomClosed
	}

	select {
	case err := <-cmd.Response:
		return err
	case <-r.done:
		return ErrRoomClosed
	}
}

// Join registers a connection and seats the user if the game allows it.
func (r *Room) Join(userID uint64, name string, sink Sink) error {
	return r.SubmitCommand(Command{Type: CmdJoin, UserID: userID, Name: name, Sink: sink})
}

// Action forwards one inbound frame to the actor.
func (r *Room) Action(userID uint64, action string, payload json.RawMessage) error {
	return r.SubmitCommand(Command{Type: CmdAction, UserID: userID, Action: action, Payload: payload})
}

// ConnLost reports that a user's connection dropped. The seat survives
// until the reconnect grace expires.
func (r *Room) ConnLost(userID uint64, sink Sink) {
	_ = r.SubmitCommand(Command{Type: CmdConnLost, UserID: userID, Sink: sink})
}

// Stop shuts the actor down.
func (r *Room) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

// Done is closed once the actor has been stopped.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Room) stopLocked() {
	r.closed = true
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

func (r *Room) handleCommand(cmd Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed && cmd.Type != CmdClose {
		return ErrRoomClosed
	}

	switch cmd.Type {
	case CmdJoin:
		return r.handleJoin(cmd.UserID, cmd.Name, cmd.Sink)
	case CmdAction:
		return r.handleAction(cmd.UserID, cmd.Action, cmd.Payload)
	case CmdConnLost:
		r.handleConnLost(cmd.UserID, cmd.Sink)
		return nil
	case CmdClose:
		r.stopLocked()
		return nil
	default:
		return fmt.Errorf("unknown command type: %d", cmd.Type)
	}
}

func (r *Room) handleJoin(userID uint64, name string, sink Sink) error {
	now := r.cfg.Now()

	if p := r.game.PlayerByID(userID); p != nil {
		// Reconnect: the seat never moved.
		delete(r.graceDeadlines, userID)
		r.game.SetDisconnected(userID, false)
	} else {
		if _, err := r.game.AddPlayer(userID, name); err != nil {
			return err
		}
		log.Printf("[Room %s] Player %d (%s) joined", r.Code, userID, name)
	}

	r.sinks[userID] = sink
	r.evictAt = time.Time{}
	if r.game.Status == ludo.StatusFinished {
		r.evictAt = now.Add(r.cfg.FinishedEvictDelay)
	}

	if sink != nil {
		if data := protocol.AuthSuccess(); data != nil {
			sink.Send(data)
		}
	}

	// Tournament rooms start on their own once the table is full.
	if r.game.Type == ludo.TypeTournament &&
		r.game.Status == ludo.StatusSetup &&
		len(r.game.Players) == r.game.MaxPlayers &&
		r.autoStartAt.IsZero() {
		r.autoStartAt = now.Add(r.cfg.AutoStartDelay)
		log.Printf("[Room %s] Table full, auto-start in %s", r.Code, r.cfg.AutoStartDelay)
	}

	r.broadcast(now)
	return nil
}

// handleAction dispatches one client frame. Rule violations are logged
// and swallowed: the client just doesn't see the state change it hoped
// for.
func (r *Room) handleAction(userID uint64, action string, payload json.RawMessage) error {
	now := r.cfg.Now()

	switch action {
	case protocol.ActionStart:
		if r.game.Type != ludo.TypeManual || r.game.HostID != userID {
			log.Printf("[Room %s] start rejected for user %d", r.Code, userID)
			return nil
		}
		if err := r.game.Start(); err != nil {
			log.Printf("[Room %s] start failed: %v", r.Code, err)
			return nil
		}
		r.autoStartAt = time.Time{}
		r.resetSecondTimer(now)
		r.broadcast(now)

	case protocol.ActionRoll:
		if err := r.game.InitiateRoll(userID); err != nil {
			log.Printf("[Room %s] roll rejected for user %d: %v", r.Code, userID, err)
			return nil
		}
		r.rollResolveAt = now.Add(r.cfg.RollResolveDelay)
		r.broadcast(now)

	case protocol.ActionMove:
		var move protocol.MovePayload
		if err := json.Unmarshal(payload, &move); err != nil {
			log.Printf("[Room %s] bad move payload from user %d: %v", r.Code, userID, err)
			return nil
		}
		res, err := r.game.MovePiece(userID, move.PieceID)
		if err != nil {
			log.Printf("[Room %s] move rejected for user %d: %v", r.Code, userID, err)
			return nil
		}
		r.persistNewTurnEvents()
		if res.Won {
			r.onGameFinished(now)
		}
		r.resetSecondTimer(now)
		r.broadcast(now)

	case protocol.ActionLeave:
		r.game.Leave(userID)
		delete(r.sinks, userID)
		delete(r.graceDeadlines, userID)
		r.persistNewTurnEvents()
		r.afterDeparture(now)
		r.broadcast(now)

	case protocol.ActionSendChat:
		var chat protocol.ChatPayload
		if err := json.Unmarshal(payload, &chat); err != nil {
			return nil
		}
		text := strings.TrimSpace(chat.Text)
		if text == "" {
			return nil
		}
		p := r.game.PlayerByID(userID)
		if p == nil {
			return nil
		}
		entry := ludo.ChatEntry{
			ID:     uuid.NewString(),
			UserID: userID,
			Name:   p.Name,
			Text:   text,
			SentAt: now,
		}
		r.game.AddChat(entry)
		r.persistChat(entry)
		r.broadcast(now)

	default:
		log.Printf("[Room %s] unknown action %q from user %d", r.Code, action, userID)
	}
	return nil
}

func (r *Room) handleConnLost(userID uint64, sink Sink) {
	now := r.cfg.Now()

	// A stale pump may report after the user already reconnected.
	if current, ok := r.sinks[userID]; ok && (sink == nil || current == sink) {
		delete(r.sinks, userID)
	} else if ok {
		return
	}

	r.game.SetDisconnected(userID, true)

	switch r.game.Status {
	case ludo.StatusSetup:
		r.game.Leave(userID)
	case ludo.StatusPlaying:
		r.graceDeadlines[userID] = now.Add(r.cfg.ReconnectGrace)
		log.Printf("[Room %s] Player %d disconnected, grace until %s", r.Code, userID, r.graceDeadlines[userID].Format(time.RFC3339))
	}

	if len(r.sinks) == 0 && r.evictAt.IsZero() {
		r.evictAt = now.Add(r.cfg.IdleEvictDelay)
	}
	r.afterDeparture(now)
	r.broadcast(now)
}

// tick resolves every pending deadline that has passed.
func (r *Room) tick(now time.Time) {
	if r.closed {
		return
	}

	if !r.rollResolveAt.IsZero() && !now.Before(r.rollResolveAt) {
		r.rollResolveAt = time.Time{}
		outcome, err := r.game.CompleteRoll()
		if err != nil {
			log.Printf("[Room %s] complete roll failed: %v", r.Code, err)
		} else {
			r.persistNewTurnEvents()
			if outcome.Penalty || outcome.NoMove {
				// Leave the result on screen before the seat moves.
				r.advanceAt = now.Add(r.cfg.NoMoveAdvanceDelay)
			}
			r.resetSecondTimer(now)
		}
		r.broadcast(now)
	}

	if !r.advanceAt.IsZero() && !now.Before(r.advanceAt) {
		r.advanceAt = time.Time{}
		r.game.AdvanceTurn()
		r.resetSecondTimer(now)
		r.broadcast(now)
	}

	if !r.autoStartAt.IsZero() && !now.Before(r.autoStartAt) {
		r.autoStartAt = time.Time{}
		if err := r.game.Start(); err != nil {
			log.Printf("[Room %s] auto-start failed: %v", r.Code, err)
		} else {
			r.resetSecondTimer(now)
			r.broadcast(now)
		}
	}

	for userID, deadline := range r.graceDeadlines {
		if now.Before(deadline) {
			continue
		}
		delete(r.graceDeadlines, userID)
		log.Printf("[Room %s] Player %d reconnect grace expired", r.Code, userID)
		r.game.Leave(userID)
		r.persistNewTurnEvents()
		r.afterDeparture(now)
		r.broadcast(now)
	}

	r.tickCountdown(now)

	if !r.evictAt.IsZero() && !now.Before(r.evictAt) {
		log.Printf("[Room %s] Evicting (status=%s)", r.Code, r.game.Status)
		r.stopLocked()
	}
}

// tickCountdown drives the per-turn 1s countdown off the sub-second
// heartbeat. Broadcasts are throttled; state-changing events flush
// immediately elsewhere.
func (r *Room) tickCountdown(now time.Time) {
	if r.game.Status != ludo.StatusPlaying || !r.advanceAt.IsZero() || !r.rollResolveAt.IsZero() {
		return
	}
	if r.nextSecondAt.IsZero() {
		r.nextSecondAt = now.Add(time.Second)
		return
	}
	if now.Before(r.nextSecondAt) {
		return
	}
	r.nextSecondAt = r.nextSecondAt.Add(time.Second)

	if !r.game.Tick() {
		if now.Before(r.nextBroadcast) {
			return
		}
		r.broadcast(now)
		return
	}

	removed := r.game.HandleMissedTurn()
	r.persistNewTurnEvents()
	if removed {
		log.Printf("[Room %s] Player forfeited after %d missed turns", r.Code, r.cfg.MaxInactiveTurns)
	}
	r.afterDeparture(now)
	r.resetSecondTimer(now)
	r.broadcast(now)
}

func (r *Room) resetSecondTimer(now time.Time) {
	r.nextSecondAt = now.Add(time.Second)
}

// afterDeparture checks whether a leave or forfeit ended the game.
func (r *Room) afterDeparture(now time.Time) {
	if r.game.Status == ludo.StatusFinished {
		r.onGameFinished(now)
	}
}

// onGameFinished schedules eviction and credits the winner once.
func (r *Room) onGameFinished(now time.Time) {
	r.rollResolveAt = time.Time{}
	r.advanceAt = time.Time{}
	r.autoStartAt = time.Time{}
	r.evictAt = now.Add(r.cfg.FinishedEvictDelay)

	winnerID := r.game.WinnerID
	if r.payoutDone || winnerID == 0 || r.cfg.Prize <= 0 {
		return
	}
	r.payoutDone = true

	code, prize, svc := r.Code, r.cfg.Prize, r.store
	txnID := fmt.Sprintf("win:%s:%d", code, winnerID)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.CreditBalance(ctx, winnerID, prize, txnID); err != nil {
			log.Printf("[Room %s] credit winner %d failed: %v", code, winnerID, err)
			return
		}
		log.Printf("[Room %s] Credited %d to winner %d", code, prize, winnerID)
	}()
}

// persistNewTurnEvents ships turn-log entries appended since the last
// call. Best effort: failures are logged and play continues.
func (r *Room) persistNewTurnEvents() {
	if r.persistedSeq >= len(r.game.TurnLog) {
		return
	}
	pending := make([]ludo.TurnEvent, len(r.game.TurnLog)-r.persistedSeq)
	copy(pending, r.game.TurnLog[r.persistedSeq:])
	r.persistedSeq = len(r.game.TurnLog)

	gameID, code, tournamentID, svc := r.GameID, r.Code, r.game.TournamentID, r.store
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, ev := range pending {
			if err := svc.AppendTurnEvent(ctx, gameID, code, tournamentID, ev); err != nil {
				log.Printf("[Room %s] persist turn event seq=%d failed: %v", code, ev.Seq, err)
			}
		}
	}()
}

func (r *Room) persistChat(entry ludo.ChatEntry) {
	code, tournamentID, svc := r.Code, r.game.TournamentID, r.store
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.AppendChat(ctx, code, tournamentID, entry); err != nil {
			log.Printf("[Room %s] persist chat failed: %v", code, err)
		}
	}()
}

// broadcast sends the full game snapshot to every connected sink,
// dropping sinks whose connection has died.
func (r *Room) broadcast(now time.Time) {
	r.nextBroadcast = now.Add(r.cfg.CountdownEvery)

	data := protocol.GameState(r.game)
	if data == nil {
		log.Printf("[Room %s] Failed to encode game state", r.Code)
		return
	}
	for userID, sink := range r.sinks {
		if sink == nil || !sink.Send(data) {
			delete(r.sinks, userID)
			r.game.SetDisconnected(userID, true)
		}
	}
}
