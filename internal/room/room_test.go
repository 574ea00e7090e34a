package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"ludo-live/internal/protocol"
	"ludo-live/internal/store"
	"ludo-live/ludo"
)

// fakeClock lets tests move room time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{cur: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(d)
	return c.cur
}

// fakeSink records every frame the room pushes.
type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
	dead   bool
}

func (s *fakeSink) Send(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return false
	}
	s.frames = append(s.frames, data)
	return true
}

func (s *fakeSink) lastFrameType(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		t.Fatal("no frames received")
	}
	var out protocol.Outbound
	if err := json.Unmarshal(s.frames[len(s.frames)-1], &out); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	return out.Type
}

// fakeStore records credits; everything else is a no-op.
type fakeStore struct {
	mu      sync.Mutex
	credits map[string]int64
	chats   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{credits: make(map[string]int64)}
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) TournamentByCode(_ context.Context, _ string) (*store.Tournament, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) UpsertTournament(_ context.Context, _ store.Tournament) error { return nil }

func (f *fakeStore) AppendChat(_ context.Context, _, _ string, _ ludo.ChatEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats++
	return nil
}

func (f *fakeStore) AppendTurnEvent(_ context.Context, _, _, _ string, _ ludo.TurnEvent) error {
	return nil
}

func (f *fakeStore) CreditBalance(_ context.Context, _ uint64, amount int64, txnID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, seen := f.credits[txnID]; !seen {
		f.credits[txnID] = amount
	}
	return nil
}

func (f *fakeStore) Balance(_ context.Context, _ uint64) (int64, error) { return 0, nil }

func (f *fakeStore) Setting(_ context.Context, _ string) (string, error) {
	return "", store.ErrNotFound
}

func (f *fakeStore) creditFor(txnID string) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.credits[txnID]
	return v, ok
}

func diceScript(values ...int) func() int {
	i := 0
	return func() int {
		v := values[i%len(values)]
		i++
		return v
	}
}

type roomFixture struct {
	room  *Room
	clock *fakeClock
	store *fakeStore
	sinks map[uint64]*fakeSink
}

func newRoomFixture(t *testing.T, gameType ludo.GameType, cfg Config, roll func() int) *roomFixture {
	t.Helper()
	clock := newFakeClock()
	fs := newFakeStore()
	cfg.Roll = roll
	cfg.Now = clock.Now

	r, err := New("TEST42", gameType, 2, "", fs, cfg)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	t.Cleanup(r.Stop)
	return &roomFixture{room: r, clock: clock, store: fs, sinks: make(map[uint64]*fakeSink)}
}

func (fx *roomFixture) join(t *testing.T, userID uint64, name string) *fakeSink {
	t.Helper()
	sink := &fakeSink{}
	fx.sinks[userID] = sink
	if err := fx.room.handleCommand(Command{Type: CmdJoin, UserID: userID, Name: name, Sink: sink}); err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	return sink
}

func (fx *roomFixture) action(t *testing.T, userID uint64, action string, payload any) {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		raw = data
	}
	if err := fx.room.handleCommand(Command{Type: CmdAction, UserID: userID, Action: action, Payload: raw}); err != nil {
		t.Fatalf("action %s: %v", action, err)
	}
}

// tickAfter advances the clock and runs one tick at the new time.
func (fx *roomFixture) tickAfter(d time.Duration) {
	now := fx.clock.Advance(d)
	fx.room.mu.Lock()
	fx.room.tick(now)
	fx.room.mu.Unlock()
}

func (fx *roomFixture) gameStatus() ludo.Status {
	fx.room.mu.RLock()
	defer fx.room.mu.RUnlock()
	return fx.room.game.Status
}

func startedTwoPlayerRoom(t *testing.T, cfg Config, roll func() int) *roomFixture {
	t.Helper()
	fx := newRoomFixture(t, ludo.TypeManual, cfg, roll)
	fx.join(t, 1, "P1")
	fx.join(t, 2, "P2")
	fx.action(t, 1, protocol.ActionStart, nil)
	if fx.gameStatus() != ludo.StatusPlaying {
		t.Fatalf("game not playing after host start: %s", fx.gameStatus())
	}
	return fx
}

func TestJoinAndHostStart(t *testing.T) {
	fx := newRoomFixture(t, ludo.TypeManual, DefaultConfig(), diceScript(1))
	s1 := fx.join(t, 1, "P1")

	// First frame to a joiner is the auth ack.
	s1.mu.Lock()
	var first protocol.Outbound
	if err := json.Unmarshal(s1.frames[0], &first); err != nil {
		t.Fatalf("bad first frame: %v", err)
	}
	s1.mu.Unlock()
	if first.Type != protocol.TypeAuthSuccess {
		t.Fatalf("first frame type=%s, want %s", first.Type, protocol.TypeAuthSuccess)
	}

	// Non-host cannot start.
	fx.join(t, 2, "P2")
	fx.action(t, 2, protocol.ActionStart, nil)
	if fx.gameStatus() != ludo.StatusSetup {
		t.Fatalf("non-host start must be ignored, got %s", fx.gameStatus())
	}

	fx.action(t, 1, protocol.ActionStart, nil)
	if fx.gameStatus() != ludo.StatusPlaying {
		t.Fatalf("host start: got %s", fx.gameStatus())
	}
	if got := s1.lastFrameType(t); got != protocol.TypeGameState {
		t.Fatalf("broadcast type=%s, want %s", got, protocol.TypeGameState)
	}
}

func TestRollResolvesAfterDelay(t *testing.T) {
	fx := startedTwoPlayerRoom(t, DefaultConfig(), diceScript(6))
	fx.action(t, 1, protocol.ActionRoll, nil)

	fx.room.mu.RLock()
	rolling := fx.room.game.IsRolling
	fx.room.mu.RUnlock()
	if !rolling {
		t.Fatal("expected roll in flight")
	}

	// Too early: nothing resolves.
	fx.tickAfter(100 * time.Millisecond)
	fx.room.mu.RLock()
	dice := fx.room.game.Dice
	fx.room.mu.RUnlock()
	if dice != 0 {
		t.Fatalf("dice resolved too early: %d", dice)
	}

	fx.tickAfter(500 * time.Millisecond)
	fx.room.mu.RLock()
	dice, movable := fx.room.game.Dice, fx.room.game.Movable
	fx.room.mu.RUnlock()
	if dice != 6 {
		t.Fatalf("dice=%d, want 6", dice)
	}
	if len(movable) != ludo.PiecesPerPlayer {
		t.Fatalf("movable=%v, want all four home pieces", movable)
	}
}

func TestNoMoveRollAdvancesSeatAfterDelay(t *testing.T) {
	// All pieces home and a non-six: nothing to move.
	fx := startedTwoPlayerRoom(t, DefaultConfig(), diceScript(3))
	fx.action(t, 1, protocol.ActionRoll, nil)
	fx.tickAfter(600 * time.Millisecond)

	fx.room.mu.RLock()
	dice, seat := fx.room.game.Dice, fx.room.game.CurrentSeat
	fx.room.mu.RUnlock()
	if dice != 3 || seat != 0 {
		t.Fatalf("after no-move roll: dice=%d seat=%d, want dice shown and seat held", dice, seat)
	}

	fx.tickAfter(1500 * time.Millisecond)
	fx.room.mu.RLock()
	dice, seat = fx.room.game.Dice, fx.room.game.CurrentSeat
	fx.room.mu.RUnlock()
	if dice != 0 || seat != 1 {
		t.Fatalf("after advance delay: dice=%d seat=%d, want cleared dice and seat 1", dice, seat)
	}
}

func TestMovePieceBroadcastsAndKeepsBonusTurn(t *testing.T) {
	fx := startedTwoPlayerRoom(t, DefaultConfig(), diceScript(6))
	fx.action(t, 1, protocol.ActionRoll, nil)
	fx.tickAfter(600 * time.Millisecond)

	fx.action(t, 1, protocol.ActionMove, protocol.MovePayload{PieceID: 4})

	fx.room.mu.RLock()
	defer fx.room.mu.RUnlock()
	p := fx.room.game.PlayerByID(1)
	if p.Pieces[0].Position != 1 || p.Pieces[0].State != ludo.PieceActive {
		t.Fatalf("piece not moved out: %+v", p.Pieces[0])
	}
	// A six keeps the turn.
	if fx.room.game.CurrentSeat != 0 {
		t.Fatalf("seat=%d, want 0 (bonus turn)", fx.room.game.CurrentSeat)
	}
}

func TestReconnectWithinGraceKeepsSeat(t *testing.T) {
	fx := startedTwoPlayerRoom(t, DefaultConfig(), diceScript(1))

	fx.room.handleCommand(Command{Type: CmdConnLost, UserID: 2, Sink: fx.sinks[2]})
	fx.room.mu.RLock()
	p2 := fx.room.game.PlayerByID(2)
	disconnected, removed := p2.Disconnected, p2.IsRemoved
	fx.room.mu.RUnlock()
	if !disconnected || removed {
		t.Fatalf("after conn lost: disconnected=%v removed=%v", disconnected, removed)
	}

	// Reconnect before the grace deadline.
	fx.clock.Advance(10 * time.Second)
	fx.join(t, 2, "P2")
	fx.tickAfter(25 * time.Second) // past the original deadline

	fx.room.mu.RLock()
	p2 = fx.room.game.PlayerByID(2)
	disconnected, removed = p2.Disconnected, p2.IsRemoved
	fx.room.mu.RUnlock()
	if disconnected || removed {
		t.Fatalf("after reconnect: disconnected=%v removed=%v", disconnected, removed)
	}
}

func TestGraceExpiryForfeitsAndPaysWinner(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Prize = 500
	fx := startedTwoPlayerRoom(t, cfg, diceScript(1))

	fx.room.handleCommand(Command{Type: CmdConnLost, UserID: 2, Sink: fx.sinks[2]})
	fx.tickAfter(31 * time.Second)

	fx.room.mu.RLock()
	status, winner := fx.room.game.Status, fx.room.game.WinnerID
	evictAt := fx.room.evictAt
	fx.room.mu.RUnlock()
	if status != ludo.StatusFinished || winner != 1 {
		t.Fatalf("status=%s winner=%d, want finished winner 1", status, winner)
	}
	if evictAt.IsZero() {
		t.Fatal("finished room must have an evict deadline")
	}

	// Payout runs async with an idempotent txn id.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if amount, ok := fx.store.creditFor("win:TEST42:1"); ok {
			if amount != 500 {
				t.Fatalf("credited %d, want 500", amount)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("winner payout never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTournamentAutoStartWhenFull(t *testing.T) {
	fx := newRoomFixture(t, ludo.TypeTournament, DefaultConfig(), diceScript(1))
	fx.join(t, 1, "P1")
	if fx.gameStatus() != ludo.StatusSetup {
		t.Fatalf("one player: got %s", fx.gameStatus())
	}
	fx.join(t, 2, "P2")

	fx.tickAfter(time.Second)
	if fx.gameStatus() != ludo.StatusSetup {
		t.Fatal("auto-start fired before its delay")
	}
	fx.tickAfter(3 * time.Second)
	if fx.gameStatus() != ludo.StatusPlaying {
		t.Fatalf("auto-start: got %s", fx.gameStatus())
	}
}

func TestTurnTimeoutCountsInactiveTurns(t *testing.T) {
	fx := startedTwoPlayerRoom(t, DefaultConfig(), diceScript(1))

	// Let P1's full countdown elapse one second at a time.
	for i := 0; i < 31; i++ {
		fx.tickAfter(time.Second)
	}

	fx.room.mu.RLock()
	p1 := fx.room.game.PlayerByID(1)
	inactive, seat := p1.InactiveTurns, fx.room.game.CurrentSeat
	fx.room.mu.RUnlock()
	if inactive != 1 {
		t.Fatalf("inactive turns=%d, want 1", inactive)
	}
	if seat != 1 {
		t.Fatalf("seat=%d, want 1 after timeout", seat)
	}
}

func TestIdleRoomEvicted(t *testing.T) {
	fx := newRoomFixture(t, ludo.TypeManual, DefaultConfig(), diceScript(1))
	fx.join(t, 1, "P1")

	fx.room.handleCommand(Command{Type: CmdConnLost, UserID: 1, Sink: fx.sinks[1]})
	fx.tickAfter(61 * time.Second)

	if !fx.room.Closed() {
		t.Fatal("empty room must be evicted after the idle delay")
	}
}

func TestChatStoredAndPersisted(t *testing.T) {
	fx := startedTwoPlayerRoom(t, DefaultConfig(), diceScript(1))

	fx.action(t, 1, protocol.ActionSendChat, protocol.ChatPayload{Text: "  hello  "})
	fx.action(t, 2, protocol.ActionSendChat, protocol.ChatPayload{Text: ""}) // ignored

	fx.room.mu.RLock()
	chat := fx.room.game.Chat
	fx.room.mu.RUnlock()
	if len(chat) != 1 {
		t.Fatalf("chat entries=%d, want 1", len(chat))
	}
	if chat[0].Text != "hello" || chat[0].UserID != 1 || chat[0].ID == "" {
		t.Fatalf("unexpected chat entry: %+v", chat[0])
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		fx.store.mu.Lock()
		persisted := fx.store.chats
		fx.store.mu.Unlock()
		if persisted == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("chat never persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
