package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"ludo-live/ludo"
)

func newTestStore(t *testing.T) *SQLiteService {
	t.Helper()
	svc, err := NewSQLiteService(":memory:")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestTournamentLookup(t *testing.T) {
	svc := newTestStore(t)
	ctx := context.Background()

	if _, err := svc.TournamentByCode(ctx, "NOPE42"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown code: got err=%v, want ErrNotFound", err)
	}

	seed := Tournament{ID: "t-1", Code: "luDo99", Status: TournamentActive, MaxPlayers: 4, Prize: 500}
	if err := svc.UpsertTournament(ctx, seed); err != nil {
		t.Fatalf("upsert tournament: %v", err)
	}

	// Codes are stored and looked up uppercased.
	got, err := svc.TournamentByCode(ctx, "ludo99")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != "t-1" || got.Code != "LUDO99" || got.Status != TournamentActive || got.Prize != 500 {
		t.Fatalf("unexpected tournament: %+v", got)
	}

	seed.Status = TournamentCompleted
	if err := svc.UpsertTournament(ctx, seed); err != nil {
		t.Fatalf("re-upsert tournament: %v", err)
	}
	got, err = svc.TournamentByCode(ctx, "LUDO99")
	if err != nil {
		t.Fatalf("lookup after update: %v", err)
	}
	if got.Status != TournamentCompleted {
		t.Fatalf("status not updated: %+v", got)
	}
}

func TestCreditBalanceIdempotent(t *testing.T) {
	svc := newTestStore(t)
	ctx := context.Background()

	if balance, err := svc.Balance(ctx, 7); err != nil || balance != 0 {
		t.Fatalf("fresh balance: got %d err=%v", balance, err)
	}

	for i := 0; i < 3; i++ {
		if err := svc.CreditBalance(ctx, 7, 500, "win:GAME42:7"); err != nil {
			t.Fatalf("credit attempt %d: %v", i, err)
		}
	}
	balance, err := svc.Balance(ctx, 7)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 500 {
		t.Fatalf("repeated credit with same txn id: balance=%d, want 500", balance)
	}

	if err := svc.CreditBalance(ctx, 7, 250, "win:OTHER1:7"); err != nil {
		t.Fatalf("second credit: %v", err)
	}
	balance, err = svc.Balance(ctx, 7)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 750 {
		t.Fatalf("distinct txn credit: balance=%d, want 750", balance)
	}
}

func TestAppendChatAndTurnHistory(t *testing.T) {
	svc := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entry := ludo.ChatEntry{ID: "c-1", UserID: 3, Name: "ana", Text: "gg", SentAt: now}
	if err := svc.AppendChat(ctx, "GAME42", "t-1", entry); err != nil {
		t.Fatalf("append chat: %v", err)
	}
	// Duplicate ids are swallowed, not errored.
	if err := svc.AppendChat(ctx, "GAME42", "t-1", entry); err != nil {
		t.Fatalf("duplicate chat: %v", err)
	}

	events := []ludo.TurnEvent{
		{Seq: 1, UserID: 3, Kind: ludo.EventRoll, Dice: 6, At: now},
		{Seq: 2, UserID: 3, Kind: ludo.EventMove, Dice: 6, PieceID: 4, From: -1, To: 1, At: now},
		{Seq: 3, UserID: 3, Kind: ludo.EventCapture, PieceID: 4, To: 13, Captured: []int{9}, At: now},
	}
	for _, ev := range events {
		if err := svc.AppendTurnEvent(ctx, "g-1", "GAME42", "t-1", ev); err != nil {
			t.Fatalf("append turn event seq=%d: %v", ev.Seq, err)
		}
	}
	// Replaying a sequence number for the same game is a no-op.
	if err := svc.AppendTurnEvent(ctx, "g-1", "GAME42", "t-1", events[0]); err != nil {
		t.Fatalf("replay turn event: %v", err)
	}

	var count int
	if err := svc.db.QueryRow(`SELECT COUNT(1) FROM game_turn_history WHERE game_code = 'GAME42'`).Scan(&count); err != nil {
		t.Fatalf("count turn history: %v", err)
	}
	if count != 3 {
		t.Fatalf("turn history rows=%d, want 3", count)
	}
}

func TestTurnHistorySurvivesGameCodeReuse(t *testing.T) {
	svc := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Two distinct games on the same code both restart seq at 1; both
	// logs must land.
	first := ludo.TurnEvent{Seq: 1, UserID: 3, Kind: ludo.EventRoll, Dice: 6, At: now}
	if err := svc.AppendTurnEvent(ctx, "g-1", "GAME1", "", first); err != nil {
		t.Fatalf("first game event: %v", err)
	}
	second := ludo.TurnEvent{Seq: 1, UserID: 8, Kind: ludo.EventRoll, Dice: 2, At: now}
	if err := svc.AppendTurnEvent(ctx, "g-2", "GAME1", "", second); err != nil {
		t.Fatalf("second game event: %v", err)
	}

	var count int
	if err := svc.db.QueryRow(`SELECT COUNT(1) FROM game_turn_history WHERE game_code = 'GAME1'`).Scan(&count); err != nil {
		t.Fatalf("count turn history: %v", err)
	}
	if count != 2 {
		t.Fatalf("turn history rows=%d, want 2 (one per game instance)", count)
	}

	if err := svc.AppendTurnEvent(ctx, "", "GAME1", "", first); err == nil {
		t.Fatal("expected error for empty game id")
	}
}

func TestSettingLookup(t *testing.T) {
	svc := newTestStore(t)
	ctx := context.Background()

	if _, err := svc.Setting(ctx, "prize.default"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing setting: got err=%v, want ErrNotFound", err)
	}
	if _, err := svc.db.Exec(`INSERT INTO app_settings (key, value) VALUES ('prize.default', '500')`); err != nil {
		t.Fatalf("seed setting: %v", err)
	}
	value, err := svc.Setting(ctx, "prize.default")
	if err != nil {
		t.Fatalf("setting: %v", err)
	}
	if value != "500" {
		t.Fatalf("setting value=%q, want 500", value)
	}
}
