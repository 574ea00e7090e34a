package registry

import (
	"context"
	"errors"
	"testing"

	"ludo-live/internal/room"
	"ludo-live/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.SQLiteService) {
	t.Helper()
	svc, err := store.NewSQLiteService(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	reg := New(svc, room.DefaultConfig())
	t.Cleanup(func() {
		reg.Stop()
		_ = svc.Close()
	})
	return reg, svc
}

func TestResolveOpensManualRoomForUnknownCode(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	rm, err := reg.Resolve(ctx, "abc123")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rm.Code != "ABC123" {
		t.Fatalf("code=%s, want uppercased ABC123", rm.Code)
	}

	// Same code maps to the same live room.
	again, err := reg.Resolve(ctx, "ABC123")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if again != rm {
		t.Fatal("expected the same room instance")
	}
	if reg.RoomCount() != 1 {
		t.Fatalf("room count=%d, want 1", reg.RoomCount())
	}
}

func TestResolveRejectsBlankCode(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if _, err := reg.Resolve(context.Background(), "   "); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
}

func TestResolveSeedsTournamentRoom(t *testing.T) {
	reg, svc := newTestRegistry(t)
	ctx := context.Background()

	seed := store.Tournament{ID: "t-9", Code: "CUP001", Status: store.TournamentActive, MaxPlayers: 2, Prize: 1000}
	if err := svc.UpsertTournament(ctx, seed); err != nil {
		t.Fatalf("seed tournament: %v", err)
	}

	rm, err := reg.Resolve(ctx, "cup001")
	if err != nil {
		t.Fatalf("resolve tournament: %v", err)
	}
	if rm.Code != "CUP001" {
		t.Fatalf("code=%s, want CUP001", rm.Code)
	}
}

func TestResolveRejectsCompletedTournament(t *testing.T) {
	reg, svc := newTestRegistry(t)
	ctx := context.Background()

	seed := store.Tournament{ID: "t-10", Code: "OLD001", Status: store.TournamentCompleted, MaxPlayers: 4}
	if err := svc.UpsertTournament(ctx, seed); err != nil {
		t.Fatalf("seed tournament: %v", err)
	}

	if _, err := reg.Resolve(ctx, "OLD001"); !errors.Is(err, ErrTournamentOver) {
		t.Fatalf("expected ErrTournamentOver, got %v", err)
	}
}

func TestClosedRoomReplacedOnResolve(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	rm, err := reg.Resolve(ctx, "GONE42")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	rm.Stop()

	replacement, err := reg.Resolve(ctx, "GONE42")
	if err != nil {
		t.Fatalf("resolve after stop: %v", err)
	}
	if replacement == rm {
		t.Fatal("expected a fresh room after the old one closed")
	}
	if replacement.Closed() {
		t.Fatal("replacement room must be live")
	}
}
