package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ludo-live/ludo"
)

var ErrNotFound = errors.New("not found")

// Tournament statuses as stored.
const (
	TournamentActive    = "ACTIVE"
	TournamentCompleted = "COMPLETED"
)

type Tournament struct {
	ID         string
	Code       string
	Status     string
	MaxPlayers int
	Prize      int64
}

// Service is the persistence port the game core depends on. Every write
// is best-effort for gameplay: callers log failures and continue.
type Service interface {
	Close() error
	TournamentByCode(ctx context.Context, code string) (*Tournament, error)
	UpsertTournament(ctx context.Context, t Tournament) error
	AppendChat(ctx context.Context, gameCode, tournamentID string, entry ludo.ChatEntry) error
	// AppendTurnEvent keys history by gameID, a per-game-instance id:
	// game codes are reusable, so seq numbers restart for every new game
	// on the same code.
	AppendTurnEvent(ctx context.Context, gameID, gameCode, tournamentID string, ev ludo.TurnEvent) error
	// CreditBalance is idempotent per transaction id: re-crediting the
	// same txnID is a no-op.
	CreditBalance(ctx context.Context, userID uint64, amount int64, txnID string) error
	Balance(ctx context.Context, userID uint64) (int64, error)
	Setting(ctx context.Context, key string) (string, error)
}

// noopService backs the memory deployment mode: no tournaments exist and
// all writes vanish.
type noopService struct{}

func (n *noopService) Close() error { return nil }

func (n *noopService) TournamentByCode(_ context.Context, _ string) (*Tournament, error) {
	return nil, ErrNotFound
}

func (n *noopService) UpsertTournament(_ context.Context, _ Tournament) error { return nil }

func (n *noopService) AppendChat(_ context.Context, _, _ string, _ ludo.ChatEntry) error {
	return nil
}

func (n *noopService) AppendTurnEvent(_ context.Context, _, _, _ string, _ ludo.TurnEvent) error {
	return nil
}

func (n *noopService) CreditBalance(_ context.Context, _ uint64, _ int64, _ string) error {
	return nil
}

func (n *noopService) Balance(_ context.Context, _ uint64) (int64, error) { return 0, nil }

func (n *noopService) Setting(_ context.Context, _ string) (string, error) {
	return "", ErrNotFound
}

// NewService selects a backend by mode: "memory" (noop), "sqlite"
// (local file or :memory:), or "postgres" (DSN from env).
func NewService(mode, sqlitePath, postgresDSN string) (Service, string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "memory", "mem":
		return &noopService{}, "memory", nil
	case "sqlite", "local":
		if strings.TrimSpace(sqlitePath) == "" {
			sqlitePath = localDatabasePathFromEnv()
		}
		svc, err := NewSQLiteService(sqlitePath)
		if err != nil {
			return nil, "sqlite", err
		}
		return svc, "sqlite", nil
	case "postgres", "postgresql", "db":
		svc, err := NewPostgresService(postgresDSN)
		if err != nil {
			return nil, "postgres", err
		}
		return svc, "postgres", nil
	default:
		return nil, mode, fmt.Errorf("invalid store mode %q (supported: memory, sqlite, postgres)", mode)
	}
}
