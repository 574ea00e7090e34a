package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ludo-live/ludo"

	_ "modernc.org/sqlite"
)

const defaultLocalDBName = "ludo_local.db"

type SQLiteService struct {
	db *sql.DB
}

func NewSQLiteServiceFromEnv() (*SQLiteService, error) {
	return NewSQLiteService(localDatabasePathFromEnv())
}

func NewSQLiteService(dbPath string) (*SQLiteService, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("empty sqlite database path")
	}
	if dbPath != ":memory:" {
		parent := filepath.Dir(dbPath)
		if parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSQLiteStoreSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteService{db: db}, nil
}

func (s *SQLiteService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteService) TournamentByCode(ctx context.Context, code string) (*Tournament, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrNotFound
	}
	var t Tournament
	err := s.db.QueryRowContext(ctx, `
SELECT id, game_code, status, max_players, prize
FROM tournaments
WHERE game_code = ?
`, code).Scan(&t.ID, &t.Code, &t.Status, &t.MaxPlayers, &t.Prize)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteService) UpsertTournament(ctx context.Context, t Tournament) error {
	if strings.TrimSpace(t.ID) == "" || strings.TrimSpace(t.Code) == "" {
		return fmt.Errorf("tournament id and code are required")
	}
	nowMs := time.Now().UTC().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tournaments (id, game_code, status, max_players, prize, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE
SET
    game_code = excluded.game_code,
    status = excluded.status,
    max_players = excluded.max_players,
    prize = excluded.prize,
    updated_at_ms = excluded.updated_at_ms
`, t.ID, strings.ToUpper(t.Code), t.Status, t.MaxPlayers, t.Prize, nowMs, nowMs)
	return err
}

func (s *SQLiteService) AppendChat(ctx context.Context, gameCode, tournamentID string, entry ludo.ChatEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return fmt.Errorf("chat entry id is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO chat_messages (id, game_code, tournament_id, user_id, name, body, sent_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING
`, entry.ID, gameCode, tournamentID, entry.UserID, entry.Name, entry.Text, entry.SentAt.UTC().UnixMilli())
	return err
}

func (s *SQLiteService) AppendTurnEvent(ctx context.Context, gameID, gameCode, tournamentID string, ev ludo.TurnEvent) error {
	if strings.TrimSpace(gameID) == "" {
		return fmt.Errorf("game id is required")
	}
	var capturedRaw any
	if len(ev.Captured) > 0 {
		raw, err := json.Marshal(ev.Captured)
		if err != nil {
			return err
		}
		capturedRaw = string(raw)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO game_turn_history (
    game_id, game_code, tournament_id, seq, user_id, kind, dice, piece_id, from_pos, to_pos, captured_json, at_ms
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (game_id, seq) DO NOTHING
`, gameID, gameCode, tournamentID, ev.Seq, ev.UserID, ev.Kind, ev.Dice, ev.PieceID, ev.From, ev.To, capturedRaw, ev.At.UTC().UnixMilli())
	return err
}

func (s *SQLiteService) CreditBalance(ctx context.Context, userID uint64, amount int64, txnID string) error {
	if userID == 0 || strings.TrimSpace(txnID) == "" {
		return fmt.Errorf("user id and txn id are required")
	}
	nowMs := time.Now().UTC().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
INSERT INTO transactions (txn_id, user_id, amount, created_at_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT (txn_id) DO NOTHING
`, txnID, userID, amount, nowMs)
	if err != nil {
		return err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		// Transaction already applied; keep the credit exactly-once.
		return tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO profiles (user_id, balance, updated_at_ms)
VALUES (?, ?, ?)
ON CONFLICT (user_id) DO UPDATE
SET
    balance = profiles.balance + excluded.balance,
    updated_at_ms = excluded.updated_at_ms
`, userID, amount, nowMs)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteService) Balance(ctx context.Context, userID uint64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
SELECT balance FROM profiles WHERE user_id = ?
`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

func (s *SQLiteService) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
SELECT value FROM app_settings WHERE key = ?
`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

func ensureSQLiteStoreSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS tournaments (
    id TEXT PRIMARY KEY,
    game_code TEXT NOT NULL UNIQUE,
    status TEXT NOT NULL,
    max_players INTEGER NOT NULL DEFAULT 4,
    prize INTEGER NOT NULL DEFAULT 0,
    created_at_ms INTEGER NOT NULL,
    updated_at_ms INTEGER NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS chat_messages (
    id TEXT PRIMARY KEY,
    game_code TEXT NOT NULL,
    tournament_id TEXT NOT NULL DEFAULT '',
    user_id INTEGER NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL,
    sent_at_ms INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_game ON chat_messages(game_code, sent_at_ms)`,
		`
CREATE TABLE IF NOT EXISTS game_turn_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    game_id TEXT NOT NULL,
    game_code TEXT NOT NULL,
    tournament_id TEXT NOT NULL DEFAULT '',
    seq INTEGER NOT NULL,
    user_id INTEGER NOT NULL,
    kind TEXT NOT NULL,
    dice INTEGER NOT NULL DEFAULT 0,
    piece_id INTEGER NOT NULL DEFAULT 0,
    from_pos INTEGER NOT NULL DEFAULT 0,
    to_pos INTEGER NOT NULL DEFAULT 0,
    captured_json TEXT,
    at_ms INTEGER NOT NULL,
    UNIQUE (game_id, seq)
)`,
		`CREATE INDEX IF NOT EXISTS idx_game_turn_history_game ON game_turn_history(game_code, seq)`,
		`
CREATE TABLE IF NOT EXISTS profiles (
    user_id INTEGER PRIMARY KEY,
    balance INTEGER NOT NULL DEFAULT 0,
    updated_at_ms INTEGER NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS transactions (
    txn_id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    amount INTEGER NOT NULL,
    created_at_ms INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, created_at_ms)`,
		`
CREATE TABLE IF NOT EXISTS app_settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func localDatabasePathFromEnv() string {
	candidates := []string{
		strings.TrimSpace(os.Getenv("STORE_LOCAL_DATABASE_PATH")),
		strings.TrimSpace(os.Getenv("LOCAL_DATABASE_PATH")),
	}
	for _, candidate := range candidates {
		if candidate != "" {
			return filepath.Clean(candidate)
		}
	}
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		return defaultLocalDBName
	}
	return filepath.Join(userConfigDir, "LudoLive", defaultLocalDBName)
}
