package auth

import (
	"fmt"
	"strings"
)

const (
	ModeMemory = "memory"
	ModeSQLite = "sqlite"
	ModeDB     = "db"
)

// NewService builds an auth backend for the configured mode. The returned
// string is the normalized mode name, for startup logging.
func NewService(mode string) (Service, string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeMemory, "mem":
		return NewManager(), ModeMemory, nil
	case ModeSQLite, "local":
		manager, err := NewSQLiteManagerFromEnv()
		if err != nil {
			return nil, ModeSQLite, err
		}
		return manager, ModeSQLite, nil
	case ModeDB, "postgres", "postgresql":
		manager, err := NewPostgresManagerFromEnv()
		if err != nil {
			return nil, ModeDB, err
		}
		return manager, ModeDB, nil
	default:
		return nil, mode, fmt.Errorf("invalid auth mode %q (supported: %s, %s, %s)", mode, ModeMemory, ModeSQLite, ModeDB)
	}
}
