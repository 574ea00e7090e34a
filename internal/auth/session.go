package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultSessionTTL = 30 * 24 * time.Hour
	tokenBytes        = 32
)

var (
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidPassword    = errors.New("invalid password")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.-]{2,31}$`)

// Manager provides in-memory account/session management for single-binary
// deployment. Suitable for local play; nothing survives a restart.
type Manager struct {
	mu sync.Mutex

	nextUserID uint64
	sessionTTL time.Duration
	sessions   map[string]sessionRecord
	usersByID  map[uint64]userRecord
	usersByKey map[string]uint64 // normalized username -> user id
}

type sessionRecord struct {
	UserID    uint64
	ExpiresAt time.Time
}

type userRecord struct {
	UserID       uint64
	Username     string
	PasswordHash []byte
	LastLoginAt  time.Time
}

func NewManager() *Manager {
	return &Manager{
		nextUserID: 100000, // start from a readable non-trivial range
		sessionTTL: defaultSessionTTL,
		sessions:   make(map[string]sessionRecord),
		usersByID:  make(map[uint64]userRecord),
		usersByKey: make(map[string]uint64),
	}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func validateUsername(username string) error {
	if !usernamePattern.MatchString(strings.TrimSpace(username)) {
		return ErrInvalidUsername
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 6 || len(password) > 72 {
		return ErrInvalidPassword
	}
	return nil
}

func (m *Manager) issueSessionLocked(userID uint64, now time.Time) string {
	token := mustToken()
	m.sessions[token] = sessionRecord{
		UserID:    userID,
		ExpiresAt: now.Add(m.sessionTTL),
	}
	return token
}

// Register creates a new account and returns an authenticated session token.
func (m *Manager) Register(username, password string) (userID uint64, sessionToken string, err error) {
	if err = validateUsername(username); err != nil {
		return 0, "", err
	}
	if err = validatePassword(password); err != nil {
		return 0, "", err
	}

	normalized := normalizeUsername(username)
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.usersByKey[normalized]; exists {
		return 0, "", ErrUsernameTaken
	}

	m.nextUserID++
	userID = m.nextUserID
	now := time.Now()
	m.usersByID[userID] = userRecord{
		UserID:       userID,
		Username:     normalized,
		PasswordHash: passwordHash,
		LastLoginAt:  now,
	}
	m.usersByKey[normalized] = userID

	return userID, m.issueSessionLocked(userID, now), nil
}

// Login validates credentials and returns a fresh authenticated session.
func (m *Manager) Login(username, password string) (userID uint64, sessionToken string, err error) {
	normalized := normalizeUsername(username)
	if normalized == "" || password == "" {
		return 0, "", ErrInvalidCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	userID, exists := m.usersByKey[normalized]
	if !exists {
		return 0, "", ErrInvalidCredentials
	}
	user := m.usersByID[userID]
	if len(user.PasswordHash) == 0 {
		return 0, "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		return 0, "", ErrInvalidCredentials
	}

	now := time.Now()
	user.LastLoginAt = now
	m.usersByID[userID] = user
	return userID, m.issueSessionLocked(userID, now), nil
}

// ResolveSession validates a session token and slides its expiry forward.
func (m *Manager) ResolveSession(token string) (userID uint64, username string, ok bool) {
	if token == "" {
		return 0, "", false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	rec, exists := m.sessions[token]
	if !exists {
		return 0, "", false
	}
	if !now.Before(rec.ExpiresAt) {
		delete(m.sessions, token)
		return 0, "", false
	}
	rec.ExpiresAt = now.Add(m.sessionTTL)
	m.sessions[token] = rec

	return rec.UserID, m.usersByID[rec.UserID].Username, true
}

// Logout invalidates a session token.
func (m *Manager) Logout(token string) {
	if token == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}

func (m *Manager) Close() error { return nil }

func mustToken() string {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
