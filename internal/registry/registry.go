// Package registry maps game codes to live rooms and reaps rooms whose
// actors have stopped.
package registry

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"ludo-live/internal/room"
	"ludo-live/internal/store"
	"ludo-live/ludo"
)

var (
	ErrInvalidCode    = errors.New("invalid game code")
	ErrTournamentOver = errors.New("tournament already completed")
)

const sweepInterval = 15 * time.Second

// Registry owns the code -> room map. Unknown codes open ad-hoc manual
// rooms; codes registered as tournaments open rooms seeded from the
// stored tournament record.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room.Room

	store store.Service
	cfg   room.Config

	done     chan struct{}
	stopOnce sync.Once
}

func New(storeService store.Service, cfg room.Config) *Registry {
	r := &Registry{
		rooms: make(map[string]*room.Room),
		store: storeService,
		cfg:   cfg,
		done:  make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Resolve returns the live room for a code, creating it if needed.
func (r *Registry) Resolve(ctx context.Context, code string) (*room.Room, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrInvalidCode
	}

	if rm := r.lookup(code); rm != nil {
		return rm, nil
	}

	// Room creation needs the tournament record, fetched outside the lock.
	gameType := ludo.TypeManual
	maxPlayers := 4
	tournamentID := ""
	cfg := r.cfg

	t, err := r.store.TournamentByCode(ctx, code)
	switch {
	case err == nil:
		if t.Status == store.TournamentCompleted {
			return nil, ErrTournamentOver
		}
		gameType = ludo.TypeTournament
		tournamentID = t.ID
		cfg.Prize = t.Prize
		if t.MaxPlayers == 2 || t.MaxPlayers == 4 {
			maxPlayers = t.MaxPlayers
		}
	case errors.Is(err, store.ErrNotFound):
		// Ad-hoc room, anyone with the code can host one.
	default:
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rooms[code]; ok && !existing.Closed() {
		return existing, nil
	}

	rm, err := room.New(code, gameType, maxPlayers, tournamentID, r.store, cfg)
	if err != nil {
		return nil, err
	}
	r.rooms[code] = rm
	log.Printf("[Registry] Opened room %s (type=%s)", code, gameType)
	return rm, nil
}

func (r *Registry) lookup(code string) *room.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rm, ok := r.rooms[code]; ok && !rm.Closed() {
		return rm
	}
	return nil
}

// RoomCount reports live rooms, for the health endpoint.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rm := range r.rooms {
		if !rm.Closed() {
			n++
		}
	}
	return n
}

// Stop halts the janitor and every live room.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.done) })

	r.mu.Lock()
	defer r.mu.Unlock()
	for code, rm := range r.rooms {
		rm.Stop()
		delete(r.rooms, code)
	}
}

func (r *Registry) janitor() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.done:
			return
		}
	}
}

func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for code, rm := range r.rooms {
		if rm.Closed() {
			delete(r.rooms, code)
			log.Printf("[Registry] Reaped room %s", code)
		}
	}
}
