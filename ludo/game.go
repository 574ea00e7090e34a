package ludo

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

var (
	ErrGameFull       = errors.New("game is full")
	ErrGameStarted    = errors.New("game already started")
	ErrGameNotPlaying = errors.New("game not in playing state")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrRollInFlight   = errors.New("roll already in flight")
	ErrNoRollPending  = errors.New("no roll pending")
	ErrNoDice         = errors.New("no dice value to play")
	ErrInvalidMove    = errors.New("invalid move")
	ErrUnknownPlayer  = errors.New("player not in game")
	ErrNotEnough      = errors.New("not enough players")
)

// Config seeds a new game. Roll and Now are injectable for deterministic
// tests; both default to the obvious implementations.
type Config struct {
	Code         string
	Type         GameType
	MaxPlayers   int
	TournamentID string

	TurnLimit        int
	MaxInactiveTurns int
	PitySix          bool
	TripleSixPenalty bool

	Roll func() int
	Now  func() time.Time
}

// Game is the full state of one room. It performs no I/O and is not safe
// for concurrent use; the owning room actor serializes all access.
type Game struct {
	Code         string    `json:"code"`
	Type         GameType  `json:"type"`
	MaxPlayers   int       `json:"maxPlayers"`
	HostID       uint64    `json:"hostId"`
	TournamentID string    `json:"tournamentId,omitempty"`
	Players      []*Player `json:"players"`
	CurrentSeat  int       `json:"currentSeat"`
	PlayerOrder  []Color   `json:"playerOrder"`
	Status       Status    `json:"status"`

	Dice            int    `json:"dice"` // 0 = none
	IsRolling       bool   `json:"isRolling"`
	Movable         []int  `json:"movable"`
	TurnSecondsLeft int    `json:"turnSecondsLeft"`
	WinnerID        uint64 `json:"winner"` // 0 = none
	Message         string `json:"message"`

	Chat    []ChatEntry `json:"chat"`
	TurnLog []TurnEvent `json:"turnLog"`

	cfg Config
}

// RollOutcome reports what a completed roll produced. Penalty and NoMove
// leave the seat unchanged; the caller advances it after a render delay.
type RollOutcome struct {
	Value   int
	Penalty bool
	NoMove  bool
}

// MoveResult reports the effect of a completed move.
type MoveResult struct {
	PieceID   int
	From      int
	To        int
	Captured  []int
	Finished  bool
	BonusTurn bool
	Won       bool
}

func New(cfg Config) (*Game, error) {
	if cfg.MaxPlayers != 2 && cfg.MaxPlayers != 4 {
		return nil, fmt.Errorf("invalid max players: %d", cfg.MaxPlayers)
	}
	if cfg.Type == "" {
		cfg.Type = TypeManual
	}
	if cfg.TurnLimit <= 0 {
		cfg.TurnLimit = 30
	}
	if cfg.MaxInactiveTurns <= 0 {
		cfg.MaxInactiveTurns = 5
	}
	if cfg.Roll == nil {
		cfg.Roll = func() int { return rand.Intn(6) + 1 }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Game{
		Code:            cfg.Code,
		Type:            cfg.Type,
		MaxPlayers:      cfg.MaxPlayers,
		TournamentID:    cfg.TournamentID,
		CurrentSeat:     -1,
		Status:          StatusSetup,
		TurnSecondsLeft: cfg.TurnLimit,
		Message:         "Waiting for players",
		cfg:             cfg,
	}, nil
}

// TurnLimit exposes the configured per-turn countdown start value.
func (g *Game) TurnLimit() int { return g.cfg.TurnLimit }

func (g *Game) PlayerByID(userID uint64) *Player {
	for _, p := range g.Players {
		if p.ID == userID {
			return p
		}
	}
	return nil
}

// CurrentPlayer returns the player on the current seat, or nil before the
// game starts or after it finishes with no seat.
func (g *Game) CurrentPlayer() *Player {
	if g.CurrentSeat < 0 || g.CurrentSeat >= len(g.Players) {
		return nil
	}
	return g.Players[g.CurrentSeat]
}

// AddPlayer seats a new player during setup. The first joiner becomes the
// host; seat index fixes the color.
func (g *Game) AddPlayer(userID uint64, name string) (*Player, error) {
	if p := g.PlayerByID(userID); p != nil {
		return p, nil
	}
	if g.Status != StatusSetup {
		return nil, ErrGameStarted
	}
	if len(g.Players) >= g.MaxPlayers {
		return nil, ErrGameFull
	}

	color := seatColors(g.MaxPlayers)[len(g.Players)]
	pieces := make([]Piece, PiecesPerPlayer)
	for slot := range pieces {
		pieces[slot] = Piece{
			ID:       colorIndex[color]*PiecesPerPlayer + slot,
			State:    PieceHome,
			Position: HomePosition,
		}
	}
	p := &Player{
		ID:     userID,
		Name:   name,
		Color:  color,
		Pieces: pieces,
		IsHost: len(g.Players) == 0,
	}
	if p.IsHost {
		g.HostID = userID
	}
	g.Players = append(g.Players, p)
	g.Message = fmt.Sprintf("%s joined", name)
	return p, nil
}

// Start transitions the game from setup to playing. PlayerOrder is frozen
// at this moment.
func (g *Game) Start() error {
	if g.Status != StatusSetup {
		return ErrGameStarted
	}
	if len(g.Players) < 2 {
		return ErrNotEnough
	}
	g.PlayerOrder = make([]Color, 0, len(g.Players))
	for _, p := range g.Players {
		g.PlayerOrder = append(g.PlayerOrder, p.Color)
	}
	g.Status = StatusPlaying
	g.CurrentSeat = 0
	g.TurnSecondsLeft = g.cfg.TurnLimit
	g.Message = fmt.Sprintf("%s's turn", g.Players[0].Name)
	return nil
}

// InitiateRoll marks a dice roll in flight for the current player. The
// roll value is produced later by CompleteRoll.
func (g *Game) InitiateRoll(userID uint64) error {
	if g.Status != StatusPlaying {
		return ErrGameNotPlaying
	}
	p := g.CurrentPlayer()
	if p == nil || p.ID != userID {
		return ErrNotYourTurn
	}
	if g.IsRolling {
		return ErrRollInFlight
	}
	if g.Dice != 0 {
		return ErrNoDice
	}
	g.IsRolling = true
	g.Message = fmt.Sprintf("%s is rolling", p.Name)
	return nil
}

// CompleteRoll consumes the in-flight roll and produces a dice value.
// A pity six is forced when the player has every piece at home and has
// missed four sixes in a row; a third consecutive six forfeits the roll.
func (g *Game) CompleteRoll() (RollOutcome, error) {
	if !g.IsRolling {
		return RollOutcome{}, ErrNoRollPending
	}
	p := g.CurrentPlayer()
	if p == nil {
		g.IsRolling = false
		return RollOutcome{}, ErrGameNotPlaying
	}
	g.IsRolling = false
	p.InactiveTurns = 0

	var d int
	if g.cfg.PitySix && allPiecesHome(p) && p.PityRolls >= PityRollThreshold {
		d = 6
	} else {
		d = g.cfg.Roll()
	}
	if d == 6 {
		p.PityRolls = 0
	} else if allPiecesHome(p) {
		p.PityRolls++
	}

	if d == 6 {
		p.ConsecutiveSixes++
		if g.cfg.TripleSixPenalty && p.ConsecutiveSixes >= MaxConsecutiveSixes {
			// Turn forfeited: no dice shown, no movable set. The seat is
			// advanced by the caller after the clients have rendered it.
			g.Dice = 0
			g.Movable = nil
			g.appendTurnEvent(TurnEvent{UserID: p.ID, Kind: EventPenalty, Dice: d})
			g.Message = fmt.Sprintf("%s rolled three sixes and loses the turn", p.Name)
			return RollOutcome{Value: d, Penalty: true}, nil
		}
	} else {
		p.ConsecutiveSixes = 0
	}

	g.appendTurnEvent(TurnEvent{UserID: p.ID, Kind: EventRoll, Dice: d})

	movable := movablePieces(p, d)
	if len(movable) == 0 {
		g.Dice = d
		g.Movable = nil
		g.appendTurnEvent(TurnEvent{UserID: p.ID, Kind: EventNoMove, Dice: d})
		g.Message = fmt.Sprintf("%s rolled %d: no moves", p.Name, d)
		return RollOutcome{Value: d, NoMove: true}, nil
	}

	g.Dice = d
	g.Movable = movable
	g.TurnSecondsLeft = g.cfg.TurnLimit
	g.Message = fmt.Sprintf("%s rolled %d", p.Name, d)
	return RollOutcome{Value: d}, nil
}

// MovePiece applies the current dice to one of the player's movable
// pieces, resolves captures and finishes, and arbitrates the next turn.
func (g *Game) MovePiece(userID uint64, pieceID int) (MoveResult, error) {
	if g.Status != StatusPlaying {
		return MoveResult{}, ErrGameNotPlaying
	}
	p := g.CurrentPlayer()
	if p == nil || p.ID != userID {
		return MoveResult{}, ErrNotYourTurn
	}
	if g.Dice == 0 || g.IsRolling {
		return MoveResult{}, ErrNoDice
	}
	if !containsInt(g.Movable, pieceID) {
		return MoveResult{}, ErrInvalidMove
	}

	var piece *Piece
	for i := range p.Pieces {
		if p.Pieces[i].ID == pieceID {
			piece = &p.Pieces[i]
			break
		}
	}
	if piece == nil {
		return MoveResult{}, ErrInvalidMove
	}

	target, ok := ComputeTarget(*piece, p.Color, g.Dice)
	if !ok {
		return MoveResult{}, ErrInvalidMove
	}

	res := MoveResult{PieceID: pieceID, From: piece.Position, To: target.Position}
	dice := g.Dice
	piece.Position = target.Position
	piece.State = target.State
	p.InactiveTurns = 0

	if target.State == PieceActive && target.Position < FinishStart && !IsSafeCell(target.Position) {
		res.Captured = g.captureAt(target.Position, p)
	}
	res.Finished = target.State == PieceFinished

	g.appendTurnEvent(TurnEvent{
		UserID: p.ID, Kind: EventMove, Dice: dice,
		PieceID: pieceID, From: res.From, To: res.To, Captured: res.Captured,
	})
	if len(res.Captured) > 0 {
		g.appendTurnEvent(TurnEvent{UserID: p.ID, Kind: EventCapture, PieceID: pieceID, To: res.To, Captured: res.Captured})
	}
	if res.Finished {
		g.appendTurnEvent(TurnEvent{UserID: p.ID, Kind: EventFinish, PieceID: pieceID})
	}

	g.Dice = 0
	g.Movable = nil

	if res.Finished && allPiecesFinished(p) {
		p.HasFinished = true
		res.Won = true
		g.declareWinner(p)
		return res, nil
	}

	if dice == 6 || len(res.Captured) > 0 || res.Finished {
		res.BonusTurn = true
		g.TurnSecondsLeft = g.cfg.TurnLimit
		g.Message = fmt.Sprintf("%s plays again", p.Name)
		return res, nil
	}

	g.AdvanceTurn()
	return res, nil
}

// captureAt sends every opposing active piece on a main-path cell home.
func (g *Game) captureAt(pos int, mover *Player) []int {
	var captured []int
	for _, other := range g.Players {
		if other == mover || other.IsRemoved {
			continue
		}
		for i := range other.Pieces {
			pc := &other.Pieces[i]
			if pc.State == PieceActive && pc.Position == pos {
				pc.State = PieceHome
				pc.Position = HomePosition
				captured = append(captured, pc.ID)
			}
		}
	}
	return captured
}

// AdvanceTurn moves the seat to the next player still in the game and
// resets the per-seat state. If nobody remains the game finishes with no
// winner.
func (g *Game) AdvanceTurn() {
	g.Dice = 0
	g.Movable = nil
	g.IsRolling = false
	if g.Status != StatusPlaying {
		return
	}

	n := len(g.Players)
	for i := 1; i <= n; i++ {
		seat := (g.CurrentSeat + i) % n
		p := g.Players[seat]
		if p.HasFinished || p.IsRemoved {
			continue
		}
		g.CurrentSeat = seat
		p.ConsecutiveSixes = 0
		g.TurnSecondsLeft = g.cfg.TurnLimit
		g.Message = fmt.Sprintf("%s's turn", p.Name)
		return
	}

	g.Status = StatusFinished
	g.Message = "Game over"
}

// Tick decrements the turn countdown by one second. It returns true when
// the countdown has reached zero and the turn should be treated as missed.
func (g *Game) Tick() bool {
	if g.Status != StatusPlaying || g.IsRolling {
		return false
	}
	if g.TurnSecondsLeft > 0 {
		g.TurnSecondsLeft--
	}
	return g.TurnSecondsLeft <= 0
}

// HandleMissedTurn charges the current player with an inactive turn.
// Reaching the inactivity limit forfeits the seat as if the player left;
// otherwise the seat simply advances.
func (g *Game) HandleMissedTurn() (removed bool) {
	p := g.CurrentPlayer()
	if p == nil || g.Status != StatusPlaying {
		return false
	}
	p.InactiveTurns++
	g.appendTurnEvent(TurnEvent{UserID: p.ID, Kind: EventTimeout})

	if p.InactiveTurns >= g.cfg.MaxInactiveTurns {
		g.Leave(p.ID)
		return true
	}
	g.Message = fmt.Sprintf("%s ran out of time", p.Name)
	g.AdvanceTurn()
	return false
}

// Leave removes a player. During setup the seat is freed; during play the
// player is marked removed and the game may finish by attrition. Applying
// Leave twice is a no-op the second time.
func (g *Game) Leave(userID uint64) {
	p := g.PlayerByID(userID)
	if p == nil || p.IsRemoved {
		return
	}

	if g.Status == StatusSetup {
		for i, other := range g.Players {
			if other.ID == userID {
				g.Players = append(g.Players[:i], g.Players[i+1:]...)
				break
			}
		}
		if g.HostID == userID && len(g.Players) > 0 {
			g.HostID = g.Players[0].ID
			g.Players[0].IsHost = true
		}
		g.Message = fmt.Sprintf("%s left", p.Name)
		return
	}

	p.IsRemoved = true
	p.Disconnected = true
	g.appendTurnEvent(TurnEvent{UserID: p.ID, Kind: EventLeave})
	g.Message = fmt.Sprintf("%s left the game", p.Name)

	if g.Status != StatusPlaying {
		return
	}

	var last *Player
	remaining := 0
	for _, other := range g.Players {
		if !other.IsRemoved && !other.HasFinished {
			remaining++
			last = other
		}
	}
	switch {
	case remaining == 1:
		g.declareWinner(last)
	case remaining == 0:
		g.Status = StatusFinished
		g.Dice = 0
		g.Movable = nil
		g.IsRolling = false
		g.Message = "Game over"
	default:
		if g.CurrentPlayer() == p {
			g.AdvanceTurn()
		}
	}
}

// SetDisconnected flags a player's connection state without removing the
// seat; the room actor applies the reconnect grace policy on top.
func (g *Game) SetDisconnected(userID uint64, disconnected bool) {
	if p := g.PlayerByID(userID); p != nil && !p.IsRemoved {
		p.Disconnected = disconnected
	}
}

func (g *Game) declareWinner(p *Player) {
	g.WinnerID = p.ID
	g.Status = StatusFinished
	g.Dice = 0
	g.Movable = nil
	g.IsRolling = false
	g.Message = fmt.Sprintf("%s wins!", p.Name)
	g.appendTurnEvent(TurnEvent{UserID: p.ID, Kind: EventWin})
}

// AddChat appends to the bounded chat ring, dropping the oldest entry
// beyond MaxChatEntries.
func (g *Game) AddChat(entry ChatEntry) {
	if entry.SentAt.IsZero() {
		entry.SentAt = g.cfg.Now()
	}
	g.Chat = append(g.Chat, entry)
	if len(g.Chat) > MaxChatEntries {
		g.Chat = g.Chat[len(g.Chat)-MaxChatEntries:]
	}
}

func (g *Game) appendTurnEvent(ev TurnEvent) {
	ev.Seq = len(g.TurnLog) + 1
	if ev.At.IsZero() {
		ev.At = g.cfg.Now()
	}
	g.TurnLog = append(g.TurnLog, ev)
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
