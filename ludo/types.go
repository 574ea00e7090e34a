package ludo

import "time"

// Board geometry. The main path is a 52-cell loop shared by all colors;
// each color enters its private six-cell home stretch after passing its
// pre-home cell. Home stretch cells are encoded as 100..105.
const (
	TotalPathLength   = 52
	HomeStretchLength = 6
	FinishStart       = 100
	FinishPosition    = FinishStart + HomeStretchLength - 1
	HomePosition      = -1
	PiecesPerPlayer   = 4
)

const (
	MaxConsecutiveSixes = 3
	PityRollThreshold   = 4
	MaxChatEntries      = 50
)

// Color identifies a seat's piece color.
type Color string

const (
	ColorRed    Color = "red"
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"
	ColorYellow Color = "yellow"
)

// colorIndex fixes piece id assignment: id = colorIndex*4 + slot.
var colorIndex = map[Color]int{
	ColorRed:    0,
	ColorGreen:  1,
	ColorBlue:   2,
	ColorYellow: 3,
}

var startCell = map[Color]int{
	ColorGreen:  1,
	ColorRed:    14,
	ColorBlue:   27,
	ColorYellow: 40,
}

// preHomeCell is the last main-path cell before a color's home stretch.
var preHomeCell = map[Color]int{
	ColorGreen:  51,
	ColorRed:    12,
	ColorBlue:   25,
	ColorYellow: 38,
}

var safeCells = map[int]bool{
	1: true, 9: true, 14: true, 22: true,
	27: true, 35: true, 40: true, 48: true,
}

// IsSafeCell reports whether captures are prohibited on a main-path cell.
func IsSafeCell(pos int) bool { return safeCells[pos] }

// PieceState tracks where a piece is in its lifecycle.
type PieceState string

const (
	PieceHome     PieceState = "home"
	PieceActive   PieceState = "active"
	PieceFinished PieceState = "finished"
)

type Piece struct {
	ID       int        `json:"id"`
	State    PieceState `json:"state"`
	Position int        `json:"position"`
}

type Player struct {
	ID           uint64  `json:"id"`
	Name         string  `json:"name"`
	Color        Color   `json:"color"`
	Pieces       []Piece `json:"pieces"`
	IsHost       bool    `json:"isHost"`
	HasFinished  bool    `json:"hasFinished"`
	IsRemoved    bool    `json:"isRemoved"`
	Disconnected bool    `json:"disconnected"`

	InactiveTurns    int `json:"inactiveTurns"`
	ConsecutiveSixes int `json:"consecutiveSixes"`
	// Failed non-six rolls while all four pieces sit at home; at
	// PityRollThreshold the next roll is a forced six.
	PityRolls int `json:"rollsWithoutSix"`
}

// GameType distinguishes ad-hoc rooms from tournament-seeded ones.
type GameType string

const (
	TypeManual     GameType = "manual"
	TypeTournament GameType = "tournament"
)

type Status string

const (
	StatusSetup    Status = "setup"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

type ChatEntry struct {
	ID     string    `json:"id"`
	UserID uint64    `json:"userId"`
	Name   string    `json:"name"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}

// TurnEvent is one structured entry of the append-only turn log.
type TurnEvent struct {
	Seq      int       `json:"seq"`
	UserID   uint64    `json:"userId"`
	Kind     string    `json:"kind"`
	Dice     int       `json:"dice,omitempty"`
	PieceID  int       `json:"pieceId,omitempty"`
	From     int       `json:"from,omitempty"`
	To       int       `json:"to,omitempty"`
	Captured []int     `json:"captured,omitempty"`
	At       time.Time `json:"at"`
}

// Turn log event kinds.
const (
	EventRoll    = "roll"
	EventMove    = "move"
	EventCapture = "capture"
	EventPenalty = "penalty"
	EventNoMove  = "noMove"
	EventTimeout = "timeout"
	EventLeave   = "leave"
	EventFinish  = "finish"
	EventWin     = "win"
)

// seatColors returns the fixed color sequence for a table size.
func seatColors(maxPlayers int) []Color {
	if maxPlayers == 2 {
		return []Color{ColorGreen, ColorBlue}
	}
	return []Color{ColorRed, ColorGreen, ColorBlue, ColorYellow}
}
