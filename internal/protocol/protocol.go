// Package protocol defines the JSON wire contract between clients and the
// server. Inbound frames are {action, payload}; outbound frames are
// {type, payload}. Clients re-render from full game snapshots.
package protocol

import "encoding/json"

// Inbound actions.
const (
	ActionAuth     = "AUTH"
	ActionStart    = "START_GAME"
	ActionRoll     = "ROLL_DICE"
	ActionMove     = "MOVE_PIECE"
	ActionLeave    = "LEAVE_GAME"
	ActionSendChat = "SEND_CHAT_MESSAGE"
)

// Outbound frame types.
const (
	TypeAuthSuccess = "AUTH_SUCCESS"
	TypeAuthFailure = "AUTH_FAILURE"
	TypeGameState   = "GAME_STATE_UPDATE"
	TypeError       = "ERROR"
)

// WebSocket close codes.
const (
	CloseAuthFailure = 4001
	CloseServerError = 1011
)

type Inbound struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

type Outbound struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type AuthPayload struct {
	Token string `json:"token"`
}

type MovePayload struct {
	PieceID int `json:"pieceId"`
}

type ChatPayload struct {
	Text string `json:"text"`
}

type MessagePayload struct {
	Message string `json:"message"`
}

// Encode marshals an outbound frame. Marshal failures are programming
// errors on our own types; callers treat a nil slice as "skip send".
func Encode(frameType string, payload interface{}) []byte {
	data, err := json.Marshal(Outbound{Type: frameType, Payload: payload})
	if err != nil {
		return nil
	}
	return data
}

func AuthSuccess() []byte {
	return Encode(TypeAuthSuccess, struct{}{})
}

func AuthFailure(message string) []byte {
	return Encode(TypeAuthFailure, MessagePayload{Message: message})
}

func GameState(snapshot interface{}) []byte {
	return Encode(TypeGameState, snapshot)
}

func Error(message string) []byte {
	return Encode(TypeError, MessagePayload{Message: message})
}
