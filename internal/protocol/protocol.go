package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names exchanged over the websocket
const (
	EventJoinRoom        = "join-room"
	EventCodeUpdate      = "code-update"
	EventLanguageChange  = "language-change"
	EventLanguageUpdate  = "language-update"
	EventRunCode         = "run-code"
	EventExecutionResult = "execution-result"
)

// Languages the executor knows how to run
var SupportedLanguages = map[string]bool{
	"python": true,
	"cpp":    true,
}

var (
	ErrEmptyRoomID         = errors.New("roomId is required")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrUnknownEvent        = errors.New("unknown event")
)

// Envelope wraps every frame in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type CodeUpdate struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

type LanguageChange struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
}

type RunCode struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
	Code     string `json:"code"`
}

// ExecutionResult mirrors the executor response. Pointers keep absent fields absent.
type ExecutionResult struct {
	Output *string `json:"output,omitempty"`
	Error  *string `json:"error,omitempty"`
}

// Encode builds an outbound frame
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Decode parses an inbound frame into its envelope
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, errors.New("decode envelope: missing event")
	}
	return env, nil
}

// Parses join-room data, a bare room id string
func ParseJoin(data json.RawMessage) (string, error) {
	var roomID string
	if err := json.Unmarshal(data, &roomID); err != nil {
		return "", fmt.Errorf("join-room: %w", err)
	}
	if roomID == "" {
		return "", ErrEmptyRoomID
	}
	return roomID, nil
}

func ParseCodeUpdate(data json.RawMessage) (CodeUpdate, error) {
	var p CodeUpdate
	if err := json.Unmarshal(data, &p); err != nil {
		return CodeUpdate{}, fmt.Errorf("code-update: %w", err)
	}
	if p.RoomID == "" {
		return CodeUpdate{}, ErrEmptyRoomID
	}
	return p, nil
}

func ParseLanguageChange(data json.RawMessage) (LanguageChange, error) {
	var p LanguageChange
	if err := json.Unmarshal(data, &p); err != nil {
		return LanguageChange{}, fmt.Errorf("language-change: %w", err)
	}
	if p.RoomID == "" {
		return LanguageChange{}, ErrEmptyRoomID
	}
	if !SupportedLanguages[p.Language] {
		return LanguageChange{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, p.Language)
	}
	return p, nil
}

// The language is checked later, once the relay has picked the authoritative one
func ParseRunCode(data json.RawMessage) (RunCode, error) {
	var p RunCode
	if err := json.Unmarshal(data, &p); err != nil {
		return RunCode{}, fmt.Errorf("run-code: %w", err)
	}
	if p.RoomID == "" {
		return RunCode{}, ErrEmptyRoomID
	}
	return p, nil
}
