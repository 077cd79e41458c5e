package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the client-side state shown to the user.
type Status int

const (
	Offline Status = iota
	Idle
	Listening
	Thinking
	Speaking
)

// String returns the wire name used by the backend.
func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Thinking:
		return "thinking"
	case Speaking:
		return "speaking"
	default:
		return "OFFLINE"
	}
}

// Label is the badge text for the status.
func (s Status) Label() string {
	switch s {
	case Idle:
		return "PRONTO"
	case Listening:
		return "OUVINDO..."
	case Thinking:
		return "PROCESSANDO..."
	case Speaking:
		return "FALANDO..."
	default:
		return "DESCONECTADO"
	}
}

// Image is the avatar asset for the status. There is no offline artwork.
func (s Status) Image() string {
	if s == Offline {
		return Idle.Image()
	}
	return s.String() + ".png"
}

// CanRecord reports whether a record gesture may start in this status.
// live is whether a transport is currently open.
func (s Status) CanRecord(live bool) bool {
	return live && (s == Idle || s == Offline)
}

func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "offline":
		return Offline, nil
	case "idle":
		return Idle, nil
	case "listening":
		return Listening, nil
	case "thinking":
		return Thinking, nil
	case "speaking":
		return Speaking, nil
	default:
		return Offline, fmt.Errorf("unknown status %q", v)
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	st, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = st
	return nil
}
