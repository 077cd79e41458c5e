package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

type Kind string

const (
	KindStatus        Kind = "estado"
	KindTranscription Kind = "transcricao"
	KindReply         Kind = "resposta"
)

var (
	ErrEmptyMessage = errors.New("empty message")
	ErrUnknownKind  = errors.New("unknown message kind")
	ErrBadDebug     = errors.New("malformed debug payload")
)

// Inbound is one message pushed by the backend. Which fields are set depends
// on Kind.
type Inbound struct {
	Kind     Kind            `json:"tipo"`
	Value    string          `json:"valor,omitempty"`
	Text     string          `json:"texto,omitempty"`
	AudioURL string          `json:"audio_url,omitempty"`
	State    string          `json:"estado,omitempty"`
	Debug    json.RawMessage `json:"debug,omitempty"`
}

// HasDebug reports whether the message carried a non-null debug record.
func (in *Inbound) HasDebug() bool {
	d := bytes.TrimSpace(in.Debug)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

func Parse(data []byte) (*Inbound, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyMessage
	}

	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode inbound: %w", err)
	}

	switch in.Kind {
	case KindStatus:
		if in.Value == "" {
			return nil, fmt.Errorf("%s without valor", in.Kind)
		}
	case KindTranscription:
	case KindReply:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, in.Kind)
	}

	return &in, nil
}

// Outbound carries one recorded clip to the backend.
type Outbound struct {
	AudioData string `json:"audio_data"`
}

func NewAudioMessage(clip []byte) Outbound {
	return Outbound{AudioData: base64.StdEncoding.EncodeToString(clip)}
}

// Debug is the backend's intent extraction record shown in the debug panel.
type Debug struct {
	Intent        string         `json:"intencao"`
	Filters       map[string]any `json:"filtros_extraidos"`
	MoviesFound   float64        `json:"filmes_encontrados"`
	SelectedMovie string         `json:"filme_selecionado"`

	Raw json.RawMessage `json:"-"`
}

// ParseDebug validates a debug record: it must be a JSON object and the known
// fields must carry the expected types. Unknown fields are tolerated and kept
// in Raw.
func ParseDebug(raw json.RawMessage) (*Debug, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("%w: not an object", ErrBadDebug)
	}

	var d Debug
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDebug, err)
	}
	d.Raw = append(json.RawMessage(nil), raw...)

	return &d, nil
}

// FiltersJSON renders the extracted filters as indented JSON, "{}" when absent.
func (d *Debug) FiltersJSON() string {
	if d == nil || len(d.Filters) == 0 {
		return "{}"
	}
	b, err := json.MarshalIndent(d.Filters, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
