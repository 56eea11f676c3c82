// Package protocol defines the wire format between capture clients and the
// bridge.
//
// Each role holds one WebSocket connection. Control messages are text frames
// carrying a JSON object; audio travels as binary frames of raw S16LE PCM.
// The bridge answers with text frames typed "transcription" or "error".
package protocol

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Control message types sent by the client.
const (
	TypeStart = "start"
	TypeStop  = "stop"
)

// Event types sent by the bridge.
const (
	TypeTranscription = "transcription"
	TypeError         = "error"
)

// DefaultRole is used when a connection carries no role parameter.
const DefaultRole = "Unknown"

// validate checks start configs. JSON tag names are used in error messages.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
}

// Control is a control message from a capture client. Config is kept raw
// until the bridge resolves it against the process defaults, so clients only
// send the fields they want to override.
type Control struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// RecognitionConfig is the configuration handshake sent once per session,
// before any audio, and immutable for the session's lifetime.
type RecognitionConfig struct {
	Language   string   `json:"language" validate:"required,max=16"`
	Completion string   `json:"completion" validate:"omitempty,oneof=sync async"`
	Boostings  []string `json:"boostings,omitempty" validate:"omitempty,max=1000,dive,max=100"`
}

// ParseControl decodes a text frame into a Control message.
func ParseControl(data []byte) (Control, error) {
	var c Control
	if err := json.Unmarshal(data, &c); err != nil {
		return Control{}, fmt.Errorf("invalid control message: %w", err)
	}
	if c.Type == "" {
		return Control{}, fmt.Errorf("control message missing type")
	}
	return c, nil
}

// ResolveStartConfig decodes the config object of a start message, fills
// fields the client left empty from the process defaults, and validates the
// result. A missing or empty config object is allowed when the defaults
// alone form a valid configuration.
func ResolveStartConfig(raw json.RawMessage, defaults RecognitionConfig) (RecognitionConfig, error) {
	var cfg RecognitionConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return RecognitionConfig{}, fmt.Errorf("invalid start config: %w", err)
		}
	}
	if cfg.Language == "" {
		cfg.Language = defaults.Language
	}
	if cfg.Completion == "" {
		cfg.Completion = defaults.Completion
	}
	if len(cfg.Boostings) == 0 {
		cfg.Boostings = defaults.Boostings
	}
	if err := validate.Struct(&cfg); err != nil {
		return RecognitionConfig{}, fmt.Errorf("invalid start config: %w", err)
	}
	return cfg, nil
}

// StartMessage builds a start control frame for the given config object.
func StartMessage(config any) ([]byte, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("marshal start config: %w", err)
	}
	return json.Marshal(Control{Type: TypeStart, Config: raw})
}

// StopMessage builds a stop control frame.
func StopMessage() []byte {
	return []byte(`{"type":"stop"}`)
}

// Event is a server-to-client message. Data is present only for
// transcription events, Message only for errors.
type Event struct {
	Type    string          `json:"type"`
	Role    string          `json:"role,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// TranscriptionEvent builds a transcription event for a role. Data must
// already be valid JSON.
func TranscriptionEvent(role string, data json.RawMessage) Event {
	return Event{Type: TypeTranscription, Role: role, Data: data}
}

// ErrorEvent builds an error event.
func ErrorEvent(message string) Event {
	return Event{Type: TypeError, Message: message}
}

// ParseEvent decodes a server-to-client text frame.
func ParseEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("invalid event: %w", err)
	}
	return e, nil
}
