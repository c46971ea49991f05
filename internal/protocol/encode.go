package protocol

import (
	"encoding/json"
	"strings"
)

type wireEnvelope struct {
	Marker bool   `json:"__isWebWorkerMsg"`
	Action Action `json:"action"`
	Args   []any  `json:"args"`
}

// Encode wraps action and args with the protocol marker.
func Encode(action Action, args ...any) ([]byte, error) {
	if strings.TrimSpace(string(action)) == "" {
		return nil, ErrMissingAction
	}
	if args == nil {
		args = []any{}
	}
	return json.Marshal(wireEnvelope{
		Marker: true,
		Action: action,
		Args:   args,
	})
}

// EncodeEvent encodes a trigger-style envelope carrying one event object.
func EncodeEvent(action Action, eventType string, data any) ([]byte, error) {
	return Encode(action, EventPayload{Type: eventType, Data: data})
}
