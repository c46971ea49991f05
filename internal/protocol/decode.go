package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Decode reads one envelope from data.
//
// ok is false for foreign payloads: anything that is not a JSON object whose
// marker field is true. Foreign payloads never produce an error. A marked
// payload that cannot be decoded, or that names no action, returns ok=true
// with an error so the caller can report it.
func Decode(data []byte) (Envelope, bool, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, false, nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return Envelope{}, false, nil
	}
	raw, ok := probe[MarkerField]
	if !ok {
		return Envelope{}, false, nil
	}
	var marker bool
	if err := json.Unmarshal(raw, &marker); err != nil || !marker {
		return Envelope{}, false, nil
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, true, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if strings.TrimSpace(string(env.Action)) == "" {
		return env, true, ErrMissingAction
	}
	return env, true, nil
}

// DecodeEvent reads the event object carried as the first argument of env.
// A bare string argument is accepted as the event type.
func DecodeEvent(env Envelope) (EventPayload, error) {
	if len(env.Args) == 0 {
		return EventPayload{}, fmt.Errorf("%w: 0 of 0", ErrArgIndex)
	}
	first := bytes.TrimSpace(env.Args[0])
	if len(first) > 0 && first[0] == '"' {
		var name string
		if err := json.Unmarshal(first, &name); err != nil {
			return EventPayload{}, err
		}
		return EventPayload{Type: name}, nil
	}
	var ev EventPayload
	if err := json.Unmarshal(first, &ev); err != nil {
		return EventPayload{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return ev, nil
}
