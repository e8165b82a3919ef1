package store

import (
	"encoding/json"
	"fmt"
)

func encodeJSON(v map[string]any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(b), nil
}

func decodeJSON(raw string) (map[string]any, error) {
	out := make(map[string]any)
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return out, nil
}

// encodeResumePayload wraps a `continue` from needs_input's body into the
// `{"answer": inputs}` envelope spec §4.2 requires.
func encodeResumePayload(inputs map[string]any) (string, error) {
	b, err := json.Marshal(map[string]any{"answer": inputs})
	if err != nil {
		return "", fmt.Errorf("encode resume payload: %w", err)
	}
	return string(b), nil
}

// DecodeResumePayload unmarshals a Run's stored resume_payload back into
// the opaque value the Pregel Runner injects into the interrupted node's
// input (spec §4.4 "Resume semantics"). A nil or empty payload decodes to
// nil, matching a run that has never been continued.
func DecodeResumePayload(raw *string) (any, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(*raw), &v); err != nil {
		return nil, fmt.Errorf("decode resume payload: %w", err)
	}
	return v, nil
}
