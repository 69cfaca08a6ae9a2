package gateway

import (
	"encoding/json"
	"fmt"
)

// Result is the outcome of a single tool call: either a normalized
// success payload or a failure message. Failures are conversation
// content, not errors; the model is the recovery mechanism.
type Result struct {
	Value any
	Err   string
}

func (r *Result) OK() bool {
	return r.Err == ""
}

// Payload returns the value fed back into the conversation: the
// normalized payload on success, a tagged failure descriptor otherwise.
func (r *Result) Payload() any {
	if r.Err != "" {
		return map[string]any{"success": false, "error": r.Err}
	}
	return r.Value
}

// JSON serializes the payload for a tool message. Normalization
// guarantees serializability; if that postcondition is ever violated
// the payload is stringified rather than dropped.
func (r *Result) JSON() string {
	b, err := json.Marshal(r.Payload())
	if err != nil {
		b, _ = json.Marshal(map[string]any{"result": fmt.Sprint(r.Payload())})
	}
	return string(b)
}

func failure(format string, args ...any) *Result {
	return &Result{Err: fmt.Sprintf(format, args...)}
}
