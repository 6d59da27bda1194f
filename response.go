package gapura

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Envelope is the canonical result of every call: exactly one of Success or
// Failure. 2xx statuses always produce Success, everything else Failure.
// Envelopes are immutable once returned.
type Envelope struct {
	Success    bool
	StatusCode int

	// Data is the normalized success payload: object bodies pass through,
	// arrays and scalars are wrapped under "data". Nil on failure.
	Data map[string]any

	// Raw holds the verbatim body when the request asked for ShapeRaw.
	Raw []byte

	// Message is the server-provided human-readable message, when present.
	Message string

	// Links and Meta are lifted from the body when the server provides them.
	Links map[string]any
	Meta  map[string]any

	// Headers is the informational header subset (content type, pagination
	// counts); all other headers are dropped.
	Headers map[string]string

	// Kind classifies a failure; empty on success.
	Kind ErrorKind

	// Err is the failure cause; nil on success.
	Err *Error
}

// IsSuccess reports whether the envelope is the Success variant.
func (e *Envelope) IsSuccess() bool {
	return e.Success
}

// Items returns the "data" array of a list-shaped success, or nil.
func (e *Envelope) Items() []any {
	if e.Data == nil {
		return nil
	}
	items, _ := e.Data["data"].([]any)
	return items
}

// informationalHeaders is the subset copied onto envelopes.
var informationalHeaders = []string{
	"Content-Type",
	"X-Total-Count",
	"X-Total-Pages",
	"X-Page",
	"X-Per-Page",
}

// failureMessageKeys is the extraction order for error messages.
var failureMessageKeys = []string{"message", "error", "errors", "detail", "msg", "reason"}

// normalize converts a raw transport response into the canonical envelope.
func normalize(status int, body []byte, header http.Header, shape ResponseShape) *Envelope {
	env := &Envelope{
		StatusCode: status,
		Headers:    headerSubset(header),
	}

	if status >= 200 && status <= 299 {
		env.Success = true
		normalizeSuccessBody(env, body, shape)
		return env
	}

	env.Kind = kindForStatus(status)
	env.Message = failureMessage(body)
	return env
}

func normalizeSuccessBody(env *Envelope, body []byte, shape ResponseShape) {
	if shape == ShapeRaw {
		env.Raw = body
		env.Data = map[string]any{"data": string(body)}
		return
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		env.Message = "Success"
		env.Data = map[string]any{
			"status":  env.StatusCode,
			"message": "Success",
		}
		return
	}

	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		// Not JSON; keep the text under "data".
		env.Data = map[string]any{"data": trimmed}
		return
	}

	switch v := parsed.(type) {
	case map[string]any:
		env.Data = v
		if msg, ok := v["message"].(string); ok {
			env.Message = msg
		}
		if links, ok := v["links"].(map[string]any); ok {
			env.Links = links
		}
		if meta, ok := v["meta"].(map[string]any); ok {
			env.Meta = meta
		}
	case []any:
		env.Data = map[string]any{"data": v}
	default:
		env.Data = map[string]any{"data": v}
	}
}

// failureMessage extracts a human-readable message from an error body, trying
// message, error (string or nested .message), joined errors list, detail,
// msg and reason in order.
func failureMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "Unknown error"
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		// Plain-text error bodies are used as-is.
		if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
			return trimmed
		}
		return "Unknown error"
	}

	for _, key := range failureMessageKeys {
		value, ok := parsed[key]
		if !ok || value == nil {
			continue
		}
		if msg := messageFromValue(value); msg != "" {
			return msg
		}
	}
	return "Unknown error"
}

func messageFromValue(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			return strings.TrimSpace(msg)
		}
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if msg := messageFromValue(item); msg != "" {
				parts = append(parts, msg)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

func headerSubset(header http.Header) map[string]string {
	if header == nil {
		return nil
	}
	subset := make(map[string]string)
	for _, name := range informationalHeaders {
		if value := header.Get(name); value != "" {
			subset[name] = value
		}
	}
	if len(subset) == 0 {
		return nil
	}
	return subset
}
