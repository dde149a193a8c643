package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JonMunkholm/cadboq/internal/boq"
)

// Shape identifies which of the two response forms the service returned.
type Shape int

const (
	ShapeUnknown Shape = iota
	// ShapeBare is a plain JSON array of items.
	ShapeBare
	// ShapeEnvelope is {"boq": [...], "email_status": {...}}.
	ShapeEnvelope
)

func (s Shape) String() string {
	switch s {
	case ShapeBare:
		return "bare"
	case ShapeEnvelope:
		return "envelope"
	default:
		return "unknown"
	}
}

// EmailStatus is the outcome of the service's report delivery. It is
// independent of the extracted items: items may arrive while delivery fails.
type EmailStatus struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	MessageID string `json:"message_id,omitempty"`
}

// Result is a decoded extraction response.
type Result struct {
	Items       []boq.RawItem
	EmailStatus *EmailStatus
	Shape       Shape
}

type envelope struct {
	BOQ         *[]boq.RawItem `json:"boq"`
	EmailStatus *EmailStatus   `json:"email_status"`
}

// Decode parses a response body. The shape is chosen from the first
// non-space byte; the body must also satisfy responseSchema.
func Decode(body []byte) (*Result, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty response body")
	}

	var shape Shape
	switch trimmed[0] {
	case '[':
		shape = ShapeBare
	case '{':
		shape = ShapeEnvelope
	default:
		return nil, fmt.Errorf("unexpected response: want array or object, got %q", truncate(trimmed, 32))
	}

	if err := validateShape(trimmed); err != nil {
		return nil, err
	}

	switch shape {
	case ShapeBare:
		var items []boq.RawItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
		return &Result{Items: items, Shape: shape}, nil

	default:
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		if env.BOQ == nil {
			return nil, errors.New("envelope has no boq items")
		}
		return &Result{Items: *env.BOQ, EmailStatus: env.EmailStatus, Shape: shape}, nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
