// Package payload normalizes tool-call result payloads. Agents deliver results
// either as structured values or as a JSON text encoding of one; the Payload
// union records which form arrived so the ambiguity is resolved exactly once,
// at the edge of the pipeline, instead of through ad hoc type checks in every
// renderer.
package payload

import (
	"bytes"
	"encoding/json"
	"strings"
)

type (
	// Kind identifies the variant held by a Payload.
	Kind int

	// Payload is a tagged union over the three shapes a tool result can take
	// on the wire: a structured value, an encoded text form of one, or nothing.
	// The zero value is Absent.
	Payload struct {
		kind Kind
		raw  any
		text string
	}
)

const (
	// KindAbsent marks a payload that was never delivered.
	KindAbsent Kind = iota
	// KindRaw marks an already structured value (map, slice, number, bool, ...).
	KindRaw
	// KindEncoded marks a textual encoding that must be decoded before use.
	KindEncoded
)

// Absent returns the empty payload.
func Absent() Payload { return Payload{} }

// Raw wraps an already structured value. A nil value yields Absent.
func Raw(v any) Payload {
	if v == nil {
		return Payload{}
	}
	return Payload{kind: KindRaw, raw: v}
}

// Encoded wraps a textual encoding of a structured value.
func Encoded(text string) Payload {
	return Payload{kind: KindEncoded, text: text}
}

// FromAny classifies a dynamically typed value: nil is Absent; strings, byte
// slices and json.RawMessage are Encoded; everything else is Raw.
func FromAny(v any) Payload {
	switch val := v.(type) {
	case nil:
		return Absent()
	case Payload:
		return val
	case string:
		return Encoded(val)
	case json.RawMessage:
		if val == nil {
			return Absent()
		}
		return Encoded(string(val))
	case []byte:
		if val == nil {
			return Absent()
		}
		return Encoded(string(val))
	default:
		return Raw(val)
	}
}

// FromJSON classifies a JSON wire field. A JSON string literal carries an
// encoded payload (its content is decoded later by Normalize); any other JSON
// value is already structured. Empty input or a JSON null is Absent. Input
// that is not valid JSON is kept as Encoded text so Normalize reports it unset.
func FromJSON(raw json.RawMessage) Payload {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Absent()
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return Encoded(string(trimmed))
	}
	if s, ok := v.(string); ok {
		return Encoded(s)
	}
	return Raw(v)
}

// Kind returns the variant held by p.
func (p Payload) Kind() Kind { return p.kind }

// IsAbsent reports whether p holds nothing.
func (p Payload) IsAbsent() bool { return p.kind == KindAbsent }

// Text returns the encoded text for KindEncoded payloads and "" otherwise.
func (p Payload) Text() string { return p.text }

// Value returns the structured value for KindRaw payloads and nil otherwise.
func (p Payload) Value() any { return p.raw }

// MarshalJSON renders the payload the way it arrived: structured values as
// JSON, encoded text as a JSON string and Absent as null.
func (p Payload) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case KindRaw:
		return json.Marshal(p.raw)
	case KindEncoded:
		return json.Marshal(p.text)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON classifies a JSON field with FromJSON. It never fails.
func (p *Payload) UnmarshalJSON(data []byte) error {
	*p = FromJSON(data)
	return nil
}

// Normalize resolves p into a structured value. The boolean result is false
// when the payload is absent or its encoding cannot be decoded; a decode
// failure is not an error, callers treat it as "not yet available" or opaque
// text depending on context. Normalize never panics and has no side effects.
//
// Normalize is idempotent over structured values:
// Normalize(Raw(v)) returns v, so Normalize(Raw(Normalize(x))) == Normalize(x).
func Normalize(p Payload) (any, bool) {
	switch p.kind {
	case KindRaw:
		return p.raw, true
	case KindEncoded:
		return decode(p.text)
	default:
		return nil, false
	}
}

// NormalizeAny is shorthand for Normalize(FromAny(v)).
func NormalizeAny(v any) (any, bool) {
	return Normalize(FromAny(v))
}

// Object normalizes p and returns the value when it is a JSON object.
func Object(p Payload) (map[string]any, bool) {
	v, ok := Normalize(p)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func decode(text string) (any, bool) {
	if strings.TrimSpace(text) == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, false
	}
	if v == nil {
		return nil, false
	}
	return v, true
}
