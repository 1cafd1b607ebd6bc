package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ValueKind tags the variant held by a ContextValue.
type ValueKind string

const (
	KindString    ValueKind = "string"
	KindNumber    ValueKind = "number"
	KindBool      ValueKind = "bool"
	KindTimestamp ValueKind = "timestamp"
)

// ContextValue is a small tagged union used for memory context entries.
type ContextValue struct {
	Kind ValueKind
	str  string
	num  float64
	b    bool
	ts   time.Time
}

// String builds a string context value.
func String(s string) ContextValue { return ContextValue{Kind: KindString, str: s} }

// Number builds a numeric context value.
func Number(n float64) ContextValue { return ContextValue{Kind: KindNumber, num: n} }

// Bool builds a boolean context value.
func Bool(b bool) ContextValue { return ContextValue{Kind: KindBool, b: b} }

// Timestamp builds a time context value.
func Timestamp(t time.Time) ContextValue { return ContextValue{Kind: KindTimestamp, ts: t.UTC()} }

// Str returns the string payload and whether the value is a string.
func (v ContextValue) Str() (string, bool) { return v.str, v.Kind == KindString }

// Num returns the numeric payload and whether the value is a number.
func (v ContextValue) Num() (float64, bool) { return v.num, v.Kind == KindNumber }

// BoolValue returns the boolean payload and whether the value is a bool.
func (v ContextValue) BoolValue() (bool, bool) { return v.b, v.Kind == KindBool }

// Time returns the timestamp payload and whether the value is a timestamp.
func (v ContextValue) Time() (time.Time, bool) { return v.ts, v.Kind == KindTimestamp }

// String renders the value for text matching.
func (v ContextValue) String() string {
	switch v.Kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTimestamp:
		return v.ts.Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// Equal reports whether both values hold the same variant and payload.
func (v ContextValue) Equal(o ContextValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindTimestamp:
		return v.ts.Equal(o.ts)
	default:
		return true
	}
}

type contextValueJSON struct {
	Kind  ValueKind       `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as {"kind": ..., "value": ...}.
func (v ContextValue) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.Kind {
	case KindString:
		payload = v.str
	case KindNumber:
		payload = v.num
	case KindBool:
		payload = v.b
	case KindTimestamp:
		payload = v.ts.Format(time.RFC3339Nano)
	default:
		return nil, fmt.Errorf("context value: unknown kind %q", v.Kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(contextValueJSON{Kind: v.Kind, Value: raw})
}

// UnmarshalJSON decodes the tagged form. Bare JSON scalars are also accepted
// so that hand-written requests can pass plain strings, numbers and booleans.
func (v *ContextValue) UnmarshalJSON(data []byte) error {
	var tagged contextValueJSON
	if err := json.Unmarshal(data, &tagged); err == nil && tagged.Kind != "" {
		return v.decodeTagged(tagged)
	}

	var scalar any
	if err := json.Unmarshal(data, &scalar); err != nil {
		return fmt.Errorf("context value: %w", err)
	}
	switch s := scalar.(type) {
	case string:
		*v = String(s)
	case float64:
		*v = Number(s)
	case bool:
		*v = Bool(s)
	default:
		return fmt.Errorf("context value: unsupported JSON %s", string(data))
	}
	return nil
}

func (v *ContextValue) decodeTagged(t contextValueJSON) error {
	switch t.Kind {
	case KindString:
		var s string
		if err := json.Unmarshal(t.Value, &s); err != nil {
			return fmt.Errorf("context value: string: %w", err)
		}
		*v = String(s)
	case KindNumber:
		var n float64
		if err := json.Unmarshal(t.Value, &n); err != nil {
			return fmt.Errorf("context value: number: %w", err)
		}
		*v = Number(n)
	case KindBool:
		var b bool
		if err := json.Unmarshal(t.Value, &b); err != nil {
			return fmt.Errorf("context value: bool: %w", err)
		}
		*v = Bool(b)
	case KindTimestamp:
		var s string
		if err := json.Unmarshal(t.Value, &s); err != nil {
			return fmt.Errorf("context value: timestamp: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("context value: timestamp: %w", err)
		}
		*v = Timestamp(ts)
	default:
		return fmt.Errorf("context value: unknown kind %q", t.Kind)
	}
	return nil
}
