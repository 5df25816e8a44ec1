package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindString
	KindNumber
	KindTimestamp
)

func (k ValueKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindTimestamp:
		return "timestamp"
	default:
		return "null"
	}
}

// Value is the content of a Field: null, a boolean, a string, a number or a
// timestamp. The zero Value is null. Values are immutable.
type Value struct {
	kind ValueKind
	b    bool
	s    string
	n    float64
	t    time.Time
}

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Timestamp normalises t to UTC without a monotonic reading so that a value
// survives a JSON round trip unchanged.
func Timestamp(t time.Time) Value {
	return Value{kind: KindTimestamp, t: t.UTC().Round(0)}
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

func (v Value) AsNumber() (float64, bool) {
	return v.n, v.kind == KindNumber
}

func (v Value) AsTimestamp() (time.Time, bool) {
	return v.t, v.kind == KindTimestamp
}

// Equal reports whether v and o hold the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindNumber:
		return v.n == o.n
	case KindTimestamp:
		return v.t.Equal(o.t)
	}
	return true
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindTimestamp:
		return v.t.Format(time.RFC3339Nano)
	}
	return "null"
}

type timestampJSON struct {
	Timestamp time.Time `json:"timestamp"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBool:
		return json.Marshal(v.b)
	case KindString:
		return json.Marshal(v.s)
	case KindNumber:
		return json.Marshal(v.n)
	case KindTimestamp:
		return json.Marshal(timestampJSON{Timestamp: v.t})
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty field value")
	}
	switch data[0] {
	case 'n':
		*v = Null()
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("invalid boolean value: %w", err)
		}
		*v = Bool(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid string value: %w", err)
		}
		*v = String(s)
		return nil
	case '{':
		t, err := decodeTimestamp(data)
		if err != nil {
			return fmt.Errorf("invalid timestamp value: %w", err)
		}
		*v = Timestamp(t)
		return nil
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid number value: %w", err)
		}
		*v = Number(n)
		return nil
	}
}

// decodeTimestamp accepts exactly {"timestamp": "<RFC3339>"}.
func decodeTimestamp(data []byte) (time.Time, error) {
	var ts struct {
		Timestamp *time.Time `json:"timestamp"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ts); err != nil {
		return time.Time{}, err
	}
	if ts.Timestamp == nil {
		return time.Time{}, errors.New(`missing "timestamp"`)
	}
	return *ts.Timestamp, nil
}
