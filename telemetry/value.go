// Package telemetry holds the scalar values and per-tick snapshots that flow
// from a sample source into the detectors.
package telemetry

import (
	"math"
	"strconv"
	"strings"
)

// Kind identifies which scalar a Value carries.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindNumber
	KindBool
	KindString
)

// Value is one telemetry scalar. The zero Value is absent.
type Value struct {
	kind Kind
	num  float64
	b    bool
	s    string
}

// Absent returns the value used for keys a source could not provide.
func Absent() Value { return Value{} }

// Number wraps a numeric sample.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool wraps a boolean sample.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// String wraps a string sample.
func String(s string) Value { return Value{kind: KindString, s: s} }

// FromAny converts a decoded JSON-ish scalar into a Value.
// Unsupported types (maps, slices, nil) and non-finite numbers resolve to
// Absent.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Absent()
	case bool:
		return Bool(t)
	case float64:
		return finite(t)
	case float32:
		return finite(float64(t))
	case int:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case uint8:
		return Number(float64(t))
	case uint32:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case string:
		return String(t)
	case Value:
		return t
	default:
		return Absent()
	}
}

// ParseCell converts a text cell (CSV, flag input) into a Value.
// Empty cells are absent; true/false are booleans; anything numeric is a
// number. NaN and Inf spellings read as absent.
func ParseCell(raw string) Value {
	cell := strings.TrimSpace(raw)
	if cell == "" {
		return Absent()
	}
	switch strings.ToLower(cell) {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return finite(f)
	}
	return String(cell)
}

func finite(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Absent()
	}
	return Number(f)
}

func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether the value carries nothing.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Float returns the numeric reading. Booleans map to 0/1; strings, absent
// values and non-finite numbers report ok=false.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return 0, false
		}
		return v.num, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Int truncates the numeric reading toward zero.
func (v Value) Int() (int, bool) {
	f, ok := v.Float()
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Truthy follows the usual scalar rules: absent, false, 0 and "" are false.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.num != 0
	case KindString:
		return v.s != ""
	default:
		return false
	}
}

// Equal compares kind and payload. Two absent values are equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	default:
		return true
	}
}

// Any returns the Go scalar behind the value, nil when absent.
func (v Value) Any() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindString:
		return v.s
	default:
		return nil
	}
}

// String renders the value for logs and CSV export; absent renders empty.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString:
		return v.s
	default:
		return ""
	}
}
