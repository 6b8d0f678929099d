// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"bytes"
	"strconv"
)

// TableInfo represents a key-value table definition. The key schema is
// immutable after creation.
type TableInfo struct {
	Name         string `json:"name"`
	PartitionKey string `json:"partition_key"`
	SortKey      string `json:"sort_key,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	ItemCount    int64  `json:"item_count,omitempty"`
}

// AttributeValue is the tagged-variant value type for items. Exactly one
// field is set. The JSON encoding matches the DynamoDB wire shape
// ({"S": ...}, {"N": ...}, ...), so items round-trip through the adapter
// without a separate translation layer.
type AttributeValue struct {
	S    *string                   `json:"S,omitempty"`
	N    *string                   `json:"N,omitempty"`
	B    []byte                    `json:"B,omitempty"`
	BOOL *bool                     `json:"BOOL,omitempty"`
	NULL *bool                     `json:"NULL,omitempty"`
	L    []AttributeValue          `json:"L,omitempty"`
	M    map[string]AttributeValue `json:"M,omitempty"`
	SS   []string                  `json:"SS,omitempty"`
	NS   []string                  `json:"NS,omitempty"`
}

// Item is an attribute map keyed by attribute name.
type Item map[string]AttributeValue

// StringValue returns a string AttributeValue.
func StringValue(s string) AttributeValue {
	return AttributeValue{S: &s}
}

// NumberValue returns a number AttributeValue from its decimal rendering.
func NumberValue(n string) AttributeValue {
	return AttributeValue{N: &n}
}

// BoolValue returns a boolean AttributeValue.
func BoolValue(b bool) AttributeValue {
	return AttributeValue{BOOL: &b}
}

// IsSet reports whether the value is a string or number set.
func (v AttributeValue) IsSet() bool {
	return v.SS != nil || v.NS != nil
}

// Number parses a numeric value. ok is false when the value is not an N or
// does not parse.
func (v AttributeValue) Number() (float64, bool) {
	if v.N == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(*v.N, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// KeyString renders the value as a key component. Only scalar key types
// (S, N, B) are valid table keys.
func (v AttributeValue) KeyString() (string, bool) {
	switch {
	case v.S != nil:
		return *v.S, true
	case v.N != nil:
		return *v.N, true
	case v.B != nil:
		return string(v.B), true
	default:
		return "", false
	}
}

// Equal compares two attribute values structurally.
func (v AttributeValue) Equal(o AttributeValue) bool {
	switch {
	case v.S != nil && o.S != nil:
		return *v.S == *o.S
	case v.N != nil && o.N != nil:
		// Numeric equality, not textual: "1.0" == "1".
		a, aok := v.Number()
		b, bok := o.Number()
		return aok && bok && a == b
	case v.B != nil && o.B != nil:
		return bytes.Equal(v.B, o.B)
	case v.BOOL != nil && o.BOOL != nil:
		return *v.BOOL == *o.BOOL
	case v.NULL != nil && o.NULL != nil:
		return true
	case v.SS != nil && o.SS != nil:
		return stringSliceEqual(v.SS, o.SS)
	case v.NS != nil && o.NS != nil:
		return stringSliceEqual(v.NS, o.NS)
	case v.L != nil && o.L != nil:
		if len(v.L) != len(o.L) {
			return false
		}
		for i := range v.L {
			if !v.L[i].Equal(o.L[i]) {
				return false
			}
		}
		return true
	case v.M != nil && o.M != nil:
		if len(v.M) != len(o.M) {
			return false
		}
		for k, av := range v.M {
			ov, ok := o.M[k]
			if !ok || !av.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two scalar values: -1, 0, 1. Numbers compare numerically,
// strings and binary lexicographically. ok is false for non-comparable or
// mixed types.
func (v AttributeValue) Compare(o AttributeValue) (int, bool) {
	switch {
	case v.N != nil && o.N != nil:
		a, aok := v.Number()
		b, bok := o.Number()
		if !aok || !bok {
			return 0, false
		}
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		default:
			return 0, true
		}
	case v.S != nil && o.S != nil:
		return compareStrings(*v.S, *o.S), true
	case v.B != nil && o.B != nil:
		return bytes.Compare(v.B, o.B), true
	}
	return 0, false
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		seen[s]--
		if seen[s] < 0 {
			return false
		}
	}
	return true
}
