// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package item

import (
	"strconv"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/types"
)

// CompareOp is a comparison operator for conditions and sort-key ranges.
type CompareOp string

const (
	OpEqual        CompareOp = "EQ"
	OpNotEqual     CompareOp = "NE"
	OpLessThan     CompareOp = "LT"
	OpLessOrEqual  CompareOp = "LE"
	OpGreaterThan  CompareOp = "GT"
	OpGreaterEqual CompareOp = "GE"
	OpBetween      CompareOp = "BETWEEN"
	OpBeginsWith   CompareOp = "BEGINS_WITH"
)

// ConditionKind selects what a Condition asserts.
type ConditionKind int

const (
	CondAttributeExists ConditionKind = iota
	CondAttributeNotExists
	CondCompare
)

// Condition is one predicate over a top-level attribute. Conditions in a
// slice are ANDed. This is the structured form; vendor expression syntax is
// parsed at the adapter boundary.
type Condition struct {
	Kind  ConditionKind
	Path  string
	Op    CompareOp
	Value types.AttributeValue
}

// Matches evaluates the condition against an item. A missing item is the
// empty attribute map.
func (c Condition) Matches(item types.Item) bool {
	v, present := item[c.Path]
	switch c.Kind {
	case CondAttributeExists:
		return present
	case CondAttributeNotExists:
		return !present
	case CondCompare:
		if !present {
			return false
		}
		switch c.Op {
		case OpEqual:
			return v.Equal(c.Value)
		case OpNotEqual:
			return !v.Equal(c.Value)
		case OpBeginsWith:
			if v.S == nil || c.Value.S == nil {
				return false
			}
			return len(*v.S) >= len(*c.Value.S) && (*v.S)[:len(*c.Value.S)] == *c.Value.S
		default:
			cmp, ok := v.Compare(c.Value)
			if !ok {
				return false
			}
			switch c.Op {
			case OpLessThan:
				return cmp < 0
			case OpLessOrEqual:
				return cmp <= 0
			case OpGreaterThan:
				return cmp > 0
			case OpGreaterEqual:
				return cmp >= 0
			}
		}
	}
	return false
}

func matchesAll(item types.Item, conds []Condition) bool {
	for _, c := range conds {
		if !c.Matches(item) {
			return false
		}
	}
	return true
}

// UpdateKind is an update-expression action.
type UpdateKind int

const (
	UpdateSet UpdateKind = iota
	UpdateRemove
	UpdateAdd
	UpdateDelete
)

// UpdateOp is one action applied to a top-level attribute. Ops apply in
// order.
type UpdateOp struct {
	Kind  UpdateKind
	Path  string
	Value types.AttributeValue
}

// applyUpdates mutates item in place. ADD on a number is addition, on a set
// is union; DELETE on a set is difference.
func applyUpdates(item types.Item, ops []UpdateOp) error {
	for _, op := range ops {
		switch op.Kind {
		case UpdateSet:
			item[op.Path] = op.Value
		case UpdateRemove:
			delete(item, op.Path)
		case UpdateAdd:
			if err := applyAdd(item, op); err != nil {
				return err
			}
		case UpdateDelete:
			if err := applyDelete(item, op); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyAdd(item types.Item, op UpdateOp) error {
	existing, present := item[op.Path]
	if !present {
		// ADD on a missing attribute initializes it: 0 + n for numbers,
		// the operand set for sets.
		if op.Value.N != nil || op.Value.IsSet() {
			item[op.Path] = op.Value
			return nil
		}
		return emuerr.Validation("ADD requires a number or set operand for %s", op.Path)
	}

	switch {
	case existing.N != nil && op.Value.N != nil:
		a, aok := existing.Number()
		b, bok := op.Value.Number()
		if !aok || !bok {
			return emuerr.Validation("ADD on non-numeric value for %s", op.Path)
		}
		item[op.Path] = types.NumberValue(formatNumber(a + b))
	case existing.SS != nil && op.Value.SS != nil:
		item[op.Path] = types.AttributeValue{SS: unionStrings(existing.SS, op.Value.SS)}
	case existing.NS != nil && op.Value.NS != nil:
		item[op.Path] = types.AttributeValue{NS: unionStrings(existing.NS, op.Value.NS)}
	default:
		return emuerr.Validation("ADD type mismatch for %s", op.Path)
	}
	return nil
}

func applyDelete(item types.Item, op UpdateOp) error {
	existing, present := item[op.Path]
	if !present {
		return nil
	}
	switch {
	case existing.SS != nil && op.Value.SS != nil:
		item[op.Path] = types.AttributeValue{SS: diffStrings(existing.SS, op.Value.SS)}
	case existing.NS != nil && op.Value.NS != nil:
		item[op.Path] = types.AttributeValue{NS: diffStrings(existing.NS, op.Value.NS)}
	default:
		return emuerr.Validation("DELETE requires matching set types for %s", op.Path)
	}
	return nil
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func diffStrings(a, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, s := range remove {
		drop[s] = true
	}
	out := make([]string, 0, len(a))
	for _, s := range a {
		if !drop[s] {
			out = append(out, s)
		}
	}
	return out
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
