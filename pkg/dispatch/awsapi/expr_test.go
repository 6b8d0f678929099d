// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package awsapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudshim/cloudshim/pkg/engine/item"
	"github.com/cloudshim/cloudshim/pkg/types"
)

func newExprEnv(values map[string]types.AttributeValue, names map[string]string) exprEnv {
	return exprEnv{names: names, values: values}
}

func TestTokenize(t *testing.T) {
	toks := tokenize("price>=:lo AND begins_with(sku,:p)")
	assert.Equal(t, []string{
		"price", ">=", ":lo", "AND", "begins_with", "(", "sku", ",", ":p", ")",
	}, toks)

	// Operators split without surrounding spaces.
	assert.Equal(t, []string{"a", "<>", ":v"}, tokenize("a<>:v"))
	assert.Equal(t, []string{"a", "<", ":v"}, tokenize("a < :v"))
}

func TestParseConditionExpression(t *testing.T) {
	e := newExprEnv(map[string]types.AttributeValue{
		":lo": types.NumberValue("10"),
		":hi": types.NumberValue("20"),
		":p":  types.StringValue("ab"),
	}, map[string]string{"#st": "status"})

	conds, err := parseConditionExpression(
		"attribute_exists(#st) AND begins_with(sku, :p) AND price BETWEEN :lo AND :hi", e)
	require.NoError(t, err)
	require.Len(t, conds, 4)

	assert.Equal(t, item.CondAttributeExists, conds[0].Kind)
	assert.Equal(t, "status", conds[0].Path)

	assert.Equal(t, item.OpBeginsWith, conds[1].Op)
	assert.Equal(t, "sku", conds[1].Path)

	// BETWEEN expands into a bounds pair.
	assert.Equal(t, item.OpGreaterEqual, conds[2].Op)
	assert.Equal(t, item.OpLessOrEqual, conds[3].Op)
	assert.Equal(t, "price", conds[2].Path)

	conds, err = parseConditionExpression("attribute_not_exists(pk)", e)
	require.NoError(t, err)
	require.Len(t, conds, 1)
	assert.Equal(t, item.CondAttributeNotExists, conds[0].Kind)

	// An empty expression means no conditions.
	conds, err = parseConditionExpression("  ", e)
	require.NoError(t, err)
	assert.Nil(t, conds)

	_, err = parseConditionExpression("price >= :missing", e)
	require.Error(t, err)

	_, err = parseConditionExpression("price ~ :lo", e)
	require.Error(t, err)
}

func TestParseKeyConditionExpression(t *testing.T) {
	e := newExprEnv(map[string]types.AttributeValue{
		":s":  types.StringValue("s1"),
		":a":  types.StringValue("a"),
		":z":  types.StringValue("z"),
		":pf": types.StringValue("ord#"),
	}, nil)

	terms, err := parseKeyConditionExpression("stream = :s AND begins_with(seq, :pf)", e)
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, "stream", terms[0].Path)
	assert.Equal(t, item.OpEqual, terms[0].Cond.Op)
	assert.Equal(t, "seq", terms[1].Path)
	assert.Equal(t, item.OpBeginsWith, terms[1].Cond.Op)

	// BETWEEN stays a single ranged term here.
	terms, err = parseKeyConditionExpression("stream = :s AND seq BETWEEN :a AND :z", e)
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, item.OpBetween, terms[1].Cond.Op)
	assert.Equal(t, "a", *terms[1].Cond.Value.S)
	assert.Equal(t, "z", *terms[1].Cond.Value2.S)

	// Inequality has no place in a key condition.
	_, err = parseKeyConditionExpression("stream <> :s", e)
	require.Error(t, err)

	_, err = parseKeyConditionExpression("", e)
	require.Error(t, err)
}

func TestParseUpdateExpression(t *testing.T) {
	e := newExprEnv(map[string]types.AttributeValue{
		":a":   types.BoolValue(true),
		":inc": types.NumberValue("5"),
		":tag": {SS: []string{"x"}},
	}, map[string]string{"#lvl": "level"})

	ops, err := parseUpdateExpression(
		"SET active = :a, #lvl = :inc REMOVE stale ADD score :inc DELETE tags :tag", e)
	require.NoError(t, err)
	require.Len(t, ops, 5)

	assert.Equal(t, item.UpdateOp{Kind: item.UpdateSet, Path: "active", Value: types.BoolValue(true)}, ops[0])
	assert.Equal(t, "level", ops[1].Path)
	assert.Equal(t, item.UpdateOp{Kind: item.UpdateRemove, Path: "stale"}, ops[2])
	assert.Equal(t, item.UpdateAdd, ops[3].Kind)
	assert.Equal(t, "score", ops[3].Path)
	assert.Equal(t, item.UpdateDelete, ops[4].Kind)

	_, err = parseUpdateExpression("score :inc", e)
	require.Error(t, err)

	_, err = parseUpdateExpression("SET broken", e)
	require.Error(t, err)

	_, err = parseUpdateExpression("", e)
	require.Error(t, err)
}
