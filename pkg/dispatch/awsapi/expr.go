// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package awsapi

import (
	"strings"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/engine/item"
	"github.com/cloudshim/cloudshim/pkg/types"
)

// exprEnv carries the name and value substitutions of one request.
type exprEnv struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

func (e exprEnv) resolveName(tok string) string {
	if strings.HasPrefix(tok, "#") {
		if n, ok := e.names[tok]; ok {
			return n
		}
		return tok
	}
	return tok
}

func (e exprEnv) resolveValue(tok string) (types.AttributeValue, error) {
	v, ok := e.values[tok]
	if !ok {
		return types.AttributeValue{}, emuerr.Validation("expression references undefined value %s", tok)
	}
	return v, nil
}

// tokenize splits an expression into words, placeholders, operators, and
// punctuation. The grammar here is flat enough that a hand lexer beats a
// parser dependency.
func tokenize(expr string) []string {
	var toks []string
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(' || c == ')' || c == ',':
			toks = append(toks, string(c))
			i++
		case c == '=':
			toks = append(toks, "=")
			i++
		case c == '<':
			if i+1 < len(expr) && (expr[i+1] == '=' || expr[i+1] == '>') {
				toks = append(toks, expr[i:i+2])
				i += 2
			} else {
				toks = append(toks, "<")
				i++
			}
		case c == '>':
			if i+1 < len(expr) && expr[i+1] == '=' {
				toks = append(toks, ">=")
				i += 2
			} else {
				toks = append(toks, ">")
				i++
			}
		default:
			j := i
			for j < len(expr) && !strings.ContainsRune(" \t\n(),=<>", rune(expr[j])) {
				j++
			}
			toks = append(toks, expr[i:j])
			i = j
		}
	}
	return toks
}

var compareOps = map[string]item.CompareOp{
	"=":  item.OpEqual,
	"<>": item.OpNotEqual,
	"<":  item.OpLessThan,
	"<=": item.OpLessOrEqual,
	">":  item.OpGreaterThan,
	">=": item.OpGreaterEqual,
}

// parseConditionExpression parses an AND-joined condition expression into
// structured conditions. Supported terms: attribute_exists(p),
// attribute_not_exists(p), begins_with(p, :v), comparisons, and BETWEEN
// (expanded into a >= / <= pair).
func parseConditionExpression(expr string, env exprEnv) ([]item.Condition, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	toks := tokenize(expr)
	var conds []item.Condition
	i := 0
	for i < len(toks) {
		if strings.EqualFold(toks[i], "AND") {
			i++
			continue
		}
		term, next, err := parseConditionTerm(toks, i, env)
		if err != nil {
			return nil, err
		}
		conds = append(conds, term...)
		i = next
	}
	return conds, nil
}

func parseConditionTerm(toks []string, i int, env exprEnv) ([]item.Condition, int, error) {
	switch strings.ToLower(toks[i]) {
	case "attribute_exists", "attribute_not_exists":
		kind := item.CondAttributeExists
		if strings.ToLower(toks[i]) == "attribute_not_exists" {
			kind = item.CondAttributeNotExists
		}
		path, next, err := parseCall1(toks, i+1, env)
		if err != nil {
			return nil, 0, err
		}
		return []item.Condition{{Kind: kind, Path: path}}, next, nil

	case "begins_with":
		path, val, next, err := parseCall2(toks, i+1, env)
		if err != nil {
			return nil, 0, err
		}
		return []item.Condition{{Kind: item.CondCompare, Path: path, Op: item.OpBeginsWith, Value: val}}, next, nil
	}

	// path <op> :v  |  path BETWEEN :a AND :b
	path := env.resolveName(toks[i])
	i++
	if i >= len(toks) {
		return nil, 0, emuerr.Validation("condition expression truncated after %s", path)
	}
	if strings.EqualFold(toks[i], "BETWEEN") {
		if i+3 >= len(toks) || !strings.EqualFold(toks[i+2], "AND") {
			return nil, 0, emuerr.Validation("malformed BETWEEN for %s", path)
		}
		lo, err := env.resolveValue(toks[i+1])
		if err != nil {
			return nil, 0, err
		}
		hi, err := env.resolveValue(toks[i+3])
		if err != nil {
			return nil, 0, err
		}
		return []item.Condition{
			{Kind: item.CondCompare, Path: path, Op: item.OpGreaterEqual, Value: lo},
			{Kind: item.CondCompare, Path: path, Op: item.OpLessOrEqual, Value: hi},
		}, i + 4, nil
	}

	op, ok := compareOps[toks[i]]
	if !ok {
		return nil, 0, emuerr.Validation("unsupported operator %q in condition", toks[i])
	}
	if i+1 >= len(toks) {
		return nil, 0, emuerr.Validation("condition expression truncated after %s %s", path, toks[i])
	}
	val, err := env.resolveValue(toks[i+1])
	if err != nil {
		return nil, 0, err
	}
	return []item.Condition{{Kind: item.CondCompare, Path: path, Op: op, Value: val}}, i + 2, nil
}

// parseCall1 consumes "( path )".
func parseCall1(toks []string, i int, env exprEnv) (string, int, error) {
	if i+2 >= len(toks) || toks[i] != "(" || toks[i+2] != ")" {
		return "", 0, emuerr.Validation("malformed function call in expression")
	}
	return env.resolveName(toks[i+1]), i + 3, nil
}

// parseCall2 consumes "( path , :v )".
func parseCall2(toks []string, i int, env exprEnv) (string, types.AttributeValue, int, error) {
	if i+4 >= len(toks) || toks[i] != "(" || toks[i+2] != "," || toks[i+4] != ")" {
		return "", types.AttributeValue{}, 0, emuerr.Validation("malformed function call in expression")
	}
	val, err := env.resolveValue(toks[i+3])
	if err != nil {
		return "", types.AttributeValue{}, 0, err
	}
	return env.resolveName(toks[i+1]), val, i + 5, nil
}

// parseKeyConditionExpression parses the Query key condition into named
// terms for schema binding. Same grammar as conditions, minus functions
// other than begins_with, with BETWEEN kept as a single ranged term.
func parseKeyConditionExpression(expr string, env exprEnv) ([]item.KeyConditionTerm, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, emuerr.Validation("key condition expression is required")
	}
	toks := tokenize(expr)
	var terms []item.KeyConditionTerm
	i := 0
	for i < len(toks) {
		if strings.EqualFold(toks[i], "AND") {
			i++
			continue
		}
		if strings.EqualFold(toks[i], "begins_with") {
			path, val, next, err := parseCall2(toks, i+1, env)
			if err != nil {
				return nil, err
			}
			terms = append(terms, item.KeyConditionTerm{
				Path: path,
				Cond: item.KeyCondition{Op: item.OpBeginsWith, Value: val},
			})
			i = next
			continue
		}

		path := env.resolveName(toks[i])
		i++
		if i >= len(toks) {
			return nil, emuerr.Validation("key condition truncated after %s", path)
		}
		if strings.EqualFold(toks[i], "BETWEEN") {
			if i+3 >= len(toks) || !strings.EqualFold(toks[i+2], "AND") {
				return nil, emuerr.Validation("malformed BETWEEN for %s", path)
			}
			lo, err := env.resolveValue(toks[i+1])
			if err != nil {
				return nil, err
			}
			hi, err := env.resolveValue(toks[i+3])
			if err != nil {
				return nil, err
			}
			terms = append(terms, item.KeyConditionTerm{
				Path: path,
				Cond: item.KeyCondition{Op: item.OpBetween, Value: lo, Value2: hi},
			})
			i += 4
			continue
		}
		op, ok := compareOps[toks[i]]
		if !ok || op == item.OpNotEqual {
			return nil, emuerr.Validation("unsupported operator %q in key condition", toks[i])
		}
		if i+1 >= len(toks) {
			return nil, emuerr.Validation("key condition truncated after %s %s", path, toks[i])
		}
		val, err := env.resolveValue(toks[i+1])
		if err != nil {
			return nil, err
		}
		terms = append(terms, item.KeyConditionTerm{
			Path: path,
			Cond: item.KeyCondition{Op: op, Value: val},
		})
		i += 2
	}
	return terms, nil
}

// parseUpdateExpression parses SET / REMOVE / ADD / DELETE sections into
// ordered update ops.
func parseUpdateExpression(expr string, env exprEnv) ([]item.UpdateOp, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, emuerr.Validation("update expression is required")
	}
	toks := tokenize(expr)
	var ops []item.UpdateOp
	var section string
	i := 0
	for i < len(toks) {
		switch strings.ToUpper(toks[i]) {
		case "SET", "REMOVE", "ADD", "DELETE":
			section = strings.ToUpper(toks[i])
			i++
			continue
		case ",":
			i++
			continue
		}

		switch section {
		case "SET":
			// path = :v
			if i+2 >= len(toks) || toks[i+1] != "=" {
				return nil, emuerr.Validation("malformed SET clause")
			}
			val, err := env.resolveValue(toks[i+2])
			if err != nil {
				return nil, err
			}
			ops = append(ops, item.UpdateOp{Kind: item.UpdateSet, Path: env.resolveName(toks[i]), Value: val})
			i += 3
		case "REMOVE":
			ops = append(ops, item.UpdateOp{Kind: item.UpdateRemove, Path: env.resolveName(toks[i])})
			i++
		case "ADD", "DELETE":
			// path :v
			if i+1 >= len(toks) {
				return nil, emuerr.Validation("malformed %s clause", section)
			}
			val, err := env.resolveValue(toks[i+1])
			if err != nil {
				return nil, err
			}
			kind := item.UpdateAdd
			if section == "DELETE" {
				kind = item.UpdateDelete
			}
			ops = append(ops, item.UpdateOp{Kind: kind, Path: env.resolveName(toks[i]), Value: val})
			i += 2
		default:
			return nil, emuerr.Validation("update expression must start with SET, REMOVE, ADD, or DELETE")
		}
	}
	return ops, nil
}
