// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package item

import (
	"context"
	"encoding/json"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/types"
)

// KeyCondition constrains the sort key in a Query.
type KeyCondition struct {
	Op     CompareOp
	Value  types.AttributeValue
	Value2 types.AttributeValue // upper bound for BETWEEN
}

// QueryParams are the inputs to Query.
type QueryParams struct {
	PartitionValue types.AttributeValue
	SortCondition  *KeyCondition
	Filter         []Condition

	// Limit bounds items read, not items returned after filtering.
	Limit int

	// ExclusiveStartKey resumes after the given key item.
	ExclusiveStartKey types.Item

	// Backward orders by sort key descending. The default is ascending.
	Backward bool
}

// Page is one page of Query or Scan results.
type Page struct {
	Items            []types.Item
	LastEvaluatedKey types.Item
	ScannedCount     int
}

// Query returns items with an exact partition-key match, ordered by sort
// key. The filter applies to the fetched page and does not reduce the item
// count charged against Limit.
func (s *Store) Query(ctx context.Context, table string, p QueryParams) (*Page, error) {
	info, err := s.describeTableShared(ctx, table)
	if err != nil {
		return nil, err
	}
	pkVal, ok := p.PartitionValue.KeyString()
	if !ok {
		return nil, emuerr.Validation("partition key value must be a scalar")
	}

	query := `SELECT pk, sk, attributes FROM kv_items WHERE tbl = ? AND pk = ?`
	args := []any{table, pkVal}

	if p.SortCondition != nil {
		if info.SortKey == "" {
			return nil, emuerr.Validation("table %s has no sort key", table)
		}
		skVal, ok := p.SortCondition.Value.KeyString()
		if !ok {
			return nil, emuerr.Validation("sort key value must be a scalar")
		}
		switch p.SortCondition.Op {
		case OpEqual:
			query += ` AND sk = ?`
			args = append(args, skVal)
		case OpLessThan:
			query += ` AND sk < ?`
			args = append(args, skVal)
		case OpLessOrEqual:
			query += ` AND sk <= ?`
			args = append(args, skVal)
		case OpGreaterThan:
			query += ` AND sk > ?`
			args = append(args, skVal)
		case OpGreaterEqual:
			query += ` AND sk >= ?`
			args = append(args, skVal)
		case OpBetween:
			hi, ok := p.SortCondition.Value2.KeyString()
			if !ok {
				return nil, emuerr.Validation("BETWEEN upper bound must be a scalar")
			}
			query += ` AND sk >= ? AND sk <= ?`
			args = append(args, skVal, hi)
		case OpBeginsWith:
			query += ` AND sk >= ? AND sk < ?`
			args = append(args, skVal, skVal+"\xff")
		default:
			return nil, emuerr.Validation("unsupported sort key operator %s", p.SortCondition.Op)
		}
	}

	if p.ExclusiveStartKey != nil {
		_, startSK, err := keyOf(info, p.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		if p.Backward {
			query += ` AND sk < ?`
		} else {
			query += ` AND sk > ?`
		}
		args = append(args, startSK)
	}

	if p.Backward {
		query += ` ORDER BY sk DESC`
	} else {
		query += ` ORDER BY sk ASC`
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += ` LIMIT ?`
	args = append(args, limit+1)

	s.locks.RLock(table)
	defer s.locks.RUnlock(table)
	return s.runPage(ctx, info, query, args, limit, p.Filter)
}

// KeyConditionTerm is one key-condition clause by attribute name, before
// schema binding. Adapters produce these; QueryByKeyConditions resolves
// which term is the partition equality and which constrains the sort key.
type KeyConditionTerm struct {
	Path string
	Cond KeyCondition
}

// QueryByKeyConditions binds named key-condition terms against the table
// schema and runs the query. Exactly one term must be an equality on the
// partition key; at most one more may constrain the sort key.
func (s *Store) QueryByKeyConditions(ctx context.Context, table string, terms []KeyConditionTerm, p QueryParams) (*Page, error) {
	info, err := s.describeTableShared(ctx, table)
	if err != nil {
		return nil, err
	}
	var havePartition bool
	for _, t := range terms {
		switch t.Path {
		case info.PartitionKey:
			if t.Cond.Op != OpEqual {
				return nil, emuerr.Validation("partition key %s requires an equality condition", t.Path)
			}
			if havePartition {
				return nil, emuerr.Validation("duplicate partition key condition on %s", t.Path)
			}
			p.PartitionValue = t.Cond.Value
			havePartition = true
		case info.SortKey:
			if p.SortCondition != nil {
				return nil, emuerr.Validation("duplicate sort key condition on %s", t.Path)
			}
			cond := t.Cond
			p.SortCondition = &cond
		default:
			return nil, emuerr.Validation("%s is not a key attribute", t.Path)
		}
	}
	if !havePartition {
		return nil, emuerr.Validation("key condition must include the partition key")
	}
	return s.Query(ctx, table, p)
}

// ScanParams are the inputs to Scan.
type ScanParams struct {
	Filter            []Condition
	Limit             int
	ExclusiveStartKey types.Item
}

// Scan iterates the whole table in storage order (pk, then sk), with the
// same filter and limit semantics as Query.
func (s *Store) Scan(ctx context.Context, table string, p ScanParams) (*Page, error) {
	info, err := s.describeTableShared(ctx, table)
	if err != nil {
		return nil, err
	}

	query := `SELECT pk, sk, attributes FROM kv_items WHERE tbl = ?`
	args := []any{table}

	if p.ExclusiveStartKey != nil {
		startPK, startSK, err := keyOf(info, p.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		query += ` AND (pk > ? OR (pk = ? AND sk > ?))`
		args = append(args, startPK, startPK, startSK)
	}

	query += ` ORDER BY pk, sk`

	limit := p.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += ` LIMIT ?`
	args = append(args, limit+1)

	s.locks.RLock(table)
	defer s.locks.RUnlock(table)
	return s.runPage(ctx, info, query, args, limit, p.Filter)
}

func (s *Store) runPage(ctx context.Context, info *types.TableInfo, query string, args []any, limit int, filter []Condition) (*Page, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, emuerr.Internal(err, "query items")
	}
	defer rows.Close()

	type rawRow struct {
		item types.Item
	}
	var read []rawRow
	for rows.Next() {
		var pk, sk, attrs string
		if err := rows.Scan(&pk, &sk, &attrs); err != nil {
			return nil, emuerr.Internal(err, "scan item")
		}
		var it types.Item
		if err := json.Unmarshal([]byte(attrs), &it); err != nil {
			return nil, emuerr.Internal(err, "decode item")
		}
		read = append(read, rawRow{item: it})
	}
	if err := rows.Err(); err != nil {
		return nil, emuerr.Internal(err, "query items")
	}

	page := &Page{}
	truncated := len(read) > limit
	if truncated {
		read = read[:limit]
	}
	page.ScannedCount = len(read)

	for _, r := range read {
		if matchesAll(r.item, filter) {
			page.Items = append(page.Items, r.item)
		}
	}

	if truncated && len(read) > 0 {
		last := read[len(read)-1].item
		key := types.Item{info.PartitionKey: last[info.PartitionKey]}
		if info.SortKey != "" {
			key[info.SortKey] = last[info.SortKey]
		}
		page.LastEvaluatedKey = key
	}
	return page, nil
}
