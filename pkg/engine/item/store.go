// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

// Package item implements typed key-value tables with partition/sort keys.
// Attribute values are the tagged-variant type in pkg/types; items are
// stored as their JSON wire rendering in the metadata database.
package item

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/metadata/db"
	"github.com/cloudshim/cloudshim/pkg/types"
	"github.com/cloudshim/cloudshim/pkg/utils"
)

// Store provides table and item operations.
type Store struct {
	db    *db.DB
	locks *utils.KeyLock
}

// NewStore creates an item store.
func NewStore(mdb *db.DB) *Store {
	return &Store{db: mdb, locks: utils.NewKeyLock()}
}

func itemLockKey(table, pk, sk string) string {
	return table + "\x00" + pk + "\x00" + sk
}

// CreateTable creates a table with an immutable key schema.
func (s *Store) CreateTable(ctx context.Context, name, partitionKey, sortKey string) (*types.TableInfo, error) {
	if name == "" || partitionKey == "" {
		return nil, emuerr.Validation("table name and partition key are required")
	}
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	info := &types.TableInfo{
		Name:         name,
		PartitionKey: partitionKey,
		SortKey:      sortKey,
		CreatedAt:    time.Now().UnixNano(),
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO kv_tables (name, partition_key, sort_key, created_at) VALUES (?, ?, ?, ?)`,
		info.Name, info.PartitionKey, info.SortKey, info.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, emuerr.AlreadyExists("table "+name, "table already exists")
		}
		return nil, emuerr.Internal(err, "insert table")
	}
	return info, nil
}

// DeleteTable removes a table and all its items.
func (s *Store) DeleteTable(ctx context.Context, name string) error {
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	if _, err := s.describeTable(ctx, name); err != nil {
		return err
	}
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv_items WHERE tbl = ?`, name); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM kv_tables WHERE name = ?`, name)
		return err
	})
	if err != nil {
		return emuerr.Internal(err, "delete table")
	}
	return nil
}

// DescribeTable returns table metadata including an item count.
func (s *Store) DescribeTable(ctx context.Context, name string) (*types.TableInfo, error) {
	s.locks.RLock(name)
	defer s.locks.RUnlock(name)

	info, err := s.describeTable(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM kv_items WHERE tbl = ?`, name).Scan(&info.ItemCount); err != nil {
		return nil, emuerr.Internal(err, "count items")
	}
	return info, nil
}

func (s *Store) describeTable(ctx context.Context, name string) (*types.TableInfo, error) {
	info := &types.TableInfo{}
	err := s.db.QueryRow(ctx,
		`SELECT name, partition_key, sort_key, created_at FROM kv_tables WHERE name = ?`,
		name).Scan(&info.Name, &info.PartitionKey, &info.SortKey, &info.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, emuerr.NotFound("table "+name, "no such table")
	}
	if err != nil {
		return nil, emuerr.Internal(err, "get table")
	}
	return info, nil
}

// ListTables returns all table names in order.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT name FROM kv_tables ORDER BY name`)
	if err != nil {
		return nil, emuerr.Internal(err, "list tables")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, emuerr.Internal(err, "scan table name")
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// keyOf extracts the (pk, sk) storage strings for an item, validating the
// key attributes against the table schema.
func keyOf(info *types.TableInfo, it types.Item) (pk, sk string, err error) {
	pv, ok := it[info.PartitionKey]
	if !ok {
		return "", "", emuerr.Validation("item missing partition key %s", info.PartitionKey)
	}
	pk, ok = pv.KeyString()
	if !ok {
		return "", "", emuerr.Validation("partition key %s must be a scalar", info.PartitionKey)
	}
	if info.SortKey != "" {
		sv, ok := it[info.SortKey]
		if !ok {
			return "", "", emuerr.Validation("item missing sort key %s", info.SortKey)
		}
		sk, ok = sv.KeyString()
		if !ok {
			return "", "", emuerr.Validation("sort key %s must be a scalar", info.SortKey)
		}
	}
	return pk, sk, nil
}

// PutItem upserts an item, returning the prior item if one existed. The
// condition, if any, is evaluated against the existing item before the
// write under the item's lock.
func (s *Store) PutItem(ctx context.Context, table string, it types.Item, cond []Condition) (types.Item, error) {
	info, err := s.tableForWrite(ctx, table)
	if err != nil {
		return nil, err
	}
	pk, sk, err := keyOf(info, it)
	if err != nil {
		return nil, err
	}

	s.locks.RLock(table)
	defer s.locks.RUnlock(table)
	lk := itemLockKey(table, pk, sk)
	s.locks.Lock(lk)
	defer s.locks.Unlock(lk)

	prior, err := s.readItem(ctx, table, pk, sk)
	if err != nil {
		return nil, err
	}
	if !matchesAll(orEmpty(prior), cond) {
		return nil, emuerr.ConditionalCheckFailed("table "+table, "condition not satisfied")
	}

	if err := s.writeItem(ctx, table, pk, sk, it); err != nil {
		return nil, err
	}
	return prior, nil
}

// GetItem fetches an item by key. Returns nil when absent.
func (s *Store) GetItem(ctx context.Context, table string, key types.Item) (types.Item, error) {
	info, err := s.describeTableShared(ctx, table)
	if err != nil {
		return nil, err
	}
	pk, sk, err := keyOf(info, key)
	if err != nil {
		return nil, err
	}

	s.locks.RLock(table)
	defer s.locks.RUnlock(table)
	return s.readItem(ctx, table, pk, sk)
}

// DeleteItem removes an item by key, subject to an optional condition.
func (s *Store) DeleteItem(ctx context.Context, table string, key types.Item, cond []Condition) (types.Item, error) {
	info, err := s.tableForWrite(ctx, table)
	if err != nil {
		return nil, err
	}
	pk, sk, err := keyOf(info, key)
	if err != nil {
		return nil, err
	}

	s.locks.RLock(table)
	defer s.locks.RUnlock(table)
	lk := itemLockKey(table, pk, sk)
	s.locks.Lock(lk)
	defer s.locks.Unlock(lk)

	prior, err := s.readItem(ctx, table, pk, sk)
	if err != nil {
		return nil, err
	}
	if !matchesAll(orEmpty(prior), cond) {
		return nil, emuerr.ConditionalCheckFailed("table "+table, "condition not satisfied")
	}
	if prior == nil {
		return nil, nil
	}
	if _, err := s.db.Exec(ctx,
		`DELETE FROM kv_items WHERE tbl = ? AND pk = ? AND sk = ?`, table, pk, sk); err != nil {
		return nil, emuerr.Internal(err, "delete item")
	}
	return prior, nil
}

// UpdateItem applies ordered update ops to an item, creating it when absent.
// Returns the item after the update.
func (s *Store) UpdateItem(ctx context.Context, table string, key types.Item, ops []UpdateOp, cond []Condition) (types.Item, error) {
	info, err := s.tableForWrite(ctx, table)
	if err != nil {
		return nil, err
	}
	pk, sk, err := keyOf(info, key)
	if err != nil {
		return nil, err
	}
	for _, op := range ops {
		if op.Path == info.PartitionKey || (info.SortKey != "" && op.Path == info.SortKey) {
			return nil, emuerr.Validation("cannot update key attribute %s", op.Path)
		}
	}

	s.locks.RLock(table)
	defer s.locks.RUnlock(table)
	lk := itemLockKey(table, pk, sk)
	s.locks.Lock(lk)
	defer s.locks.Unlock(lk)

	prior, err := s.readItem(ctx, table, pk, sk)
	if err != nil {
		return nil, err
	}
	if !matchesAll(orEmpty(prior), cond) {
		return nil, emuerr.ConditionalCheckFailed("table "+table, "condition not satisfied")
	}

	updated := make(types.Item, len(prior)+len(ops)+len(key))
	for k, v := range prior {
		updated[k] = v
	}
	// A fresh item starts from its key attributes.
	for k, v := range key {
		updated[k] = v
	}
	if err := applyUpdates(updated, ops); err != nil {
		return nil, err
	}

	if err := s.writeItem(ctx, table, pk, sk, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) tableForWrite(ctx context.Context, table string) (*types.TableInfo, error) {
	return s.describeTableShared(ctx, table)
}

func (s *Store) describeTableShared(ctx context.Context, table string) (*types.TableInfo, error) {
	s.locks.RLock(table)
	defer s.locks.RUnlock(table)
	return s.describeTable(ctx, table)
}

func (s *Store) readItem(ctx context.Context, table, pk, sk string) (types.Item, error) {
	var attrs string
	err := s.db.QueryRow(ctx,
		`SELECT attributes FROM kv_items WHERE tbl = ? AND pk = ? AND sk = ?`,
		table, pk, sk).Scan(&attrs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, emuerr.Internal(err, "read item")
	}
	var it types.Item
	if err := json.Unmarshal([]byte(attrs), &it); err != nil {
		return nil, emuerr.Internal(err, "decode item")
	}
	return it, nil
}

func (s *Store) writeItem(ctx context.Context, table, pk, sk string, it types.Item) error {
	b, err := json.Marshal(it)
	if err != nil {
		return emuerr.Internal(err, "encode item")
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO kv_items (tbl, pk, sk, attributes) VALUES (?, ?, ?, ?)
ON CONFLICT(tbl, pk, sk) DO UPDATE SET attributes = excluded.attributes`,
		table, pk, sk, string(b))
	if err != nil {
		return emuerr.Internal(err, "write item")
	}
	return nil
}

func orEmpty(it types.Item) types.Item {
	if it == nil {
		return types.Item{}
	}
	return it
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
