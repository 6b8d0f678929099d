// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

// Package db owns the embedded relational store backing all structured
// metadata. Every store in the engine shares one DB; the engine's keyed
// locks provide resource-level serialization above it, and SQLite's WAL
// single-writer path serializes below it.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/cloudshim/cloudshim/pkg/logger"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection used by the metadata store.
type DB struct {
	sql *sql.DB
}

// Open opens (or creates) the metadata database at path and applies
// migrations.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?%s", path, url.Values{
		"_journal_mode": {"WAL"},
		"_busy_timeout": {"5000"},
		"_synchronous":  {"NORMAL"},
		"_foreign_keys": {"on"},
	}.Encode())
	return open(ctx, dsn, 4)
}

// OpenMemory opens a private in-memory database, used by tests and
// in_memory mode.
func OpenMemory(ctx context.Context) (*DB, error) {
	// A single connection keeps every query on the same in-memory database.
	return open(ctx, "file::memory:?_busy_timeout=5000&_foreign_keys=on", 1)
}

func open(ctx context.Context, dsn string, maxConns int) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetConnMaxIdleTime(time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping metadata db: %w", err)
	}

	d := &DB{sql: sqlDB}
	if err := d.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) migrate(ctx context.Context) error {
	if _, err := d.sql.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := d.sql.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := d.sql.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			version, time.Now().UnixNano()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
		logger.Debug().Int("version", version).Msg("applied metadata migration")
	}
	return nil
}

// Query executes a query returning rows.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.sql.QueryContext(ctx, query, args...)
}

// QueryRow executes a query returning at most one row.
func (d *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.sql.QueryRowContext(ctx, query, args...)
}

// Exec executes a statement that returns no rows.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.sql.ExecContext(ctx, query, args...)
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// IncBlobRef increments the reference count for a content hash.
func IncBlobRef(ctx context.Context, tx *sql.Tx, hash string) error {
	if hash == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO blob_refs (content_hash, refcount) VALUES (?, 1)
ON CONFLICT(content_hash) DO UPDATE SET refcount = refcount + 1`, hash)
	return err
}

// DecBlobRef decrements the reference count for a content hash and reports
// whether the blob became unreferenced (and its row was removed).
func DecBlobRef(ctx context.Context, tx *sql.Tx, hash string) (unreferenced bool, err error) {
	if hash == "" {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE blob_refs SET refcount = refcount - 1 WHERE content_hash = ?`, hash); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM blob_refs WHERE content_hash = ? AND refcount <= 0`, hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
