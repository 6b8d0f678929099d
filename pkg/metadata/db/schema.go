// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package db

// migrations are applied in order at open. Each entry runs once; the
// schema_migrations table records the applied version.
var migrations = []string{
	// 1: buckets and objects (object catalog)
	`
CREATE TABLE IF NOT EXISTS buckets (
	name            TEXT PRIMARY KEY,
	region          TEXT NOT NULL DEFAULT 'us-east-1',
	created_at      INTEGER NOT NULL,
	versioning      TEXT NOT NULL DEFAULT '',
	policy          TEXT,
	lifecycle_rules TEXT
);

CREATE TABLE IF NOT EXISTS objects (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	bucket           TEXT NOT NULL,
	object_key       TEXT NOT NULL,
	version_id       TEXT NOT NULL DEFAULT '',
	is_latest        INTEGER NOT NULL DEFAULT 1,
	is_delete_marker INTEGER NOT NULL DEFAULT 0,
	content_hash     TEXT NOT NULL DEFAULT '',
	size             INTEGER NOT NULL DEFAULT 0,
	content_type     TEXT NOT NULL DEFAULT 'application/octet-stream',
	etag             TEXT NOT NULL DEFAULT '',
	last_modified    INTEGER NOT NULL,
	user_metadata    TEXT
);

CREATE INDEX IF NOT EXISTS idx_objects_bucket_key ON objects(bucket, object_key);
CREATE INDEX IF NOT EXISTS idx_objects_bucket_latest ON objects(bucket, is_latest);
CREATE UNIQUE INDEX IF NOT EXISTS idx_objects_unique_version ON objects(bucket, object_key, version_id);
`,

	// 2: blob reference counts, shared by every store that owns blob hashes
	`
CREATE TABLE IF NOT EXISTS blob_refs (
	content_hash TEXT PRIMARY KEY,
	refcount     INTEGER NOT NULL DEFAULT 0
);
`,

	// 3: key-value tables and items (item store)
	`
CREATE TABLE IF NOT EXISTS kv_tables (
	name          TEXT PRIMARY KEY,
	partition_key TEXT NOT NULL,
	sort_key      TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS kv_items (
	tbl        TEXT NOT NULL,
	pk         TEXT NOT NULL,
	sk         TEXT NOT NULL DEFAULT '',
	attributes TEXT NOT NULL,
	PRIMARY KEY (tbl, pk, sk)
);
`,

	// 4: queues and messages (queue store)
	`
CREATE TABLE IF NOT EXISTS queues (
	name               TEXT PRIMARY KEY,
	visibility_timeout INTEGER NOT NULL DEFAULT 30,
	retention          INTEGER NOT NULL DEFAULT 345600,
	max_receive_count  INTEGER NOT NULL DEFAULT 0,
	dlq_target         TEXT NOT NULL DEFAULT '',
	is_fifo            INTEGER NOT NULL DEFAULT 0,
	created_at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS queue_messages (
	queue         TEXT NOT NULL,
	id            TEXT NOT NULL,
	body          TEXT NOT NULL,
	attributes    TEXT,
	receive_count INTEGER NOT NULL DEFAULT 0,
	sent_at       INTEGER NOT NULL,
	visible_at    INTEGER NOT NULL,
	dedup_id      TEXT NOT NULL DEFAULT '',
	receipt_token TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (queue, id)
);

CREATE INDEX IF NOT EXISTS idx_messages_visible ON queue_messages(queue, visible_at);
`,

	// 5: secrets and versions (secret store)
	`
CREATE TABLE IF NOT EXISTS secrets (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	deleted_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS secret_versions (
	secret     TEXT NOT NULL,
	version_id TEXT NOT NULL,
	value      TEXT NOT NULL,
	stages     TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL,
	PRIMARY KEY (secret, version_id)
);
`,

	// 6: function registry
	`
CREATE TABLE IF NOT EXISTS functions (
	name          TEXT PRIMARY KEY,
	runtime       TEXT NOT NULL,
	handler       TEXT NOT NULL,
	code_hash     TEXT NOT NULL DEFAULT '',
	code_size     INTEGER NOT NULL DEFAULT 0,
	env           TEXT,
	version       INTEGER NOT NULL DEFAULT 1,
	last_modified INTEGER NOT NULL
);
`,
}
