// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

// Package object implements the object catalog: bucket and object semantics
// over the blob store and the metadata database. All vendor vocabulary stops
// at the adapters; this package only knows buckets, keys, and versions.
package object

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/cloudshim/cloudshim/pkg/blob"
	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/metadata/db"
	"github.com/cloudshim/cloudshim/pkg/types"
	"github.com/cloudshim/cloudshim/pkg/utils"
)

// Catalog provides bucket/object operations.
type Catalog struct {
	db    *db.DB
	blobs blob.Store

	// locks guards buckets by name and objects by bucket+"\x00"+key.
	// Bucket-level writes exclude all object writes in that bucket by
	// taking the bucket lock exclusively; object writes take it shared.
	locks *utils.KeyLock
}

// NewCatalog creates an object catalog over the given stores.
func NewCatalog(mdb *db.DB, blobs blob.Store) *Catalog {
	return &Catalog{db: mdb, blobs: blobs, locks: utils.NewKeyLock()}
}

func objectLockKey(bucket, key string) string {
	return bucket + "\x00" + key
}

// CreateBucket creates a bucket. AlreadyExists when the name is taken.
func (c *Catalog) CreateBucket(ctx context.Context, name, region string) (*types.BucketInfo, error) {
	if name == "" {
		return nil, emuerr.Validation("bucket name is required")
	}
	c.locks.Lock(name)
	defer c.locks.Unlock(name)

	info := &types.BucketInfo{
		Name:      name,
		Region:    region,
		CreatedAt: time.Now().UnixNano(),
	}
	_, err := c.db.Exec(ctx,
		`INSERT INTO buckets (name, region, created_at) VALUES (?, ?, ?)`,
		info.Name, info.Region, info.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, emuerr.AlreadyExists("bucket "+name, "bucket already exists")
		}
		return nil, emuerr.Internal(err, "insert bucket")
	}
	return info, nil
}

// DeleteBucket removes a bucket. Conflict when the bucket still holds
// objects, unless force is set, in which case all versions and their blob
// references are removed first.
func (c *Catalog) DeleteBucket(ctx context.Context, name string, force bool) error {
	c.locks.Lock(name)
	defer c.locks.Unlock(name)

	if _, err := c.getBucket(ctx, name); err != nil {
		return err
	}

	var count int64
	if err := c.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM objects WHERE bucket = ?`, name).Scan(&count); err != nil {
		return emuerr.Internal(err, "count objects")
	}
	if count > 0 && !force {
		return emuerr.Conflict("bucket "+name, "bucket is not empty")
	}

	var orphaned []string
	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		if count > 0 {
			var err error
			orphaned, err = dropObjectRows(ctx, tx,
				`SELECT content_hash FROM objects WHERE bucket = ?`,
				`DELETE FROM objects WHERE bucket = ?`, name)
			if err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM buckets WHERE name = ?`, name)
		return err
	})
	if err != nil {
		return emuerr.Internal(err, "delete bucket")
	}
	c.removeBlobs(orphaned)
	return nil
}

// GetBucket returns bucket metadata. NotFound when missing.
func (c *Catalog) GetBucket(ctx context.Context, name string) (*types.BucketInfo, error) {
	c.locks.RLock(name)
	defer c.locks.RUnlock(name)
	return c.getBucket(ctx, name)
}

func (c *Catalog) getBucket(ctx context.Context, name string) (*types.BucketInfo, error) {
	info := &types.BucketInfo{}
	var policy, lifecycle sql.NullString
	err := c.db.QueryRow(ctx,
		`SELECT name, region, created_at, versioning, policy, lifecycle_rules FROM buckets WHERE name = ?`,
		name).Scan(&info.Name, &info.Region, &info.CreatedAt, &info.Versioning, &policy, &lifecycle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, emuerr.NotFound("bucket "+name, "no such bucket")
	}
	if err != nil {
		return nil, emuerr.Internal(err, "get bucket")
	}
	if policy.Valid {
		info.Policy = json.RawMessage(policy.String)
	}
	if lifecycle.Valid {
		info.LifecycleRules = json.RawMessage(lifecycle.String)
	}
	return info, nil
}

// ListBuckets returns all buckets ordered by name.
func (c *Catalog) ListBuckets(ctx context.Context) ([]*types.BucketInfo, error) {
	rows, err := c.db.Query(ctx,
		`SELECT name, region, created_at, versioning FROM buckets ORDER BY name`)
	if err != nil {
		return nil, emuerr.Internal(err, "list buckets")
	}
	defer rows.Close()

	var out []*types.BucketInfo
	for rows.Next() {
		info := &types.BucketInfo{}
		if err := rows.Scan(&info.Name, &info.Region, &info.CreatedAt, &info.Versioning); err != nil {
			return nil, emuerr.Internal(err, "scan bucket")
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// SetVersioning updates the bucket versioning state.
func (c *Catalog) SetVersioning(ctx context.Context, name string, state types.VersioningState) error {
	switch state {
	case types.VersioningDisabled, types.VersioningEnabled, types.VersioningSuspended:
	default:
		return emuerr.Validation("invalid versioning state %q", state)
	}
	c.locks.Lock(name)
	defer c.locks.Unlock(name)
	return c.updateBucket(ctx, name, `UPDATE buckets SET versioning = ? WHERE name = ?`, string(state))
}

// SetPolicy stores an opaque policy document on the bucket.
func (c *Catalog) SetPolicy(ctx context.Context, name string, policy json.RawMessage) error {
	if !json.Valid(policy) {
		return emuerr.Validation("policy is not valid JSON")
	}
	c.locks.Lock(name)
	defer c.locks.Unlock(name)
	return c.updateBucket(ctx, name, `UPDATE buckets SET policy = ? WHERE name = ?`, string(policy))
}

// DeletePolicy removes the bucket policy.
func (c *Catalog) DeletePolicy(ctx context.Context, name string) error {
	c.locks.Lock(name)
	defer c.locks.Unlock(name)
	return c.updateBucket(ctx, name, `UPDATE buckets SET policy = NULL WHERE name = ?`)
}

// SetLifecycle stores opaque lifecycle rules on the bucket.
func (c *Catalog) SetLifecycle(ctx context.Context, name string, rules json.RawMessage) error {
	if !json.Valid(rules) {
		return emuerr.Validation("lifecycle rules are not valid JSON")
	}
	c.locks.Lock(name)
	defer c.locks.Unlock(name)
	return c.updateBucket(ctx, name, `UPDATE buckets SET lifecycle_rules = ? WHERE name = ?`, string(rules))
}

func (c *Catalog) updateBucket(ctx context.Context, name, query string, args ...any) error {
	args = append(args, name)
	res, err := c.db.Exec(ctx, query, args...)
	if err != nil {
		return emuerr.Internal(err, "update bucket")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return emuerr.Internal(err, "update bucket")
	}
	if n == 0 {
		return emuerr.NotFound("bucket "+name, "no such bucket")
	}
	return nil
}

// removeBlobs deletes blob files whose metadata refcount reached zero.
// Runs after the owning transaction commits.
func (c *Catalog) removeBlobs(hashes []string) {
	for _, h := range hashes {
		if err := c.blobs.Delete(h); err != nil {
			// The ref row is already gone; an orphaned file is the worst case.
			continue
		}
	}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
