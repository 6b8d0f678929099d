// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package object

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

	"github.com/google/uuid"
)

const objectColumns = `bucket, object_key, version_id, is_latest, is_delete_marker, content_hash, size, content_type, etag, last_modified, user_metadata`

// PutObject stores data under (bucket, key). The body is fully buffered by
// the caller; the blob write happens before any lock is taken.
func (c *Catalog) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string, userMeta map[string]string) (*types.ObjectRef, error) {
	if key == "" {
		return nil, emuerr.Validation("object key is required")
	}

	hash, err := c.blobs.Put(data)
	if err != nil {
		return nil, err
	}

	c.locks.RLock(bucket)
	defer c.locks.RUnlock(bucket)
	lk := objectLockKey(bucket, key)
	c.locks.Lock(lk)
	defer c.locks.Unlock(lk)

	info, err := c.getBucket(ctx, bucket)
	if err != nil {
		return nil, err
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ref := &types.ObjectRef{
		Bucket:       bucket,
		Key:          key,
		IsLatest:     true,
		ContentHash:  hash,
		Size:         int64(len(data)),
		ContentType:  contentType,
		ETag:         etagFor(hash),
		LastModified: time.Now().UnixNano(),
		UserMetadata: userMeta,
	}
	if info.VersioningEnabled() {
		ref.VersionID = uuid.New().String()
	}

	var metaJSON any
	if len(userMeta) > 0 {
		b, err := json.Marshal(userMeta)
		if err != nil {
			return nil, emuerr.Internal(err, "encode user metadata")
		}
		metaJSON = string(b)
	}

	var orphaned []string
	err = c.db.WithTx(ctx, func(tx *sql.Tx) error {
		if info.VersioningEnabled() {
			if _, err := tx.ExecContext(ctx,
				`UPDATE objects SET is_latest = 0 WHERE bucket = ? AND object_key = ? AND is_latest = 1`,
				bucket, key); err != nil {
				return err
			}
		} else {
			// Unversioned buckets keep a single row per key.
			var err error
			orphaned, err = dropObjectRows(ctx, tx,
				`SELECT content_hash FROM objects WHERE bucket = ? AND object_key = ?`,
				`DELETE FROM objects WHERE bucket = ? AND object_key = ?`, bucket, key)
			if err != nil {
				return err
			}
		}

		if err := db.IncBlobRef(ctx, tx, hash); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
INSERT INTO objects (bucket, object_key, version_id, is_latest, is_delete_marker, content_hash, size, content_type, etag, last_modified, user_metadata)
VALUES (?, ?, ?, 1, 0, ?, ?, ?, ?, ?, ?)`,
			bucket, key, ref.VersionID, hash, ref.Size, ref.ContentType, ref.ETag, ref.LastModified, metaJSON)
		return err
	})
	if err != nil {
		return nil, emuerr.Internal(err, "put object")
	}
	c.removeBlobs(orphaned)
	return ref, nil
}

// GetObject returns the bytes and metadata for a key, resolving the latest
// version when versionID is empty. A delete marker resolves to NotFound.
func (c *Catalog) GetObject(ctx context.Context, bucket, key, versionID string) ([]byte, *types.ObjectRef, error) {
	ref, err := c.HeadObject(ctx, bucket, key, versionID)
	if err != nil {
		return nil, nil, err
	}
	// Blob read happens outside the metadata lock; bodies are immutable
	// once written.
	data, err := c.blobs.Get(ref.ContentHash)
	if err != nil {
		return nil, nil, err
	}
	return data, ref, nil
}

// HeadObject returns object metadata without the body.
func (c *Catalog) HeadObject(ctx context.Context, bucket, key, versionID string) (*types.ObjectRef, error) {
	c.locks.RLock(bucket)
	defer c.locks.RUnlock(bucket)
	lk := objectLockKey(bucket, key)
	c.locks.RLock(lk)
	defer c.locks.RUnlock(lk)

	if _, err := c.getBucket(ctx, bucket); err != nil {
		return nil, err
	}

	ref, err := c.getObjectRow(ctx, bucket, key, versionID)
	if err != nil {
		return nil, err
	}
	if ref.IsDeleteMarker {
		return nil, emuerr.NotFound("object "+bucket+"/"+key, "no such key")
	}
	return ref, nil
}

func (c *Catalog) getObjectRow(ctx context.Context, bucket, key, versionID string) (*types.ObjectRef, error) {
	var row *sql.Row
	if versionID != "" {
		row = c.db.QueryRow(ctx,
			`SELECT `+objectColumns+` FROM objects WHERE bucket = ? AND object_key = ? AND version_id = ?`,
			bucket, key, versionID)
	} else {
		row = c.db.QueryRow(ctx,
			`SELECT `+objectColumns+` FROM objects WHERE bucket = ? AND object_key = ? AND is_latest = 1`,
			bucket, key)
	}
	ref, err := scanObject(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, emuerr.NotFound("object "+bucket+"/"+key, "no such key")
	}
	if err != nil {
		return nil, emuerr.Internal(err, "get object")
	}
	return ref, nil
}

// DeleteObject removes a key or a specific version.
//
// Without a version id: versioning Enabled appends a delete marker (returned
// as the ref); otherwise all rows for the key are hard-deleted. With a
// version id exactly that version is removed, promoting the next-most-recent
// version to latest if needed.
func (c *Catalog) DeleteObject(ctx context.Context, bucket, key, versionID string) (*types.ObjectRef, error) {
	c.locks.RLock(bucket)
	defer c.locks.RUnlock(bucket)
	lk := objectLockKey(bucket, key)
	c.locks.Lock(lk)
	defer c.locks.Unlock(lk)

	info, err := c.getBucket(ctx, bucket)
	if err != nil {
		return nil, err
	}

	switch {
	case versionID == "" && info.VersioningEnabled():
		return c.insertDeleteMarker(ctx, bucket, key)
	case versionID != "":
		return nil, c.deleteVersion(ctx, bucket, key, versionID)
	default:
		var orphaned []string
		err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
			var err error
			orphaned, err = dropObjectRows(ctx, tx,
				`SELECT content_hash FROM objects WHERE bucket = ? AND object_key = ?`,
				`DELETE FROM objects WHERE bucket = ? AND object_key = ?`, bucket, key)
			return err
		})
		if err != nil {
			return nil, emuerr.Internal(err, "delete object")
		}
		c.removeBlobs(orphaned)
		return nil, nil
	}
}

func (c *Catalog) insertDeleteMarker(ctx context.Context, bucket, key string) (*types.ObjectRef, error) {
	marker := &types.ObjectRef{
		Bucket:         bucket,
		Key:            key,
		VersionID:      uuid.New().String(),
		IsLatest:       true,
		IsDeleteMarker: true,
		LastModified:   time.Now().UnixNano(),
	}
	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE objects SET is_latest = 0 WHERE bucket = ? AND object_key = ? AND is_latest = 1`,
			bucket, key); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO objects (bucket, object_key, version_id, is_latest, is_delete_marker, content_hash, size, content_type, etag, last_modified)
VALUES (?, ?, ?, 1, 1, '', 0, '', '', ?)`,
			bucket, key, marker.VersionID, marker.LastModified)
		return err
	})
	if err != nil {
		return nil, emuerr.Internal(err, "insert delete marker")
	}
	return marker, nil
}

func (c *Catalog) deleteVersion(ctx context.Context, bucket, key, versionID string) error {
	ref, err := c.getObjectRow(ctx, bucket, key, versionID)
	if err != nil {
		return err
	}

	var orphaned []string
	err = c.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		orphaned, err = dropObjectRows(ctx, tx,
			`SELECT content_hash FROM objects WHERE bucket = ? AND object_key = ? AND version_id = ?`,
			`DELETE FROM objects WHERE bucket = ? AND object_key = ? AND version_id = ?`,
			bucket, key, versionID)
		if err != nil {
			return err
		}
		if !ref.IsLatest {
			return nil
		}
		// Promote the next-most-recent version.
		_, err = tx.ExecContext(ctx, `
UPDATE objects SET is_latest = 1 WHERE id = (
	SELECT id FROM objects WHERE bucket = ? AND object_key = ?
	ORDER BY last_modified DESC, id DESC LIMIT 1
)`, bucket, key)
		return err
	})
	if err != nil {
		return emuerr.Internal(err, "delete object version")
	}
	c.removeBlobs(orphaned)
	return nil
}

// CopyObject copies src to dst as a metadata-only operation: the new row
// references the same content hash, so no blob bytes move.
func (c *Catalog) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (*types.ObjectRef, error) {
	src, err := c.HeadObject(ctx, srcBucket, srcKey, "")
	if err != nil {
		return nil, err
	}

	c.locks.RLock(dstBucket)
	defer c.locks.RUnlock(dstBucket)
	lk := objectLockKey(dstBucket, dstKey)
	c.locks.Lock(lk)
	defer c.locks.Unlock(lk)

	info, err := c.getBucket(ctx, dstBucket)
	if err != nil {
		return nil, err
	}

	ref := &types.ObjectRef{
		Bucket:       dstBucket,
		Key:          dstKey,
		IsLatest:     true,
		ContentHash:  src.ContentHash,
		Size:         src.Size,
		ContentType:  src.ContentType,
		ETag:         src.ETag,
		LastModified: time.Now().UnixNano(),
		UserMetadata: src.UserMetadata,
	}
	if info.VersioningEnabled() {
		ref.VersionID = uuid.New().String()
	}

	var metaJSON any
	if len(src.UserMetadata) > 0 {
		b, err := json.Marshal(src.UserMetadata)
		if err != nil {
			return nil, emuerr.Internal(err, "encode user metadata")
		}
		metaJSON = string(b)
	}

	var orphaned []string
	err = c.db.WithTx(ctx, func(tx *sql.Tx) error {
		if info.VersioningEnabled() {
			if _, err := tx.ExecContext(ctx,
				`UPDATE objects SET is_latest = 0 WHERE bucket = ? AND object_key = ? AND is_latest = 1`,
				dstBucket, dstKey); err != nil {
				return err
			}
		} else {
			var err error
			orphaned, err = dropObjectRows(ctx, tx,
				`SELECT content_hash FROM objects WHERE bucket = ? AND object_key = ?`,
				`DELETE FROM objects WHERE bucket = ? AND object_key = ?`, dstBucket, dstKey)
			if err != nil {
				return err
			}
		}
		if err := db.IncBlobRef(ctx, tx, ref.ContentHash); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO objects (bucket, object_key, version_id, is_latest, is_delete_marker, content_hash, size, content_type, etag, last_modified, user_metadata)
VALUES (?, ?, ?, 1, 0, ?, ?, ?, ?, ?, ?)`,
			dstBucket, dstKey, ref.VersionID, ref.ContentHash, ref.Size, ref.ContentType, ref.ETag, ref.LastModified, metaJSON)
		return err
	})
	if err != nil {
		return nil, emuerr.Internal(err, "copy object")
	}
	c.removeBlobs(orphaned)
	return ref, nil
}

// ListParams are the inputs to ListObjects.
type ListParams struct {
	Prefix    string
	Delimiter string
	Token     string // continuation token: the last key of the prior page
	MaxKeys   int
}

// ListObjects returns latest, non-delete-marker objects in lexicographic
// key order. With a delimiter, keys sharing a prefix segment collapse into
// a single common-prefix entry.
func (c *Catalog) ListObjects(ctx context.Context, bucket string, p ListParams) (*types.ListObjectsPage, error) {
	c.locks.RLock(bucket)
	defer c.locks.RUnlock(bucket)

	if _, err := c.getBucket(ctx, bucket); err != nil {
		return nil, err
	}
	if p.MaxKeys <= 0 {
		p.MaxKeys = 1000
	}

	rows, err := c.db.Query(ctx, `
SELECT `+objectColumns+` FROM objects
WHERE bucket = ? AND is_latest = 1 AND is_delete_marker = 0
  AND object_key LIKE ? ESCAPE '\' AND object_key > ?
ORDER BY object_key
LIMIT ?`,
		bucket, escapeLike(p.Prefix)+"%", p.Token, p.MaxKeys+1)
	if err != nil {
		return nil, emuerr.Internal(err, "list objects")
	}
	defer rows.Close()

	var refs []*types.ObjectRef
	for rows.Next() {
		ref, err := scanObject(rows.Scan)
		if err != nil {
			return nil, emuerr.Internal(err, "scan object")
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, emuerr.Internal(err, "list objects")
	}

	page := &types.ListObjectsPage{}
	if len(refs) > p.MaxKeys {
		page.IsTruncated = true
		refs = refs[:p.MaxKeys]
	}

	if p.Delimiter == "" {
		page.Objects = refs
	} else {
		seen := make(map[string]bool)
		for _, ref := range refs {
			rest := strings.TrimPrefix(ref.Key, p.Prefix)
			if i := strings.Index(rest, p.Delimiter); i >= 0 {
				cp := p.Prefix + rest[:i+len(p.Delimiter)]
				if !seen[cp] {
					seen[cp] = true
					page.CommonPrefixes = append(page.CommonPrefixes, cp)
				}
				continue
			}
			page.Objects = append(page.Objects, ref)
		}
	}

	if page.IsTruncated && len(refs) > 0 {
		page.NextToken = refs[len(refs)-1].Key
	}
	return page, nil
}

// ListVersions returns every stored version (delete markers included),
// keys ascending and versions newest-first within a key.
func (c *Catalog) ListVersions(ctx context.Context, bucket, prefix string) ([]*types.ObjectRef, error) {
	c.locks.RLock(bucket)
	defer c.locks.RUnlock(bucket)

	if _, err := c.getBucket(ctx, bucket); err != nil {
		return nil, err
	}

	rows, err := c.db.Query(ctx, `
SELECT `+objectColumns+` FROM objects
WHERE bucket = ? AND object_key LIKE ? ESCAPE '\'
ORDER BY object_key, last_modified DESC, id DESC`,
		bucket, escapeLike(prefix)+"%")
	if err != nil {
		return nil, emuerr.Internal(err, "list versions")
	}
	defer rows.Close()

	var refs []*types.ObjectRef
	for rows.Next() {
		ref, err := scanObject(rows.Scan)
		if err != nil {
			return nil, emuerr.Internal(err, "scan version")
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// dropObjectRows decrements blob refs for the rows matched by selectQ, then
// runs deleteQ with the same args. Returns hashes whose refcount hit zero.
func dropObjectRows(ctx context.Context, tx *sql.Tx, selectQ, deleteQ string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, selectQ, args...)
	if err != nil {
		return nil, err
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return nil, err
		}
		if h != "" {
			hashes = append(hashes, h)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var orphaned []string
	for _, h := range hashes {
		gone, err := db.DecBlobRef(ctx, tx, h)
		if err != nil {
			return nil, err
		}
		if gone {
			orphaned = append(orphaned, h)
		}
	}

	if _, err := tx.ExecContext(ctx, deleteQ, args...); err != nil {
		return nil, err
	}
	return orphaned, nil
}

func scanObject(scan func(dest ...any) error) (*types.ObjectRef, error) {
	ref := &types.ObjectRef{}
	var meta sql.NullString
	err := scan(&ref.Bucket, &ref.Key, &ref.VersionID, &ref.IsLatest, &ref.IsDeleteMarker,
		&ref.ContentHash, &ref.Size, &ref.ContentType, &ref.ETag, &ref.LastModified, &meta)
	if err != nil {
		return nil, err
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &ref.UserMetadata); err != nil {
			return nil, err
		}
	}
	return ref, nil
}

func etagFor(hash string) string {
	if len(hash) < 32 {
		return `"` + hash + `"`
	}
	return `"` + hash[:32] + `"`
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
