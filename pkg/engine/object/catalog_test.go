// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudshim/cloudshim/pkg/blob"
	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/metadata/db"
	"github.com/cloudshim/cloudshim/pkg/types"
)

func newTestCatalog(t *testing.T) (*Catalog, *blob.MemStore) {
	t.Helper()
	mdb, err := db.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { mdb.Close() })

	blobs := blob.NewMemStore()
	return NewCatalog(mdb, blobs), blobs
}

func TestBucketLifecycle(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()

	info, err := c.CreateBucket(ctx, "docs", "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "docs", info.Name)
	assert.Equal(t, "us-east-1", info.Region)

	_, err = c.CreateBucket(ctx, "docs", "")
	assert.Equal(t, emuerr.KindAlreadyExists, emuerr.KindOf(err))

	_, err = c.GetBucket(ctx, "missing")
	assert.Equal(t, emuerr.KindNotFound, emuerr.KindOf(err))

	_, err = c.CreateBucket(ctx, "assets", "")
	require.NoError(t, err)
	buckets, err := c.ListBuckets(ctx)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, "assets", buckets[0].Name)
	assert.Equal(t, "docs", buckets[1].Name)

	_, err = c.PutObject(ctx, "docs", "a.txt", []byte("a"), "", nil)
	require.NoError(t, err)

	err = c.DeleteBucket(ctx, "docs", false)
	assert.Equal(t, emuerr.KindConflict, emuerr.KindOf(err))

	require.NoError(t, c.DeleteBucket(ctx, "docs", true))
	_, err = c.GetBucket(ctx, "docs")
	assert.Equal(t, emuerr.KindNotFound, emuerr.KindOf(err))
}

func TestPutGetObject(t *testing.T) {
	c, blobs := newTestCatalog(t)
	ctx := context.Background()

	_, err := c.CreateBucket(ctx, "docs", "")
	require.NoError(t, err)

	ref, err := c.PutObject(ctx, "docs", "note.txt", []byte("one"),
		"text/plain", map[string]string{"owner": "ops"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), ref.Size)
	assert.NotEmpty(t, ref.ETag)
	assert.Empty(t, ref.VersionID)

	data, got, err := c.GetObject(ctx, "docs", "note.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
	assert.Equal(t, "text/plain", got.ContentType)
	assert.Equal(t, map[string]string{"owner": "ops"}, got.UserMetadata)

	// Missing content type falls back to a binary default.
	bin, err := c.PutObject(ctx, "docs", "raw", []byte{0x1}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", bin.ContentType)

	// Overwriting an unversioned key keeps a single row and drops the
	// previous content once nothing references it.
	oldHash := ref.ContentHash
	_, err = c.PutObject(ctx, "docs", "note.txt", []byte("two"), "text/plain", nil)
	require.NoError(t, err)

	versions, err := c.ListVersions(ctx, "docs", "note.txt")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.False(t, blobs.Exists(oldHash))

	data, _, err = c.GetObject(ctx, "docs", "note.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	_, _, err = c.GetObject(ctx, "docs", "missing", "")
	assert.Equal(t, emuerr.KindNotFound, emuerr.KindOf(err))
}

func TestBlobSharedAcrossKeys(t *testing.T) {
	c, blobs := newTestCatalog(t)
	ctx := context.Background()

	_, err := c.CreateBucket(ctx, "docs", "")
	require.NoError(t, err)

	a, err := c.PutObject(ctx, "docs", "a", []byte("same bytes"), "", nil)
	require.NoError(t, err)
	b, err := c.PutObject(ctx, "docs", "b", []byte("same bytes"), "", nil)
	require.NoError(t, err)
	require.Equal(t, a.ContentHash, b.ContentHash)

	// The blob survives until the last referencing key is gone.
	_, err = c.DeleteObject(ctx, "docs", "a", "")
	require.NoError(t, err)
	assert.True(t, blobs.Exists(a.ContentHash))

	_, err = c.DeleteObject(ctx, "docs", "b", "")
	require.NoError(t, err)
	assert.False(t, blobs.Exists(a.ContentHash))
}

func TestCopyObject(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := c.CreateBucket(ctx, "src", "")
	require.NoError(t, err)
	_, err = c.CreateBucket(ctx, "dst", "")
	require.NoError(t, err)

	orig, err := c.PutObject(ctx, "src", "a.txt", []byte("payload"),
		"text/plain", map[string]string{"k": "v"})
	require.NoError(t, err)

	copied, err := c.CopyObject(ctx, "src", "a.txt", "dst", "b.txt")
	require.NoError(t, err)
	assert.Equal(t, orig.ContentHash, copied.ContentHash)
	assert.Equal(t, orig.ETag, copied.ETag)

	data, ref, err := c.GetObject(ctx, "dst", "b.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, "text/plain", ref.ContentType)
	assert.Equal(t, map[string]string{"k": "v"}, ref.UserMetadata)

	_, err = c.CopyObject(ctx, "src", "missing", "dst", "x")
	assert.Equal(t, emuerr.KindNotFound, emuerr.KindOf(err))
}

func TestVersioning(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := c.CreateBucket(ctx, "docs", "")
	require.NoError(t, err)
	require.NoError(t, c.SetVersioning(ctx, "docs", types.VersioningEnabled))

	v1, err := c.PutObject(ctx, "docs", "k", []byte("v1"), "", nil)
	require.NoError(t, err)
	v2, err := c.PutObject(ctx, "docs", "k", []byte("v2"), "", nil)
	require.NoError(t, err)
	require.NotEmpty(t, v1.VersionID)
	require.NotEqual(t, v1.VersionID, v2.VersionID)

	versions, err := c.ListVersions(ctx, "docs", "k")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, v2.VersionID, versions[0].VersionID)
	assert.True(t, versions[0].IsLatest)
	assert.False(t, versions[1].IsLatest)

	// Unversioned delete appends a marker; reads of the key now miss, but
	// named versions stay reachable.
	marker, err := c.DeleteObject(ctx, "docs", "k", "")
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.True(t, marker.IsDeleteMarker)

	_, err = c.HeadObject(ctx, "docs", "k", "")
	assert.Equal(t, emuerr.KindNotFound, emuerr.KindOf(err))

	data, _, err := c.GetObject(ctx, "docs", "k", v1.VersionID)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	// Dropping the marker version brings the key back.
	_, err = c.DeleteObject(ctx, "docs", "k", marker.VersionID)
	require.NoError(t, err)
	ref, err := c.HeadObject(ctx, "docs", "k", "")
	require.NoError(t, err)
	assert.Equal(t, v2.VersionID, ref.VersionID)

	// Deleting the latest version promotes the next one.
	_, err = c.DeleteObject(ctx, "docs", "k", v2.VersionID)
	require.NoError(t, err)
	ref, err = c.HeadObject(ctx, "docs", "k", "")
	require.NoError(t, err)
	assert.Equal(t, v1.VersionID, ref.VersionID)
}

func TestListObjects(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := c.CreateBucket(ctx, "docs", "")
	require.NoError(t, err)
	for _, key := range []string{"a/1", "a/2", "b", "c"} {
		_, err := c.PutObject(ctx, "docs", key, []byte(key), "", nil)
		require.NoError(t, err)
	}

	page, err := c.ListObjects(ctx, "docs", ListParams{Delimiter: "/"})
	require.NoError(t, err)
	require.Len(t, page.Objects, 2)
	assert.Equal(t, "b", page.Objects[0].Key)
	assert.Equal(t, "c", page.Objects[1].Key)
	assert.Equal(t, []string{"a/"}, page.CommonPrefixes)

	page, err = c.ListObjects(ctx, "docs", ListParams{Prefix: "a/"})
	require.NoError(t, err)
	require.Len(t, page.Objects, 2)
	assert.Equal(t, "a/1", page.Objects[0].Key)

	// Pagination walks the full key set in order.
	page, err = c.ListObjects(ctx, "docs", ListParams{MaxKeys: 3})
	require.NoError(t, err)
	require.Len(t, page.Objects, 3)
	require.True(t, page.IsTruncated)
	require.Equal(t, "b", page.NextToken)

	page, err = c.ListObjects(ctx, "docs", ListParams{MaxKeys: 3, Token: page.NextToken})
	require.NoError(t, err)
	require.Len(t, page.Objects, 1)
	assert.Equal(t, "c", page.Objects[0].Key)
	assert.False(t, page.IsTruncated)

	_, err = c.ListObjects(ctx, "missing", ListParams{})
	assert.Equal(t, emuerr.KindNotFound, emuerr.KindOf(err))
}

func TestBucketPolicy(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := c.CreateBucket(ctx, "docs", "")
	require.NoError(t, err)

	err = c.SetPolicy(ctx, "docs", json.RawMessage("{not json"))
	assert.Equal(t, emuerr.KindValidation, emuerr.KindOf(err))

	policy := json.RawMessage(`{"Version":"2012-10-17","Statement":[]}`)
	require.NoError(t, c.SetPolicy(ctx, "docs", policy))

	info, err := c.GetBucket(ctx, "docs")
	require.NoError(t, err)
	assert.JSONEq(t, string(policy), string(info.Policy))

	require.NoError(t, c.DeletePolicy(ctx, "docs"))
	info, err = c.GetBucket(ctx, "docs")
	require.NoError(t, err)
	assert.Empty(t, info.Policy)
}
