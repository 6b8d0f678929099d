// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package types

// ObjectRef represents stored object metadata.
// This is what the object catalog tracks for each object version.
type ObjectRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`

	// VersionID is empty for objects written while versioning is disabled.
	VersionID string `json:"version_id,omitempty"`

	// IsLatest: exactly one true row per (bucket,key) among stored versions.
	IsLatest bool `json:"is_latest"`

	// ContentHash is the owning reference into the blob store. Empty for
	// delete markers.
	ContentHash string `json:"content_hash,omitempty"`

	Size         int64             `json:"size"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	LastModified int64             `json:"last_modified"` // Unix nanoseconds
	UserMetadata map[string]string `json:"user_metadata,omitempty"`

	IsDeleteMarker bool `json:"is_delete_marker,omitempty"`
}

// ListObjectsPage is one page of a bucket listing.
type ListObjectsPage struct {
	Objects        []*ObjectRef
	CommonPrefixes []string
	IsTruncated    bool
	NextToken      string
}
