// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "encoding/json"

// VersioningState is the bucket versioning configuration.
type VersioningState string

const (
	VersioningDisabled  VersioningState = ""
	VersioningEnabled   VersioningState = "Enabled"
	VersioningSuspended VersioningState = "Suspended"
)

// BucketInfo represents bucket metadata
type BucketInfo struct {
	Name      string `json:"name"`
	Region    string `json:"region,omitempty"`
	CreatedAt int64  `json:"created_at"` // Unix nanoseconds

	// Versioning: "Enabled", "Suspended", or "" (disabled)
	Versioning VersioningState `json:"versioning,omitempty"`

	// Policy is an opaque JSON document; the engine stores it verbatim.
	Policy json.RawMessage `json:"policy,omitempty"`

	// LifecycleRules is an opaque JSON list, stored verbatim.
	LifecycleRules json.RawMessage `json:"lifecycle_rules,omitempty"`
}

// VersioningEnabled reports whether new writes allocate version ids.
func (b *BucketInfo) VersioningEnabled() bool {
	return b.Versioning == VersioningEnabled
}
