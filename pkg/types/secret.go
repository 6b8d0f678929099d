// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package types

// Stage labels for secret versions.
const (
	StageCurrent  = "CURRENT"
	StagePrevious = "PREVIOUS"
)

// SecretInfo represents a named secret.
type SecretInfo struct {
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`

	// DeletedAt is the scheduled purge time for a soft-deleted secret,
	// zero while the secret is live.
	DeletedAt int64 `json:"deleted_at,omitempty"`
}

// SecretVersion is one stored value of a secret. At most one version of a
// secret carries the CURRENT stage at any time.
type SecretVersion struct {
	Secret    string   `json:"secret"`
	VersionID string   `json:"version_id"`
	Value     string   `json:"value"`
	Stages    []string `json:"stages,omitempty"`
	CreatedAt int64    `json:"created_at"`
}

// HasStage reports whether the version carries the given stage label.
func (v *SecretVersion) HasStage(stage string) bool {
	for _, s := range v.Stages {
		if s == stage {
			return true
		}
	}
	return false
}
