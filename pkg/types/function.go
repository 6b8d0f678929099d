// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package types

// FunctionInfo represents registered function metadata. Code bytes live in
// the blob store; only the hash is tracked here. Invocation is a stub.
type FunctionInfo struct {
	Name     string            `json:"name"`
	Runtime  string            `json:"runtime"`
	Handler  string            `json:"handler"`
	CodeHash string            `json:"code_hash,omitempty"`
	CodeSize int64             `json:"code_size,omitempty"`
	Env      map[string]string `json:"env,omitempty"`

	// Version increments on every configuration or code update.
	Version      int64 `json:"version"`
	LastModified int64 `json:"last_modified"`
}
