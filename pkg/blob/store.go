// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

// Package blob implements content-addressed byte storage. A blob is
// identified by the SHA-256 hash of its bytes, which gives automatic
// deduplication across buckets, keys, and providers: identical content is
// stored once regardless of where it was written from.
//
// Hash collisions are treated as identical content. Writes are not
// byte-verified against an existing blob with the same hash; the collision
// probability is accepted as negligible.
package blob

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/utils"

	sha256 "github.com/minio/sha256-simd"
)

// Store is the content-addressed blob contract.
type Store interface {
	// Put stores data and returns its content hash. Writing bytes that
	// already exist is a no-op returning the same hash.
	Put(data []byte) (string, error)

	// Get returns the bytes for a hash.
	Get(hash string) ([]byte, error)

	// Exists reports whether a blob with the hash is stored.
	Exists(hash string) bool

	// Delete removes the blob. Callers are responsible for reference
	// counting; the store itself does not track owners.
	Delete(hash string) error
}

// Sum returns the hex content hash for data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// FSStore stores blobs on the local filesystem under a two-level
// hash-prefix sharded path (<dir>/ab/cd/abcd...) so no single directory
// grows with the blob count. The filename is the full hash.
type FSStore struct {
	dir string
}

// NewFSStore creates the blob directory if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) path(hash string) string {
	if len(hash) < 4 {
		return filepath.Join(s.dir, hash)
	}
	return filepath.Join(s.dir, hash[0:2], hash[2:4], hash)
}

func (s *FSStore) Put(data []byte) (string, error) {
	hash := Sum(data)
	path := s.path(hash)

	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", emuerr.Internal(err, "create blob shard dir")
	}

	// Write to a temp file and rename so a crashed write never leaves a
	// partial blob under its final hash path.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", emuerr.Internal(err, "create blob temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", emuerr.Internal(err, "write blob %s", hash)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", emuerr.Internal(err, "sync blob %s", hash)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", emuerr.Internal(err, "close blob %s", hash)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", emuerr.Internal(err, "rename blob %s", hash)
	}
	return hash, nil
}

func (s *FSStore) Get(hash string) ([]byte, error) {
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, emuerr.NotFound("blob "+hash, "no such blob")
		}
		return nil, emuerr.Internal(err, "read blob %s", hash)
	}
	return data, nil
}

func (s *FSStore) Exists(hash string) bool {
	_, err := os.Stat(s.path(hash))
	return err == nil
}

func (s *FSStore) Delete(hash string) error {
	err := os.Remove(s.path(hash))
	if err != nil && !os.IsNotExist(err) {
		return emuerr.Internal(err, "delete blob %s", hash)
	}
	return nil
}

// MemStore is an in-memory blob store used by tests and in_memory mode.
type MemStore struct {
	blobs *utils.ShardedMap[[]byte]
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{blobs: utils.NewShardedMap[[]byte]()}
}

func (s *MemStore) Put(data []byte) (string, error) {
	hash := Sum(data)
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs.LoadOrStore(hash, cp)
	return hash, nil
}

func (s *MemStore) Get(hash string) ([]byte, error) {
	data, ok := s.blobs.Load(hash)
	if !ok {
		return nil, emuerr.NotFound("blob "+hash, "no such blob")
	}
	return data, nil
}

func (s *MemStore) Exists(hash string) bool {
	_, ok := s.blobs.Load(hash)
	return ok
}

func (s *MemStore) Delete(hash string) error {
	s.blobs.Delete(hash)
	return nil
}
