// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

// Package function implements the function registry: named code packages
// with runtime configuration and a local invoke stub. Code packages live in
// the blob store and share its reference counting with the object catalog.
package function

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

const functionColumns = `name, runtime, handler, code_hash, code_size, env, version, last_modified`

// Registry provides function CRUD and invocation.
type Registry struct {
	db    *db.DB
	blobs blob.Store
	locks *utils.KeyLock

	now func() time.Time
}

// NewRegistry creates a function registry.
func NewRegistry(mdb *db.DB, blobs blob.Store) *Registry {
	return &Registry{db: mdb, blobs: blobs, locks: utils.NewKeyLock(), now: time.Now}
}

// CreateFunction registers a function with its code package.
func (r *Registry) CreateFunction(ctx context.Context, name, runtime, handler string, code []byte, env map[string]string) (*types.FunctionInfo, error) {
	if name == "" || runtime == "" || handler == "" {
		return nil, emuerr.Validation("function name, runtime, and handler are required")
	}
	if len(code) == 0 {
		return nil, emuerr.Validation("function code package is required")
	}

	hash, err := r.blobs.Put(code)
	if err != nil {
		return nil, err
	}

	r.locks.Lock(name)
	defer r.locks.Unlock(name)

	info := &types.FunctionInfo{
		Name:         name,
		Runtime:      runtime,
		Handler:      handler,
		CodeHash:     hash,
		CodeSize:     int64(len(code)),
		Env:          env,
		Version:      1,
		LastModified: r.now().UnixNano(),
	}
	envJSON, err := encodeEnv(env)
	if err != nil {
		return nil, err
	}
	err = r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO functions (`+functionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			info.Name, info.Runtime, info.Handler, info.CodeHash, info.CodeSize,
			envJSON, info.Version, info.LastModified); err != nil {
			return err
		}
		return db.IncBlobRef(ctx, tx, hash)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, emuerr.AlreadyExists("function "+name, "function already exists")
		}
		return nil, emuerr.Internal(err, "insert function")
	}
	return info, nil
}

// GetFunction returns function configuration. NotFound when missing.
func (r *Registry) GetFunction(ctx context.Context, name string) (*types.FunctionInfo, error) {
	r.locks.RLock(name)
	defer r.locks.RUnlock(name)
	return r.getFunction(ctx, name)
}

func (r *Registry) getFunction(ctx context.Context, name string) (*types.FunctionInfo, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+functionColumns+` FROM functions WHERE name = ?`, name)
	info, err := scanFunction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, emuerr.NotFound("function "+name, "no such function")
	}
	if err != nil {
		return nil, emuerr.Internal(err, "get function")
	}
	return info, nil
}

// ListFunctions returns all functions ordered by name.
func (r *Registry) ListFunctions(ctx context.Context) ([]*types.FunctionInfo, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+functionColumns+` FROM functions ORDER BY name`)
	if err != nil {
		return nil, emuerr.Internal(err, "list functions")
	}
	defer rows.Close()

	var out []*types.FunctionInfo
	for rows.Next() {
		info, err := scanFunction(rows)
		if err != nil {
			return nil, emuerr.Internal(err, "scan function")
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// UpdateConfigParams are the mutable configuration fields. Nil fields are
// left unchanged.
type UpdateConfigParams struct {
	Runtime *string
	Handler *string
	Env     map[string]string
}

// UpdateFunctionConfiguration patches configuration and bumps the version.
func (r *Registry) UpdateFunctionConfiguration(ctx context.Context, name string, p UpdateConfigParams) (*types.FunctionInfo, error) {
	r.locks.Lock(name)
	defer r.locks.Unlock(name)

	info, err := r.getFunction(ctx, name)
	if err != nil {
		return nil, err
	}
	if p.Runtime != nil {
		info.Runtime = *p.Runtime
	}
	if p.Handler != nil {
		info.Handler = *p.Handler
	}
	if p.Env != nil {
		info.Env = p.Env
	}
	info.Version++
	info.LastModified = r.now().UnixNano()

	envJSON, err := encodeEnv(info.Env)
	if err != nil {
		return nil, err
	}
	if _, err := r.db.Exec(ctx, `
UPDATE functions SET runtime = ?, handler = ?, env = ?, version = ?, last_modified = ?
WHERE name = ?`,
		info.Runtime, info.Handler, envJSON, info.Version, info.LastModified, name); err != nil {
		return nil, emuerr.Internal(err, "update function")
	}
	return info, nil
}

// UpdateFunctionCode replaces the code package and bumps the version.
func (r *Registry) UpdateFunctionCode(ctx context.Context, name string, code []byte) (*types.FunctionInfo, error) {
	if len(code) == 0 {
		return nil, emuerr.Validation("function code package is required")
	}
	hash, err := r.blobs.Put(code)
	if err != nil {
		return nil, err
	}

	r.locks.Lock(name)
	defer r.locks.Unlock(name)

	info, err := r.getFunction(ctx, name)
	if err != nil {
		return nil, err
	}
	oldHash := info.CodeHash
	info.CodeHash = hash
	info.CodeSize = int64(len(code))
	info.Version++
	info.LastModified = r.now().UnixNano()

	var unreferenced bool
	err = r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
UPDATE functions SET code_hash = ?, code_size = ?, version = ?, last_modified = ?
WHERE name = ?`, info.CodeHash, info.CodeSize, info.Version, info.LastModified, name); err != nil {
			return err
		}
		if err := db.IncBlobRef(ctx, tx, hash); err != nil {
			return err
		}
		if oldHash != hash {
			unreferenced, err = db.DecBlobRef(ctx, tx, oldHash)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, emuerr.Internal(err, "update function code")
	}
	if unreferenced {
		r.blobs.Delete(oldHash)
	}
	return info, nil
}

// DeleteFunction removes a function and releases its code package.
func (r *Registry) DeleteFunction(ctx context.Context, name string) error {
	r.locks.Lock(name)
	defer r.locks.Unlock(name)

	info, err := r.getFunction(ctx, name)
	if err != nil {
		return err
	}
	var unreferenced bool
	err = r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM functions WHERE name = ?`, name); err != nil {
			return err
		}
		unreferenced, err = db.DecBlobRef(ctx, tx, info.CodeHash)
		return err
	})
	if err != nil {
		return emuerr.Internal(err, "delete function")
	}
	if unreferenced {
		r.blobs.Delete(info.CodeHash)
	}
	return nil
}

// InvocationResult is the outcome of a local invoke.
type InvocationResult struct {
	StatusCode int             `json:"status_code"`
	Payload    json.RawMessage `json:"payload"`
	Version    int64           `json:"version"`
}

// Invoke runs the function locally. No runtime sandbox exists here: the
// stub echoes the request payload back together with the function's
// configuration, which is enough for clients exercising the control plane.
func (r *Registry) Invoke(ctx context.Context, name string, payload json.RawMessage) (*InvocationResult, error) {
	r.locks.RLock(name)
	defer r.locks.RUnlock(name)

	info, err := r.getFunction(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, emuerr.Validation("invocation payload must be valid JSON")
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	echo, err := json.Marshal(map[string]any{
		"function": info.Name,
		"runtime":  info.Runtime,
		"handler":  info.Handler,
		"event":    payload,
	})
	if err != nil {
		return nil, emuerr.Internal(err, "encode invocation result")
	}
	return &InvocationResult{
		StatusCode: 200,
		Payload:    echo,
		Version:    info.Version,
	}, nil
}

// GetCode returns the function's code package bytes.
func (r *Registry) GetCode(ctx context.Context, name string) ([]byte, error) {
	info, err := r.GetFunction(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.blobs.Get(info.CodeHash)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFunction(row rowScanner) (*types.FunctionInfo, error) {
	info := &types.FunctionInfo{}
	var env sql.NullString
	err := row.Scan(&info.Name, &info.Runtime, &info.Handler, &info.CodeHash,
		&info.CodeSize, &env, &info.Version, &info.LastModified)
	if err != nil {
		return nil, err
	}
	if env.Valid && env.String != "" {
		if err := json.Unmarshal([]byte(env.String), &info.Env); err != nil {
			return nil, err
		}
	}
	return info, nil
}

func encodeEnv(env map[string]string) (string, error) {
	if len(env) == 0 {
		return "", nil
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", emuerr.Internal(err, "encode env")
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
