// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret implements versioned secrets with staged rotation. Writing
// a new value creates a version labeled CURRENT and demotes the prior
// CURRENT to PREVIOUS; reads resolve by version id or stage label.
package secret

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/metadata/db"
	"github.com/cloudshim/cloudshim/pkg/types"
	"github.com/cloudshim/cloudshim/pkg/utils"
)

// defaultRecoveryWindow is the scheduled-deletion delay for soft deletes.
const defaultRecoveryWindow = 30 * 24 * time.Hour

// Store provides secret operations.
type Store struct {
	db    *db.DB
	locks *utils.KeyLock

	now func() time.Time
}

// NewStore creates a secret store.
func NewStore(mdb *db.DB) *Store {
	return &Store{db: mdb, locks: utils.NewKeyLock(), now: time.Now}
}

// CreateSecret creates a secret with an initial CURRENT version.
func (s *Store) CreateSecret(ctx context.Context, name, value string) (*types.SecretVersion, error) {
	if name == "" {
		return nil, emuerr.Validation("secret name is required")
	}
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	now := s.now().UnixNano()
	version := &types.SecretVersion{
		Secret:    name,
		VersionID: uuid.NewString(),
		Value:     value,
		Stages:    []string{types.StageCurrent},
		CreatedAt: now,
	}
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO secrets (name, created_at) VALUES (?, ?)`, name, now); err != nil {
			return err
		}
		return insertVersion(ctx, tx, version)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, emuerr.AlreadyExists("secret "+name, "secret already exists")
		}
		return nil, emuerr.Internal(err, "create secret")
	}
	return version, nil
}

// PutSecretValue writes a new version staged CURRENT. The previous CURRENT
// version moves to PREVIOUS, and any older PREVIOUS label is dropped.
func (s *Store) PutSecretValue(ctx context.Context, name, value string) (*types.SecretVersion, error) {
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	if _, err := s.getSecret(ctx, name); err != nil {
		return nil, err
	}

	version := &types.SecretVersion{
		Secret:    name,
		VersionID: uuid.NewString(),
		Value:     value,
		Stages:    []string{types.StageCurrent},
		CreatedAt: s.now().UnixNano(),
	}
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := rotateStages(ctx, tx, name); err != nil {
			return err
		}
		return insertVersion(ctx, tx, version)
	})
	if err != nil {
		return nil, emuerr.Internal(err, "put secret value")
	}
	return version, nil
}

// rotateStages demotes CURRENT to PREVIOUS and clears the old PREVIOUS.
func rotateStages(ctx context.Context, tx *sql.Tx, name string) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT version_id, stages FROM secret_versions WHERE secret = ?`, name)
	if err != nil {
		return err
	}
	type change struct {
		versionID string
		stages    []string
	}
	var changes []change
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return err
		}
		var stages []string
		if err := json.Unmarshal([]byte(raw), &stages); err != nil {
			rows.Close()
			return err
		}
		next := make([]string, 0, len(stages))
		changed := false
		for _, st := range stages {
			switch st {
			case types.StageCurrent:
				next = append(next, types.StagePrevious)
				changed = true
			case types.StagePrevious:
				changed = true
			default:
				next = append(next, st)
			}
		}
		if changed {
			changes = append(changes, change{versionID: id, stages: next})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range changes {
		b, err := json.Marshal(c.stages)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE secret_versions SET stages = ? WHERE secret = ? AND version_id = ?`,
			string(b), name, c.versionID); err != nil {
			return err
		}
	}
	return nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, v *types.SecretVersion) error {
	b, err := json.Marshal(v.Stages)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO secret_versions (secret, version_id, value, stages, created_at)
VALUES (?, ?, ?, ?, ?)`, v.Secret, v.VersionID, v.Value, string(b), v.CreatedAt)
	return err
}

// GetSecretValue resolves a version by id or stage. With neither set, the
// CURRENT stage is returned. A soft-deleted secret is unreadable.
func (s *Store) GetSecretValue(ctx context.Context, name, versionID, stage string) (*types.SecretVersion, error) {
	s.locks.RLock(name)
	defer s.locks.RUnlock(name)

	if _, err := s.getSecret(ctx, name); err != nil {
		return nil, err
	}
	if versionID != "" {
		v, err := s.getVersion(ctx, name, versionID)
		if err != nil {
			return nil, err
		}
		if stage != "" && !v.HasStage(stage) {
			return nil, emuerr.NotFound("secret "+name, "version %s does not carry stage %s", versionID, stage)
		}
		return v, nil
	}
	if stage == "" {
		stage = types.StageCurrent
	}
	return s.getByStage(ctx, name, stage)
}

func (s *Store) getVersion(ctx context.Context, name, versionID string) (*types.SecretVersion, error) {
	row := s.db.QueryRow(ctx, `
SELECT secret, version_id, value, stages, created_at FROM secret_versions
WHERE secret = ? AND version_id = ?`, name, versionID)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, emuerr.NotFound("secret "+name, "no such version %s", versionID)
	}
	if err != nil {
		return nil, emuerr.Internal(err, "get secret version")
	}
	return v, nil
}

func (s *Store) getByStage(ctx context.Context, name, stage string) (*types.SecretVersion, error) {
	rows, err := s.db.Query(ctx, `
SELECT secret, version_id, value, stages, created_at FROM secret_versions
WHERE secret = ? ORDER BY created_at DESC`, name)
	if err != nil {
		return nil, emuerr.Internal(err, "list secret versions")
	}
	defer rows.Close()

	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, emuerr.Internal(err, "scan secret version")
		}
		if v.HasStage(stage) {
			return v, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, emuerr.Internal(err, "list secret versions")
	}
	return nil, emuerr.NotFound("secret "+name, "no version staged %s", stage)
}

// DescribeSecret returns secret metadata and the stage map of its versions.
func (s *Store) DescribeSecret(ctx context.Context, name string) (*types.SecretInfo, map[string][]string, error) {
	s.locks.RLock(name)
	defer s.locks.RUnlock(name)

	info, err := s.getSecretAny(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT version_id, stages FROM secret_versions WHERE secret = ? ORDER BY created_at DESC`, name)
	if err != nil {
		return nil, nil, emuerr.Internal(err, "list secret versions")
	}
	defer rows.Close()

	stages := make(map[string][]string)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, nil, emuerr.Internal(err, "scan secret version")
		}
		var st []string
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, nil, emuerr.Internal(err, "decode stages")
		}
		stages[id] = st
	}
	return info, stages, rows.Err()
}

// ListSecrets returns all live secrets ordered by name. Soft-deleted secrets
// are excluded.
func (s *Store) ListSecrets(ctx context.Context) ([]*types.SecretInfo, error) {
	rows, err := s.db.Query(ctx,
		`SELECT name, created_at, deleted_at FROM secrets WHERE deleted_at = 0 ORDER BY name`)
	if err != nil {
		return nil, emuerr.Internal(err, "list secrets")
	}
	defer rows.Close()

	var out []*types.SecretInfo
	for rows.Next() {
		info := &types.SecretInfo{}
		if err := rows.Scan(&info.Name, &info.CreatedAt, &info.DeletedAt); err != nil {
			return nil, emuerr.Internal(err, "scan secret")
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// DeleteSecret schedules deletion after the recovery window. With force the
// secret and all versions are removed immediately. Deleting an already
// scheduled secret is idempotent.
func (s *Store) DeleteSecret(ctx context.Context, name string, force bool) (*types.SecretInfo, error) {
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	info, err := s.getSecretAny(ctx, name)
	if err != nil {
		return nil, err
	}

	if force {
		err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `DELETE FROM secret_versions WHERE secret = ?`, name); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM secrets WHERE name = ?`, name)
			return err
		})
		if err != nil {
			return nil, emuerr.Internal(err, "delete secret")
		}
		info.DeletedAt = s.now().UnixNano()
		return info, nil
	}

	if info.DeletedAt == 0 {
		info.DeletedAt = s.now().Add(defaultRecoveryWindow).UnixNano()
		if _, err := s.db.Exec(ctx,
			`UPDATE secrets SET deleted_at = ? WHERE name = ?`, info.DeletedAt, name); err != nil {
			return nil, emuerr.Internal(err, "schedule secret deletion")
		}
	}
	return info, nil
}

// RestoreSecret cancels a scheduled deletion.
func (s *Store) RestoreSecret(ctx context.Context, name string) error {
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	if _, err := s.getSecretAny(ctx, name); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx,
		`UPDATE secrets SET deleted_at = 0 WHERE name = ?`, name); err != nil {
		return emuerr.Internal(err, "restore secret")
	}
	return nil
}

// getSecret returns a live secret; scheduled-for-deletion reads as NotFound.
func (s *Store) getSecret(ctx context.Context, name string) (*types.SecretInfo, error) {
	info, err := s.getSecretAny(ctx, name)
	if err != nil {
		return nil, err
	}
	if info.DeletedAt != 0 {
		return nil, emuerr.NotFound("secret "+name, "secret is scheduled for deletion")
	}
	return info, nil
}

func (s *Store) getSecretAny(ctx context.Context, name string) (*types.SecretInfo, error) {
	info := &types.SecretInfo{}
	err := s.db.QueryRow(ctx,
		`SELECT name, created_at, deleted_at FROM secrets WHERE name = ?`,
		name).Scan(&info.Name, &info.CreatedAt, &info.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, emuerr.NotFound("secret "+name, "no such secret")
	}
	if err != nil {
		return nil, emuerr.Internal(err, "get secret")
	}
	return info, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*types.SecretVersion, error) {
	v := &types.SecretVersion{}
	var raw string
	if err := row.Scan(&v.Secret, &v.VersionID, &v.Value, &raw, &v.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &v.Stages); err != nil {
		return nil, err
	}
	return v, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
