// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/metadata/db"
	"github.com/cloudshim/cloudshim/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mdb, err := db.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { mdb.Close() })
	return NewStore(mdb)
}

func TestCreateAndGetSecret(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.CreateSecret(ctx, "db-password", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, []string{types.StageCurrent}, v.Stages)

	got, err := s.GetSecretValue(ctx, "db-password", "", "")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got.Value)
	assert.Equal(t, v.VersionID, got.VersionID)

	_, err = s.CreateSecret(ctx, "db-password", "again")
	assert.Equal(t, emuerr.KindAlreadyExists, emuerr.KindOf(err))

	_, err = s.GetSecretValue(ctx, "missing", "", "")
	assert.Equal(t, emuerr.KindNotFound, emuerr.KindOf(err))
}

func TestRotation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1, err := s.CreateSecret(ctx, "api-key", "one")
	require.NoError(t, err)
	v2, err := s.PutSecretValue(ctx, "api-key", "two")
	require.NoError(t, err)
	v3, err := s.PutSecretValue(ctx, "api-key", "three")
	require.NoError(t, err)

	cur, err := s.GetSecretValue(ctx, "api-key", "", "")
	require.NoError(t, err)
	assert.Equal(t, v3.VersionID, cur.VersionID)
	assert.Equal(t, "three", cur.Value)

	prev, err := s.GetSecretValue(ctx, "api-key", "", types.StagePrevious)
	require.NoError(t, err)
	assert.Equal(t, v2.VersionID, prev.VersionID)
	assert.Equal(t, "two", prev.Value)

	// The oldest version lost all stage labels but stays readable by id.
	old, err := s.GetSecretValue(ctx, "api-key", v1.VersionID, "")
	require.NoError(t, err)
	assert.Equal(t, "one", old.Value)
	assert.Empty(t, old.Stages)

	_, err = s.GetSecretValue(ctx, "api-key", v1.VersionID, types.StageCurrent)
	assert.Equal(t, emuerr.KindNotFound, emuerr.KindOf(err))
}

func TestDescribeSecret(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1, err := s.CreateSecret(ctx, "token", "a")
	require.NoError(t, err)
	v2, err := s.PutSecretValue(ctx, "token", "b")
	require.NoError(t, err)

	info, stages, err := s.DescribeSecret(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, "token", info.Name)
	assert.Equal(t, []string{types.StagePrevious}, stages[v1.VersionID])
	assert.Equal(t, []string{types.StageCurrent}, stages[v2.VersionID])
}

func TestSoftDeleteAndRestore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSecret(ctx, "token", "a")
	require.NoError(t, err)

	info, err := s.DeleteSecret(ctx, "token", false)
	require.NoError(t, err)
	assert.NotZero(t, info.DeletedAt)

	// Scheduled for deletion: value reads fail, describe still works.
	_, err = s.GetSecretValue(ctx, "token", "", "")
	assert.Equal(t, emuerr.KindNotFound, emuerr.KindOf(err))
	_, _, err = s.DescribeSecret(ctx, "token")
	require.NoError(t, err)

	// Excluded from listings.
	list, err := s.ListSecrets(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, s.RestoreSecret(ctx, "token"))
	got, err := s.GetSecretValue(ctx, "token", "", "")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Value)
}

func TestForceDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSecret(ctx, "token", "a")
	require.NoError(t, err)
	_, err = s.DeleteSecret(ctx, "token", true)
	require.NoError(t, err)

	_, _, err = s.DescribeSecret(ctx, "token")
	assert.Equal(t, emuerr.KindNotFound, emuerr.KindOf(err))

	// Name is reusable right away.
	_, err = s.CreateSecret(ctx, "token", "b")
	require.NoError(t, err)
}

func TestListSecrets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"b", "a", "c"} {
		_, err := s.CreateSecret(ctx, name, "v")
		require.NoError(t, err)
	}
	list, err := s.ListSecrets(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "c", list[2].Name)
}
