// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package function

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudshim/cloudshim/pkg/blob"
	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/metadata/db"
)

func newTestRegistry(t *testing.T) (*Registry, blob.Store) {
	t.Helper()
	mdb, err := db.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { mdb.Close() })

	blobs := blob.NewMemStore()
	return NewRegistry(mdb, blobs), blobs
}

func TestCreateGetDelete(t *testing.T) {
	r, blobs := newTestRegistry(t)
	ctx := context.Background()
	code := []byte("exports.handler = async () => ({ok: true})")

	created, err := r.CreateFunction(ctx, "hello", "nodejs20.x", "index.handler", code, map[string]string{"STAGE": "dev"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, created.Version)
	assert.EqualValues(t, len(code), created.CodeSize)
	assert.Equal(t, blob.Sum(code), created.CodeHash)

	got, err := r.GetFunction(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, created.CodeHash, got.CodeHash)
	assert.Equal(t, map[string]string{"STAGE": "dev"}, got.Env)

	fetched, err := r.GetCode(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, code, fetched)

	_, err = r.CreateFunction(ctx, "hello", "nodejs20.x", "index.handler", code, nil)
	assert.Equal(t, emuerr.KindAlreadyExists, emuerr.KindOf(err))

	require.NoError(t, r.DeleteFunction(ctx, "hello"))
	_, err = r.GetFunction(ctx, "hello")
	assert.Equal(t, emuerr.KindNotFound, emuerr.KindOf(err))

	// Last reference released: the code package is gone.
	assert.False(t, blobs.Exists(created.CodeHash))
}

func TestSharedCodePackage(t *testing.T) {
	r, blobs := newTestRegistry(t)
	ctx := context.Background()
	code := []byte("shared bundle")

	a, err := r.CreateFunction(ctx, "a", "python3.12", "app.main", code, nil)
	require.NoError(t, err)
	_, err = r.CreateFunction(ctx, "b", "python3.12", "app.main", code, nil)
	require.NoError(t, err)

	require.NoError(t, r.DeleteFunction(ctx, "a"))
	assert.True(t, blobs.Exists(a.CodeHash))

	require.NoError(t, r.DeleteFunction(ctx, "b"))
	assert.False(t, blobs.Exists(a.CodeHash))
}

func TestUpdateConfiguration(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.CreateFunction(ctx, "fn", "go1.x", "main", []byte("bin"), nil)
	require.NoError(t, err)

	handler := "bootstrap"
	updated, err := r.UpdateFunctionConfiguration(ctx, "fn", UpdateConfigParams{
		Handler: &handler,
		Env:     map[string]string{"DEBUG": "1"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated.Version)
	assert.Equal(t, "bootstrap", updated.Handler)
	assert.Equal(t, "go1.x", updated.Runtime)
	assert.Equal(t, map[string]string{"DEBUG": "1"}, updated.Env)
}

func TestUpdateCodeSwapsBlob(t *testing.T) {
	r, blobs := newTestRegistry(t)
	ctx := context.Background()

	created, err := r.CreateFunction(ctx, "fn", "go1.x", "main", []byte("v1"), nil)
	require.NoError(t, err)

	updated, err := r.UpdateFunctionCode(ctx, "fn", []byte("v2"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated.Version)
	assert.NotEqual(t, created.CodeHash, updated.CodeHash)
	assert.False(t, blobs.Exists(created.CodeHash))
	assert.True(t, blobs.Exists(updated.CodeHash))
}

func TestInvokeEcho(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.CreateFunction(ctx, "fn", "nodejs20.x", "index.handler", []byte("code"), nil)
	require.NoError(t, err)

	res, err := r.Invoke(ctx, "fn", json.RawMessage(`{"order":42}`))
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)

	var body struct {
		Function string          `json:"function"`
		Event    json.RawMessage `json:"event"`
	}
	require.NoError(t, json.Unmarshal(res.Payload, &body))
	assert.Equal(t, "fn", body.Function)
	assert.JSONEq(t, `{"order":42}`, string(body.Event))

	_, err = r.Invoke(ctx, "fn", json.RawMessage(`not json`))
	assert.Equal(t, emuerr.KindValidation, emuerr.KindOf(err))

	_, err = r.Invoke(ctx, "missing", nil)
	assert.Equal(t, emuerr.KindNotFound, emuerr.KindOf(err))
}

func TestListFunctions(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, name := range []string{"b", "a"} {
		_, err := r.CreateFunction(ctx, name, "go1.x", "main", []byte(name), nil)
		require.NoError(t, err)
	}
	list, err := r.ListFunctions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "b", list[1].Name)
}
