// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := types.DefaultServerConfig()
	cfg.InMemory = true
	e, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngineLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := types.DefaultServerConfig()
	cfg.InMemory = true
	cfg.ReaperInterval = 10 * time.Millisecond
	e, err := New(context.Background(), cfg)
	require.NoError(t, err)
	e.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, e.Close())
}

func TestExecuteObjectRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res := e.Execute(ctx, Operation{Service: ServiceObject, Action: ActionCreateBucket, Resource: "photos"})
	require.NoError(t, res.Err)
	info := res.Body.(*types.BucketInfo)
	assert.Equal(t, e.Config().Region, info.Region)

	res = e.Execute(ctx, Operation{
		Service:  ServiceObject,
		Action:   ActionPutObject,
		Resource: "photos",
		Params:   PutObjectParams{Key: "cat.jpg", ContentType: "image/jpeg"},
		Body:     []byte("jpegbytes"),
	})
	require.NoError(t, res.Err)
	assert.NotEmpty(t, res.Headers["ETag"])

	res = e.Execute(ctx, Operation{
		Service:  ServiceObject,
		Action:   ActionGetObject,
		Resource: "photos",
		Params:   ObjectKeyParams{Key: "cat.jpg"},
	})
	require.NoError(t, res.Err)
	data := res.Body.(ObjectData)
	assert.Equal(t, []byte("jpegbytes"), data.Data)
	assert.Equal(t, "image/jpeg", data.Ref.ContentType)
}

func TestExecuteErrorMapping(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res := e.Execute(ctx, Operation{
		Service:  ServiceObject,
		Action:   ActionGetObject,
		Resource: "nope",
		Params:   ObjectKeyParams{Key: "x"},
	})
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Equal(t, emuerr.KindNotFound, emuerr.KindOf(res.Err))

	res = e.Execute(ctx, Operation{Service: "bogus", Action: "Nope"})
	assert.Equal(t, http.StatusBadRequest, res.Status)

	// A typed-params mismatch is a validation error, not a panic.
	res = e.Execute(ctx, Operation{
		Service:  ServiceObject,
		Action:   ActionPutObject,
		Resource: "photos",
		Params:   "wrong",
	})
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestExecuteCrossService(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res := e.Execute(ctx, Operation{
		Service:  ServiceItem,
		Action:   ActionCreateTable,
		Resource: "orders",
		Params:   CreateTableParams{PartitionKey: "id"},
	})
	require.NoError(t, res.Err)

	res = e.Execute(ctx, Operation{
		Service:  ServiceItem,
		Action:   ActionPutItem,
		Resource: "orders",
		Params:   PutItemParams{Item: types.Item{"id": types.StringValue("o1")}},
	})
	require.NoError(t, res.Err)

	res = e.Execute(ctx, Operation{Service: ServiceQueue, Action: ActionCreateQueue, Resource: "jobs"})
	require.NoError(t, res.Err)

	res = e.Execute(ctx, Operation{
		Service:  ServiceSecret,
		Action:   ActionCreateSecret,
		Resource: "token",
		Params:   SecretValueParams{Value: "s3cret"},
	})
	require.NoError(t, res.Err)

	res = e.Execute(ctx, Operation{
		Service:  ServiceFunction,
		Action:   ActionCreateFunction,
		Resource: "fn",
		Params:   CreateFunctionParams{Runtime: "go1.x", Handler: "main"},
		Body:     []byte("binary"),
	})
	require.NoError(t, res.Err)
	assert.Equal(t, http.StatusCreated, res.Status)
}
