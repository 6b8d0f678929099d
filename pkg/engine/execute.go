// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/engine/function"
	"github.com/cloudshim/cloudshim/pkg/engine/item"
	"github.com/cloudshim/cloudshim/pkg/engine/object"
	"github.com/cloudshim/cloudshim/pkg/engine/queue"
	"github.com/cloudshim/cloudshim/pkg/logger"
	"github.com/cloudshim/cloudshim/pkg/types"
)

// Parameter structs for actions whose inputs are not already a store-level
// params type. Adapters populate these from their wire formats.
type (
	CreateBucketParams   struct{ Region string }
	DeleteBucketParams   struct{ Force bool }
	PutVersioningParams  struct{ State types.VersioningState }
	PutObjectParams      struct {
		Key         string
		ContentType string
		Metadata    map[string]string
	}
	ObjectKeyParams struct {
		Key       string
		VersionID string
	}
	CopyObjectParams struct {
		SrcBucket string
		SrcKey    string
		DstKey    string
	}

	CreateTableParams struct {
		PartitionKey string
		SortKey      string
	}
	PutItemParams struct {
		Item       types.Item
		Conditions []item.Condition
	}
	ItemKeyParams struct {
		Key        types.Item
		Conditions []item.Condition
	}
	UpdateItemParams struct {
		Key        types.Item
		Ops        []item.UpdateOp
		Conditions []item.Condition
	}
	// QueryKeyParams queries by named key-condition terms; the store binds
	// them against the table schema.
	QueryKeyParams struct {
		KeyConditions []item.KeyConditionTerm
		Query         item.QueryParams
	}

	SetQueueAttributesParams struct {
		VisibilityTimeout int64
		Retention         int64
		MaxReceiveCount   int64
		DLQTarget         string
	}
	ListQueuesParams struct{ Prefix string }
	ReceiptParams    struct {
		ReceiptToken string
		Timeout      int64
	}

	SecretValueParams    struct{ Value string }
	GetSecretValueParams struct {
		VersionID string
		Stage     string
	}
	DeleteSecretParams struct{ Force bool }

	CreateFunctionParams struct {
		Runtime string
		Handler string
		Env     map[string]string
	}
)

// Composite result bodies.
type (
	// ObjectData pairs object bytes with their metadata.
	ObjectData struct {
		Ref  *types.ObjectRef
		Data []byte
	}
	// QueueAttributes pairs queue config with message counts.
	QueueAttributes struct {
		Info  *types.QueueInfo
		Stats *queue.Stats
	}
	// SecretDescription pairs secret metadata with its version stage map.
	SecretDescription struct {
		Info   *types.SecretInfo
		Stages map[string][]string
	}
)

// Execute dispatches a canonical Operation to the owning store and folds
// the outcome into a Result. This is the only surface adapters call.
func (e *Engine) Execute(ctx context.Context, op Operation) Result {
	var res Result
	switch op.Service {
	case ServiceObject:
		res = e.execObject(ctx, op)
	case ServiceItem:
		res = e.execItem(ctx, op)
	case ServiceQueue:
		res = e.execQueue(ctx, op)
	case ServiceSecret:
		res = e.execSecret(ctx, op)
	case ServiceFunction:
		res = e.execFunction(ctx, op)
	default:
		res = fail(emuerr.Validation("unknown service %q", op.Service))
	}

	evt := logger.Debug()
	if res.Err != nil {
		evt = logger.Warn().Err(res.Err)
	}
	evt.Str("service", string(op.Service)).
		Str("action", op.Action).
		Str("resource", op.Resource).
		Int("status", res.Status).
		Msg("operation")
	return res
}

// paramsAs asserts the operation's Params to the action's type. Nil Params
// yield the zero value so parameterless calls stay terse in adapters.
func paramsAs[T any](op Operation) (T, error) {
	var zero T
	if op.Params == nil {
		return zero, nil
	}
	p, ok := op.Params.(T)
	if !ok {
		return zero, emuerr.Validation("%s: unexpected parameter type %T", op.Action, op.Params)
	}
	return p, nil
}

func (e *Engine) execObject(ctx context.Context, op Operation) Result {
	switch op.Action {
	case ActionCreateBucket:
		p, err := paramsAs[CreateBucketParams](op)
		if err != nil {
			return fail(err)
		}
		region := p.Region
		if region == "" {
			region = e.cfg.Region
		}
		info, err := e.objects.CreateBucket(ctx, op.Resource, region)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, info)

	case ActionDeleteBucket:
		p, err := paramsAs[DeleteBucketParams](op)
		if err != nil {
			return fail(err)
		}
		if err := e.objects.DeleteBucket(ctx, op.Resource, p.Force); err != nil {
			return fail(err)
		}
		return ok(http.StatusNoContent, nil)

	case ActionHeadBucket, ActionGetVersioning, ActionGetBucketPolicy:
		info, err := e.objects.GetBucket(ctx, op.Resource)
		if err != nil {
			return fail(err)
		}
		if op.Action == ActionGetBucketPolicy && len(info.Policy) == 0 {
			return fail(emuerr.NotFound("policy for bucket "+op.Resource, "bucket has no policy"))
		}
		return ok(http.StatusOK, info)

	case ActionListBuckets:
		infos, err := e.objects.ListBuckets(ctx)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, infos)

	case ActionPutVersioning:
		p, err := paramsAs[PutVersioningParams](op)
		if err != nil {
			return fail(err)
		}
		if err := e.objects.SetVersioning(ctx, op.Resource, p.State); err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, nil)

	case ActionPutBucketPolicy:
		if err := e.objects.SetPolicy(ctx, op.Resource, json.RawMessage(op.Body)); err != nil {
			return fail(err)
		}
		return ok(http.StatusNoContent, nil)

	case ActionDeleteBucketPolicy:
		if err := e.objects.DeletePolicy(ctx, op.Resource); err != nil {
			return fail(err)
		}
		return ok(http.StatusNoContent, nil)

	case ActionPutLifecycle:
		if err := e.objects.SetLifecycle(ctx, op.Resource, json.RawMessage(op.Body)); err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, nil)

	case ActionPutObject:
		p, err := paramsAs[PutObjectParams](op)
		if err != nil {
			return fail(err)
		}
		ref, err := e.objects.PutObject(ctx, op.Resource, p.Key, op.Body, p.ContentType, p.Metadata)
		if err != nil {
			return fail(err)
		}
		return Result{Status: http.StatusOK, Headers: objectHeaders(ref), Body: ref}

	case ActionGetObject:
		p, err := paramsAs[ObjectKeyParams](op)
		if err != nil {
			return fail(err)
		}
		data, ref, err := e.objects.GetObject(ctx, op.Resource, p.Key, p.VersionID)
		if err != nil {
			return fail(err)
		}
		return Result{Status: http.StatusOK, Headers: objectHeaders(ref), Body: ObjectData{Ref: ref, Data: data}}

	case ActionHeadObject:
		p, err := paramsAs[ObjectKeyParams](op)
		if err != nil {
			return fail(err)
		}
		ref, err := e.objects.HeadObject(ctx, op.Resource, p.Key, p.VersionID)
		if err != nil {
			return fail(err)
		}
		return Result{Status: http.StatusOK, Headers: objectHeaders(ref), Body: ref}

	case ActionDeleteObject:
		p, err := paramsAs[ObjectKeyParams](op)
		if err != nil {
			return fail(err)
		}
		ref, err := e.objects.DeleteObject(ctx, op.Resource, p.Key, p.VersionID)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusNoContent, ref)

	case ActionCopyObject:
		p, err := paramsAs[CopyObjectParams](op)
		if err != nil {
			return fail(err)
		}
		ref, err := e.objects.CopyObject(ctx, p.SrcBucket, p.SrcKey, op.Resource, p.DstKey)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, ref)

	case ActionListObjects:
		p, err := paramsAs[object.ListParams](op)
		if err != nil {
			return fail(err)
		}
		page, err := e.objects.ListObjects(ctx, op.Resource, p)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, page)

	case ActionListVersions:
		p, err := paramsAs[object.ListParams](op)
		if err != nil {
			return fail(err)
		}
		refs, err := e.objects.ListVersions(ctx, op.Resource, p.Prefix)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, refs)
	}
	return fail(emuerr.Validation("unknown object action %q", op.Action))
}

func objectHeaders(ref *types.ObjectRef) map[string]string {
	if ref == nil {
		return nil
	}
	h := map[string]string{"ETag": ref.ETag}
	if ref.VersionID != "" {
		h["Version-Id"] = ref.VersionID
	}
	return h
}

func (e *Engine) execItem(ctx context.Context, op Operation) Result {
	switch op.Action {
	case ActionCreateTable:
		p, err := paramsAs[CreateTableParams](op)
		if err != nil {
			return fail(err)
		}
		info, err := e.items.CreateTable(ctx, op.Resource, p.PartitionKey, p.SortKey)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, info)

	case ActionDeleteTable:
		if err := e.items.DeleteTable(ctx, op.Resource); err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, nil)

	case ActionDescribeTable:
		info, err := e.items.DescribeTable(ctx, op.Resource)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, info)

	case ActionListTables:
		names, err := e.items.ListTables(ctx)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, names)

	case ActionPutItem:
		p, err := paramsAs[PutItemParams](op)
		if err != nil {
			return fail(err)
		}
		prior, err := e.items.PutItem(ctx, op.Resource, p.Item, p.Conditions)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, prior)

	case ActionGetItem:
		p, err := paramsAs[ItemKeyParams](op)
		if err != nil {
			return fail(err)
		}
		it, err := e.items.GetItem(ctx, op.Resource, p.Key)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, it)

	case ActionDeleteItem:
		p, err := paramsAs[ItemKeyParams](op)
		if err != nil {
			return fail(err)
		}
		prior, err := e.items.DeleteItem(ctx, op.Resource, p.Key, p.Conditions)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, prior)

	case ActionUpdateItem:
		p, err := paramsAs[UpdateItemParams](op)
		if err != nil {
			return fail(err)
		}
		updated, err := e.items.UpdateItem(ctx, op.Resource, p.Key, p.Ops, p.Conditions)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, updated)

	case ActionQuery:
		if p, isKeyed := op.Params.(QueryKeyParams); isKeyed {
			page, err := e.items.QueryByKeyConditions(ctx, op.Resource, p.KeyConditions, p.Query)
			if err != nil {
				return fail(err)
			}
			return ok(http.StatusOK, page)
		}
		p, err := paramsAs[item.QueryParams](op)
		if err != nil {
			return fail(err)
		}
		page, err := e.items.Query(ctx, op.Resource, p)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, page)

	case ActionScan:
		p, err := paramsAs[item.ScanParams](op)
		if err != nil {
			return fail(err)
		}
		page, err := e.items.Scan(ctx, op.Resource, p)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, page)
	}
	return fail(emuerr.Validation("unknown item action %q", op.Action))
}

func (e *Engine) execQueue(ctx context.Context, op Operation) Result {
	switch op.Action {
	case ActionCreateQueue:
		p, err := paramsAs[types.QueueInfo](op)
		if err != nil {
			return fail(err)
		}
		p.Name = op.Resource
		info, err := e.queues.CreateQueue(ctx, p)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, info)

	case ActionGetQueue:
		info, err := e.queues.GetQueue(ctx, op.Resource)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, info)

	case ActionGetQueueAttributes:
		info, stats, err := e.queues.GetQueueAttributes(ctx, op.Resource)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, QueueAttributes{Info: info, Stats: stats})

	case ActionSetQueueAttributes:
		p, err := paramsAs[SetQueueAttributesParams](op)
		if err != nil {
			return fail(err)
		}
		err = e.queues.SetQueueAttributes(ctx, op.Resource,
			p.VisibilityTimeout, p.Retention, p.MaxReceiveCount, p.DLQTarget)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, nil)

	case ActionDeleteQueue:
		if err := e.queues.DeleteQueue(ctx, op.Resource); err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, nil)

	case ActionListQueues:
		p, err := paramsAs[ListQueuesParams](op)
		if err != nil {
			return fail(err)
		}
		names, err := e.queues.ListQueues(ctx, p.Prefix)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, names)

	case ActionPurgeQueue:
		if err := e.queues.PurgeQueue(ctx, op.Resource); err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, nil)

	case ActionSendMessage:
		p, err := paramsAs[queue.SendParams](op)
		if err != nil {
			return fail(err)
		}
		if p.Body == "" {
			p.Body = string(op.Body)
		}
		msg, err := e.queues.SendMessage(ctx, op.Resource, p)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, msg)

	case ActionReceiveMessage:
		p, err := paramsAs[queue.ReceiveParams](op)
		if err != nil {
			return fail(err)
		}
		msgs, err := e.queues.ReceiveMessage(ctx, op.Resource, p)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, msgs)

	case ActionDeleteMessage:
		p, err := paramsAs[ReceiptParams](op)
		if err != nil {
			return fail(err)
		}
		if err := e.queues.DeleteMessage(ctx, op.Resource, p.ReceiptToken); err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, nil)

	case ActionChangeVisibility:
		p, err := paramsAs[ReceiptParams](op)
		if err != nil {
			return fail(err)
		}
		if err := e.queues.ChangeMessageVisibility(ctx, op.Resource, p.ReceiptToken, p.Timeout); err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, nil)
	}
	return fail(emuerr.Validation("unknown queue action %q", op.Action))
}

func (e *Engine) execSecret(ctx context.Context, op Operation) Result {
	switch op.Action {
	case ActionCreateSecret:
		p, err := paramsAs[SecretValueParams](op)
		if err != nil {
			return fail(err)
		}
		v, err := e.secrets.CreateSecret(ctx, op.Resource, p.Value)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, v)

	case ActionPutSecretValue:
		p, err := paramsAs[SecretValueParams](op)
		if err != nil {
			return fail(err)
		}
		v, err := e.secrets.PutSecretValue(ctx, op.Resource, p.Value)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, v)

	case ActionGetSecretValue:
		p, err := paramsAs[GetSecretValueParams](op)
		if err != nil {
			return fail(err)
		}
		v, err := e.secrets.GetSecretValue(ctx, op.Resource, p.VersionID, p.Stage)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, v)

	case ActionDescribeSecret:
		info, stages, err := e.secrets.DescribeSecret(ctx, op.Resource)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, SecretDescription{Info: info, Stages: stages})

	case ActionListSecrets:
		infos, err := e.secrets.ListSecrets(ctx)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, infos)

	case ActionDeleteSecret:
		p, err := paramsAs[DeleteSecretParams](op)
		if err != nil {
			return fail(err)
		}
		info, err := e.secrets.DeleteSecret(ctx, op.Resource, p.Force)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, info)

	case ActionRestoreSecret:
		if err := e.secrets.RestoreSecret(ctx, op.Resource); err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, nil)
	}
	return fail(emuerr.Validation("unknown secret action %q", op.Action))
}

func (e *Engine) execFunction(ctx context.Context, op Operation) Result {
	switch op.Action {
	case ActionCreateFunction:
		p, err := paramsAs[CreateFunctionParams](op)
		if err != nil {
			return fail(err)
		}
		info, err := e.functions.CreateFunction(ctx, op.Resource, p.Runtime, p.Handler, op.Body, p.Env)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusCreated, info)

	case ActionGetFunction:
		info, err := e.functions.GetFunction(ctx, op.Resource)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, info)

	case ActionListFunctions:
		infos, err := e.functions.ListFunctions(ctx)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, infos)

	case ActionUpdateFnConfig:
		p, err := paramsAs[function.UpdateConfigParams](op)
		if err != nil {
			return fail(err)
		}
		info, err := e.functions.UpdateFunctionConfiguration(ctx, op.Resource, p)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, info)

	case ActionUpdateFnCode:
		info, err := e.functions.UpdateFunctionCode(ctx, op.Resource, op.Body)
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, info)

	case ActionDeleteFunction:
		if err := e.functions.DeleteFunction(ctx, op.Resource); err != nil {
			return fail(err)
		}
		return ok(http.StatusNoContent, nil)

	case ActionInvoke:
		res, err := e.functions.Invoke(ctx, op.Resource, json.RawMessage(op.Body))
		if err != nil {
			return fail(err)
		}
		return ok(http.StatusOK, res)
	}
	return fail(emuerr.Validation("unknown function action %q", op.Action))
}
