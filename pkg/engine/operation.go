// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"net/http"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
)

// Service identifies which store an Operation targets.
type Service string

const (
	ServiceObject   Service = "object"
	ServiceItem     Service = "item"
	ServiceQueue    Service = "queue"
	ServiceSecret   Service = "secret"
	ServiceFunction Service = "function"
)

// Actions, grouped by service. Adapters translate vendor verbs into these.
const (
	// object
	ActionCreateBucket       = "CreateBucket"
	ActionDeleteBucket       = "DeleteBucket"
	ActionHeadBucket         = "HeadBucket"
	ActionListBuckets        = "ListBuckets"
	ActionGetVersioning      = "GetBucketVersioning"
	ActionPutVersioning      = "PutBucketVersioning"
	ActionGetBucketPolicy    = "GetBucketPolicy"
	ActionPutBucketPolicy    = "PutBucketPolicy"
	ActionDeleteBucketPolicy = "DeleteBucketPolicy"
	ActionPutLifecycle       = "PutBucketLifecycle"
	ActionPutObject          = "PutObject"
	ActionGetObject          = "GetObject"
	ActionHeadObject         = "HeadObject"
	ActionDeleteObject       = "DeleteObject"
	ActionCopyObject         = "CopyObject"
	ActionListObjects        = "ListObjects"
	ActionListVersions       = "ListObjectVersions"

	// item
	ActionCreateTable   = "CreateTable"
	ActionDeleteTable   = "DeleteTable"
	ActionDescribeTable = "DescribeTable"
	ActionListTables    = "ListTables"
	ActionPutItem       = "PutItem"
	ActionGetItem       = "GetItem"
	ActionDeleteItem    = "DeleteItem"
	ActionUpdateItem    = "UpdateItem"
	ActionQuery         = "Query"
	ActionScan          = "Scan"

	// queue
	ActionCreateQueue        = "CreateQueue"
	ActionGetQueue           = "GetQueue"
	ActionGetQueueAttributes = "GetQueueAttributes"
	ActionSetQueueAttributes = "SetQueueAttributes"
	ActionDeleteQueue        = "DeleteQueue"
	ActionListQueues         = "ListQueues"
	ActionPurgeQueue         = "PurgeQueue"
	ActionSendMessage        = "SendMessage"
	ActionReceiveMessage     = "ReceiveMessage"
	ActionDeleteMessage      = "DeleteMessage"
	ActionChangeVisibility   = "ChangeMessageVisibility"

	// secret
	ActionCreateSecret   = "CreateSecret"
	ActionPutSecretValue = "PutSecretValue"
	ActionGetSecretValue = "GetSecretValue"
	ActionDescribeSecret = "DescribeSecret"
	ActionListSecrets    = "ListSecrets"
	ActionDeleteSecret   = "DeleteSecret"
	ActionRestoreSecret  = "RestoreSecret"

	// function
	ActionCreateFunction = "CreateFunction"
	ActionGetFunction    = "GetFunction"
	ActionListFunctions  = "ListFunctions"
	ActionUpdateFnConfig = "UpdateFunctionConfiguration"
	ActionUpdateFnCode   = "UpdateFunctionCode"
	ActionDeleteFunction = "DeleteFunction"
	ActionInvoke         = "Invoke"
)

// Operation is the canonical request: vendor vocabulary is gone by the time
// one exists. Resource names the primary target (bucket, table, queue,
// secret, or function). Params carries the action's typed parameter struct;
// Body carries raw payload bytes for the actions that take one.
type Operation struct {
	Service  Service
	Action   string
	Resource string
	Params   any
	Body     []byte
}

// Result is the canonical response. Body holds the action's typed return
// value; adapters render it into their wire format. Status is the suggested
// HTTP status, which an adapter may override where its dialect differs.
type Result struct {
	Status  int
	Headers map[string]string
	Body    any
	Err     error
}

// fail builds an error Result with the status implied by the error kind.
func fail(err error) Result {
	return Result{Status: StatusFor(err), Err: err}
}

func ok(status int, body any) Result {
	return Result{Status: status, Body: body}
}

// StatusFor maps canonical error kinds to HTTP statuses. Adapters use it as
// the default before applying dialect-specific overrides.
func StatusFor(err error) int {
	switch emuerr.KindOf(err) {
	case emuerr.KindNone:
		return http.StatusOK
	case emuerr.KindNotFound:
		return http.StatusNotFound
	case emuerr.KindAlreadyExists, emuerr.KindConflict:
		return http.StatusConflict
	case emuerr.KindConditionalCheckFailed:
		return http.StatusBadRequest
	case emuerr.KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case emuerr.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
