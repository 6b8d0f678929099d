// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package awsapi

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudshim/cloudshim/pkg/dispatch"
	"github.com/cloudshim/cloudshim/pkg/engine"
	"github.com/cloudshim/cloudshim/pkg/types"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	cfg := types.DefaultServerConfig()
	cfg.InMemory = true

	e, err := engine.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	return dispatch.NewRouter(e, New(cfg), nil, false)
}

func doReq(t *testing.T, h http.Handler, method, path string, headers map[string]string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// doTarget posts an X-Amz-Target JSON request the way the AWS SDKs do.
func doTarget(t *testing.T, h http.Handler, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return doReq(t, h, http.MethodPost, "/", map[string]string{
		"X-Amz-Target": target,
		"Content-Type": dynamoContentType,
	}, string(body))
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func TestS3ObjectLifecycle(t *testing.T) {
	h := newTestHandler(t)

	w := doReq(t, h, http.MethodPut, "/docs", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doReq(t, h, http.MethodPut, "/docs/a/hello.txt", map[string]string{
		"Content-Type":     "text/plain",
		"x-amz-meta-owner": "ops",
	}, "hello world")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("ETag"))

	w = doReq(t, h, http.MethodGet, "/docs/a/hello.txt", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello world", w.Body.String())
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Equal(t, "ops", w.Header().Get("x-amz-meta-owner"))

	w = doReq(t, h, http.MethodHead, "/docs/a/hello.txt", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "11", w.Header().Get("Content-Length"))

	w = doReq(t, h, http.MethodPut, "/docs/b.txt", nil, "b")
	require.Equal(t, http.StatusOK, w.Code)

	w = doReq(t, h, http.MethodGet, "/docs?delimiter=/", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list listBucketResult
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Contents, 1)
	assert.Equal(t, "b.txt", list.Contents[0].Key)
	require.Len(t, list.CommonPrefixes, 1)
	assert.Equal(t, "a/", list.CommonPrefixes[0].Prefix)

	w = doReq(t, h, http.MethodPut, "/docs/copy.txt", map[string]string{
		"x-amz-copy-source": "/docs/b.txt",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)
	var copied copyObjectResult
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &copied))
	assert.NotEmpty(t, copied.ETag)

	w = doReq(t, h, http.MethodGet, "/docs/copy.txt", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "b", w.Body.String())

	w = doReq(t, h, http.MethodDelete, "/docs/b.txt", nil, "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doReq(t, h, http.MethodGet, "/docs/b.txt", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	var s3err s3Error
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &s3err))
	assert.Equal(t, "NoSuchKey", s3err.Code)
}

func TestS3Versioning(t *testing.T) {
	h := newTestHandler(t)

	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodPut, "/vault", nil, "").Code)
	w := doReq(t, h, http.MethodPut, "/vault?versioning", nil,
		`<VersioningConfiguration><Status>Enabled</Status></VersioningConfiguration>`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doReq(t, h, http.MethodGet, "/vault?versioning", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var vc versioningConfiguration
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &vc))
	assert.Equal(t, "Enabled", vc.Status)

	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodPut, "/vault/k", nil, "v1").Code)
	w = doReq(t, h, http.MethodPut, "/vault/k", nil, "v2")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("x-amz-version-id"))

	w = doReq(t, h, http.MethodGet, "/vault?versions", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var versions listVersionsResult
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &versions))
	require.Len(t, versions.Versions, 2)
	assert.True(t, versions.Versions[0].IsLatest)
	assert.False(t, versions.Versions[1].IsLatest)

	// Unversioned delete appends a marker; the latest data version stays.
	w = doReq(t, h, http.MethodDelete, "/vault/k", nil, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "true", w.Header().Get("x-amz-delete-marker"))

	require.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodGet, "/vault/k", nil, "").Code)

	// The older version is still reachable by id.
	first := versions.Versions[1].VersionID
	w = doReq(t, h, http.MethodGet, "/vault/k?versionId="+first, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "v1", w.Body.String())
}

func TestS3BucketErrors(t *testing.T) {
	h := newTestHandler(t)

	w := doReq(t, h, http.MethodGet, "/missing", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	var s3err s3Error
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &s3err))
	assert.Equal(t, "NoSuchBucket", s3err.Code)

	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodPut, "/dup", nil, "").Code)
	w = doReq(t, h, http.MethodPut, "/dup", nil, "")
	require.Equal(t, http.StatusConflict, w.Code)
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &s3err))
	assert.Equal(t, "BucketAlreadyOwnedByYou", s3err.Code)

	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodPut, "/dup/x", nil, "x").Code)
	w = doReq(t, h, http.MethodDelete, "/dup", nil, "")
	require.Equal(t, http.StatusConflict, w.Code)
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &s3err))
	assert.Equal(t, "BucketNotEmpty", s3err.Code)
}

func TestDynamoItemFlow(t *testing.T) {
	h := newTestHandler(t)

	w := doTarget(t, h, "DynamoDB_20120810.CreateTable", map[string]any{
		"TableName": "users",
		"KeySchema": []map[string]string{
			{"AttributeName": "pk", "KeyType": "HASH"},
			{"AttributeName": "sk", "KeyType": "RANGE"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var created struct {
		TableDescription struct {
			TableName   string
			TableStatus string
		}
	}
	decodeJSON(t, w, &created)
	assert.Equal(t, "users", created.TableDescription.TableName)
	assert.Equal(t, "ACTIVE", created.TableDescription.TableStatus)

	item := types.Item{
		"pk":    types.StringValue("u1"),
		"sk":    types.StringValue("2024"),
		"score": types.NumberValue("10"),
	}
	w = doTarget(t, h, "DynamoDB_20120810.PutItem", map[string]any{
		"TableName": "users",
		"Item":      item,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doTarget(t, h, "DynamoDB_20120810.GetItem", map[string]any{
		"TableName": "users",
		"Key": types.Item{
			"pk": types.StringValue("u1"),
			"sk": types.StringValue("2024"),
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var got struct{ Item types.Item }
	decodeJSON(t, w, &got)
	if diff := cmp.Diff(item, got.Item); diff != "" {
		t.Fatalf("item mismatch (-want +got):\n%s", diff)
	}

	w = doTarget(t, h, "DynamoDB_20120810.UpdateItem", map[string]any{
		"TableName": "users",
		"Key": types.Item{
			"pk": types.StringValue("u1"),
			"sk": types.StringValue("2024"),
		},
		"UpdateExpression": "SET active = :a ADD score :inc",
		"ExpressionAttributeValues": map[string]types.AttributeValue{
			":a":   types.BoolValue(true),
			":inc": types.NumberValue("5"),
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var updated struct{ Attributes types.Item }
	decodeJSON(t, w, &updated)
	require.NotNil(t, updated.Attributes["score"].N)
	assert.Equal(t, "15", *updated.Attributes["score"].N)
	require.NotNil(t, updated.Attributes["active"].BOOL)
	assert.True(t, *updated.Attributes["active"].BOOL)

	// Condition failure surfaces the DynamoDB error type.
	w = doTarget(t, h, "DynamoDB_20120810.PutItem", map[string]any{
		"TableName":           "users",
		"Item":                item,
		"ConditionExpression": "attribute_not_exists(pk)",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	var amzErr struct {
		Type string `json:"__type"`
	}
	decodeJSON(t, w, &amzErr)
	assert.Contains(t, amzErr.Type, "ConditionalCheckFailedException")
}

func TestDynamoQuery(t *testing.T) {
	h := newTestHandler(t)

	w := doTarget(t, h, "DynamoDB_20120810.CreateTable", map[string]any{
		"TableName": "events",
		"KeySchema": []map[string]string{
			{"AttributeName": "stream", "KeyType": "HASH"},
			{"AttributeName": "seq", "KeyType": "RANGE"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	for _, seq := range []string{"a1", "a2", "b1"} {
		w = doTarget(t, h, "DynamoDB_20120810.PutItem", map[string]any{
			"TableName": "events",
			"Item": types.Item{
				"stream": types.StringValue("s1"),
				"seq":    types.StringValue(seq),
			},
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w = doTarget(t, h, "DynamoDB_20120810.Query", map[string]any{
		"TableName":              "events",
		"KeyConditionExpression": "stream = :s AND begins_with(seq, :p)",
		"ExpressionAttributeValues": map[string]types.AttributeValue{
			":s": types.StringValue("s1"),
			":p": types.StringValue("a"),
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items []types.Item
		Count int
	}
	decodeJSON(t, w, &page)
	require.Equal(t, 2, page.Count)
	assert.Equal(t, "a1", *page.Items[0]["seq"].S)
	assert.Equal(t, "a2", *page.Items[1]["seq"].S)

	// ScanIndexForward=false reverses sort-key order.
	forward := false
	w = doTarget(t, h, "DynamoDB_20120810.Query", map[string]any{
		"TableName":              "events",
		"KeyConditionExpression": "stream = :s",
		"ExpressionAttributeValues": map[string]types.AttributeValue{
			":s": types.StringValue("s1"),
		},
		"ScanIndexForward": forward,
	})
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &page)
	require.Equal(t, 3, page.Count)
	assert.Equal(t, "b1", *page.Items[0]["seq"].S)
}

func TestSQSFlow(t *testing.T) {
	h := newTestHandler(t)

	w := doTarget(t, h, "AmazonSQS.CreateQueue", map[string]any{"QueueName": "jobs"})
	require.Equal(t, http.StatusOK, w.Code)
	var createOut struct{ QueueUrl string }
	decodeJSON(t, w, &createOut)
	require.Equal(t, "http://localhost:4566/000000000000/jobs", createOut.QueueUrl)

	w = doTarget(t, h, "AmazonSQS.GetQueueUrl", map[string]any{"QueueName": "jobs"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doTarget(t, h, "AmazonSQS.SendMessage", map[string]any{
		"QueueUrl":    createOut.QueueUrl,
		"MessageBody": "work",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var sendOut struct {
		MessageId        string
		MD5OfMessageBody string
	}
	decodeJSON(t, w, &sendOut)
	require.NotEmpty(t, sendOut.MessageId)
	assert.Equal(t, md5Hex("work"), sendOut.MD5OfMessageBody)

	w = doTarget(t, h, "AmazonSQS.ReceiveMessage", map[string]any{
		"QueueUrl":            createOut.QueueUrl,
		"MaxNumberOfMessages": 1,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var recvOut struct {
		Messages []struct {
			MessageId     string
			ReceiptHandle string
			Body          string
		}
	}
	decodeJSON(t, w, &recvOut)
	require.Len(t, recvOut.Messages, 1)
	assert.Equal(t, "work", recvOut.Messages[0].Body)
	require.NotEmpty(t, recvOut.Messages[0].ReceiptHandle)

	w = doTarget(t, h, "AmazonSQS.DeleteMessage", map[string]any{
		"QueueUrl":      createOut.QueueUrl,
		"ReceiptHandle": recvOut.Messages[0].ReceiptHandle,
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Deleting again with the spent receipt fails.
	w = doTarget(t, h, "AmazonSQS.DeleteMessage", map[string]any{
		"QueueUrl":      createOut.QueueUrl,
		"ReceiptHandle": recvOut.Messages[0].ReceiptHandle,
	})
	require.Equal(t, http.StatusPreconditionFailed, w.Code)
	var amzErr struct {
		Type string `json:"__type"`
	}
	decodeJSON(t, w, &amzErr)
	assert.Contains(t, amzErr.Type, "ReceiptHandleIsInvalid")

	w = doTarget(t, h, "AmazonSQS.GetQueueUrl", map[string]any{"QueueName": "missing"})
	require.Equal(t, http.StatusNotFound, w.Code)
	decodeJSON(t, w, &amzErr)
	assert.Contains(t, amzErr.Type, "QueueDoesNotExist")
}

func TestSQSQueueAttributes(t *testing.T) {
	h := newTestHandler(t)

	w := doTarget(t, h, "AmazonSQS.CreateQueue", map[string]any{
		"QueueName": "work",
		"Attributes": map[string]string{
			"VisibilityTimeout": "120",
			"RedrivePolicy":     `{"deadLetterTargetArn":"arn:aws:sqs:us-east-1:000000000000:work-dlq","maxReceiveCount":3}`,
		},
	})
	require.Equal(t, http.StatusBadRequest, w.Code) // DLQ target does not exist yet

	w = doTarget(t, h, "AmazonSQS.CreateQueue", map[string]any{"QueueName": "work-dlq"})
	require.Equal(t, http.StatusOK, w.Code)
	w = doTarget(t, h, "AmazonSQS.CreateQueue", map[string]any{
		"QueueName": "work",
		"Attributes": map[string]string{
			"VisibilityTimeout": "120",
			"RedrivePolicy":     `{"deadLetterTargetArn":"arn:aws:sqs:us-east-1:000000000000:work-dlq","maxReceiveCount":3}`,
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doTarget(t, h, "AmazonSQS.GetQueueAttributes", map[string]any{
		"QueueUrl": "http://localhost:4566/000000000000/work",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var attrsOut struct{ Attributes map[string]string }
	decodeJSON(t, w, &attrsOut)
	assert.Equal(t, "120", attrsOut.Attributes["VisibilityTimeout"])
	assert.Equal(t, "0", attrsOut.Attributes["ApproximateNumberOfMessages"])
	assert.Contains(t, attrsOut.Attributes["RedrivePolicy"], "work-dlq")
}

func TestSecretsRotation(t *testing.T) {
	h := newTestHandler(t)

	w := doTarget(t, h, "secretsmanager.CreateSecret", map[string]any{
		"Name":         "db-pass",
		"SecretString": "v1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var createOut struct {
		Name          string
		VersionId     string
		VersionStages []string
	}
	decodeJSON(t, w, &createOut)
	assert.Equal(t, "db-pass", createOut.Name)
	assert.Equal(t, []string{"AWSCURRENT"}, createOut.VersionStages)

	w = doTarget(t, h, "secretsmanager.PutSecretValue", map[string]any{
		"SecretId":     "db-pass",
		"SecretString": "v2",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doTarget(t, h, "secretsmanager.GetSecretValue", map[string]any{"SecretId": "db-pass"})
	require.Equal(t, http.StatusOK, w.Code)
	var getOut struct {
		SecretString  string
		VersionStages []string
	}
	decodeJSON(t, w, &getOut)
	assert.Equal(t, "v2", getOut.SecretString)
	assert.Equal(t, []string{"AWSCURRENT"}, getOut.VersionStages)

	w = doTarget(t, h, "secretsmanager.GetSecretValue", map[string]any{
		"SecretId":     "db-pass",
		"VersionStage": "AWSPREVIOUS",
	})
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &getOut)
	assert.Equal(t, "v1", getOut.SecretString)

	w = doTarget(t, h, "secretsmanager.GetSecretValue", map[string]any{"SecretId": "nope"})
	require.Equal(t, http.StatusNotFound, w.Code)
	var amzErr struct {
		Type string `json:"__type"`
	}
	decodeJSON(t, w, &amzErr)
	assert.Contains(t, amzErr.Type, "ResourceNotFoundException")
}

func TestLambdaLifecycle(t *testing.T) {
	h := newTestHandler(t)

	payload, err := json.Marshal(map[string]any{
		"FunctionName": "greeter",
		"Runtime":      "go1.x",
		"Handler":      "main",
		"Code":         map[string]any{"ZipFile": []byte("package code")},
		"Environment":  map[string]any{"Variables": map[string]string{"MODE": "dev"}},
	})
	require.NoError(t, err)
	w := doReq(t, h, http.MethodPost, "/2015-03-31/functions", nil, string(payload))
	require.Equal(t, http.StatusCreated, w.Code)
	var created map[string]any
	decodeJSON(t, w, &created)
	assert.Equal(t, "greeter", created["FunctionName"])
	assert.NotEmpty(t, created["CodeSha256"])

	w = doReq(t, h, http.MethodGet, "/2015-03-31/functions/greeter", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doReq(t, h, http.MethodPost, "/2015-03-31/functions/greeter/invocations", nil, `{"who":"dev"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var inv struct {
		Function string          `json:"function"`
		Event    json.RawMessage `json:"event"`
	}
	decodeJSON(t, w, &inv)
	assert.Equal(t, "greeter", inv.Function)
	assert.JSONEq(t, `{"who":"dev"}`, string(inv.Event))

	w = doReq(t, h, http.MethodDelete, "/2015-03-31/functions/greeter", nil, "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doReq(t, h, http.MethodGet, "/2015-03-31/functions/greeter", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ResourceNotFoundException", w.Header().Get("X-Amzn-ErrorType"))
}
