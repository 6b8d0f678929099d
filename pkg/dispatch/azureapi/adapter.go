// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

// Package azureapi adapts the Azure Storage wire family: the Blob service
// dialect (containers and blobs, restype/comp query routing, x-ms-*
// headers, XML bodies) and the Queue service message dialect. Vendor terms
// stop here: container becomes bucket, blob becomes key, pop receipt
// becomes receipt token.
package azureapi

import (
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/engine"
	"github.com/cloudshim/cloudshim/pkg/engine/object"
	"github.com/cloudshim/cloudshim/pkg/engine/queue"
	"github.com/cloudshim/cloudshim/pkg/types"
)

const (
	apiVersion       = "2021-12-02"
	metaHeaderPrefix = "x-ms-meta-"
	maxBodyBytes     = 128 << 20
)

// Adapter implements dispatch.Adapter for the Azure family.
type Adapter struct {
	cfg types.ServerConfig
}

// New creates the Azure adapter.
func New(cfg types.ServerConfig) *Adapter {
	return &Adapter{cfg: cfg}
}

// Family implements dispatch.Adapter.
func (a *Adapter) Family() string { return "azure" }

// Parse implements dispatch.Adapter. Container operations carry
// restype=container; paths of the form /{queue}/messages speak the queue
// dialect; everything else is a blob operation.
func (a *Adapter) Parse(r *http.Request) (engine.Operation, error) {
	q := r.URL.Query()
	path := strings.TrimPrefix(r.URL.Path, "/")

	if path == "" {
		if r.Method == http.MethodGet && q.Get("comp") == "list" {
			return engine.Operation{Service: engine.ServiceObject, Action: engine.ActionListBuckets}, nil
		}
		return engine.Operation{}, emuerr.Validation("unsupported request on account root")
	}

	name, rest, _ := strings.Cut(path, "/")

	if rest == "messages" || strings.HasPrefix(rest, "messages/") {
		return a.parseQueue(r, name, strings.TrimPrefix(rest, "messages"), q)
	}
	if q.Get("restype") == "container" || (rest == "" && r.Method == http.MethodPut) {
		return a.parseContainer(r, name, q)
	}
	if rest == "" && r.Method == http.MethodDelete {
		// No restype: this names a queue.
		return engine.Operation{Service: engine.ServiceQueue, Action: engine.ActionDeleteQueue, Resource: name}, nil
	}
	return a.parseBlob(r, name, rest, q)
}

func (a *Adapter) parseContainer(r *http.Request, name string, q url.Values) (engine.Operation, error) {
	op := engine.Operation{Service: engine.ServiceObject, Resource: name}

	switch r.Method {
	case http.MethodPut:
		if q.Get("restype") != "container" {
			// PUT /{name} without restype creates a queue.
			op.Service = engine.ServiceQueue
			op.Action = engine.ActionCreateQueue
			op.Params = types.QueueInfo{Name: name}
			return op, nil
		}
		op.Action = engine.ActionCreateBucket
		return op, nil

	case http.MethodGet:
		if q.Get("comp") == "list" {
			maxResults, _ := strconv.Atoi(q.Get("maxresults"))
			op.Action = engine.ActionListObjects
			op.Params = object.ListParams{
				Prefix:    q.Get("prefix"),
				Delimiter: q.Get("delimiter"),
				Token:     q.Get("marker"),
				MaxKeys:   maxResults,
			}
			return op, nil
		}
		op.Action = engine.ActionHeadBucket
		return op, nil

	case http.MethodHead:
		op.Action = engine.ActionHeadBucket
		return op, nil

	case http.MethodDelete:
		// Azure deletes containers together with their blobs.
		op.Action = engine.ActionDeleteBucket
		op.Params = engine.DeleteBucketParams{Force: true}
		return op, nil
	}
	return op, emuerr.Validation("unsupported method %s on container", r.Method)
}

func (a *Adapter) parseBlob(r *http.Request, container, blobName string, q url.Values) (engine.Operation, error) {
	op := engine.Operation{Service: engine.ServiceObject, Resource: container}
	versionID := q.Get("versionid")

	switch r.Method {
	case http.MethodPut:
		body, err := readBody(r)
		if err != nil {
			return op, err
		}
		op.Action = engine.ActionPutObject
		op.Body = body
		op.Params = engine.PutObjectParams{
			Key:         blobName,
			ContentType: contentTypeOf(r),
			Metadata:    userMetadata(r.Header),
		}
		return op, nil

	case http.MethodGet:
		op.Action = engine.ActionGetObject
		op.Params = engine.ObjectKeyParams{Key: blobName, VersionID: versionID}
		return op, nil

	case http.MethodHead:
		op.Action = engine.ActionHeadObject
		op.Params = engine.ObjectKeyParams{Key: blobName, VersionID: versionID}
		return op, nil

	case http.MethodDelete:
		op.Action = engine.ActionDeleteObject
		op.Params = engine.ObjectKeyParams{Key: blobName, VersionID: versionID}
		return op, nil
	}
	return op, emuerr.Validation("unsupported method %s on blob", r.Method)
}

func (a *Adapter) parseQueue(r *http.Request, queueName, messageID string, q url.Values) (engine.Operation, error) {
	op := engine.Operation{Service: engine.ServiceQueue, Resource: queueName}
	messageID = strings.TrimPrefix(messageID, "/")

	switch {
	case r.Method == http.MethodPost && messageID == "":
		body, err := readBody(r)
		if err != nil {
			return op, err
		}
		var msg queueMessage
		if err := xml.Unmarshal(body, &msg); err != nil {
			return op, emuerr.Validation("malformed queue message body")
		}
		ttl, _ := strconv.ParseInt(q.Get("visibilitytimeout"), 10, 64)
		op.Action = engine.ActionSendMessage
		op.Params = queue.SendParams{Body: msg.MessageText, DelaySeconds: ttl}
		return op, nil

	case r.Method == http.MethodGet && messageID == "":
		n, _ := strconv.Atoi(q.Get("numofmessages"))
		vt, _ := strconv.ParseInt(q.Get("visibilitytimeout"), 10, 64)
		op.Action = engine.ActionReceiveMessage
		op.Params = queue.ReceiveParams{MaxMessages: n, VisibilityTimeout: vt}
		return op, nil

	case r.Method == http.MethodDelete && messageID != "":
		op.Action = engine.ActionDeleteMessage
		op.Params = engine.ReceiptParams{ReceiptToken: q.Get("popreceipt")}
		return op, nil

	case r.Method == http.MethodPut && messageID != "":
		vt, _ := strconv.ParseInt(q.Get("visibilitytimeout"), 10, 64)
		op.Action = engine.ActionChangeVisibility
		op.Params = engine.ReceiptParams{ReceiptToken: q.Get("popreceipt"), Timeout: vt}
		return op, nil
	}
	return op, emuerr.Validation("unsupported queue request %s", r.Method)
}

func contentTypeOf(r *http.Request) string {
	if ct := r.Header.Get("x-ms-blob-content-type"); ct != "" {
		return ct
	}
	return r.Header.Get("Content-Type")
}

func userMetadata(h http.Header) map[string]string {
	var meta map[string]string
	for name, vals := range h {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, metaHeaderPrefix) && len(vals) > 0 {
			if meta == nil {
				meta = make(map[string]string)
			}
			meta[strings.TrimPrefix(lower, metaHeaderPrefix)] = vals[0]
		}
	}
	return meta
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, emuerr.Validation("read request body: %v", err)
	}
	return body, nil
}

func errMessage(err error) string {
	var e *emuerr.Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

func errResource(err error) string {
	var e *emuerr.Error
	if errors.As(err, &e) {
		return e.Resource
	}
	return ""
}

func rfc1123(unixNano int64) string {
	return time.Unix(0, unixNano).UTC().Format(http.TimeFormat)
}
