// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

// Package gcpapi adapts the Google Cloud wire family: the JSON storage API
// (/storage/v1, media upload/download) and the Secret Manager surface
// (/v1/projects/.../secrets). Everything is JSON; errors use the standard
// {"error": {"code", "message", "status"}} envelope.
package gcpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/engine"
	"github.com/cloudshim/cloudshim/pkg/engine/object"
	"github.com/cloudshim/cloudshim/pkg/types"
)

const maxBodyBytes = 128 << 20

const (
	storagePrefix = "/storage/v1/b"
	uploadPrefix  = "/upload/storage/v1/b"
	secretsPrefix = "/v1/projects/"
)

// Adapter implements dispatch.Adapter for the GCP family.
type Adapter struct {
	cfg types.ServerConfig
}

// New creates the GCP adapter.
func New(cfg types.ServerConfig) *Adapter {
	return &Adapter{cfg: cfg}
}

// Family implements dispatch.Adapter.
func (a *Adapter) Family() string { return "gcp" }

// Parse implements dispatch.Adapter.
func (a *Adapter) Parse(r *http.Request) (engine.Operation, error) {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, uploadPrefix):
		return a.parseUpload(r, strings.TrimPrefix(path, uploadPrefix))
	case strings.HasPrefix(path, storagePrefix):
		return a.parseStorage(r, strings.TrimPrefix(path, storagePrefix))
	case strings.HasPrefix(path, secretsPrefix):
		return a.parseSecrets(r, strings.TrimPrefix(path, secretsPrefix))
	}
	return engine.Operation{}, emuerr.Validation("unrecognized path %s", path)
}

// parseUpload handles POST /upload/storage/v1/b/{bucket}/o?name={object}.
func (a *Adapter) parseUpload(r *http.Request, rest string) (engine.Operation, error) {
	op := engine.Operation{Service: engine.ServiceObject}
	rest = strings.Trim(rest, "/")
	bucket, sub, _ := strings.Cut(rest, "/")
	op.Resource = bucket

	if r.Method != http.MethodPost || sub != "o" {
		return op, emuerr.Validation("unsupported upload route")
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		return op, emuerr.Validation("object name is required")
	}
	body, err := readBody(r)
	if err != nil {
		return op, err
	}
	op.Action = engine.ActionPutObject
	op.Body = body
	op.Params = engine.PutObjectParams{
		Key:         name,
		ContentType: r.Header.Get("Content-Type"),
	}
	return op, nil
}

// parseStorage handles the metadata routes under /storage/v1/b.
func (a *Adapter) parseStorage(r *http.Request, rest string) (engine.Operation, error) {
	op := engine.Operation{Service: engine.ServiceObject}
	rest = strings.Trim(rest, "/")
	q := r.URL.Query()

	if rest == "" {
		switch r.Method {
		case http.MethodPost:
			body, err := readBody(r)
			if err != nil {
				return op, err
			}
			var req struct {
				Name     string `json:"name"`
				Location string `json:"location"`
			}
			if err := json.Unmarshal(body, &req); err != nil {
				return op, emuerr.Validation("malformed bucket resource: %v", err)
			}
			op.Action = engine.ActionCreateBucket
			op.Resource = req.Name
			op.Params = engine.CreateBucketParams{Region: req.Location}
			return op, nil
		case http.MethodGet:
			op.Action = engine.ActionListBuckets
			return op, nil
		}
		return op, emuerr.Validation("unsupported method %s on buckets", r.Method)
	}

	bucket, sub, _ := strings.Cut(rest, "/")
	op.Resource = bucket

	if sub == "" {
		switch r.Method {
		case http.MethodGet:
			op.Action = engine.ActionHeadBucket
			return op, nil
		case http.MethodDelete:
			op.Action = engine.ActionDeleteBucket
			op.Params = engine.DeleteBucketParams{}
			return op, nil
		}
		return op, emuerr.Validation("unsupported method %s on bucket", r.Method)
	}

	if sub == "o" {
		if r.Method != http.MethodGet {
			return op, emuerr.Validation("unsupported method %s on objects", r.Method)
		}
		maxResults, _ := strconv.Atoi(q.Get("maxResults"))
		op.Action = engine.ActionListObjects
		op.Params = object.ListParams{
			Prefix:    q.Get("prefix"),
			Delimiter: q.Get("delimiter"),
			Token:     q.Get("pageToken"),
			MaxKeys:   maxResults,
		}
		return op, nil
	}

	objName, verb := strings.TrimPrefix(sub, "o/"), ""
	if idx := strings.Index(objName, "/copyTo/b/"); idx >= 0 {
		verb = objName[idx+len("/copyTo/b/"):]
		objName = objName[:idx]
	}
	decoded, err := url.PathUnescape(objName)
	if err == nil {
		objName = decoded
	}

	if verb != "" {
		// POST /storage/v1/b/{src}/o/{obj}/copyTo/b/{dst}/o/{dstObj}
		dstBucket, dstObj, ok := strings.Cut(verb, "/o/")
		if !ok || r.Method != http.MethodPost {
			return op, emuerr.Validation("malformed copy route")
		}
		if d, err := url.PathUnescape(dstObj); err == nil {
			dstObj = d
		}
		op.Action = engine.ActionCopyObject
		op.Resource = dstBucket
		op.Params = engine.CopyObjectParams{SrcBucket: bucket, SrcKey: objName, DstKey: dstObj}
		return op, nil
	}

	switch r.Method {
	case http.MethodGet:
		if q.Get("alt") == "media" {
			op.Action = engine.ActionGetObject
		} else {
			op.Action = engine.ActionHeadObject
		}
		op.Params = engine.ObjectKeyParams{Key: objName, VersionID: q.Get("generation")}
		return op, nil
	case http.MethodDelete:
		op.Action = engine.ActionDeleteObject
		op.Params = engine.ObjectKeyParams{Key: objName, VersionID: q.Get("generation")}
		return op, nil
	}
	return op, emuerr.Validation("unsupported method %s on object", r.Method)
}

// parseSecrets handles /v1/projects/{project}/secrets routes, including the
// :addVersion and :access custom verbs.
func (a *Adapter) parseSecrets(r *http.Request, rest string) (engine.Operation, error) {
	op := engine.Operation{Service: engine.ServiceSecret}

	_, after, ok := strings.Cut(rest, "/secrets")
	if !ok {
		return op, emuerr.Validation("unrecognized path")
	}
	after = strings.Trim(after, "/")

	if after == "" {
		switch r.Method {
		case http.MethodPost:
			op.Action = engine.ActionCreateSecret
			op.Resource = r.URL.Query().Get("secretId")
			if op.Resource == "" {
				return op, emuerr.Validation("secretId is required")
			}
			op.Params = engine.SecretValueParams{}
			return op, nil
		case http.MethodGet:
			op.Action = engine.ActionListSecrets
			return op, nil
		}
		return op, emuerr.Validation("unsupported method %s on secrets", r.Method)
	}

	name, verb, _ := strings.Cut(after, ":")
	segs := strings.Split(name, "/")
	op.Resource = segs[0]

	switch {
	case verb == "addVersion" && r.Method == http.MethodPost:
		body, err := readBody(r)
		if err != nil {
			return op, err
		}
		value, err := decodePayload(body)
		if err != nil {
			return op, err
		}
		op.Action = engine.ActionPutSecretValue
		op.Params = engine.SecretValueParams{Value: value}
		return op, nil

	case verb == "access" && r.Method == http.MethodGet:
		// .../secrets/{name}/versions/{version}:access
		op.Action = engine.ActionGetSecretValue
		version := segs[len(segs)-1]
		if version == "latest" {
			op.Params = engine.GetSecretValueParams{}
		} else {
			op.Params = engine.GetSecretValueParams{VersionID: version}
		}
		return op, nil

	case verb == "" && r.Method == http.MethodGet:
		op.Action = engine.ActionDescribeSecret
		return op, nil

	case verb == "" && r.Method == http.MethodDelete:
		// Secret Manager deletion is immediate.
		op.Action = engine.ActionDeleteSecret
		op.Params = engine.DeleteSecretParams{Force: true}
		return op, nil
	}
	return op, emuerr.Validation("unsupported secret route %s %s", r.Method, r.URL.Path)
}

func decodePayload(body []byte) (string, error) {
	var req struct {
		Payload struct {
			Data string `json:"data"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return "", emuerr.Validation("malformed version payload: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(req.Payload.Data)
	if err != nil {
		return "", emuerr.Validation("payload data must be base64")
	}
	return string(raw), nil
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
