// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package awsapi

import (
	"encoding/xml"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/engine"
	"github.com/cloudshim/cloudshim/pkg/engine/object"
	"github.com/cloudshim/cloudshim/pkg/types"
)

const metaHeaderPrefix = "x-amz-meta-"

// parseS3 routes by path shape: /, /{bucket}, /{bucket}/{key...}, with
// subresources selected by query parameters.
func (a *Adapter) parseS3(r *http.Request) (engine.Operation, error) {
	op := engine.Operation{Service: engine.ServiceObject}
	path := strings.TrimPrefix(r.URL.Path, "/")
	q := r.URL.Query()

	if path == "" {
		if r.Method != http.MethodGet {
			return op, emuerr.Validation("unsupported method %s on service root", r.Method)
		}
		op.Action = engine.ActionListBuckets
		return op, nil
	}

	bucket, key, _ := strings.Cut(path, "/")
	op.Resource = bucket
	if key == "" {
		return a.parseS3Bucket(r, op, q)
	}
	return a.parseS3Object(r, op, key, q)
}

func (a *Adapter) parseS3Bucket(r *http.Request, op engine.Operation, q map[string][]string) (engine.Operation, error) {
	has := func(name string) bool { _, ok := q[name]; return ok }

	switch r.Method {
	case http.MethodPut:
		body, err := readBody(r)
		if err != nil {
			return op, err
		}
		switch {
		case has("versioning"):
			var cfg versioningConfiguration
			if err := xml.Unmarshal(body, &cfg); err != nil {
				return op, emuerr.Validation("malformed versioning configuration")
			}
			op.Action = engine.ActionPutVersioning
			op.Params = engine.PutVersioningParams{State: versioningStateFromS3(cfg.Status)}
		case has("policy"):
			op.Action = engine.ActionPutBucketPolicy
			op.Body = body
		case has("lifecycle"):
			op.Action = engine.ActionPutLifecycle
			op.Body = body
		default:
			op.Action = engine.ActionCreateBucket
			var cfg createBucketConfiguration
			if len(body) > 0 {
				xml.Unmarshal(body, &cfg)
			}
			op.Params = engine.CreateBucketParams{Region: cfg.LocationConstraint}
		}
		return op, nil

	case http.MethodGet:
		switch {
		case has("versioning"):
			op.Action = engine.ActionGetVersioning
		case has("policy"):
			op.Action = engine.ActionGetBucketPolicy
		case has("versions"):
			op.Action = engine.ActionListVersions
			op.Params = object.ListParams{Prefix: first(q, "prefix")}
		default:
			op.Action = engine.ActionListObjects
			maxKeys, _ := strconv.Atoi(first(q, "max-keys"))
			op.Params = object.ListParams{
				Prefix:    first(q, "prefix"),
				Delimiter: first(q, "delimiter"),
				Token:     first(q, "continuation-token"),
				MaxKeys:   maxKeys,
			}
		}
		return op, nil

	case http.MethodHead:
		op.Action = engine.ActionHeadBucket
		return op, nil

	case http.MethodDelete:
		if has("policy") {
			op.Action = engine.ActionDeleteBucketPolicy
		} else {
			op.Action = engine.ActionDeleteBucket
			op.Params = engine.DeleteBucketParams{}
		}
		return op, nil
	}
	return op, emuerr.Validation("unsupported method %s on bucket", r.Method)
}

func (a *Adapter) parseS3Object(r *http.Request, op engine.Operation, key string, q map[string][]string) (engine.Operation, error) {
	versionID := first(q, "versionId")

	switch r.Method {
	case http.MethodPut:
		if src := r.Header.Get("x-amz-copy-source"); src != "" {
			srcBucket, srcKey, ok := strings.Cut(strings.TrimPrefix(src, "/"), "/")
			if !ok {
				return op, emuerr.Validation("malformed copy source %q", src)
			}
			op.Action = engine.ActionCopyObject
			op.Params = engine.CopyObjectParams{SrcBucket: srcBucket, SrcKey: srcKey, DstKey: key}
			return op, nil
		}
		body, err := readBody(r)
		if err != nil {
			return op, err
		}
		op.Action = engine.ActionPutObject
		op.Body = body
		op.Params = engine.PutObjectParams{
			Key:         key,
			ContentType: r.Header.Get("Content-Type"),
			Metadata:    userMetadata(r.Header),
		}
		return op, nil

	case http.MethodGet:
		op.Action = engine.ActionGetObject
		op.Params = engine.ObjectKeyParams{Key: key, VersionID: versionID}
		return op, nil

	case http.MethodHead:
		op.Action = engine.ActionHeadObject
		op.Params = engine.ObjectKeyParams{Key: key, VersionID: versionID}
		return op, nil

	case http.MethodDelete:
		op.Action = engine.ActionDeleteObject
		op.Params = engine.ObjectKeyParams{Key: key, VersionID: versionID}
		return op, nil
	}
	return op, emuerr.Validation("unsupported method %s on object", r.Method)
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

func first(q map[string][]string, name string) string {
	if vals := q[name]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// renderS3 writes the XML (or raw-body) response for object operations.
func (a *Adapter) renderS3(w http.ResponseWriter, op engine.Operation, res engine.Result) {
	if res.Err != nil {
		a.renderS3Error(w, op, res)
		return
	}

	switch op.Action {
	case engine.ActionListBuckets:
		infos, _ := res.Body.([]*types.BucketInfo)
		out := listAllMyBucketsResult{}
		out.Owner.ID = a.cfg.AccountID
		out.Owner.DisplayName = a.cfg.AccountID
		for _, b := range infos {
			out.Buckets.Bucket = append(out.Buckets.Bucket, s3Bucket{
				Name:         b.Name,
				CreationDate: s3Time(b.CreatedAt),
			})
		}
		writeXML(w, http.StatusOK, out)

	case engine.ActionCreateBucket:
		w.Header().Set("Location", "/"+op.Resource)
		w.WriteHeader(http.StatusOK)

	case engine.ActionGetVersioning:
		info, _ := res.Body.(*types.BucketInfo)
		writeXML(w, http.StatusOK, versioningConfiguration{Status: versioningStatusToS3(info.Versioning)})

	case engine.ActionGetBucketPolicy:
		info, _ := res.Body.(*types.BucketInfo)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(info.Policy)

	case engine.ActionListObjects:
		page, _ := res.Body.(*types.ListObjectsPage)
		out := listBucketResult{
			Name:                  op.Resource,
			IsTruncated:           page.IsTruncated,
			NextContinuationToken: page.NextToken,
			KeyCount:              len(page.Objects),
		}
		if p, ok := op.Params.(object.ListParams); ok {
			out.Prefix = p.Prefix
			out.Delimiter = p.Delimiter
			out.MaxKeys = p.MaxKeys
		}
		for _, o := range page.Objects {
			out.Contents = append(out.Contents, s3Object{
				Key:          o.Key,
				ETag:         o.ETag,
				Size:         o.Size,
				LastModified: s3Time(o.LastModified),
				StorageClass: "STANDARD",
			})
		}
		for _, p := range page.CommonPrefixes {
			out.CommonPrefixes = append(out.CommonPrefixes, s3Prefix{Prefix: p})
		}
		writeXML(w, http.StatusOK, out)

	case engine.ActionListVersions:
		refs, _ := res.Body.([]*types.ObjectRef)
		out := listVersionsResult{Name: op.Resource}
		for _, o := range refs {
			entry := s3Version{
				Key:          o.Key,
				VersionID:    orNull(o.VersionID),
				IsLatest:     o.IsLatest,
				LastModified: s3Time(o.LastModified),
			}
			if o.IsDeleteMarker {
				out.DeleteMarkers = append(out.DeleteMarkers, entry)
			} else {
				entry.ETag = o.ETag
				entry.Size = o.Size
				out.Versions = append(out.Versions, entry)
			}
		}
		writeXML(w, http.StatusOK, out)

	case engine.ActionPutObject:
		ref, _ := res.Body.(*types.ObjectRef)
		setObjectHeaders(w, ref, false)
		w.WriteHeader(http.StatusOK)

	case engine.ActionCopyObject:
		ref, _ := res.Body.(*types.ObjectRef)
		writeXML(w, http.StatusOK, copyObjectResult{
			ETag:         ref.ETag,
			LastModified: s3Time(ref.LastModified),
		})

	case engine.ActionGetObject:
		data, _ := res.Body.(engine.ObjectData)
		setObjectHeaders(w, data.Ref, true)
		w.WriteHeader(http.StatusOK)
		w.Write(data.Data)

	case engine.ActionHeadObject:
		ref, _ := res.Body.(*types.ObjectRef)
		setObjectHeaders(w, ref, true)
		w.Header().Set("Content-Length", strconv.FormatInt(ref.Size, 10))
		w.WriteHeader(http.StatusOK)

	case engine.ActionDeleteObject:
		if ref, ok := res.Body.(*types.ObjectRef); ok && ref != nil {
			if ref.VersionID != "" {
				w.Header().Set("x-amz-version-id", ref.VersionID)
			}
			if ref.IsDeleteMarker {
				w.Header().Set("x-amz-delete-marker", "true")
			}
		}
		w.WriteHeader(http.StatusNoContent)

	case engine.ActionDeleteBucket, engine.ActionDeleteBucketPolicy, engine.ActionPutBucketPolicy:
		w.WriteHeader(http.StatusNoContent)

	default:
		// HeadBucket, PutVersioning, PutLifecycle, and anything else that
		// succeeds without a body.
		w.WriteHeader(http.StatusOK)
	}
}

func (a *Adapter) renderS3Error(w http.ResponseWriter, op engine.Operation, res engine.Result) {
	code := s3ErrorCode(res.Err)
	writeXML(w, res.Status, s3Error{
		Code:     code,
		Message:  errMessage(res.Err),
		Resource: op.Resource,
	})
}

// s3ErrorCode maps canonical kinds to S3 error codes, disambiguating
// NotFound by the resource the error names.
func s3ErrorCode(err error) string {
	switch emuerr.KindOf(err) {
	case emuerr.KindNotFound:
		resource := errResource(err)
		switch {
		case strings.HasPrefix(resource, "policy"):
			return "NoSuchBucketPolicy"
		case strings.HasPrefix(resource, "object"):
			return "NoSuchKey"
		default:
			return "NoSuchBucket"
		}
	case emuerr.KindAlreadyExists:
		return "BucketAlreadyOwnedByYou"
	case emuerr.KindConflict:
		return "BucketNotEmpty"
	case emuerr.KindValidation:
		return "InvalidArgument"
	case emuerr.KindPreconditionFailed:
		return "PreconditionFailed"
	default:
		return "InternalError"
	}
}

func setObjectHeaders(w http.ResponseWriter, ref *types.ObjectRef, withContent bool) {
	if ref == nil {
		return
	}
	w.Header().Set("ETag", ref.ETag)
	if ref.VersionID != "" {
		w.Header().Set("x-amz-version-id", ref.VersionID)
	}
	if withContent {
		w.Header().Set("Content-Type", ref.ContentType)
		w.Header().Set("Last-Modified", time.Unix(0, ref.LastModified).UTC().Format(http.TimeFormat))
		for k, v := range ref.UserMetadata {
			w.Header().Set(metaHeaderPrefix+k, v)
		}
	}
}

func versioningStateFromS3(status string) types.VersioningState {
	switch status {
	case "Enabled":
		return types.VersioningEnabled
	case "Suspended":
		return types.VersioningSuspended
	default:
		return types.VersioningDisabled
	}
}

func versioningStatusToS3(state types.VersioningState) string {
	switch state {
	case types.VersioningEnabled:
		return "Enabled"
	case types.VersioningSuspended:
		return "Suspended"
	default:
		return ""
	}
}

func s3Time(unixNano int64) string {
	return time.Unix(0, unixNano).UTC().Format("2006-01-02T15:04:05.000Z")
}

func orNull(versionID string) string {
	if versionID == "" {
		return "null"
	}
	return versionID
}

func writeXML(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Encode(v)
}

// XML wire shapes.

type s3Error struct {
	XMLName  xml.Name `xml:"Error"`
	Code     string   `xml:"Code"`
	Message  string   `xml:"Message"`
	Resource string   `xml:"Resource,omitempty"`
}

type createBucketConfiguration struct {
	XMLName            xml.Name `xml:"CreateBucketConfiguration"`
	LocationConstraint string   `xml:"LocationConstraint"`
}

type versioningConfiguration struct {
	XMLName xml.Name `xml:"VersioningConfiguration"`
	Status  string   `xml:"Status,omitempty"`
}

type listAllMyBucketsResult struct {
	XMLName xml.Name `xml:"ListAllMyBucketsResult"`
	Owner   struct {
		ID          string `xml:"ID"`
		DisplayName string `xml:"DisplayName"`
	} `xml:"Owner"`
	Buckets struct {
		Bucket []s3Bucket `xml:"Bucket"`
	} `xml:"Buckets"`
}

type s3Bucket struct {
	Name         string `xml:"Name"`
	CreationDate string `xml:"CreationDate"`
}

type listBucketResult struct {
	XMLName               xml.Name   `xml:"ListBucketResult"`
	Name                  string     `xml:"Name"`
	Prefix                string     `xml:"Prefix"`
	Delimiter             string     `xml:"Delimiter,omitempty"`
	MaxKeys               int        `xml:"MaxKeys"`
	KeyCount              int        `xml:"KeyCount"`
	IsTruncated           bool       `xml:"IsTruncated"`
	NextContinuationToken string     `xml:"NextContinuationToken,omitempty"`
	Contents              []s3Object `xml:"Contents"`
	CommonPrefixes        []s3Prefix `xml:"CommonPrefixes"`
}

type s3Object struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

type s3Prefix struct {
	Prefix string `xml:"Prefix"`
}

type listVersionsResult struct {
	XMLName       xml.Name    `xml:"ListVersionsResult"`
	Name          string      `xml:"Name"`
	Versions      []s3Version `xml:"Version"`
	DeleteMarkers []s3Version `xml:"DeleteMarker"`
}

type s3Version struct {
	Key          string `xml:"Key"`
	VersionID    string `xml:"VersionId"`
	IsLatest     bool   `xml:"IsLatest"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag,omitempty"`
	Size         int64  `xml:"Size,omitempty"`
}

type copyObjectResult struct {
	XMLName      xml.Name `xml:"CopyObjectResult"`
	ETag         string   `xml:"ETag"`
	LastModified string   `xml:"LastModified"`
}
