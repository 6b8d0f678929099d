// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package gcpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/engine"
	"github.com/cloudshim/cloudshim/pkg/types"
)

// Render implements dispatch.Adapter.
func (a *Adapter) Render(w http.ResponseWriter, op engine.Operation, res engine.Result) {
	if res.Err != nil {
		writeJSON(w, res.Status, map[string]any{
			"error": map[string]any{
				"code":    res.Status,
				"message": errMessage(res.Err),
				"status":  gcpStatus(res.Err),
			},
		})
		return
	}

	if op.Service == engine.ServiceSecret {
		a.renderSecrets(w, op, res)
		return
	}

	switch op.Action {
	case engine.ActionListBuckets:
		infos, _ := res.Body.([]*types.BucketInfo)
		items := make([]map[string]any, 0, len(infos))
		for _, b := range infos {
			items = append(items, bucketResource(b))
		}
		writeJSON(w, http.StatusOK, map[string]any{"kind": "storage#buckets", "items": items})

	case engine.ActionCreateBucket, engine.ActionHeadBucket:
		info, _ := res.Body.(*types.BucketInfo)
		writeJSON(w, http.StatusOK, bucketResource(info))

	case engine.ActionDeleteBucket:
		w.WriteHeader(http.StatusNoContent)

	case engine.ActionListObjects:
		page, _ := res.Body.(*types.ListObjectsPage)
		out := map[string]any{"kind": "storage#objects"}
		items := make([]map[string]any, 0, len(page.Objects))
		for _, o := range page.Objects {
			items = append(items, objectResource(op.Resource, o))
		}
		out["items"] = items
		if len(page.CommonPrefixes) > 0 {
			out["prefixes"] = page.CommonPrefixes
		}
		if page.NextToken != "" {
			out["nextPageToken"] = page.NextToken
		}
		writeJSON(w, http.StatusOK, out)

	case engine.ActionPutObject, engine.ActionHeadObject, engine.ActionCopyObject:
		ref, _ := res.Body.(*types.ObjectRef)
		writeJSON(w, http.StatusOK, objectResource(op.Resource, ref))

	case engine.ActionGetObject:
		data, _ := res.Body.(engine.ObjectData)
		if data.Ref != nil {
			w.Header().Set("Content-Type", data.Ref.ContentType)
			w.Header().Set("ETag", data.Ref.ETag)
			w.Header().Set("X-Goog-Generation", data.Ref.VersionID)
		}
		w.WriteHeader(http.StatusOK)
		w.Write(data.Data)

	case engine.ActionDeleteObject:
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (a *Adapter) renderSecrets(w http.ResponseWriter, op engine.Operation, res engine.Result) {
	switch op.Action {
	case engine.ActionCreateSecret:
		v, _ := res.Body.(*types.SecretVersion)
		writeJSON(w, http.StatusOK, map[string]any{
			"name":       a.secretName(v.Secret),
			"createTime": rfc3339(v.CreatedAt),
		})

	case engine.ActionPutSecretValue:
		v, _ := res.Body.(*types.SecretVersion)
		writeJSON(w, http.StatusOK, map[string]any{
			"name":       a.versionName(v.Secret, v.VersionID),
			"createTime": rfc3339(v.CreatedAt),
			"state":      "ENABLED",
		})

	case engine.ActionGetSecretValue:
		v, _ := res.Body.(*types.SecretVersion)
		writeJSON(w, http.StatusOK, map[string]any{
			"name": a.versionName(v.Secret, v.VersionID),
			"payload": map[string]any{
				"data": base64.StdEncoding.EncodeToString([]byte(v.Value)),
			},
		})

	case engine.ActionDescribeSecret:
		desc, _ := res.Body.(engine.SecretDescription)
		writeJSON(w, http.StatusOK, map[string]any{
			"name":       a.secretName(desc.Info.Name),
			"createTime": rfc3339(desc.Info.CreatedAt),
		})

	case engine.ActionListSecrets:
		infos, _ := res.Body.([]*types.SecretInfo)
		secrets := make([]map[string]any, 0, len(infos))
		for _, info := range infos {
			secrets = append(secrets, map[string]any{
				"name":       a.secretName(info.Name),
				"createTime": rfc3339(info.CreatedAt),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"secrets":   secrets,
			"totalSize": len(secrets),
		})

	default:
		// DeleteSecret returns the empty proto.
		writeJSON(w, http.StatusOK, map[string]any{})
	}
}

func bucketResource(b *types.BucketInfo) map[string]any {
	if b == nil {
		return nil
	}
	return map[string]any{
		"kind":        "storage#bucket",
		"id":          b.Name,
		"name":        b.Name,
		"location":    b.Region,
		"timeCreated": rfc3339(b.CreatedAt),
	}
}

func objectResource(bucket string, ref *types.ObjectRef) map[string]any {
	if ref == nil {
		return nil
	}
	return map[string]any{
		"kind":        "storage#object",
		"id":          fmt.Sprintf("%s/%s/%s", bucket, ref.Key, ref.VersionID),
		"name":        ref.Key,
		"bucket":      bucket,
		"generation":  ref.VersionID,
		"size":        strconv.FormatInt(ref.Size, 10),
		"contentType": ref.ContentType,
		"etag":        ref.ETag,
		"updated":     rfc3339(ref.LastModified),
		"metadata":    ref.UserMetadata,
	}
}

// gcpStatus maps canonical kinds to googleapis canonical status names.
func gcpStatus(err error) string {
	switch emuerr.KindOf(err) {
	case emuerr.KindNotFound:
		return "NOT_FOUND"
	case emuerr.KindAlreadyExists:
		return "ALREADY_EXISTS"
	case emuerr.KindConflict:
		return "ABORTED"
	case emuerr.KindValidation, emuerr.KindConditionalCheckFailed:
		return "INVALID_ARGUMENT"
	case emuerr.KindPreconditionFailed:
		return "FAILED_PRECONDITION"
	default:
		return "INTERNAL"
	}
}

func (a *Adapter) secretName(name string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", a.cfg.AccountID, name)
}

func (a *Adapter) versionName(secret, versionID string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", a.cfg.AccountID, secret, versionID)
}

func rfc3339(unixNano int64) string {
	return time.Unix(0, unixNano).UTC().Format(time.RFC3339Nano)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
