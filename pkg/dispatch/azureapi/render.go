// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package azureapi

import (
	"encoding/xml"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/engine"
	"github.com/cloudshim/cloudshim/pkg/types"
)

// Render implements dispatch.Adapter.
func (a *Adapter) Render(w http.ResponseWriter, op engine.Operation, res engine.Result) {
	w.Header().Set("x-ms-version", apiVersion)

	if res.Err != nil {
		writeXML(w, res.Status, azureError{
			Code:    azureErrorCode(op, res.Err),
			Message: errMessage(res.Err),
		})
		return
	}

	if op.Service == engine.ServiceQueue {
		a.renderQueue(w, op, res)
		return
	}

	switch op.Action {
	case engine.ActionListBuckets:
		infos, _ := res.Body.([]*types.BucketInfo)
		out := enumerationResults{}
		for _, b := range infos {
			out.Containers.Container = append(out.Containers.Container, azureContainer{
				Name: b.Name,
				Properties: azureContainerProps{
					LastModified: rfc1123(b.CreatedAt),
				},
			})
		}
		writeXML(w, http.StatusOK, out)

	case engine.ActionCreateBucket:
		w.WriteHeader(http.StatusCreated)

	case engine.ActionDeleteBucket:
		w.WriteHeader(http.StatusAccepted)

	case engine.ActionListObjects:
		page, _ := res.Body.(*types.ListObjectsPage)
		out := enumerationResults{ContainerName: op.Resource, NextMarker: page.NextToken}
		for _, o := range page.Objects {
			out.Blobs.Blob = append(out.Blobs.Blob, azureBlob{
				Name: o.Key,
				Properties: azureBlobProps{
					LastModified:  rfc1123(o.LastModified),
					ContentLength: o.Size,
					ContentType:   o.ContentType,
					Etag:          o.ETag,
				},
			})
		}
		for _, p := range page.CommonPrefixes {
			out.Blobs.BlobPrefix = append(out.Blobs.BlobPrefix, azurePrefix{Name: p})
		}
		writeXML(w, http.StatusOK, out)

	case engine.ActionPutObject:
		ref, _ := res.Body.(*types.ObjectRef)
		setBlobHeaders(w, ref, false)
		w.WriteHeader(http.StatusCreated)

	case engine.ActionGetObject:
		data, _ := res.Body.(engine.ObjectData)
		setBlobHeaders(w, data.Ref, true)
		w.WriteHeader(http.StatusOK)
		w.Write(data.Data)

	case engine.ActionHeadObject:
		ref, _ := res.Body.(*types.ObjectRef)
		setBlobHeaders(w, ref, true)
		w.Header().Set("Content-Length", strconv.FormatInt(ref.Size, 10))
		w.WriteHeader(http.StatusOK)

	case engine.ActionDeleteObject:
		w.WriteHeader(http.StatusAccepted)

	default:
		// HeadBucket and friends.
		w.WriteHeader(http.StatusOK)
	}
}

func (a *Adapter) renderQueue(w http.ResponseWriter, op engine.Operation, res engine.Result) {
	switch op.Action {
	case engine.ActionCreateQueue:
		w.WriteHeader(http.StatusCreated)

	case engine.ActionDeleteQueue:
		w.WriteHeader(http.StatusNoContent)

	case engine.ActionSendMessage:
		msg, _ := res.Body.(*types.Message)
		writeXML(w, http.StatusCreated, queueMessagesList{
			Messages: []queueMessageOut{{
				MessageID:     msg.ID,
				InsertionTime: rfc1123(msg.SentAt),
				MessageText:   msg.Body,
			}},
		})

	case engine.ActionReceiveMessage:
		msgs, _ := res.Body.([]*types.Message)
		out := queueMessagesList{}
		for _, m := range msgs {
			out.Messages = append(out.Messages, queueMessageOut{
				MessageID:       m.ID,
				PopReceipt:      m.ReceiptToken,
				MessageText:     m.Body,
				DequeueCount:    m.ReceiveCount,
				InsertionTime:   rfc1123(m.SentAt),
				TimeNextVisible: rfc1123(m.VisibleAt),
			})
		}
		writeXML(w, http.StatusOK, out)

	default:
		// DeleteMessage, ChangeMessageVisibility.
		w.WriteHeader(http.StatusNoContent)
	}
}

// azureErrorCode maps canonical kinds to Azure storage error codes,
// disambiguated by which resource the error names.
func azureErrorCode(op engine.Operation, err error) string {
	resource := errResource(err)
	isQueue := op.Service == engine.ServiceQueue || strings.HasPrefix(resource, "queue")

	switch emuerr.KindOf(err) {
	case emuerr.KindNotFound:
		switch {
		case isQueue:
			return "QueueNotFound"
		case strings.HasPrefix(resource, "object"):
			return "BlobNotFound"
		default:
			return "ContainerNotFound"
		}
	case emuerr.KindAlreadyExists:
		if isQueue {
			return "QueueAlreadyExists"
		}
		return "ContainerAlreadyExists"
	case emuerr.KindPreconditionFailed:
		return "PopReceiptMismatch"
	case emuerr.KindValidation:
		return "InvalidInput"
	case emuerr.KindConflict:
		return "Conflict"
	default:
		return "InternalError"
	}
}

func setBlobHeaders(w http.ResponseWriter, ref *types.ObjectRef, withContent bool) {
	if ref == nil {
		return
	}
	w.Header().Set("ETag", ref.ETag)
	w.Header().Set("Last-Modified", time.Unix(0, ref.LastModified).UTC().Format(http.TimeFormat))
	if withContent {
		w.Header().Set("Content-Type", ref.ContentType)
		w.Header().Set("x-ms-blob-type", "BlockBlob")
		for k, v := range ref.UserMetadata {
			w.Header().Set(metaHeaderPrefix+k, v)
		}
	}
}

func writeXML(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Encode(v)
}

// XML wire shapes.

type azureError struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

type queueMessage struct {
	XMLName     xml.Name `xml:"QueueMessage"`
	MessageText string   `xml:"MessageText"`
}

type queueMessagesList struct {
	XMLName  xml.Name          `xml:"QueueMessagesList"`
	Messages []queueMessageOut `xml:"QueueMessage"`
}

type queueMessageOut struct {
	MessageID       string `xml:"MessageId"`
	InsertionTime   string `xml:"InsertionTime,omitempty"`
	PopReceipt      string `xml:"PopReceipt,omitempty"`
	TimeNextVisible string `xml:"TimeNextVisible,omitempty"`
	DequeueCount    int64  `xml:"DequeueCount,omitempty"`
	MessageText     string `xml:"MessageText"`
}

type enumerationResults struct {
	XMLName       xml.Name `xml:"EnumerationResults"`
	ContainerName string   `xml:"ContainerName,attr,omitempty"`
	Containers    struct {
		Container []azureContainer `xml:"Container"`
	} `xml:"Containers"`
	Blobs struct {
		Blob       []azureBlob   `xml:"Blob"`
		BlobPrefix []azurePrefix `xml:"BlobPrefix"`
	} `xml:"Blobs"`
	NextMarker string `xml:"NextMarker,omitempty"`
}

type azureContainer struct {
	Name       string              `xml:"Name"`
	Properties azureContainerProps `xml:"Properties"`
}

type azureContainerProps struct {
	LastModified string `xml:"Last-Modified"`
}

type azureBlob struct {
	Name       string         `xml:"Name"`
	Properties azureBlobProps `xml:"Properties"`
}

type azureBlobProps struct {
	LastModified  string `xml:"Last-Modified"`
	ContentLength int64  `xml:"Content-Length"`
	ContentType   string `xml:"Content-Type"`
	Etag          string `xml:"Etag"`
}

type azurePrefix struct {
	Name string `xml:"Name"`
}
