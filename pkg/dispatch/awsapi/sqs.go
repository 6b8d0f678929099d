// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package awsapi

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/engine"
	"github.com/cloudshim/cloudshim/pkg/engine/queue"
	"github.com/cloudshim/cloudshim/pkg/types"
)

const sqsContentType = "application/x-amz-json-1.0"

type sqsRequest struct {
	QueueName       string            `json:"QueueName"`
	QueueUrl        string            `json:"QueueUrl"`
	QueueNamePrefix string            `json:"QueueNamePrefix"`
	Attributes      map[string]string `json:"Attributes"`

	MessageBody            string `json:"MessageBody"`
	DelaySeconds           int64  `json:"DelaySeconds"`
	MessageDeduplicationId string `json:"MessageDeduplicationId"`

	MaxNumberOfMessages int   `json:"MaxNumberOfMessages"`
	VisibilityTimeout   int64 `json:"VisibilityTimeout"`
	ReceiptHandle       string `json:"ReceiptHandle"`
}

func (a *Adapter) parseSQS(action string, body []byte) (engine.Operation, error) {
	op := engine.Operation{Service: engine.ServiceQueue}

	var req sqsRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return op, emuerr.Validation("malformed request body: %v", err)
		}
	}
	op.Resource = req.QueueName
	if op.Resource == "" {
		op.Resource = queueNameFromURL(req.QueueUrl)
	}

	switch action {
	case "CreateQueue":
		op.Action = engine.ActionCreateQueue
		info, err := a.queueInfoFromAttributes(req.QueueName, req.Attributes)
		if err != nil {
			return op, err
		}
		op.Params = info

	case "GetQueueUrl":
		op.Action = engine.ActionGetQueue

	case "GetQueueAttributes":
		op.Action = engine.ActionGetQueueAttributes

	case "SetQueueAttributes":
		op.Action = engine.ActionSetQueueAttributes
		info, err := a.queueInfoFromAttributes(op.Resource, req.Attributes)
		if err != nil {
			return op, err
		}
		op.Params = engine.SetQueueAttributesParams{
			VisibilityTimeout: info.VisibilityTimeout,
			Retention:         info.Retention,
			MaxReceiveCount:   info.MaxReceiveCount,
			DLQTarget:         info.DLQTarget,
		}

	case "DeleteQueue":
		op.Action = engine.ActionDeleteQueue

	case "ListQueues":
		op.Action = engine.ActionListQueues
		op.Params = engine.ListQueuesParams{Prefix: req.QueueNamePrefix}

	case "PurgeQueue":
		op.Action = engine.ActionPurgeQueue

	case "SendMessage":
		op.Action = engine.ActionSendMessage
		op.Params = queue.SendParams{
			Body:         req.MessageBody,
			DelaySeconds: req.DelaySeconds,
			DedupID:      req.MessageDeduplicationId,
		}

	case "ReceiveMessage":
		op.Action = engine.ActionReceiveMessage
		op.Params = queue.ReceiveParams{
			MaxMessages:       req.MaxNumberOfMessages,
			VisibilityTimeout: req.VisibilityTimeout,
		}

	case "DeleteMessage":
		op.Action = engine.ActionDeleteMessage
		op.Params = engine.ReceiptParams{ReceiptToken: req.ReceiptHandle}

	case "ChangeMessageVisibility":
		op.Action = engine.ActionChangeVisibility
		op.Params = engine.ReceiptParams{ReceiptToken: req.ReceiptHandle, Timeout: req.VisibilityTimeout}

	default:
		return op, emuerr.Validation("unsupported action %s", action)
	}
	return op, nil
}

// queueInfoFromAttributes maps the SQS attribute map onto queue config. The
// redrive policy arrives as embedded JSON with an ARN target.
func (a *Adapter) queueInfoFromAttributes(name string, attrs map[string]string) (types.QueueInfo, error) {
	info := types.QueueInfo{Name: name}
	var err error
	if v, ok := attrs["VisibilityTimeout"]; ok {
		if info.VisibilityTimeout, err = strconv.ParseInt(v, 10, 64); err != nil {
			return info, emuerr.Validation("invalid VisibilityTimeout %q", v)
		}
	}
	if v, ok := attrs["MessageRetentionPeriod"]; ok {
		if info.Retention, err = strconv.ParseInt(v, 10, 64); err != nil {
			return info, emuerr.Validation("invalid MessageRetentionPeriod %q", v)
		}
	}
	if v, ok := attrs["FifoQueue"]; ok && v == "true" {
		info.IsFIFO = true
	}
	if v, ok := attrs["RedrivePolicy"]; ok {
		var policy struct {
			DeadLetterTargetArn string      `json:"deadLetterTargetArn"`
			MaxReceiveCount     json.Number `json:"maxReceiveCount"`
		}
		if err := json.Unmarshal([]byte(v), &policy); err != nil {
			return info, emuerr.Validation("invalid RedrivePolicy: %v", err)
		}
		parts := strings.Split(policy.DeadLetterTargetArn, ":")
		info.DLQTarget = parts[len(parts)-1]
		if n, err := policy.MaxReceiveCount.Int64(); err == nil {
			info.MaxReceiveCount = n
		}
	}
	return info, nil
}

func (a *Adapter) renderSQS(w http.ResponseWriter, op engine.Operation, res engine.Result) {
	if res.Err != nil {
		writeAmzError(w, sqsContentType, "com.amazonaws.sqs#"+sqsErrorCode(res.Err), res)
		return
	}

	switch op.Action {
	case engine.ActionCreateQueue, engine.ActionGetQueue:
		writeJSON(w, sqsContentType, map[string]string{"QueueUrl": a.queueURL(op.Resource)})

	case engine.ActionGetQueueAttributes:
		attrs, _ := res.Body.(engine.QueueAttributes)
		writeJSON(w, sqsContentType, map[string]any{
			"Attributes": a.queueAttributeMap(attrs),
		})

	case engine.ActionListQueues:
		names, _ := res.Body.([]string)
		urls := make([]string, 0, len(names))
		for _, n := range names {
			urls = append(urls, a.queueURL(n))
		}
		writeJSON(w, sqsContentType, map[string]any{"QueueUrls": urls})

	case engine.ActionSendMessage:
		msg, _ := res.Body.(*types.Message)
		writeJSON(w, sqsContentType, map[string]string{
			"MessageId":        msg.ID,
			"MD5OfMessageBody": md5Hex(msg.Body),
		})

	case engine.ActionReceiveMessage:
		msgs, _ := res.Body.([]*types.Message)
		out := make([]map[string]any, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, map[string]any{
				"MessageId":     m.ID,
				"ReceiptHandle": m.ReceiptToken,
				"Body":          m.Body,
				"MD5OfBody":     md5Hex(m.Body),
				"Attributes": map[string]string{
					"ApproximateReceiveCount": strconv.FormatInt(m.ReceiveCount, 10),
					"SentTimestamp":           strconv.FormatInt(m.SentAt/int64(time.Millisecond), 10),
				},
			})
		}
		writeJSON(w, sqsContentType, map[string]any{"Messages": out})

	default:
		// DeleteQueue, PurgeQueue, SetQueueAttributes, DeleteMessage,
		// ChangeMessageVisibility.
		writeJSON(w, sqsContentType, map[string]any{})
	}
}

func (a *Adapter) queueAttributeMap(attrs engine.QueueAttributes) map[string]string {
	if attrs.Info == nil {
		return nil
	}
	out := map[string]string{
		"VisibilityTimeout":                     strconv.FormatInt(attrs.Info.VisibilityTimeout, 10),
		"MessageRetentionPeriod":                strconv.FormatInt(attrs.Info.Retention, 10),
		"CreatedTimestamp":                      strconv.FormatInt(attrs.Info.CreatedAt/int64(time.Second), 10),
		"QueueArn":                              a.queueARN(attrs.Info.Name),
		"ApproximateNumberOfMessages":           strconv.FormatInt(attrs.Stats.Visible, 10),
		"ApproximateNumberOfMessagesNotVisible": strconv.FormatInt(attrs.Stats.InFlight, 10),
	}
	if attrs.Info.IsFIFO {
		out["FifoQueue"] = "true"
	}
	if attrs.Info.DLQTarget != "" {
		policy, _ := json.Marshal(map[string]any{
			"deadLetterTargetArn": a.queueARN(attrs.Info.DLQTarget),
			"maxReceiveCount":     attrs.Info.MaxReceiveCount,
		})
		out["RedrivePolicy"] = string(policy)
	}
	return out
}

func sqsErrorCode(err error) string {
	switch emuerr.KindOf(err) {
	case emuerr.KindNotFound:
		return "QueueDoesNotExist"
	case emuerr.KindAlreadyExists:
		return "QueueNameExists"
	case emuerr.KindPreconditionFailed:
		return "ReceiptHandleIsInvalid"
	case emuerr.KindValidation:
		return "InvalidParameterValue"
	default:
		return "InternalFailure"
	}
}

func (a *Adapter) queueURL(name string) string {
	host := a.cfg.AWSListen
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return fmt.Sprintf("http://%s/%s/%s", host, a.cfg.AccountID, name)
}

func (a *Adapter) queueARN(name string) string {
	return fmt.Sprintf("arn:aws:sqs:%s:%s:%s", a.cfg.Region, a.cfg.AccountID, name)
}

func queueNameFromURL(url string) string {
	if url == "" {
		return ""
	}
	parts := strings.Split(strings.TrimSuffix(url, "/"), "/")
	return parts[len(parts)-1]
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
