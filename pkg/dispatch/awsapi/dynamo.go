// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package awsapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/engine"
	"github.com/cloudshim/cloudshim/pkg/engine/item"
	"github.com/cloudshim/cloudshim/pkg/types"
)

const dynamoContentType = "application/x-amz-json-1.0"

// dynamoRequest is the superset of the fields the supported actions use.
type dynamoRequest struct {
	TableName string `json:"TableName"`

	KeySchema []struct {
		AttributeName string `json:"AttributeName"`
		KeyType       string `json:"KeyType"`
	} `json:"KeySchema"`

	Item types.Item `json:"Item"`
	Key  types.Item `json:"Key"`

	ConditionExpression       string                         `json:"ConditionExpression"`
	UpdateExpression          string                         `json:"UpdateExpression"`
	KeyConditionExpression    string                         `json:"KeyConditionExpression"`
	FilterExpression          string                         `json:"FilterExpression"`
	ExpressionAttributeNames  map[string]string              `json:"ExpressionAttributeNames"`
	ExpressionAttributeValues map[string]types.AttributeValue `json:"ExpressionAttributeValues"`

	Limit             int        `json:"Limit"`
	ExclusiveStartKey types.Item `json:"ExclusiveStartKey"`
	ScanIndexForward  *bool      `json:"ScanIndexForward"`

	ExclusiveStartTableName string `json:"ExclusiveStartTableName"`
}

func (req *dynamoRequest) env() exprEnv {
	return exprEnv{names: req.ExpressionAttributeNames, values: req.ExpressionAttributeValues}
}

func (a *Adapter) parseDynamo(action string, body []byte) (engine.Operation, error) {
	op := engine.Operation{Service: engine.ServiceItem}

	var req dynamoRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return op, emuerr.Validation("malformed request body: %v", err)
		}
	}
	op.Resource = req.TableName

	switch action {
	case "CreateTable":
		op.Action = engine.ActionCreateTable
		var p engine.CreateTableParams
		for _, ks := range req.KeySchema {
			switch ks.KeyType {
			case "HASH":
				p.PartitionKey = ks.AttributeName
			case "RANGE":
				p.SortKey = ks.AttributeName
			}
		}
		op.Params = p

	case "DeleteTable":
		op.Action = engine.ActionDeleteTable

	case "DescribeTable":
		op.Action = engine.ActionDescribeTable

	case "ListTables":
		op.Action = engine.ActionListTables

	case "PutItem":
		op.Action = engine.ActionPutItem
		conds, err := parseConditionExpression(req.ConditionExpression, req.env())
		if err != nil {
			return op, err
		}
		op.Params = engine.PutItemParams{Item: req.Item, Conditions: conds}

	case "GetItem":
		op.Action = engine.ActionGetItem
		op.Params = engine.ItemKeyParams{Key: req.Key}

	case "DeleteItem":
		op.Action = engine.ActionDeleteItem
		conds, err := parseConditionExpression(req.ConditionExpression, req.env())
		if err != nil {
			return op, err
		}
		op.Params = engine.ItemKeyParams{Key: req.Key, Conditions: conds}

	case "UpdateItem":
		op.Action = engine.ActionUpdateItem
		ops, err := parseUpdateExpression(req.UpdateExpression, req.env())
		if err != nil {
			return op, err
		}
		conds, err := parseConditionExpression(req.ConditionExpression, req.env())
		if err != nil {
			return op, err
		}
		op.Params = engine.UpdateItemParams{Key: req.Key, Ops: ops, Conditions: conds}

	case "Query":
		op.Action = engine.ActionQuery
		terms, err := parseKeyConditionExpression(req.KeyConditionExpression, req.env())
		if err != nil {
			return op, err
		}
		filter, err := parseConditionExpression(req.FilterExpression, req.env())
		if err != nil {
			return op, err
		}
		op.Params = engine.QueryKeyParams{
			KeyConditions: terms,
			Query: item.QueryParams{
				Filter:            filter,
				Limit:             req.Limit,
				ExclusiveStartKey: req.ExclusiveStartKey,
				Backward:          req.ScanIndexForward != nil && !*req.ScanIndexForward,
			},
		}

	case "Scan":
		op.Action = engine.ActionScan
		filter, err := parseConditionExpression(req.FilterExpression, req.env())
		if err != nil {
			return op, err
		}
		op.Params = item.ScanParams{
			Filter:            filter,
			Limit:             req.Limit,
			ExclusiveStartKey: req.ExclusiveStartKey,
		}

	default:
		return op, emuerr.Validation("unsupported action %s", action)
	}
	return op, nil
}

func (a *Adapter) renderDynamo(w http.ResponseWriter, op engine.Operation, res engine.Result) {
	if res.Err != nil {
		writeAmzError(w, dynamoContentType, "com.amazonaws.dynamodb.v20120810#"+dynamoErrorCode(res.Err), res)
		return
	}

	switch op.Action {
	case engine.ActionCreateTable, engine.ActionDeleteTable, engine.ActionDescribeTable:
		info, _ := res.Body.(*types.TableInfo)
		field := "TableDescription"
		if op.Action == engine.ActionDescribeTable {
			field = "Table"
		}
		writeJSON(w, dynamoContentType, map[string]any{field: tableDescription(info)})

	case engine.ActionListTables:
		names, _ := res.Body.([]string)
		if names == nil {
			names = []string{}
		}
		writeJSON(w, dynamoContentType, map[string]any{"TableNames": names})

	case engine.ActionPutItem, engine.ActionDeleteItem, engine.ActionUpdateItem:
		out := map[string]any{}
		if it, ok := res.Body.(types.Item); ok && it != nil {
			out["Attributes"] = it
		}
		writeJSON(w, dynamoContentType, out)

	case engine.ActionGetItem:
		out := map[string]any{}
		if it, ok := res.Body.(types.Item); ok && it != nil {
			out["Item"] = it
		}
		writeJSON(w, dynamoContentType, out)

	case engine.ActionQuery, engine.ActionScan:
		page, _ := res.Body.(*item.Page)
		items := page.Items
		if items == nil {
			items = []types.Item{}
		}
		out := map[string]any{
			"Items":        items,
			"Count":        len(items),
			"ScannedCount": page.ScannedCount,
		}
		if page.LastEvaluatedKey != nil {
			out["LastEvaluatedKey"] = page.LastEvaluatedKey
		}
		writeJSON(w, dynamoContentType, out)

	default:
		writeJSON(w, dynamoContentType, map[string]any{})
	}
}

func tableDescription(info *types.TableInfo) map[string]any {
	if info == nil {
		return nil
	}
	schema := []map[string]string{
		{"AttributeName": info.PartitionKey, "KeyType": "HASH"},
	}
	if info.SortKey != "" {
		schema = append(schema, map[string]string{"AttributeName": info.SortKey, "KeyType": "RANGE"})
	}
	return map[string]any{
		"TableName":        info.Name,
		"KeySchema":        schema,
		"TableStatus":      "ACTIVE",
		"ItemCount":        info.ItemCount,
		"CreationDateTime": float64(info.CreatedAt) / float64(time.Second),
	}
}

func dynamoErrorCode(err error) string {
	switch emuerr.KindOf(err) {
	case emuerr.KindNotFound:
		return "ResourceNotFoundException"
	case emuerr.KindAlreadyExists, emuerr.KindConflict:
		return "ResourceInUseException"
	case emuerr.KindConditionalCheckFailed:
		return "ConditionalCheckFailedException"
	case emuerr.KindValidation:
		return "ValidationException"
	default:
		return "InternalServerError"
	}
}

func writeJSON(w http.ResponseWriter, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

// writeAmzError writes the JSON-protocol error shape shared by DynamoDB,
// SQS, and Secrets Manager.
func writeAmzError(w http.ResponseWriter, contentType, typeName string, res engine.Result) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(res.Status)
	json.NewEncoder(w).Encode(map[string]string{
		"__type":  typeName,
		"message": errMessage(res.Err),
	})
}
