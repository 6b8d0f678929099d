// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package awsapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/engine"
	"github.com/cloudshim/cloudshim/pkg/types"
)

const secretsContentType = "application/x-amz-json-1.1"

type secretsRequest struct {
	Name         string `json:"Name"`
	SecretId     string `json:"SecretId"`
	SecretString string `json:"SecretString"`
	VersionId    string `json:"VersionId"`
	VersionStage string `json:"VersionStage"`

	ForceDeleteWithoutRecovery bool `json:"ForceDeleteWithoutRecovery"`
}

func (a *Adapter) parseSecrets(action string, body []byte) (engine.Operation, error) {
	op := engine.Operation{Service: engine.ServiceSecret}

	var req secretsRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return op, emuerr.Validation("malformed request body: %v", err)
		}
	}
	op.Resource = req.Name
	if op.Resource == "" {
		op.Resource = secretNameFromID(req.SecretId)
	}

	switch action {
	case "CreateSecret":
		op.Action = engine.ActionCreateSecret
		op.Params = engine.SecretValueParams{Value: req.SecretString}

	case "PutSecretValue":
		op.Action = engine.ActionPutSecretValue
		op.Params = engine.SecretValueParams{Value: req.SecretString}

	case "GetSecretValue":
		op.Action = engine.ActionGetSecretValue
		op.Params = engine.GetSecretValueParams{
			VersionID: req.VersionId,
			Stage:     stageFromAWS(req.VersionStage),
		}

	case "DescribeSecret":
		op.Action = engine.ActionDescribeSecret

	case "ListSecrets":
		op.Action = engine.ActionListSecrets

	case "DeleteSecret":
		op.Action = engine.ActionDeleteSecret
		op.Params = engine.DeleteSecretParams{Force: req.ForceDeleteWithoutRecovery}

	case "RestoreSecret":
		op.Action = engine.ActionRestoreSecret

	default:
		return op, emuerr.Validation("unsupported action %s", action)
	}
	return op, nil
}

func (a *Adapter) renderSecrets(w http.ResponseWriter, op engine.Operation, res engine.Result) {
	if res.Err != nil {
		writeAmzError(w, secretsContentType, secretsErrorCode(res.Err), res)
		return
	}

	switch op.Action {
	case engine.ActionCreateSecret, engine.ActionPutSecretValue:
		v, _ := res.Body.(*types.SecretVersion)
		writeJSON(w, secretsContentType, map[string]any{
			"ARN":           a.secretARN(v.Secret),
			"Name":          v.Secret,
			"VersionId":     v.VersionID,
			"VersionStages": stagesToAWS(v.Stages),
		})

	case engine.ActionGetSecretValue:
		v, _ := res.Body.(*types.SecretVersion)
		writeJSON(w, secretsContentType, map[string]any{
			"ARN":           a.secretARN(v.Secret),
			"Name":          v.Secret,
			"VersionId":     v.VersionID,
			"SecretString":  v.Value,
			"VersionStages": stagesToAWS(v.Stages),
			"CreatedDate":   epochSeconds(v.CreatedAt),
		})

	case engine.ActionDescribeSecret:
		desc, _ := res.Body.(engine.SecretDescription)
		stages := make(map[string][]string, len(desc.Stages))
		for id, st := range desc.Stages {
			stages[id] = stagesToAWS(st)
		}
		out := map[string]any{
			"ARN":                a.secretARN(desc.Info.Name),
			"Name":               desc.Info.Name,
			"CreatedDate":        epochSeconds(desc.Info.CreatedAt),
			"VersionIdsToStages": stages,
		}
		if desc.Info.DeletedAt != 0 {
			out["DeletedDate"] = epochSeconds(desc.Info.DeletedAt)
		}
		writeJSON(w, secretsContentType, out)

	case engine.ActionListSecrets:
		infos, _ := res.Body.([]*types.SecretInfo)
		list := make([]map[string]any, 0, len(infos))
		for _, info := range infos {
			list = append(list, map[string]any{
				"ARN":         a.secretARN(info.Name),
				"Name":        info.Name,
				"CreatedDate": epochSeconds(info.CreatedAt),
			})
		}
		writeJSON(w, secretsContentType, map[string]any{"SecretList": list})

	case engine.ActionDeleteSecret:
		info, _ := res.Body.(*types.SecretInfo)
		writeJSON(w, secretsContentType, map[string]any{
			"ARN":          a.secretARN(info.Name),
			"Name":         info.Name,
			"DeletionDate": epochSeconds(info.DeletedAt),
		})

	default:
		// RestoreSecret.
		writeJSON(w, secretsContentType, map[string]any{
			"ARN":  a.secretARN(op.Resource),
			"Name": op.Resource,
		})
	}
}

func secretsErrorCode(err error) string {
	switch emuerr.KindOf(err) {
	case emuerr.KindNotFound:
		return "ResourceNotFoundException"
	case emuerr.KindAlreadyExists:
		return "ResourceExistsException"
	case emuerr.KindValidation:
		return "InvalidParameterException"
	case emuerr.KindConflict, emuerr.KindPreconditionFailed:
		return "InvalidRequestException"
	default:
		return "InternalServiceError"
	}
}

// stageFromAWS maps AWSCURRENT/AWSPREVIOUS onto the canonical stage names.
func stageFromAWS(stage string) string {
	switch stage {
	case "AWSCURRENT":
		return types.StageCurrent
	case "AWSPREVIOUS":
		return types.StagePrevious
	default:
		return stage
	}
}

func stagesToAWS(stages []string) []string {
	out := make([]string, 0, len(stages))
	for _, s := range stages {
		switch s {
		case types.StageCurrent:
			out = append(out, "AWSCURRENT")
		case types.StagePrevious:
			out = append(out, "AWSPREVIOUS")
		default:
			out = append(out, s)
		}
	}
	return out
}

// secretNameFromID accepts either a bare name or a full ARN.
func secretNameFromID(id string) string {
	if !strings.HasPrefix(id, "arn:") {
		return id
	}
	parts := strings.Split(id, ":")
	return parts[len(parts)-1]
}

func (a *Adapter) secretARN(name string) string {
	return fmt.Sprintf("arn:aws:secretsmanager:%s:%s:secret:%s", a.cfg.Region, a.cfg.AccountID, name)
}

func epochSeconds(unixNano int64) float64 {
	return float64(unixNano) / float64(time.Second)
}
