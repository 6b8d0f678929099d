// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package awsapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/engine"
	"github.com/cloudshim/cloudshim/pkg/engine/function"
	"github.com/cloudshim/cloudshim/pkg/types"
)

type lambdaRequest struct {
	FunctionName string `json:"FunctionName"`
	Runtime      string `json:"Runtime"`
	Handler      string `json:"Handler"`
	Code         struct {
		ZipFile []byte `json:"ZipFile"` // base64 in the wire JSON
	} `json:"Code"`
	ZipFile     []byte `json:"ZipFile"`
	Environment struct {
		Variables map[string]string `json:"Variables"`
	} `json:"Environment"`
}

// parseLambda routes the REST surface under /2015-03-31/functions.
func (a *Adapter) parseLambda(r *http.Request) (engine.Operation, error) {
	op := engine.Operation{Service: engine.ServiceFunction}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, lambdaPrefix), "/")
	name, sub, _ := strings.Cut(rest, "/")
	op.Resource = name

	switch {
	case name == "" && r.Method == http.MethodPost:
		body, err := readBody(r)
		if err != nil {
			return op, err
		}
		var req lambdaRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return op, emuerr.Validation("malformed request body: %v", err)
		}
		op.Resource = req.FunctionName
		op.Action = engine.ActionCreateFunction
		op.Params = engine.CreateFunctionParams{
			Runtime: req.Runtime,
			Handler: req.Handler,
			Env:     req.Environment.Variables,
		}
		op.Body = req.Code.ZipFile
		return op, nil

	case name == "" && r.Method == http.MethodGet:
		op.Action = engine.ActionListFunctions
		return op, nil

	case sub == "" && r.Method == http.MethodGet:
		op.Action = engine.ActionGetFunction
		return op, nil

	case sub == "" && r.Method == http.MethodDelete:
		op.Action = engine.ActionDeleteFunction
		return op, nil

	case sub == "configuration" && r.Method == http.MethodPut:
		body, err := readBody(r)
		if err != nil {
			return op, err
		}
		var req lambdaRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return op, emuerr.Validation("malformed request body: %v", err)
		}
		var p function.UpdateConfigParams
		if req.Runtime != "" {
			p.Runtime = &req.Runtime
		}
		if req.Handler != "" {
			p.Handler = &req.Handler
		}
		if req.Environment.Variables != nil {
			p.Env = req.Environment.Variables
		}
		op.Action = engine.ActionUpdateFnConfig
		op.Params = p
		return op, nil

	case sub == "code" && r.Method == http.MethodPut:
		body, err := readBody(r)
		if err != nil {
			return op, err
		}
		var req lambdaRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return op, emuerr.Validation("malformed request body: %v", err)
		}
		op.Action = engine.ActionUpdateFnCode
		op.Body = req.ZipFile
		return op, nil

	case sub == "invocations" && r.Method == http.MethodPost:
		body, err := readBody(r)
		if err != nil {
			return op, err
		}
		op.Action = engine.ActionInvoke
		op.Body = body
		return op, nil
	}
	return op, emuerr.Validation("unsupported function route %s %s", r.Method, r.URL.Path)
}

func (a *Adapter) renderLambda(w http.ResponseWriter, op engine.Operation, res engine.Result) {
	if res.Err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Amzn-ErrorType", lambdaErrorCode(res.Err))
		w.WriteHeader(res.Status)
		json.NewEncoder(w).Encode(map[string]string{"Message": errMessage(res.Err)})
		return
	}

	switch op.Action {
	case engine.ActionCreateFunction:
		info, _ := res.Body.(*types.FunctionInfo)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(a.functionConfig(info))

	case engine.ActionGetFunction, engine.ActionUpdateFnConfig, engine.ActionUpdateFnCode:
		info, _ := res.Body.(*types.FunctionInfo)
		writeJSON(w, "application/json", a.functionConfig(info))

	case engine.ActionListFunctions:
		infos, _ := res.Body.([]*types.FunctionInfo)
		list := make([]map[string]any, 0, len(infos))
		for _, info := range infos {
			list = append(list, a.functionConfig(info))
		}
		writeJSON(w, "application/json", map[string]any{"Functions": list})

	case engine.ActionDeleteFunction:
		w.WriteHeader(http.StatusNoContent)

	case engine.ActionInvoke:
		inv, _ := res.Body.(*function.InvocationResult)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Amz-Executed-Version", strconv.FormatInt(inv.Version, 10))
		w.WriteHeader(inv.StatusCode)
		w.Write(inv.Payload)

	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (a *Adapter) functionConfig(info *types.FunctionInfo) map[string]any {
	if info == nil {
		return nil
	}
	out := map[string]any{
		"FunctionName": info.Name,
		"FunctionArn":  a.functionARN(info.Name),
		"Runtime":      info.Runtime,
		"Handler":      info.Handler,
		"CodeSha256":   info.CodeHash,
		"CodeSize":     info.CodeSize,
		"Version":      strconv.FormatInt(info.Version, 10),
		"LastModified": time.Unix(0, info.LastModified).UTC().Format("2006-01-02T15:04:05.000+0000"),
	}
	if len(info.Env) > 0 {
		out["Environment"] = map[string]any{"Variables": info.Env}
	}
	return out
}

func lambdaErrorCode(err error) string {
	switch emuerr.KindOf(err) {
	case emuerr.KindNotFound:
		return "ResourceNotFoundException"
	case emuerr.KindAlreadyExists, emuerr.KindConflict:
		return "ResourceConflictException"
	case emuerr.KindValidation:
		return "InvalidParameterValueException"
	default:
		return "ServiceException"
	}
}

func (a *Adapter) functionARN(name string) string {
	return fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", a.cfg.Region, a.cfg.AccountID, name)
}
