// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

// Package awsapi adapts the AWS wire family: path-style S3 XML, the
// X-Amz-Target JSON 1.0 protocols (DynamoDB, SQS, Secrets Manager), and the
// Lambda REST surface. All of them share one listener; routing is by target
// header first, then path shape.
package awsapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/engine"
	"github.com/cloudshim/cloudshim/pkg/types"
)

// maxBodyBytes caps buffered request bodies.
const maxBodyBytes = 128 << 20

const (
	targetDynamo  = "DynamoDB_20120810."
	targetSQS     = "AmazonSQS."
	targetSecrets = "secretsmanager."

	lambdaPrefix = "/2015-03-31/functions"
)

// Adapter implements dispatch.Adapter for the AWS family.
type Adapter struct {
	cfg types.ServerConfig
}

// New creates the AWS adapter.
func New(cfg types.ServerConfig) *Adapter {
	return &Adapter{cfg: cfg}
}

// Family implements dispatch.Adapter.
func (a *Adapter) Family() string { return "aws" }

// Parse implements dispatch.Adapter. The returned Operation carries its
// Service even on error, so Render answers in the protocol the client spoke.
func (a *Adapter) Parse(r *http.Request) (engine.Operation, error) {
	if target := r.Header.Get("X-Amz-Target"); target != "" {
		body, err := readBody(r)
		if err != nil {
			return engine.Operation{}, err
		}
		switch {
		case strings.HasPrefix(target, targetDynamo):
			return a.parseDynamo(strings.TrimPrefix(target, targetDynamo), body)
		case strings.HasPrefix(target, targetSQS):
			return a.parseSQS(strings.TrimPrefix(target, targetSQS), body)
		case strings.HasPrefix(target, targetSecrets):
			return a.parseSecrets(strings.TrimPrefix(target, targetSecrets), body)
		}
		return engine.Operation{}, emuerr.Validation("unrecognized target %q", target)
	}

	if r.URL.Path == lambdaPrefix || strings.HasPrefix(r.URL.Path, lambdaPrefix+"/") {
		return a.parseLambda(r)
	}
	return a.parseS3(r)
}

// Render implements dispatch.Adapter.
func (a *Adapter) Render(w http.ResponseWriter, op engine.Operation, res engine.Result) {
	switch op.Service {
	case engine.ServiceItem:
		a.renderDynamo(w, op, res)
	case engine.ServiceQueue:
		a.renderSQS(w, op, res)
	case engine.ServiceSecret:
		a.renderSecrets(w, op, res)
	case engine.ServiceFunction:
		a.renderLambda(w, op, res)
	default:
		a.renderS3(w, op, res)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, emuerr.Validation("read request body: %v", err)
	}
	return body, nil
}

// errMessage returns the human message of a canonical error.
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

// errResource returns the resource tag of a canonical error.
func errResource(err error) string {
	var e *emuerr.Error
	if errors.As(err, &e) {
		return e.Resource
	}
	return ""
}
