// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine aggregates the five stores behind one facade. Adapters
// never touch a store directly: they build a canonical Operation and hand it
// to Execute, which dispatches and folds the outcome into a Result.
package engine

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cloudshim/cloudshim/pkg/blob"
	"github.com/cloudshim/cloudshim/pkg/engine/function"
	"github.com/cloudshim/cloudshim/pkg/engine/item"
	"github.com/cloudshim/cloudshim/pkg/engine/object"
	"github.com/cloudshim/cloudshim/pkg/engine/queue"
	"github.com/cloudshim/cloudshim/pkg/engine/secret"
	"github.com/cloudshim/cloudshim/pkg/logger"
	"github.com/cloudshim/cloudshim/pkg/metadata/db"
	"github.com/cloudshim/cloudshim/pkg/types"
)

// Engine owns the shared storage and the per-service stores.
type Engine struct {
	cfg types.ServerConfig

	db    *db.DB
	blobs blob.Store

	objects   *object.Catalog
	items     *item.Store
	queues    *queue.Store
	secrets   *secret.Store
	functions *function.Registry

	reaper *queue.Reaper
	purger *secret.Purger
}

// New constructs an engine from config. With InMemory set, both the blob
// store and the metadata database live in process memory; otherwise they
// live under DataDir.
func New(ctx context.Context, cfg types.ServerConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		mdb   *db.DB
		blobs blob.Store
		err   error
	)
	if cfg.InMemory {
		mdb, err = db.OpenMemory(ctx)
		if err != nil {
			return nil, err
		}
		blobs = blob.NewMemStore()
	} else {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		mdb, err = db.Open(ctx, filepath.Join(cfg.DataDir, "metadata.db"))
		if err != nil {
			return nil, err
		}
		blobs, err = blob.NewFSStore(filepath.Join(cfg.DataDir, "blobs"))
		if err != nil {
			mdb.Close()
			return nil, err
		}
	}

	e := &Engine{
		cfg:       cfg,
		db:        mdb,
		blobs:     blobs,
		objects:   object.NewCatalog(mdb, blobs),
		items:     item.NewStore(mdb),
		secrets:   secret.NewStore(mdb),
		functions: function.NewRegistry(mdb, blobs),
	}
	e.queues = queue.NewStore(mdb)
	e.reaper = queue.NewReaper(e.queues, cfg.ReaperInterval)
	e.purger = secret.NewPurger(e.secrets, cfg.ReaperInterval)

	logger.Info().
		Bool("in_memory", cfg.InMemory).
		Str("data_dir", cfg.DataDir).
		Str("region", cfg.Region).
		Msg("engine ready")
	return e, nil
}

// Start launches background work (the queue reaper and the secrets purger).
func (e *Engine) Start(ctx context.Context) {
	e.reaper.Start(ctx)
	e.purger.Start(ctx)
}

// Close stops background work and releases storage.
func (e *Engine) Close() error {
	e.reaper.Stop()
	e.purger.Stop()
	return e.db.Close()
}

// Config returns the engine's configuration.
func (e *Engine) Config() types.ServerConfig {
	return e.cfg
}
