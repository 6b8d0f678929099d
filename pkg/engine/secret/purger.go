// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/logger"
)

// Purger periodically removes secrets whose scheduled deletion time has
// passed. A soft delete only records the time; this loop executes it.
type Purger struct {
	store    *Store
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
}

// NewPurger creates a purger over the store. Call Start to begin sweeping.
func NewPurger(store *Store, interval time.Duration) *Purger {
	if interval <= 0 {
		interval = time.Second
	}
	return &Purger{
		store:    store,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the purge loop until Stop is called.
func (p *Purger) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go p.run(ctx)
}

// Stop halts the loop and waits for the in-progress pass to finish. Safe to
// call on a purger that was never started.
func (p *Purger) Stop() {
	close(p.stop)
	if p.started.Load() {
		<-p.done
	}
}

func (p *Purger) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.PurgeExpired(ctx); err != nil {
				logger.Error().Err(err).Msg("secret purge failed")
			}
		}
	}
}

// PurgeExpired deletes every secret whose recovery window has closed, along
// with its versions. A restore between passes keeps the secret alive.
func (s *Store) PurgeExpired(ctx context.Context) error {
	now := s.now().UnixNano()
	rows, err := s.db.Query(ctx,
		`SELECT name FROM secrets WHERE deleted_at > 0 AND deleted_at <= ?`, now)
	if err != nil {
		return emuerr.Internal(err, "list expired secrets")
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return emuerr.Internal(err, "scan expired secret")
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return emuerr.Internal(err, "list expired secrets")
	}

	for _, name := range names {
		s.locks.Lock(name)
		err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
			// Recheck under the lock: the secret may have been restored
			// since the scan.
			res, err := tx.ExecContext(ctx,
				`DELETE FROM secrets WHERE name = ? AND deleted_at > 0 AND deleted_at <= ?`,
				name, now)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil || n == 0 {
				return err
			}
			_, err = tx.ExecContext(ctx, `DELETE FROM secret_versions WHERE secret = ?`, name)
			return err
		})
		s.locks.Unlock(name)
		if err != nil {
			return emuerr.Internal(err, "purge secret %s", name)
		}
		logger.Debug().Str("secret", name).Msg("expired secret purged")
	}
	return nil
}
