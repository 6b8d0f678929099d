// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/cloudshim/cloudshim/pkg/logger"
	"github.com/cloudshim/cloudshim/pkg/types"
)

// Reaper periodically sweeps queues: messages past retention are dropped,
// and in-flight messages whose visibility lapsed after too many receives are
// moved to the queue's dead-letter target. It takes the same per-queue lock
// as the message operations, so a sweep never races a receive.
type Reaper struct {
	store    *Store
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
}

// NewReaper creates a reaper over the store. Call Start to begin sweeping.
func NewReaper(store *Store, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Second
	}
	return &Reaper{
		store:    store,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called.
func (r *Reaper) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.run(ctx)
}

// Stop halts the loop and waits for the in-progress sweep to finish. Safe to
// call on a reaper that was never started.
func (r *Reaper) Stop() {
	close(r.stop)
	if r.started.Load() {
		<-r.done
	}
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				logger.Error().Err(err).Msg("queue sweep failed")
			}
		}
	}
}

// Sweep runs one pass over every queue.
func (r *Reaper) Sweep(ctx context.Context) error {
	names, err := r.store.ListQueues(ctx, "")
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := r.sweepQueue(ctx, name); err != nil {
			logger.Error().Err(err).Str("queue", name).Msg("queue sweep failed")
		}
	}
	return nil
}

func (r *Reaper) sweepQueue(ctx context.Context, name string) error {
	s := r.store
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	q, err := s.GetQueue(ctx, name)
	if err != nil {
		// Deleted between list and sweep.
		return nil
	}
	now := s.now().UnixNano()

	// Retention: drop messages older than the queue keeps them.
	cutoff := now - q.Retention*int64(time.Second)
	if _, err := s.db.Exec(ctx,
		`DELETE FROM queue_messages WHERE queue = ? AND sent_at < ?`, name, cutoff); err != nil {
		return err
	}

	// Dead-letter: in-flight messages whose visibility lapsed after the
	// receive budget is spent move to the DLQ with their receive history.
	if q.DLQTarget != "" && q.MaxReceiveCount > 0 {
		if err := r.redrive(ctx, q, now); err != nil {
			return err
		}
	}

	// Everything else that lapsed simply becomes visible again; clearing
	// the token makes the old receipt stale immediately.
	_, err = s.db.Exec(ctx, `
UPDATE queue_messages SET receipt_token = ''
WHERE queue = ? AND receipt_token != '' AND visible_at <= ?`, name, now)
	return err
}

func (r *Reaper) redrive(ctx context.Context, q *types.QueueInfo, now int64) error {
	s := r.store
	// Strictly greater: a message gets its full MaxReceiveCount receives
	// before it moves.
	rows, err := s.db.Query(ctx, `
SELECT `+messageColumns+` FROM queue_messages
WHERE queue = ? AND receipt_token != '' AND visible_at <= ? AND receive_count > ?`,
		q.Name, now, q.MaxReceiveCount)
	if err != nil {
		return err
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return err
	}

	for _, m := range msgs {
		attrs, err := encodeAttributes(m.Attributes)
		if err != nil {
			return err
		}
		// Insert and delete atomically so a failure never leaves the
		// message in both queues.
		err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO queue_messages (`+messageColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, '')`,
				q.DLQTarget, m.ID, m.Body, attrs, m.ReceiveCount, m.SentAt, now, m.DedupID); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`DELETE FROM queue_messages WHERE queue = ? AND id = ?`, q.Name, m.ID)
			return err
		})
		if err != nil {
			return err
		}
		logger.Debug().Str("queue", q.Name).Str("dlq", q.DLQTarget).
			Str("message_id", m.ID).Int64("receives", m.ReceiveCount).
			Msg("message dead-lettered")
	}
	return nil
}
