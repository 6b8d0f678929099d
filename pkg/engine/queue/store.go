// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue implements named message queues with visibility timeouts,
// receipt tokens, FIFO deduplication, and dead-letter redrive. Message state
// is derived from timestamps: a message is in flight while visible_at is in
// the future.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/metadata/db"
	"github.com/cloudshim/cloudshim/pkg/types"
	"github.com/cloudshim/cloudshim/pkg/utils"
)

const (
	defaultVisibilityTimeout = 30
	defaultRetention         = 345600 // 4 days, seconds

	// dedupWindow is how long a FIFO deduplication id suppresses resends.
	dedupWindow = 5 * time.Minute
)

const messageColumns = `queue, id, body, attributes, receive_count, sent_at, visible_at, dedup_id, receipt_token`

// Store provides queue and message operations.
type Store struct {
	db    *db.DB
	locks *utils.KeyLock

	// now is swappable in tests.
	now func() time.Time
}

// NewStore creates a queue store.
func NewStore(mdb *db.DB) *Store {
	return &Store{db: mdb, locks: utils.NewKeyLock(), now: time.Now}
}

// CreateQueue creates a queue. Zero-valued timeouts take the defaults. A
// name ending in ".fifo" marks the queue FIFO regardless of the flag.
func (s *Store) CreateQueue(ctx context.Context, info types.QueueInfo) (*types.QueueInfo, error) {
	if info.Name == "" {
		return nil, emuerr.Validation("queue name is required")
	}
	if info.VisibilityTimeout < 0 || info.Retention < 0 || info.MaxReceiveCount < 0 {
		return nil, emuerr.Validation("queue timeouts must be non-negative")
	}
	if info.VisibilityTimeout == 0 {
		info.VisibilityTimeout = defaultVisibilityTimeout
	}
	if info.Retention == 0 {
		info.Retention = defaultRetention
	}
	if strings.HasSuffix(info.Name, ".fifo") {
		info.IsFIFO = true
	}
	if info.DLQTarget != "" {
		if _, err := s.GetQueue(ctx, info.DLQTarget); err != nil {
			return nil, emuerr.Validation("dead-letter target %s does not exist", info.DLQTarget)
		}
	}
	info.CreatedAt = s.now().UnixNano()

	s.locks.Lock(info.Name)
	defer s.locks.Unlock(info.Name)

	_, err := s.db.Exec(ctx, `
INSERT INTO queues (name, visibility_timeout, retention, max_receive_count, dlq_target, is_fifo, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		info.Name, info.VisibilityTimeout, info.Retention, info.MaxReceiveCount,
		info.DLQTarget, info.IsFIFO, info.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, emuerr.AlreadyExists("queue "+info.Name, "queue already exists")
		}
		return nil, emuerr.Internal(err, "insert queue")
	}
	return &info, nil
}

// GetQueue returns queue configuration. NotFound when missing.
func (s *Store) GetQueue(ctx context.Context, name string) (*types.QueueInfo, error) {
	info := &types.QueueInfo{}
	err := s.db.QueryRow(ctx, `
SELECT name, visibility_timeout, retention, max_receive_count, dlq_target, is_fifo, created_at
FROM queues WHERE name = ?`, name).Scan(
		&info.Name, &info.VisibilityTimeout, &info.Retention, &info.MaxReceiveCount,
		&info.DLQTarget, &info.IsFIFO, &info.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, emuerr.NotFound("queue "+name, "no such queue")
	}
	if err != nil {
		return nil, emuerr.Internal(err, "get queue")
	}
	return info, nil
}

// Stats are approximate message counts for a queue.
type Stats struct {
	Visible  int64
	InFlight int64
}

// GetQueueAttributes returns configuration plus message counts.
func (s *Store) GetQueueAttributes(ctx context.Context, name string) (*types.QueueInfo, *Stats, error) {
	s.locks.RLock(name)
	defer s.locks.RUnlock(name)

	info, err := s.GetQueue(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	now := s.now().UnixNano()
	stats := &Stats{}
	err = s.db.QueryRow(ctx, `
SELECT
	COUNT(CASE WHEN visible_at <= ? THEN 1 END),
	COUNT(CASE WHEN visible_at > ? THEN 1 END)
FROM queue_messages WHERE queue = ?`, now, now, name).Scan(&stats.Visible, &stats.InFlight)
	if err != nil {
		return nil, nil, emuerr.Internal(err, "count messages")
	}
	return info, stats, nil
}

// SetQueueAttributes updates mutable queue configuration.
func (s *Store) SetQueueAttributes(ctx context.Context, name string, visibilityTimeout, retention, maxReceiveCount int64, dlqTarget string) error {
	if visibilityTimeout < 0 || retention < 0 || maxReceiveCount < 0 {
		return emuerr.Validation("queue timeouts must be non-negative")
	}
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	res, err := s.db.Exec(ctx, `
UPDATE queues SET visibility_timeout = ?, retention = ?, max_receive_count = ?, dlq_target = ?
WHERE name = ?`, visibilityTimeout, retention, maxReceiveCount, dlqTarget, name)
	if err != nil {
		return emuerr.Internal(err, "update queue")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return emuerr.Internal(err, "update queue")
	}
	if n == 0 {
		return emuerr.NotFound("queue "+name, "no such queue")
	}
	return nil
}

// DeleteQueue removes a queue and every message in it.
func (s *Store) DeleteQueue(ctx context.Context, name string) error {
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	if _, err := s.GetQueue(ctx, name); err != nil {
		return err
	}
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue_messages WHERE queue = ?`, name); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM queues WHERE name = ?`, name)
		return err
	})
	if err != nil {
		return emuerr.Internal(err, "delete queue")
	}
	return nil
}

// ListQueues returns queue names with the given prefix, ordered.
func (s *Store) ListQueues(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT name FROM queues WHERE name LIKE ? ESCAPE '\' ORDER BY name`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, emuerr.Internal(err, "list queues")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, emuerr.Internal(err, "scan queue name")
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// PurgeQueue drops all messages, leaving the queue in place.
func (s *Store) PurgeQueue(ctx context.Context, name string) error {
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	if _, err := s.GetQueue(ctx, name); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM queue_messages WHERE queue = ?`, name); err != nil {
		return emuerr.Internal(err, "purge queue")
	}
	return nil
}

// SendParams are the inputs to SendMessage.
type SendParams struct {
	Body       string
	Attributes map[string]string

	// DelaySeconds postpones first visibility.
	DelaySeconds int64

	// DedupID enables FIFO deduplication; required for FIFO queues.
	DedupID string
}

// SendMessage enqueues a message. On a FIFO queue a duplicate DedupID inside
// the dedup window returns the original message id without enqueueing.
func (s *Store) SendMessage(ctx context.Context, queueName string, p SendParams) (*types.Message, error) {
	if p.DelaySeconds < 0 {
		return nil, emuerr.Validation("delay must be non-negative")
	}
	s.locks.Lock(queueName)
	defer s.locks.Unlock(queueName)

	q, err := s.GetQueue(ctx, queueName)
	if err != nil {
		return nil, err
	}
	if q.IsFIFO && p.DedupID == "" {
		return nil, emuerr.Validation("FIFO queue requires a deduplication id")
	}

	now := s.now()
	if q.IsFIFO {
		prior, err := s.findDuplicate(ctx, queueName, p.DedupID, now)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return prior, nil
		}
	}

	msg := &types.Message{
		Queue:      queueName,
		ID:         uuid.NewString(),
		Body:       p.Body,
		Attributes: p.Attributes,
		SentAt:     now.UnixNano(),
		VisibleAt:  now.Add(time.Duration(p.DelaySeconds) * time.Second).UnixNano(),
		DedupID:    p.DedupID,
	}
	attrs, err := encodeAttributes(p.Attributes)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO queue_messages (`+messageColumns+`)
VALUES (?, ?, ?, ?, 0, ?, ?, ?, '')`,
		msg.Queue, msg.ID, msg.Body, attrs, msg.SentAt, msg.VisibleAt, msg.DedupID)
	if err != nil {
		return nil, emuerr.Internal(err, "insert message")
	}
	return msg, nil
}

func (s *Store) findDuplicate(ctx context.Context, queueName, dedupID string, now time.Time) (*types.Message, error) {
	cutoff := now.Add(-dedupWindow).UnixNano()
	row := s.db.QueryRow(ctx, `
SELECT `+messageColumns+` FROM queue_messages
WHERE queue = ? AND dedup_id = ? AND sent_at >= ?
ORDER BY sent_at LIMIT 1`, queueName, dedupID, cutoff)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, emuerr.Internal(err, "check dedup")
	}
	return msg, nil
}

// ReceiveParams are the inputs to ReceiveMessage.
type ReceiveParams struct {
	// MaxMessages caps the batch; 1 when zero.
	MaxMessages int

	// VisibilityTimeout overrides the queue setting for this receive,
	// seconds. Zero uses the queue default.
	VisibilityTimeout int64
}

// ReceiveMessage returns up to MaxMessages visible messages in send order.
// Each returned message gets a fresh receipt token, an incremented receive
// count, and is hidden until its visibility timeout lapses.
func (s *Store) ReceiveMessage(ctx context.Context, queueName string, p ReceiveParams) ([]*types.Message, error) {
	if p.MaxMessages <= 0 {
		p.MaxMessages = 1
	}
	if p.VisibilityTimeout < 0 {
		return nil, emuerr.Validation("visibility timeout must be non-negative")
	}

	s.locks.Lock(queueName)
	defer s.locks.Unlock(queueName)

	q, err := s.GetQueue(ctx, queueName)
	if err != nil {
		return nil, err
	}
	timeout := q.VisibilityTimeout
	if p.VisibilityTimeout > 0 {
		timeout = p.VisibilityTimeout
	}

	now := s.now()
	rows, err := s.db.Query(ctx, `
SELECT `+messageColumns+` FROM queue_messages
WHERE queue = ? AND visible_at <= ?
ORDER BY sent_at, id LIMIT ?`, queueName, now.UnixNano(), p.MaxMessages)
	if err != nil {
		return nil, emuerr.Internal(err, "select messages")
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	hideUntil := now.Add(time.Duration(timeout) * time.Second).UnixNano()
	for _, m := range msgs {
		m.ReceiptToken = uuid.NewString()
		m.ReceiveCount++
		m.VisibleAt = hideUntil
		_, err := s.db.Exec(ctx, `
UPDATE queue_messages SET receipt_token = ?, receive_count = ?, visible_at = ?
WHERE queue = ? AND id = ?`,
			m.ReceiptToken, m.ReceiveCount, m.VisibleAt, queueName, m.ID)
		if err != nil {
			return nil, emuerr.Internal(err, "mark received")
		}
	}
	return msgs, nil
}

// DeleteMessage removes a message by its receipt token. The token must be
// the one issued by the most recent receive and the message must still be in
// flight; otherwise PreconditionFailed.
func (s *Store) DeleteMessage(ctx context.Context, queueName, receiptToken string) error {
	if receiptToken == "" {
		return emuerr.Validation("receipt token is required")
	}
	s.locks.Lock(queueName)
	defer s.locks.Unlock(queueName)

	if _, err := s.GetQueue(ctx, queueName); err != nil {
		return err
	}
	res, err := s.db.Exec(ctx, `
DELETE FROM queue_messages
WHERE queue = ? AND receipt_token = ? AND visible_at > ?`,
		queueName, receiptToken, s.now().UnixNano())
	if err != nil {
		return emuerr.Internal(err, "delete message")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return emuerr.Internal(err, "delete message")
	}
	if n == 0 {
		return emuerr.PreconditionFailed("queue "+queueName, "receipt token is stale or unknown")
	}
	return nil
}

// ChangeMessageVisibility moves the visibility deadline of an in-flight
// message. A zero timeout makes it immediately visible again.
func (s *Store) ChangeMessageVisibility(ctx context.Context, queueName, receiptToken string, timeout int64) error {
	if receiptToken == "" {
		return emuerr.Validation("receipt token is required")
	}
	if timeout < 0 {
		return emuerr.Validation("visibility timeout must be non-negative")
	}
	s.locks.Lock(queueName)
	defer s.locks.Unlock(queueName)

	if _, err := s.GetQueue(ctx, queueName); err != nil {
		return err
	}
	now := s.now()
	res, err := s.db.Exec(ctx, `
UPDATE queue_messages SET visible_at = ?
WHERE queue = ? AND receipt_token = ? AND visible_at > ?`,
		now.Add(time.Duration(timeout)*time.Second).UnixNano(),
		queueName, receiptToken, now.UnixNano())
	if err != nil {
		return emuerr.Internal(err, "change visibility")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return emuerr.Internal(err, "change visibility")
	}
	if n == 0 {
		return emuerr.PreconditionFailed("queue "+queueName, "receipt token is stale or unknown")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*types.Message, error) {
	m := &types.Message{}
	var attrs sql.NullString
	err := row.Scan(&m.Queue, &m.ID, &m.Body, &attrs, &m.ReceiveCount,
		&m.SentAt, &m.VisibleAt, &m.DedupID, &m.ReceiptToken)
	if err != nil {
		return nil, err
	}
	if attrs.Valid && attrs.String != "" {
		if err := json.Unmarshal([]byte(attrs.String), &m.Attributes); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func collectMessages(rows *sql.Rows) ([]*types.Message, error) {
	defer rows.Close()
	var out []*types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, emuerr.Internal(err, "scan message")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, emuerr.Internal(err, "scan messages")
	}
	return out, nil
}

func encodeAttributes(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "", nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", emuerr.Internal(err, "encode attributes")
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
