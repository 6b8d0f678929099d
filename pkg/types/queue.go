// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package types

// QueueInfo represents queue configuration.
type QueueInfo struct {
	Name string `json:"name"`

	// VisibilityTimeout is how long a received message stays hidden, seconds.
	VisibilityTimeout int64 `json:"visibility_timeout"`

	// Retention is how long an undeleted message is kept, seconds.
	Retention int64 `json:"retention"`

	// MaxReceiveCount: once a message has been received this many times and
	// its visibility lapses again, it moves to the DLQ target. Zero disables
	// dead-lettering.
	MaxReceiveCount int64 `json:"max_receive_count,omitempty"`

	// DLQTarget is the dead-letter queue name, empty for none.
	DLQTarget string `json:"dlq_target,omitempty"`

	IsFIFO    bool  `json:"is_fifo,omitempty"`
	CreatedAt int64 `json:"created_at"`
}

// Message is a queue message. State is derived: a message is in flight while
// VisibleAt is in the future.
type Message struct {
	Queue string `json:"queue"`
	ID    string `json:"id"`

	Body       string            `json:"body"`
	Attributes map[string]string `json:"attributes,omitempty"`

	ReceiveCount int64 `json:"receive_count"`
	SentAt       int64 `json:"sent_at"`     // Unix nanoseconds
	VisibleAt    int64 `json:"visible_at"`  // Unix nanoseconds

	// DedupID is set for FIFO sends; duplicate ids within the dedup window
	// collapse to the first message.
	DedupID string `json:"dedup_id,omitempty"`

	// ReceiptToken rotates on every receive; delete and visibility changes
	// must present the latest token.
	ReceiptToken string `json:"receipt_token,omitempty"`
}
