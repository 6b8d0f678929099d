// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudshim/cloudshim/pkg/emuerr"
	"github.com/cloudshim/cloudshim/pkg/metadata/db"
	"github.com/cloudshim/cloudshim/pkg/types"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	mdb, err := db.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { mdb.Close() })

	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	s := NewStore(mdb)
	s.now = clock.now
	return s, clock
}

func TestCreateQueueDefaults(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	q, err := s.CreateQueue(ctx, types.QueueInfo{Name: "jobs"})
	require.NoError(t, err)
	assert.EqualValues(t, 30, q.VisibilityTimeout)
	assert.EqualValues(t, 345600, q.Retention)
	assert.False(t, q.IsFIFO)

	_, err = s.CreateQueue(ctx, types.QueueInfo{Name: "jobs"})
	assert.Equal(t, emuerr.KindAlreadyExists, emuerr.KindOf(err))

	fifo, err := s.CreateQueue(ctx, types.QueueInfo{Name: "orders.fifo"})
	require.NoError(t, err)
	assert.True(t, fifo.IsFIFO)
}

func TestCreateQueueValidatesDLQTarget(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateQueue(ctx, types.QueueInfo{Name: "jobs", DLQTarget: "missing"})
	assert.Equal(t, emuerr.KindValidation, emuerr.KindOf(err))
}

func TestSendReceiveDelete(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateQueue(ctx, types.QueueInfo{Name: "jobs", VisibilityTimeout: 10})
	require.NoError(t, err)

	sent, err := s.SendMessage(ctx, "jobs", SendParams{Body: "work", Attributes: map[string]string{"k": "v"}})
	require.NoError(t, err)
	require.NotEmpty(t, sent.ID)

	msgs, err := s.ReceiveMessage(ctx, "jobs", ReceiveParams{MaxMessages: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	got := msgs[0]
	assert.Equal(t, "work", got.Body)
	assert.Equal(t, map[string]string{"k": "v"}, got.Attributes)
	assert.EqualValues(t, 1, got.ReceiveCount)
	require.NotEmpty(t, got.ReceiptToken)

	// In flight: a second receive sees nothing.
	again, err := s.ReceiveMessage(ctx, "jobs", ReceiveParams{})
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, s.DeleteMessage(ctx, "jobs", got.ReceiptToken))

	clock.advance(time.Minute)
	after, err := s.ReceiveMessage(ctx, "jobs", ReceiveParams{})
	require.NoError(t, err)
	assert.Empty(t, after)
}

func TestVisibilityLapseRotatesReceipt(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateQueue(ctx, types.QueueInfo{Name: "jobs", VisibilityTimeout: 5})
	require.NoError(t, err)
	_, err = s.SendMessage(ctx, "jobs", SendParams{Body: "work"})
	require.NoError(t, err)

	first, err := s.ReceiveMessage(ctx, "jobs", ReceiveParams{})
	require.NoError(t, err)
	require.Len(t, first, 1)

	clock.advance(6 * time.Second)

	second, err := s.ReceiveMessage(ctx, "jobs", ReceiveParams{})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.EqualValues(t, 2, second[0].ReceiveCount)
	assert.NotEqual(t, first[0].ReceiptToken, second[0].ReceiptToken)

	// The superseded token no longer deletes.
	err = s.DeleteMessage(ctx, "jobs", first[0].ReceiptToken)
	assert.Equal(t, emuerr.KindPreconditionFailed, emuerr.KindOf(err))

	require.NoError(t, s.DeleteMessage(ctx, "jobs", second[0].ReceiptToken))
}

func TestDeleteAfterVisibilityLapseFails(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateQueue(ctx, types.QueueInfo{Name: "jobs", VisibilityTimeout: 5})
	require.NoError(t, err)
	_, err = s.SendMessage(ctx, "jobs", SendParams{Body: "work"})
	require.NoError(t, err)

	msgs, err := s.ReceiveMessage(ctx, "jobs", ReceiveParams{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	clock.advance(10 * time.Second)
	err = s.DeleteMessage(ctx, "jobs", msgs[0].ReceiptToken)
	assert.Equal(t, emuerr.KindPreconditionFailed, emuerr.KindOf(err))
}

func TestChangeMessageVisibility(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateQueue(ctx, types.QueueInfo{Name: "jobs", VisibilityTimeout: 30})
	require.NoError(t, err)
	_, err = s.SendMessage(ctx, "jobs", SendParams{Body: "work"})
	require.NoError(t, err)

	msgs, err := s.ReceiveMessage(ctx, "jobs", ReceiveParams{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// Zero timeout returns the message to the queue immediately.
	require.NoError(t, s.ChangeMessageVisibility(ctx, "jobs", msgs[0].ReceiptToken, 0))
	clock.advance(time.Millisecond)

	again, err := s.ReceiveMessage(ctx, "jobs", ReceiveParams{})
	require.NoError(t, err)
	assert.Len(t, again, 1)

	err = s.ChangeMessageVisibility(ctx, "jobs", "bogus", 10)
	assert.Equal(t, emuerr.KindPreconditionFailed, emuerr.KindOf(err))
}

func TestDelaySeconds(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateQueue(ctx, types.QueueInfo{Name: "jobs"})
	require.NoError(t, err)
	_, err = s.SendMessage(ctx, "jobs", SendParams{Body: "later", DelaySeconds: 30})
	require.NoError(t, err)

	msgs, err := s.ReceiveMessage(ctx, "jobs", ReceiveParams{})
	require.NoError(t, err)
	assert.Empty(t, msgs)

	clock.advance(31 * time.Second)
	msgs, err = s.ReceiveMessage(ctx, "jobs", ReceiveParams{})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestFIFODeduplication(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateQueue(ctx, types.QueueInfo{Name: "orders.fifo"})
	require.NoError(t, err)

	_, err = s.SendMessage(ctx, "orders.fifo", SendParams{Body: "a"})
	assert.Equal(t, emuerr.KindValidation, emuerr.KindOf(err))

	first, err := s.SendMessage(ctx, "orders.fifo", SendParams{Body: "a", DedupID: "d1"})
	require.NoError(t, err)

	dup, err := s.SendMessage(ctx, "orders.fifo", SendParams{Body: "ignored", DedupID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, dup.ID)

	// Outside the window the same id enqueues a fresh message.
	clock.advance(6 * time.Minute)
	fresh, err := s.SendMessage(ctx, "orders.fifo", SendParams{Body: "b", DedupID: "d1"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, fresh.ID)

	msgs, err := s.ReceiveMessage(ctx, "orders.fifo", ReceiveParams{MaxMessages: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Body)
	assert.Equal(t, "b", msgs[1].Body)
}

func TestReceiveOrderAndBatch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateQueue(ctx, types.QueueInfo{Name: "jobs"})
	require.NoError(t, err)
	for _, body := range []string{"one", "two", "three"} {
		_, err := s.SendMessage(ctx, "jobs", SendParams{Body: body})
		require.NoError(t, err)
	}

	msgs, err := s.ReceiveMessage(ctx, "jobs", ReceiveParams{MaxMessages: 2})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Body)
	assert.Equal(t, "two", msgs[1].Body)
}

func TestPurgeAndAttributes(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateQueue(ctx, types.QueueInfo{Name: "jobs"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.SendMessage(ctx, "jobs", SendParams{Body: "x"})
		require.NoError(t, err)
	}
	_, err = s.ReceiveMessage(ctx, "jobs", ReceiveParams{})
	require.NoError(t, err)

	_, stats, err := s.GetQueueAttributes(ctx, "jobs")
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Visible)
	assert.EqualValues(t, 1, stats.InFlight)

	require.NoError(t, s.PurgeQueue(ctx, "jobs"))
	_, stats, err = s.GetQueueAttributes(ctx, "jobs")
	require.NoError(t, err)
	assert.Zero(t, stats.Visible)
	assert.Zero(t, stats.InFlight)
}

func TestListAndDeleteQueues(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"jobs-a", "jobs-b", "other"} {
		_, err := s.CreateQueue(ctx, types.QueueInfo{Name: name})
		require.NoError(t, err)
	}

	names, err := s.ListQueues(ctx, "jobs-")
	require.NoError(t, err)
	assert.Equal(t, []string{"jobs-a", "jobs-b"}, names)

	require.NoError(t, s.DeleteQueue(ctx, "jobs-a"))
	err = s.DeleteQueue(ctx, "jobs-a")
	assert.Equal(t, emuerr.KindNotFound, emuerr.KindOf(err))

	_, err = s.SendMessage(ctx, "jobs-a", SendParams{Body: "x"})
	assert.Equal(t, emuerr.KindNotFound, emuerr.KindOf(err))
}
