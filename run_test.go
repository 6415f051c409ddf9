/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ordersync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redlock "github.com/blnkfinance/ordersync/internal/lock"
	"github.com/blnkfinance/ordersync/model"
)

func TestRun_FullPipeline(t *testing.T) {
	h := newHarness(3, fakeOrder(101, 2), fakeOrder(102, 1), fakeOrder(103, 0), fakeOrder(104, 3))

	summary, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 4, summary.OrdersFetched)
	assert.Equal(t, 7, summary.RowsAppended)
	assert.Equal(t, 7, summary.RowsDistributed)
	assert.Equal(t, 7, summary.MessagesSent)
	assert.Equal(t, 0, summary.MessagesFailed)

	assert.Equal(t, int64(104), h.cursor(OrderCursorKey, 0))
	assert.Equal(t, int64(8), h.cursor(DistributionCursorKey, 1))
	assert.Equal(t, int64(4), h.cursor(NotifyCursorKey("worker 1"), 1))
	assert.Equal(t, int64(3), h.cursor(NotifyCursorKey("worker 2"), 1))
	assert.Equal(t, int64(3), h.cursor(NotifyCursorKey("worker 3"), 1))
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	h := newHarness(2, fakeOrder(1, 1), fakeOrder(2, 1), fakeOrder(3, 1))

	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	before := h.cursors.Snapshot()
	masterLen := len(h.ledgers.ledgers[masterID])
	sent := len(h.sender.sent)

	summary, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.RowsAppended)
	assert.Equal(t, 0, summary.MessagesSent)
	assert.Equal(t, before, h.cursors.Snapshot())
	assert.Len(t, h.ledgers.ledgers[masterID], masterLen)
	assert.Len(t, h.sender.sent, sent)
}

func TestRun_PicksUpOnlyNewOrders(t *testing.T) {
	h := newHarness(2, fakeOrder(1, 1), fakeOrder(2, 1))

	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	h.store.orders = append(h.store.orders, fakeOrder(3, 1), fakeOrder(4, 1), fakeOrder(5, 1))
	summary, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.OrdersFetched)
	assert.Equal(t, 3, summary.RowsDistributed)
	assert.Equal(t, 3, summary.MessagesSent)

	// 2 rows then 3 rows over two workers: {1,1} then {2,1}
	assert.Len(t, h.ledgers.data("sheet-1"), 3)
	assert.Len(t, h.ledgers.data("sheet-2"), 2)
	assert.Equal(t, int64(6), h.cursor(DistributionCursorKey, 1))
}

func TestRun_FailureLeavesLaterCursorsUntouched(t *testing.T) {
	h := newHarness(2, fakeOrder(1, 1), fakeOrder(2, 1))
	h.ledgers.failAppend["sheet-1"] = 1

	_, err := h.pipeline.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "distribute:")

	assert.Equal(t, int64(2), h.cursor(OrderCursorKey, 0))
	assert.Equal(t, int64(1), h.cursor(DistributionCursorKey, 1))
	assert.Equal(t, 0, h.sender.calls)

	// nothing new upstream, so the next run stops after ingest
	delete(h.ledgers.failAppend, "sheet-1")
	summary, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.RowsAppended)
	assert.Equal(t, int64(1), h.cursor(DistributionCursorKey, 1))

	// a direct distribution run catches up
	n, err := h.pipeline.DistributeNewRows(context.Background(), 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRun_IngestFailure(t *testing.T) {
	h := newHarness(1, fakeOrder(1, 1), fakeOrder(2, 1), fakeOrder(3, 1))
	h.store.perPage = 1
	h.store.failPage = 3

	summary, err := h.pipeline.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "ingest:")
	assert.Equal(t, 0, summary.RowsAppended)
	assert.Empty(t, h.cursors.Snapshot())
	assert.Empty(t, h.ledgers.ledgers)
}

func TestRun_LockHeldSkips(t *testing.T) {
	h := newHarness(1, fakeOrder(1, 1))
	locker := &fakeLocker{err: fmt.Errorf("key ordersync:pipeline: %w", redlock.ErrLockHeld)}
	h.pipeline.WithLocker(locker)

	summary, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Skipped)
	assert.Empty(t, h.store.calls)
	assert.False(t, locker.unlocked)
}

func TestRun_LockErrorFails(t *testing.T) {
	h := newHarness(1, fakeOrder(1, 1))
	h.pipeline.WithLocker(&fakeLocker{err: errors.New("connection refused")})

	_, err := h.pipeline.Run(context.Background())
	assert.ErrorContains(t, err, "failed to acquire run lock")
	assert.Empty(t, h.store.calls)
}

func TestRun_ReleasesLock(t *testing.T) {
	h := newHarness(1, fakeOrder(1, 1))
	locker := &fakeLocker{}
	h.pipeline.WithLocker(locker)

	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, locker.locked)
	assert.True(t, locker.unlocked)
}

const testRunLockKey = "ordersync:pipeline"

func newLockedHarness(t *testing.T, orders ...model.Order) (*harness, *miniredis.Miniredis, redis.UniversalClient) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	h := newHarness(1, orders...)
	h.pipeline.WithLocker(redlock.NewRunLocker(client, testRunLockKey))
	h.pipeline.renewEvery = 5 * time.Millisecond
	return h, mr, client
}

func TestRun_RenewsLockWhileRunning(t *testing.T) {
	h, mr, client := newLockedHarness(t, fakeOrder(1, 1), fakeOrder(2, 1))

	// Each send outlasts the 60s lock ttl. Without renewal a second holder gets in.
	var contenders []error
	h.sender.onSend = func() {
		for i := 0; i < 3; i++ {
			mr.FastForward(40 * time.Second)
			time.Sleep(50 * time.Millisecond)
		}
		contenders = append(contenders, redlock.NewRunLocker(client, testRunLockKey).Lock(context.Background(), time.Minute))
	}

	summary, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.MessagesSent)

	require.Len(t, contenders, 2)
	for _, err := range contenders {
		assert.ErrorIs(t, err, redlock.ErrLockHeld)
	}
	assert.False(t, mr.Exists(testRunLockKey))
}

func TestRun_LostLockCancelsRun(t *testing.T) {
	h, mr, _ := newLockedHarness(t, fakeOrder(1, 1), fakeOrder(2, 1))
	h.pipeline.sleep = sleepContext

	h.sender.onSend = func() {
		if h.sender.calls == 1 {
			mr.Del(testRunLockKey)
			time.Sleep(50 * time.Millisecond)
		}
	}

	_, err := h.pipeline.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunLockLost)
	assert.ErrorContains(t, err, "notify:")
	assert.Equal(t, 1, h.sender.calls)
	assert.Equal(t, int64(1), h.cursor(NotifyCursorKey("worker 1"), 1))
}

func TestExclusive_LockHeld(t *testing.T) {
	h := newHarness(1)
	h.pipeline.WithLocker(&fakeLocker{err: fmt.Errorf("key %s: %w", testRunLockKey, redlock.ErrLockHeld)})

	called := false
	err := h.pipeline.Exclusive(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, redlock.ErrLockHeld)
	assert.False(t, called)
}

func TestExclusive_WithoutLocker(t *testing.T) {
	h := newHarness(1)

	called := false
	err := h.pipeline.Exclusive(context.Background(), func(context.Context) error {
		called = true
		return errors.New("stage failed")
	})
	assert.EqualError(t, err, "stage failed")
	assert.True(t, called)
}

func TestCursorSnapshot(t *testing.T) {
	h := newHarness(2)
	require.NoError(t, h.cursors.Write(context.Background(), OrderCursorKey, 42))

	values, err := h.pipeline.CursorSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.CursorValue{
		{Key: "last_order_id", Value: 42},
		{Key: "last_distributed_row", Value: 1},
		{Key: "last_sent_row_worker1", Value: 1},
		{Key: "last_sent_row_worker2", Value: 1},
	}, values)
}
