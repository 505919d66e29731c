package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-terminal/internal/logger"
	"pos-terminal/internal/metrics"
	"pos-terminal/internal/models"
	"pos-terminal/internal/remote"
	"pos-terminal/internal/storage"
)

type fakeSubmitter struct {
	mu     sync.Mutex
	fail   map[string]bool
	reject map[string]bool
	calls  []string
	block  chan struct{}
}

func (f *fakeSubmitter) SubmitOrder(_ context.Context, order models.Order, key string) (*models.AcceptedOrder, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	if f.fail[key] {
		return nil, errors.New("connection refused")
	}
	if f.reject[key] {
		return nil, fmt.Errorf("%w: quantity out of range", remote.ErrRejected)
	}
	return &models.AcceptedOrder{ID: "srv-" + key, ClientRef: order.ClientRef}, nil
}

func (f *fakeSubmitter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeOnline struct{ online atomic.Bool }

func (f *fakeOnline) Online() bool { return f.online.Load() }

func newOnline(v bool) *fakeOnline {
	f := &fakeOnline{}
	f.online.Store(v)
	return f
}

func newQueueWith(t *testing.T, refs ...string) *Queue {
	t.Helper()
	q := NewQueue(storage.NewMemoryStore(), logger.Nop(), "outlet-1")
	q.Load(context.Background())
	for _, ref := range refs {
		q.AddPendingOrder(sampleOrder(ref, 1))
	}
	return q
}

func TestSync_DrainsInInsertionOrder(t *testing.T) {
	q := newQueueWith(t, "r1", "r2", "r3", "r4")
	sub := &fakeSubmitter{}
	m := NewSyncManager(q, sub, newOnline(true), logger.Nop(), nil)

	result := m.SyncPendingOrders(context.Background())

	assert.Equal(t, []string{"r1", "r2", "r3", "r4"}, sub.Calls())
	assert.Equal(t, SyncResult{Attempted: 4, Synced: 4}, result)
	assert.Equal(t, 0, q.Len())
}

func TestSync_FailureDoesNotBlockLaterEntries(t *testing.T) {
	q := newQueueWith(t, "r1", "r2", "r3")
	sub := &fakeSubmitter{fail: map[string]bool{"r2": true}}
	m := NewSyncManager(q, sub, newOnline(true), logger.Nop(), nil)

	result := m.SyncPendingOrders(context.Background())

	assert.Equal(t, []string{"r1", "r2", "r3"}, sub.Calls())
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Remaining)

	left := q.List()
	require.Len(t, left, 1)
	assert.Equal(t, "r2", left[0].Order.ClientRef)

	// Retrying is safe and only resubmits what is left.
	sub.fail = nil
	result = m.SyncPendingOrders(context.Background())
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 0, q.Len())
}

func TestSync_OfflineIsNoop(t *testing.T) {
	q := newQueueWith(t, "r1", "r2")
	sub := &fakeSubmitter{}
	m := NewSyncManager(q, sub, newOnline(false), logger.Nop(), nil)

	result := m.SyncPendingOrders(context.Background())

	assert.Equal(t, SkipOffline, result.Skipped)
	assert.Empty(t, sub.Calls())
	assert.Equal(t, 2, q.Len())
}

func TestSync_EmptyQueueIsNoop(t *testing.T) {
	sub := &fakeSubmitter{}
	m := NewSyncManager(newQueueWith(t), sub, newOnline(true), logger.Nop(), nil)

	result := m.SyncPendingOrders(context.Background())

	assert.Equal(t, SkipEmpty, result.Skipped)
	assert.Empty(t, sub.Calls())
}

func TestSync_SingleFlight(t *testing.T) {
	q := newQueueWith(t, "r1")
	sub := &fakeSubmitter{block: make(chan struct{})}
	m := NewSyncManager(q, sub, newOnline(true), logger.Nop(), nil)

	done := make(chan SyncResult)
	go func() { done <- m.SyncPendingOrders(context.Background()) }()

	require.Eventually(t, m.running.Load, timeout, tick)
	second := m.SyncPendingOrders(context.Background())
	assert.Equal(t, SkipInProgress, second.Skipped)

	close(sub.block)
	first := <-done
	assert.Equal(t, 1, first.Synced)
	assert.Equal(t, []string{"r1"}, sub.Calls())
}

func TestSync_CancelledContextStopsDrain(t *testing.T) {
	q := newQueueWith(t, "r1", "r2")
	sub := &fakeSubmitter{}
	m := NewSyncManager(q, sub, newOnline(true), logger.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := m.SyncPendingOrders(ctx)

	assert.Equal(t, 0, result.Attempted)
	assert.Equal(t, 2, q.Len())
}

func TestSync_LegacyRecordFallsBackToPendingID(t *testing.T) {
	q := newQueueWith(t, "")
	id := q.List()[0].ID
	sub := &fakeSubmitter{}
	m := NewSyncManager(q, sub, newOnline(true), logger.Nop(), nil)

	m.SyncPendingOrders(context.Background())

	assert.Equal(t, []string{id}, sub.Calls())
}

func TestHandleConnectivity_OnlyOnlineTriggersDrain(t *testing.T) {
	q := newQueueWith(t, "r1", "r2")
	sub := &fakeSubmitter{}
	online := newOnline(false)
	m := NewSyncManager(q, sub, online, logger.Nop(), nil)
	m.spawn = func(fn func()) { fn() }

	m.HandleConnectivity(false)
	assert.Empty(t, sub.Calls())

	online.online.Store(true)
	m.HandleConnectivity(true)
	m.Wait()

	assert.Equal(t, []string{"r1", "r2"}, sub.Calls())
	assert.Equal(t, 0, q.Len())
}

func TestHandleConnectivity_RunsInBackground(t *testing.T) {
	q := newQueueWith(t, "r1")
	sub := &fakeSubmitter{}
	m := NewSyncManager(q, sub, newOnline(true), logger.Nop(), nil)

	m.HandleConnectivity(true)
	m.Wait()

	assert.Equal(t, 0, q.Len())
}

func TestSync_RejectedOrderIsCountedAndKept(t *testing.T) {
	q := newQueueWith(t, "r1", "r2")
	sub := &fakeSubmitter{reject: map[string]bool{"r1": true}}
	m := metrics.New()
	syncer := NewSyncManager(q, sub, newOnline(true), logger.Nop(), m)

	result := syncer.SyncPendingOrders(context.Background())

	assert.Equal(t, SyncResult{Attempted: 2, Synced: 1, Failed: 1, Rejected: 1, Remaining: 1}, result)
	pending := q.List()
	require.Len(t, pending, 1)
	assert.Equal(t, "r1", pending[0].Order.ClientRef)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "pos_sync_rejected_total 1")
}
