package offline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"pos-terminal/internal/logger"
	"pos-terminal/internal/metrics"
	"pos-terminal/internal/models"
	"pos-terminal/internal/remote"
)

// Submitter sends an order to the backend. key is the idempotency key the
// backend dedupes on.
type Submitter interface {
	SubmitOrder(ctx context.Context, order models.Order, key string) (*models.AcceptedOrder, error)
}

// Connectivity reports current reachability
type Connectivity interface {
	Online() bool
}

// Reasons a sync did not run
const (
	SkipOffline    = "offline"
	SkipEmpty      = "empty"
	SkipInProgress = "in_progress"
)

// SyncResult summarises one drain
type SyncResult struct {
	Attempted int    `json:"attempted"`
	Synced    int    `json:"synced"`
	Failed    int    `json:"failed"`
	Rejected  int    `json:"rejected"`
	Remaining int    `json:"remaining"`
	Skipped   string `json:"skipped,omitempty"`
}

// SyncManager drains the Queue into the backend. At most one drain runs
// at a time per terminal.
type SyncManager struct {
	queue     *Queue
	submitter Submitter
	online    Connectivity
	logger    *logger.Logger
	metrics   *metrics.Metrics

	running atomic.Bool
	wg      sync.WaitGroup
	spawn   func(fn func())
}

func NewSyncManager(queue *Queue, submitter Submitter, online Connectivity, log *logger.Logger, m *metrics.Metrics) *SyncManager {
	return &SyncManager{
		queue:     queue,
		submitter: submitter,
		online:    online,
		logger:    log,
		metrics:   m,
		spawn:     func(fn func()) { go fn() },
	}
}

// HandleConnectivity is the connectivity transition callback. Going
// online starts a background drain; going offline does nothing.
func (m *SyncManager) HandleConnectivity(online bool) {
	if !online {
		return
	}
	m.wg.Add(1)
	m.spawn(func() {
		defer m.wg.Done()
		result := m.SyncPendingOrders(context.Background())
		if result.Skipped == "" {
			m.logger.Info("sync_on_reconnect", "Reconnect sync finished", "", map[string]interface{}{
				"synced":    result.Synced,
				"failed":    result.Failed,
				"remaining": result.Remaining,
			})
		}
	})
}

// Wait blocks until background drains started by HandleConnectivity
// have returned.
func (m *SyncManager) Wait() {
	m.wg.Wait()
}

// SyncPendingOrders submits every queued order in insertion order over a
// snapshot of the queue. Accepted orders are removed; failures are logged
// and left queued for the next reconnect. It never returns an error.
func (m *SyncManager) SyncPendingOrders(ctx context.Context) SyncResult {
	if !m.online.Online() {
		return SyncResult{Skipped: SkipOffline, Remaining: m.queue.Len()}
	}
	if m.queue.Len() == 0 {
		return SyncResult{Skipped: SkipEmpty}
	}
	if !m.running.CompareAndSwap(false, true) {
		m.logger.Debug("sync_skipped", "Sync already in progress", "", nil)
		return SyncResult{Skipped: SkipInProgress, Remaining: m.queue.Len()}
	}
	defer m.running.Store(false)

	m.metrics.SyncRun()
	requestID := logger.GenerateRequestID()
	pending := m.queue.List()
	result := SyncResult{}

	m.logger.Info("sync_started", "Syncing pending orders", requestID, map[string]interface{}{
		"count": len(pending),
	})

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			m.logger.Warn("sync_cancelled", "Sync cancelled, remaining orders stay queued", requestID, map[string]interface{}{
				"error": err.Error(),
			})
			break
		}

		result.Attempted++
		accepted, err := m.submitter.SubmitOrder(ctx, p.Order, idempotencyKey(p))
		if err != nil {
			result.Failed++
			m.metrics.SyncedOrder(false)
			fields := map[string]interface{}{
				"pending_id": p.ID,
				"client_ref": p.Order.ClientRef,
			}
			// A rejected order will be refused again on every retry.
			if errors.Is(err, remote.ErrRejected) {
				result.Rejected++
				m.metrics.SyncRejected()
				m.logger.Error("sync_order_rejected", "Backend refused pending order, it stays queued", requestID, err, fields)
				continue
			}
			m.logger.Error("sync_order_failed", "Pending order not accepted, will retry on next reconnect", requestID, err, fields)
			continue
		}

		m.queue.RemovePendingOrder(p.ID)
		result.Synced++
		m.metrics.SyncedOrder(true)

		orderID := ""
		if accepted != nil {
			orderID = accepted.ID
		}
		m.logger.Info("sync_order_accepted", "Pending order accepted by backend", requestID, map[string]interface{}{
			"pending_id": p.ID,
			"order_id":   orderID,
		})
	}

	result.Remaining = m.queue.Len()
	m.metrics.SetPendingOrders(result.Remaining)
	return result
}

// idempotencyKey prefers the order's client ref. Records queued before
// client refs existed fall back to their pending id, which is just as
// stable across retries.
func idempotencyKey(p models.PendingOrder) string {
	if p.Order.ClientRef != "" {
		return p.Order.ClientRef
	}
	return p.ID
}
