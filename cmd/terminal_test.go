package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-terminal/internal/config"
	"pos-terminal/internal/connectivity"
	"pos-terminal/internal/logger"
	"pos-terminal/internal/models"
	"pos-terminal/internal/services/offline"
	"pos-terminal/internal/services/realtime"
	"pos-terminal/internal/storage"
)

var errUnreachable = errors.New("connection refused")

type switchableTransport struct {
	healthy atomic.Bool
	dials   atomic.Int32
}

func (s *switchableTransport) Dial(context.Context, realtime.Handshake) (realtime.Session, error) {
	s.dials.Add(1)
	if !s.healthy.Load() {
		return nil, errUnreachable
	}
	return &idleSession{msgs: make(chan realtime.Message)}, nil
}

type idleSession struct {
	msgs chan realtime.Message
	once sync.Once
}

func (s *idleSession) Messages() <-chan realtime.Message { return s.msgs }

func (s *idleSession) Subscribe(...string) error { return nil }

func (s *idleSession) Publish(context.Context, realtime.Message) error { return nil }

func (s *idleSession) Close() error {
	s.once.Do(func() { close(s.msgs) })
	return nil
}

type switchableBackend struct {
	healthy   atomic.Bool
	submitted atomic.Int32
}

func (b *switchableBackend) Ping(context.Context) error {
	if !b.healthy.Load() {
		return errUnreachable
	}
	return nil
}

func (b *switchableBackend) SubmitOrder(_ context.Context, o models.Order, key string) (*models.AcceptedOrder, error) {
	if !b.healthy.Load() {
		return nil, errUnreachable
	}
	b.submitted.Add(1)
	return &models.AcceptedOrder{ID: "ORD_1", ClientRef: key, Total: o.Total}, nil
}

func TestWireConnectivity_RecoversAfterHubGivesUp(t *testing.T) {
	log := logger.Nop()
	cfg := config.Default()
	cfg.Terminal.OutletID = "outlet-1"
	cfg.Terminal.StaffID = "staff-1"
	cfg.Realtime.RetryAfter = 20 * time.Millisecond
	cfg.Connectivity.ProbeInterval = 10 * time.Millisecond

	queue := offline.NewQueue(storage.NewMemoryStore(), log, "outlet-1")
	queue.AddPendingOrder(models.Order{ClientRef: "ref-1", Items: []models.LineItem{{ID: "item-1", Name: "Burger", Price: 10, Quantity: 1}}})

	backend := &switchableBackend{}
	transport := &switchableTransport{}
	monitor := connectivity.NewMonitor(false, log)
	syncer := offline.NewSyncManager(queue, backend, monitor, log, nil)
	monitor.Subscribe(syncer.HandleConnectivity)

	hub := realtime.NewHub(transport, realtime.Options{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	}, log, nil)
	var failures atomic.Int32
	hub.On(realtime.EventConnection, func(ev realtime.Event) error {
		if ev.Connection != nil && ev.Connection.Status == realtime.StatusFailed {
			failures.Add(1)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		hub.Cleanup()
		syncer.Wait()
	}()

	wireConnectivity(ctx, hub, monitor, backend, cfg, log)
	hub.Connect("outlet-1", "staff-1")

	require.Eventually(t, func() bool { return failures.Load() >= 1 }, 2*time.Second, time.Millisecond)
	assert.False(t, monitor.Online())
	assert.Equal(t, 1, queue.Len())

	backend.healthy.Store(true)
	transport.healthy.Store(true)

	require.Eventually(t, monitor.Online, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return queue.Len() == 0 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), backend.submitted.Load())
	require.Eventually(t, func() bool { return hub.State() == realtime.StateConnected }, 2*time.Second, time.Millisecond)
}

func TestWireConnectivity_HubLossDoesNotGoOffline(t *testing.T) {
	log := logger.Nop()
	cfg := config.Default()
	cfg.Terminal.OutletID = "outlet-1"
	cfg.Terminal.StaffID = "staff-1"
	cfg.Realtime.RetryAfter = time.Hour
	cfg.Connectivity.ProbeInterval = 10 * time.Millisecond

	backend := &switchableBackend{}
	backend.healthy.Store(true)
	monitor := connectivity.NewMonitor(true, log)
	hub := realtime.NewHub(&switchableTransport{}, realtime.Options{
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
	}, log, nil)

	var failed atomic.Bool
	hub.On(realtime.EventConnection, func(ev realtime.Event) error {
		if ev.Connection != nil && ev.Connection.Status == realtime.StatusFailed {
			failed.Store(true)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		hub.Cleanup()
	}()

	wireConnectivity(ctx, hub, monitor, backend, cfg, log)
	hub.Connect("outlet-1", "staff-1")

	require.Eventually(t, failed.Load, 2*time.Second, time.Millisecond)
	assert.True(t, monitor.Online(), "a reachable order service keeps the terminal online")
}
