// Package connectivity tracks whether the backend order service is
// reachable and tells subscribers about online/offline transitions. A
// periodic health probe is the source of truth.
package connectivity

import (
	"context"
	"sync"
	"time"

	"pos-terminal/internal/logger"
)

// Prober checks backend reachability
type Prober interface {
	Ping(ctx context.Context) error
}

// Monitor holds the reachability flag. Subscribers run only on
// transitions, in subscription order, from the goroutine calling Set.
type Monitor struct {
	notifyMu sync.Mutex

	mu          sync.RWMutex
	online      bool
	subscribers []func(online bool)

	logger *logger.Logger
}

func NewMonitor(initialOnline bool, log *logger.Logger) *Monitor {
	return &Monitor{online: initialOnline, logger: log}
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe registers fn for future transitions
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Set records the current reachability and reports whether it changed.
func (m *Monitor) Set(online bool) bool {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	subs := append([]func(bool){}, m.subscribers...)
	m.mu.Unlock()

	state := "offline"
	if online {
		state = "online"
	}
	m.logger.Info("connectivity_changed", "Terminal is "+state, "", nil)

	for _, fn := range subs {
		fn(online)
	}
	return true
}

// HandleConnectionStatus takes a live event session as evidence that the
// backend is reachable. Losing the event channel says nothing about the
// order endpoint, so only the probe moves the terminal offline.
func (m *Monitor) HandleConnectionStatus(status string) {
	if status == "connected" {
		m.Set(true)
	}
}

// Watch probes p every interval until ctx is done.
func (m *Monitor) Watch(ctx context.Context, p Prober, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.probe(ctx, p, interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx, p, interval)
		}
	}
}

func (m *Monitor) probe(ctx context.Context, p Prober, interval time.Duration) {
	probeCtx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()

	err := p.Ping(probeCtx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.logger.Debug("connectivity_probe_failed", "Backend probe failed", "", map[string]interface{}{
			"error": err.Error(),
		})
	}
	m.Set(err == nil)
}
