package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"pos-terminal/internal/config"
	"pos-terminal/internal/connectivity"
	"pos-terminal/internal/logger"
	"pos-terminal/internal/messaging"
	"pos-terminal/internal/metrics"
	"pos-terminal/internal/remote"
	"pos-terminal/internal/services/checkout"
	"pos-terminal/internal/services/notification"
	"pos-terminal/internal/services/offline"
	"pos-terminal/internal/services/order"
	"pos-terminal/internal/services/realtime"
	"pos-terminal/internal/services/terminal"
	"pos-terminal/internal/storage"
)

func newTerminalCommand(opts *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "terminal",
		Short: "Run the POS terminal and its local HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Terminal.HTTPPort = port
			}
			if cfg.Terminal.OutletID == "" || cfg.Terminal.StaffID == "" {
				return fmt.Errorf("terminal.outlet_id and terminal.staff_id are required")
			}

			log := logger.New("pos-terminal")
			requestID := logger.GenerateRequestID()
			ctx, cancel := signalContext(log, requestID)
			defer cancel()

			if err := runTerminal(ctx, cfg, log); err != nil {
				log.Error("service_failed", "Terminal failed", requestID, err, nil)
				return err
			}
			log.Info("service_stopped", "Terminal stopped gracefully", requestID, nil)
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides terminal.http_port)")
	return cmd
}

func runTerminal(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	requestID := logger.GenerateRequestID()
	outletID, staffID := cfg.Terminal.OutletID, cfg.Terminal.StaffID

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open local storage: %w", err)
	}
	defer store.Close()

	m := metrics.New()

	engine := order.NewEngine(store, log, order.Options{
		OutletID: outletID,
		StaffID:  staffID,
		TaxRate:  cfg.Terminal.TaxRate,
	})
	restored := engine.Restore(ctx)

	queue := offline.NewQueue(store, log, outletID)
	pending := queue.Load(ctx)
	m.SetPendingOrders(pending)

	log.Info("terminal_restored", "Local state restored", requestID, map[string]interface{}{
		"items":          len(restored.Items),
		"pending_orders": pending,
		"storage":        cfg.Storage.Driver,
	})

	client := remote.NewClient(cfg.Remote, log)
	monitor := connectivity.NewMonitor(!cfg.Connectivity.StartOffline, log)
	syncer := offline.NewSyncManager(queue, client, monitor, log, m)
	monitor.Subscribe(syncer.HandleConnectivity)

	hub := realtime.NewHub(messaging.NewTransport(cfg.RabbitMQ, log), realtime.Options{
		Token:             cfg.RabbitMQ.Password,
		ClientType:        cfg.Realtime.ClientType,
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
		MaxAttempts:       cfg.Realtime.MaxAttempts,
		BaseDelay:         cfg.Realtime.BaseDelay,
		MaxDelay:          cfg.Realtime.MaxDelay,
		PendingCount:      queue.Len,
	}, log, m)
	notification.NewListener(log).Register(hub)

	coord := checkout.NewCoordinator(engine, client, queue, hub, monitor, log, m)

	defer func() {
		hub.Cleanup()
		syncer.Wait()
	}()
	// Cancelled before Cleanup so no re-armed Connect outlives the hub.
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	wireConnectivity(ctx, hub, monitor, client, cfg, log)
	hub.Connect(outletID, staffID)

	// Orders queued before a restart would otherwise wait for the next
	// offline to online transition.
	if pending > 0 {
		syncer.HandleConnectivity(monitor.Online())
	}

	handler := terminal.NewHandler(terminal.Deps{
		OutletID: outletID,
		StaffID:  staffID,
		Engine:   engine,
		Checkout: coord,
		Queue:    queue,
		Sync:     syncer,
		Hub:      hub,
		Online:   monitor,
		Metrics:  m,
	}, log)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Terminal.HTTPPort),
		Handler: handler.Router(),
	}
	return serveHTTP(ctx, server, log, requestID, "Terminal API")
}

// wireConnectivity makes the health probe the source of online/offline and
// lets a live hub session report online early. A hub that gave up is
// started again after RetryAfter, so a long broker outage does not leave
// the terminal without live events until a restart.
func wireConnectivity(ctx context.Context, hub *realtime.Hub, monitor *connectivity.Monitor, prober connectivity.Prober, cfg *config.Config, log *logger.Logger) {
	outletID, staffID := cfg.Terminal.OutletID, cfg.Terminal.StaffID
	retryAfter := cfg.Realtime.RetryAfter

	hub.On(realtime.EventConnection, func(ev realtime.Event) error {
		if ev.Connection == nil {
			return nil
		}
		monitor.HandleConnectionStatus(ev.Connection.Status)
		if ev.Connection.Status != realtime.StatusFailed || retryAfter <= 0 {
			return nil
		}

		log.Info("hub_rearm_scheduled", "Event hub will retry later", "", map[string]interface{}{
			"retry_after": retryAfter.String(),
		})
		go func() {
			timer := time.NewTimer(retryAfter)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
				hub.Connect(outletID, staffID)
			}
		}()
		return nil
	})

	go monitor.Watch(ctx, prober, cfg.Connectivity.ProbeInterval)
}
