package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pos-terminal/internal/config"
	"pos-terminal/internal/connectivity"
	"pos-terminal/internal/logger"
	"pos-terminal/internal/metrics"
	"pos-terminal/internal/remote"
	"pos-terminal/internal/services/offline"
	"pos-terminal/internal/storage"
)

// newQueueCommand inspects and drains the offline queue without starting
// the terminal. Do not run it against a store a live terminal is using.
func newQueueCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or drain the offline order queue",
	}
	cmd.AddCommand(newQueueListCommand(opts))
	cmd.AddCommand(newQueueSyncCommand(opts))
	return cmd
}

func newQueueListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print pending orders as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			queue, closeStore, err := openQueue(cmd.Context(), cfg, logger.NewWithWriter("pos-queue", os.Stderr))
			if err != nil {
				return err
			}
			defer closeStore()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(queue.List())
		},
	}
}

func newQueueSyncCommand(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Submit every pending order to the backend once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			log := logger.NewWithWriter("pos-queue", os.Stderr)

			queue, closeStore, err := openQueue(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			syncer := offline.NewSyncManager(queue, remote.NewClient(cfg.Remote, log), connectivity.NewMonitor(true, log), log, metrics.New())
			result := syncer.SyncPendingOrders(ctx)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d orders failed to sync", result.Failed)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up after this long")
	return cmd
}

func openQueue(ctx context.Context, cfg *config.Config, log *logger.Logger) (*offline.Queue, func(), error) {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open local storage: %w", err)
	}

	queue := offline.NewQueue(store, log, cfg.Terminal.OutletID)
	queue.Load(ctx)
	return queue, func() { store.Close() }, nil
}
