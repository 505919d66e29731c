package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"pos-terminal/internal/config"
	"pos-terminal/internal/logger"
)

// rootOptions holds global flags for all commands
type rootOptions struct {
	ConfigPath string
	Debug      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "pos",
		Short:         "Offline-tolerant restaurant POS terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !opts.Debug {
				gin.SetMode(gin.ReleaseMode)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "config.yaml", "path to the YAML config file")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "gin debug mode")

	cmd.AddCommand(newTerminalCommand(opts))
	cmd.AddCommand(newIntakeCommand(opts))
	cmd.AddCommand(newQueueCommand(opts))

	return cmd
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(log *logger.Logger, requestID string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			log.Info("graceful_shutdown", "Received shutdown signal", requestID, nil)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// serveHTTP runs server until ctx ends, then shuts it down gracefully
func serveHTTP(ctx context.Context, server *http.Server, log *logger.Logger, requestID, name string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("service_started", fmt.Sprintf("%s listening on %s", name, server.Addr), requestID, map[string]interface{}{
			"addr": server.Addr,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s server failed: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
