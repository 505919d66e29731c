package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"pos-terminal/internal/config"
	"pos-terminal/internal/database"
	"pos-terminal/internal/logger"
	"pos-terminal/internal/messaging"
	"pos-terminal/internal/services/intake"
)

func newIntakeCommand(opts *rootOptions) *cobra.Command {
	var (
		port     int
		prefetch int
	)

	cmd := &cobra.Command{
		Use:   "intake",
		Short: "Run the backend order intake service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Intake.HTTPPort = port
			}

			log := logger.New("order-intake")
			requestID := logger.GenerateRequestID()
			ctx, cancel := signalContext(log, requestID)
			defer cancel()

			if err := runIntake(ctx, cfg, log, prefetch); err != nil {
				log.Error("service_failed", "Order intake failed", requestID, err, nil)
				return err
			}
			log.Info("service_stopped", "Order intake stopped gracefully", requestID, nil)
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides intake.http_port)")
	cmd.Flags().IntVar(&prefetch, "prefetch", 10, "RabbitMQ prefetch count for heartbeats")
	return cmd
}

func runIntake(ctx context.Context, cfg *config.Config, log *logger.Logger, prefetch int) error {
	requestID := logger.GenerateRequestID()

	db, err := database.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	log.Info("db_connected", "Connected to PostgreSQL database", requestID, nil)

	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	conn, err := messaging.Dial(cfg.RabbitMQURL(), log, 5)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}
	defer conn.Close()

	if err := conn.DeclareHeartbeatQueue(); err != nil {
		return fmt.Errorf("failed to declare heartbeat queue: %w", err)
	}

	log.Info("rabbitmq_connected", "Connected to RabbitMQ", requestID, nil)

	service := intake.NewService(
		intake.NewPostgresRepository(db),
		messaging.NewPublisher(conn, log),
		log,
		cfg.Intake.TaxRate,
		cfg.Intake.TerminalHeartbeat,
	)

	// Heartbeats use their own connection so a consumer reconnect never
	// races with order publishing on the shared channel.
	hbConn, err := messaging.Dial(cfg.RabbitMQURL(), log, 5)
	if err != nil {
		return fmt.Errorf("failed to open heartbeat connection: %w", err)
	}
	consumer := messaging.NewConsumer(hbConn, log, messaging.HeartbeatQueue, "order-intake", prefetch)
	defer consumer.Close()

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.StartConsuming(ctx, service.HandleHeartbeat); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("consumer_failed", "Heartbeat consumer stopped", requestID, err, nil)
		}
	}()

	handler := intake.NewHandler(service, log)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Intake.HTTPPort),
		Handler: handler.Router(),
	}
	err = serveHTTP(ctx, server, log, requestID, "Order intake")
	stop()
	<-consumerDone
	return err
}
