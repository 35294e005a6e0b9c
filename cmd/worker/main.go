package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hostelattend/internal/attendance"
	"hostelattend/internal/camera"
	"hostelattend/internal/config"
	"hostelattend/internal/queue"
	"hostelattend/internal/store"
)

// Worker drains attendance mark requests from the Redis queue into the
// ledger. It runs alongside the API when QUEUE_BACKEND=redis.
func main() {
	var configFile string
	cmd := &cobra.Command{
		Use:   "hostelattend-worker",
		Short: "Persist queued attendance marks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&configFile, "config", "", "Path to a YAML config file")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.App) error {
	log := cfg.Logger().With("process", "worker")
	if cfg.QueueBackend != "redis" {
		return fmt.Errorf("worker needs queue_backend=redis, got %q", cfg.QueueBackend)
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect failed: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Warn("redis not reachable yet, consumer will retry", "addr", cfg.RedisAddr)
	}
	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, log)

	ledger := attendance.NewService(attendance.NewRepository(db), nil, log)

	log.Info("worker started, waiting for messages", "queue", cfg.QueueKey)
	// Outcomes cannot reach a camera session in another process, so they are
	// only logged.
	err = camera.ConsumeMarks(ctx, q, ledger, nil, log)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("worker stopped")
	return nil
}
