package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"hostelattend/internal/attendance"
	"hostelattend/internal/auth"
	"hostelattend/internal/camera"
	"hostelattend/internal/capture"
	"hostelattend/internal/cloudinary"
	"hostelattend/internal/config"
	"hostelattend/internal/embedding"
	"hostelattend/internal/enroll"
	"hostelattend/internal/face"
	"hostelattend/internal/handler"
	"hostelattend/internal/metrics"
	"hostelattend/internal/photos"
	"hostelattend/internal/queue"
	"hostelattend/internal/report"
	"hostelattend/internal/store"
)

func main() {
	var configFile string
	cmd := &cobra.Command{
		Use:   "hostelattend-api",
		Short: "Hostel attendance server with live face recognition",
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
	log := cfg.Logger()
	slog.SetDefault(log)
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("database ready", "dialect", db.Dialect.String())

	checks := map[string]handler.Checker{"db": db}
	var q queue.Queue
	switch cfg.QueueBackend {
	case "redis":
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		checks["redis"] = redisClient
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, log)
	default:
		q = queue.NewInMemory(64)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	engine, closeEngine, err := newEngine(cfg, log)
	if err != nil {
		return fmt.Errorf("face engine: %w", err)
	}
	defer closeEngine()
	matcher := face.NewMatcher(engine)

	embeddings, err := embedding.NewStore(cfg.EncodingsDir, log)
	if err != nil {
		return err
	}

	var mirror photos.Mirror
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		mirror = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Info("cloudinary mirror configured", "cloud", cfg.CloudinaryCloudName)
	}
	photoStore, err := photos.NewStore(cfg.UploadDir, mirror, log)
	if err != nil {
		return err
	}

	repo := attendance.NewRepository(db)
	ledger := attendance.NewService(repo, m, log)
	enroller := enroll.NewService(ledger, matcher, embeddings, photoStore, cfg.AllowedFile, log)

	cam := camera.NewManager(camera.Deps{
		Opener:     capture.NewOpener(cfg.CameraSource),
		Recognizer: matcher,
		Gallery:    embeddings,
		Names:      ledger,
		Marks:      q,
		Metrics:    m,
		Logger:     log,
		Defaults: camera.Options{
			Tolerance:      cfg.MatchTolerance,
			FrameSkip:      cfg.FrameSkip,
			MarkConfidence: cfg.MarkConfidence,
			JPEGQuality:    cfg.JPEGQuality,
		},
	})
	defer cam.Close()

	consumeCtx, stopConsume := context.WithCancel(ctx)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		if err := camera.ConsumeMarks(consumeCtx, q, ledger, cam, log); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("mark consumer stopped", "error", err)
		}
	}()
	defer func() {
		stopConsume()
		<-consumed
	}()

	h := handler.New(handler.Deps{
		Ledger:  ledger,
		Enroll:  enroller,
		Reports: report.NewService(repo),
		Camera:  cam,
		Signer:  auth.NewSigner(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.AccessTTL, cfg.RefreshTTL),
		Metrics: m,
		Checks:  checks,
		Config:  cfg,
		Logger:  log,
	})

	// No WriteTimeout: the camera feed is a long-lived response.
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler.NewRouter(h, reg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", srv.Addr, "env", cfg.Env, "auth_required", cfg.AuthRequired)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug("sd_notify failed", "error", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down server")
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Stop the camera first so stream responses end and Shutdown can finish.
	cam.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", "error", err)
	}
	log.Info("server exited")
	return nil
}
