package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/streamforge/internal/actor"
	"github.com/jmylchreest/streamforge/internal/config"
	"github.com/jmylchreest/streamforge/internal/database"
	"github.com/jmylchreest/streamforge/internal/database/migrations"
	"github.com/jmylchreest/streamforge/internal/hls/playlist"
	"github.com/jmylchreest/streamforge/internal/hls/scheduler"
	internalhttp "github.com/jmylchreest/streamforge/internal/http"
	"github.com/jmylchreest/streamforge/internal/http/handlers"
	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/jmylchreest/streamforge/internal/notify"
	"github.com/jmylchreest/streamforge/internal/observability"
	"github.com/jmylchreest/streamforge/internal/pipeline"
	"github.com/jmylchreest/streamforge/internal/pipeline/shared"
	"github.com/jmylchreest/streamforge/internal/recording"
	"github.com/jmylchreest/streamforge/internal/repository"
	"github.com/jmylchreest/streamforge/internal/retention"
	"github.com/jmylchreest/streamforge/internal/startup"
	"github.com/jmylchreest/streamforge/internal/streamermgr"
	"github.com/jmylchreest/streamforge/internal/version"
	"github.com/jmylchreest/streamforge/pkg/httpclient"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streamforge server",
	Long: `Start the streamforge server: the actor runtime that watches
configured streamers for liveness, the job/pipeline executor that runs
capture and post-processing jobs, the retention sweep, and the stub
REST surface for job/pipeline introspection.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database-dsn", "streamforge.db", "Database DSN (file path for sqlite)")
	serveCmd.Flags().String("data-dir", "./data", "Base directory for job working files and output")

	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("database.dsn", serveCmd.Flags().Lookup("database-dsn"))
	viper.BindPFlag("storage.base_dir", serveCmd.Flags().Lookup("data-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	var metrics *observability.Metrics
	var promRegistry *prometheus.Registry
	if cfg.Observability.MetricsEnabled {
		promRegistry = prometheus.NewRegistry()
		metrics = observability.NewMetrics()
		metrics.Register(promRegistry)
	}
	if cfg.Observability.TracingEnabled {
		shutdownTracing, err := observability.InitTracing(context.Background(), cfg.Observability.ServiceName)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	jobRepo := repository.NewJobRepository(db.DB)
	dagStepRepo := repository.NewDagStepRepository(db.DB)
	streamerRepo := repository.NewStreamerRepository(db.DB)
	platformRepo := repository.NewPlatformConfigRepository(db.DB)
	notificationRepo := repository.NewNotificationRepository(db.DB)

	httpClientCfg := httpclient.DefaultConfig()
	httpClientCfg.Timeout = cfg.HLS.FetchTimeout
	httpClientCfg.Logger = logger
	sharedClient := httpclient.New(httpClientCfg)

	streamerMgr := streamermgr.NewManager(streamerRepo, cfg.Actors.ErrorBackoffBase, cfg.Actors.ErrorBackoffMax, logger)
	if err := streamerMgr.HydrateFromStore(context.Background()); err != nil {
		return fmt.Errorf("hydrating streamer cache: %w", err)
	}

	baseWorkDir := cfg.Storage.BaseDir
	if err := os.MkdirAll(baseWorkDir, 0o755); err != nil {
		return fmt.Errorf("creating storage base dir: %w", err)
	}

	if removed, err := startup.CleanupOrphanedWorkDirs(logger, baseWorkDir, startup.DefaultCleanupAge); err != nil {
		logger.Warn("orphaned work dir cleanup failed", slog.Any("error", err))
	} else if removed > 0 {
		logger.Info("removed orphaned job work dirs", slog.Int("count", removed))
	}
	if recovered, err := startup.RecoverInterruptedJobs(context.Background(), logger, jobRepo); err != nil {
		logger.Warn("interrupted job recovery failed", slog.Any("error", err))
	} else if recovered > 0 {
		logger.Info("recovered jobs interrupted by previous shutdown", slog.Int("count", recovered))
	}

	hlsEngine := pipeline.HLSEngineConfig{
		Monitor: playlist.MonitorConfig{
			MinInterval:           cfg.HLS.MinRefreshInterval,
			MaxInterval:           cfg.HLS.MaxRefreshInterval,
			DefaultInterval:       cfg.HLS.MinRefreshInterval,
			LiveMaxRefreshRetries: cfg.HLS.LiveMaxRefreshRetries,
			RetryDelay:            cfg.HLS.RetryDelay,
		},
		Dispatcher: scheduler.DispatcherConfig{
			DownloadConcurrency: cfg.HLS.DownloadConcurrency,
			RateLimit:           cfg.HLS.SegmentFetchRateLimit,
			BatchWindow:         cfg.HLS.SegmentBatchWindow,
			BatchMaxSize:        cfg.HLS.SegmentMaxBatchSize,
			PrefetchBufferSize:  cfg.HLS.PrefetchBufferSize,
		},
	}
	executor := pipeline.NewExecutor(jobRepo, dagStepRepo, sharedClient, hlsEngine, hostWorkerID(), 0, baseWorkDir, logger)
	executor.Metrics = metrics
	executor.Progress = shared.NewRecorder(jobRepo, logger)

	checker := recording.NewChecker(sharedClient, logger)
	handoff := recording.NewHandoff(executor, logger)

	actorCfg := actor.ConfigUpdate{
		BaseCheckInterval: cfg.Actors.BaseCheckInterval,
		OfflineCheckCount: cfg.Actors.OfflineCheckCount,
		ErrorThreshold:    cfg.Actors.ErrorThreshold,
		ErrorBackoffBase:  cfg.Actors.ErrorBackoffBase,
		ErrorBackoffMax:   cfg.Actors.ErrorBackoffMax,
		BatchWindow:       cfg.Actors.BatchWindow,
		BatchMaxSize:      cfg.Actors.BatchMaxSize,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	supervisor := actor.NewSupervisor(runCtx, actorCfg, cfg.Actors.RestartMaxAttempts, cfg.Actors.ShutdownTimeout, logger)
	supervisor.SetRestartPolicy(cfg.Actors.RestartBaseDelay, cfg.Actors.RestartMaxDelay, cfg.Actors.RestartMaxAttempts)
	supervisor.Metrics = metrics

	platforms, err := platformRepo.GetAll(context.Background())
	if err != nil {
		return fmt.Errorf("loading platform configs: %w", err)
	}
	platformHandles := make(map[models.ULID]actor.PlatformHandle, len(platforms))
	for _, p := range platforms {
		if !p.SupportsBatchCheck {
			continue
		}
		platform := p
		pa := actor.NewPlatformActor(platform, checker, actorCfg, logger, cfg.Actors.InboxSize)
		if err := supervisor.Spawn(platform.ID, func() (actor.RunnableActor, error) {
			return pa, nil
		}); err != nil {
			return fmt.Errorf("spawning platform actor %s: %w", platform.Name, err)
		}
		platformHandles[platform.ID] = pa
	}

	for _, priority := range []models.StreamerPriority{models.StreamerPriorityHigh, models.StreamerPriorityNormal, models.StreamerPriorityLow} {
		for _, s := range streamerMgr.GetByPriority(priority) {
			streamer := s
			spawnStreamerActor(supervisor, streamerRepo, checker, handoff, platformHandles, actorCfg, logger, cfg.Actors.InboxSize, &streamer)
		}
	}

	notifyService := notify.NewService(notify.Config{
		QueueSize:               cfg.Notifications.QueueSize,
		MaxRetries:              cfg.Notifications.MaxRetries,
		BaseRetryDelay:          cfg.Notifications.BaseRetryDelay,
		MaxRetryDelay:           cfg.Notifications.MaxRetryDelay,
		CircuitBreakerThreshold: cfg.Notifications.CircuitBreakerThresh,
		CircuitBreakerCooldown:  cfg.Notifications.CircuitBreakerCooldown,
	}, notificationRepo, logger)
	notifyService.Metrics = metrics
	notifyService.RegisterFactory(models.NotificationChannelWebhook, notify.NewWebhookSender(sharedClient))
	if err := notifyService.LoadChannels(context.Background()); err != nil {
		return fmt.Errorf("loading notification channels: %w", err)
	}
	notifyService.Start(runCtx)

	retentionSweep := retention.NewSweep(jobRepo, notificationRepo, cfg.Retention, logger)
	if cfg.Retention.Enabled {
		if err := retentionSweep.Start(runCtx); err != nil {
			return fmt.Errorf("starting retention sweep: %w", err)
		}
		defer retentionSweep.Stop()
	}

	executorErrs := make(chan error, 1)
	go func() {
		executorErrs <- executor.Run(runCtx)
	}()

	serverConfig := internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)
	if promRegistry != nil {
		server.MountMetrics(promRegistry)
	}

	healthHandler := handlers.NewHealthHandler(version.Version).WithDB(db.DB)
	healthHandler.Register(server.API())

	jobHandler := handlers.NewJobHandler(jobRepo)
	jobHandler.Register(server.API())

	pipelineHandler := handlers.NewPipelineHandler(jobRepo, dagStepRepo, executor)
	pipelineHandler.Register(server.API())

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-sigCtx.Done()
		logger.Info("shutdown signal received")
		cancel()
	}()

	logger.Info("starting streamforge server",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("version", version.Version),
	)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.ListenAndServe(runCtx) }()

	select {
	case err := <-serverErr:
		cancel()
		return err
	case <-runCtx.Done():
	}

	report := supervisor.Shutdown(context.Background())
	logger.Info("actor supervisor shutdown complete",
		slog.Int("total", report.Total),
		slog.Int("graceful", report.Graceful),
		slog.Int("forced", report.Forced))
	notifyService.Stop()

	select {
	case err := <-executorErrs:
		if err != nil && err != context.Canceled {
			logger.Warn("executor stopped with error", slog.Any("error", err))
		}
	case <-time.After(5 * time.Second):
	}

	if err := <-serverErr; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func spawnStreamerActor(
	supervisor *actor.Supervisor,
	streamerRepo repository.StreamerRepository,
	checker actor.StreamChecker,
	handoff actor.RecordingHandoff,
	platformHandles map[models.ULID]actor.PlatformHandle,
	cfg actor.ConfigUpdate,
	logger *slog.Logger,
	inboxSize int,
	streamer *models.Streamer,
) {
	s := streamer
	var handle actor.PlatformHandle
	if h, ok := platformHandles[s.PlatformConfigID]; ok {
		handle = h
	}
	_ = supervisor.Spawn(s.ID, func() (actor.RunnableActor, error) {
		return actor.NewStreamerActor(s, streamerRepo, checker, handoff, handle, cfg, logger, inboxSize), nil
	})
}

func hostWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return fmt.Sprintf("worker-%d", os.Getpid())
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
