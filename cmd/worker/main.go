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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"basegraph.app/courier/common/id"
	"basegraph.app/courier/common/llm"
	"basegraph.app/courier/common/logger"
	"basegraph.app/courier/common/otel"
	"basegraph.app/courier/core/config"
	"basegraph.app/courier/core/db"
	"basegraph.app/courier/internal/audit"
	"basegraph.app/courier/internal/botfilter"
	"basegraph.app/courier/internal/brain"
	"basegraph.app/courier/internal/health"
	"basegraph.app/courier/internal/http/middleware"
	httprouter "basegraph.app/courier/internal/http/router"
	"basegraph.app/courier/internal/ledger"
	"basegraph.app/courier/internal/pipeline"
	"basegraph.app/courier/internal/platform"
	"basegraph.app/courier/internal/queue"
	"basegraph.app/courier/internal/retry"
	"basegraph.app/courier/internal/service"
	"basegraph.app/courier/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)
	logger.Setup(cfg)

	if err := run(ctx, cfg); err != nil {
		slog.ErrorContext(ctx, "worker failed", "error", err)
		shutdownTelemetry(ctx, telemetry, cfg.Pipeline.ShutdownTimeout)
		os.Exit(1)
	}
	shutdownTelemetry(ctx, telemetry, cfg.Pipeline.ShutdownTimeout)
}

func run(ctx context.Context, cfg config.Config) error {
	if err := id.Init(cfg.NodeID); err != nil {
		return fmt.Errorf("initializing id generator: %w", err)
	}
	owner := "w" + id.NewString()

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "courier.worker"})
	slog.InfoContext(ctx, "courier worker starting",
		"env", cfg.Env,
		"platform", cfg.Platform.Kind,
		"queue_dir", cfg.Queue.Dir,
		"owner", owner)

	if !cfg.Reasoner.Enabled() {
		return errors.New("REASONER_LLM_API_KEY and a supported REASONER_LLM_PROVIDER are required")
	}

	var redisClient *redis.Client
	if cfg.Platform.Kind == "stream" || cfg.Redis.StatusStreamEnabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parsing redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		slog.InfoContext(ctx, "redis connected")
	}

	monitor := health.NewMonitor(health.Config{
		Window:             cfg.Health.Window,
		MinSamples:         cfg.Health.MinSamples,
		ErrorRateThreshold: cfg.Health.ErrorRateThreshold,
		BacklogThreshold:   cfg.Health.BacklogThreshold,
		Queue:              cfg.Queue.Dir,
	})
	defer monitor.Close()

	opts := []queue.Option{
		queue.WithBreaker(monitor),
		queue.WithCorruptionHandler(func(ctx context.Context, name string, cause error) {
			monitor.RecordQuarantine(ctx, 1)
		}),
	}
	if redisClient != nil && cfg.Redis.StatusStreamEnabled {
		opts = append(opts, queue.WithPublisher(
			queue.NewRedisPublisher(redisClient, cfg.Redis.StatusStreamPrefix, cfg.Redis.StatusStreamMaxLen)))
	}

	queueStore, err := queue.New(queue.Config{
		Dir:         cfg.Queue.Dir,
		Owner:       owner,
		RepairGrace: cfg.Queue.RepairGrace,
	}, opts...)
	if err != nil {
		return fmt.Errorf("opening queue: %w", err)
	}
	monitor.AttachQueue(queueStore)

	seen, err := ledger.Open(ctx, cfg.Ledger.DSN)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer seen.Close()

	notes, err := store.OpenNotes(ctx, cfg.Queue.NotesPath)
	if err != nil {
		return fmt.Errorf("opening notes: %w", err)
	}
	defer notes.Close()

	sinks, closeSinks, err := auditSinks(ctx, cfg, queueStore.AuditDir())
	if err != nil {
		return err
	}
	defer closeSinks()

	client, err := platform.New(cfg, redisClient)
	if err != nil {
		return fmt.Errorf("creating platform client: %w", err)
	}

	llmClient, err := llm.New(llm.Config{
		Provider:        cfg.Reasoner.Provider,
		APIKey:          cfg.Reasoner.APIKey,
		BaseURL:         cfg.Reasoner.BaseURL,
		Model:           cfg.Reasoner.Model,
		ReasoningEffort: llm.ReasoningEffort(cfg.Reasoner.ReasoningEffort),
	})
	if err != nil {
		return fmt.Errorf("creating llm client: %w", err)
	}

	reasoner, err := brain.NewLLMReasoner(llmClient, notes, brain.ReasonerConfig{
		SelfHandle: cfg.Context.SelfHandle,
		MaxTokens:  cfg.Reasoner.MaxTokens,
		Timeout:    cfg.Reasoner.Timeout,
	})
	if err != nil {
		return fmt.Errorf("creating reasoner: %w", err)
	}

	bots, err := botfilter.Load(cfg.Context.KnownBots, cfg.Context.KnownBotsFile)
	if err != nil {
		return err
	}

	driver, err := pipeline.New(pipeline.Config{
		PriorityAuthors: cfg.Queue.PriorityAuthors,
		PollInterval:    cfg.Pipeline.PollInterval,
		RepairInterval:  cfg.Health.RepairInterval,
		ReclaimInterval: cfg.Pipeline.ReclaimInterval,
		PruneInterval:   cfg.Pipeline.PruneInterval,
		LedgerRetention: cfg.Ledger.Retention,
		Workers:         cfg.Pipeline.Workers,
		WatchQueue:      cfg.Pipeline.WatchQueue,
		Retry: retry.Policy{
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			MaxAttempts: cfg.Retry.MaxAttempts,
		},
	}, pipeline.Deps{
		Queue:    queueStore,
		Ledger:   seen,
		Monitor:  monitor,
		Platform: client,
		Builder: brain.NewContextBuilder(brain.ContextConfig{
			MaxDepth:    cfg.Context.MaxDepth,
			MaxChars:    cfg.Context.MaxChars,
			StopCommand: cfg.Context.StopCommand,
		}),
		Reasoner: reasoner,
		Executor: brain.NewActionExecutor(client, queueStore, notes),
		Bots:     bots,
		Audit:    sinks,
	})
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	admin := service.NewAdminService(queueStore, seen, monitor, driver)
	server := &http.Server{
		Addr:              ":" + cfg.Admin.Port,
		Handler:           adminRouter(cfg, admin),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		slog.InfoContext(ctx, "admin server starting", "port", cfg.Admin.Port, "known_bots", bots.Len())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin server: %w", err)
		}
	}()
	go func() {
		errCh <- driver.Run(runCtx)
	}()

	var runErr error
	select {
	case <-runCtx.Done():
		slog.InfoContext(ctx, "shutting down worker...")
	case runErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Pipeline.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "admin server shutdown error", "error", err)
	}

	if runErr == nil {
		// wait for the driver; the record in progress finishes first
		select {
		case runErr = <-errCh:
		case <-shutdownCtx.Done():
			slog.WarnContext(ctx, "shutdown timeout exceeded")
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
	return runErr
}

func auditSinks(ctx context.Context, cfg config.Config, dir string) (audit.Sink, func(), error) {
	fileSink, err := audit.NewFileSink(dir)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Audit.Postgres {
		return fileSink, func() {}, nil
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	pgSink, err := audit.NewPostgresSink(ctx, database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("creating postgres audit sink: %w", err)
	}
	slog.InfoContext(ctx, "postgres audit sink enabled")
	return audit.Multi{fileSink, pgSink}, database.Close, nil
}

func adminRouter(cfg config.Config, admin service.AdminService) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger("courier.admin"))

	httprouter.SetupAdminRoutes(router, admin, cfg.Admin.APIKey)
	return router
}

func shutdownTelemetry(ctx context.Context, telemetry *otel.Telemetry, timeout time.Duration) {
	if telemetry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := telemetry.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "otel shutdown error", "error", err)
	}
}

const banner = `
 ██████╗ ██████╗ ██╗   ██╗██████╗ ██╗███████╗██████╗     ██╗    ██╗ ██████╗ ██████╗ ██╗  ██╗███████╗██████╗
██╔════╝██╔═══██╗██║   ██║██╔══██╗██║██╔════╝██╔══██╗    ██║    ██║██╔═══██╗██╔══██╗██║ ██╔╝██╔════╝██╔══██╗
██║     ██║   ██║██║   ██║██████╔╝██║█████╗  ██████╔╝    ██║ █╗ ██║██║   ██║██████╔╝█████╔╝ █████╗  ██████╔╝
██║     ██║   ██║██║   ██║██╔══██╗██║██╔══╝  ██╔══██╗    ██║███╗██║██║   ██║██╔══██╗██╔═██╗ ██╔══╝  ██╔══██╗
╚██████╗╚██████╔╝╚██████╔╝██║  ██║██║███████╗██║  ██║    ╚███╔███╔╝╚██████╔╝██║  ██║██║  ██╗███████╗██║  ██║
 ╚═════╝ ╚═════╝  ╚═════╝ ╚═╝  ╚═╝╚═╝╚══════╝╚═╝  ╚═╝     ╚══╝╚══╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`
