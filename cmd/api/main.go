package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/taskmarket/backend/internal/auth"
	"github.com/taskmarket/backend/internal/categories"
	"github.com/taskmarket/backend/internal/config"
	"github.com/taskmarket/backend/internal/dashboard"
	"github.com/taskmarket/backend/internal/database"
	"github.com/taskmarket/backend/internal/draft"
	"github.com/taskmarket/backend/internal/execution"
	"github.com/taskmarket/backend/internal/handlers"
	"github.com/taskmarket/backend/internal/ledger"
	"github.com/taskmarket/backend/internal/lifecycle"
	"github.com/taskmarket/backend/internal/messaging"
	"github.com/taskmarket/backend/internal/places"
	"github.com/taskmarket/backend/internal/realtime"
	"github.com/taskmarket/backend/internal/repository"
	"github.com/taskmarket/backend/internal/router"
	"github.com/taskmarket/backend/internal/services"
	"github.com/taskmarket/backend/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.Database.URL)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker compose up -d", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := database.Migrate(ctx, pool); err != nil {
		slog.Error("Migrations failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Cannot reach redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}

	files, err := storage.NewFSStore(cfg.Storage.Dir, cfg.Storage.PublicURL,
		storage.BucketTaskPhotos, storage.BucketAvatars, storage.BucketMessageAttachments)
	if err != nil {
		slog.Error("Failed to prepare storage buckets", "dir", cfg.Storage.Dir, "error", err)
		os.Exit(1)
	}

	validator, err := services.NewValidator()
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}

	// Repositories
	profileRepo := repository.NewProfileRepo(pool)
	taskRepo := repository.NewTaskRepo(pool)
	offerRepo := repository.NewOfferRepo(pool)
	messageRepo := repository.NewMessageRepo(pool)

	// Ledger
	ledgerSvc := ledger.NewService(pool, ledger.NewRepository(pool), ledger.Options{
		HoldPeriod:            cfg.Ledger.HoldPeriod,
		CommissionRatePercent: cfg.Ledger.CommissionRatePercent,
		Logger:                logger,
	})

	// River: rollup recomputes and periodic earnings promotion
	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers:      execution.NewWorkers(ledgerSvc, logger),
		PeriodicJobs: execution.PeriodicJobs(cfg.Ledger.PromoteInterval),
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	enqueuer := execution.NewEnqueuer(func(ctx context.Context, tx pgx.Tx, args river.JobArgs, opts *river.InsertOpts) error {
		_, err := riverClient.InsertTx(ctx, tx, args, opts)
		return err
	})

	controller := lifecycle.NewController(pool, taskRepo, offerRepo, ledgerSvc, enqueuer, logger)
	hub := realtime.NewHub(rdb, logger)

	// Auth & handlers
	authSvc := auth.NewService(profileRepo, cfg.JWT.Secret, cfg.JWT.TokenDuration)
	apiV1 := router.New(router.Handlers{
		Auth:       auth.NewHandler(authSvc, validator, logger),
		Categories: categories.NewHandler(categories.NewService(categories.NewRepository(pool)), validator, logger),
		Dashboard:  dashboard.NewHandler(profileRepo, taskRepo, offerRepo, ledgerSvc, files, validator, logger),
		Messaging:  messaging.NewHandler(messaging.NewService(messageRepo, taskRepo, files, hub, logger), validator, logger),
		Places:     places.NewHandler(places.NewClient(cfg.Places.APIURL, cfg.Places.APIKey, logger)),
		Hub:        hub,
	}, authSvc, pool)

	th := &handlers.TaskHandler{
		Tasks:     taskRepo,
		Offers:    offerRepo,
		Lifecycle: controller,
		Drafts:    draft.NewRedisStore(rdb, draft.DefaultTTL),
		Files:     files,
		Validator: validator,
		Logger:    logger,
	}
	RegisterTaskRoutes(apiV1, th, authSvc)
	apiV1.Handle("GET /storage/", http.StripPrefix("/storage/", http.FileServer(http.Dir(files.Root()))))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(apiV1)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts derive from ctx so open event streams end on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// River gets its own lifetime so in-flight jobs can drain in Stop.
	if err := riverClient.Start(context.Background()); err != nil {
		slog.Error("Failed to start River client", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown incomplete", "error", err)
		}
		if err := riverClient.Stop(shutdownCtx); err != nil {
			slog.Warn("River stop incomplete", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}
