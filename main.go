package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"educare/artifact"
	"educare/config"
	"educare/db"
	ehttp "educare/http"
	"educare/lifecycle"
	"educare/logging"
	"educare/monitoring"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 1. Load config
	cfg, err := config.Load(config.Path("config.yaml"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Artifact store and optional database
	store, err := artifact.NewStore(cfg.Model.Dir, logger.Named("artifact"))
	if err != nil {
		logger.Fatal("failed to open model dir", zap.Error(err))
	}
	if err := os.MkdirAll(cfg.Model.Dir, 0o755); err != nil {
		logger.Fatal("failed to create model dir", zap.String("dir", cfg.Model.Dir), zap.Error(err))
	}

	opts := lifecycle.Options{Store: store, Logger: logger.Named("engine")}
	if cfg.Database.Enabled {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			logger.Fatal("failed to initialize database", zap.String("path", cfg.Database.Path), zap.Error(err))
		}
		defer database.Close()
		opts.Primary = database
		opts.Recorder = database
		ehttp.SetTrainingHistory(database)
		ehttp.SetStudentDirectory(database)
		logger.Info("database initialized", zap.String("path", cfg.Database.Path))
	} else {
		logger.Info("database disabled, saved predictions go to the local log",
			zap.String("path", store.PredictionsPath()))
	}

	// 3. Event hub and engine
	hub := monitoring.NewHub(logger.Named("events"), cfg.HTTP.AllowedOrigins)
	opts.Notifier = hub

	engine, err := lifecycle.New(opts)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}
	ehttp.SetEngine(engine)
	ehttp.SetEventHub(hub)
	ehttp.SetLogger(logger.Named("http"))

	// 4. Run the hub, the model dir watcher and the HTTP server until a
	// signal arrives or one of them fails
	server := ehttp.NewServer(ehttp.ServerConfig{
		Port:           cfg.HTTP.Port,
		Timeout:        cfg.HTTP.Timeout,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, logger.Named("http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if cfg.Model.Watch {
		g.Go(func() error {
			return store.Watch(gctx, engine.ArtifactChanged)
		})
	}
	g.Go(server.Start)

	// 5. Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", zap.Error(err))
	}
	logger.Info("exiting")
}
