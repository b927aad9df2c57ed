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

	"github.com/crucial707/juport/internal/config"
	"github.com/crucial707/juport/internal/db"
	"github.com/crucial707/juport/internal/dispatch"
	"github.com/crucial707/juport/internal/logging"
	"github.com/crucial707/juport/internal/notebook"
	"github.com/crucial707/juport/internal/repo"
	"github.com/crucial707/juport/internal/runner"
	"github.com/crucial707/juport/internal/scheduler"
	"github.com/crucial707/juport/internal/storage"
	"github.com/crucial707/juport/internal/tasks"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "juport:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database FIRST
	database, err := db.Connect(ctx, db.Options{
		Host:         cfg.DBHost,
		Port:         cfg.DBPort,
		Name:         cfg.DBName,
		User:         cfg.DBUser,
		Password:     cfg.DBPass,
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()
	log.Info("connected to database", "host", cfg.DBHost, "name", cfg.DBName)

	if cfg.DBMigrate {
		version, err := db.Migrate(cfg.DatabaseURL())
		if err != nil {
			return err
		}
		if latest, err := db.LatestVersion(); err == nil && version != latest {
			log.Warn("database schema version differs from embedded migrations", "version", version, "latest", latest)
		}
		log.Info("database schema ready", "version", version)
	}

	executions := repo.NewExecutionRepo(database)
	if n, err := executions.FailRunning(ctx, "interrupted by server restart"); err != nil {
		return fmt.Errorf("recover executions: %w", err)
	} else if n > 0 {
		log.Warn("marked interrupted executions as failed", "count", n)
	}

	artifacts, err := storage.New(ctx, storage.Options{
		Type: storage.Type(cfg.ArtifactStorage),
		Dir:  cfg.OutputPath,
		S3: storage.S3Config{
			Bucket:   cfg.ArtifactS3Bucket,
			Region:   cfg.ArtifactS3Region,
			Endpoint: cfg.ArtifactS3Endpoint,
			Prefix:   cfg.ArtifactS3Prefix,
		},
	})
	if err != nil {
		return fmt.Errorf("artifact storage: %w", err)
	}

	notebooks, err := notebook.NewStore(cfg.NotebooksPath)
	if err != nil {
		return err
	}
	catalog := notebook.NewCatalog(notebooks, log)
	go func() {
		if err := catalog.Watch(ctx); err != nil {
			log.Warn("notebook watcher stopped; parameter cache relies on modification times", "error", err)
		}
	}()

	nbRunner := runner.New(runner.NBConvert{Path: cfg.JupyterPath}, artifacts, cfg.WorkspaceRoot, log)
	dispatcher := dispatch.New(nbRunner, executions, notebooks, log, dispatch.Options{
		MaxConcurrent: cfg.MaxConcurrentExecutions,
		Timeout:       cfg.ExecutionTimeout,
		Artifacts:     artifacts,
	})
	sched := scheduler.New(repo.NewScheduleRepo(database), dispatcher, log, cfg.SchedulerInterval)
	queue, err := tasks.NewQueue(dispatcher, notebooks, cfg.UploadsPath, log)
	if err != nil {
		return err
	}

	schedDone := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(schedDone)
	}()

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: newRouter(cfg, deps{
			DB:        database,
			Log:       log,
			Catalog:   catalog,
			Artifacts: artifacts,
			Trigger:   sched,
			Queue:     queue,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", cfg.Port, "tls", cfg.TLSCertFile != "")
		var err error
		if cfg.TLSCertFile != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var serveErr error
	select {
	case serveErr = <-errc:
		stop()
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	<-schedDone
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Warn("executions cancelled at shutdown", "error", err)
	}
	return serveErr
}
