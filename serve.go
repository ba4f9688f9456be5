package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"seylanebot/internal/api"
	"seylanebot/internal/auth"
	"seylanebot/internal/pipeline"
	"seylanebot/internal/service/store"
	"seylanebot/internal/settings"
	"seylanebot/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and admin API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	basic := a.cfg.BasicConfig

	a.settings.OnChange(func(snap settings.Snapshot) {
		a.hub.Apply(ctx, snap)
	})
	if err := a.settings.Watch(ctx); err != nil {
		logger.Warn("settings watch unavailable", "error", err)
	}

	var dedupe pipeline.Deduper
	if a.cache != nil {
		dedupe = a.cache
	}
	intake := pipeline.NewIntake(a.store, a.hub, dedupe, logger.With("component", "intake"))
	orchestrator := pipeline.NewOrchestrator(a.store, a.hub, pipeline.OptionsFromConfig(basic), logger.With("component", "orchestrator"))

	var pipe *pipeline.Pipeline
	if basic.Serialize() {
		dispatcher := worker.NewDispatcher(worker.Config{
			MinWorkers:  basic.MinWorkers,
			MaxWorkers:  basic.MaxWorkers,
			QueueSize:   basic.QueueSize,
			IdleTimeout: time.Duration(basic.WorkerIdleTimeout) * time.Second,
		}, logger.With("component", "worker"))
		defer func() {
			waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := dispatcher.Wait(waitCtx); err != nil {
				logger.Warn("pending turns abandoned", "pending", dispatcher.Pending())
			}
			dispatcher.Close()
		}()
		pipe = pipeline.New(intake, orchestrator, dispatcher, logger.With("component", "pipeline"))
	} else {
		pipe = pipeline.New(intake, orchestrator, nil, logger.With("component", "pipeline"))
	}

	a.store.StartArchiver(ctx, basic.ArchiveAfter(), store.DefaultArchiveInterval, logger.With("component", "archiver"))

	authService := auth.NewService(basic.AdminToken)
	if !authService.Enabled() {
		logger.Warn("admin token not configured, admin API disabled")
	}
	handlers := api.NewHandler(a.store, a.hub, pipe, a.settings, authService, logger.With("component", "api"))

	router := gin.New()
	router.Use(gin.Recovery())
	handlers.RegisterRoutes(router)

	server := &http.Server{
		Addr:              basic.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr, "serialize", basic.Serialize())
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
