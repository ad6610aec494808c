package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/urfave/cli/v2"
	"pkt.systems/pslog"

	"pipematrix/api"
	"pipematrix/events"
	"pipematrix/runner"
)

// Serve starts the HTTP server and the scheduler
func Serve(c *cli.Context) error {
	// .env is optional
	_ = godotenv.Load()

	ctx := c.Context
	log := pslog.Ctx(ctx)

	cwd, err := os.Getwd()
	if err != nil {
		return runtimeExit(errors.Wrap(err, "failed to get current directory"))
	}

	store, err := openStore(c.String(DBFlag.Name))
	if err != nil {
		return runtimeExit(err)
	}
	defer store.Close()

	projectsPath := c.String(ProjectsFlag.Name)
	if !filepath.IsAbs(projectsPath) {
		projectsPath = filepath.Join(cwd, projectsPath)
	}
	projectsConfig, err := runner.LoadProjects(projectsPath)
	if err != nil {
		log.Warn("projects config not loaded", "path", projectsPath, "err", err)
		projectsConfig = &runner.ProjectsConfig{Projects: []runner.Project{}}
	} else {
		log.Info("projects loaded", "count", len(projectsConfig.Projects))
	}

	parallel := c.Int(ParallelFlag.Name)
	broker := events.NewEventBroker(log)

	// Scheduled and API-triggered runs stop with workCtx; both are drained
	// before the store is closed
	workCtx, stopWork := context.WithCancel(ctx)
	defer stopWork()

	scheduler := runner.NewScheduler(projectsConfig, store, broker, cwd, parallel)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Start(workCtx)
	}()

	mux := http.NewServeMux()
	handlers := &api.API{
		Store:    store,
		Broker:   broker,
		Projects: projectsConfig,
		BaseDir:  cwd,
		Parallel: parallel,
		Run:      runner.RunPipeline,
		Context:  workCtx,
	}
	handlers.Routes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})

	addr := c.String(AddrFlag.Name)
	srv := &http.Server{
		Addr:              addr,
		Handler:           corsHandler.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", addr)
		serveErr <- srv.ListenAndServe()
	}()

	var serveFailure error
	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveFailure = errors.Wrap(err, "server failed")
		}
	case <-ctx.Done():
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("server shutdown", "err", err)
		}
	}

	stopWork()
	<-schedulerDone
	log.Info("waiting for in-flight runs")
	handlers.Wait()

	if serveFailure != nil {
		return runtimeExit(serveFailure)
	}
	return nil
}
