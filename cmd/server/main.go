package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-mirror/internal/api/handlers"
	"github.com/dvloznov/ledger-mirror/internal/api/middleware"
	"github.com/dvloznov/ledger-mirror/internal/app"
	"github.com/dvloznov/ledger-mirror/internal/config"
	"github.com/dvloznov/ledger-mirror/internal/jobs"
	"github.com/dvloznov/ledger-mirror/internal/jobs/inmemory"
	"github.com/dvloznov/ledger-mirror/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", envOr("LEDGER_MIRROR_CONFIG", "config.toml"), "Path to the TOML config file (or set LEDGER_MIRROR_CONFIG)")
		port       = flag.String("port", "", "HTTP server port (overrides config and PORT)")
	)
	flag.Parse()

	bootLog := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog.Fatal().Err(err).Str("config", *configPath).Msg("Failed to load config")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	log := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)
	ctx := logger.WithContext(context.Background(), log)

	a, err := app.Build(ctx, cfg, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build reconciliation engine")
	}
	defer a.Close()

	// One worker: runs are serialized, transactions within a run are not.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, 1, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobHandler := jobs.NewReconcileHandler(a.Engine, cfg.Reconcile.LookbackDays, nil)
	if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}

	webhookHandler := handlers.NewWebhookHandler(jobQueue, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, jobQueue, log)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newRouter(log, webhookHandler, jobsHandler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("port", cfg.Server.Port).
			Str("store", cfg.Store.Backend).
			Str("lock", cfg.Lock.Backend).
			Msg("Starting webhook server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let an in-flight run finish before the worker context goes away.
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}

func newRouter(log zerolog.Logger, webhookHandler *handlers.WebhookHandler, jobsHandler *handlers.JobsHandler) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/webhook", webhookHandler.HandleWebhook).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/reconcile", jobsHandler.EnqueueReconcile).Methods(http.MethodPost)
	api.HandleFunc("/jobs", jobsHandler.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		jobsHandler.GetJob(w, r, mux.Vars(r)["id"])
	}).Methods(http.MethodGet)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	}).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})

	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(r),
		),
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
