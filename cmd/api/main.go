package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/statement-analyzer/internal/api/handlers"
	"github.com/dvloznov/statement-analyzer/internal/api/middleware"
	"github.com/dvloznov/statement-analyzer/internal/archive"
	"github.com/dvloznov/statement-analyzer/internal/config"
	infraBQ "github.com/dvloznov/statement-analyzer/internal/infra/bigquery"
	"github.com/dvloznov/statement-analyzer/internal/jobs"
	"github.com/dvloznov/statement-analyzer/internal/jobs/inmemory"
	"github.com/dvloznov/statement-analyzer/internal/logger"
	"github.com/dvloznov/statement-analyzer/internal/oracle"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
	"github.com/dvloznov/statement-analyzer/internal/progress"
	"github.com/dvloznov/statement-analyzer/internal/tasks"
)

func main() {
	cfg := config.Load()
	log := logger.NewWithLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := context.Background()

	// Oracle client
	genaiClient, err := oracle.NewGenAIClient(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create genai client")
	}
	oracleClient := oracle.NewClient(genaiClient, cfg.OracleModel)

	// Optional statement archive
	var archiver *archive.Uploader
	if cfg.GCSBucket != "" {
		storageClient, err := archive.NewStorageClient(ctx, cfg.CredentialsFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create storage client")
		}
		archiver = archive.NewUploader(storageClient, cfg.GCSBucket)
		defer archiver.Close()
	} else {
		log.Warn().Msg("No GCS bucket configured - statement archival disabled")
	}

	// Optional BigQuery result sink
	var sinks []pipeline.ResultSink
	if cfg.BigQueryProject != "" {
		bqClient, err := infraBQ.NewClient(ctx, cfg.BigQueryProject, cfg.CredentialsFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create bigquery client")
		}
		sink := infraBQ.NewSink(bqClient, cfg.BigQueryDataset)
		defer sink.Close()
		sinks = append(sinks, sink)
	} else {
		log.Warn().Msg("No BigQuery project configured - result persistence disabled")
	}

	// Task store, progress bus, pipeline
	store := tasks.NewStore(cfg.ActiveTaskTTL, cfg.TerminalTaskTTL)
	defer store.Close()
	bus := progress.NewBus(cfg.TerminalTaskTTL)

	runnerCfg := pipeline.Config{
		ExtractionChunkSize:     cfg.ExtractionChunkSize,
		CategorizationChunkSize: cfg.CategorizationChunkSize,
		MaxRetries:              cfg.OracleMaxRetries,
		MaxParallel:             cfg.MaxParallelChunks,
		StageTimeout:            cfg.StageTimeout,
	}
	runner := pipeline.NewRunner(oracleClient, oracleClient, store, bus, runnerCfg, log, sinks...)

	// Job infrastructure
	jobQueue := inmemory.NewQueue(cfg.QueueBuffer, cfg.WorkerCount)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobHandler := func(ctx context.Context, job jobs.Job) error {
		analyzeJob, ok := job.(*jobs.AnalyzeStatementJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		log.Info().
			Str("job_id", analyzeJob.JobID).
			Str("task_id", analyzeJob.TaskID).
			Str("filename", analyzeJob.Filename).
			Msg("Processing analysis job")

		_, err := runner.Process(ctx, analyzeJob.TaskID, analyzeJob.Document, analyzeJob.Password)
		if err != nil {
			log.Error().
				Err(err).
				Str("job_id", analyzeJob.JobID).
				Str("task_id", analyzeJob.TaskID).
				Msg("Pipeline execution failed")
			return err
		}

		log.Info().
			Str("job_id", analyzeJob.JobID).
			Str("task_id", analyzeJob.TaskID).
			Msg("Pipeline execution completed successfully")

		return nil
	}

	go func() {
		log.Info().Int("workers", cfg.WorkerCount).Msg("Starting job workers")
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Error().Err(err).Msg("Job workers stopped with error")
		}
	}()

	// Handlers and routing
	statementsHandler := handlers.NewStatementsHandler(store, bus, jobQueue, runner, archiver, cfg.MaxUploadBytes, log)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/statements", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			statementsHandler.Submit(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/statements/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			statementsHandler.SubmitSync(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/statements/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		rest := strings.TrimPrefix(r.URL.Path, "/api/statements/")
		switch {
		case strings.HasSuffix(rest, "/status"):
			statementsHandler.GetStatus(w, r, strings.TrimSuffix(rest, "/status"))
		case strings.HasSuffix(rest, "/events"):
			statementsHandler.StreamEvents(w, r, strings.TrimSuffix(rest, "/events"))
		default:
			middleware.WriteError(w, http.StatusNotFound, "Not found")
		}
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// RequestID runs before Logger so the access log can correlate requests.
	handler := middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(mux),
			),
		),
	)

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// SSE responses stay open until the task finishes, so no write
		// timeout here.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
