package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/dvloznov/statement-analyzer/internal/config"
	"github.com/dvloznov/statement-analyzer/internal/extract"
	"github.com/dvloznov/statement-analyzer/internal/logger"
	"github.com/dvloznov/statement-analyzer/internal/oracle"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
	"github.com/dvloznov/statement-analyzer/internal/progress"
	"github.com/dvloznov/statement-analyzer/internal/tasks"
)

func main() {
	cfg := config.Load()
	log := logger.NewWithLevel(cfg.LogLevel)

	var (
		tablesPath string
		outPath    string
	)

	flag.StringVar(&tablesPath, "tables", "", "Path to pre-extracted tables JSON (required)")
	flag.StringVar(&outPath, "out", "", "Write the result JSON to this file (default stdout)")
	flag.Parse()

	if tablesPath == "" {
		log.Fatal().Msg("Usage: analyze -tables /path/to/tables.json [-out result.json]")
	}

	document, err := os.ReadFile(tablesPath)
	if err != nil {
		log.Fatal().Err(err).Str("file", tablesPath).Msg("Failed to read tables file")
	}

	ctx := context.Background()
	ctx = logger.WithContext(ctx, log)

	genaiClient, err := oracle.NewGenAIClient(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create genai client")
	}
	oracleClient := oracle.NewClient(genaiClient, cfg.OracleModel)

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
	runner := pipeline.NewRunner(oracleClient, extract.NewJSONTableSource(), store, bus, runnerCfg, log)

	task, err := store.Create(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create task")
	}
	log.Info().Str("task_id", task.ID).Str("tables", tablesPath).Msg("Starting analysis")

	result, err := runner.Process(ctx, task.ID, document, "")
	if err != nil {
		log.Fatal().Err(err).Msg("Analysis failed")
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode result")
	}

	if outPath != "" {
		if err := os.WriteFile(outPath, payload, 0o644); err != nil {
			log.Fatal().Err(err).Str("file", outPath).Msg("Failed to write result")
		}
		log.Info().Str("file", outPath).Msg("Result written")
		return
	}

	fmt.Println(string(payload))
}
