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

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/snsanalyzer/snsqa/internal/answer"
	"github.com/snsanalyzer/snsqa/internal/api"
	"github.com/snsanalyzer/snsqa/internal/assist"
	"github.com/snsanalyzer/snsqa/internal/config"
	"github.com/snsanalyzer/snsqa/internal/conversation"
	"github.com/snsanalyzer/snsqa/internal/history"
	"github.com/snsanalyzer/snsqa/internal/llm"
	"github.com/snsanalyzer/snsqa/internal/nl2sql"
	"github.com/snsanalyzer/snsqa/internal/observability"
	"github.com/snsanalyzer/snsqa/internal/pipeline"
	"github.com/snsanalyzer/snsqa/internal/prompts"
	"github.com/snsanalyzer/snsqa/internal/query"
	"github.com/snsanalyzer/snsqa/internal/schema"
	"github.com/snsanalyzer/snsqa/internal/store"
	s3store "github.com/snsanalyzer/snsqa/internal/storage/s3"
)

func main() {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("snsqa-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialect, err := store.ParseDialect(cfg.Store.Dialect)
	if err != nil {
		logger.Error("invalid store dialect", slog.Any("error", err))
		os.Exit(1)
	}
	promptSet, err := prompts.Load(cfg.Pipeline.PromptFile)
	if err != nil {
		logger.Error("failed to load prompts", slog.Any("error", err))
		os.Exit(1)
	}
	backend, err := llm.NewFromConfig(cfg.LLM)
	if err != nil {
		logger.Error("failed to initialize llm backend", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("llm backend selected",
		slog.String("backend", backend.Name),
		slog.String("sql_model", backend.SQLModel),
		slog.String("answer_model", backend.AnswerModel),
	)

	db, catalog := connectStore(ctx, cfg, dialect, logger)
	if db != nil {
		defer func() { _ = db.Close() }()
	}

	historyLog, archiver, archive := buildHistory(ctx, cfg, logger)
	var archiveDone chan struct{}
	if archiver != nil {
		archiveDone = make(chan struct{})
		go func() {
			defer close(archiveDone)
			archiver.Run(ctx)
		}()
	}

	generator, err := nl2sql.NewGenerator(nl2sql.GeneratorConfig{
		Completer:   backend.Completer,
		Template:    promptSet.SQLGeneration,
		Dialect:     dialect.SQLName(),
		Model:       backend.SQLModel,
		Temperature: cfg.LLM.SQLTemperature,
		MaxTokens:   cfg.LLM.SQLMaxTokens,
	})
	if err != nil {
		logger.Error("failed to initialize sql generator", slog.Any("error", err))
		os.Exit(1)
	}
	synthesizer, err := answer.NewSynthesizer(answer.Config{
		Completer:   backend.Completer,
		Template:    promptSet.AnswerSynthesis,
		Model:       backend.AnswerModel,
		Temperature: cfg.LLM.AnswerTemperature,
		MaxTokens:   cfg.LLM.AnswerMaxTokens,
	})
	if err != nil {
		logger.Error("failed to initialize answer synthesizer", slog.Any("error", err))
		os.Exit(1)
	}
	assistant, err := assist.NewService(backend.Completer, promptSet, backend.AnswerModel, logger)
	if err != nil {
		logger.Error("failed to initialize writing assistant", slog.Any("error", err))
		os.Exit(1)
	}

	pipelineCfg := pipeline.Config{
		Synthesizer:     synthesizer,
		Generator:       generator,
		Sessions:        conversation.NewRegistry(cfg.Pipeline.MaxSessions),
		History:         historyLog,
		Messages:        promptSet.Messages,
		HistoryWindow:   cfg.Pipeline.HistoryWindow,
		RowLimit:        cfg.Pipeline.RowLimit,
		ResultCharCap:   cfg.Pipeline.ResultCharCap,
		RetryBackoff:    cfg.Pipeline.RetryBackoff,
		ProvenanceLabel: provenanceLabel(cfg, dialect),
		Logger:          logger,
	}
	deps := api.Dependencies{
		Logger:            logger,
		DependencyTimeout: 2 * time.Second,
		History:           historyLog,
		Translator:        generator,
		Assistant:         assistant,
	}
	if archive != nil {
		deps.Archive = archive
	}
	if catalog != nil {
		executor, err := query.NewExecutor(db, dialect, query.Options{
			ReadOnlyTx:     cfg.Store.ReadOnlyTx,
			StatementGuard: cfg.Store.StatementGuard,
		})
		if err != nil {
			logger.Error("failed to initialize sql executor", slog.Any("error", err))
			os.Exit(1)
		}
		pipelineCfg.Catalog = catalog
		pipelineCfg.Executor = executor
		pipelineCfg.Store = db
		deps.Schema = catalog
	}

	qa, err := pipeline.New(pipelineCfg)
	if err != nil {
		logger.Error("failed to initialize question pipeline", slog.Any("error", err))
		os.Exit(1)
	}
	deps.Pipeline = qa
	deps.Readiness = api.CombineReadinessChecks(
		api.CheckPipelineConnected(qa),
		api.CheckObjectStoreConfig(cfg),
	)

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
	if archiveDone != nil {
		<-archiveDone
	}
}

// connectStore returns a nil catalog when the store is unreachable. The
// server keeps running and answers every question with the not-connected
// message.
func connectStore(ctx context.Context, cfg config.Config, dialect store.Dialect, logger *slog.Logger) (*sqlx.DB, *schema.Catalog) {
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	storeCfg, err := store.ConfigFromSettings(cfg.Store)
	if err != nil {
		logger.Error("invalid store settings", slog.Any("error", err))
		return nil, nil
	}
	db, err := store.Open(openCtx, storeCfg)
	if err != nil {
		logger.Error("store connection failed", slog.String("dialect", string(dialect)), slog.Any("error", err))
		return nil, nil
	}

	catalog, err := schema.Load(openCtx, db, dialect, cfg.Store.AllowedTables)
	if err != nil {
		logger.Error("failed to load table schema", slog.Any("error", err))
		_ = db.Close()
		return nil, nil
	}
	logger.Info("store connected",
		slog.String("dialect", string(dialect)),
		slog.Any("tables", catalog.TableNames()),
	)
	return db, catalog
}

func buildHistory(ctx context.Context, cfg config.Config, logger *slog.Logger) (*history.Log, *history.Archiver, *history.ArchiveReader) {
	if !cfg.History.ArchiveEnabled {
		return history.NewLog(cfg.History.Capacity, nil), nil, nil
	}

	objectStore, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		logger.Error("history archive disabled: object store unavailable", slog.Any("error", err))
		return history.NewLog(cfg.History.Capacity, nil), nil, nil
	}
	archiver, err := history.NewArchiver(history.ArchiverConfig{
		Store:         objectStore,
		BatchSize:     cfg.History.FlushBatchSize,
		FlushInterval: cfg.History.FlushInterval,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("history archive disabled", slog.Any("error", err))
		return history.NewLog(cfg.History.Capacity, nil), nil, nil
	}
	return history.NewLog(cfg.History.Capacity, archiver), archiver, history.NewArchiveReader(objectStore)
}

func provenanceLabel(cfg config.Config, dialect store.Dialect) string {
	if cfg.Pipeline.ProvenanceLabel != "" {
		return cfg.Pipeline.ProvenanceLabel
	}
	return fmt.Sprintf("Database (%s)", dialect.Label())
}
