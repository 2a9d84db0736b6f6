package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"temuan/internal/config"
	"temuan/internal/department"
	"temuan/internal/dictionary"
	"temuan/internal/embedding"
	"temuan/internal/intent"
	"temuan/internal/llm"
	"temuan/internal/masker"
	"temuan/internal/pseudonym"
	"temuan/internal/retrieval"
	"temuan/internal/router"
	"temuan/internal/store"
)

// app bundles everything a command needs.
type app struct {
	cfg      *config.Config
	store    *store.Store
	router   *router.Router
	pseudo   *pseudonym.Pseudonymizer
	ingestor *store.Ingestor
}

// buildApp loads config and wires the full pipeline.
func buildApp(ctx context.Context) (*app, error) {
	ws := workspace
	if ws == "" {
		ws, _ = os.Getwd()
	}
	path := configPath
	if path == "" {
		path = filepath.Join(ws, ".temuan", "config.yaml")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	dbPath := cfg.Storage.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(ws, dbPath)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}

	dict := dictionary.New()
	depts := department.NewIndex(st)
	if err := depts.Load(ctx); err != nil {
		st.Close()
		return nil, err
	}

	// LLM clients: intent and generative may point at different endpoints.
	var intentClient, generativeClient llm.Client
	if cfg.IntentModel.APIKey != "" {
		intentClient = llm.NewGeminiClient(llm.Config{
			APIKey:  cfg.IntentModel.APIKey,
			BaseURL: cfg.IntentModel.Endpoint,
			Model:   cfg.IntentModel.Model,
			Timeout: cfg.IntentModel.TimeoutDuration(5 * time.Second),
		})
	}
	if cfg.GenerativeModel.APIKey != "" {
		generativeClient = llm.NewGeminiClient(llm.Config{
			APIKey:  cfg.GenerativeModel.APIKey,
			BaseURL: cfg.GenerativeModel.Endpoint,
			Model:   cfg.GenerativeModel.Model,
			Timeout: cfg.GenerativeModel.TimeoutDuration(30 * time.Second),
		})
	}

	// Embedding engine is optional; the context builder degrades to
	// keyword scoring without it.
	var engine embedding.Engine
	if eng, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		TaskType:       cfg.Embedding.TaskType,
	}); err == nil {
		engine = eng
	} else {
		logger.Warn("embedding engine unavailable, semantic ranking disabled", zap.Error(err))
	}

	extractor := intent.NewExtractor(dict, depts)
	recognizer := intent.NewRecognizer(intentClient, dict, extractor,
		cfg.IntentModel.TimeoutDuration(5*time.Second))

	executor := store.NewExecutor(st, cfg.DefaultPageSize, cfg.MaxPageSize)
	builder := retrieval.NewContextBuilder(engine, store.NewEmbeddingStore(st), cfg.ContextTokenBudget)
	pseudo := pseudonym.New(store.NewMappingStore(st), cfg.EncryptionSecret(), cfg.SessionTTL(), st)
	ingestor := store.NewIngestor(st, depts, engine)

	r := router.New(masker.New(), dict, depts, recognizer, extractor,
		executor, builder, pseudo, generativeClient, st, router.Config{
			PageSize:          cfg.DefaultPageSize,
			MaxPageSize:       cfg.MaxPageSize,
			StorageTimeout:    cfg.Storage.QueryTimeoutDuration(),
			GenerativeTimeout: cfg.GenerativeModel.TimeoutDuration(30 * time.Second),
		})

	return &app{cfg: cfg, store: st, router: r, pseudo: pseudo, ingestor: ingestor}, nil
}

// close releases the app's resources.
func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}
