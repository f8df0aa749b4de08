// Package app wires the adapters and services of the indexer together.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/ai"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/config/file"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/keyword/bleve"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/vector/ivf"
	"github.com/custodia-labs/sercha-indexer/internal/chunker"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/core/services"
	"github.com/custodia-labs/sercha-indexer/internal/extractors"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

// Files inside the data directory.
const (
	KeywordIndexDir = "keywords.bleve"
	VectorIndexFile = "vectors.ivf"
)

// Options locates the indexer's state and overrides adapters.
type Options struct {
	// ConfigDir holds config.toml and an optional .env. Defaults to ~/.sercha-indexer.
	ConfigDir string

	// DataDir holds the database and indexes. Defaults to ConfigDir/data.
	DataDir string

	// Embedder replaces the configured embedding service.
	Embedder driven.EmbeddingService

	// PDFRunner replaces the pdftotext runner.
	PDFRunner extractors.CommandRunner
}

// App holds the services of one indexer process.
type App struct {
	Config    *domain.Config
	ConfigDir string
	DataDir   string

	Settings  *services.SettingsService
	Storage   *services.StorageLayer
	Pipeline  *services.Pipeline
	Search    *services.SearchService
	Integrity *services.IntegrityService
	Documents *services.DocumentService
	Scheduler *services.Scheduler
	Embedder  driven.EmbeddingService

	store *sqlite.Store
}

// Open loads configuration and opens the record of truth and both indexes.
// Failing to open the database aborts startup.
func Open(opts Options) (*App, error) {
	configDir := opts.ConfigDir
	if configDir == "" {
		dir, err := file.DefaultDir()
		if err != nil {
			return nil, err
		}
		configDir = dir
	}
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(configDir, "data")
	}

	wd, _ := os.Getwd()
	if err := file.LoadDotEnv(wd, configDir); err != nil {
		logger.Warn("%v", err)
	}

	configStore, err := file.NewConfigStore(configDir)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	settings := services.NewSettingsService(configStore)
	cfg, err := settings.Get()
	if err != nil {
		return nil, err
	}

	embedder := opts.Embedder
	if embedder == nil {
		embedder, err = ai.CreateEmbeddingService(&cfg.Embedding)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
		}
	}
	dim := cfg.Embedding.ResolvedDimensions()
	if dim == 0 {
		dim = embedder.Dimensions()
	}

	store, err := sqlite.NewStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	keywords, err := bleve.Open(filepath.Join(dataDir, KeywordIndexDir))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open keyword index: %w", err)
	}

	indexPath := filepath.Join(dataDir, VectorIndexFile)
	opener := ivf.NewOpener(indexPath, dim,
		ivf.WithPartitions(cfg.Index.Partitions),
		ivf.WithTrainThreshold(cfg.Index.TrainThreshold),
	)
	storage, err := services.NewStorageLayer(store.DocumentStore(), keywords, opener, indexPath)
	if err != nil {
		keywords.Close()
		store.Close()
		return nil, err
	}

	reranker, err := ai.CreateReranker(&cfg.Retrieval)
	if err != nil {
		storage.Close()
		store.Close()
		return nil, err
	}

	splitter := chunker.New(
		chunker.WithChunkSize(cfg.Pipeline.ChunkSize),
		chunker.WithOverlap(cfg.Pipeline.ChunkOverlap),
	)
	registry := extractors.NewDefaultRegistry(splitter, opts.PDFRunner)

	queue := services.NewIndexingQueue()
	progress := store.ProgressStore()
	pipeline := services.NewPipeline(cfg.Pipeline, queue, storage, progress, registry, embedder)
	integrity := services.NewIntegrityService(storage, progress, queue)

	a := &App{
		Config:    cfg,
		ConfigDir: configDir,
		DataDir:   dataDir,
		Settings:  settings,
		Storage:   storage,
		Pipeline:  pipeline,
		Search:    services.NewSearchService(storage, embedder, reranker, cfg.Retrieval),
		Integrity: integrity,
		Documents: services.NewDocumentService(storage.Documents(), progress),
		Scheduler: services.NewScheduler(cfg.Scheduler, store.TaskStore(), integrity, pipeline),
		Embedder:  embedder,
		store:     store,
	}
	logger.Debug("opened %s (embedding %s/%s, %d dims)", dataDir, cfg.Embedding.Provider, embedder.ModelName(), dim)
	return a, nil
}

// Start runs the startup integrity check when configured and starts the
// pipeline, which re-queues unfinished paths at HIGH priority.
func (a *App) Start(ctx context.Context) error {
	if a.Config.Integrity.OnStartup {
		report, err := a.Integrity.RunIntegrityCheck(ctx, false)
		if err != nil {
			logger.Warn("startup integrity check: %v", err)
		} else if !report.Healthy() {
			logger.Info("startup integrity check repaired %d issues", len(report.Issues))
		}
	}
	return a.Pipeline.Start(ctx)
}

// Close stops the pipeline and scheduler, persists the vector index and
// closes the database.
func (a *App) Close() error {
	var errs []error
	if err := a.Scheduler.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Pipeline.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Storage.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Embedder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close embedder: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}
