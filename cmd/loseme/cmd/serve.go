package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/loseme/loseme/internal/chunk"
	"github.com/loseme/loseme/internal/config"
	"github.com/loseme/loseme/internal/embed"
	"github.com/loseme/loseme/internal/extract"
	"github.com/loseme/loseme/internal/ingest"
	"github.com/loseme/loseme/internal/scope"
	"github.com/loseme/loseme/internal/search"
	"github.com/loseme/loseme/internal/server"
	"github.com/loseme/loseme/internal/source"
	"github.com/loseme/loseme/internal/store"
	"github.com/loseme/loseme/internal/vector"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server with background workers",
		Long: `Starts the HTTP control plane. Runs created through the API get
their discovery and indexing workers inside this process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()
			if addr != "" {
				cfg.ListenAddr = addr
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides LOSEME_LISTEN_ADDR)")
	return cmd
}

// stack is the wired application: everything serve and scan share.
type stack struct {
	store      store.MetadataStore
	vectors    vector.Store
	embedder   embed.Embedder
	controller *ingest.Controller
	search     *search.Service
	scopes     *scope.Registry
}

func buildStack(cfg *config.Config, logger *slog.Logger) (*stack, error) {
	st, err := store.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	embedder, err := embed.New(cfg.EmbeddingModel, cfg.OllamaHost)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	chunker, err := chunk.New(cfg.Chunker, cfg.ChunkSize, cfg.ChunkOverlap, embedder)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	vectors, err := vector.New(cfg.VectorStorage, vector.QdrantConfig{
		Host:       cfg.QdrantHost,
		Port:       cfg.QdrantPort,
		Collection: cfg.QdrantCollection,
		AllowClear: cfg.AllowVectorClear,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var pathMap *source.PathMap
	if cfg.SourceRootHost != "" && cfg.SourceRootLocal != "" {
		pathMap = &source.PathMap{HostRoot: cfg.SourceRootHost, LocalRoot: cfg.SourceRootLocal}
	}

	scopes := scope.NewRegistry()
	controller, err := ingest.NewController(ingest.Options{
		Store:        st,
		Vectors:      vectors,
		Embedder:     embedder,
		Chunker:      chunker,
		Extractors:   extract.DefaultRegistry(),
		Scopes:       scopes,
		DeviceID:     cfg.DeviceID,
		PathMap:      pathMap,
		PollInterval: cfg.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &stack{
		store:      st,
		vectors:    vectors,
		embedder:   embedder,
		controller: controller,
		search:     search.NewService(embedder, vectors, logger),
		scopes:     scopes,
	}, nil
}

func (s *stack) close(logger *slog.Logger) {
	if err := s.controller.Wait(); err != nil {
		logger.Error("worker_error", "error", err)
	}
	if err := s.vectors.Close(); err != nil {
		logger.Error("vector_store_close_failed", "error", err)
	}
	if err := s.embedder.Close(); err != nil {
		logger.Error("embedder_close_failed", "error", err)
	}
	if err := s.store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	app, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer app.close(logger)

	srv := server.New(server.Options{
		Controller: app.controller,
		Store:      app.store,
		Search:     app.search,
		Scopes:     app.scopes,
		Addr:       cfg.ListenAddr,
		Logger:     logger,
	})
	return srv.ListenAndServe(ctx)
}
