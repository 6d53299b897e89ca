package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kbgraph/kbd/internal/embed"
	"github.com/kbgraph/kbd/internal/enrich"
	"github.com/kbgraph/kbd/internal/graphbuild"
	"github.com/kbgraph/kbd/internal/graphquery"
	"github.com/kbgraph/kbd/internal/ingest"
	"github.com/kbgraph/kbd/internal/llmprovider"
	"github.com/kbgraph/kbd/internal/logging"
	"github.com/kbgraph/kbd/internal/planner"
	"github.com/kbgraph/kbd/internal/ranker"
	"github.com/kbgraph/kbd/internal/sessionid"
	"github.com/kbgraph/kbd/internal/store"
	"github.com/kbgraph/kbd/internal/toolserver"
	"github.com/kbgraph/kbd/pkg/config"
)

// components bundles every constructed layer a command might need.
type components struct {
	config   *config.Config
	store    *store.Store
	embedder *embed.Client
	llm      llmprovider.Provider
	builder  *graphbuild.Builder
	enricher *enrich.Enricher
	ranker   *ranker.Ranker
	graph    *graphquery.Query
	planner  *planner.Planner
	ingest   *ingest.Pipeline
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log_level"); level != "" {
		cfg.Logging.Level = level
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	return cfg, nil
}

// build wires every component together from cfg. The caller owns
// closing the returned store and LLM provider.
func build(cfg *config.Config) (*components, error) {
	if err := cfg.EnsureStoreDir(); err != nil {
		return nil, err
	}

	s, err := store.Open(cfg.Store.Path, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var embedder *embed.Client
	if cfg.Embedding.Enabled {
		embedder = embed.New(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Dimensions, cfg.Embedding.Timeout)
	}

	var llm llmprovider.Provider
	switch cfg.LLM.Provider {
	case "anthropic":
		llm = llmprovider.NewAnthropicProvider(cfg.LLM.AnthropicAPIKey, cfg.LLM.AnthropicModel, cfg.LLM.Timeout)
	default:
		llm = llmprovider.NewOllamaProvider(cfg.LLM.OllamaBaseURL, cfg.LLM.OllamaModel, cfg.LLM.Timeout)
	}

	builder := graphbuild.New(s)
	enricher := enrich.New(s, llm, cfg.Graph.EntityResolutionThreshold)
	r := ranker.New(s, embedder)
	g := graphquery.New(s)
	p := planner.New(s, r, g, llm)
	ing := ingest.New(s, builder, enricher, llm,
		ingest.WithChunkSize(cfg.Ingest.ChunkSizeChars),
		ingest.WithMaxFileSize(cfg.Ingest.MaxFileSizeBytes))

	return &components{
		config: cfg, store: s, embedder: embedder, llm: llm,
		builder: builder, enricher: enricher, ranker: r, graph: g, planner: p, ingest: ing,
	}, nil
}

func (c *components) close() {
	if c.llm != nil {
		_ = c.llm.Close()
	}
	if c.store != nil {
		_ = c.store.Close()
	}
}

func (c *components) toolServer() *toolserver.Server {
	sessionID := ""
	if c.config.Session.AutoGenerate {
		if id, err := sessionid.Resolve(c.config.Session); err == nil {
			sessionID = id
		}
	}
	return toolserver.NewServer(toolserver.Deps{
		Store: c.store, Builder: c.builder, Enricher: c.enricher, Embedder: c.embedder,
		LLM: c.llm, Ranker: c.ranker, Graph: c.graph, Planner: c.planner, Ingest: c.ingest,
		SessionID: sessionID,
	}, c.config)
}
