package toolserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/kbgraph/kbd/internal/decay"
	"github.com/kbgraph/kbd/internal/planner"
	"github.com/kbgraph/kbd/internal/ranker"
	"github.com/kbgraph/kbd/internal/store"
)

type errorBody struct {
	Error string `json:"error"`
}

func respondError(c *gin.Context, code int, err error) {
	c.JSON(code, errorBody{Error: err.Error()})
}

// statusForError maps the store's error taxonomy to HTTP status codes.
func statusForError(err error) int {
	switch err.(type) {
	case *store.ValidationError:
		return http.StatusBadRequest
	case *store.NotFoundError:
		return http.StatusNotFound
	case *store.TransientError:
		return http.StatusServiceUnavailable
	case *store.CorruptionError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

type storeRequest struct {
	ShortTitle     string                 `json:"short_title" binding:"required"`
	LongTitle      string                 `json:"long_title" binding:"required"`
	Details        string                 `json:"details"`
	EntryType      string                 `json:"entry_type" binding:"required"`
	ProjectRef     string                 `json:"project_ref"`
	Tags           []string               `json:"tags"`
	Hints          map[string]interface{} `json:"hints"`
	BaseConfidence float64                `json:"base_confidence"`
}

type entryResponse struct {
	ID             string                 `json:"id"`
	ShortTitle     string                 `json:"short_title"`
	LongTitle      string                 `json:"long_title"`
	Details        string                 `json:"details"`
	EntryType      string                 `json:"entry_type"`
	ProjectRef     string                 `json:"project_ref,omitempty"`
	Tags           []string               `json:"tags,omitempty"`
	Hints          map[string]interface{} `json:"hints,omitempty"`
	BaseConfidence float64                `json:"base_confidence"`
	Version        int                    `json:"version"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

func toEntryResponse(e *store.Entry) entryResponse {
	return entryResponse{
		ID: e.ID, ShortTitle: e.ShortTitle, LongTitle: e.LongTitle, Details: e.Details,
		EntryType: e.EntryType, ProjectRef: e.ProjectRef, Tags: e.Tags, Hints: e.Hints,
		BaseConfidence: e.BaseConfidence, Version: e.Version,
		CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt,
	}
}

// handleStore implements kb_store: persist an entry, embed it, derive
// its deterministic graph edges, and enrich it — only the first step
// can fail the request.
func (s *Server) handleStore(c *gin.Context) {
	var req storeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	e, err := s.store.CreateEntry(store.CreateFields{
		ShortTitle: req.ShortTitle, LongTitle: req.LongTitle, Details: req.Details,
		EntryType: req.EntryType, ProjectRef: req.ProjectRef, Tags: req.Tags,
		Hints: req.Hints, BaseConfidence: req.BaseConfidence,
	})
	if err != nil {
		respondError(c, statusForError(err), err)
		return
	}

	s.completeWrite(c, e)
	c.JSON(http.StatusCreated, toEntryResponse(e))
}

func (s *Server) completeWrite(c *gin.Context, e *store.Entry) {
	ctx := c.Request.Context()

	if s.embedder != nil && s.embedder.IsAvailable(ctx) {
		vec, err := s.embedder.Embed(ctx, e.EmbeddingText())
		if err != nil {
			s.log.Warn("embed failed during store pipeline", "entry", e.ID, "error", err)
		} else if vec != nil {
			if err := s.store.UpsertVector(e.ID, vec); err != nil {
				s.log.Warn("vector upsert failed", "entry", e.ID, "error", err)
			} else if err := s.store.SetHasEmbedding(e.ID, true); err != nil {
				s.log.Warn("set has_embedding failed", "entry", e.ID, "error", err)
			}
		}
	}

	if s.builder != nil {
		if err := s.builder.Rebuild(e); err != nil {
			s.log.Warn("deterministic graph rebuild failed", "entry", e.ID, "error", err)
		}
	}

	if s.enricher != nil {
		s.enricher.Enrich(ctx, e)
	}
}

type storeBatchRequest struct {
	Entries []storeRequest `json:"entries" binding:"required"`
}

const maxBatchEntries = 10

// handleStoreBatch creates every entry in the batch concurrently,
// bounded by maxBatchEntries, and collects the first hard validation
// failure via errgroup.Wait. Entries that did create successfully still
// run their own embed/rebuild pipeline even when a sibling in the same
// batch failed to create.
func (s *Server) handleStoreBatch(c *gin.Context) {
	var req storeBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	if len(req.Entries) > maxBatchEntries {
		respondError(c, http.StatusBadRequest, fmt.Errorf("store_batch accepts at most %d entries, got %d", maxBatchEntries, len(req.Entries)))
		return
	}

	ctx := c.Request.Context()
	slots := make([]*store.Entry, len(req.Entries))

	createGroup, _ := errgroup.WithContext(ctx)
	for i, item := range req.Entries {
		i, item := i, item
		createGroup.Go(func() error {
			e, err := s.store.CreateEntry(store.CreateFields{
				ShortTitle: item.ShortTitle, LongTitle: item.LongTitle, Details: item.Details,
				EntryType: item.EntryType, ProjectRef: item.ProjectRef, Tags: item.Tags,
				Hints: item.Hints, BaseConfidence: item.BaseConfidence,
			})
			if err != nil {
				return err
			}
			slots[i] = e
			return nil
		})
	}
	createErr := createGroup.Wait()

	var created []*store.Entry
	var responses []entryResponse
	for _, e := range slots {
		if e == nil {
			continue
		}
		created = append(created, e)
		responses = append(responses, toEntryResponse(e))
	}

	pipelineGroup, pctx := errgroup.WithContext(ctx)
	for _, e := range created {
		e := e
		pipelineGroup.Go(func() error {
			if s.embedder != nil && s.embedder.IsAvailable(pctx) {
				if vec, err := s.embedder.Embed(pctx, e.EmbeddingText()); err == nil && vec != nil {
					if err := s.store.UpsertVector(e.ID, vec); err == nil {
						_ = s.store.SetHasEmbedding(e.ID, true)
					}
				}
			}
			if s.builder != nil {
				if err := s.builder.Rebuild(e); err != nil {
					s.log.Warn("batch rebuild failed", "entry", e.ID, "error", err)
				}
			}
			return nil
		})
	}
	_ = pipelineGroup.Wait()

	if createErr != nil {
		respondError(c, statusForError(createErr), createErr)
		return
	}

	if s.enricher != nil && len(created) > 0 {
		s.enricher.BatchEnrich(ctx, created)
	}

	c.JSON(http.StatusCreated, responses)
}

type searchRequest struct {
	Query        string `json:"query" binding:"required"`
	ProjectRef   string `json:"project_ref"`
	EntryType    string `json:"entry_type"`
	Tag          string `json:"tag"`
	Limit        int    `json:"limit"`
	IncludeStale bool   `json:"include_stale"`
}

type searchResultItem struct {
	Entry       entryResponse `json:"entry"`
	RRFScore    float64       `json:"rrf_score"`
	Confidence  float64       `json:"confidence"`
	Stale       bool          `json:"stale"`
	MatchSource string        `json:"match_source"`
}

type searchResponse struct {
	Results []searchResultItem `json:"results"`
	Hints   []string           `json:"hints,omitempty"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	results, hints, err := s.ranker.Search(c.Request.Context(), req.Query, ranker.Filters{
		ProjectRef: req.ProjectRef, EntryType: req.EntryType, Tag: req.Tag,
	}, req.Limit, req.IncludeStale)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	items := make([]searchResultItem, len(results))
	for i, r := range results {
		items[i] = searchResultItem{
			Entry: toEntryResponse(r.Entry), RRFScore: r.RRFScore,
			Confidence: r.Confidence, Stale: r.Stale, MatchSource: r.MatchSource,
		}
	}
	c.JSON(http.StatusOK, searchResponse{Results: items, Hints: hints})
}

type getRequest struct {
	IDs             []string `json:"ids" binding:"required"`
	IncludeInactive bool     `json:"include_inactive"`
}

const maxGetIDs = 20

func (s *Server) handleGet(c *gin.Context) {
	var req getRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	if len(req.IDs) > maxGetIDs {
		respondError(c, http.StatusBadRequest, fmt.Errorf("get accepts at most %d ids, got %d", maxGetIDs, len(req.IDs)))
		return
	}

	entries, err := s.store.GetEntries(req.IDs, req.IncludeInactive)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.TouchAccessed(req.IDs); err != nil {
		s.log.Warn("touch_accessed failed", "error", err)
	}

	now := time.Now()
	items := make([]searchResultItem, len(entries))
	for i, e := range entries {
		conf := decay.Effective(e.BaseConfidence, e.EntryType, e.UpdatedAt, e.LastAccessed, now)
		items[i] = searchResultItem{Entry: toEntryResponse(e), Confidence: conf, Stale: decay.IsStale(conf)}
	}
	c.JSON(http.StatusOK, gin.H{"entries": items})
}

type askRequest struct {
	Query string `json:"query" binding:"required"`
}

func (s *Server) handleAsk(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	ctx := c.Request.Context()
	plan := s.planner.Plan(ctx, req.Query)
	outcome, err := s.planner.Execute(ctx, plan)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, outcomeResponse(outcome))
}

func outcomeResponse(o planner.Outcome) gin.H {
	body := gin.H{"strategy": o.Strategy}
	switch o.Strategy {
	case planner.StrategyDecisionTrace:
		chain := make([]gin.H, len(o.Chain))
		for i, link := range o.Chain {
			chain[i] = gin.H{"entry": toEntryResponse(link.Entry), "label": link.Label}
		}
		body["chain"] = chain
	case planner.StrategyRelated:
		hits := make([]gin.H, len(o.Related))
		for i, h := range o.Related {
			hits[i] = gin.H{"entry": toEntryResponse(h.Entry), "depth": h.Depth, "path": h.Path}
		}
		body["related"] = hits
	case planner.StrategyConnection:
		body["path"] = o.Path
	case planner.StrategyTimeline:
		entries := make([]entryResponse, len(o.Timeline))
		for i, e := range o.Timeline {
			entries[i] = toEntryResponse(e)
		}
		body["timeline"] = entries
	default:
		items := make([]searchResultItem, len(o.Results))
		for i, r := range o.Results {
			items[i] = searchResultItem{
				Entry: toEntryResponse(r.Entry), RRFScore: r.RRFScore,
				Confidence: r.Confidence, Stale: r.Stale, MatchSource: r.MatchSource,
			}
		}
		body["results"] = items
		body["hints"] = o.Hints
	}
	return body
}

type summarizeRequest struct {
	Scope string `json:"scope" binding:"required"`
}

func (s *Server) handleSummarize(c *gin.Context) {
	var req summarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	entries, err := s.graph.EntriesForScope(req.Scope)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if len(entries) == 0 {
		c.JSON(http.StatusOK, gin.H{"summary": "", "entry_count": 0})
		return
	}

	if s.llm == nil || !s.llm.IsAvailable(c.Request.Context()) {
		c.JSON(http.StatusOK, gin.H{"summary": "", "entry_count": len(entries), "note": "llm unavailable"})
		return
	}

	var prompt string
	for _, e := range entries {
		prompt += "- " + e.ShortTitle + ": " + e.LongTitle + "\n"
	}
	summary, err := s.llm.Generate(c.Request.Context(), prompt, "Summarize these knowledge base entries in a short paragraph.")
	if err != nil {
		s.log.Warn("summarize generation failed", "error", err)
		summary = ""
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "entry_count": len(entries)})
}

type ingestFileRequest struct {
	Path       string `json:"path" binding:"required"`
	ProjectRef string `json:"project_ref"`
}

func (s *Server) handleIngestFile(c *gin.Context) {
	var req ingestFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	result, err := s.ingest.IngestFile(c.Request.Context(), req.Path, req.ProjectRef)
	if err != nil {
		respondError(c, statusForError(err), err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleStats(c *gin.Context) {
	graphStats, err := s.store.GraphStats()
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"graph":            graphStats,
		"vector_available": s.store.VectorAvailable(),
	})
}

func (s *Server) handleDoctor(c *gin.Context) {
	ctx := c.Request.Context()
	report := gin.H{
		"store_path":       s.store.Path(),
		"vector_available": s.store.VectorAvailable(),
	}
	if s.embedder != nil {
		report["embedder_available"] = s.embedder.IsAvailable(ctx)
	}
	if s.llm != nil {
		report["llm_available"] = s.llm.IsAvailable(ctx)
	}
	c.JSON(http.StatusOK, report)
}
