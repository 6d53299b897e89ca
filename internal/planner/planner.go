// Package planner turns a free-form "ask" query into one of the
// fixed retrieval strategies — auto, decision_trace, timeline,
// related, or connection — using an LLM classification pass with a
// safe fallback to auto when the LLM is unavailable or its response
// does not validate.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kbgraph/kbd/internal/graphquery"
	"github.com/kbgraph/kbd/internal/llmprovider"
	"github.com/kbgraph/kbd/internal/logging"
	"github.com/kbgraph/kbd/internal/ranker"
	"github.com/kbgraph/kbd/internal/store"
)

var log = logging.GetLogger("planner")

// Strategy names recognized by the planner.
const (
	StrategyAuto          = "auto"
	StrategyDecisionTrace = "decision_trace"
	StrategyTimeline      = "timeline"
	StrategyRelated       = "related"
	StrategyConnection    = "connection"
)

var validStrategies = map[string]bool{
	StrategyAuto: true, StrategyDecisionTrace: true, StrategyTimeline: true,
	StrategyRelated: true, StrategyConnection: true,
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)
var codeFencePattern = regexp.MustCompile("```(?:json)?\\s*(.*?)\\s*```")

// Plan is the resolved execution intent for an ask query.
type Plan struct {
	Strategy string
	Query    string
	EntryID  string // decision_trace, related
	TargetID string // connection's second endpoint
	Scope    string // timeline
}

// planResponse is the LLM's raw classification shape.
type planResponse struct {
	Strategy string `json:"strategy"`
	EntryID  string `json:"entry_id"`
	TargetID string `json:"target_id"`
	Scope    string `json:"scope"`
}

// Planner classifies ask queries and dispatches them to the
// appropriate retrieval strategy.
type Planner struct {
	store  *store.Store
	ranker *ranker.Ranker
	graph  *graphquery.Query
	llm    llmprovider.Provider
}

// New constructs a Planner. llm may be nil, in which case every query
// resolves to the auto strategy.
func New(s *store.Store, r *ranker.Ranker, g *graphquery.Query, llm llmprovider.Provider) *Planner {
	return &Planner{store: s, ranker: r, graph: g, llm: llm}
}

// Plan classifies rawQuery into an execution plan. Any failure to
// reach or parse the LLM falls back to {Strategy: auto, Query: rawQuery}.
func (p *Planner) Plan(ctx context.Context, rawQuery string) Plan {
	fallback := Plan{Strategy: StrategyAuto, Query: rawQuery}

	if p.llm == nil || !p.llm.IsAvailable(ctx) {
		return fallback
	}

	raw, err := p.llm.Generate(ctx, buildClassificationPrompt(rawQuery), classificationSystemPrompt)
	if err != nil || raw == "" {
		return fallback
	}

	resp, ok := parsePlanResponse(raw)
	if !ok {
		log.Debug("planner response did not validate, falling back to auto")
		return fallback
	}

	plan := Plan{
		Strategy: resp.Strategy,
		Query:    rawQuery,
		EntryID:  resp.EntryID,
		TargetID: resp.TargetID,
		Scope:    resp.Scope,
	}

	switch plan.Strategy {
	case StrategyDecisionTrace, StrategyRelated:
		if plan.EntryID == "" {
			return fallback
		}
	case StrategyConnection:
		if plan.EntryID == "" || plan.TargetID == "" {
			return fallback
		}
	case StrategyTimeline:
		if plan.Scope == "" {
			return fallback
		}
	}

	return plan
}

func buildClassificationPrompt(query string) string {
	return fmt.Sprintf("Classify this knowledge base query: %q", query)
}

const classificationSystemPrompt = `You classify a knowledge base query into exactly one retrieval strategy and respond with only a JSON object: {"strategy": "auto"|"decision_trace"|"timeline"|"related"|"connection", "entry_id": string, "target_id": string, "scope": string}. Use "auto" whenever the query is a general search. Use "decision_trace" when the user asks how a decision or entry evolved, with entry_id set. Use "related" when the user asks what is connected to a specific entry, with entry_id set. Use "connection" when the user asks how two specific entries relate, with entry_id and target_id both set. Use "timeline" when the user asks for a chronological view of a project, tag, person, tool, or entry type, with scope set. Omit fields that do not apply.`

func parsePlanResponse(raw string) (planResponse, bool) {
	text := raw
	if m := codeFencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	objText := jsonObjectPattern.FindString(text)
	if objText == "" {
		return planResponse{}, false
	}

	var resp planResponse
	if err := json.Unmarshal([]byte(objText), &resp); err != nil {
		return planResponse{}, false
	}
	resp.Strategy = strings.TrimSpace(resp.Strategy)
	if !validStrategies[resp.Strategy] {
		return planResponse{}, false
	}
	return resp, true
}

// Outcome is the polymorphic result of executing a Plan: exactly one
// of its fields is populated, matching the strategy that produced it.
type Outcome struct {
	Strategy string
	Results  []ranker.Result      // auto
	Hints    []string             // auto
	Chain    []graphquery.SupersessionLink // decision_trace
	Related  []graphquery.BFSHit  // related
	Path     []graphquery.PathHop // connection
	Timeline []*store.Entry       // timeline
}

// Execute runs the resolved plan against the ranker/graphquery layer.
func (p *Planner) Execute(ctx context.Context, plan Plan) (Outcome, error) {
	switch plan.Strategy {
	case StrategyDecisionTrace:
		chain, err := p.graph.SupersedesChain(plan.EntryID)
		if err != nil {
			return Outcome{}, fmt.Errorf("decision_trace: %w", err)
		}
		return Outcome{Strategy: plan.Strategy, Chain: chain}, nil

	case StrategyRelated:
		hits, err := p.graph.BFSEntries(plan.EntryID, graphquery.DefaultBFSDepth)
		if err != nil {
			return Outcome{}, fmt.Errorf("related: %w", err)
		}
		return Outcome{Strategy: plan.Strategy, Related: hits}, nil

	case StrategyConnection:
		path, err := p.graph.FindPath(plan.EntryID, plan.TargetID, graphquery.DefaultPathDepth)
		if err != nil {
			return Outcome{}, fmt.Errorf("connection: %w", err)
		}
		return Outcome{Strategy: plan.Strategy, Path: path}, nil

	case StrategyTimeline:
		entries, err := p.graph.EntriesForScope(plan.Scope)
		if err != nil {
			return Outcome{}, fmt.Errorf("timeline: %w", err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
		return Outcome{Strategy: plan.Strategy, Timeline: entries}, nil

	default:
		results, hints, err := p.ranker.Search(ctx, plan.Query, ranker.Filters{}, 10, false)
		if err != nil {
			return Outcome{}, fmt.Errorf("auto: %w", err)
		}
		return Outcome{Strategy: StrategyAuto, Results: results, Hints: hints}, nil
	}
}
