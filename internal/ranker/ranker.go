// Package ranker implements the hybrid retrieval ranker: it fuses
// lexical (FTS/BM25) and vector (ANN) candidate lists via Reciprocal
// Rank Fusion, applies confidence decay, and augments sparse result
// sets with graph-derived hints.
package ranker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kbgraph/kbd/internal/decay"
	"github.com/kbgraph/kbd/internal/embed"
	"github.com/kbgraph/kbd/internal/logging"
	"github.com/kbgraph/kbd/internal/store"
)

var log = logging.GetLogger("ranker")

// RRFConstant is the K in 1/(K+rank+1). Zero-based ranks.
const RRFConstant = 60

// OverfetchFactor multiplies the requested limit for the initial FTS
// and vector candidate fetches.
const OverfetchFactor = 3

// MaxSparseHints bounds the sparse-hint augmentation output.
const MaxSparseHints = 3

// SparseThreshold is the result-count boundary below which sparse
// hints are computed.
const SparseThreshold = 3

// NeighborFanout bounds how many neighbours are gathered per result
// when building sparse hints.
const NeighborFanout = 10

// Filters narrows a search beyond the raw query text.
type Filters struct {
	ProjectRef string
	EntryType  string
	Tag        string
}

// Result is a single ranked entry, annotated with fusion score,
// effective confidence, staleness, and which candidate list(s)
// contributed it.
type Result struct {
	Entry       *store.Entry
	RRFScore    float64
	Confidence  float64
	Stale       bool
	MatchSource string // "hybrid" or "fts"
}

// Ranker fuses the store's FTS and vector search primitives.
type Ranker struct {
	store    *store.Store
	embedder *embed.Client
}

// New constructs a Ranker. embedder may be nil, in which case vector
// search is skipped entirely and every result is tagged "fts".
func New(s *store.Store, embedder *embed.Client) *Ranker {
	return &Ranker{store: s, embedder: embedder}
}

// Search runs the full hybrid-ranking procedure described in the
// component design: over-fetch, RRF fusion, decay filtering, match
// source annotation, and sparse-hint augmentation. Returns ranked
// results plus at most MaxSparseHints hint strings.
func (r *Ranker) Search(ctx context.Context, query string, filters Filters, limit int, includeStale bool) ([]Result, []string, error) {
	if limit <= 0 {
		limit = 10
	}
	overfetch := limit * OverfetchFactor

	ftsResults, err := r.store.FTSSearch(query, store.FTSFilters{
		ProjectRef: filters.ProjectRef,
		EntryType:  filters.EntryType,
		Tag:        filters.Tag,
	}, overfetch)
	if err != nil {
		return nil, nil, fmt.Errorf("fts search: %w", err)
	}

	var vectorResults []store.VectorResult
	vectorRan := false
	if r.embedder != nil && r.embedder.IsAvailable(ctx) {
		vec, err := r.embedder.Embed(ctx, query)
		if err != nil {
			log.Warn("query embedding failed, continuing with fts-only", "error", err)
		} else if vec != nil {
			vectorRan = true
			vectorResults, err = r.store.VectorSearch(vec, overfetch)
			if err != nil {
				log.Warn("vector search failed, continuing with fts-only", "error", err)
				vectorResults = nil
			}
		}
	}

	ftsRank := rankOf(idsFromFTS(ftsResults))
	vecRank := rankOf(idsFromVector(vectorResults))

	type scored struct {
		id    string
		score float64
	}

	seen := map[string]bool{}
	var all []scored
	for id := range ftsRank {
		if !seen[id] {
			seen[id] = true
			all = append(all, scored{id: id, score: rrfScore(ftsRank, vecRank, id)})
		}
	}
	for id := range vecRank {
		if !seen[id] {
			seen[id] = true
			all = append(all, scored{id: id, score: rrfScore(ftsRank, vecRank, id)})
		}
	}

	// Deterministic tie-break: RRF score descending, entry id ascending.
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].id < all[j].id
	})

	if len(all) > limit {
		all = all[:limit]
	}

	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.id
	}

	entries, err := r.store.GetEntries(ids, false)
	if err != nil {
		return nil, nil, fmt.Errorf("load ranked entries: %w", err)
	}
	entryByID := map[string]*store.Entry{}
	for _, e := range entries {
		entryByID[e.ID] = e
	}

	now := time.Now()
	var results []Result
	for _, s := range all {
		e, ok := entryByID[s.id]
		if !ok {
			continue
		}
		conf := decay.Effective(e.BaseConfidence, e.EntryType, e.UpdatedAt, e.LastAccessed, now)
		if decay.IsFiltered(conf) && !includeStale {
			continue
		}

		matchSource := "fts"
		if vectorRan {
			if _, inVec := vecRank[s.id]; inVec {
				matchSource = "hybrid"
			}
		}

		results = append(results, Result{
			Entry:       e,
			RRFScore:    s.score,
			Confidence:  conf,
			Stale:       decay.IsStale(conf),
			MatchSource: matchSource,
		})
	}

	var hints []string
	if len(results) < SparseThreshold {
		hints, err = r.sparseHints(results)
		if err != nil {
			log.Warn("sparse hint computation failed", "error", err)
			hints = nil
		}
	}

	return results, hints, nil
}

func idsFromFTS(rs []store.FTSResult) []string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.EntryID
	}
	return ids
}

func idsFromVector(rs []store.VectorResult) []string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.EntryID
	}
	return ids
}

// rankOf builds a zero-based rank map from an already-ordered id
// list. Order is assumed to already reflect score (FTS ascending by
// BM25, vector ascending by distance) — both "best first".
func rankOf(ids []string) map[string]int {
	ranks := map[string]int{}
	for i, id := range ids {
		if _, exists := ranks[id]; !exists {
			ranks[id] = i
		}
	}
	return ranks
}

// rrfScore sums 1/(K+rank+1) across every list the id appears in.
func rrfScore(ftsRank, vecRank map[string]int, id string) float64 {
	var score float64
	if rank, ok := ftsRank[id]; ok {
		score += 1.0 / float64(RRFConstant+rank+1)
	}
	if rank, ok := vecRank[id]; ok {
		score += 1.0 / float64(RRFConstant+rank+1)
	}
	return score
}

// sparseHints gathers up to NeighborFanout neighbours per result; for
// non-entry intermediates it takes a second hop to other entry nodes,
// dedupes against existing results and previous hints, keeps only
// active entries, and returns at most MaxSparseHints hint strings.
func (r *Ranker) sparseHints(results []Result) ([]string, error) {
	existing := map[string]bool{}
	for _, res := range results {
		existing[res.Entry.ID] = true
	}

	var hints []string
	seenHintEntries := map[string]bool{}

	for _, res := range results {
		if len(hints) >= MaxSparseHints {
			break
		}

		neighbors, err := r.store.Neighbors(res.Entry.ID, NeighborFanout)
		if err != nil {
			return nil, fmt.Errorf("neighbors for %s: %w", res.Entry.ID, err)
		}

		for _, n := range neighbors {
			if len(hints) >= MaxSparseHints {
				break
			}

			if isEntryNode(n.Node.NodeID) {
				hint, ok := r.buildHint(n.Node.NodeID, n.Node.NodeID, existing, seenHintEntries)
				if ok {
					hints = append(hints, hint)
				}
				continue
			}

			// Second hop through a non-entry intermediate (tag, concept, ...).
			secondHop, err := r.store.Neighbors(n.Node.NodeID, NeighborFanout)
			if err != nil {
				return nil, fmt.Errorf("second-hop neighbors for %s: %w", n.Node.NodeID, err)
			}
			for _, sh := range secondHop {
				if len(hints) >= MaxSparseHints {
					break
				}
				if !isEntryNode(sh.Node.NodeID) {
					continue
				}
				hint, ok := r.buildHint(sh.Node.NodeID, n.Node.NodeID, existing, seenHintEntries)
				if ok {
					hints = append(hints, hint)
				}
			}
		}
	}

	return hints, nil
}

func (r *Ranker) buildHint(entryNodeID, viaNode string, existing, seen map[string]bool) (string, bool) {
	if existing[entryNodeID] || seen[entryNodeID] {
		return "", false
	}

	entries, err := r.store.GetEntries([]string{entryNodeID}, false)
	if err != nil || len(entries) == 0 {
		return "", false
	}
	e := entries[0]
	if !e.IsActive {
		return "", false
	}

	seen[entryNodeID] = true
	return fmt.Sprintf("See also: [%s] %s (via %s)", e.ID, e.LongTitle, viaNode), true
}

func isEntryNode(nodeID string) bool {
	if len(nodeID) != 8 {
		return false
	}
	if nodeID[:3] != "kb-" {
		return false
	}
	for _, c := range nodeID[3:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
