package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/resilience"
	"github.com/lazypower/recall/internal/store"
)

// ErrEmptyQuery rejects empty or whitespace-only queries before any
// external call is made.
var ErrEmptyQuery = errors.New("empty query")

// Mode selects which retrieval paths a search uses.
type Mode string

const (
	ModeHybrid  Mode = "hybrid"
	ModeLexical Mode = "lexical"
	ModeVector  Mode = "vector"
)

// Options controls a single search.
type Options struct {
	Mode   Mode // default hybrid
	Limit  int  // default from config
	Filter store.Filter
}

// RankedCandidate is a hit from one retrieval path before fusion.
type RankedCandidate struct {
	RowID     int64
	RawScore  float64 // higher is better in both paths
	Rank      int     // 0-based within the path's result list
	CreatedAt int64
}

// FusedResult is a final scored search result.
type FusedResult struct {
	Record      store.MemoryRecord `json:"record"`
	Score       float64            `json:"score"`
	Sources     []string           `json:"sources"`
	LexicalRank *int               `json:"lexical_rank,omitempty"`
	VectorRank  *int               `json:"vector_rank,omitempty"`
	Decay       float64            `json:"decay"`
}

// Engine performs hybrid retrieval: lexical and vector search fused with
// Reciprocal Rank Fusion, re-weighted by a power-law forgetting curve.
type Engine struct {
	db       *store.DB
	cfg      config.SearchConfig
	embedder Embedder
	res      *resilience.Coordinator

	mu            sync.Mutex
	searches      int
	lexicalErrors int
	vectorErrors  int
	lastSearch    time.Time
}

// New creates a search engine over the given store.
func New(db *store.DB, cfg config.SearchConfig) *Engine {
	if cfg.RRFK <= 0 {
		cfg.RRFK = 60
	}
	if cfg.VectorWeight <= 0 || cfg.VectorWeight >= 1 {
		cfg.VectorWeight = 0.5
	}
	if cfg.DecayBase <= 0 || cfg.DecayBase > 1 {
		cfg.DecayBase = 0.9
	}
	if cfg.DecayExponent <= 0 {
		cfg.DecayExponent = 0.5
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	return &Engine{db: db, cfg: cfg}
}

// SetEmbedder configures the embedding provider. Without one, vector and
// hybrid searches fall back to lexical results.
func (e *Engine) SetEmbedder(emb Embedder) {
	e.embedder = emb
}

// SetCoordinator routes embedding calls through the resilience layer.
func (e *Engine) SetCoordinator(c *resilience.Coordinator) {
	e.res = c
}

// Search runs the configured retrieval paths and returns fused results,
// most relevant first. A query matching nothing returns an empty list.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]FusedResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	mode := opts.Mode
	if mode == "" {
		mode = ModeHybrid
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}

	// Fetch more candidates than requested so fusion has real overlap to
	// work with.
	prefetch := limit * 3
	if prefetch < 30 {
		prefetch = 30
	}

	e.mu.Lock()
	e.searches++
	e.lastSearch = time.Now()
	e.mu.Unlock()

	var lexical, vector []RankedCandidate

	g, gctx := errgroup.WithContext(ctx)

	if mode == ModeHybrid || mode == ModeLexical {
		g.Go(func() error {
			hits, err := e.db.SearchLexical(query, opts.Filter, prefetch)
			if err != nil {
				// FTS syntax problems degrade to an empty lexical leg
				// rather than failing the whole search.
				log.Printf("search: lexical path failed: %v", err)
				e.mu.Lock()
				e.lexicalErrors++
				e.mu.Unlock()
				return nil
			}
			for i, h := range hits {
				lexical = append(lexical, RankedCandidate{
					RowID:     h.RowID,
					RawScore:  -h.BM25, // bm25 is better when lower; flip so higher wins
					Rank:      i,
					CreatedAt: h.CreatedAt,
				})
			}
			return nil
		})
	}

	if mode == ModeHybrid || mode == ModeVector {
		g.Go(func() error {
			candidates, err := e.vectorCandidates(gctx, query, opts.Filter, prefetch)
			if err != nil {
				if resilience.IsAdmissionError(err) {
					if mode == ModeVector {
						return err
					}
					// Hybrid continues on the lexical leg alone.
					log.Printf("search: vector path gated: %v", err)
					return nil
				}
				log.Printf("search: vector path failed: %v", err)
				e.mu.Lock()
				e.vectorErrors++
				e.mu.Unlock()
				return nil
			}
			vector = candidates
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var fused []FusedResult
	if mode == ModeHybrid {
		fused = e.fuse(lexical, vector)
	} else if mode == ModeLexical {
		fused = singlePath(lexical, "lexical")
	} else {
		fused = singlePath(vector, "vector")
	}

	// Temporal decay: recent memories outrank equally-relevant old ones.
	now := time.Now()
	for i := range fused {
		ageDays := float64(now.UnixMilli()-fused[i].Record.CreatedAt) / (24 * 60 * 60 * 1000)
		if ageDays < 0 {
			ageDays = 0
		}
		decay := temporalDecay(e.cfg.DecayBase, e.cfg.DecayExponent, ageDays)
		fused[i].Score *= decay
		fused[i].Decay = decay
	}

	sort.Slice(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})
	if len(fused) > limit {
		fused = fused[:limit]
	}

	return e.hydrate(fused)
}

// vectorCandidates embeds the query through the resilience layer, then
// resolves nearest neighbors to records that pass the metadata filter.
func (e *Engine) vectorCandidates(ctx context.Context, query string, filter store.Filter, prefetch int) ([]RankedCandidate, error) {
	if e.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}

	var queryVec []float64
	embed := func(ctx context.Context) error {
		vec, err := e.embedder.Embed(ctx, query)
		if err != nil {
			return err
		}
		queryVec = vec
		return nil
	}

	if e.res != nil {
		if _, err := e.res.Execute(ctx, "embedder", resilience.ExecuteOptions{
			Capability: resilience.CapVectorSearch,
		}, embed); err != nil {
			return nil, err
		}
	} else if err := embed(ctx); err != nil {
		return nil, err
	}

	// Ask for extra neighbors: some will be dropped by the metadata filter.
	hits, err := e.db.NearestVectors(queryVec, 2*prefetch)
	if err != nil {
		return nil, fmt.Errorf("nearest vectors: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.RowID
	}
	records, err := e.db.GetRecordsByRowIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("resolve neighbors: %w", err)
	}
	byID := make(map[int64]*store.MemoryRecord, len(records))
	for i := range records {
		byID[records[i].RowID] = &records[i]
	}

	var candidates []RankedCandidate
	for _, h := range hits {
		r, ok := byID[h.RowID]
		if !ok || !filter.Matches(r) {
			continue
		}
		candidates = append(candidates, RankedCandidate{
			RowID:     h.RowID,
			RawScore:  1 - h.Distance,
			Rank:      len(candidates),
			CreatedAt: r.CreatedAt,
		})
		if len(candidates) == prefetch {
			break
		}
	}
	return candidates, nil
}

// fuse combines both paths with Reciprocal Rank Fusion: each path
// contributes weight/(k+rank), so agreement between paths compounds.
func (e *Engine) fuse(lexical, vector []RankedCandidate) []FusedResult {
	k := float64(e.cfg.RRFK)
	w := e.cfg.VectorWeight

	type entry struct {
		score     float64
		lexRank   *int
		vecRank   *int
		createdAt int64
	}
	merged := make(map[int64]*entry, len(lexical)+len(vector))

	for _, c := range lexical {
		rank := c.Rank
		merged[c.RowID] = &entry{
			score:     (1 - w) / (k + float64(rank)),
			lexRank:   &rank,
			createdAt: c.CreatedAt,
		}
	}
	for _, c := range vector {
		rank := c.Rank
		if ent, ok := merged[c.RowID]; ok {
			ent.score += w / (k + float64(rank))
			ent.vecRank = &rank
		} else {
			merged[c.RowID] = &entry{
				score:     w / (k + float64(rank)),
				vecRank:   &rank,
				createdAt: c.CreatedAt,
			}
		}
	}

	results := make([]FusedResult, 0, len(merged))
	for rowID, ent := range merged {
		var sources []string
		if ent.lexRank != nil {
			sources = append(sources, "lexical")
		}
		if ent.vecRank != nil {
			sources = append(sources, "vector")
		}
		results = append(results, FusedResult{
			Record:      store.MemoryRecord{RowID: rowID, CreatedAt: ent.createdAt},
			Score:       ent.score,
			Sources:     sources,
			LexicalRank: ent.lexRank,
			VectorRank:  ent.vecRank,
		})
	}
	return results
}

// singlePath adapts one path's candidates to results without fusion.
func singlePath(candidates []RankedCandidate, source string) []FusedResult {
	results := make([]FusedResult, 0, len(candidates))
	for _, c := range candidates {
		rank := c.Rank
		fr := FusedResult{
			Record:  store.MemoryRecord{RowID: c.RowID, CreatedAt: c.CreatedAt},
			Score:   c.RawScore,
			Sources: []string{source},
		}
		if source == "lexical" {
			fr.LexicalRank = &rank
		} else {
			fr.VectorRank = &rank
		}
		results = append(results, fr)
	}
	return results
}

// hydrate resolves surviving row ids to full records, dropping any that
// vanished since the candidate lists were built.
func (e *Engine) hydrate(fused []FusedResult) ([]FusedResult, error) {
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(fused))
	for i, f := range fused {
		ids[i] = f.Record.RowID
	}
	records, err := e.db.GetRecordsByRowIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate results: %w", err)
	}
	byID := make(map[int64]*store.MemoryRecord, len(records))
	for i := range records {
		byID[records[i].RowID] = &records[i]
	}

	out := make([]FusedResult, 0, len(fused))
	for _, f := range fused {
		r, ok := byID[f.Record.RowID]
		if !ok || r.Status == store.StatusDeleted {
			continue
		}
		f.Record = *r
		out = append(out, f)

		// Retrieval counts as a use.
		if err := e.db.TouchRecord(r.RowID); err != nil {
			log.Printf("search: touch %s: %v", r.MemoryID, err)
		}
	}
	return out, nil
}

// temporalDecay computes decayBase^(ageDays^decayExponent): steep early
// forgetting that flattens with age. Zero age decays to exactly 1.
func temporalDecay(base, exponent, ageDays float64) float64 {
	if ageDays <= 0 {
		return 1.0
	}
	return math.Pow(base, math.Pow(ageDays, exponent))
}

// EngineStats is a point-in-time view of search activity.
type EngineStats struct {
	Searches      int       `json:"searches"`
	LexicalErrors int       `json:"lexical_errors"`
	VectorErrors  int       `json:"vector_errors"`
	LastSearch    time.Time `json:"last_search,omitempty"`
	Embedder      string    `json:"embedder,omitempty"`
}

// Stats returns search activity counters.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := EngineStats{
		Searches:      e.searches,
		LexicalErrors: e.lexicalErrors,
		VectorErrors:  e.vectorErrors,
		LastSearch:    e.lastSearch,
	}
	if e.embedder != nil {
		s.Embedder = e.embedder.Model()
	}
	return s
}
