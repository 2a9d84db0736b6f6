// Package retrieval selects the subset of candidate records most relevant
// to a query for inclusion in an LLM prompt, under a token budget.
//
// Three strategies: keyword (term occurrence counting), semantic (cosine
// similarity over stored embeddings) and hybrid (a linear blend). Semantic
// degrades to keyword whenever no engine or no embeddings are available;
// the builder never fails a request over ranking.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"temuan/internal/embedding"
	"temuan/internal/logging"
	"temuan/internal/types"
)

// Strategy selects the ranking function.
type Strategy string

const (
	StrategyKeyword  Strategy = "keyword"
	StrategySemantic Strategy = "semantic"
	StrategyHybrid   Strategy = "hybrid"
)

// hybridBlend is the semantic weight in the hybrid score (keyword gets the
// complement).
const hybridBlend = 0.5

// maxContextRecords caps the record count regardless of budget.
const maxContextRecords = 20

// EmbeddingSource provides stored record embeddings. Implemented by
// store.EmbeddingStore; nil disables the semantic strategy.
type EmbeddingSource interface {
	EmbeddingsFor(ctx context.Context, ids []string) (map[string][]float32, error)
}

// SimilaritySearcher is the optional fast path: rank in the store via
// sqlite-vec instead of in-process cosine.
type SimilaritySearcher interface {
	SearchSimilar(ctx context.Context, queryEmbed []float32, ids []string, topK int) (map[string]float64, error)
}

// BuildStats reports what the builder selected.
type BuildStats struct {
	Strategy   Strategy
	TokensUsed int
	Candidates int
	Selected   int
	Degraded   bool // semantic requested but keyword used
}

// ContextBuilder ranks candidates and truncates to the token budget.
type ContextBuilder struct {
	engine     embedding.Engine // may be nil
	embeddings EmbeddingSource  // may be nil
	budget     int
	counter    *TokenCounter
}

// NewContextBuilder creates a builder. budget <= 0 selects the default
// 10,000-token budget.
func NewContextBuilder(engine embedding.Engine, embeddings EmbeddingSource, budget int) *ContextBuilder {
	if budget <= 0 {
		budget = 10000
	}
	return &ContextBuilder{
		engine:     engine,
		embeddings: embeddings,
		budget:     budget,
		counter:    NewTokenCounter(),
	}
}

// Build returns the highest-scoring records in descending score order,
// stopping when the cumulative token estimate would exceed the budget.
// Records are never truncated mid-field; whole records are dropped at the
// boundary. An empty candidate set yields an empty result.
func (cb *ContextBuilder) Build(ctx context.Context, candidates []types.AuditRecord, intent types.RecognizedIntent, strategy Strategy) ([]types.AuditRecord, BuildStats) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "ContextBuilder.Build")
	defer timer.Stop()

	stats := BuildStats{Strategy: strategy, Candidates: len(candidates)}
	if len(candidates) == 0 {
		return nil, stats
	}

	keywordScores := cb.keywordScores(candidates, intent)

	var scores map[string]float64
	switch strategy {
	case StrategySemantic:
		semantic, ok := cb.semanticScores(ctx, candidates, intent)
		if !ok {
			stats.Strategy = StrategyKeyword
			stats.Degraded = true
			scores = keywordScores
			break
		}
		scores = semantic
	case StrategyHybrid:
		semantic, ok := cb.semanticScores(ctx, candidates, intent)
		if !ok {
			stats.Strategy = StrategyKeyword
			stats.Degraded = true
			scores = keywordScores
			break
		}
		scores = blend(normalize(keywordScores), semantic, hybridBlend)
	default:
		stats.Strategy = StrategyKeyword
		scores = keywordScores
	}

	ranked := make([]types.AuditRecord, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := scores[ranked[i].ID], scores[ranked[j].ID]
		if si != sj {
			return si > sj
		}
		if ranked[i].Nilai != ranked[j].Nilai {
			return ranked[i].Nilai > ranked[j].Nilai
		}
		return ranked[i].ID < ranked[j].ID
	})

	var selected []types.AuditRecord
	used := 0
	for _, r := range ranked {
		if len(selected) >= maxContextRecords {
			break
		}
		cost := cb.counter.CountRecord(r)
		if used+cost > cb.budget {
			// Whole records only; drop at the boundary.
			break
		}
		selected = append(selected, r)
		used += cost
	}

	stats.TokensUsed = used
	stats.Selected = len(selected)
	logging.Retrieval("context built: strategy=%s, selected=%d/%d, tokens=%d/%d",
		stats.Strategy, stats.Selected, stats.Candidates, used, cb.budget)
	return selected, stats
}

// keywordScores counts intent keyword occurrences across the searchable
// fields of each record.
func (cb *ContextBuilder) keywordScores(candidates []types.AuditRecord, intent types.RecognizedIntent) map[string]float64 {
	keywords := make([]string, 0, len(intent.Filters.Keywords))
	for _, kw := range intent.Filters.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}

	scores := make(map[string]float64, len(candidates))
	for _, r := range candidates {
		haystack := strings.ToLower(r.Summary())
		score := 0.0
		for _, kw := range keywords {
			score += float64(strings.Count(haystack, kw))
		}
		scores[r.ID] = score
	}
	return scores
}

// semanticScores embeds the intent and scores candidates by cosine
// similarity against their stored embeddings. Returns ok=false whenever the
// engine, the source or the vectors are unavailable.
func (cb *ContextBuilder) semanticScores(ctx context.Context, candidates []types.AuditRecord, intent types.RecognizedIntent) (map[string]float64, bool) {
	if cb.engine == nil || cb.embeddings == nil {
		return nil, false
	}

	queryText := intent.Intent
	if queryText == "" {
		queryText = strings.Join(intent.Filters.Keywords, " ")
	}
	if queryText == "" {
		return nil, false
	}

	queryEmbed, err := cb.engine.Embed(ctx, queryText)
	if err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("query embedding failed, falling back to keyword: %v", err)
		return nil, false
	}

	ids := make([]string, len(candidates))
	for i, r := range candidates {
		ids[i] = r.ID
	}

	// Fast path: rank inside the store when sqlite-vec is loaded.
	if searcher, ok := cb.embeddings.(SimilaritySearcher); ok {
		if scores, err := searcher.SearchSimilar(ctx, queryEmbed, ids, len(ids)); err == nil && len(scores) > 0 {
			return scores, true
		}
	}

	vectors, err := cb.embeddings.EmbeddingsFor(ctx, ids)
	if err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("embedding load failed, falling back to keyword: %v", err)
		return nil, false
	}
	if len(vectors) == 0 {
		return nil, false
	}

	scores := make(map[string]float64, len(vectors))
	for id, vec := range vectors {
		sim, err := embedding.CosineSimilarity(queryEmbed, vec)
		if err != nil {
			continue
		}
		scores[id] = sim
	}
	if len(scores) == 0 {
		return nil, false
	}
	return scores, true
}

// normalize scales scores into [0,1] by the maximum value.
func normalize(scores map[string]float64) map[string]float64 {
	maxScore := 0.0
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	if maxScore == 0 {
		return scores
	}
	out := make(map[string]float64, len(scores))
	for id, s := range scores {
		out[id] = s / maxScore
	}
	return out
}

// blend linearly combines two score maps: w*semantic + (1-w)*keyword.
func blend(keyword, semantic map[string]float64, w float64) map[string]float64 {
	out := make(map[string]float64, len(keyword))
	for id := range keyword {
		out[id] = w*semantic[id] + (1-w)*keyword[id]
	}
	for id, s := range semantic {
		if _, ok := out[id]; !ok {
			out[id] = w * s
		}
	}
	return out
}
