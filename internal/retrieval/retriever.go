package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"rootcause/internal/knowledge"
	"rootcause/internal/storage"
)

// Match is one retrieved chunk. Rank starts at 1.
type Match struct {
	Rank     int
	Score    float32
	Position int
	Chunk    knowledge.Chunk
}

// Result holds at most top_k matches ordered by descending score.
type Result struct {
	Matches  []Match
	Manifest storage.Manifest
}

// Sources lists the source path of every match in rank order.
func (r Result) Sources() []string {
	out := make([]string, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = m.Chunk.SourcePath
	}
	return out
}

// MetricMismatchError means the index was built with a different similarity metric.
type MetricMismatchError struct {
	Index      knowledge.Metric
	Configured knowledge.Metric
}

func (e *MetricMismatchError) Error() string {
	return fmt.Sprintf("index was built with metric %q but %q is configured: rebuild the index", e.Index, e.Configured)
}

// Retriever embeds a query and ranks the published chunks against it.
type Retriever struct {
	loader   storage.Loader
	embedder knowledge.Embedder
	metric   knowledge.Metric
	logger   *slog.Logger
}

func New(loader storage.Loader, embedder knowledge.Embedder, metric knowledge.Metric, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Retriever{loader: loader, embedder: embedder, metric: metric, logger: logger}
}

// Retrieve returns the topK chunks most similar to query. Equal scores keep
// insertion order, so repeated calls and growing topK give stable prefixes.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) (Result, error) {
	if topK <= 0 {
		return Result{}, fmt.Errorf("top_k must be positive, got %d", topK)
	}
	if strings.TrimSpace(query) == "" {
		return Result{}, fmt.Errorf("query is empty")
	}

	if searcher, ok := r.loader.(storage.Searcher); ok {
		return r.search(ctx, searcher, query, topK)
	}

	snap, err := r.loader.Load(ctx)
	if err != nil {
		return Result{}, err
	}
	if err := r.checkMetric(snap.Manifest); err != nil {
		return Result{}, err
	}
	vec, err := r.embedQuery(ctx, query, snap.Manifest.Dimension)
	if err != nil {
		return Result{}, err
	}

	scored := make([]storage.ScoredItem, len(snap.Items))
	for i, item := range snap.Items {
		scored[i] = storage.ScoredItem{Item: item, Score: snap.Manifest.Metric.Score(vec, item.Embedding)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Item.Position < scored[j].Item.Position
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return r.result(snap.Manifest, scored), nil
}

func (r *Retriever) search(ctx context.Context, searcher storage.Searcher, query string, topK int) (Result, error) {
	var vec []float32
	var lastDim int
	for attempt := 0; ; attempt++ {
		m, err := r.loader.Manifest(ctx)
		if err != nil {
			return Result{}, err
		}
		if err := r.checkMetric(m); err != nil {
			return Result{}, err
		}
		if vec == nil || lastDim != m.Dimension {
			if vec, err = r.embedQuery(ctx, query, m.Dimension); err != nil {
				return Result{}, err
			}
			lastDim = m.Dimension
		}
		scored, err := searcher.Search(ctx, vec, m, topK)
		if errors.Is(err, storage.ErrIndexChanged) && attempt == 0 {
			r.logger.Debug("index republished during search, retrying", "build_id", m.BuildID)
			continue
		}
		if err != nil {
			return Result{}, err
		}
		return r.result(m, scored), nil
	}
}

func (r *Retriever) checkMetric(m storage.Manifest) error {
	if r.metric != "" && m.Metric != r.metric {
		return &MetricMismatchError{Index: m.Metric, Configured: r.metric}
	}
	return nil
}

func (r *Retriever) embedQuery(ctx context.Context, query string, dim int) ([]float32, error) {
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if err := knowledge.CheckVectors("embedder", vecs, 1); err != nil {
		return nil, err
	}
	if len(vecs[0]) != dim {
		return nil, &knowledge.EmbeddingServiceError{
			Provider: "embedder",
			Message:  fmt.Sprintf("query dimension %d does not match index dimension %d", len(vecs[0]), dim),
		}
	}
	return vecs[0], nil
}

func (r *Retriever) result(m storage.Manifest, scored []storage.ScoredItem) Result {
	res := Result{Manifest: m, Matches: make([]Match, len(scored))}
	for i, s := range scored {
		res.Matches[i] = Match{Rank: i + 1, Score: s.Score, Position: s.Item.Position, Chunk: s.Item.Chunk}
	}
	r.logger.Debug("retrieved chunks", "count", len(res.Matches), "sources", res.Sources())
	return res
}
