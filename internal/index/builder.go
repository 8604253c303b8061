package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"rootcause/internal/chunker"
	"rootcause/internal/crawler"
	"rootcause/internal/knowledge"
	"rootcause/internal/storage"
)

type Options struct {
	Metric         knowledge.Metric
	EmbeddingModel string
	BatchSize      int
	Revision       string
	Logger         *slog.Logger
}

// Builder turns documents into a published vector index.
type Builder struct {
	splitter  chunker.Splitter
	embedder  knowledge.Embedder
	publisher storage.Publisher
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

func NewBuilder(splitter chunker.Splitter, embedder knowledge.Embedder, publisher storage.Publisher, opts Options) *Builder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Metric == "" {
		opts.Metric = knowledge.MetricCosine
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Builder{
		splitter:  splitter,
		embedder:  embedder,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// BuildFromRoot crawls root and builds the index from what it finds.
func (b *Builder) BuildFromRoot(ctx context.Context, c *crawler.Crawler, root string) (storage.Manifest, error) {
	docs, err := c.Collect(root)
	if err != nil {
		return storage.Manifest{}, fmt.Errorf("scan failed: %w", err)
	}
	m, err := b.Build(ctx, docs)
	var empty *storage.EmptyIndexError
	if errors.As(err, &empty) {
		empty.Root = root
	}
	return m, err
}

// Build chunks, embeds and publishes docs. Nothing is published unless every
// chunk was embedded; an empty corpus leaves the current index untouched.
func (b *Builder) Build(ctx context.Context, docs []knowledge.Document) (storage.Manifest, error) {
	if _, err := knowledge.ParseMetric(string(b.opts.Metric)); err != nil {
		return storage.Manifest{}, err
	}

	chunks, err := b.chunk(docs)
	if err != nil {
		return storage.Manifest{}, err
	}
	if len(chunks) == 0 {
		return storage.Manifest{}, &storage.EmptyIndexError{Documents: len(docs)}
	}
	b.logger.Info("chunked documents", "documents", len(docs), "chunks", len(chunks))

	vectors, err := b.embed(ctx, chunks)
	if err != nil {
		return storage.Manifest{}, err
	}

	items := make([]knowledge.VectorItem, len(chunks))
	for i, c := range chunks {
		items[i] = knowledge.VectorItem{Chunk: c, Embedding: vectors[i], Position: i}
	}

	manifest := storage.Manifest{
		BuildID:        uuid.NewString(),
		Metric:         b.opts.Metric,
		EmbeddingModel: b.opts.EmbeddingModel,
		Dimension:      len(vectors[0]),
		ChunkCount:     len(items),
		Revision:       b.opts.Revision,
		CreatedAt:      b.now().UTC(),
	}
	if err := b.publisher.Publish(ctx, storage.Snapshot{Manifest: manifest, Items: items}); err != nil {
		return storage.Manifest{}, fmt.Errorf("publish index: %w", err)
	}
	return manifest, nil
}

// chunk splits every document and drops whitespace-only chunks.
func (b *Builder) chunk(docs []knowledge.Document) ([]knowledge.Chunk, error) {
	var out []knowledge.Chunk
	for _, doc := range docs {
		chunks, err := b.splitter.Split(doc)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			if strings.TrimSpace(c.Content) == "" {
				continue
			}
			out = append(out, c)
		}
	}
	return out, nil
}

func (b *Builder) embed(ctx context.Context, chunks []knowledge.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += b.opts.BatchSize {
		end := min(start+b.opts.BatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}

		batch, err := b.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
		}
		if len(batch) != len(texts) {
			return nil, &knowledge.EmbeddingServiceError{
				Provider: "embedder",
				Message:  fmt.Sprintf("embedding count mismatch: got %d, expected %d", len(batch), len(texts)),
			}
		}
		vectors = append(vectors, batch...)
		b.logger.Debug("embedded batch", "from", start, "to", end, "total", len(chunks))
	}

	if err := knowledge.CheckVectors("embedder", vectors, len(chunks)); err != nil {
		return nil, err
	}
	return vectors, nil
}
