package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rootcause/internal/knowledge"
)

// Manifest describes a published index. It is written together with the
// vectors and checked by readers before any similarity is computed.
type Manifest struct {
	BuildID        string           `json:"build_id"`
	Metric         knowledge.Metric `json:"metric"`
	EmbeddingModel string           `json:"embedding_model"`
	Dimension      int              `json:"dimension"`
	ChunkCount     int              `json:"chunk_count"`
	Revision       string           `json:"revision,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Snapshot is a complete index: every vector plus its manifest.
type Snapshot struct {
	Manifest Manifest
	Items    []knowledge.VectorItem
}

// ScoredItem is a stored item with its similarity to a query.
type ScoredItem struct {
	Item  knowledge.VectorItem
	Score float32
}

// Publisher replaces the current index with a new snapshot in one step.
// Readers observe either the previous index or the new one.
type Publisher interface {
	Publish(ctx context.Context, snap Snapshot) error
}

// Loader reads the published index.
type Loader interface {
	Load(ctx context.Context) (*Snapshot, error)
	Manifest(ctx context.Context) (Manifest, error)
}

// Searcher is implemented by backends that rank vectors themselves.
// Results are ordered by descending score, ties by ascending position.
// expect is the manifest the query was embedded against; a backend whose
// published build differs returns ErrIndexChanged.
type Searcher interface {
	Search(ctx context.Context, query []float32, expect Manifest, topK int) ([]ScoredItem, error)
}

// Index combines the read and write sides of a backend.
type Index interface {
	Publisher
	Loader
	Location() string
	Close() error
}

type Options struct {
	Backend     string // sqlite, pgvector
	Path        string
	PostgresDSN string
	Table       string
	Logger      *slog.Logger
}

// Open returns the backend named by opts.Backend. Opening never creates an index.
func Open(ctx context.Context, opts Options) (Index, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "sqlite":
		return NewSQLiteIndex(opts.Path, opts.Logger), nil
	case "pgvector", "postgres":
		return NewPostgresIndex(ctx, opts.PostgresDSN, opts.Table, opts.Logger)
	default:
		return nil, fmt.Errorf("unsupported index backend: %s", opts.Backend)
	}
}

func (s Snapshot) validate() error {
	if len(s.Items) == 0 {
		return fmt.Errorf("refusing to publish an empty index")
	}
	if s.Manifest.ChunkCount != len(s.Items) {
		return fmt.Errorf("manifest chunk count %d does not match %d items", s.Manifest.ChunkCount, len(s.Items))
	}
	if _, err := knowledge.ParseMetric(string(s.Manifest.Metric)); err != nil {
		return err
	}
	for i, item := range s.Items {
		if len(item.Embedding) != s.Manifest.Dimension {
			return fmt.Errorf("item %d has dimension %d, manifest says %d", i, len(item.Embedding), s.Manifest.Dimension)
		}
	}
	return nil
}
