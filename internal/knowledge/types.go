package knowledge

import (
	"context"
)

// Document is one ingested source file.
type Document struct {
	Content    string
	SourcePath string
}

// Chunk is a bounded window of a Document and the unit of embedding and retrieval.
type Chunk struct {
	Content    string `json:"content"`
	SourcePath string `json:"source_path"`
	Index      int    `json:"index"`  // ordinal within the parent document
	Offset     int    `json:"offset"` // rune offset in the parent, -1 when unknown
}

// VectorItem represents a chunk paired with its embedding.
type VectorItem struct {
	Chunk     Chunk
	Embedding []float32
	// Position is the insertion order inside the index and breaks score ties.
	Position int
}

// Embedder defines the interface for converting text to vectors.
// Implementations return exactly one vector per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Analyst turns an assembled RCA prompt into a free-text explanation.
type Analyst interface {
	Analyze(ctx context.Context, prompt string) (string, error)
}
