package chunker

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"rootcause/internal/knowledge"
)

const (
	KindWindow    = "window"
	KindRecursive = "recursive"
)

// Splitter cuts a document into chunks. Sizes are measured in runes.
type Splitter interface {
	Split(doc knowledge.Document) ([]knowledge.Chunk, error)
}

// New returns the splitter named by kind. An empty kind selects the window splitter.
func New(kind string, size, overlap int) (Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindWindow:
		return Window{Size: size, Overlap: overlap}, nil
	case KindRecursive:
		return NewRecursive(size, overlap), nil
	default:
		return nil, fmt.Errorf("unknown splitter %q", kind)
	}
}

// Window emits fixed-size windows starting every Size-Overlap runes.
// Dropping the first Overlap runes of every chunk after the first and
// concatenating the rest yields the original content.
type Window struct {
	Size    int
	Overlap int
}

func (w Window) Split(doc knowledge.Document) ([]knowledge.Chunk, error) {
	if w.Size <= 0 || w.Overlap < 0 || w.Overlap >= w.Size {
		return nil, fmt.Errorf("invalid window %d/%d", w.Size, w.Overlap)
	}
	runes := []rune(doc.Content)
	if len(runes) == 0 {
		return nil, nil
	}

	step := w.Size - w.Overlap
	chunks := make([]knowledge.Chunk, 0, Count(len(runes), w.Size, w.Overlap))
	for start := 0; ; start += step {
		end := min(start+w.Size, len(runes))
		chunks = append(chunks, knowledge.Chunk{
			Content:    string(runes[start:end]),
			SourcePath: doc.SourcePath,
			Index:      len(chunks),
			Offset:     start,
		})
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}

// Count is the number of windows Split produces for a document of length runes.
func Count(length, size, overlap int) int {
	switch {
	case length <= 0:
		return 0
	case length <= size:
		return 1
	}
	step := size - overlap
	return (length - overlap + step - 1) / step
}

// Recursive splits on paragraph, line and word boundaries before falling back to runes.
type Recursive struct {
	splitter textsplitter.RecursiveCharacter
}

func NewRecursive(size, overlap int) Recursive {
	return Recursive{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
	}
}

func (r Recursive) Split(doc knowledge.Document) ([]knowledge.Chunk, error) {
	if doc.Content == "" {
		return nil, nil
	}
	parts, err := r.splitter.SplitText(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", doc.SourcePath, err)
	}
	chunks := make([]knowledge.Chunk, 0, len(parts))
	for _, p := range parts {
		chunks = append(chunks, knowledge.Chunk{
			Content:    p,
			SourcePath: doc.SourcePath,
			Index:      len(chunks),
			Offset:     -1,
		})
	}
	return chunks, nil
}
