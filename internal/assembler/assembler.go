package assembler

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"rootcause/internal/logs"
	"rootcause/internal/retrieval"
)

// Context is the text handed to inference plus the source list handed to presentation.
type Context struct {
	Errors     []string
	Blocks     []string
	Sources    []string
	ChunkCount int
	// Length is the rune count of Body().
	Length int
}

// Assemble renders the signal and the retrieved chunks in rank order.
func Assemble(signal logs.Signal, result retrieval.Result) Context {
	c := Context{Errors: append([]string(nil), signal.Lines...)}
	for _, m := range result.Matches {
		c.Blocks = append(c.Blocks, fmt.Sprintf("// Source: %s\n%s", m.Chunk.SourcePath, m.Chunk.Content))
		c.Sources = append(c.Sources, m.Chunk.SourcePath)
	}
	c.ChunkCount = len(c.Blocks)
	c.Length = utf8.RuneCountInString(c.Body())
	return c
}

// Code is the retrieved blocks separated by blank lines.
func (c Context) Code() string {
	return strings.Join(c.Blocks, "\n\n")
}

// Body is the error lines, a blank line, then Code().
func (c Context) Body() string {
	return strings.Join(c.Errors, "\n") + "\n\n" + c.Code()
}

// Truncate drops the lowest-ranked blocks until Length is at most maxRunes.
// Error lines are always kept. A non-positive maxRunes leaves c unchanged.
func (c Context) Truncate(maxRunes int) Context {
	if maxRunes <= 0 || c.Length <= maxRunes {
		return c
	}
	out := Context{
		Errors:  c.Errors,
		Blocks:  append([]string(nil), c.Blocks...),
		Sources: append([]string(nil), c.Sources...),
	}
	for len(out.Blocks) > 0 {
		out.Length = utf8.RuneCountInString(out.Body())
		if out.Length <= maxRunes {
			break
		}
		out.Blocks = out.Blocks[:len(out.Blocks)-1]
		out.Sources = out.Sources[:len(out.Sources)-1]
	}
	out.ChunkCount = len(out.Blocks)
	out.Length = utf8.RuneCountInString(out.Body())
	return out
}
