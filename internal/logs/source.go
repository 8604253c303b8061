package logs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Stream is the raw text of one log source, or the error that prevented reading it.
type Stream struct {
	Name string
	Text string
	Err  error
}

// Source enumerates log sources and reads each of them. Failing to enumerate is
// returned as an error; failing to read a single source is recorded in its Stream.
type Source interface {
	Collect(ctx context.Context) ([]Stream, error)
}

// LogAccessError reports a log source that could not be listed or read.
type LogAccessError struct {
	Source string
	Err    error
}

func (e *LogAccessError) Error() string {
	return fmt.Sprintf("failed to read logs from %s: %v", e.Source, e.Err)
}

func (e *LogAccessError) Unwrap() error { return e.Err }

// FileSource reads log files from disk, in the order given.
type FileSource struct {
	Paths []string
}

func (f FileSource) Collect(ctx context.Context) ([]Stream, error) {
	if len(f.Paths) == 0 {
		return nil, &LogAccessError{Source: "files", Err: fmt.Errorf("no log files given")}
	}
	streams := make([]Stream, 0, len(f.Paths))
	for _, p := range f.Paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := filepath.Base(p)
		data, err := os.ReadFile(p)
		if err != nil {
			streams = append(streams, Stream{Name: name, Err: &LogAccessError{Source: name, Err: err}})
			continue
		}
		streams = append(streams, Stream{Name: name, Text: string(data)})
	}
	return streams, nil
}

// StaticSource returns fixed streams.
type StaticSource []Stream

func (s StaticSource) Collect(context.Context) ([]Stream, error) {
	return append([]Stream(nil), s...), nil
}
