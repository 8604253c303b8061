package storage

import (
	"errors"
	"fmt"
)

// IndexNotFoundError means nothing has been published at Location yet.
type IndexNotFoundError struct {
	Location string
	Err      error
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("no index found at %s: run `rootcause index` first", e.Location)
}

func (e *IndexNotFoundError) Unwrap() error { return e.Err }

// EmptyIndexError is returned when a build produces no chunks. The previously
// published index is left in place.
type EmptyIndexError struct {
	Root      string
	Documents int
}

func (e *EmptyIndexError) Error() string {
	return fmt.Sprintf("no indexable chunks found under %s (%d documents); existing index left untouched", e.Root, e.Documents)
}

// ErrIndexChanged means a rebuild was published between reading the manifest
// and querying the vectors.
var ErrIndexChanged = errors.New("index changed during query")
