package knowledge

import "fmt"

// EmbeddingServiceError is returned when the embedding backend fails or
// answers with something that cannot be used as a vector.
type EmbeddingServiceError struct {
	Provider   string
	StatusCode int // 0 when no HTTP response was received
	Message    string
	Err        error
}

func (e *EmbeddingServiceError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s embedding service error (%d): %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s embedding service error: %s", e.Provider, msg)
}

func (e *EmbeddingServiceError) Unwrap() error { return e.Err }

// InferenceError is returned when the language model call fails.
type InferenceError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *InferenceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s inference failed (%d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s inference failed: %v", e.Provider, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

func embedErr(provider string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*EmbeddingServiceError); ok {
		return err
	}
	return &EmbeddingServiceError{Provider: provider, Err: err}
}

// CheckVectors validates a backend answer against the request that produced it.
func CheckVectors(provider string, vecs [][]float32, want int) error {
	if len(vecs) != want {
		return &EmbeddingServiceError{
			Provider: provider,
			Message:  fmt.Sprintf("embedding count mismatch: got %d, expected %d", len(vecs), want),
		}
	}
	dim := -1
	for i, v := range vecs {
		if len(v) == 0 {
			return &EmbeddingServiceError{Provider: provider, Message: fmt.Sprintf("embedding missing at index %d", i)}
		}
		if dim >= 0 && len(v) != dim {
			return &EmbeddingServiceError{
				Provider: provider,
				Message:  fmt.Sprintf("inconsistent embedding dimension at index %d: got %d, expected %d", i, len(v), dim),
			}
		}
		dim = len(v)
	}
	return nil
}
