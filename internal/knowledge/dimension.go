package knowledge

import "sync"

// dimensionTracker holds the dimension requested from the backend, if any,
// and the dimension the backend actually returned. Only the configured value
// is ever sent on the wire.
type dimensionTracker struct {
	configured int

	mu       sync.Mutex
	observed int
}

func (d *dimensionTracker) value() int {
	if d.configured > 0 {
		return d.configured
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.observed
}

func (d *dimensionTracker) observe(vecs [][]float32) {
	if d.configured > 0 || len(vecs) == 0 {
		return
	}
	d.mu.Lock()
	if d.observed == 0 {
		d.observed = len(vecs[0])
	}
	d.mu.Unlock()
}

// orderByIndex places vecs by the indices the backend reported when they form
// a permutation of 0..n-1 and keeps response order otherwise.
func orderByIndex(indices []int, vecs [][]float32) [][]float32 {
	n := len(vecs)
	if len(indices) != n {
		return vecs
	}
	out := make([][]float32, n)
	seen := make([]bool, n)
	for i, idx := range indices {
		if idx < 0 || idx >= n || seen[idx] {
			return vecs
		}
		seen[idx] = true
		out[idx] = vecs[i]
	}
	return out
}
