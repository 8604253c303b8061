package knowledge

import (
	"fmt"
	"math"
)

// Metric names the similarity function shared by index build and query time.
type Metric string

const (
	MetricCosine       Metric = "cosine"
	MetricInnerProduct Metric = "inner_product"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, MetricInnerProduct:
		return Metric(s), nil
	default:
		return "", fmt.Errorf("unknown similarity metric %q", s)
	}
}

// Score returns the similarity of a and b; higher means more similar.
func (m Metric) Score(a, b []float32) float32 {
	switch m {
	case MetricInnerProduct:
		return innerProduct(a, b)
	default:
		return cosineSimilarity(a, b)
	}
}

func innerProduct(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float32
	for i := 0; i < len(a); i++ {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(magA))) * float32(math.Sqrt(float64(magB))))
}
