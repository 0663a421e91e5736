package recognition

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Tutortoise/face-attendance-service/models"
)

// ErrDimensionMismatch is returned when two embeddings differ in length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Metric measures how far apart two embeddings are. Smaller is closer.
type Metric func(a, b models.Embedding) (float64, error)

// Metric names accepted by ParseMetric.
const (
	MetricEuclidean = "euclidean"
	MetricCosine    = "cosine"
)

func ParseMetric(name string) (Metric, error) {
	switch strings.ToLower(name) {
	case MetricEuclidean, "l2", "":
		return Euclidean, nil
	case MetricCosine:
		return Cosine, nil
	default:
		return nil, fmt.Errorf("unknown match metric %q", name)
	}
}

// Euclidean is the L2 distance.
func Euclidean(a, b models.Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Cosine is 1 minus the cosine similarity, in [0, 2]. A zero vector is
// treated as maximally distant.
func Cosine(a, b models.Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		va, vb := float64(a[i]), float64(b[i])
		dot += va * vb
		na += va * va
		nb += vb * vb
	}
	if na == 0 || nb == 0 {
		return 2, nil
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), nil
}

// bestMatch returns the index of the closest known embedding and its
// distance, or -1 when nothing is comparable.
func bestMatch(metric Metric, query models.Embedding, known []models.Embedding) (int, float64) {
	best, bestDist := -1, math.Inf(1)
	for i, k := range known {
		d, err := metric(query, k)
		if err != nil {
			continue
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}
