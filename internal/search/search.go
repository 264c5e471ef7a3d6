package search

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/andresmejia3/guidecam/internal/types"
)

var ErrDimensionMismatch = errors.New("query dimension does not match corpus")

// Result is one ranked corpus entry.
type Result struct {
	Index    int     // position in the corpus snapshot
	ID       string  // record identifier (guide image path)
	Distance float64 // cosine distance, 0 = same direction
}

// Corpus is the read side of a feature database snapshot.
type Corpus interface {
	Len() int
	Dimension() int
	Vector(i int) types.FeatureVector
	ID(i int) string
}

// roundingSlack absorbs floating-point error so identical directions score 0.
const roundingSlack = 1e-9

// CosineDist returns 1 - cos(a, b), clamped to [0, 2]. A zero-length or
// zero-norm vector is treated as maximally unrelated and yields 1.0.
func CosineDist(a, b []float64) float64 {
	var dot, sumA, sumB float64
	for i := range a {
		dot += a[i] * b[i]
		sumA += a[i] * a[i]
		sumB += b[i] * b[i]
	}
	if sumA == 0 || sumB == 0 {
		return 1.0
	}
	d := 1.0 - (dot / (math.Sqrt(sumA) * math.Sqrt(sumB)))
	switch {
	case d < roundingSlack:
		return 0
	case d > 2:
		return 2
	}
	return d
}

// Search ranks every corpus entry by cosine distance to query and returns the
// k closest. Equal distances keep corpus order, so results are reproducible.
func Search(query types.FeatureVector, db Corpus, k int) ([]Result, error) {
	if db == nil || db.Len() == 0 || k <= 0 {
		return []Result{}, nil
	}
	if query.Dim() != db.Dimension() {
		return nil, fmt.Errorf("%w: query %d, corpus %d", ErrDimensionMismatch, query.Dim(), db.Dimension())
	}

	results := make([]Result, db.Len())
	for i := range results {
		results[i] = Result{
			Index:    i,
			ID:       db.ID(i),
			Distance: CosineDist(query, db.Vector(i)),
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}
