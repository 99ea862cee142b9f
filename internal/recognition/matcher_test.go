package recognition

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/kiosk/internal/models"
)

func unit(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func TestMatchWithinTolerance(t *testing.T) {
	m, err := NewMatcher(DefaultTolerance)
	require.NoError(t, err)

	snap := &Snapshot{Vectors: [][]float32{unit(4, 0)}, Identities: []string{"Alice"}}
	query := []float32{0.9, 0, 0, 0}

	res := m.Match(query, snap)
	assert.Equal(t, models.Known("Alice"), res.Identity)
	assert.InDelta(t, 0.1, res.Distance, 1e-6)
	assert.InDelta(t, 90, res.Confidence, 1e-4)
}

func TestMatchEmptyGallery(t *testing.T) {
	m, err := NewMatcher(DefaultTolerance)
	require.NoError(t, err)

	for _, snap := range []*Snapshot{nil, {}} {
		res := m.Match([]float32{0.3, 0.4}, snap)
		assert.True(t, res.Identity.IsUnknown())
		assert.Zero(t, res.Confidence)
		assert.True(t, math.IsInf(res.Distance, 1))
	}
}

func TestMatchBeyondTolerance(t *testing.T) {
	m, err := NewMatcher(0.3)
	require.NoError(t, err)

	snap := &Snapshot{Vectors: [][]float32{unit(2, 0)}, Identities: []string{"Alice"}}
	res := m.Match(unit(2, 1), snap)
	assert.True(t, res.Identity.IsUnknown())
	assert.Zero(t, res.Confidence)
	assert.InDelta(t, math.Sqrt2, res.Distance, 1e-6)
}

func TestMatchAcceptsDistanceEqualToTolerance(t *testing.T) {
	m, err := NewMatcher(0.5)
	require.NoError(t, err)

	snap := &Snapshot{Vectors: [][]float32{{0, 0}}, Identities: []string{"Alice"}}
	res := m.Match([]float32{0.5, 0}, snap)
	assert.Equal(t, "Alice", res.Identity.Name())
	assert.InDelta(t, 50, res.Confidence, 1e-9)
}

func TestMatchTieGoesToFirstRecord(t *testing.T) {
	m, err := NewMatcher(1)
	require.NoError(t, err)

	snap := &Snapshot{
		Vectors:    [][]float32{{1, 0}, {-1, 0}, {1, 0}},
		Identities: []string{"Alice", "Bob", "Carol"},
	}
	res := m.Match([]float32{0, 0}, snap)
	assert.Equal(t, "Alice", res.Identity.Name())
}

func TestMatchRejectsMalformedQuery(t *testing.T) {
	m, err := NewMatcher(1)
	require.NoError(t, err)
	snap := &Snapshot{Vectors: [][]float32{unit(3, 0)}, Identities: []string{"Alice"}}

	cases := map[string][]float32{
		"short": {1, 0},
		"empty": nil,
		"nan":   {float32(math.NaN()), 0, 0},
		"inf":   {float32(math.Inf(1)), 0, 0},
	}
	for name, q := range cases {
		t.Run(name, func(t *testing.T) {
			var res MatchResult
			require.NotPanics(t, func() { res = m.Match(q, snap) })
			assert.True(t, res.Identity.IsUnknown())
			assert.Zero(t, res.Confidence)
		})
	}
}

func TestMatchReturnsTrueNearest(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	const dim, records = 16, 200

	snap := &Snapshot{}
	for i := 0; i < records; i++ {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		snap.Vectors = append(snap.Vectors, v)
		snap.Identities = append(snap.Identities, string(rune('A'+i%26))+"-student")
	}

	m, err := NewMatcher(1)
	require.NoError(t, err)

	for trial := 0; trial < 50; trial++ {
		src := snap.Vectors[r.IntN(records)]
		q := make([]float32, dim)
		for j := range q {
			q[j] = src[j] + float32(0.05*r.NormFloat64())
		}

		best, bestDist := 0, math.Inf(1)
		for i, v := range snap.Vectors {
			if d := euclidean(q, v); d < bestDist {
				best, bestDist = i, d
			}
		}

		first := m.Match(q, snap)
		second := m.Match(q, snap)
		assert.Equal(t, first, second)
		assert.InDelta(t, bestDist, first.Distance, 1e-9)
		if bestDist <= 1 {
			assert.Equal(t, snap.Identities[best], first.Identity.Name())
		} else {
			assert.True(t, first.Identity.IsUnknown())
		}
	}
}

func TestSetTolerance(t *testing.T) {
	m, err := NewMatcher(DefaultTolerance)
	require.NoError(t, err)

	require.NoError(t, m.SetTolerance(0.6))
	assert.Equal(t, 0.6, m.Tolerance())

	for _, bad := range []float64{-0.1, 1.5, math.NaN()} {
		assert.ErrorIs(t, m.SetTolerance(bad), ErrInvalidTolerance)
		assert.Equal(t, 0.6, m.Tolerance())
	}

	_, err = NewMatcher(2)
	assert.ErrorIs(t, err, ErrInvalidTolerance)
}
