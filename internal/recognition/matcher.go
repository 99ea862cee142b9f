package recognition

import (
	"errors"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/your-org/kiosk/internal/models"
)

const DefaultTolerance = 0.45

var ErrInvalidTolerance = errors.New("tolerance must be in [0,1]")

type MatchResult struct {
	Identity   models.Identity
	Confidence float64
	Distance   float64
}

func unknownMatch() MatchResult {
	return MatchResult{Identity: models.Unknown, Confidence: 0, Distance: math.Inf(1)}
}

// Matcher finds the nearest gallery embedding under Euclidean distance.
type Matcher struct {
	tolerance atomic.Uint64
}

func NewMatcher(tolerance float64) (*Matcher, error) {
	m := &Matcher{}
	if err := validTolerance(tolerance); err != nil {
		return nil, err
	}
	m.tolerance.Store(math.Float64bits(tolerance))
	return m, nil
}

func (m *Matcher) Tolerance() float64 {
	return math.Float64frombits(m.tolerance.Load())
}

// SetTolerance changes the acceptance distance. Invalid values are rejected
// and the current tolerance is kept.
func (m *Matcher) SetTolerance(v float64) error {
	if err := validTolerance(v); err != nil {
		slog.Warn("rejected tolerance", "tolerance", v, "current", m.Tolerance())
		return err
	}
	m.tolerance.Store(math.Float64bits(v))
	slog.Info("tolerance updated", "tolerance", v)
	return nil
}

func validTolerance(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return ErrInvalidTolerance
	}
	return nil
}

// Match returns the nearest record when it lies within tolerance. Ties go to
// the earliest record. Malformed embeddings yield Unknown.
func (m *Matcher) Match(embedding []float32, snap *Snapshot) MatchResult {
	if snap == nil || snap.Len() == 0 {
		return unknownMatch()
	}
	if len(embedding) == 0 || len(embedding) != snap.Dim() {
		slog.Warn("embedding dimension mismatch", "got", len(embedding), "want", snap.Dim())
		return unknownMatch()
	}
	for _, x := range embedding {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			slog.Warn("embedding has non-finite values")
			return unknownMatch()
		}
	}

	best, bestDist := -1, math.Inf(1)
	for i, v := range snap.Vectors {
		if len(v) != len(embedding) {
			continue
		}
		if d := euclidean(embedding, v); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return unknownMatch()
	}

	if bestDist > m.Tolerance() {
		return MatchResult{Identity: models.Unknown, Confidence: 0, Distance: bestDist}
	}
	conf := math.Max(0, math.Min(100, (1-bestDist)*100))
	return MatchResult{
		Identity:   models.Known(snap.Identities[best]),
		Confidence: conf,
		Distance:   bestDist,
	}
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
