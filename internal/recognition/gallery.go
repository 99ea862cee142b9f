package recognition

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/your-org/kiosk/internal/models"
	"github.com/your-org/kiosk/internal/observability"
)

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrNoVectors         = errors.New("no embedding vectors supplied")
	ErrCorruptGallery    = errors.New("gallery vectors and identities differ in length")
)

// EmbeddingRepository persists the full gallery.
type EmbeddingRepository interface {
	Load(ctx context.Context) ([][]float32, []string, error)
	Save(ctx context.Context, vectors [][]float32, identities []string) error
}

// Snapshot is an immutable view of the gallery. Vectors[i] belongs to
// Identities[i]. Callers must not modify it.
type Snapshot struct {
	Vectors    [][]float32
	Identities []string
}

func (s *Snapshot) Len() int { return len(s.Vectors) }

// Dim is the embedding length, or 0 for an empty gallery.
func (s *Snapshot) Dim() int {
	if len(s.Vectors) == 0 {
		return 0
	}
	return len(s.Vectors[0])
}

// Gallery holds enrolled embeddings in memory. Readers get copy-on-write
// snapshots and never wait for a writer.
type Gallery struct {
	repo EmbeddingRepository
	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]
}

func NewGallery(repo EmbeddingRepository) *Gallery {
	g := &Gallery{repo: repo}
	g.snap.Store(&Snapshot{})
	return g
}

// Reload replaces the in-memory gallery with the repository contents.
func (g *Gallery) Reload(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	vectors, identities, err := g.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("load gallery: %w", err)
	}
	if len(vectors) != len(identities) {
		return ErrCorruptGallery
	}
	for i := range vectors {
		if len(vectors[i]) != len(vectors[0]) {
			return fmt.Errorf("load gallery: record %d: %w", i, ErrDimensionMismatch)
		}
	}
	g.publish(&Snapshot{Vectors: vectors, Identities: identities})
	return nil
}

// Add appends vectors under identity and persists the gallery. The in-memory
// view changes only if the save succeeds.
func (g *Gallery) Add(ctx context.Context, identity string, vectors [][]float32) error {
	identity = strings.TrimSpace(identity)
	if err := models.ValidateEnrollmentName(identity); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return ErrNoVectors
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.snap.Load()
	dim := cur.Dim()
	if dim == 0 {
		dim = len(vectors[0])
	}
	for _, v := range vectors {
		if len(v) == 0 || len(v) != dim {
			return fmt.Errorf("add %s: %w (want %d, got %d)", identity, ErrDimensionMismatch, dim, len(v))
		}
	}

	next := &Snapshot{
		Vectors:    make([][]float32, 0, cur.Len()+len(vectors)),
		Identities: make([]string, 0, cur.Len()+len(vectors)),
	}
	next.Vectors = append(next.Vectors, cur.Vectors...)
	next.Identities = append(next.Identities, cur.Identities...)
	for _, v := range vectors {
		next.Vectors = append(next.Vectors, slices.Clone(v))
		next.Identities = append(next.Identities, identity)
	}

	if err := g.repo.Save(ctx, next.Vectors, next.Identities); err != nil {
		return fmt.Errorf("save gallery: %w", err)
	}
	g.publish(next)
	return nil
}

// Remove drops every vector of identity. It reports whether any were removed.
func (g *Gallery) Remove(ctx context.Context, identity string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.snap.Load()
	next := &Snapshot{}
	for i, id := range cur.Identities {
		if id != identity {
			next.Vectors = append(next.Vectors, cur.Vectors[i])
			next.Identities = append(next.Identities, id)
		}
	}
	if next.Len() == cur.Len() {
		return false, nil
	}

	if err := g.repo.Save(ctx, next.Vectors, next.Identities); err != nil {
		return false, fmt.Errorf("save gallery: %w", err)
	}
	g.publish(next)
	return true, nil
}

// All returns the current snapshot.
func (g *Gallery) All() *Snapshot {
	return g.snap.Load()
}

// Identities returns the distinct enrolled names, sorted.
func (g *Gallery) Identities() []string {
	snap := g.snap.Load()
	seen := make(map[string]struct{}, snap.Len())
	var out []string
	for _, id := range snap.Identities {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Count returns how many samples identity has.
func (g *Gallery) Count(identity string) int {
	n := 0
	for _, id := range g.snap.Load().Identities {
		if id == identity {
			n++
		}
	}
	return n
}

func (g *Gallery) Len() int {
	return g.snap.Load().Len()
}

func (g *Gallery) publish(s *Snapshot) {
	g.snap.Store(s)
	observability.GallerySize.Set(float64(s.Len()))
}
