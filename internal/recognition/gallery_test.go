package recognition

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/kiosk/internal/models"
	"github.com/your-org/kiosk/internal/storage"
)

type failingRepo struct {
	*storage.MemoryStore
	saveErr error
}

func (f *failingRepo) Save(ctx context.Context, vectors [][]float32, identities []string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.MemoryStore.Save(ctx, vectors, identities)
}

func TestGalleryAddAndRemove(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	g := NewGallery(store)

	require.NoError(t, g.Add(ctx, "  Alice ", [][]float32{unit(3, 0), unit(3, 1)}))
	require.NoError(t, g.Add(ctx, "Bob", [][]float32{unit(3, 2)}))

	snap := g.All()
	assert.Equal(t, 3, snap.Len())
	assert.Equal(t, []string{"Alice", "Alice", "Bob"}, snap.Identities)
	assert.Equal(t, []string{"Alice", "Bob"}, g.Identities())
	assert.Equal(t, 2, g.Count("Alice"))

	vectors, ids, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, vectors, 3)
	assert.Equal(t, snap.Identities, ids)

	removed, err := g.Remove(ctx, "Alice")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"Bob"}, g.All().Identities)

	removed, err = g.Remove(ctx, "Alice")
	require.NoError(t, err)
	assert.False(t, removed)

	// Earlier snapshots are unaffected by later writes.
	assert.Equal(t, 3, snap.Len())
}

func TestGalleryRejectsReservedNames(t *testing.T) {
	g := NewGallery(storage.NewMemoryStore())
	for _, name := range []string{"", "   ", "Unknown", "spoofing attempt"} {
		err := g.Add(context.Background(), name, [][]float32{unit(2, 0)})
		assert.Error(t, err, name)
	}
	assert.ErrorIs(t, g.Add(context.Background(), "unknown", [][]float32{unit(2, 0)}), models.ErrReservedIdentity)
	assert.Zero(t, g.Len())
}

func TestGalleryRejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	g := NewGallery(storage.NewMemoryStore())
	require.NoError(t, g.Add(ctx, "Alice", [][]float32{unit(4, 0)}))

	err := g.Add(ctx, "Bob", [][]float32{unit(3, 0)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	assert.ErrorIs(t, g.Add(ctx, "Bob", nil), ErrNoVectors)
	assert.Equal(t, 1, g.Len())
}

func TestGalleryKeepsSnapshotWhenSaveFails(t *testing.T) {
	ctx := context.Background()
	repo := &failingRepo{MemoryStore: storage.NewMemoryStore()}
	g := NewGallery(repo)
	require.NoError(t, g.Add(ctx, "Alice", [][]float32{unit(2, 0)}))

	repo.saveErr = errors.New("disk full")
	err := g.Add(ctx, "Bob", [][]float32{unit(2, 1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, []string{"Alice"}, g.All().Identities)

	_, err = g.Remove(ctx, "Alice")
	require.Error(t, err)
	assert.Equal(t, 1, g.Len())
}

func TestGalleryReload(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Save(ctx, [][]float32{unit(2, 0), unit(2, 1)}, []string{"Alice", "Bob"}))

	g := NewGallery(store)
	assert.Zero(t, g.Len())
	require.NoError(t, g.Reload(ctx))
	assert.Equal(t, []string{"Alice", "Bob"}, g.All().Identities)
	assert.Equal(t, 2, g.All().Dim())
}
