package liveness

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texture(w, h int, shift float64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := 128 + 60*math.Sin((float64(x)-shift)/5) + 60*math.Cos(float64(y)/7)
			img.SetGray(x, y, color.Gray{Y: uint8(math.Max(0, math.Min(255, v)))})
		}
	}
	return img
}

func TestLucasKanadeStatic(t *testing.T) {
	a := texture(64, 48, 0)
	mag, err := LucasKanade{}.MeanMagnitude(a, a, 1)
	require.NoError(t, err)
	assert.Zero(t, mag)
}

func TestLucasKanadeDetectsShift(t *testing.T) {
	mag, err := LucasKanade{}.MeanMagnitude(texture(64, 48, 0), texture(64, 48, 1), 1)
	require.NoError(t, err)
	assert.Greater(t, mag, 0.5)
	assert.Less(t, mag, 1.5)

	scaled, err := LucasKanade{}.MeanMagnitude(texture(64, 48, 0), texture(64, 48, 1), 4)
	require.NoError(t, err)
	assert.InDelta(t, mag*4, scaled, 1e-9)
}

func TestLucasKanadeSizeMismatch(t *testing.T) {
	_, err := LucasKanade{}.MeanMagnitude(texture(64, 48, 0), texture(32, 48, 0), 1)
	assert.ErrorIs(t, err, ErrFrameSize)
}

func TestToGrayDownsamples(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 640, 480))
	g, scale := toGray(src, 160, 0)
	assert.Equal(t, 160, g.Bounds().Dx())
	assert.Equal(t, 120, g.Bounds().Dy())
	assert.Equal(t, 4.0, scale)

	small := image.NewRGBA(image.Rect(0, 0, 100, 50))
	g, scale = toGray(small, 160, 0)
	assert.Equal(t, 100, g.Bounds().Dx())
	assert.Equal(t, 1.0, scale)
}
