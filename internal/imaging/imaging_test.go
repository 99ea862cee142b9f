package imaging

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestCropPadsAndClips(t *testing.T) {
	img := solid(100, 80, color.RGBA{R: 10, A: 255})

	crop, err := Crop(img, image.Rect(20, 20, 40, 40), 0.1)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 24, 24), crop.Bounds())

	edge, err := Crop(img, image.Rect(90, 70, 120, 100), 0.5)
	require.NoError(t, err)
	assert.Equal(t, 15, edge.Bounds().Dx())
	assert.Equal(t, 15, edge.Bounds().Dy())
}

func TestCropOutside(t *testing.T) {
	img := solid(10, 10, color.RGBA{A: 255})
	_, err := Crop(img, image.Rect(20, 20, 30, 30), 0.1)
	assert.ErrorIs(t, err, ErrEmptyCrop)
}

func TestToCHWNormalises(t *testing.T) {
	img := solid(4, 4, color.RGBA{R: 255, G: 127, B: 0, A: 255})
	data := ToCHW(img, 2, 2, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})

	require.Len(t, data, 12)
	assert.InDelta(t, 1.0, data[0], 1e-3)
	assert.InDelta(t, -0.004, data[4], 1e-2)
	assert.InDelta(t, -1.0, data[8], 1e-3)
}

func TestFitWidth(t *testing.T) {
	img := solid(640, 480, color.RGBA{A: 255})
	assert.Equal(t, image.Rect(0, 0, 320, 240), FitWidth(img, 320).Bounds())
	assert.Same(t, img, FitWidth(img, 1280))
}

func TestJPEGRoundTrip(t *testing.T) {
	img := solid(16, 8, color.RGBA{G: 200, A: 255})
	data, err := EncodeJPEG(img, 90)
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), back.Bounds())

	_, err = Decode([]byte("not an image"))
	assert.Error(t, err)
}
