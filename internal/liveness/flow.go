package liveness

import (
	"errors"
	"image"
	"math"

	"golang.org/x/image/draw"
)

var ErrFrameSize = errors.New("frames differ in size")

// FlowEstimator returns the mean optical-flow magnitude, in pixels of the
// original frame, between two grayscale frames of equal size.
type FlowEstimator interface {
	MeanMagnitude(prev, curr *image.Gray, scale float64) (float64, error)
}

// LucasKanade estimates sparse flow on a regular grid using the classic
// windowed least-squares solve. Points without enough texture contribute zero.
type LucasKanade struct {
	Window int
	Step   int
}

func (lk LucasKanade) MeanMagnitude(prev, curr *image.Gray, scale float64) (float64, error) {
	pb, cb := prev.Bounds(), curr.Bounds()
	if pb.Dx() != cb.Dx() || pb.Dy() != cb.Dy() {
		return 0, ErrFrameSize
	}
	win := lk.Window
	if win <= 0 {
		win = 7
	}
	step := lk.Step
	if step <= 0 {
		step = 8
	}
	if scale <= 0 {
		scale = 1
	}

	w, h := pb.Dx(), pb.Dy()
	half := win / 2
	at := func(g *image.Gray, x, y int) float64 {
		return float64(g.Pix[y*g.Stride+x])
	}

	var total float64
	var points int
	for y := half + 1; y < h-half-1; y += step {
		for x := half + 1; x < w-half-1; x += step {
			var sxx, sxy, syy, sxt, syt float64
			for wy := y - half; wy <= y+half; wy++ {
				for wx := x - half; wx <= x+half; wx++ {
					ix := (at(prev, wx+1, wy) - at(prev, wx-1, wy) + at(curr, wx+1, wy) - at(curr, wx-1, wy)) / 4
					iy := (at(prev, wx, wy+1) - at(prev, wx, wy-1) + at(curr, wx, wy+1) - at(curr, wx, wy-1)) / 4
					it := at(curr, wx, wy) - at(prev, wx, wy)
					sxx += ix * ix
					sxy += ix * iy
					syy += iy * iy
					sxt += ix * it
					syt += iy * it
				}
			}
			points++

			det := sxx*syy - sxy*sxy
			if math.Abs(det) < 1e-6 {
				continue
			}
			u := (-syy*sxt + sxy*syt) / det
			v := (sxy*sxt - sxx*syt) / det
			total += math.Hypot(u, v)
		}
	}
	if points == 0 {
		return 0, nil
	}
	return total / float64(points) * scale, nil
}

// toGray downsamples img to width pixels wide (keeping aspect) in grayscale.
// It returns the factor that maps downsampled pixels back to source pixels.
func toGray(img image.Image, width, height int) (*image.Gray, float64) {
	b := img.Bounds()
	if width <= 0 || width >= b.Dx() {
		width, height = b.Dx(), b.Dy()
	}
	if height <= 0 {
		height = int(math.Round(float64(b.Dy()) * float64(width) / float64(b.Dx())))
		if height < 1 {
			height = 1
		}
	}
	dst := image.NewGray(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, float64(b.Dx()) / float64(width)
}
