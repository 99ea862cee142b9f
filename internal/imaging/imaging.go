// Package imaging holds the image helpers shared by the model wrappers, the
// recognition loop and the snapshot store.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

var ErrEmptyCrop = errors.New("crop region is empty")

// Decode reads a JPEG or PNG image.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Crop copies box out of img after growing it by pad (a fraction of the box
// size) on every side. The result is clipped to the image bounds.
func Crop(img image.Image, box image.Rectangle, pad float64) (image.Image, error) {
	b := img.Bounds()
	box = box.Canon().Intersect(b)
	if box.Empty() {
		return nil, ErrEmptyCrop
	}

	px := int(float64(box.Dx()) * pad)
	py := int(float64(box.Dy()) * pad)
	box = image.Rect(box.Min.X-px, box.Min.Y-py, box.Max.X+px, box.Max.Y+py).Intersect(b)

	dst := image.NewRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	draw.Copy(dst, image.Point{}, img, box, draw.Src, nil)
	return dst, nil
}

// Resize scales img to exactly w x h.
func Resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// FitWidth scales img down to width, keeping aspect. Smaller images are
// returned unchanged.
func FitWidth(img image.Image, width int) image.Image {
	b := img.Bounds()
	if width <= 0 || b.Dx() <= width {
		return img
	}
	h := b.Dy() * width / b.Dx()
	if h < 1 {
		h = 1
	}
	return Resize(img, width, h)
}

// ToCHW resizes img and lays it out as a normalised [3][h][w] float tensor:
//
//	pixel = (pixel - mean) / std
func ToCHW(img image.Image, w, h int, mean, std [3]float32) []float32 {
	resized := Resize(img, w, h)
	data := make([]float32, 3*h*w)
	plane := h * w

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := resized.PixOffset(x, y)
			idx := y*w + x
			data[idx] = (float32(resized.Pix[off]) - mean[0]) / std[0]
			data[plane+idx] = (float32(resized.Pix[off+1]) - mean[1]) / std[1]
			data[2*plane+idx] = (float32(resized.Pix[off+2]) - mean[2]) / std[2]
		}
	}
	return data
}
