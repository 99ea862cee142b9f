package vision

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/kiosk/internal/recognition"
)

func TestDecodeStride(t *testing.T) {
	const stride = 32
	n := (detInputSize / stride) * (detInputSize / stride) * anchorsPerPixel
	scores := make([]float32, n)
	boxes := make([]float32, n*4)
	landmarks := make([]float32, n*10)

	// cell (x=2, y=1), first anchor
	idx := (1*(detInputSize/stride) + 2) * anchorsPerPixel
	scores[idx] = 0.9
	scores[idx+1] = 0.3
	copy(boxes[idx*4:], []float32{1, 1, 1, 1})

	cands := decodeStride(scores, boxes, landmarks, stride, 0.5, 640, 640)
	require.Len(t, cands, 1)
	assert.Equal(t, [4]float32{32, 0, 96, 64}, cands[0].box)
	assert.InDelta(t, 0.9, cands[0].score, 1e-6)
	assert.Equal(t, [2]float32{64, 32}, cands[0].landmarks[0])

	cands = decodeStride(scores, boxes, landmarks, stride, 0.5, 1280, 640)
	require.Len(t, cands, 1)
	assert.Equal(t, [4]float32{64, 0, 192, 64}, cands[0].box)
	assert.Equal(t, [2]float32{128, 32}, cands[0].landmarks[0])
}

func TestDecodeStrideClampsToFrame(t *testing.T) {
	const stride = 8
	n := (detInputSize / stride) * (detInputSize / stride) * anchorsPerPixel
	scores := make([]float32, n)
	boxes := make([]float32, n*4)
	scores[0] = 1
	copy(boxes, []float32{4, 4, 2, 2})

	cands := decodeStride(scores, boxes, make([]float32, n*10), stride, 0.5, 640, 640)
	require.Len(t, cands, 1)
	assert.Equal(t, [4]float32{0, 0, 16, 16}, cands[0].box)
}

func TestIoU(t *testing.T) {
	a := [4]float32{0, 0, 2, 2}
	assert.InDelta(t, 1.0, iou(a, a), 1e-6)
	assert.InDelta(t, 0.0, iou(a, [4]float32{5, 5, 6, 6}), 1e-6)
	assert.InDelta(t, 1.0/3.0, iou(a, [4]float32{1, 0, 3, 2}), 1e-6)
	assert.Zero(t, iou([4]float32{1, 1, 1, 1}, [4]float32{1, 1, 1, 1}))
}

func TestNMS(t *testing.T) {
	cands := []candidate{
		{box: [4]float32{0, 0, 10, 10}, score: 0.7},
		{box: [4]float32{1, 1, 11, 11}, score: 0.9},
		{box: [4]float32{50, 50, 60, 60}, score: 0.8},
	}

	kept := nms(cands, nmsIoU)
	require.Len(t, kept, 2)
	assert.InDelta(t, 0.9, kept[0].score, 1e-6)
	assert.InDelta(t, 0.8, kept[1].score, 1e-6)

	assert.Empty(t, nms(nil, nmsIoU))
}

func TestToDetectionsOffsetsAndDropsEmpty(t *testing.T) {
	cands := []candidate{
		{box: [4]float32{10.2, 20.7, 30.1, 40.5}, score: 0.9},
		{box: [4]float32{5, 5, 5, 9}, score: 0.8},
	}
	cands[0].landmarks[2] = [2]float32{15, 25}

	dets := toDetections(cands, image.Pt(100, 200))
	require.Len(t, dets, 1)
	assert.Equal(t, image.Rect(110, 220, 131, 241), dets[0].Box)
	assert.Equal(t, image.Pt(115, 225), dets[0].Landmarks[2])
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	normalize(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0, 0}
	normalize(zero)
	assert.Equal(t, []float32{0, 0, 0}, zero)
}

func TestSoftmax(t *testing.T) {
	p := softmax([]float32{1000, 1000, 1000})
	for _, v := range p {
		assert.InDelta(t, 1.0/3.0, v, 1e-6)
		assert.False(t, math.IsNaN(float64(v)))
	}

	p = softmax([]float32{0, float32(math.Log(3)), 0})
	assert.InDelta(t, 0.6, p[1], 1e-6)
	assert.Empty(t, softmax(nil))
}

func TestVerdictFromLogits(t *testing.T) {
	v := verdictFromLogits([]float32{0, 5, 0}, 0.5)
	assert.True(t, v.IsReal)
	assert.Greater(t, v.RealScore, 0.98)
	assert.Equal(t, 1, v.Metadata["label"])

	v = verdictFromLogits([]float32{5, 0, 0}, 0.5)
	assert.False(t, v.IsReal)
	assert.Less(t, v.RealScore, 0.01)
	assert.Equal(t, 0, v.Metadata["label"])

	// real class wins but stays under threshold
	v = verdictFromLogits([]float32{0, 0.5, 0}, 0.9)
	assert.False(t, v.IsReal)
}

type stubDetector struct {
	dets []recognition.Detection
	err  error
}

func (s stubDetector) Detect(context.Context, image.Image) ([]recognition.Detection, error) {
	return s.dets, s.err
}

type sizeEmbedder struct {
	got image.Rectangle
}

func (e *sizeEmbedder) Embed(_ context.Context, crop image.Image) ([]float32, error) {
	e.got = crop.Bounds()
	return []float32{1, 0}, nil
}

func TestEmbedLargestFace(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	det := stubDetector{dets: []recognition.Detection{
		{Box: image.Rect(0, 0, 10, 10), Score: 0.99},
		{Box: image.Rect(20, 20, 60, 60), Score: 0.6},
	}}
	emb := &sizeEmbedder{}

	vec, err := EmbedLargestFace(context.Background(), det, emb, img)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
	assert.Equal(t, 48, emb.got.Dx())
}

func TestEmbedLargestFaceErrors(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))

	_, err := EmbedLargestFace(context.Background(), stubDetector{}, &sizeEmbedder{}, img)
	assert.ErrorIs(t, err, ErrNoFace)

	boom := errors.New("session closed")
	_, err = EmbedLargestFace(context.Background(), stubDetector{err: boom}, &sizeEmbedder{}, img)
	assert.ErrorIs(t, err, boom)
}

func TestONNXLibPathOverride(t *testing.T) {
	t.Setenv("ONNXRUNTIME_LIB", "/opt/ort/lib/libonnxruntime.so.1.20")
	assert.Equal(t, "/opt/ort/lib/libonnxruntime.so.1.20", onnxLibPath())
}
