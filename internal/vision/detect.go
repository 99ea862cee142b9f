package vision

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/kiosk/internal/imaging"
	"github.com/your-org/kiosk/internal/recognition"
)

const (
	detInputSize    = 640
	anchorsPerPixel = 2
	nmsIoU          = 0.4
)

// RetinaFace det_10g feature strides.
var strides = []int{8, 16, 32}

var (
	detMean = [3]float32{127.5, 127.5, 127.5}
	detStd  = [3]float32{128, 128, 128}
)

// candidate is a raw detection before suppression, in frame pixels.
type candidate struct {
	box       [4]float32
	score     float32
	landmarks [5][2]float32
}

// Detector runs RetinaFace face detection using ONNX Runtime. One session is
// shared, so Detect calls are serialised.
type Detector struct {
	mu            sync.Mutex
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
}

// NewDetector loads the RetinaFace ONNX model.
// opts may be nil (ORT defaults) or a pre-configured *ort.SessionOptions.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detInputSize, detInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// det_10g outputs, no batch dimension, strides 8/16/32:
	// scores [N,1], boxes [N,4], landmarks [N,10] with N = (640/stride)^2 * 2.
	type outputSpec struct {
		name string
		cols int64
	}
	outputs := []outputSpec{
		{"448", 1}, {"471", 1}, {"494", 1},
		{"451", 4}, {"474", 4}, {"497", 4},
		{"454", 10}, {"477", 10}, {"500", 10},
	}

	names := make([]string, len(outputs))
	tensors := make([]*ort.Tensor[float32], len(outputs))
	values := make([]ort.Value, len(outputs))
	destroy := func() {
		inputTensor.Destroy()
		for _, t := range tensors {
			if t != nil {
				t.Destroy()
			}
		}
	}

	for i, spec := range outputs {
		stride := strides[i%len(strides)]
		rows := int64((detInputSize / stride) * (detInputSize / stride) * anchorsPerPixel)
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(rows, spec.cols))
		if err != nil {
			destroy()
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		names[i] = spec.name
		tensors[i] = t
		values[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		names,
		[]ort.Value{inputTensor},
		values,
		opts,
	)
	if err != nil {
		destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: tensors,
		threshold:     threshold,
	}, nil
}

// Detect finds faces in img, strongest first, in img pixel coordinates.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]recognition.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	input := imaging.ToCHW(img, detInputSize, detInputSize, detMean, detStd)

	d.mu.Lock()
	copy(d.inputTensor.GetData(), input)
	if err := d.session.Run(); err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("run detection: %w", err)
	}
	var cands []candidate
	for si, stride := range strides {
		cands = append(cands, decodeStride(
			d.outputTensors[si].GetData(),
			d.outputTensors[si+3].GetData(),
			d.outputTensors[si+6].GetData(),
			stride, d.threshold, b.Dx(), b.Dy(),
		)...)
	}
	d.mu.Unlock()

	return toDetections(nms(cands, nmsIoU), b.Min), nil
}

// decodeStride turns the anchor outputs of one stride into candidates above
// threshold, scaled from the model input to a w x h frame.
func decodeStride(scores, boxes, landmarks []float32, stride int, threshold float32, w, h int) []candidate {
	fm := detInputSize / stride
	scaleW := float32(w) / detInputSize
	scaleH := float32(h) / detInputSize
	st := float32(stride)

	var out []candidate
	idx := 0
	for cy := 0; cy < fm; cy++ {
		for cx := 0; cx < fm; cx++ {
			for a := 0; a < anchorsPerPixel; a++ {
				if idx >= len(scores) {
					return out
				}
				if score := scores[idx]; score >= threshold {
					ax, ay := float32(cx)*st, float32(cy)*st
					c := candidate{
						score: score,
						box: [4]float32{
							clampF((ax-boxes[idx*4+0]*st)*scaleW, 0, float32(w)),
							clampF((ay-boxes[idx*4+1]*st)*scaleH, 0, float32(h)),
							clampF((ax+boxes[idx*4+2]*st)*scaleW, 0, float32(w)),
							clampF((ay+boxes[idx*4+3]*st)*scaleH, 0, float32(h)),
						},
					}
					for li := 0; li < 5; li++ {
						c.landmarks[li][0] = (ax + landmarks[idx*10+li*2]*st) * scaleW
						c.landmarks[li][1] = (ay + landmarks[idx*10+li*2+1]*st) * scaleH
					}
					out = append(out, c)
				}
				idx++
			}
		}
	}
	return out
}

func toDetections(cands []candidate, origin image.Point) []recognition.Detection {
	out := make([]recognition.Detection, 0, len(cands))
	for _, c := range cands {
		det := recognition.Detection{
			Box: image.Rect(
				int(c.box[0]), int(c.box[1]),
				int(math.Ceil(float64(c.box[2]))), int(math.Ceil(float64(c.box[3]))),
			).Add(origin),
			Score: c.score,
		}
		for i, lm := range c.landmarks {
			det.Landmarks[i] = image.Pt(int(lm[0]), int(lm[1])).Add(origin)
		}
		if !det.Box.Empty() {
			out = append(out, det)
		}
	}
	return out
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// nms performs Non-Maximum Suppression, returning survivors by descending
// score.
func nms(cands []candidate, iouThreshold float32) []candidate {
	if len(cands) == 0 {
		return cands
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})

	keep := make([]bool, len(cands))
	for i := range keep {
		keep[i] = true
	}
	for i := range cands {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(cands); j++ {
			if keep[j] && iou(cands[i].box, cands[j].box) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []candidate
	for i, c := range cands {
		if keep[i] {
			result = append(result, c)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])

	intersection := max(0, x2-x1) * max(0, y2-y1)
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
