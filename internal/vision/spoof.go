package vision

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/kiosk/internal/imaging"
	"github.com/your-org/kiosk/internal/liveness"
)

const (
	spoofInputSize = 80
	spoofClasses   = 3
	// Index of the "real face" logit; 0 is print attack, 2 is screen replay.
	spoofRealClass = 1
)

var (
	spoofMean = [3]float32{0, 0, 0}
	spoofStd  = [3]float32{1, 1, 1}
)

// SpoofModel is a MiniFASNet-style anti-spoofing classifier over 80x80 face
// crops. It implements liveness.SpoofClassifier.
type SpoofModel struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	threshold    float64
}

func NewSpoofModel(modelPath string, threshold float64, opts *ort.SessionOptions) (*SpoofModel, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, spoofInputSize, spoofInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, spoofClasses))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"},
		[]string{"output"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create spoof session: %w", err)
	}

	return &SpoofModel{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		threshold:    threshold,
	}, nil
}

// Score classifies a face crop. RealScore is the softmax probability of the
// real class.
func (m *SpoofModel) Score(ctx context.Context, crop image.Image) (liveness.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return liveness.Verdict{}, err
	}
	if crop == nil || crop.Bounds().Empty() {
		return liveness.Verdict{}, fmt.Errorf("score spoof: empty crop")
	}
	input := imaging.ToCHW(crop, spoofInputSize, spoofInputSize, spoofMean, spoofStd)

	m.mu.Lock()
	copy(m.inputTensor.GetData(), input)
	if err := m.session.Run(); err != nil {
		m.mu.Unlock()
		return liveness.Verdict{}, fmt.Errorf("run spoof model: %w", err)
	}
	logits := make([]float32, spoofClasses)
	copy(logits, m.outputTensor.GetData())
	m.mu.Unlock()

	return verdictFromLogits(logits, m.threshold), nil
}

func verdictFromLogits(logits []float32, threshold float64) liveness.Verdict {
	probs := softmax(logits)
	realP := float64(probs[spoofRealClass])
	label := 0
	for i, p := range probs {
		if p > probs[label] {
			label = i
		}
	}
	return liveness.Verdict{
		IsReal:    label == spoofRealClass && realP >= threshold,
		RealScore: realP,
		Metadata:  map[string]any{"label": label},
	}
}

func (m *SpoofModel) Close() {
	if m.session != nil {
		m.session.Destroy()
	}
	if m.inputTensor != nil {
		m.inputTensor.Destroy()
	}
	if m.outputTensor != nil {
		m.outputTensor.Destroy()
	}
}

// softmax is numerically stable: logits are shifted by their maximum.
func softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxV := logits[0]
	for _, v := range logits[1:] {
		maxV = max(maxV, v)
	}
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxV))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}
