package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/kiosk/internal/config"
	"github.com/your-org/kiosk/internal/imaging"
	"github.com/your-org/kiosk/internal/liveness"
	"github.com/your-org/kiosk/internal/recognition"
)

// Model file names inside vision.models_dir.
const (
	DetectorModel  = "det_10g.onnx"
	EmbedderModel  = "w600k_r50.onnx"
	SpoofModelFile = "anti_spoof_80x80.onnx"
)

// enrollPad widens enrollment crops the same way the live pipeline does.
const enrollPad = 0.1

var ErrNoFace = errors.New("no face detected")

// InitRuntime loads the ONNX Runtime shared library. The returned function
// tears the environment down.
func InitRuntime() (func(), error) {
	ort.SetSharedLibraryPath(onnxLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnx runtime: %w", err)
	}
	return func() {
		if err := ort.DestroyEnvironment(); err != nil {
			slog.Warn("destroy onnx runtime", "error", err)
		}
	}, nil
}

// onnxLibPath returns the ONNX Runtime shared library path. ONNXRUNTIME_LIB
// overrides the per-OS default.
func onnxLibPath() string {
	if p := os.Getenv("ONNXRUNTIME_LIB"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// Models bundles the loaded inference sessions.
type Models struct {
	Detector *Detector
	Embedder *Embedder
	// Spoof is nil when no anti-spoofing model is installed.
	Spoof *SpoofModel
}

// Load opens every model under cfg.ModelsDir. A missing anti-spoofing model is
// not an error: the liveness gate then runs without a classifier.
func Load(cfg config.VisionConfig, spoofThreshold float64) (*Models, error) {
	det, err := NewDetector(filepath.Join(cfg.ModelsDir, DetectorModel), float32(cfg.DetectionThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	emb, err := NewEmbedder(filepath.Join(cfg.ModelsDir, EmbedderModel), nil)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	m := &Models{Detector: det, Embedder: emb}

	spoofPath := filepath.Join(cfg.ModelsDir, SpoofModelFile)
	if _, err := os.Stat(spoofPath); err != nil {
		slog.Warn("anti-spoofing model not found, classifier disabled", "path", spoofPath)
		return m, nil
	}
	spoof, err := NewSpoofModel(spoofPath, spoofThreshold, nil)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("load spoof model: %w", err)
	}
	m.Spoof = spoof

	slog.Info("vision models loaded", "dir", cfg.ModelsDir, "anti_spoofing", true)
	return m, nil
}

// Classifier returns the spoof model as a liveness classifier, or nil.
func (m *Models) Classifier() liveness.SpoofClassifier {
	if m.Spoof == nil {
		return nil
	}
	return m.Spoof
}

// EmbedPhoto embeds the most confident face of an enrollment photo.
func (m *Models) EmbedPhoto(ctx context.Context, data []byte) ([]float32, error) {
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}
	return EmbedLargestFace(ctx, m.Detector, m.Embedder, img)
}

// EmbedLargestFace detects faces in img and embeds the one with the largest
// box. It returns ErrNoFace when nothing is found.
func EmbedLargestFace(ctx context.Context, det recognition.Detector, emb recognition.Embedder, img image.Image) ([]float32, error) {
	faces, err := det.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	if len(faces) == 0 {
		return nil, ErrNoFace
	}

	best := faces[0]
	for _, f := range faces[1:] {
		if area(f.Box) > area(best.Box) {
			best = f
		}
	}

	crop, err := imaging.Crop(img, best.Box, enrollPad)
	if err != nil {
		return nil, fmt.Errorf("crop face: %w", err)
	}
	vec, err := emb.Embed(ctx, crop)
	if err != nil {
		return nil, fmt.Errorf("embed face: %w", err)
	}
	return vec, nil
}

func area(r image.Rectangle) int { return r.Dx() * r.Dy() }

func (m *Models) Close() {
	if m.Detector != nil {
		m.Detector.Close()
	}
	if m.Embedder != nil {
		m.Embedder.Close()
	}
	if m.Spoof != nil {
		m.Spoof.Close()
	}
}
