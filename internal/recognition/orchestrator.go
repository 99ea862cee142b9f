package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/kiosk/internal/attendance"
	"github.com/your-org/kiosk/internal/imaging"
	"github.com/your-org/kiosk/internal/liveness"
	"github.com/your-org/kiosk/internal/models"
	"github.com/your-org/kiosk/internal/observability"
)

const defaultCropPad = 0.1

// Detection is a face found in a frame, in frame pixel coordinates.
type Detection struct {
	Box       image.Rectangle
	Score     float32
	Landmarks [5]image.Point
}

type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

type Embedder interface {
	Embed(ctx context.Context, crop image.Image) ([]float32, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, in attendance.Input) attendance.Outcome
}

type SessionChecker interface {
	Check(identity string) bool
}

type Frame struct {
	ID         string
	Image      image.Image
	CapturedAt time.Time
}

// NewFrame stamps img with a fresh id and the capture time.
func NewFrame(img image.Image, at time.Time) Frame {
	return Frame{ID: uuid.NewString(), Image: img, CapturedAt: at}
}

type FaceResult struct {
	Box            image.Rectangle `json:"box"`
	DetectionScore float32         `json:"detection_score"`
	Identity       models.Identity `json:"identity"`
	Confidence     float64         `json:"confidence"`
	// Distance is -1 when there was no candidate to compare against.
	Distance     float64          `json:"distance"`
	Liveness     liveness.Verdict `json:"liveness"`
	RFIDVerified bool             `json:"rfid_verified"`
	// Evaluated is false for a repeat of an identity already decided in the
	// same frame, and for faces whose decision panicked.
	Evaluated bool                `json:"evaluated"`
	Outcome   *attendance.Outcome `json:"outcome,omitempty"`
	Error     string              `json:"error,omitempty"`

	crop image.Image
}

type FrameResult struct {
	FrameID        string        `json:"frame_id"`
	CapturedAt     time.Time     `json:"captured_at"`
	Faces          []FaceResult  `json:"faces"`
	FPS            float64       `json:"fps"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// Components are the collaborators of an Orchestrator. All are required.
type Components struct {
	Detector Detector
	Embedder Embedder
	Gallery  *Gallery
	Matcher  *Matcher
	Gate     *liveness.Gate
	Session  SessionChecker
	Decider  Evaluator
}

// Orchestrator runs detect, embed, match, liveness and attendance decision
// for every face of a frame.
type Orchestrator struct {
	kioskID string
	c       Components
	fps     FPSCounter
	cropPad float64
	now     func() time.Time
}

func NewOrchestrator(kioskID string, c Components) (*Orchestrator, error) {
	switch {
	case c.Detector == nil:
		return nil, errors.New("orchestrator: detector is required")
	case c.Embedder == nil:
		return nil, errors.New("orchestrator: embedder is required")
	case c.Gallery == nil || c.Matcher == nil:
		return nil, errors.New("orchestrator: gallery and matcher are required")
	case c.Gate == nil:
		return nil, errors.New("orchestrator: liveness gate is required")
	case c.Session == nil:
		return nil, errors.New("orchestrator: rfid session is required")
	case c.Decider == nil:
		return nil, errors.New("orchestrator: decider is required")
	}
	return &Orchestrator{kioskID: kioskID, c: c, cropPad: defaultCropPad, now: time.Now}, nil
}

// FPS returns the rate measured over the last full second.
func (o *Orchestrator) FPS() float64 { return o.fps.FPS() }

// ProcessFrame buffers the frame for motion liveness, then recognises it.
func (o *Orchestrator) ProcessFrame(ctx context.Context, f Frame) FrameResult {
	o.Observe(f)
	return o.Recognize(ctx, f)
}

// Observe appends the frame to the liveness buffer. Frames must be observed
// in capture order.
func (o *Orchestrator) Observe(f Frame) {
	if f.Image != nil {
		o.c.Gate.Push(f.Image)
	}
}

// Recognize evaluates every face in the frame in detection order. Failures
// never escape: a failing face degrades to Unknown, a failing detector to an
// empty face list.
func (o *Orchestrator) Recognize(ctx context.Context, f Frame) (res FrameResult) {
	start := time.Now()
	res = FrameResult{FrameID: f.ID, CapturedAt: f.CapturedAt, Faces: []FaceResult{}}
	defer func() {
		res.ProcessingTime = time.Since(start)
	}()

	observability.FramesProcessed.WithLabelValues(o.kioskID).Inc()
	res.FPS = o.fps.Tick(o.now())
	observability.FPS.Set(res.FPS)

	if f.Image == nil {
		slog.Warn("empty frame", "frame_id", f.ID)
		return res
	}

	detections := o.detect(ctx, f)
	if len(detections) == 0 {
		return res
	}
	observability.FacesDetected.WithLabelValues(o.kioskID).Add(float64(len(detections)))

	var motion *liveness.MotionVerdict
	if window := o.c.Gate.MotionWindow(); window != nil {
		start := time.Now()
		m := o.c.Gate.AssessMotion(window)
		motion = &m
		observability.InferenceDuration.WithLabelValues("motion").Observe(time.Since(start).Seconds())
	}

	seen := make(map[string]struct{}, len(detections))
	for _, det := range detections {
		face := o.analyzeFace(ctx, f, det, motion)
		if face.Identity.IsKnown() {
			observability.FacesRecognized.WithLabelValues(o.kioskID).Inc()
			if _, dup := seen[face.Identity.Name()]; dup {
				res.Faces = append(res.Faces, face)
				continue
			}
			seen[face.Identity.Name()] = struct{}{}
		}
		o.decide(ctx, f, &face)
		res.Faces = append(res.Faces, face)
	}
	return res
}

func (o *Orchestrator) detect(ctx context.Context, f Frame) (dets []Detection) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("detector panic", "frame_id", f.ID, "panic", r)
			dets = nil
		}
	}()

	start := time.Now()
	dets, err := o.c.Detector.Detect(ctx, f.Image)
	if err != nil {
		slog.Warn("detect faces", "frame_id", f.ID, "error", err)
		return nil
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	return dets
}

func (o *Orchestrator) analyzeFace(ctx context.Context, f Frame, det Detection, motion *liveness.MotionVerdict) (face FaceResult) {
	face = FaceResult{Box: det.Box, DetectionScore: det.Score}
	defer func() {
		if r := recover(); r != nil {
			face = degraded(det, fmt.Errorf("panic: %v", r))
			slog.Error("face analysis panic", "frame_id", f.ID, "box", det.Box.String(), "panic", r)
		}
	}()

	crop, err := imaging.Crop(f.Image, det.Box, o.cropPad)
	if err != nil {
		slog.Warn("crop face", "frame_id", f.ID, "box", det.Box.String(), "error", err)
		return degraded(det, err)
	}
	face.crop = crop

	start := time.Now()
	embedding, err := o.c.Embedder.Embed(ctx, crop)
	if err != nil {
		slog.Warn("embed face", "frame_id", f.ID, "error", err)
		d := degraded(det, err)
		d.crop = crop
		return d
	}
	observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

	start = time.Now()
	m := o.c.Matcher.Match(embedding, o.c.Gallery.All())
	observability.InferenceDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())
	face.Identity, face.Confidence, face.Distance = m.Identity, m.Confidence, m.Distance
	if math.IsInf(m.Distance, 1) {
		face.Distance = -1
	}

	if m.Identity.IsKnown() {
		face.RFIDVerified = o.c.Session.Check(m.Identity.Name())
	}

	start = time.Now()
	face.Liveness = o.c.Gate.Assess(ctx, crop)
	if motion != nil {
		face.Liveness = o.c.Gate.Combine(face.Liveness, *motion)
	}
	observability.InferenceDuration.WithLabelValues("liveness").Observe(time.Since(start).Seconds())
	return face
}

func (o *Orchestrator) decide(ctx context.Context, f Frame, face *FaceResult) {
	defer func() {
		if r := recover(); r != nil {
			face.Evaluated = false
			face.Outcome = nil
			face.Error = fmt.Sprintf("panic: %v", r)
			slog.Error("attendance decision panic", "frame_id", f.ID, "identity", face.Identity.String(), "panic", r)
		}
	}()

	start := time.Now()
	out := o.c.Decider.Evaluate(ctx, attendance.Input{
		Identity:     face.Identity,
		Confidence:   face.Confidence,
		Liveness:     face.Liveness,
		RFIDVerified: face.RFIDVerified,
		Snapshot:     face.crop,
	})
	observability.InferenceDuration.WithLabelValues("decide").Observe(time.Since(start).Seconds())
	face.Outcome = &out
	face.Evaluated = true
}

func degraded(det Detection, err error) FaceResult {
	return FaceResult{
		Box:            det.Box,
		DetectionScore: det.Score,
		Identity:       models.Unknown,
		Distance:       -1,
		Liveness:       liveness.Verdict{IsReal: true, RealScore: liveness.NeutralScore},
		Error:          err.Error(),
	}
}
