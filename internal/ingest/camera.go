package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/kiosk/internal/config"
	"github.com/your-org/kiosk/internal/imaging"
	"github.com/your-org/kiosk/internal/observability"
	"github.com/your-org/kiosk/internal/recognition"
)

type CameraStatus string

const (
	CameraStopped CameraStatus = "stopped"
	CameraRunning CameraStatus = "running"
	CameraError   CameraStatus = "error"
)

// Extractor produces JPEG frames from a camera source.
type Extractor interface {
	StartExtraction(ctx context.Context, source string, fps, width int, callback FrameCallback) error
	Stop()
}

// Camera captures frames into a small buffered channel. When recognition
// falls behind, the oldest pending frame is dropped.
type Camera struct {
	source     string
	fps        int
	width      int
	maxRetries int
	extractor  func() Extractor
	frames     chan recognition.Frame
	now        func() time.Time

	mu      sync.RWMutex
	status  CameraStatus
	lastErr string
}

func NewCamera(cfg config.VisionConfig, buffer int) *Camera {
	if buffer <= 0 {
		buffer = 2
	}
	return &Camera{
		source:     cfg.CameraURL,
		fps:        cfg.CaptureFPS,
		width:      cfg.FrameWidth,
		maxRetries: 3,
		extractor:  func() Extractor { return &FFmpegExtractor{} },
		frames:     make(chan recognition.Frame, buffer),
		now:        time.Now,
		status:     CameraStopped,
	}
}

// WithExtractor replaces the ffmpeg extractor factory.
func (c *Camera) WithExtractor(factory func() Extractor) *Camera {
	c.extractor = factory
	return c
}

// Frames is closed when Run returns.
func (c *Camera) Frames() <-chan recognition.Frame { return c.frames }

func (c *Camera) Status() (CameraStatus, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status, c.lastErr
}

// Healthy returns the capture error while the camera is failing or after Run
// gave up.
func (c *Camera) Healthy() error {
	status, msg := c.Status()
	if status == CameraError {
		return errors.New("camera: " + msg)
	}
	return nil
}

// Run captures until ctx is cancelled. A failing stream is restarted with
// exponential backoff; after maxRetries consecutive failures Run gives up and
// the camera stays in the error state.
func (c *Camera) Run(ctx context.Context) (err error) {
	defer close(c.frames)
	defer func() {
		if err != nil {
			c.setStatus(CameraError, err.Error())
			return
		}
		c.setStatus(CameraStopped, "")
	}()

	slog.Info("starting camera capture", "source", c.source, "fps", c.fps, "width", c.width)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt)) * time.Second
			slog.Warn("retrying camera capture", "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
		}

		c.setStatus(CameraRunning, "")
		ext := c.extractor()
		delivered := false
		err := ext.StartExtraction(ctx, c.source, c.fps, c.width, func(data []byte) error {
			img, err := imaging.Decode(data)
			if err != nil {
				return err
			}
			delivered = true
			c.offer(recognition.NewFrame(img, c.now()))
			return nil
		})

		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("camera stream ended")
		}
		lastErr = err
		c.setStatus(CameraError, err.Error())
		slog.Error("camera capture failed", "source", c.source, "attempt", attempt, "error", err)

		// A stream that produced frames earns a fresh retry budget.
		if delivered {
			attempt = 0
		}
	}
	return lastErr
}

// offer enqueues f, evicting the oldest pending frame while the buffer is
// full. Run is the only sender.
func (c *Camera) offer(f recognition.Frame) {
	for {
		select {
		case c.frames <- f:
			return
		default:
		}
		select {
		case <-c.frames:
			observability.FramesDropped.Inc()
		default:
		}
	}
}

func (c *Camera) setStatus(s CameraStatus, errMsg string) {
	c.mu.Lock()
	c.status, c.lastErr = s, errMsg
	c.mu.Unlock()
}
