package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/kiosk/internal/config"
	"github.com/your-org/kiosk/internal/imaging"
)

func jpegOfWidth(t *testing.T, w int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, 8))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	data, err := imaging.EncodeJPEG(img, 90)
	require.NoError(t, err)
	return data
}

type scriptedExtractor struct {
	frames [][]byte
	err    error
	block  bool
}

func (s *scriptedExtractor) StartExtraction(ctx context.Context, _ string, _, _ int, cb FrameCallback) error {
	for _, f := range s.frames {
		_ = cb(f)
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

func (s *scriptedExtractor) Stop() {}

func TestCameraDropsOldestFrames(t *testing.T) {
	var frames [][]byte
	for w := 10; w <= 50; w += 10 {
		frames = append(frames, jpegOfWidth(t, w))
	}

	cam := NewCamera(config.VisionConfig{CameraURL: "/dev/video0", CaptureFPS: 10, FrameWidth: 640}, 2).
		WithExtractor(func() Extractor { return &scriptedExtractor{frames: frames, block: true} })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cam.Run(ctx) }()

	require.Eventually(t, func() bool { return len(cam.frames) == 2 }, time.Second, 5*time.Millisecond)
	status, _ := cam.Status()
	assert.Equal(t, CameraRunning, status)

	cancel()
	require.NoError(t, <-done)

	var widths []int
	for f := range cam.Frames() {
		widths = append(widths, f.Image.Bounds().Dx())
		assert.NotEmpty(t, f.ID)
	}
	assert.Equal(t, []int{40, 50}, widths)
}

func TestCameraSkipsUndecodableFrames(t *testing.T) {
	cam := NewCamera(config.VisionConfig{}, 4).
		WithExtractor(func() Extractor {
			return &scriptedExtractor{frames: [][]byte{[]byte("garbage"), jpegOfWidth(t, 16)}, block: true}
		})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = cam.Run(ctx) }()

	select {
	case f := <-cam.Frames():
		assert.Equal(t, 16, f.Image.Bounds().Dx())
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}
	cancel()
}

func TestCameraGivesUpAfterRetries(t *testing.T) {
	cam := NewCamera(config.VisionConfig{}, 1).
		WithExtractor(func() Extractor { return &scriptedExtractor{err: errors.New("no such device")} })
	cam.maxRetries = 0

	err := cam.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such device")

	_, open := <-cam.Frames()
	assert.False(t, open)

	status, msg := cam.Status()
	assert.Equal(t, CameraError, status)
	assert.Contains(t, msg, "no such device")
	assert.Error(t, cam.Healthy())
}

func TestCameraHealthyAfterCleanStop(t *testing.T) {
	cam := NewCamera(config.VisionConfig{}, 1).
		WithExtractor(func() Extractor { return &scriptedExtractor{block: true} })
	require.NoError(t, cam.Healthy())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cam.Run(ctx) }()

	require.Eventually(t, func() bool {
		status, _ := cam.Status()
		return status == CameraRunning
	}, time.Second, 5*time.Millisecond)
	assert.NoError(t, cam.Healthy())

	cancel()
	require.NoError(t, <-done)
	status, _ := cam.Status()
	assert.Equal(t, CameraStopped, status)
	assert.NoError(t, cam.Healthy())
}

func TestReadJPEGFramesSplitsStream(t *testing.T) {
	a, b := jpegOfWidth(t, 12), jpegOfWidth(t, 24)
	var stream bytes.Buffer
	stream.WriteString("noise")
	stream.Write(a)
	stream.Write([]byte{0x00, 0xFF, 0x00})
	stream.Write(b)

	var got [][]byte
	err := readJPEGFrames(context.Background(), &stream, func(frame []byte) error {
		got = append(got, frame)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a, got[0])
	assert.Equal(t, b, got[1])
}

func TestFFmpegArgs(t *testing.T) {
	args := ffmpegArgs("/dev/video0", 10, 640)
	assert.Contains(t, args, "v4l2")
	assert.Contains(t, args, "fps=10,scale=640:-1")

	args = ffmpegArgs("rtsp://cam.local/stream", 5, 320)
	assert.Contains(t, args, "-rtsp_transport")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}
