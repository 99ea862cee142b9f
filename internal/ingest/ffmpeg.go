package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const maxFrameBytes = 10 * 1024 * 1024

var ErrFrameTooLarge = errors.New("jpeg frame too large")

// FrameCallback is called for each extracted JPEG frame.
type FrameCallback func(frameData []byte) error

// FFmpegExtractor pulls JPEG frames from a camera through an ffmpeg process.
type FFmpegExtractor struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	cmd    *exec.Cmd
}

// ffmpegArgs builds the command line for source. Local V4L2 devices, RTSP
// and HTTP cameras get their own input options.
func ffmpegArgs(source string, fps, width int) []string {
	args := []string{"-hide_banner", "-loglevel", "warning"}

	switch {
	case strings.HasPrefix(source, "/dev/video"):
		args = append(args, "-f", "v4l2", "-framerate", fmt.Sprint(fps*2))
	case strings.HasPrefix(source, "rtsp://"), strings.HasPrefix(source, "rtsps://"):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000",
		)
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}

	return append(args,
		"-i", source,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:-1", fps, width),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "4",
		"pipe:1",
	)
}

// StartExtraction runs ffmpeg and calls callback for every frame. It blocks
// until the context is cancelled or the camera stream ends.
func (f *FFmpegExtractor) StartExtraction(ctx context.Context, source string, fps, width int, callback FrameCallback) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(source, fps, width)...)
	f.mu.Lock()
	f.cancel = cancel
	f.cmd = cmd
	f.mu.Unlock()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "output", scanner.Text())
		}
	}()

	if err := readJPEGFrames(ctx, stdout, callback); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read frames: %w", err)
	}
	return cmd.Wait()
}

// Stop terminates the ffmpeg process.
func (f *FFmpegExtractor) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		f.cancel()
	}
	if f.cmd != nil && f.cmd.Process != nil {
		_ = f.cmd.Process.Kill()
	}
}

// readJPEGFrames splits a stream of concatenated JPEG images. An empty stream
// is tolerated for up to five seconds while ffmpeg connects to the camera.
func readJPEGFrames(ctx context.Context, r io.Reader, callback FrameCallback) error {
	reader := bufio.NewReaderSize(r, 512*1024)
	framesRead := 0
	const maxStartupRetries = 50
	startupRetries := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := skipToMarker(reader, 0xD8)
		if errors.Is(err, io.EOF) {
			if framesRead > 0 {
				return nil
			}
			if startupRetries < maxStartupRetries {
				startupRetries++
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("no frames received from ffmpeg (waited %.1fs)", float64(startupRetries)*0.1)
		}
		if err != nil {
			return err
		}

		frame, err := readFrameBody(reader)
		if err != nil {
			if errors.Is(err, io.EOF) && framesRead > 0 {
				return nil
			}
			return err
		}

		framesRead++
		if err := callback(frame); err != nil {
			slog.Warn("frame callback error", "error", err)
		}
	}
}

// skipToMarker discards input up to and including the 0xFF <marker> pair.
func skipToMarker(r *bufio.Reader, marker byte) error {
	prev := byte(0)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if prev == 0xFF && b == marker {
			return nil
		}
		prev = b
	}
}

// readFrameBody reads the rest of a JPEG whose SOI marker was consumed and
// returns the whole image, SOI to EOI.
func readFrameBody(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}
	prev := byte(0)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)
		if prev == 0xFF && b == 0xD9 {
			return data, nil
		}
		prev = b
		if len(data) > maxFrameBytes {
			return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
		}
	}
}
