package recognition

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	mu       sync.Mutex
	observed []string
	block    chan struct{}
}

func (p *recordingProcessor) Observe(f Frame) {
	p.mu.Lock()
	p.observed = append(p.observed, f.ID)
	p.mu.Unlock()
}

func (p *recordingProcessor) Recognize(ctx context.Context, f Frame) FrameResult {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
		}
	}
	return FrameResult{FrameID: f.ID}
}

func TestRunnerProcessesEveryFrame(t *testing.T) {
	proc := &recordingProcessor{}
	r := NewRunner(proc, 3)

	frames := make(chan Frame)
	results := make(chan FrameResult, 16)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), frames, results) }()

	var want []string
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("f%02d", i)
		want = append(want, id)
		frames <- Frame{ID: id}
	}
	close(frames)

	var got []string
	for res := range results {
		got = append(got, res.FrameID)
	}
	require.NoError(t, <-done)

	assert.ElementsMatch(t, want, got)
	assert.Equal(t, want, proc.observed)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	proc := &recordingProcessor{block: make(chan struct{})}
	r := NewRunner(proc, 2)

	ctx, cancel := context.WithCancel(context.Background())
	frames := make(chan Frame, 4)
	results := make(chan FrameResult)
	frames <- Frame{ID: "a"}
	frames <- Frame{ID: "b"}

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, frames, results) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}

	_, open := <-results
	assert.False(t, open)
}

func TestNewRunnerDefaultsWorkers(t *testing.T) {
	assert.GreaterOrEqual(t, NewRunner(&recordingProcessor{}, 0).Workers(), 1)
	assert.Equal(t, 4, NewRunner(&recordingProcessor{}, 4).Workers())
}
