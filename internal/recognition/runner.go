package recognition

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// FrameProcessor is the part of Orchestrator the runner drives.
type FrameProcessor interface {
	Observe(f Frame)
	Recognize(ctx context.Context, f Frame) FrameResult
}

// Runner feeds frames from a channel through a bounded worker pool. Frames
// are observed in arrival order; each frame is then recognised by exactly one
// worker.
type Runner struct {
	proc    FrameProcessor
	workers int
}

// NewRunner sizes the pool to workers, or to NumCPU-1 (at least 1) when
// workers is not positive.
func NewRunner(proc FrameProcessor, workers int) *Runner {
	if workers <= 0 {
		workers = max(1, runtime.NumCPU()-1)
	}
	return &Runner{proc: proc, workers: workers}
}

func (r *Runner) Workers() int { return r.workers }

// Run processes frames until the input channel closes or ctx is cancelled.
// results is closed when Run returns.
func (r *Runner) Run(ctx context.Context, frames <-chan Frame, results chan<- FrameResult) error {
	defer close(results)

	g, ctx := errgroup.WithContext(ctx)
	work := make(chan Frame, r.workers)

	g.Go(func() error {
		defer close(work)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case f, ok := <-frames:
				if !ok {
					return nil
				}
				r.proc.Observe(f)
				select {
				case work <- f:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	})

	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			for f := range work {
				if err := ctx.Err(); err != nil {
					return err
				}
				res := r.proc.Recognize(ctx, f)
				select {
				case results <- res:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}

	slog.Info("recognition runner started", "workers", r.workers)
	err := g.Wait()
	slog.Info("recognition runner stopped", "error", err)
	return err
}
