package recognition

import (
	"sync"
	"time"
)

// FPSCounter reports frames per second over one-second windows.
type FPSCounter struct {
	mu          sync.Mutex
	windowStart time.Time
	frames      int
	fps         float64
}

// Tick records a processed frame at now and returns the current rate.
func (c *FPSCounter) Tick(now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.windowStart.IsZero() {
		c.windowStart = now
	}
	c.frames++
	if elapsed := now.Sub(c.windowStart); elapsed >= time.Second {
		c.fps = float64(c.frames) / elapsed.Seconds()
		c.frames = 0
		c.windowStart = now
	}
	return c.fps
}

func (c *FPSCounter) FPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}
