package attendance

import (
	"sync"
	"time"

	"github.com/your-org/kiosk/internal/models"
)

type cooldownEntry struct {
	at     time.Time
	status models.AttendanceStatus
}

// Cooldown tracks the last committed mark per identity and hands out
// per-identity locks so check-then-commit is atomic. Entries are never pruned;
// the map is bounded by the enrolled population.
type Cooldown struct {
	mu      sync.Mutex
	entries map[string]cooldownEntry
	locks   map[string]*sync.Mutex
}

func NewCooldown() *Cooldown {
	return &Cooldown{
		entries: make(map[string]cooldownEntry),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Lock serialises evaluations for one identity and returns the unlock func.
func (c *Cooldown) Lock(identity string) func() {
	c.mu.Lock()
	l, ok := c.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		c.locks[identity] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (c *Cooldown) Last(identity string) (time.Time, models.AttendanceStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[identity]
	return e.at, e.status, ok
}

func (c *Cooldown) Record(identity string, at time.Time, status models.AttendanceStatus) {
	c.mu.Lock()
	c.entries[identity] = cooldownEntry{at: at, status: status}
	c.mu.Unlock()
}

func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
