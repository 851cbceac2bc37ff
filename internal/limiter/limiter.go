package limiter

import (
	"context"
	"sync"
	"time"
)

// DefaultSchedule is the cooldown escalation used after consecutive 429s.
var DefaultSchedule = []time.Duration{
	10 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second, 180 * time.Second,
}

// Cooldown is a process-wide pause shared by every caller of one remote
// service. A rate-limit response opens it for the next step of the schedule;
// a success closes it and resets the escalation.
type Cooldown struct {
	mu       sync.Mutex
	schedule []time.Duration
	level    int
	until    time.Time
	now      func() time.Time
}

func New(schedule []time.Duration) *Cooldown {
	if len(schedule) == 0 {
		schedule = DefaultSchedule
	}
	s := make([]time.Duration, len(schedule))
	copy(s, schedule)
	return &Cooldown{schedule: s, now: time.Now}
}

// Steps is the length of the escalation schedule.
func (c *Cooldown) Steps() int { return len(c.schedule) }

// Open extends the cooldown by the next scheduled step, or by retryAfter when
// the server asked for longer. It returns the pause applied.
func (c *Cooldown) Open(retryAfter time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.level
	if i >= len(c.schedule) {
		i = len(c.schedule) - 1
	}
	d := c.schedule[i]
	if retryAfter > d {
		d = retryAfter
	}
	c.level++
	if until := c.now().Add(d); until.After(c.until) {
		c.until = until
	}
	return d
}

// Close resets the escalation after a successful call.
func (c *Cooldown) Close() {
	c.mu.Lock()
	c.level = 0
	c.until = time.Time{}
	c.mu.Unlock()
}

// Remaining reports how long callers must still wait.
func (c *Cooldown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d := c.until.Sub(c.now()); d > 0 {
		return d
	}
	return 0
}

// Level is the number of consecutive openings since the last Close.
func (c *Cooldown) Level() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Wait blocks until the cooldown has elapsed or ctx is done. The deadline is
// re-read after each wake-up since another caller may have extended it.
func (c *Cooldown) Wait(ctx context.Context) error {
	for {
		d := c.Remaining()
		if d <= 0 {
			return ctx.Err()
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
