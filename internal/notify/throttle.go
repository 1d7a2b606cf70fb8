package notify

import (
	"context"
	"sync"
	"time"
)

// Throttle suppresses repeats of the same alert cause within the cooldown
// window. The key is bot id plus title, so distinct causes never mask each
// other.
type Throttle struct {
	mu       sync.Mutex
	next     Notifier
	cooldown time.Duration
	lastSent map[string]time.Time
	now      func() time.Time
}

func NewThrottle(next Notifier, cooldown time.Duration) *Throttle {
	return &Throttle{
		next:     next,
		cooldown: cooldown,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (t *Throttle) Notify(ctx context.Context, n Notification) {
	key := n.BotID + "/" + n.Title
	t.mu.Lock()
	last, seen := t.lastSent[key]
	now := t.now()
	if seen && now.Sub(last) < t.cooldown {
		t.mu.Unlock()
		return
	}
	t.lastSent[key] = now
	t.mu.Unlock()

	t.next.Notify(ctx, n)
}
