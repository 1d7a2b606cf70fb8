package notify

import (
	"context"
	"fmt"
	"sync"
)

// Batcher collects notifications during a batch run and delivers them as one
// summary on Flush, so a noisy multi-bot tick does not page the operator
// once per bot.
type Batcher struct {
	mu      sync.Mutex
	next    Notifier
	pending []Notification
}

func NewBatcher(next Notifier) *Batcher {
	return &Batcher{next: next}
}

func (b *Batcher) Notify(_ context.Context, n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, n)
}

// Flush delivers all collected notifications individually plus a one-line
// summary when more than one accumulated.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, n := range pending {
		b.next.Notify(ctx, n)
	}
	if len(pending) > 1 {
		b.next.Notify(ctx, Notification{
			Level:   LevelInfo,
			Title:   "batch summary",
			Message: fmt.Sprintf("%d notifications this run", len(pending)),
		})
	}
}
