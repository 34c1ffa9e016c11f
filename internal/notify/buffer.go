package notify

import (
	"sync"

	"github.com/pitabwire/surety/model"
)

// MaxNotifications is the default number of notifications kept per admin.
const MaxNotifications = 10

// Buffer keeps the most recent notifications, newest first.
type Buffer struct {
	mu    sync.RWMutex
	max   int
	items []model.NotificationEvent
}

// NewBuffer creates a buffer holding at most max notifications. A
// non-positive max falls back to MaxNotifications.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = MaxNotifications
	}
	return &Buffer{max: max}
}

// Push prepends evt and drops the oldest entries beyond the bound. It
// returns how many entries were evicted.
func (b *Buffer) Push(evt model.NotificationEvent) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := make([]model.NotificationEvent, 0, len(b.items)+1)
	items = append(items, evt)
	items = append(items, b.items...)

	evicted := 0
	if len(items) > b.max {
		evicted = len(items) - b.max
		items = items[:b.max]
	}
	b.items = items
	return evicted
}

// Dismiss removes the notification with the given id.
func (b *Buffer) Dismiss(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, it := range b.items {
		if it.ID == id {
			b.items = append(b.items[:i:i], b.items[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the buffered notifications, newest first.
func (b *Buffer) Snapshot() []model.NotificationEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.NotificationEvent, len(b.items))
	copy(out, b.items)
	return out
}

// Len returns the number of buffered notifications.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.items = nil
	b.mu.Unlock()
}
