package notify

import (
	"sync"

	"github.com/pitabwire/surety/model"
)

// Listener receives a decoded notification and its payload.
type Listener func(n model.NotificationEvent, p Payload)

type registration struct {
	id uint64
	fn Listener
}

// Registry holds listeners per notification kind. Listeners of one kind are
// called in the order they were registered.
type Registry struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[model.NotificationKind][]registration
}

// NewRegistry returns an empty listener registry.
func NewRegistry() *Registry {
	return &Registry{listeners: make(map[model.NotificationKind][]registration)}
}

// On registers fn for kind. The returned function removes exactly this
// registration and may be called any number of times.
func (r *Registry) On(kind model.NotificationKind, fn Listener) (unsubscribe func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners[kind] = append(r.listeners[kind], registration{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(kind, id) })
	}
}

func (r *Registry) remove(kind model.NotificationKind, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.listeners[kind]
	for i, reg := range regs {
		if reg.id == id {
			r.listeners[kind] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Emit calls every listener registered for kind. Listeners run outside the
// lock so they may register or unsubscribe.
func (r *Registry) Emit(kind model.NotificationKind, n model.NotificationEvent, p Payload) {
	r.mu.Lock()
	regs := append([]registration(nil), r.listeners[kind]...)
	r.mu.Unlock()

	for _, reg := range regs {
		reg.fn(n, p)
	}
}

// Count returns the number of listeners registered for kind.
func (r *Registry) Count(kind model.NotificationKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners[kind])
}

// Clear removes all listeners.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.listeners = make(map[model.NotificationKind][]registration)
	r.mu.Unlock()
}
