package notify

import (
	"context"
	"sync"

	"github.com/pitabwire/surety/model"
)

// Source is anything notifications can be subscribed on.
type Source interface {
	On(kind model.NotificationKind, fn Listener) (unsubscribe func())
}

// Feed binds a Source to a Buffer for the lifetime of a view. Once the
// lifetime context is done, incoming events are dropped without touching
// the buffer.
type Feed struct {
	buffer   *Buffer
	recorder Recorder

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	unsubs []func()
	hooks  []hook
	nextID uint64
}

type hook struct {
	id uint64
	fn func(model.NotificationEvent)
}

// NewFeed subscribes to every notification kind on src. The feed stops
// accepting events when parent is done or Close is called.
func NewFeed(parent context.Context, src Source, buffer *Buffer, recorder Recorder) *Feed {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	ctx, cancel := context.WithCancel(parent)
	f := &Feed{
		buffer:   buffer,
		recorder: recorder,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, kind := range model.NotificationKinds {
		f.unsubs = append(f.unsubs, src.On(kind, f.receive))
	}
	return f
}

func (f *Feed) receive(n model.NotificationEvent, _ Payload) {
	if f.ctx.Err() != nil {
		f.recorder.RecordNotificationDropped("unmounted")
		return
	}

	f.recorder.RecordNotificationReceived(string(n.Kind))
	if evicted := f.buffer.Push(n); evicted > 0 {
		for range evicted {
			f.recorder.RecordNotificationDropped("evicted")
		}
	}

	f.mu.Lock()
	hooks := append([]hook(nil), f.hooks...)
	f.mu.Unlock()

	for _, h := range hooks {
		h.fn(n)
	}
}

// OnNotification calls fn for every notification accepted into the buffer.
// Hooks run in the order they were added.
func (f *Feed) OnNotification(fn func(model.NotificationEvent)) (remove func()) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.hooks = append(f.hooks, hook{id: id, fn: fn})
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, h := range f.hooks {
			if h.id == id {
				f.hooks = append(f.hooks[:i:i], f.hooks[i+1:]...)
				return
			}
		}
	}
}

// Buffer returns the feed's notification buffer.
func (f *Feed) Buffer() *Buffer {
	return f.buffer
}

// Done is closed when the feed's lifetime ends.
func (f *Feed) Done() <-chan struct{} {
	return f.ctx.Done()
}

// Close ends the feed's lifetime and unsubscribes from the source. Closing
// twice is safe.
func (f *Feed) Close() {
	f.cancel()

	f.mu.Lock()
	unsubs := f.unsubs
	f.unsubs = nil
	f.hooks = nil
	f.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}
