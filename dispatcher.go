package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type (
	// Listener receives the payload of a dispatched event.
	Listener[V any] func(V)

	// ListenerID is the handle returned by On, used to remove that single registration.
	ListenerID uint64

	registration[V any] struct {
		id ListenerID
		fn Listener[V]
	}
)

// Dispatcher is a named-event publish/subscribe primitive. Listeners run synchronously on the
// dispatching goroutine, exact-key listeners first and namespace wildcard listeners after, each group
// in registration order.
//
// The registry lock is never held while listeners run, so a listener may call On, Off or Dispatch.
type Dispatcher[V any] struct {
	mu        sync.RWMutex
	listeners map[Key][]registration[V]
	lastID    ListenerID
	logger    Logger
}

// NewDispatcher creates an empty Dispatcher. Listener panics are reported to logger, which may be nil.
func NewDispatcher[V any](logger Logger) *Dispatcher[V] {
	return &Dispatcher[V]{
		listeners: make(map[Key][]registration[V]),
		logger:    loggerOrNoop(logger).WithField("component", "dispatcher"),
	}
}

// On registers fn for key. The returned id removes this registration through Off.
func (d *Dispatcher[V]) On(key Key, fn Listener[V]) ListenerID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastID++
	d.listeners[key] = append(d.listeners[key], registration[V]{id: d.lastID, fn: fn})
	return d.lastID
}

// Off removes the given registrations of key, or all of them when no id is passed. Unknown keys or
// ids are ignored.
func (d *Dispatcher[V]) Off(key Key, ids ...ListenerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(ids) == 0 {
		delete(d.listeners, key)
		return
	}

	current, found := d.listeners[key]
	if !found {
		return
	}

	kept := make([]registration[V], 0, len(current))
	for _, r := range current {
		if !containsID(ids, r.id) {
			kept = append(kept, r)
		}
	}

	if len(kept) == 0 {
		delete(d.listeners, key)
		return
	}
	d.listeners[key] = kept
}

// ListenerCount reports how many listeners are registered on exactly key.
func (d *Dispatcher[V]) ListenerCount(key Key) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.listeners[key])
}

// Dispatch invokes every listener registered on key and then on its namespace wildcard. A panicking
// listener does not stop the others; Dispatch then returns an error wrapping ErrListenerPanic.
func (d *Dispatcher[V]) Dispatch(key Key, v V) error {
	failed := 0
	for _, r := range d.snapshot(key) {
		if !d.invoke(key, r, v) {
			failed++
		}
	}

	if failed > 0 {
		return errors.Wrapf(ErrListenerPanic, "%d listener(s) of %s", failed, key)
	}
	return nil
}

// WaitForNext blocks until key is next dispatched and returns its payload. A positive timeout bounds
// the wait with ErrWaitTimeout; otherwise only ctx does. The temporary listener is always removed
// before returning.
func (d *Dispatcher[V]) WaitForNext(ctx context.Context, key Key, timeout time.Duration) (V, error) {
	var (
		zero V
		once sync.Once
		next = make(chan V, 1)
	)

	id := d.On(key, func(v V) {
		once.Do(func() { next <- v })
	})
	defer d.Off(key, id)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case v := <-next:
		return v, nil
	case <-expired:
		return zero, errors.Wrapf(ErrWaitTimeout, "%s after %s", key, timeout)
	case <-ctx.Done():
		return zero, errors.Wrapf(ctx.Err(), "waiting for %s", key)
	}
}

// Close removes every listener.
func (d *Dispatcher[V]) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.listeners = make(map[Key][]registration[V])
}

func (d *Dispatcher[V]) snapshot(key Key) []registration[V] {
	d.mu.RLock()
	defer d.mu.RUnlock()

	exact := d.listeners[key]
	if key.IsWildcard() {
		return append([]registration[V](nil), exact...)
	}

	wildcard := d.listeners[key.Wildcard()]
	out := make([]registration[V], 0, len(exact)+len(wildcard))
	out = append(out, exact...)
	return append(out, wildcard...)
}

func (d *Dispatcher[V]) invoke(key Key, r registration[V], v V) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Errorf("listener #%d of %s panicked: %s", r.id, key, fmt.Sprint(p))
			ok = false
		}
	}()

	r.fn(v)
	return true
}

func containsID(ids []ListenerID, id ListenerID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
