// Package eventbus is the local pub/sub used on both sides of the channel.
//
// Listeners are delivered in registration order. Trigger works on a snapshot
// of the listener list, so listeners may register or remove listeners while
// an event is being delivered; a listener removed mid-delivery is not
// invoked afterwards.
package eventbus

import (
	"strings"
	"sync"
)

// Event is the value handed to every listener.
type Event struct {
	Type   string
	Data   any
	Target any
}

// Listener receives an event plus any extra trigger arguments.
type Listener func(ev Event, args ...any)

// ListenerID identifies one registration for Off.
type ListenerID uint64

type entry struct {
	id   ListenerID
	fn   Listener
	once bool
}

type Bus struct {
	mu        sync.Mutex
	seq       ListenerID
	listeners map[string][]entry
}

func New() *Bus {
	return &Bus{listeners: make(map[string][]entry)}
}

// On registers fn for name. A nil fn or empty name registers nothing and returns 0.
func (b *Bus) On(name string, fn Listener) ListenerID {
	return b.add(name, fn, false)
}

// One registers fn for the first matching trigger only.
func (b *Bus) One(name string, fn Listener) ListenerID {
	return b.add(name, fn, true)
}

func (b *Bus) add(name string, fn Listener, once bool) ListenerID {
	name = strings.TrimSpace(name)
	if name == "" || fn == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := b.seq
	b.listeners[name] = append(b.listeners[name], entry{id: id, fn: fn, once: once})
	return id
}

// Off removes registrations.
//
//	Off("", 0)     clears every listener
//	Off(name, 0)   clears every listener of name
//	Off("", id)    removes id wherever it is registered
//	Off(name, id)  removes id from name
func (b *Bus) Off(name string, id ListenerID) {
	name = strings.TrimSpace(name)
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case name == "" && id == 0:
		b.listeners = make(map[string][]entry)
	case id == 0:
		delete(b.listeners, name)
	case name == "":
		for key := range b.listeners {
			b.removeLocked(key, id)
		}
	default:
		b.removeLocked(name, id)
	}
}

func (b *Bus) removeLocked(name string, id ListenerID) {
	list := b.listeners[name]
	out := list[:0]
	for _, e := range list {
		if e.id != id {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		delete(b.listeners, name)
		return
	}
	b.listeners[name] = out
}

// Trigger delivers ev to the listeners of ev.Type and returns how many ran.
func (b *Bus) Trigger(ev Event, args ...any) int {
	if strings.TrimSpace(ev.Type) == "" {
		return 0
	}
	b.mu.Lock()
	snapshot := append([]entry(nil), b.listeners[ev.Type]...)
	b.mu.Unlock()

	delivered := 0
	for _, e := range snapshot {
		if !b.claim(ev.Type, e.id) {
			continue
		}
		e.fn(ev, args...)
		delivered++
	}
	return delivered
}

// Emit is Trigger for a bare event name.
func (b *Bus) Emit(name string, args ...any) int {
	return b.Trigger(Event{Type: name}, args...)
}

// claim reports whether id is still registered, consuming one-shot entries.
func (b *Bus) claim(name string, id ListenerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.listeners[name] {
		if e.id != id {
			continue
		}
		if e.once {
			b.removeLocked(name, id)
		}
		return true
	}
	return false
}

// Count returns the number of listeners registered for name.
func (b *Bus) Count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[strings.TrimSpace(name)])
}
