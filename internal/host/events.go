package host

import (
	"github.com/danmuck/webworker/internal/eventbus"
	"github.com/danmuck/webworker/internal/protocol"
)

// On registers a local listener.
func (p *Proxy) On(name string, fn eventbus.Listener) eventbus.ListenerID {
	return p.bus.On(name, fn)
}

// One registers a local listener for the next matching event only.
func (p *Proxy) One(name string, fn eventbus.Listener) eventbus.ListenerID {
	return p.bus.One(name, fn)
}

// Off removes local listeners; see eventbus.Bus.Off. The proxy's own
// lifecycle bookkeeping is not a listener and survives any Off.
func (p *Proxy) Off(name string, id eventbus.ListenerID) {
	p.bus.Off(name, id)
}

// EmitLocal delivers an event to local listeners only and returns how many
// ran.
func (p *Proxy) EmitLocal(name string, data any, args ...any) int {
	if name == "" {
		return 0
	}
	p.observe(name)
	return p.bus.Trigger(eventbus.Event{Type: name, Data: data, Target: p}, args...)
}

// ForwardRemote asks the worker to deliver an event to its own listeners.
func (p *Proxy) ForwardRemote(name string, data any) {
	if name == "" {
		return
	}
	p.SendMessage(p.actions.TriggerSelf, protocol.EventPayload{Type: name, Data: data})
}

// Trigger emits lifecycle events locally and forwards every other event to
// the worker.
func (p *Proxy) Trigger(name string, data any, args ...any) {
	if protocol.IsLifecycleEvent(name) {
		p.EmitLocal(name, data, args...)
		return
	}
	p.ForwardRemote(name, data)
}

// TriggerSelf emits any event locally, lifecycle or not.
func (p *Proxy) TriggerSelf(name string, data any, args ...any) int {
	return p.EmitLocal(name, data, args...)
}

// observe applies the state changes the worker's lifecycle events imply.
func (p *Proxy) observe(name string) {
	switch name {
	case protocol.EventWorkerLoaded:
		p.mu.Lock()
		p.hasLoaded = true
		p.mu.Unlock()
		p.advance(StateLoaded, StateLoading)
	case protocol.EventWorkerStarted:
		p.advance(StateStarted, StateStarting, StateLoaded)
	}
}
