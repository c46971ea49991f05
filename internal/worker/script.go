package worker

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/danmuck/webworker/internal/eventbus"
	"github.com/danmuck/webworker/internal/protocol"
	"github.com/dop251/goja"
)

var (
	ErrScriptEval = errors.New("worker: script evaluation failed")
	ErrNoMain     = errors.New("worker: script defines no _main")
)

type jsListener struct {
	name string
	fn   goja.Value
	id   eventbus.ListenerID
}

// ScriptBody runs a rendered bootstrap script in an embedded JavaScript VM.
// The VM is only touched from the runtime's delivery goroutine, except for
// Interrupt.
type ScriptBody struct {
	source    string
	rt        *Runtime
	vm        *goja.Runtime
	self      *goja.Object
	listeners []jsListener
	running   atomic.Pointer[goja.Runtime]
}

func NewScriptBody(source string) *ScriptBody {
	return &ScriptBody{source: source}
}

func (b *ScriptBody) Bind(rt *Runtime) error {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	self := vm.NewObject()
	b.rt, b.vm, b.self = rt, vm, self
	b.running.Store(vm)

	methods := map[string]func(goja.FunctionCall) goja.Value{
		"on":           b.on,
		"one":          b.one,
		"off":          b.off,
		"trigger":      b.trigger,
		"triggerSelf":  b.triggerSelf,
		"sendMessage":  b.sendMessage,
		"terminate":    b.terminate,
		"close":        b.terminate,
		"terminateNow": b.terminateNow,
		"isInitialized": func(goja.FunctionCall) goja.Value {
			return vm.ToValue(rt.IsInitialized())
		},
		"isTerminating": func(goja.FunctionCall) goja.Value {
			return vm.ToValue(rt.IsTerminating())
		},
	}
	for name, fn := range methods {
		if err := self.Set(name, fn); err != nil {
			return err
		}
	}
	if err := self.Set("name", rt.Name()); err != nil {
		return err
	}
	if err := self.Set("terminateHandler", goja.Null()); err != nil {
		return err
	}
	if err := vm.Set("self", self); err != nil {
		return err
	}
	if err := vm.Set("console", b.console()); err != nil {
		return err
	}

	if _, err := vm.RunString(b.source); err != nil {
		return fmt.Errorf("%w: %v", ErrScriptEval, err)
	}
	return nil
}

func (b *ScriptBody) Main(_ *Runtime, args []any) error {
	main, ok := goja.AssertFunction(b.self.Get("_main"))
	if !ok {
		return ErrNoMain
	}
	_, err := main(b.self, b.values(args)...)
	return err
}

// TerminateHandler exposes self.terminateHandler when the script sets one.
func (b *ScriptBody) TerminateHandler() TerminateHandler {
	if b.self == nil {
		return nil
	}
	fn, ok := goja.AssertFunction(b.self.Get("terminateHandler"))
	if !ok {
		return nil
	}
	return func(args []any) (any, error) {
		res, err := fn(b.self, b.values(args)...)
		if err != nil {
			return nil, err
		}
		return export(res), nil
	}
}

// Interrupt aborts whatever script code is running. Safe from any goroutine.
func (b *ScriptBody) Interrupt(reason string) {
	if vm := b.running.Load(); vm != nil {
		vm.Interrupt(reason)
	}
}

func (b *ScriptBody) on(call goja.FunctionCall) goja.Value {
	b.listen(call, false)
	return b.self
}

func (b *ScriptBody) one(call goja.FunctionCall) goja.Value {
	b.listen(call, true)
	return b.self
}

func (b *ScriptBody) listen(call goja.FunctionCall, once bool) {
	name := argString(call.Argument(0))
	fnv := call.Argument(1)
	fn, ok := goja.AssertFunction(fnv)
	if name == "" || !ok {
		return
	}

	var id eventbus.ListenerID
	listener := func(ev eventbus.Event, args ...any) {
		if once {
			b.forget(id)
		}
		values := append([]goja.Value{b.eventValue(ev)}, b.values(args)...)
		if _, err := fn(b.self, values...); err != nil {
			b.rt.logger.Error().Err(err).Str("event", ev.Type).Msg("worker.ScriptBody listener failed")
		}
	}
	if once {
		id = b.rt.One(name, listener)
	} else {
		id = b.rt.On(name, listener)
	}
	b.listeners = append(b.listeners, jsListener{name: name, fn: fnv, id: id})
}

// off mirrors the bus: no arguments clears everything, a name clears that
// event, a name and function removes that registration.
func (b *ScriptBody) off(call goja.FunctionCall) goja.Value {
	name := argString(call.Argument(0))
	fnv := call.Argument(1)
	if isBlank(fnv) {
		b.rt.Off(name, 0)
		if name == "" {
			b.listeners = nil
			return b.self
		}
		kept := b.listeners[:0]
		for _, l := range b.listeners {
			if l.name != name {
				kept = append(kept, l)
			}
		}
		b.listeners = kept
		return b.self
	}

	kept := b.listeners[:0]
	for _, l := range b.listeners {
		if (name == "" || l.name == name) && l.fn.SameAs(fnv) {
			b.rt.Off(l.name, l.id)
			continue
		}
		kept = append(kept, l)
	}
	b.listeners = kept
	return b.self
}

func (b *ScriptBody) forget(id eventbus.ListenerID) {
	for i, l := range b.listeners {
		if l.id == id {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

func (b *ScriptBody) trigger(call goja.FunctionCall) goja.Value {
	name, data := b.eventArgs(call)
	if err := b.rt.Trigger(name, data); err != nil {
		b.rt.logger.Warn().Err(err).Str("event", name).Msg("worker.ScriptBody trigger failed")
	}
	return b.self
}

func (b *ScriptBody) triggerSelf(call goja.FunctionCall) goja.Value {
	name, data := b.eventArgs(call)
	b.rt.TriggerSelf(name, data)
	return b.self
}

func (b *ScriptBody) sendMessage(call goja.FunctionCall) goja.Value {
	action := protocol.Action(argString(call.Argument(0)))
	var args []any
	switch v := export(call.Argument(1)).(type) {
	case nil:
	case []any:
		args = v
	default:
		args = []any{v}
	}
	if err := b.rt.SendMessage(action, args...); err != nil {
		b.rt.logger.Warn().Err(err).Str("action", string(action)).Msg("worker.ScriptBody sendMessage failed")
	}
	return b.self
}

func (b *ScriptBody) terminate(call goja.FunctionCall) goja.Value {
	args := make([]any, 0, len(call.Arguments))
	for _, v := range call.Arguments {
		args = append(args, export(v))
	}
	closeNow := len(args) > 0 && Truthy(args[0])
	if err := b.rt.Terminate(closeNow, args); err != nil {
		b.rt.logger.Warn().Err(err).Msg("worker.ScriptBody terminate failed")
	}
	return b.self
}

func (b *ScriptBody) terminateNow(goja.FunctionCall) goja.Value {
	if err := b.rt.TerminateNow(); err != nil {
		b.rt.logger.Warn().Err(err).Msg("worker.ScriptBody terminateNow failed")
	}
	return b.self
}

// eventArgs accepts either (name, data) or ({type, data}).
func (b *ScriptBody) eventArgs(call goja.FunctionCall) (string, any) {
	first := call.Argument(0)
	if obj, ok := first.(*goja.Object); ok {
		return argString(obj.Get("type")), export(obj.Get("data"))
	}
	return argString(first), export(call.Argument(1))
}

func (b *ScriptBody) eventValue(ev eventbus.Event) goja.Value {
	obj := b.vm.NewObject()
	_ = obj.Set("type", ev.Type)
	_ = obj.Set("data", b.vm.ToValue(ev.Data))
	_ = obj.Set("target", b.self)
	return obj
}

func (b *ScriptBody) values(args []any) []goja.Value {
	out := make([]goja.Value, 0, len(args))
	for _, a := range args {
		out = append(out, b.vm.ToValue(a))
	}
	return out
}

func (b *ScriptBody) console() *goja.Object {
	console := b.vm.NewObject()
	logger := b.rt.logger.With().Str("source", "console").Logger()
	write := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, v := range call.Arguments {
				parts = append(parts, v.String())
			}
			msg := strings.Join(parts, " ")
			switch level {
			case "error":
				logger.Error().Msg(msg)
			case "warn":
				logger.Warn().Msg(msg)
			case "debug":
				logger.Debug().Msg(msg)
			default:
				logger.Info().Msg(msg)
			}
			return goja.Undefined()
		}
	}
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(level, write(level))
	}
	return console
}

func isBlank(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func argString(v goja.Value) string {
	if isBlank(v) {
		return ""
	}
	return strings.TrimSpace(v.String())
}

func export(v goja.Value) any {
	if isBlank(v) {
		return nil
	}
	return v.Export()
}
