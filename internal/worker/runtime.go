package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/webworker/internal/channel"
	"github.com/danmuck/webworker/internal/eventbus"
	"github.com/danmuck/webworker/internal/observability"
	"github.com/danmuck/webworker/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNilPort        = errors.New("worker: nil port")
	ErrNilBody        = errors.New("worker: nil body")
	ErrAlreadyRunning = errors.New("worker: already running")
)

// State is the runtime lifecycle phase.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitialized   State = "initialized"
	StateStarted       State = "started"
	StateTerminating   State = "terminating"
)

// Options configures a Runtime.
type Options struct {
	Name    string
	Actions protocol.ActionSet
	Logger  *zerolog.Logger
}

type actionFunc func(env protocol.Envelope) error

// Runtime mirrors the host's lifecycle inside the worker.
type Runtime struct {
	name     string
	port     channel.Port
	body     Body
	actions  protocol.ActionSet
	handlers map[protocol.Action]actionFunc
	bus      *eventbus.Bus
	logger   zerolog.Logger

	mu               sync.Mutex
	state            State
	initialized      bool
	terminating      bool
	terminateHandler TerminateHandler
	terminateHandled bool
	terminateResult  any
	running          bool

	closeOnce sync.Once
	done      chan struct{}
}

func New(port channel.Port, body Body, opts Options) (*Runtime, error) {
	if port == nil {
		return nil, ErrNilPort
	}
	if body == nil {
		return nil, ErrNilBody
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "worker"
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	r := &Runtime{
		name:    name,
		port:    port,
		body:    body,
		actions: opts.Actions.WithDefaults(),
		bus:     eventbus.New(),
		logger:  logger.With().Str("side", observability.SideWorker).Str("worker", name).Logger(),
		state:   StateUninitialized,
		done:    make(chan struct{}),
	}
	r.handlers = r.actionTable()
	return r, nil
}

// Run binds the body, self-initializes and serves inbound envelopes until the
// runtime closes or ctx ends.
func (r *Runtime) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()

	if err := r.body.Bind(r); err != nil {
		r.nativeClose()
		return fmt.Errorf("worker: bind body: %w", err)
	}
	r.init()
	r.port.Listen(channel.Handler{
		Message: r.dispatch,
		Error:   r.onChannelError,
	})

	select {
	case <-ctx.Done():
		r.logger.Debug().Msg("worker.Runtime.Run context done")
		if in, ok := r.body.(interrupter); ok {
			in.Interrupt("worker killed")
		}
		r.nativeClose()
		return nil
	case <-r.done:
		return nil
	}
}

func (r *Runtime) init() {
	r.mu.Lock()
	r.initialized = true
	r.state = StateInitialized
	r.mu.Unlock()
	observability.RecordTransition(observability.SideWorker, string(StateInitialized))
	if err := r.Trigger(protocol.EventWorkerLoaded, nil); err != nil {
		r.logger.Warn().Err(err).Msg("worker.Runtime.init loaded notification failed")
	}
}

func (r *Runtime) Name() string {
	return r.name
}

func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runtime) IsInitialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

func (r *Runtime) IsTerminating() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminating
}

// Done is closed once the runtime has closed itself.
func (r *Runtime) Done() <-chan struct{} {
	return r.done
}

// Actions returns the action vocabulary this runtime answers to.
func (r *Runtime) Actions() protocol.ActionSet {
	return r.actions
}

func (r *Runtime) SetTerminateHandler(h TerminateHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminateHandler = h
}

// SetTerminatingStatus records whether a terminate is already under way.
func (r *Runtime) SetTerminatingStatus(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminating = v
}

// Start runs the body's main and reports worker-started. It is a no-op
// before initialization.
func (r *Runtime) Start(args []any) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return nil
	}
	r.state = StateStarted
	r.mu.Unlock()
	observability.RecordTransition(observability.SideWorker, string(StateStarted))

	if err := r.body.Main(r, args); err != nil {
		r.logger.Error().Err(err).Msg("worker.Runtime.Start main failed")
		r.reportError(err)
		return err
	}
	return r.Trigger(protocol.EventWorkerStarted, nil)
}

// Terminate runs the terminate hook and answers the host with terminateNow.
// The hook runs at most once; later calls answer with its first result.
// closeNow additionally closes the runtime after the answer is queued.
func (r *Runtime) Terminate(closeNow bool, args []any) error {
	r.mu.Lock()
	already := r.terminating
	handled := r.terminateHandled
	r.terminating = true
	r.terminateHandled = true
	r.state = StateTerminating
	handler := r.terminateHandler
	returnValue := r.terminateResult
	r.mu.Unlock()
	observability.RecordTransition(observability.SideWorker, string(StateTerminating))

	if !already {
		if err := r.Trigger(protocol.EventWorkerTerminating, nil); err != nil {
			r.logger.Warn().Err(err).Msg("worker.Runtime.Terminate terminating notification failed")
		}
	}
	if !handled {
		returnValue = r.runTerminateHandler(handler, args)
	}

	sendErr := r.SendMessage(r.actions.TerminateNow, returnValue)
	if closeNow {
		r.nativeClose()
	}
	return sendErr
}

func (r *Runtime) runTerminateHandler(handler TerminateHandler, args []any) any {
	if handler == nil {
		if hooker, ok := r.body.(terminateHooker); ok {
			handler = hooker.TerminateHandler()
		}
	}
	if handler == nil {
		return nil
	}
	v, err := handler(args)
	if err != nil {
		r.logger.Error().Err(err).Msg("worker.Runtime.Terminate handler failed")
		r.reportError(err)
		return nil
	}
	r.mu.Lock()
	r.terminateResult = v
	r.mu.Unlock()
	return v
}

// TerminateNow terminates and closes the runtime.
func (r *Runtime) TerminateNow() error {
	return r.Terminate(true, []any{true})
}

// Close is TerminateNow with caller-supplied hook arguments.
func (r *Runtime) Close(args ...any) error {
	return r.Terminate(true, append([]any{true}, args...))
}

func (r *Runtime) nativeClose() {
	r.closeOnce.Do(func() {
		if err := r.port.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("worker.Runtime.nativeClose port close failed")
		}
		close(r.done)
		r.logger.Debug().Msg("worker.Runtime closed")
	})
}

// On registers a local listener.
func (r *Runtime) On(name string, fn eventbus.Listener) eventbus.ListenerID {
	return r.bus.On(name, fn)
}

// One registers a local listener for the next matching event only.
func (r *Runtime) One(name string, fn eventbus.Listener) eventbus.ListenerID {
	return r.bus.One(name, fn)
}

// Off removes local listeners; see eventbus.Bus.Off.
func (r *Runtime) Off(name string, id eventbus.ListenerID) {
	r.bus.Off(name, id)
}

// TriggerSelf delivers an event to local listeners only.
func (r *Runtime) TriggerSelf(name string, data any, args ...any) int {
	return r.bus.Trigger(eventbus.Event{Type: name, Data: data, Target: r}, args...)
}

// Trigger asks the host to relay an event.
func (r *Runtime) Trigger(name string, data any) error {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	return r.SendMessage(r.actions.Trigger, protocol.EventPayload{Type: name, Data: data})
}

// SendMessage posts one envelope to the host. An empty action sends nothing.
func (r *Runtime) SendMessage(action protocol.Action, args ...any) error {
	if strings.TrimSpace(string(action)) == "" {
		return nil
	}
	data, err := protocol.Encode(action, args...)
	if err != nil {
		return err
	}
	if err := r.port.Post(data); err != nil {
		return err
	}
	observability.RecordEnvelope(observability.SideWorker, observability.DirectionSent, string(action))
	return nil
}

func (r *Runtime) reportError(err error) {
	observability.RecordError(observability.SideWorker, "Unknown")
	if sendErr := r.Trigger(protocol.EventError, err.Error()); sendErr != nil {
		r.logger.Warn().Err(sendErr).Msg("worker.Runtime.reportError relay failed")
	}
}

func (r *Runtime) onChannelError(err error) {
	r.logger.Warn().Err(err).Msg("worker.Runtime channel error")
}
