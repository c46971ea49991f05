package worker

import (
	"fmt"

	"github.com/danmuck/webworker/internal/observability"
	"github.com/danmuck/webworker/internal/protocol"
)

func (r *Runtime) actionTable() map[protocol.Action]actionFunc {
	return map[protocol.Action]actionFunc{
		r.actions.Start: func(env protocol.Envelope) error {
			args, err := env.Values()
			if err != nil {
				return err
			}
			return r.Start(args)
		},
		r.actions.SetTerminatingStatus: func(env protocol.Envelope) error {
			args, err := env.Values()
			if err != nil {
				return err
			}
			r.SetTerminatingStatus(len(args) > 0 && Truthy(args[0]))
			return nil
		},
		r.actions.Terminate: func(env protocol.Envelope) error {
			args, err := env.Values()
			if err != nil {
				return err
			}
			return r.Terminate(len(args) > 0 && Truthy(args[0]), args)
		},
		r.actions.TerminateNow: func(protocol.Envelope) error {
			return r.TerminateNow()
		},
		r.actions.Trigger: func(env protocol.Envelope) error {
			ev, err := protocol.DecodeEvent(env)
			if err != nil {
				return err
			}
			return r.Trigger(ev.Type, ev.Data)
		},
		r.actions.TriggerSelf: func(env protocol.Envelope) error {
			ev, err := protocol.DecodeEvent(env)
			if err != nil {
				return err
			}
			extra, err := protocol.Envelope{Args: env.Args[1:]}.Values()
			if err != nil {
				return err
			}
			r.TriggerSelf(ev.Type, ev.Data, extra...)
			return nil
		},
	}
}

// dispatch handles one inbound message. Failures are logged per message and
// never stop delivery of the next one.
func (r *Runtime) dispatch(data []byte) {
	env, ok, err := protocol.Decode(data)
	if !ok {
		observability.RecordForeignMessage(observability.SideWorker)
		return
	}
	if err != nil {
		r.unknownAction(env.Action, err)
		return
	}
	observability.RecordEnvelope(observability.SideWorker, observability.DirectionReceived, string(env.Action))

	fn, found := r.handlers[env.Action]
	if !found {
		r.unknownAction(env.Action, protocol.ErrUnknownAction)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("action", string(env.Action)).
				Interface("panic", rec).
				Msg("worker.Runtime.dispatch recovered")
			r.reportError(fmt.Errorf("worker: action %q panicked: %v", env.Action, rec))
		}
	}()
	if err := fn(env); err != nil {
		r.logger.Warn().Err(err).Str("action", string(env.Action)).Msg("worker.Runtime.dispatch action failed")
	}
}

func (r *Runtime) unknownAction(action protocol.Action, err error) {
	observability.RecordError(observability.SideWorker, "UnknownAction")
	r.logger.Warn().Err(err).Str("action", string(action)).Msg("worker.Runtime.dispatch unknown action")
}

// Truthy applies JavaScript truthiness to a decoded JSON value.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}
