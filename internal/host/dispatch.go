package host

import (
	"fmt"

	"github.com/danmuck/webworker/internal/observability"
	"github.com/danmuck/webworker/internal/protocol"
	"github.com/danmuck/webworker/internal/spawn"
)

type actionFunc func(env protocol.Envelope) error

// actionTable lists the actions a worker may invoke on its host.
func (p *Proxy) actionTable() map[protocol.Action]actionFunc {
	return map[protocol.Action]actionFunc{
		p.actions.Trigger: func(env protocol.Envelope) error {
			ev, extra, err := decodeEventArgs(env)
			if err != nil {
				return err
			}
			if ev.Type == protocol.EventError {
				// uncaught failure inside the worker
				_ = p.ThrowError(KindUnknown, ev.Data, false)
				return nil
			}
			p.Trigger(ev.Type, ev.Data, extra...)
			return nil
		},
		p.actions.TriggerSelf: func(env protocol.Envelope) error {
			ev, extra, err := decodeEventArgs(env)
			if err != nil {
				return err
			}
			p.TriggerSelf(ev.Type, ev.Data, extra...)
			return nil
		},
		p.actions.TerminateNow: func(env protocol.Envelope) error {
			var rv any
			if len(env.Args) > 0 {
				if err := env.Arg(0, &rv); err != nil {
					return err
				}
			}
			p.TerminateNow(rv)
			return nil
		},
		p.actions.Start: func(env protocol.Envelope) error {
			args, err := env.Values()
			if err != nil {
				return err
			}
			p.Start(args...)
			return nil
		},
		p.actions.Terminate: func(env protocol.Envelope) error {
			args, err := env.Values()
			if err != nil {
				return err
			}
			p.Terminate(args...)
			return nil
		},
	}
}

func decodeEventArgs(env protocol.Envelope) (protocol.EventPayload, []any, error) {
	ev, err := protocol.DecodeEvent(env)
	if err != nil {
		return protocol.EventPayload{}, nil, err
	}
	extra, err := protocol.Envelope{Args: env.Args[1:]}.Values()
	if err != nil {
		return protocol.EventPayload{}, nil, err
	}
	return ev, extra, nil
}

// dispatch handles one message from worker h. A failing message is reported
// and never stops delivery of the next one.
func (p *Proxy) dispatch(h spawn.Handle, data []byte) {
	env, ok, err := protocol.Decode(data)
	if !ok {
		observability.RecordForeignMessage(observability.SideHost)
		return
	}
	if p.Handle() != h {
		p.logger.Debug().Str("action", string(env.Action)).Msg("host.Proxy.dispatch message from released worker")
		return
	}
	if err != nil {
		_ = p.ThrowError(KindUnknownAction, err, false)
		return
	}
	observability.RecordEnvelope(observability.SideHost, observability.DirectionReceived, string(env.Action))

	fn, found := p.handlers[env.Action]
	if !found {
		_ = p.ThrowError(KindUnknownAction, string(env.Action), false)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error().
				Str("action", string(env.Action)).
				Interface("panic", rec).
				Msg("host.Proxy.dispatch recovered")
			_ = p.ThrowError(KindUnknown, fmt.Errorf("host: action %q panicked: %v", env.Action, rec), false)
		}
	}()
	if err := fn(env); err != nil {
		p.logger.Warn().Err(err).Str("action", string(env.Action)).Msg("host.Proxy.dispatch action failed")
		_ = p.ThrowError(KindUnknownAction, err, false)
	}
}

// channelError handles errors raised by the worker's channel. An error
// before the worker reports loaded means it never came up.
func (p *Proxy) channelError(h spawn.Handle, err error) {
	p.mu.Lock()
	current := p.handle == h
	loading := current && p.state == StateLoading
	if loading {
		p.handle = nil
		p.generation++
	}
	blobURL := p.blobURL
	if loading {
		p.blobURL = ""
	}
	p.mu.Unlock()

	if !current {
		return
	}
	if !loading {
		_ = p.ThrowError(KindUnknown, err, false)
		return
	}
	p.logger.Error().Err(err).Msg("host.Proxy worker failed before loading")
	_ = h.Terminate()
	p.store.Revoke(blobURL)
	p.advance(StateUnloaded, StateLoading)
	_ = p.ThrowError(KindWorkerLoadError, err, false)
}
