package host

import (
	"strings"

	"github.com/danmuck/webworker/internal/bootstrap"
	"github.com/danmuck/webworker/internal/eventbus"
	"github.com/danmuck/webworker/internal/protocol"
	"github.com/danmuck/webworker/internal/spawn"
	"github.com/rs/zerolog"
)

// Option configures a Proxy at construction.
type Option func(*Proxy)

// WithName labels the proxy in logs, metrics and the event journal.
func WithName(name string) Option {
	return func(p *Proxy) {
		if name = strings.TrimSpace(name); name != "" {
			p.name = name
		}
	}
}

// WithScriptIndex sets where selector-style sources are looked up.
func WithScriptIndex(index ScriptIndex) Option {
	return func(p *Proxy) { p.index = index }
}

func WithFetcher(f Fetcher) Option {
	return func(p *Proxy) {
		if f != nil {
			p.fetcher = f
		}
	}
}

func WithSpawner(s spawn.Spawner) Option {
	return func(p *Proxy) {
		if s != nil {
			p.spawner = s
		}
	}
}

// WithStore sets the object-URL store rendered scripts are registered in.
func WithStore(s *bootstrap.Store) Option {
	return func(p *Proxy) {
		if s != nil {
			p.store = s
		}
	}
}

// WithActions sets the action vocabulary shared with the worker.
func WithActions(actions protocol.ActionSet) Option {
	return func(p *Proxy) { p.actions = actions.WithDefaults() }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Proxy) { p.baseLogger = &logger }
}

// OnEvent registers a listener before construction finishes, so it also
// observes webworker:initialized.
func OnEvent(name string, fn eventbus.Listener) Option {
	return func(p *Proxy) { p.bus.On(name, fn) }
}
