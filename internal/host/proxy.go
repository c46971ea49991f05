package host

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/webworker/internal/bootstrap"
	"github.com/danmuck/webworker/internal/channel"
	"github.com/danmuck/webworker/internal/eventbus"
	"github.com/danmuck/webworker/internal/observability"
	"github.com/danmuck/webworker/internal/protocol"
	"github.com/danmuck/webworker/internal/spawn"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the host-side lifecycle phase.
type State string

const (
	StateUnloaded    State = "unloaded"
	StateLoading     State = "loading"
	StateLoaded      State = "loaded"
	StateStarting    State = "starting"
	StateStarted     State = "started"
	StateTerminating State = "terminating"
	StateTerminated  State = "terminated"
)

// TerminatedData is the data of webworker:worker-terminated.
type TerminatedData struct {
	ReturnValue any `json:"returnValue"`
}

// Status is a point-in-time view of a Proxy.
type Status struct {
	Name               string     `json:"name"`
	URL                string     `json:"url,omitempty"`
	BlobURL            string     `json:"blobUrl,omitempty"`
	State              State      `json:"state"`
	HasLoaded          bool       `json:"hasLoaded"`
	TerminateInitiated bool       `json:"terminateInitiated"`
	InlineSource       bool       `json:"inlineSource"`
	LastError          *ErrorInfo `json:"lastError,omitempty"`
}

// Proxy is the host object for one logical worker.
type Proxy struct {
	name       string
	actions    protocol.ActionSet
	index      ScriptIndex
	fetcher    Fetcher
	spawner    spawn.Spawner
	store      *bootstrap.Store
	bus        *eventbus.Bus
	baseLogger *zerolog.Logger
	logger     zerolog.Logger
	handlers   map[protocol.Action]actionFunc

	url    string
	inline bool

	mu                 sync.Mutex
	script             string
	blobURL            string
	handle             spawn.Handle
	state              State
	hasLoaded          bool
	terminateInitiated bool
	lastError          *WorkerError
	generation         uint64
}

// New builds a proxy for source. source is first looked up as a selector in
// the configured ScriptIndex; when nothing matches it is used as the worker
// URL. An empty source fails with ErrInvalidArguments.
func New(source string, opts ...Option) (*Proxy, error) {
	p := &Proxy{
		name:    "worker",
		actions: protocol.DefaultActions(),
		store:   bootstrap.Default(),
		bus:     eventbus.New(),
		state:   StateUnloaded,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	base := log.Logger
	if p.baseLogger != nil {
		base = *p.baseLogger
	}
	p.logger = base.With().Str("side", observability.SideHost).Str("worker", p.name).Logger()
	if p.fetcher == nil {
		p.fetcher = NewHTTPFetcher(DefaultFetchTimeout, "")
	}
	if p.spawner == nil {
		p.spawner = spawn.InProcess{Name: p.name, Actions: p.actions, Logger: p.baseLogger}
	}
	p.handlers = p.actionTable()

	source = strings.TrimSpace(source)
	if source == "" {
		return nil, p.ThrowError(KindInvalidArguments, nil, true)
	}
	if p.index != nil {
		if text, ok := p.index.Lookup(source); ok {
			p.script = text
			p.inline = true
		}
	}
	if !p.inline {
		p.url = source
	}

	p.logger.Debug().Str("source", source).Bool("inline", p.inline).Msg("host.Proxy created")
	p.EmitLocal(protocol.EventInitialized, nil)
	return p, nil
}

func (p *Proxy) Name() string {
	return p.name
}

// URL is the worker URL given at construction, empty for inline sources.
func (p *Proxy) URL() string {
	return p.url
}

// BlobURL is the object URL of the currently rendered bootstrap.
func (p *Proxy) BlobURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blobURL
}

// Handle is the spawned worker, nil when none is running.
func (p *Proxy) Handle() spawn.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle
}

func (p *Proxy) HasLoaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasLoaded
}

func (p *Proxy) IsTerminateInitialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminateInitiated
}

func (p *Proxy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LastError is the most recent error this proxy reported, or nil.
func (p *Proxy) LastError() *WorkerError {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastError
}

// Script is the cached worker source body.
func (p *Proxy) Script() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.script
}

func (p *Proxy) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		Name:               p.name,
		URL:                p.url,
		BlobURL:            p.blobURL,
		State:              p.state,
		HasLoaded:          p.hasLoaded,
		TerminateInitiated: p.terminateInitiated,
		InlineSource:       p.inline,
	}
	if p.lastError != nil {
		info := p.lastError.Info(false)
		st.LastError = &info
	}
	return st
}

// Load resolves the source, renders the bootstrap and spawns the worker.
// URL sources are fetched on a separate goroutine, so Load returns before
// the worker exists. Completion is signalled by webworker:worker-loaded;
// failure by a WorkerLoadError on webworker:error. Load is ignored while a
// load is in flight or a worker is running.
func (p *Proxy) Load(ctx context.Context) {
	p.mu.Lock()
	if p.handle != nil || p.state == StateLoading {
		state := p.state
		p.mu.Unlock()
		p.logger.Warn().Str("state", string(state)).Msg("host.Proxy.Load ignored while active")
		return
	}
	p.generation++
	gen := p.generation
	script := p.script
	p.state = StateLoading
	p.mu.Unlock()
	observability.RecordTransition(observability.SideHost, string(StateLoading))

	started := time.Now()
	p.EmitLocal(protocol.EventWorkerLoading, nil)

	if p.inline {
		p.finishLoad(ctx, gen, script, started)
		return
	}
	go func() {
		text, err := p.fetcher.Fetch(ctx, p.url)
		if err != nil {
			p.logger.Error().Err(err).Str("url", p.url).Msg("host.Proxy.Load fetch failed")
			p.loadFailed(gen, err)
			return
		}
		p.finishLoad(ctx, gen, text, started)
	}()
}

func (p *Proxy) finishLoad(ctx context.Context, gen uint64, text string, started time.Time) {
	rendered, err := bootstrap.Render(text, p.actions)
	if err != nil {
		p.loadFailed(gen, err)
		return
	}
	blobURL := p.store.CreateObjectURL(rendered)
	h, err := p.spawner.Spawn(ctx, bootstrap.Script{URL: blobURL, Text: rendered})
	if err != nil {
		p.store.Revoke(blobURL)
		p.logger.Error().Err(err).Msg("host.Proxy.Load spawn failed")
		p.loadFailed(gen, err)
		return
	}

	p.mu.Lock()
	if p.generation != gen || p.state != StateLoading {
		p.mu.Unlock()
		p.logger.Debug().Msg("host.Proxy.Load superseded; discarding worker")
		_ = h.Terminate()
		p.store.Revoke(blobURL)
		return
	}
	p.script = text
	p.blobURL = blobURL
	p.handle = h
	p.mu.Unlock()

	observability.RecordLoad(time.Since(started))
	p.logger.Info().Str("blob_url", blobURL).Msg("host.Proxy.Load worker spawned")
	h.Port().Listen(channel.Handler{
		Message: func(data []byte) { p.dispatch(h, data) },
		Error:   func(err error) { p.channelError(h, err) },
	})
}

func (p *Proxy) loadFailed(gen uint64, cause error) {
	p.mu.Lock()
	current := p.generation == gen && p.state == StateLoading
	p.mu.Unlock()
	if current {
		p.advance(StateUnloaded, StateLoading)
	}
	_ = p.ThrowError(KindWorkerLoadError, cause, false)
}

// Start sends start with args once the worker has loaded. Before that it
// does nothing.
func (p *Proxy) Start(args ...any) {
	p.mu.Lock()
	if !p.hasLoaded || p.handle == nil {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.advance(StateStarting, StateLoaded, StateStarting, StateStarted)

	p.EmitLocal(protocol.EventWorkerStarting, nil)
	p.SendMessage(p.actions.Start, args...)
}

// Terminate asks the worker to run its terminate hook and reply with
// terminateNow. It does nothing without a running worker.
func (p *Proxy) Terminate(args ...any) {
	p.mu.Lock()
	if p.handle == nil {
		p.mu.Unlock()
		return
	}
	p.terminateInitiated = true
	p.mu.Unlock()
	p.transition(StateTerminating)

	p.EmitLocal(protocol.EventWorkerTerminating, nil)
	p.SendMessage(p.actions.SetTerminatingStatus, true)
	p.SendMessage(p.actions.Terminate, args...)
}

// TerminateNow kills the worker without waiting for it and emits
// webworker:worker-terminated carrying returnValue.
func (p *Proxy) TerminateNow(returnValue any) {
	if !p.IsTerminateInitialized() {
		p.EmitLocal(protocol.EventWorkerTerminating, nil)
	}

	p.mu.Lock()
	h := p.handle
	if h == nil {
		p.mu.Unlock()
		return
	}
	blobURL := p.blobURL
	p.handle = nil
	p.blobURL = ""
	p.hasLoaded = false
	p.terminateInitiated = false
	p.generation++
	p.mu.Unlock()

	if err := h.Terminate(); err != nil {
		p.logger.Warn().Err(err).Msg("host.Proxy.TerminateNow handle terminate failed")
	}
	p.store.Revoke(blobURL)
	p.transition(StateTerminated)
	p.logger.Info().Msg("host.Proxy worker terminated")
	p.EmitLocal(protocol.EventWorkerTerminated, TerminatedData{ReturnValue: returnValue})
}

// SendMessage posts one envelope to the worker. It does nothing when action
// is empty or no worker is running.
func (p *Proxy) SendMessage(action protocol.Action, args ...any) {
	if strings.TrimSpace(string(action)) == "" {
		return
	}
	h := p.Handle()
	if h == nil {
		return
	}
	data, err := protocol.Encode(action, args...)
	if err != nil {
		_ = p.ThrowError(KindUnknown, err, false)
		return
	}
	if err := h.Port().Post(data); err != nil {
		p.logger.Warn().Err(err).Str("action", string(action)).Msg("host.Proxy.SendMessage post failed")
		_ = p.ThrowError(KindUnknown, err, false)
		return
	}
	observability.RecordEnvelope(observability.SideHost, observability.DirectionSent, string(action))
}

// ThrowError records kind as the proxy's and the process-wide last error and
// emits webworker:error. When shouldRaise is set the error is also returned;
// otherwise the result is nil.
func (p *Proxy) ThrowError(kind ErrorKind, data any, shouldRaise bool) error {
	kind = normalizeKind(kind)
	werr := &WorkerError{Kind: kind, Data: data}
	if cause, ok := data.(error); ok {
		werr.Cause = cause
	}

	p.mu.Lock()
	p.lastError = werr
	p.mu.Unlock()
	lastError.Store(werr)
	observability.RecordError(observability.SideHost, string(kind))

	p.logger.Warn().Str("kind", string(kind)).Interface("data", werr.Info(shouldRaise).Data).Msg("host.Proxy error")
	p.EmitLocal(protocol.EventError, werr.Info(shouldRaise))
	if shouldRaise {
		return werr
	}
	return nil
}

func (p *Proxy) transition(state State) {
	p.advance(state)
}

// advance moves to state when the current state is one of from, or
// unconditionally when from is empty.
func (p *Proxy) advance(state State, from ...State) bool {
	p.mu.Lock()
	allowed := len(from) == 0
	for _, f := range from {
		if p.state == f {
			allowed = true
			break
		}
	}
	changed := allowed && p.state != state
	if allowed {
		p.state = state
	}
	p.mu.Unlock()
	if changed {
		observability.RecordTransition(observability.SideHost, string(state))
		p.logger.Debug().Str("state", string(state)).Msg("host.Proxy transition")
	}
	return allowed
}
