package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/webworker/internal/bootstrap"
	"github.com/danmuck/webworker/internal/channel"
	"github.com/danmuck/webworker/internal/eventbus"
	"github.com/danmuck/webworker/internal/protocol"
	"github.com/danmuck/webworker/internal/spawn"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 3 * time.Second

// pipeSpawner hands the test the worker end of every spawned pipe.
type pipeSpawner struct {
	mu      sync.Mutex
	scripts []bootstrap.Script
	workers chan *fakeWorker
	err     error
	t       *testing.T
}

func newPipeSpawner(t *testing.T) *pipeSpawner {
	return &pipeSpawner{t: t, workers: make(chan *fakeWorker, 4)}
}

func (s *pipeSpawner) Spawn(_ context.Context, script bootstrap.Script) (spawn.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.scripts = append(s.scripts, script)
	hostPort, workerPort := channel.Pipe()
	w := newFakeWorker(s.t, workerPort)
	h := &pipeHandle{port: hostPort, worker: w}
	s.workers <- w
	return h, nil
}

func (s *pipeSpawner) spawned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scripts)
}

func (s *pipeSpawner) next(t *testing.T) *fakeWorker {
	t.Helper()
	select {
	case w := <-s.workers:
		return w
	case <-time.After(waitTimeout):
		t.Fatalf("nothing was spawned")
		return nil
	}
}

type pipeHandle struct {
	port       *channel.PipePort
	worker     *fakeWorker
	terminated atomic.Bool
}

func (h *pipeHandle) Port() channel.Port { return h.port }

func (h *pipeHandle) Terminate() error {
	h.terminated.Store(true)
	_ = h.port.Close()
	_ = h.worker.port.Close()
	return nil
}

// fakeWorker is the worker end of a pipe, driven by the test.
type fakeWorker struct {
	t    *testing.T
	port *channel.PipePort
	msgs chan protocol.Envelope
}

func newFakeWorker(t *testing.T, port *channel.PipePort) *fakeWorker {
	w := &fakeWorker{t: t, port: port, msgs: make(chan protocol.Envelope, 64)}
	port.Listen(channel.Handler{Message: func(data []byte) {
		if env, ok, err := protocol.Decode(data); ok && err == nil {
			w.msgs <- env
		}
	}})
	return w
}

func (w *fakeWorker) post(action protocol.Action, args ...any) {
	w.t.Helper()
	data, err := protocol.Encode(action, args...)
	require.NoError(w.t, err)
	require.NoError(w.t, w.port.Post(data))
}

func (w *fakeWorker) postRaw(raw string) {
	w.t.Helper()
	require.NoError(w.t, w.port.Post([]byte(raw)))
}

func (w *fakeWorker) announce(event string) {
	w.t.Helper()
	w.post(protocol.ActionTrigger, protocol.EventPayload{Type: event})
}

func (w *fakeWorker) next() protocol.Envelope {
	w.t.Helper()
	select {
	case env := <-w.msgs:
		return env
	case <-time.After(waitTimeout):
		w.t.Fatalf("worker received nothing")
		return protocol.Envelope{}
	}
}

func (w *fakeWorker) expect(action protocol.Action) []any {
	w.t.Helper()
	env := w.next()
	require.Equal(w.t, action, env.Action)
	args, err := env.Values()
	require.NoError(w.t, err)
	return args
}

// recorder collects events from a proxy in delivery order.
type recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
	ch     chan eventbus.Event
}

func record(p *Proxy, names ...string) *recorder {
	r := &recorder{ch: make(chan eventbus.Event, 64)}
	for _, name := range names {
		p.On(name, func(ev eventbus.Event, _ ...any) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
			r.ch <- ev
		})
	}
	return r
}

func (r *recorder) wait(t *testing.T, name string) eventbus.Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-r.ch:
			if ev.Type == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("event %s never arrived", name)
			return eventbus.Event{}
		}
	}
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == name {
			n++
		}
	}
	return n
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

// countingFetcher serves fixed text or a fixed error and counts calls.
type countingFetcher struct {
	calls atomic.Int32
	text  string
	err   error
}

func (f *countingFetcher) Fetch(context.Context, string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

var errFetch = errors.New("fetch refused")

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, waitTimeout, 5*time.Millisecond, msg)
}
