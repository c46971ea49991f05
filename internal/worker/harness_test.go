package worker

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/webworker/internal/channel"
	"github.com/danmuck/webworker/internal/protocol"
	"github.com/danmuck/webworker/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

// fakeHost is the host end of a pipe that records every envelope it receives.
type fakeHost struct {
	t    *testing.T
	port *channel.PipePort
	msgs chan protocol.Envelope
}

func startRuntime(t *testing.T, body Body, opts Options) (*Runtime, *fakeHost) {
	t.Helper()
	testlog.Start(t)

	hostPort, workerPort := channel.Pipe()
	rt, err := New(workerPort, body, opts)
	require.NoError(t, err)

	h := &fakeHost{t: t, port: hostPort, msgs: make(chan protocol.Envelope, 64)}
	hostPort.Listen(channel.Handler{Message: func(data []byte) {
		env, ok, err := protocol.Decode(data)
		if ok && err == nil {
			h.msgs <- env
		}
	}})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- rt.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-runErr:
		case <-time.After(waitTimeout):
			t.Errorf("runtime did not stop")
		}
		_ = hostPort.Close()
	})
	return rt, h
}

func (h *fakeHost) post(action protocol.Action, args ...any) {
	h.t.Helper()
	data, err := protocol.Encode(action, args...)
	require.NoError(h.t, err)
	require.NoError(h.t, h.port.Post(data))
}

func (h *fakeHost) postRaw(raw string) {
	h.t.Helper()
	require.NoError(h.t, h.port.Post([]byte(raw)))
}

func (h *fakeHost) next() protocol.Envelope {
	h.t.Helper()
	select {
	case env := <-h.msgs:
		return env
	case <-time.After(waitTimeout):
		h.t.Fatalf("timed out waiting for envelope")
		return protocol.Envelope{}
	}
}

// expectEvent reads the next envelope and requires a trigger for name.
func (h *fakeHost) expectEvent(name string) protocol.EventPayload {
	h.t.Helper()
	env := h.next()
	require.Equal(h.t, protocol.ActionTrigger, env.Action)
	ev, err := protocol.DecodeEvent(env)
	require.NoError(h.t, err)
	require.Equal(h.t, name, ev.Type)
	return ev
}

func (h *fakeHost) expectAction(action protocol.Action) []any {
	h.t.Helper()
	env := h.next()
	require.Equal(h.t, action, env.Action)
	args, err := env.Values()
	require.NoError(h.t, err)
	return args
}

func waitDone(t *testing.T, rt *Runtime) {
	t.Helper()
	select {
	case <-rt.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("runtime did not close")
	}
}
