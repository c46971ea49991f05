package spawn

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/danmuck/webworker/internal/bootstrap"
	"github.com/danmuck/webworker/internal/channel"
	"github.com/danmuck/webworker/internal/protocol"
	"github.com/danmuck/webworker/internal/testutil/testlog"
	"github.com/danmuck/webworker/internal/worker"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	helperEnv   = "WEBWORKER_SPAWN_HELPER"
	waitTimeout = 5 * time.Second
)

// TestMain doubles as a workerd stand-in when re-executed by Process.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(runHelper())
	}
	os.Exit(m.Run())
}

func runHelper() int {
	var c Child
	fs := pflag.NewFlagSet("workerd", pflag.ContinueOnError)
	c.BindFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := Serve(context.Background(), c, os.Stdin, os.Stdout, zerolog.New(os.Stderr)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

type hostSide struct {
	t    *testing.T
	port channel.Port
	msgs chan protocol.Envelope
	errs chan error
}

func attach(t *testing.T, h Handle) *hostSide {
	t.Helper()
	s := &hostSide{t: t, port: h.Port(), msgs: make(chan protocol.Envelope, 64), errs: make(chan error, 4)}
	s.port.Listen(channel.Handler{
		Message: func(data []byte) {
			if env, ok, err := protocol.Decode(data); ok && err == nil {
				s.msgs <- env
			}
		},
		Error: func(err error) { s.errs <- err },
	})
	return s
}

func (s *hostSide) post(action protocol.Action, args ...any) {
	s.t.Helper()
	data, err := protocol.Encode(action, args...)
	require.NoError(s.t, err)
	require.NoError(s.t, s.port.Post(data))
}

func (s *hostSide) next() protocol.Envelope {
	s.t.Helper()
	select {
	case env := <-s.msgs:
		return env
	case <-time.After(waitTimeout):
		s.t.Fatalf("timed out waiting for envelope")
		return protocol.Envelope{}
	}
}

func (s *hostSide) expectEvent(name string) protocol.EventPayload {
	s.t.Helper()
	env := s.next()
	require.Equal(s.t, protocol.ActionTrigger, env.Action)
	ev, err := protocol.DecodeEvent(env)
	require.NoError(s.t, err)
	require.Equal(s.t, name, ev.Type)
	return ev
}

func (s *hostSide) expectAction(action protocol.Action) {
	s.t.Helper()
	require.Equal(s.t, action, s.next().Action)
}

func render(t *testing.T, body string, actions protocol.ActionSet) bootstrap.Script {
	t.Helper()
	text, err := bootstrap.Render(body, actions)
	require.NoError(t, err)
	return bootstrap.Script{URL: "blob:webworker/test", Text: text}
}

func waitClosed(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatalf("worker did not exit")
	}
}

func TestInProcessLifecycle(t *testing.T) {
	testlog.Start(t)
	h, err := InProcess{Name: "inproc"}.Spawn(context.Background(), render(t, `self.trigger('hi', startArgs[0]);`, protocol.ActionSet{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Terminate() })
	host := attach(t, h)

	host.expectEvent(protocol.EventWorkerLoaded)
	host.post(protocol.ActionStart, "there")
	assert.Equal(t, "there", host.expectEvent("hi").Data)
	host.expectEvent(protocol.EventWorkerStarted)

	host.post(protocol.ActionSetTerminatingStatus, true)
	host.post(protocol.ActionTerminate, true)
	host.expectAction(protocol.ActionTerminateNow)

	require.NoError(t, h.Terminate())
	waitClosed(t, h.(*inProcessHandle).Done())
}

func TestInProcessTerminateInterruptsRunningScript(t *testing.T) {
	testlog.Start(t)
	h, err := InProcess{}.Spawn(context.Background(), render(t, `self.trigger('spinning'); for (;;) {}`, protocol.ActionSet{}))
	require.NoError(t, err)
	host := attach(t, h)

	host.expectEvent(protocol.EventWorkerLoaded)
	host.post(protocol.ActionStart)
	host.expectEvent("spinning")

	require.NoError(t, h.Terminate())
	waitClosed(t, h.(*inProcessHandle).Done())
}

func TestInProcessScriptErrorIsRaised(t *testing.T) {
	testlog.Start(t)
	h, err := InProcess{}.Spawn(context.Background(), bootstrap.Script{Text: "this is { not javascript"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Terminate() })
	host := attach(t, h)

	select {
	case err := <-host.errs:
		assert.ErrorIs(t, err, worker.ErrScriptEval)
	case <-time.After(waitTimeout):
		t.Fatalf("script error was not raised")
	}
}

func TestInProcessRejectsBadInput(t *testing.T) {
	_, err := InProcess{}.Spawn(context.Background(), bootstrap.Script{Text: "  "})
	require.ErrorIs(t, err, ErrEmptyScript)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = InProcess{}.Spawn(ctx, bootstrap.Script{Text: "var x;"})
	require.ErrorIs(t, err, context.Canceled)
}

func helperProcess(t *testing.T, actions protocol.ActionSet) Process {
	t.Helper()
	return Process{
		Path:    os.Args[0],
		Env:     []string{helperEnv + "=1"},
		TempDir: t.TempDir(),
		Name:    "child",
		Actions: actions,
	}
}

func TestProcessLifecycle(t *testing.T) {
	testlog.Start(t)
	spawner := helperProcess(t, protocol.LegacyActions())
	script := render(t, `
		self.terminateHandler = function () { return 'bye'; };
		self.trigger('hi', startArgs[0]);
	`, protocol.LegacyActions())
	h, err := spawner.Spawn(context.Background(), script)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Terminate() })
	host := attach(t, h)

	host.expectEvent(protocol.EventWorkerLoaded)
	host.post(protocol.ActionStart, 7)
	assert.Equal(t, float64(7), host.expectEvent("hi").Data)
	host.expectEvent(protocol.EventWorkerStarted)

	host.post(protocol.LegacySetTerminatingStatus, true)
	host.post(protocol.ActionTerminate, true)
	env := host.next()
	require.Equal(t, protocol.ActionTerminateNow, env.Action)
	var rv string
	require.NoError(t, env.Arg(0, &rv))
	assert.Equal(t, "bye", rv)

	ph := h.(*processHandle)
	waitClosed(t, ph.Done())
	assert.Equal(t, int32(0), ph.ExitCode())
	_, statErr := os.Stat(ph.scriptPath)
	assert.True(t, os.IsNotExist(statErr), "script file should be removed")
}

func TestProcessTerminateKillsChild(t *testing.T) {
	testlog.Start(t)
	h, err := helperProcess(t, protocol.ActionSet{}).Spawn(context.Background(), render(t, `self.trigger('up');`, protocol.ActionSet{}))
	require.NoError(t, err)
	host := attach(t, h)
	host.expectEvent(protocol.EventWorkerLoaded)

	require.NoError(t, h.Terminate())
	waitClosed(t, h.(*processHandle).Done())
	require.NoError(t, h.Terminate())
}

func TestProcessSpawnFailures(t *testing.T) {
	script := bootstrap.Script{Text: "var x;"}
	_, err := Process{}.Spawn(context.Background(), script)
	require.ErrorIs(t, err, ErrNoExecutable)

	dir := t.TempDir()
	_, err = Process{Path: "/nonexistent/workerd", TempDir: dir}.Spawn(context.Background(), script)
	require.Error(t, err)
	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "script file should be cleaned up")
}

func TestChildArgsRoundTrip(t *testing.T) {
	assert.Equal(t, []string{"--script", "/tmp/a.js"}, Child{ScriptPath: "/tmp/a.js"}.Args())

	want := Child{ScriptPath: "/tmp/b.js", Name: "w1", Actions: protocol.LegacyActions()}
	var got Child
	fs := pflag.NewFlagSet("workerd", pflag.ContinueOnError)
	got.BindFlags(fs)
	require.NoError(t, fs.Parse(want.Args()))
	assert.Equal(t, want.ScriptPath, got.ScriptPath)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, protocol.LegacySetTerminatingStatus, got.Actions.SetTerminatingStatus)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, int32(0), exitCode(nil))
	assert.Equal(t, int32(1), exitCode(fmt.Errorf("other")))
}
