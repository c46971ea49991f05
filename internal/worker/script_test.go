package worker

import (
	"context"
	"testing"

	"github.com/danmuck/webworker/internal/bootstrap"
	"github.com/danmuck/webworker/internal/channel"
	"github.com/danmuck/webworker/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderBody(t *testing.T, body string) *ScriptBody {
	t.Helper()
	text, err := bootstrap.Render(body, protocol.DefaultActions())
	require.NoError(t, err)
	return NewScriptBody(text)
}

func TestScriptMainSeesStartArgs(t *testing.T) {
	body := renderBody(t, `self.trigger('hello', startArgs[0] + '!');`)
	_, h := startRuntime(t, body, Options{})
	h.expectEvent(protocol.EventWorkerLoaded)

	h.post(protocol.ActionStart, "world")
	ev := h.expectEvent("hello")
	assert.Equal(t, "world!", ev.Data)
	h.expectEvent(protocol.EventWorkerStarted)
}

func TestScriptSeesActionAndEventTables(t *testing.T) {
	body := renderBody(t, `self.trigger('tables', [Action.TERMINATE_NOW, Event.WORKER_LOADED, self.Action.START]);`)
	_, h := startRuntime(t, body, Options{})
	h.expectEvent(protocol.EventWorkerLoaded)

	h.post(protocol.ActionStart)
	ev := h.expectEvent("tables")
	assert.Equal(t, []any{"terminateNow", protocol.EventWorkerLoaded, "start"}, ev.Data)
}

func TestScriptListenersReceiveEventAndExtraArgs(t *testing.T) {
	body := renderBody(t, `
		self.on('ping', function (e, extra) {
			self.trigger({type: 'pong', data: e.data + extra});
		});
	`)
	_, h := startRuntime(t, body, Options{})
	h.expectEvent(protocol.EventWorkerLoaded)
	h.post(protocol.ActionStart)
	h.expectEvent(protocol.EventWorkerStarted)

	h.post(protocol.ActionTriggerSelf, protocol.EventPayload{Type: "ping", Data: 2}, 3)
	ev := h.expectEvent("pong")
	assert.Equal(t, float64(5), ev.Data)
}

func TestScriptOffRemovesOnlyThatFunction(t *testing.T) {
	body := renderBody(t, `
		var n = 0;
		function tick() { n++; self.trigger('count', n); }
		self.on('tick', tick);
		self.on('stop', function () {
			self.off('tick', tick);
			self.trigger('stopped');
		});
		self.on('probe', function () { self.trigger('probed', n); });
	`)
	_, h := startRuntime(t, body, Options{})
	h.expectEvent(protocol.EventWorkerLoaded)
	h.post(protocol.ActionStart)
	h.expectEvent(protocol.EventWorkerStarted)

	h.post(protocol.ActionTriggerSelf, "tick")
	assert.Equal(t, float64(1), h.expectEvent("count").Data)
	h.post(protocol.ActionTriggerSelf, "stop")
	h.expectEvent("stopped")
	h.post(protocol.ActionTriggerSelf, "tick")
	h.post(protocol.ActionTriggerSelf, "probe")
	assert.Equal(t, float64(1), h.expectEvent("probed").Data)
}

func TestScriptOneFiresOnce(t *testing.T) {
	body := renderBody(t, `
		self.one('x', function () { self.trigger('got-x'); });
		self.on('probe', function () { self.trigger('probed'); });
	`)
	_, h := startRuntime(t, body, Options{})
	h.expectEvent(protocol.EventWorkerLoaded)
	h.post(protocol.ActionStart)
	h.expectEvent(protocol.EventWorkerStarted)

	h.post(protocol.ActionTriggerSelf, "x")
	h.post(protocol.ActionTriggerSelf, "x")
	h.post(protocol.ActionTriggerSelf, "probe")
	h.expectEvent("got-x")
	h.expectEvent("probed")
}

func TestScriptTerminateHandler(t *testing.T) {
	body := renderBody(t, `
		self.terminateHandler = function (closeNow, why) { return 'done:' + why; };
	`)
	rt, h := startRuntime(t, body, Options{})
	h.expectEvent(protocol.EventWorkerLoaded)
	h.post(protocol.ActionStart)
	h.expectEvent(protocol.EventWorkerStarted)

	h.post(protocol.ActionTerminate, true, "shutdown")
	h.expectEvent(protocol.EventWorkerTerminating)
	assert.Equal(t, []any{"done:shutdown"}, h.expectAction(protocol.ActionTerminateNow))
	waitDone(t, rt)
}

func TestScriptCloseTerminatesFromInside(t *testing.T) {
	body := renderBody(t, `self.close(true);`)
	rt, h := startRuntime(t, body, Options{})
	h.expectEvent(protocol.EventWorkerLoaded)

	h.post(protocol.ActionStart)
	h.expectEvent(protocol.EventWorkerTerminating)
	h.expectAction(protocol.ActionTerminateNow)
	waitDone(t, rt)
}

func TestScriptSendMessage(t *testing.T) {
	body := renderBody(t, `self.sendMessage('custom', [1, 'two']); self.sendMessage('single', 'x');`)
	_, h := startRuntime(t, body, Options{})
	h.expectEvent(protocol.EventWorkerLoaded)

	h.post(protocol.ActionStart)
	assert.Equal(t, []any{float64(1), "two"}, h.expectAction("custom"))
	assert.Equal(t, []any{"x"}, h.expectAction("single"))
}

func TestScriptThrowIsReported(t *testing.T) {
	body := renderBody(t, `throw new Error('bad main');`)
	_, h := startRuntime(t, body, Options{})
	h.expectEvent(protocol.EventWorkerLoaded)

	h.post(protocol.ActionStart)
	ev := h.expectEvent(protocol.EventError)
	assert.Contains(t, ev.Data, "bad main")
}

func TestScriptSyntaxErrorFailsBind(t *testing.T) {
	_, port := channel.Pipe()
	rt, err := New(port, NewScriptBody("this is { not javascript"), Options{})
	require.NoError(t, err)
	err = rt.Run(context.Background())
	require.ErrorIs(t, err, ErrScriptEval)
	waitDone(t, rt)
}

func TestScriptWithoutMain(t *testing.T) {
	_, port := channel.Pipe()
	body := NewScriptBody("var x = 1;")
	rt, err := New(port, body, Options{})
	require.NoError(t, err)
	require.NoError(t, body.Bind(rt))
	require.ErrorIs(t, body.Main(rt, nil), ErrNoMain)
	assert.Nil(t, body.TerminateHandler())
}
