package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/webworker/internal/host"
	"github.com/danmuck/webworker/internal/journal"
	"github.com/danmuck/webworker/internal/protocol"
	"github.com/danmuck/webworker/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runTimeout = 5 * time.Second

func testConfig(source string, scripts map[string]string) ServiceConfig {
	cfg := DefaultServiceConfig()
	cfg.Name = "svc-test"
	cfg.Source = source
	cfg.Scripts = scripts
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func runAsync(t *testing.T, svc *Service, ctx context.Context) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- svc.RunContext(ctx) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(runTimeout):
		t.Fatalf("service did not return")
		return nil
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultServiceConfig()
	assert.ErrorIs(t, cfg.Validate(), ErrMissingSource)

	cfg.Source = "#job"
	require.NoError(t, cfg.Validate())

	cfg.Mode = "thread"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidMode)

	cfg.Mode = ModeProcess
	cfg.WorkerdPath = " "
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidMode)

	cfg.WorkerdPath = "workerd"
	cfg.HeartbeatInterval = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidInterval)
}

func TestActionsFollowLegacyFlag(t *testing.T) {
	cfg := DefaultServiceConfig()
	assert.Equal(t, protocol.DefaultActions(), cfg.Actions())
	cfg.LegacyActions = true
	assert.Equal(t, protocol.LegacySetTerminatingStatus, cfg.Actions().SetTerminatingStatus)
}

func TestRunExitsWhenWorkerCloses(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig("#job", map[string]string{
		"#job": "self.terminateHandler = function () { return startArgs[0] * 2; }; self.close(true);",
	})
	cfg.StartArgs = []any{21}
	cfg.JournalDSN = filepath.Join(t.TempDir(), "journal.db")

	svc := NewService(cfg)
	require.NoError(t, waitRun(t, runAsync(t, svc, context.Background())))
	assert.Equal(t, host.StateTerminated, svc.Proxy().State())

	j, err := journal.Open(context.Background(), cfg.JournalDSN)
	require.NoError(t, err)
	defer j.Close()
	entries, err := j.List(context.Background(), "svc-test", 0)
	require.NoError(t, err)

	events := make([]string, 0, len(entries))
	for _, e := range entries {
		events = append(events, e.Event)
	}
	assert.Equal(t, []string{
		protocol.EventWorkerLoading,
		protocol.EventWorkerLoaded,
		protocol.EventWorkerStarting,
		// once relayed from the worker, once from the host's own terminateNow
		protocol.EventWorkerTerminating,
		protocol.EventWorkerTerminating,
		protocol.EventWorkerTerminated,
	}, events)
	assert.JSONEq(t, `{"returnValue":42}`, string(entries[len(entries)-1].Data))
}

func TestRunTerminatesWorkerOnCancel(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig("#idle", map[string]string{
		"#idle": "self.on('tick', function () {});",
	})
	svc := NewService(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(t, svc, ctx)

	require.Eventually(t, func() bool {
		p := svc.Proxy()
		return p != nil && p.State() == host.StateStarted
	}, runTimeout, 5*time.Millisecond)

	cancel()
	require.NoError(t, waitRun(t, done))
	assert.Equal(t, host.StateTerminated, svc.Proxy().State())
	assert.Nil(t, svc.Proxy().Handle())
}

func TestRunReportsLoadFailure(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig("/missing.js", nil)
	cfg.BaseDir = t.TempDir()
	svc := NewService(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(t, svc, ctx)

	require.Eventually(t, func() bool {
		p := svc.Proxy()
		return p != nil && p.LastError() != nil
	}, runTimeout, 5*time.Millisecond)
	assert.Equal(t, host.KindWorkerLoadError, svc.Proxy().LastError().Kind)
	assert.Equal(t, host.StateUnloaded, svc.Proxy().State())

	cancel()
	require.NoError(t, waitRun(t, done))
}

func TestRunRejectsBadConfig(t *testing.T) {
	testlog.Start(t)
	err := NewService(DefaultServiceConfig()).RunContext(context.Background())
	assert.ErrorIs(t, err, ErrMissingSource)
}

func TestChainIndex(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(ServiceConfig{
		Scripts:   map[string]string{"#a": "var a;"},
		ScriptDir: dir,
	})
	idx := svc.index()

	text, ok := idx.Lookup("#a")
	assert.True(t, ok)
	assert.Equal(t, "var a;", text)

	_, ok = idx.Lookup("#b")
	assert.False(t, ok)
}
