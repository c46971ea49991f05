package spawn

import (
	"context"
	"strings"
	"sync"

	"github.com/danmuck/webworker/internal/bootstrap"
	"github.com/danmuck/webworker/internal/channel"
	"github.com/danmuck/webworker/internal/protocol"
	"github.com/danmuck/webworker/internal/worker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InProcess runs each worker on its own goroutines, connected by a pipe.
type InProcess struct {
	Name    string
	Actions protocol.ActionSet
	Logger  *zerolog.Logger
}

var _ Spawner = InProcess{}

func (s InProcess) Spawn(ctx context.Context, script bootstrap.Script) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(script.Text) == "" {
		return nil, ErrEmptyScript
	}

	hostPort, workerPort := channel.Pipe()
	body := worker.NewScriptBody(script.Text)
	rt, err := worker.New(workerPort, body, worker.Options{
		Name:    s.Name,
		Actions: s.Actions,
		Logger:  s.Logger,
	})
	if err != nil {
		return nil, err
	}

	logger := log.Logger
	if s.Logger != nil {
		logger = *s.Logger
	}
	// The worker outlives the spawn call; only Terminate stops it.
	runCtx, cancel := context.WithCancel(context.Background())
	h := &inProcessHandle{
		port:   hostPort,
		body:   body,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		if err := rt.Run(runCtx); err != nil {
			logger.Error().Err(err).Str("url", script.URL).Msg("spawn.InProcess worker failed")
			workerPort.Raise(err)
		}
	}()
	logger.Debug().Str("url", script.URL).Str("worker", rt.Name()).Msg("spawn.InProcess started")
	return h, nil
}

type inProcessHandle struct {
	port   *channel.PipePort
	body   *worker.ScriptBody
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (h *inProcessHandle) Port() channel.Port {
	return h.port
}

func (h *inProcessHandle) Terminate() error {
	h.once.Do(func() {
		h.body.Interrupt("worker terminated")
		h.cancel()
		_ = h.port.Close()
	})
	return nil
}

// Done is closed once the worker goroutine has returned.
func (h *inProcessHandle) Done() <-chan struct{} {
	return h.done
}
