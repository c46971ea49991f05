package spawn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/webworker/internal/bootstrap"
	"github.com/danmuck/webworker/internal/channel"
	"github.com/danmuck/webworker/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// reapTimeout bounds how long Terminate waits for a killed child.
const reapTimeout = 2 * time.Second

// Process runs each worker in a child workerd process. The rendered script
// is written to a temp file that lives as long as the child.
type Process struct {
	Path    string
	Args    []string
	Env     []string
	TempDir string
	Stderr  io.Writer
	Name    string
	Actions protocol.ActionSet
	Logger  *zerolog.Logger
}

var _ Spawner = Process{}

func (s Process) Spawn(ctx context.Context, script bootstrap.Script) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.Path) == "" {
		return nil, ErrNoExecutable
	}
	if strings.TrimSpace(script.Text) == "" {
		return nil, ErrEmptyScript
	}
	logger := log.Logger
	if s.Logger != nil {
		logger = *s.Logger
	}

	file, err := os.CreateTemp(s.TempDir, "webworker-*.js")
	if err != nil {
		return nil, fmt.Errorf("spawn: script file: %w", err)
	}
	scriptPath := file.Name()
	if _, err := file.WriteString(script.Text); err != nil {
		_ = file.Close()
		_ = os.Remove(scriptPath)
		return nil, fmt.Errorf("spawn: write script: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(scriptPath)
		return nil, fmt.Errorf("spawn: write script: %w", err)
	}

	child := Child{ScriptPath: scriptPath, Name: s.Name, Actions: s.Actions}
	args := append(append([]string{}, s.Args...), child.Args()...)
	cmd := exec.Command(s.Path, args...)
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = os.Remove(scriptPath)
		return nil, fmt.Errorf("spawn: stdin: %w", err)
	}
	// os.Pipe rather than StdoutPipe: Wait must not close the read side
	// before the last frame has been read.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = os.Remove(scriptPath)
		return nil, fmt.Errorf("spawn: stdout: %w", err)
	}
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		_ = os.Remove(scriptPath)
		return nil, fmt.Errorf("spawn: start %s: %w", s.Path, err)
	}
	_ = stdoutW.Close()

	h := &processHandle{
		cmd:        cmd,
		port:       channel.NewStdioPort(stdoutR, stdin, stdin, stdoutR),
		scriptPath: scriptPath,
		done:       make(chan struct{}),
		logger:     logger.With().Int("pid", cmd.Process.Pid).Str("url", script.URL).Logger(),
	}
	go h.wait()
	h.logger.Debug().Str("path", s.Path).Msg("spawn.Process started")
	return h, nil
}

type processHandle struct {
	cmd        *exec.Cmd
	port       *channel.StdioPort
	scriptPath string
	logger     zerolog.Logger

	terminated atomic.Bool
	once       sync.Once
	done       chan struct{}
	exitCode   int32
}

func (h *processHandle) Port() channel.Port {
	return h.port
}

func (h *processHandle) wait() {
	err := h.cmd.Wait()
	h.exitCode = exitCode(err)
	if rmErr := os.Remove(h.scriptPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		h.logger.Warn().Err(rmErr).Msg("spawn.Process script cleanup failed")
	}
	if err != nil && !h.terminated.Load() {
		h.logger.Warn().Err(err).Int32("exit_code", h.exitCode).Msg("spawn.Process worker exited")
	} else {
		h.logger.Debug().Int32("exit_code", h.exitCode).Msg("spawn.Process worker exited")
	}
	close(h.done)
}

func (h *processHandle) Terminate() error {
	var killErr error
	h.once.Do(func() {
		h.terminated.Store(true)
		if err := h.port.Close(); err != nil {
			h.logger.Debug().Err(err).Msg("spawn.Process port close")
		}
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			killErr = fmt.Errorf("spawn: kill: %w", err)
		}
		select {
		case <-h.done:
		case <-time.After(reapTimeout):
			h.logger.Warn().Msg("spawn.Process worker not reaped")
		}
	})
	return killErr
}

// Done is closed once the child has exited.
func (h *processHandle) Done() <-chan struct{} {
	return h.done
}

// ExitCode is valid after Done.
func (h *processHandle) ExitCode() int32 {
	return h.exitCode
}

func exitCode(err error) int32 {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return int32(exitErr.ExitCode())
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return 127
	}
	return 1
}
