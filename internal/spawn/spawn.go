// Package spawn starts worker runtimes for a host and hands back the host end
// of their channel.
//
// InProcess runs the runtime on goroutines in the current process. Process
// runs it in a child workerd process and talks over its stdin and stdout.
package spawn

import (
	"context"
	"errors"

	"github.com/danmuck/webworker/internal/bootstrap"
	"github.com/danmuck/webworker/internal/channel"
)

var (
	ErrNoExecutable = errors.New("spawn: no worker executable configured")
	ErrEmptyScript  = errors.New("spawn: empty script")
)

// Handle is a running worker as seen by its host.
type Handle interface {
	// Port is the host end of the worker's channel.
	Port() channel.Port
	// Terminate kills the worker without notifying it.
	Terminate() error
}

// Spawner starts a worker for a rendered bootstrap script.
type Spawner interface {
	Spawn(ctx context.Context, script bootstrap.Script) (Handle, error)
}
