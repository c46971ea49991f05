package spawn

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danmuck/webworker/internal/channel"
	"github.com/danmuck/webworker/internal/protocol"
	"github.com/danmuck/webworker/internal/worker"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const (
	FlagScript               = "script"
	FlagName                 = "name"
	FlagSetTerminatingStatus = "set-terminating-status"
)

// Child is what a workerd process needs to know about the worker it runs.
type Child struct {
	ScriptPath string
	Name       string
	Actions    protocol.ActionSet
}

// Args renders c as workerd command-line flags.
func (c Child) Args() []string {
	args := []string{"--" + FlagScript, c.ScriptPath}
	if name := strings.TrimSpace(c.Name); name != "" {
		args = append(args, "--"+FlagName, name)
	}
	if a := c.Actions.WithDefaults().SetTerminatingStatus; a != protocol.ActionSetTerminatingStatus {
		args = append(args, "--"+FlagSetTerminatingStatus, string(a))
	}
	return args
}

// BindFlags registers the workerd flags on fs, writing into c.
func (c *Child) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ScriptPath, FlagScript, c.ScriptPath, "path of the rendered worker script")
	fs.StringVar(&c.Name, FlagName, c.Name, "worker name used in logs")
	fs.StringVar((*string)(&c.Actions.SetTerminatingStatus), FlagSetTerminatingStatus,
		string(c.Actions.SetTerminatingStatus), "action name for the terminating-status message")
}

// Serve runs the child's script over r and w until the worker closes, the
// host closes r, or ctx ends.
func Serve(ctx context.Context, c Child, r io.Reader, w io.Writer, logger zerolog.Logger) error {
	if strings.TrimSpace(c.ScriptPath) == "" {
		return fmt.Errorf("spawn: --%s is required", FlagScript)
	}
	text, err := os.ReadFile(c.ScriptPath)
	if err != nil {
		return fmt.Errorf("spawn: read script: %w", err)
	}

	port := channel.NewStdioPort(r, w)
	rt, err := worker.New(port, worker.NewScriptBody(string(text)), worker.Options{
		Name:    c.Name,
		Actions: c.Actions,
		Logger:  &logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-port.Done():
			logger.Debug().Msg("spawn.Serve host closed the channel")
			cancel()
		case <-ctx.Done():
		}
	}()
	return rt.Run(ctx)
}
