package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danmuck/webworker/internal/bootstrap"
	"github.com/danmuck/webworker/internal/config"
	"github.com/danmuck/webworker/internal/host"
	"github.com/danmuck/webworker/internal/logging"
	"github.com/danmuck/webworker/internal/observability"
	"github.com/danmuck/webworker/internal/service"
	"github.com/spf13/cobra"
)

var ErrMissingSubcommand = errors.New("workerctl: missing subcommand")

const defaultConfigPath = "workerctl.toml"

func main() {
	logging.ConfigureRuntime()
	observability.TagApp("workerctl")
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "workerctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "workerctl",
		Short:         "Run and inspect script workers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return ErrMissingSubcommand
		},
	}
	root.PersistentFlags().StringP("config", "c", defaultConfigPath, "path to the workerctl TOML config")
	root.AddCommand(newRunCmd(), newRenderCmd(), newConfigCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		source string
		mode   string
		admin  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load and start the configured worker until it terminates or a signal arrives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadFromFlags(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("source") {
				cfg.Source = strings.TrimSpace(source)
			}
			if cmd.Flags().Changed("mode") {
				cfg.Mode = service.Mode(strings.TrimSpace(mode))
			}
			if cmd.Flags().Changed("admin") {
				cfg.AdminListenAddr = strings.TrimSpace(admin)
			}
			return service.NewService(cfg).Run()
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "worker selector or URL, overrides the config")
	cmd.Flags().StringVar(&mode, "mode", "", "spawn mode: inprocess or process")
	cmd.Flags().StringVar(&admin, "admin", "", "admin HTTP listen address")
	return cmd
}

func newRenderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "render [source]",
		Short: "Print the bootstrap script a worker would run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadFromFlags(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Source = args[0]
			}
			return render(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}
}

func render(ctx context.Context, out io.Writer, cfg service.ServiceConfig) error {
	source := strings.TrimSpace(cfg.Source)
	if source == "" {
		return service.ErrMissingSource
	}
	text, ok := host.MapIndex(cfg.Scripts).Lookup(source)
	if !ok && cfg.ScriptDir != "" {
		text, ok = host.DirIndex{Dir: cfg.ScriptDir}.Lookup(source)
	}
	if !ok {
		fetched, err := host.NewHTTPFetcher(cfg.FetchTimeout, cfg.BaseDir).Fetch(ctx, source)
		if err != nil {
			return err
		}
		text = fetched
	}
	rendered, err := bootstrap.Render(text, cfg.Actions())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, rendered)
	return err
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and check workerctl config files",
		RunE: func(*cobra.Command, []string) error {
			return ErrMissingSubcommand
		},
	}

	var (
		kind  string
		force bool
	)
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config template",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(cmd, args)
			if err := config.WriteTemplate(path, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&kind, "kind", "inprocess", "template kind: inprocess or process")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Check a config file strictly",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(cmd, args)
			if _, err := config.LoadFile(path); err != nil {
				return err
			}
			cfg, err := loadServiceConfig(path)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ok: worker=%s source=%s mode=%s\n", path, cfg.Name, cfg.Source, cfg.Mode)
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

func loadFromFlags(cmd *cobra.Command) (service.ServiceConfig, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return service.ServiceConfig{}, err
	}
	return loadServiceConfig(path)
}

func configPath(cmd *cobra.Command, args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	path, _ := cmd.Flags().GetString("config")
	return path
}
