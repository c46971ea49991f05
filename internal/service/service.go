// Package service runs one worker proxy as a standalone process: it builds
// the proxy from configuration, wires the journal and admin server, and
// shuts the worker down on signal.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/webworker/internal/admin"
	"github.com/danmuck/webworker/internal/eventbus"
	"github.com/danmuck/webworker/internal/host"
	"github.com/danmuck/webworker/internal/journal"
	"github.com/danmuck/webworker/internal/observability"
	"github.com/danmuck/webworker/internal/protocol"
	"github.com/danmuck/webworker/internal/spawn"
	"github.com/rs/zerolog"
)

var (
	ErrMissingSource   = errors.New("service: missing worker source")
	ErrInvalidMode     = errors.New("service: invalid spawn mode")
	ErrInvalidInterval = errors.New("service: invalid heartbeat interval")
)

// Mode selects how workers are spawned.
type Mode string

const (
	ModeInProcess Mode = "inprocess"
	ModeProcess   Mode = "process"
)

// ServiceConfig configures a standalone worker run.
type ServiceConfig struct {
	Name              string
	Source            string
	Mode              Mode
	WorkerdPath       string
	WorkerdArgs       []string
	AutoStart         bool
	StartArgs         []any
	ExitOnTerminate   bool
	LegacyActions     bool
	FetchTimeout      time.Duration
	BaseDir           string
	ScriptDir         string
	Scripts           map[string]string
	AdminListenAddr   string
	AdminToken        string
	CorsOrigins       []string
	JournalDSN        string
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration
}

// DefaultServiceConfig returns the defaults a config file overrides.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Name:              "worker",
		Source:            "",
		Mode:              ModeInProcess,
		WorkerdPath:       "workerd",
		AutoStart:         true,
		ExitOnTerminate:   true,
		FetchTimeout:      host.DefaultFetchTimeout,
		Scripts:           map[string]string{},
		AdminListenAddr:   "",
		JournalDSN:        "",
		HeartbeatInterval: 30 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}

// Validate reports the first configuration problem.
func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.Source) == "" {
		return ErrMissingSource
	}
	switch c.Mode {
	case ModeInProcess:
	case ModeProcess:
		if strings.TrimSpace(c.WorkerdPath) == "" {
			return fmt.Errorf("%w: process mode requires a workerd path", ErrInvalidMode)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Mode)
	}
	if c.HeartbeatInterval <= 0 {
		return ErrInvalidInterval
	}
	return nil
}

// Actions is the action vocabulary the config selects.
func (c ServiceConfig) Actions() protocol.ActionSet {
	if c.LegacyActions {
		return protocol.LegacyActions()
	}
	return protocol.DefaultActions()
}

// Service owns one proxy and its supporting pieces.
type Service struct {
	cfg    ServiceConfig
	logger zerolog.Logger

	mu      sync.Mutex
	proxy   *host.Proxy
	journal *journal.Journal

	terminated chan struct{}
	termOnce   sync.Once
}

func NewService(cfg ServiceConfig) *Service {
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = DefaultServiceConfig().Name
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeInProcess
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultServiceConfig().ShutdownTimeout
	}
	return &Service{
		cfg:        cfg,
		logger:     observability.Component("service").With().Str("worker", cfg.Name).Logger(),
		terminated: make(chan struct{}),
	}
}

// Run blocks until SIGINT/SIGTERM or, with ExitOnTerminate, until the
// worker terminates.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

func (s *Service) RunContext(ctx context.Context) error {
	if err := s.bootstrap(ctx); err != nil {
		return err
	}
	defer s.closeJournal()
	return s.serve(ctx)
}

// Proxy is the running proxy, nil before bootstrap.
func (s *Service) Proxy() *host.Proxy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proxy
}

func (s *Service) bootstrap(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	var j *journal.Journal
	if dsn := strings.TrimSpace(s.cfg.JournalDSN); dsn != "" {
		opened, err := journal.Open(ctx, dsn)
		if err != nil {
			return err
		}
		j = opened
	}

	actions := s.cfg.Actions()
	opts := []host.Option{
		host.WithName(s.cfg.Name),
		host.WithActions(actions),
		host.WithScriptIndex(s.index()),
		host.WithFetcher(host.NewHTTPFetcher(s.cfg.FetchTimeout, s.cfg.BaseDir)),
		host.WithSpawner(s.spawner(actions)),
		host.OnEvent(protocol.EventInitialized, func(eventbus.Event, ...any) {
			s.logger.Debug().Msg("service.Service worker proxy initialized")
		}),
	}
	proxy, err := host.New(s.cfg.Source, opts...)
	if err != nil {
		if j != nil {
			_ = j.Close()
		}
		return err
	}
	if j != nil {
		j.Attach(s.cfg.Name, proxy)
	}

	proxy.On(protocol.EventWorkerLoaded, func(eventbus.Event, ...any) {
		if s.cfg.AutoStart {
			proxy.Start(s.cfg.StartArgs...)
		}
	})
	proxy.On(protocol.EventWorkerTerminated, func(ev eventbus.Event, _ ...any) {
		s.logger.Info().Interface("data", ev.Data).Msg("service.Service worker terminated")
		s.termOnce.Do(func() { close(s.terminated) })
	})
	proxy.On(protocol.EventError, func(ev eventbus.Event, _ ...any) {
		s.logger.Warn().Interface("error", ev.Data).Msg("service.Service worker error")
	})

	s.mu.Lock()
	s.proxy = proxy
	s.journal = j
	s.mu.Unlock()

	s.logger.Info().
		Str("source", s.cfg.Source).
		Str("mode", string(s.cfg.Mode)).
		Bool("journal", j != nil).
		Msg("service.Service.bootstrap ready")
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	proxy := s.Proxy()
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	adminErr := make(chan error, 1)
	adminCtx, cancelAdmin := context.WithCancel(context.Background())
	defer cancelAdmin()
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		s.mu.Lock()
		var lister admin.EventLister
		if s.journal != nil {
			lister = s.journal
		}
		s.mu.Unlock()
		srv := admin.New(admin.Config{Addr: addr, CorsOrigins: s.cfg.CorsOrigins, Token: s.cfg.AdminToken}, proxy, lister)
		go func() {
			adminErr <- srv.Serve(adminCtx)
		}()
	}

	proxy.Load(ctx)

	terminated := s.terminated
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case err := <-adminErr:
			s.shutdown()
			if err != nil {
				return fmt.Errorf("service: admin server: %w", err)
			}
			return nil
		case <-terminated:
			if s.cfg.ExitOnTerminate {
				return nil
			}
			terminated = nil
		case <-ticker.C:
			st := proxy.Status()
			s.logger.Info().
				Str("state", string(st.State)).
				Bool("has_loaded", st.HasLoaded).
				Msg("service.Service heartbeat")
		}
	}
}

// shutdown asks the worker to terminate and forces it after the timeout.
func (s *Service) shutdown() {
	proxy := s.Proxy()
	if proxy == nil || proxy.Handle() == nil {
		return
	}
	done := make(chan struct{})
	id := proxy.One(protocol.EventWorkerTerminated, func(eventbus.Event, ...any) { close(done) })
	defer proxy.Off(protocol.EventWorkerTerminated, id)
	if proxy.Handle() == nil {
		return
	}

	proxy.Terminate(true)
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownTimeout):
		s.logger.Warn().Dur("timeout", s.cfg.ShutdownTimeout).Msg("service.Service.shutdown forcing terminate")
		proxy.TerminateNow(nil)
	}
}

func (s *Service) closeJournal() {
	s.mu.Lock()
	j := s.journal
	s.journal = nil
	s.mu.Unlock()
	if j == nil {
		return
	}
	if err := j.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("service.Service journal close failed")
	}
}

func (s *Service) index() host.ScriptIndex {
	chain := chainIndex{}
	if len(s.cfg.Scripts) > 0 {
		chain = append(chain, host.MapIndex(s.cfg.Scripts))
	}
	if dir := strings.TrimSpace(s.cfg.ScriptDir); dir != "" {
		chain = append(chain, host.DirIndex{Dir: dir})
	}
	return chain
}

func (s *Service) spawner(actions protocol.ActionSet) spawn.Spawner {
	logger := s.logger
	if s.cfg.Mode == ModeProcess {
		return spawn.Process{
			Path:    s.cfg.WorkerdPath,
			Args:    s.cfg.WorkerdArgs,
			Stderr:  os.Stderr,
			Name:    s.cfg.Name,
			Actions: actions,
			Logger:  &logger,
		}
	}
	return spawn.InProcess{Name: s.cfg.Name, Actions: actions, Logger: &logger}
}

// chainIndex consults each index in order.
type chainIndex []host.ScriptIndex

func (c chainIndex) Lookup(selector string) (string, bool) {
	for _, idx := range c {
		if text, ok := idx.Lookup(selector); ok {
			return text, true
		}
	}
	return "", false
}
