// Package supervisor owns the set of per-service schedulers and rebuilds
// them when the configuration is reloaded.
package supervisor

import (
	"context"
	"log/slog"

	"envsyncd/config"
	"envsyncd/internal/check"
	"envsyncd/internal/scheduler"
)

// ConfigLoader re-reads the configuration. A failed load keeps the
// previous generation of schedulers running untouched.
type ConfigLoader func() (*config.Config, error)

// SchedulerFactory builds the scheduler for one service. A factory error
// (bad credentials, unreachable token file) disables that one service;
// the others start normally.
type SchedulerFactory func(cfg *config.Config, svc config.Service) (*scheduler.Scheduler, error)

// Supervisor tears all schedulers down and rebuilds them on every reload
// signal. The scheduler map is owned here exclusively; nothing else ever
// holds a timer handle.
type Supervisor struct {
	load    ConfigLoader
	build   SchedulerFactory
	reload  <-chan struct{}
	current map[string]*scheduler.Scheduler
}

// New creates a Supervisor. reload may be nil when live reloads are not
// wanted (tests, one-shot runs).
func New(load ConfigLoader, build SchedulerFactory, reload <-chan struct{}) *Supervisor {
	check.Assert(load != nil, "supervisor.New: config loader must not be nil")
	check.Assert(build != nil, "supervisor.New: scheduler factory must not be nil")

	return &Supervisor{
		load:    load,
		build:   build,
		reload:  reload,
		current: make(map[string]*scheduler.Scheduler),
	}
}

// Run starts schedulers for cfg and blocks until ctx is cancelled,
// rebuilding the full set whenever the reload channel signals. On return
// every scheduler has been stopped; in-flight applies were allowed to
// finish.
func (s *Supervisor) Run(ctx context.Context, cfg *config.Config) error {
	s.start(ctx, cfg)
	defer s.stopAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.reload:
			next, err := s.load()
			if err != nil {
				slog.Warn("config reload failed, keeping previous configuration", "err", err)
				continue
			}
			slog.Info("configuration changed, rebuilding schedulers", "services", len(next.Services))
			s.stopAll()
			s.start(ctx, next)
		}
	}
}

func (s *Supervisor) start(ctx context.Context, cfg *config.Config) {
	for _, svc := range cfg.Services {
		sched, err := s.build(cfg, svc)
		if err != nil {
			slog.Error("service scheduler not started", "service", svc.Name, "err", err)
			continue
		}
		sched.Start(ctx)
		s.current[svc.Name] = sched
		slog.Debug("scheduler started", "service", svc.Name, "interval", cfg.EffectiveInterval(svc))
	}
}

func (s *Supervisor) stopAll() {
	for name, sched := range s.current {
		sched.Stop()
		delete(s.current, name)
	}
}
