// Package scheduler drives the per-service sync loop: fetch the desired
// variables, detect drift, and apply via container recreation.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"envsyncd/config"
	"envsyncd/internal/check"
	"envsyncd/internal/detect"
	"envsyncd/internal/envfile"
	"envsyncd/internal/provider"
	"envsyncd/internal/reconciler"
)

// Scheduler owns one repeating timer for one service. It runs a sync
// cycle immediately at start and then on every tick, independent of all
// other services. It owns its goroutine lifecycle via Start/Stop.
type Scheduler struct {
	service  config.Service
	creds    provider.Credentials
	interval time.Duration

	secrets SecretProvider
	recon   Reconciler
	state   StateStore

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler for one service.
func New(svc config.Service, interval time.Duration, creds provider.Credentials, secrets SecretProvider, recon Reconciler, st StateStore) *Scheduler {
	check.Assert(secrets != nil, "scheduler.New: secret provider must not be nil")
	check.Assert(recon != nil, "scheduler.New: reconciler must not be nil")
	check.Assert(st != nil, "scheduler.New: state store must not be nil")
	check.Assert(interval > 0, "scheduler.New: interval must be positive")

	return &Scheduler{
		service:  svc,
		creds:    creds,
		interval: interval,
		secrets:  secrets,
		recon:    recon,
		state:    st,
	}
}

// Service returns the descriptor this scheduler serves.
func (s *Scheduler) Service() config.Service { return s.service }

// Start launches the sync loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.run(ctx)
	}()
}

// Stop cancels the loop and waits for it to exit. A cycle already in its
// apply phase finishes before Stop returns; the reconciler detaches the
// destructive sequence from cancellation.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Scheduler) run(ctx context.Context) {
	s.syncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

// syncOnce runs one fetch → detect → apply cycle. Failures before the
// apply phase have no side effects and are retried next tick. An apply
// failure leaves the recorded state untouched, so the same delta is
// retried until a recreation succeeds.
func (s *Scheduler) syncOnce(ctx context.Context) {
	vars, err := s.secrets.FetchVariables(ctx, s.creds)
	if err != nil {
		if errors.Is(err, provider.ErrAuth) {
			slog.Error("secret fetch rejected", "service", s.service.Name, "err", err)
		} else {
			slog.Warn("secret fetch failed", "service", s.service.Name, "err", err)
		}
		return
	}

	var recorded string
	if rec, ok := s.state.Get(s.service.Name); ok {
		recorded = rec.Digest
	}

	content := vars.Render()
	changed, digest := detect.Changed(s.service.EnvFile, content, recorded)
	if !changed {
		slog.Debug("service in sync", "service", s.service.Name, "digest", digest)
		return
	}
	slog.Info("variables changed, resyncing",
		"service", s.service.Name, "container", s.service.Container, "vars", len(vars))

	if err := envfile.WriteAtomic(s.service.EnvFile, content); err != nil {
		slog.Warn("materialize variable file failed", "service", s.service.Name, "err", err)
		return
	}

	opts := reconciler.Options{}
	if s.service.InjectEnv {
		opts.Env = vars.Env()
	}
	if err := s.recon.Reconcile(ctx, s.service.Container, opts); err != nil {
		switch {
		case errors.Is(err, reconciler.ErrApplyInFlight):
			slog.Debug("apply already in flight, skipping", "service", s.service.Name)
		case errors.Is(err, reconciler.ErrNotFound):
			slog.Warn("target container absent", "service", s.service.Name, "container", s.service.Container)
		default:
			slog.Warn("container recreation failed", "service", s.service.Name, "err", err)
		}
		return
	}

	// Only a verified successful apply marks the service as synced.
	if err := s.state.Update(s.service.Name, s.service.EnvFile, digest, len(vars)); err != nil {
		slog.Warn("record sync state failed", "service", s.service.Name, "err", err)
		return
	}
	slog.Info("service synced", "service", s.service.Name, "digest", digest, "vars", len(vars))
}
