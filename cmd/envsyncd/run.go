package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"envsyncd/config"
	"envsyncd/internal/adapter/docker"
	"envsyncd/internal/logging"
	"envsyncd/internal/provider"
	"envsyncd/internal/reconciler"
	"envsyncd/internal/scheduler"
	"envsyncd/internal/state"
	"envsyncd/internal/supervisor"
	"envsyncd/internal/watch"

	"github.com/spf13/cobra"
)

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := logging.Configure(cfg.LogLevel); err != nil {
				return err
			}

			store, err := state.Open(cfg.StateDir)
			if err != nil {
				return err
			}
			defer store.Close()

			engine, err := docker.NewEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			if err := engine.WaitReady(ctx); err != nil {
				return err
			}

			recon := reconciler.New(engine)

			factory := func(c *config.Config, svc config.Service) (*scheduler.Scheduler, error) {
				token, err := c.ServiceToken(svc)
				if err != nil {
					return nil, err
				}
				creds := provider.Credentials{
					Token:       token,
					Project:     svc.Project,
					Environment: svc.Environment,
				}
				secrets := provider.New(c.Provider.URL)
				return scheduler.New(svc, c.EffectiveInterval(svc), creds, secrets, recon, store), nil
			}

			notifier := watch.New(*configPath, 0)
			if err := notifier.Start(ctx); err != nil {
				return fmt.Errorf("watch config: %w", err)
			}
			defer notifier.Stop()

			load := func() (*config.Config, error) { return config.Load(*configPath) }
			return supervisor.New(load, factory, notifier.Events()).Run(ctx, cfg)
		},
	}
}
