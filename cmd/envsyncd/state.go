package main

import (
	"fmt"

	"envsyncd/cmd/envsyncd/ui"
	"envsyncd/config"
	"envsyncd/internal/state"

	"github.com/spf13/cobra"
)

func stateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Manage the persisted sync state",
	}
	cmd.AddCommand(stateResetCmd(configPath))
	return cmd
}

func stateResetCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard all recorded sync state, forcing a full resync",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			store, err := state.Open(cfg.StateDir)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Reset(); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("sync state reset; every service will resync on its next cycle"))
			return nil
		},
	}
}
