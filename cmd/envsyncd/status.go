package main

import (
	"fmt"
	"time"

	"envsyncd/cmd/envsyncd/ui"
	"envsyncd/config"
	"envsyncd/internal/state"

	"github.com/spf13/cobra"
)

func statusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last-applied sync state per service",
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

			records := store.List()
			known := make(map[string]state.Record, len(records))
			for _, rec := range records {
				known[rec.Service] = rec
			}

			rows := make([][]string, 0, len(cfg.Services))
			for _, svc := range cfg.Services {
				rec, synced := known[svc.Name]
				if !synced {
					rows = append(rows, []string{ui.Accent(svc.Name), svc.Container, ui.WarnMsg("never synced"), "-", "-"})
					continue
				}
				rows = append(rows, []string{
					ui.Accent(svc.Name),
					svc.Container,
					ui.Muted(shortDigest(rec.Digest)),
					fmt.Sprintf("%d", rec.VarCount),
					rec.SyncedAt.Local().Format(time.RFC3339),
				})
			}

			fmt.Println(ui.Table([]string{"SERVICE", "CONTAINER", "DIGEST", "VARS", "LAST SYNC"}, rows))
			return nil
		},
	}
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
