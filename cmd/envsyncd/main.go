package main

import (
	"fmt"
	"os"

	"envsyncd/cmd/envsyncd/ui"
	"envsyncd/config"
	"envsyncd/internal/logging"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	var (
		debug      bool
		configPath string
	)
	if err := logging.Configure(logging.LevelInfo); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "envsyncd",
		Short:         "Keep container environments synchronized with an external secret source",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.Configure()
			if debug {
				return logging.Configure(logging.LevelDebug)
			}
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to the configuration file")

	root.AddCommand(runCmd(&configPath))
	root.AddCommand(statusCmd(&configPath))
	root.AddCommand(stateCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		os.Exit(1)
	}
}
