package main

import (
	"fmt"

	"github.com/goopsie/metexpatch/pkg/manifest"
	"github.com/spf13/cobra"
)

func newTOCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toc",
		Short: "Refresh the PCConsoleTOC.bin files of an ME3 installation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			u := manifest.NewUpdater(cfg.Game, cfg.GamePath, cfg.MainDataDir, cfg.DLCDir, manifest.WithLogger(logger))
			updated, err := u.Update(cmd.Context())
			for _, path := range updated {
				fmt.Printf("Updated %s\n", path)
			}
			return err
		},
	}
}
