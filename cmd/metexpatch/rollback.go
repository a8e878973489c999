package main

import (
	"fmt"

	"github.com/goopsie/metexpatch/pkg/journal"
	"github.com/spf13/cobra"
)

func newRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Undo the archive writes of an interrupted replacement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			j := journal.Open(cfg.JournalPath, journal.WithLogger(logger))
			entries, err := j.Entries()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("Nothing to roll back")
				return nil
			}
			if err := j.Rollback(); err != nil {
				return err
			}
			fmt.Printf("Rolled back %d archive writes\n", len(entries))
			return nil
		},
	}
}
