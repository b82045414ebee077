package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one synchronization pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		unified, err := buildUnified(cmd.Context())
		if err != nil {
			return err
		}
		defer unified.Close()

		if err := unified.TriggerSync(cmd.Context()); err != nil {
			return fmt.Errorf("sync: %w", err)
		}

		status := unified.GetSyncStatus()
		fmt.Printf("sync complete: %d pending operations, %d conflicts\n",
			status.PendingOperations, status.ConflictsDetected)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
