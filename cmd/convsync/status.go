package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current synchronization status",
	RunE: func(cmd *cobra.Command, args []string) error {
		unified, err := buildUnified(cmd.Context())
		if err != nil {
			return err
		}
		defer unified.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(unified.GetSyncStatus())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
