package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <user-id>",
	Short: "Delete a user's conversations older than the retention horizon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unified, err := buildUnified(cmd.Context())
		if err != nil {
			return err
		}
		defer unified.Close()

		days, _ := cmd.Flags().GetInt("older-than-days")
		olderThan := time.Now().UTC().AddDate(0, 0, -days)

		deleted, err := unified.CleanupConversations(cmd.Context(), args[0], olderThan)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		fmt.Printf("deleted %d conversations older than %s\n", deleted, olderThan.Format("2006-01-02"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().Int("older-than-days", 90, "retention horizon in days")
}
