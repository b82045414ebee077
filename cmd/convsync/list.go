package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/convsync/pkg/conversation"
)

var listCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "List a user's conversations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unified, err := buildUnified(cmd.Context())
		if err != nil {
			return err
		}
		defer unified.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		tags, _ := cmd.Flags().GetStringSlice("tag")
		sessionType, _ := cmd.Flags().GetString("session-type")

		recs, err := unified.GetUserConversations(cmd.Context(), args[0], conversation.ListFilter{
			Limit:       limit,
			Tags:        tags,
			SessionType: sessionType,
		})
		if err != nil {
			return err
		}

		for _, rec := range recs {
			fmt.Printf("%s  %-30s  %d messages  updated %s\n",
				rec.ConversationID, rec.Name,
				rec.SessionMetrics.MessageCount,
				rec.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("%d conversations\n", len(recs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().Int("limit", 0, "maximum number of results")
	listCmd.Flags().StringSlice("tag", nil, "filter by tag (repeatable)")
	listCmd.Flags().String("session-type", "", "filter by session type")
}
