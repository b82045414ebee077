package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/convsync/internal/observability"
	"github.com/aixgo-dev/convsync/pkg/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "convsync",
	Short: "Conversation persistence and synchronization service",
	Long: `convsync persists multi-agent conversation sessions to a local cache
and a remote document store, replaying offline writes and reconciling
divergent versions in the background.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgFile != "" {
			cfg, err = config.LoadConfig(cfgFile)
			if err != nil {
				return err
			}
		} else {
			cfg = config.DefaultConfig()
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return observability.InitFromEnv()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return observability.Shutdown(context.Background())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default uses CONVSYNC_* environment variables)")
}
