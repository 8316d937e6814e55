package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lanternwallet/lantern-agent/internal/config"
	"github.com/lanternwallet/lantern-agent/internal/logging"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	logger    *zap.Logger
	cfgFile   string
	loadedCfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "lantern-agent",
	Short: "Local signing agent for the Lantern browser wallet",
	Long: `lantern-agent holds the wallet key and serves the Lantern browser
extension over loopback HTTP. Transaction and signature requests from web
pages are gated on per-site connections and user approval; gas estimation,
EIP-7702 account delegation, and activity tracking run inside the agent.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		loadedCfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger, err = logging.New(logging.Config{
			Level:  loadedCfg.Log.Level,
			Format: loadedCfg.Log.Format,
		})
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to lantern.yaml (default: ~/.config/lantern/lantern.yaml)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
