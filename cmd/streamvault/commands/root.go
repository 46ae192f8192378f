// Package commands implements the streamvault CLI.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voyagen/streamvault/internal/config"
	"github.com/voyagen/streamvault/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "streamvault",
	Short: "IPTV source sync engine and media proxy",
	Long: `Synchronizes Xtream panels, M3U playlists and XMLTV guides into a local
database and serves them through an HTTP read API and media proxy.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Optional config file path (YAML); else use env DATABASE_URL")
}

// loadConfig reads --config when given, else the environment, and installs the logger.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}
