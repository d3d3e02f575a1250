package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration and paths",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		configPath, err := config.ConfigPath()
		if err != nil {
			return err
		}
		tokenPath, err := cfg.ResolveTokenPath()
		if err != nil {
			return err
		}
		dbPath, err := config.SnapshotDBPath()
		if err != nil {
			return err
		}

		fmt.Printf("config file:        %s\n", configPath)
		fmt.Printf("token file:         %s\n", tokenPath)
		fmt.Printf("snapshot db:        %s\n", dbPath)
		fmt.Printf("server url:         %s\n", cfg.ServerBaseURL())
		fmt.Printf("page size:          %d\n", cfg.PageSize())
		fmt.Printf("ping interval:      %s\n", cfg.PingInterval())
		fmt.Printf("reconnect attempts: %d\n", cfg.ReconnectMaxAttempts())
		fmt.Printf("log level:          %s\n", cfg.LogLevel())
		fmt.Printf("stream debug:       %v\n", cfg.StreamDebugEnabled())
		if cfg.Token() != "" {
			fmt.Printf("token:              (inline, %d chars)\n", len(cfg.Token()))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
