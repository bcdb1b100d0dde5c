package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hevsocks/socks5d/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or validate the configuration file",
}

var configTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Load and validate the configuration file, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("configuration test FAILED: %w", err)
		}

		fmt.Printf("configuration file %s test OK\n", path)
		fmt.Printf("  max_sessions:   %d\n", cfg.MaxSessions)
		fmt.Printf("  idle_timeout:   %s\n", cfg.IdleTimeout)
		fmt.Printf("  sweep_interval: %s\n", cfg.SweepInterval)
		fmt.Printf("  buffer_size:    %d\n", cfg.BufferSize)
		fmt.Printf("  listeners:      %d\n", len(cfg.Listeners))
		for _, l := range cfg.Listeners {
			fmt.Printf("    socks5://%s:%-5d  (dns %s)\n", l.Address, l.Port, l.DNSServer)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configTestCmd)
}
