// Package main implements the socks5d command-line entry point: a cobra
// command tree (serve, config test, version) with viper resolving the
// config file path from the --config flag or the SOCKS5D_CONFIG environment
// variable; the YAML file itself is loaded and validated by internal/config,
// mirroring how dittofs's cmd/dittofs layers cobra over its own
// hand-validated config loader.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "dev"
	commit  = "none"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "socks5d",
	Short: "A minimal, NOAUTH-only SOCKS5 proxy daemon",
	Long: `socks5d is a SOCKS5 proxy restricted to RFC 1928's no-authentication
method and the CONNECT command. Every client connection is driven by a
single shared event loop rather than one goroutine-per-connection relay.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to YAML config file")
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func initViper() {
	viper.SetEnvPrefix("socks5d")
	viper.AutomaticEnv()
}

// configPath resolves the config file path: an explicitly passed --config
// wins, then SOCKS5D_CONFIG, then the --config default.
func configPath() string {
	return viper.GetString("config")
}

func main() {
	initViper()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "socks5d: %v\n", err)
		os.Exit(1)
	}
}
