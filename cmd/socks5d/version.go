package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the socks5d version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("socks5d %s (%s)\n", version, commit)
		return nil
	},
}
