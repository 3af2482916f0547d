package main

import (
	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/cobra"
)

var version = "0.1.0-src"

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Printf("walletd %s (%s, %s)\n", version, versioninfo.Short(), versioninfo.LastCommit.Format("2006-01-02"))
			return nil
		},
	}
}
