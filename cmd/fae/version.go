package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the fae version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("fae", Version)
		},
	}
}
