package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags, following the teacher
// project's own cmd/dex/version.go convention.
var version = "dev"

func commandVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fabricd version %s\n", version)
		},
	}
}
