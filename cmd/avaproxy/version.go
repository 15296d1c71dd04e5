package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(root.out, "avaproxy version %s\n", version)
			fmt.Fprintf(root.out, "  Build time: %s\n", buildTime)
			fmt.Fprintf(root.out, "  Git commit: %s\n", gitCommit)
		},
	}
}
