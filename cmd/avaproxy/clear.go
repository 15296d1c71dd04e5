package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newClearCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete gateways left behind for the base URL",
		Long: `Clear deletes every gateway named for the base URL in the selected regions,
including gateways kept by earlier runs with --reuse.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := root.setup(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			c, err := rt.newClient()
			if err != nil {
				return err
			}
			n, err := c.Clear(cmd.Context())
			fmt.Fprintf(root.out, "deleted %d gateways\n", n)
			return err
		},
	}
}
