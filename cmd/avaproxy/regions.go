package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRegionsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "List the regions the pool would use",
		Long: `Regions resolves --regions (or the config file's regions) against the
regions offered by the provider and prints one region per line.`,
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
			regions, err := c.Regions(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range regions {
				fmt.Fprintln(root.out, r)
			}
			return nil
		},
	}
}
