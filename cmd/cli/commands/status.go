package commands

import (
	"sort"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "status",
		Short: "Check if the gateway is running and what it can serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := clientFor(cmd).Status(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Gateway is %s\n", status.Status)
			cmd.Printf("Connected runners: %d\n", status.ConnectedRunners)
			if len(status.Models) > 0 {
				cmd.Println("\nModels:")
				names := make([]string, 0, len(status.Models))
				for name := range status.Models {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					cmd.Printf("  %s (%d runner(s))\n", name, status.Models[name])
				}
			}
			return nil
		},
		ValidArgsFunction: cobra.NoFileCompletions,
	}
	return c
}
