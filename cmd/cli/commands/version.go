package commands

import (
	"github.com/spf13/cobra"
)

var Version = "dev"

func newVersionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "version",
		Short: "Show the gatewayctl version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("gatewayctl version %s\n", Version)
		},
		ValidArgsFunction: cobra.NoFileCompletions,
	}
	return c
}
