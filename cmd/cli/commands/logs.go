package commands

import (
	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "logs",
		Short: "Fetch the gateway's recent logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			logs, err := clientFor(cmd).Logs(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Print(logs)
			return nil
		},
		ValidArgsFunction: cobra.NoFileCompletions,
	}
	return c
}
