package commands

import (
	"github.com/spf13/cobra"
)

func newPingCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "ping RUNNER",
		Short: "Ping a connected runner over its control channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFor(cmd).Ping(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("Runner %s pinged\n", args[0])
			return nil
		},
		ValidArgsFunction: cobra.NoFileCompletions,
	}
	return c
}
