package commands

import (
	"os"

	"github.com/spf13/cobra"
)

func newWakeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "wake RUNNER",
		Short: "Send a wake-on-LAN request for an offline runner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := clientFor(cmd).Wake(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if result.Message != "" {
				cmd.Println(result.Message)
			}
			if !result.Success {
				osExit(1)
			}
			return nil
		},
		ValidArgsFunction: cobra.NoFileCompletions,
	}
	return c
}

var osExit = os.Exit
