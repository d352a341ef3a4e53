// Package commands implements the gatewayctl command tree.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fleetserve/gateway/cmd/cli/admin"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gatewayctl",
		Short: "Inspect and operate a fleet gateway",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if addr, _ := cmd.Flags().GetString("addr"); addr == "" {
				if env := os.Getenv("GATEWAY_ADDR"); env != "" {
					_ = cmd.Flags().Set("addr", env)
				} else {
					_ = cmd.Flags().Set("addr", "http://localhost:8080")
				}
			}
			if token, _ := cmd.Flags().GetString("token"); token == "" {
				_ = cmd.Flags().Set("token", os.Getenv("GATEWAY_TOKEN"))
			}
		},
	}
	rootCmd.PersistentFlags().String("addr", "", "Gateway base URL (default $GATEWAY_ADDR or http://localhost:8080)")
	rootCmd.PersistentFlags().String("token", "", "Bearer token for admin endpoints (default $GATEWAY_TOKEN)")
	rootCmd.AddCommand(
		newVersionCmd(),
		newStatusCmd(),
		newRunnersCmd(),
		newWakeCmd(),
		newPingCmd(),
		newRequestsCmd(),
		newLogsCmd(),
	)
	return rootCmd
}

// clientFor builds an admin client from the command's persistent flags.
func clientFor(cmd *cobra.Command) *admin.Client {
	addr, _ := cmd.Flags().GetString("addr")
	token, _ := cmd.Flags().GetString("token")
	return admin.New(addr, token)
}
