package commands

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/fleetserve/gateway/cmd/cli/admin"
)

func newRunnersCmd() *cobra.Command {
	var jsonFormat bool
	c := &cobra.Command{
		Use:     "runners",
		Aliases: []string{"ls"},
		Short:   "List connected and previously-seen runners",
		RunE: func(cmd *cobra.Command, args []string) error {
			runners, err := clientFor(cmd).Runners(cmd.Context())
			if err != nil {
				return err
			}
			if jsonFormat {
				data, err := json.MarshalIndent(runners, "", "    ")
				if err != nil {
					return err
				}
				cmd.Println(string(data))
				return nil
			}
			cmd.Print(runnersTable(runners))
			return nil
		},
		ValidArgsFunction: cobra.NoFileCompletions,
	}
	c.Flags().BoolVar(&jsonFormat, "json", false, "List runners in a JSON format")
	return c
}

func runnersTable(runners []admin.Runner) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)

	table.SetHeader([]string{"ID", "NAME", "HEALTH", "LOADED MODELS", "ACTIVE", "LAST SEEN"})

	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, runner := range runners {
		table.Append([]string{
			runner.ID,
			runner.Name,
			runner.Health,
			strings.Join(runner.LoadedModels, ","),
			formatActive(runner),
			formatLastSeen(runner),
		})
	}

	table.Render()
	return buf.String()
}

func formatActive(runner admin.Runner) string {
	if !runner.IsOnline {
		return "-"
	}
	return strconv.FormatInt(runner.ActiveRequests, 10)
}

func formatLastSeen(runner admin.Runner) string {
	if runner.LastSeenAt == nil {
		return "never"
	}
	return units.HumanDuration(time.Since(*runner.LastSeenAt)) + " ago"
}
