package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newRequestsCmd() *cobra.Command {
	var model string
	var limit int
	c := &cobra.Command{
		Use:   "requests [OPTIONS]",
		Short: "Fetch audited requests and responses from the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := clientFor(cmd).Requests(cmd.Context(), model, limit)
			if err != nil {
				return err
			}
			for _, record := range records {
				line, err := json.Marshal(record)
				if err != nil {
					return err
				}
				cmd.Println(string(line))
			}
			return nil
		},
		ValidArgsFunction: cobra.NoFileCompletions,
	}
	c.Flags().StringVar(&model, "model", "", "Only show requests for this model")
	c.Flags().IntVar(&limit, "limit", 50, "Maximum number of requests to fetch")
	return c
}
