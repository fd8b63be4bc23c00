package cli

import (
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cmdgate/cmdgate/internal/client"
)

func newEventsCmd() *cobra.Command {
	var commandID string
	var eventType string
	var decision string
	var since string
	var limit int
	var asc bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Search the audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if commandID != "" {
				q.Set("command_id", commandID)
			}
			if eventType != "" {
				q.Set("type", eventType)
			}
			if decision != "" {
				q.Set("decision", decision)
			}
			if since != "" {
				q.Set("since", since)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if asc {
				q.Set("order", "asc")
			}

			evs, err := client.New(serverAddr(cmd)).SearchEvents(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printJSON(cmd, evs)
		},
	}
	cmd.Flags().StringVar(&commandID, "command-id", "", "Filter by command id")
	cmd.Flags().StringVar(&eventType, "type", "", "Comma-separated event types")
	cmd.Flags().StringVar(&decision, "decision", "", "Filter by decision: allow, deny, prompt")
	cmd.Flags().StringVar(&since, "since", "", "RFC3339 time or relative duration (e.g. 15m)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of events")
	cmd.Flags().BoolVar(&asc, "asc", false, "Oldest first")
	return cmd
}
