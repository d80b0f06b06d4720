package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewEventCmd создаёт группу команд для отправки событий движку.
func NewEventCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Send events to the engine",
	}

	cmd.AddCommand(newEventSendCmd(clientFn, outputFn))

	return cmd
}

func newEventSendCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var kind string
	var summary string
	var externalID string
	var meta []string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send an event to trigger the autopilot",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := SendEventRequest{
				ExternalID: externalID,
				Kind:       kind,
				Summary:    summary,
			}

			if len(meta) > 0 {
				req.Meta = make(map[string]any)
				for _, kv := range meta {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid meta format %q, expected KEY=VALUE", kv)
					}
					req.Meta[parts[0]] = parts[1]
				}
			}

			accepted, err := client.SendEvent(req)
			if err != nil {
				return err
			}

			if accepted.Duplicate {
				out.Success("Event already processed, no new trace")
			} else {
				out.Success(fmt.Sprintf("Event accepted: trace %s", accepted.TraceID))
			}

			out.Print(
				[]string{"TRACE_ID", "DUPLICATE"},
				[][]string{{accepted.TraceID, strconv.FormatBool(accepted.Duplicate)}},
				accepted,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Event kind (e.g. github_issue)")
	cmd.Flags().StringVar(&summary, "summary", "", "Event summary (required)")
	cmd.Flags().StringVar(&externalID, "external-id", "", "External ID for deduplication")
	cmd.Flags().StringSliceVar(&meta, "meta", nil, "Meta values as KEY=VALUE (repeatable)")
	cmd.MarkFlagRequired("summary")

	return cmd
}
