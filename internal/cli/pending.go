package cli

import (
	"github.com/spf13/cobra"
)

// NewPendingCmd создаёт группу команд для очереди отложенных действий.
func NewPendingCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Inspect the pending queue",
	}

	cmd.AddCommand(newPendingListCmd(clientFn, outputFn))

	return cmd
}

func newPendingListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued actions waiting for a drain",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			entries, err := client.ListPending()
			if err != nil {
				return err
			}

			headers := []string{"ACTION", "TRACE_ID", "ACTION_ID", "SUMMARY", "CREATED"}
			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{e.Action, e.TraceID, e.ActionID, truncate(e.Summary, 50), e.CreatedAt}
			}

			out.Print(headers, rows, entries)
			return nil
		},
	}
}
