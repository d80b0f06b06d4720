package cli

import (
	"github.com/spf13/cobra"
)

// NewSpanCmd создаёт группу команд для просмотра span'ов.
func NewSpanCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "span",
		Short: "Inspect provenance spans",
	}

	cmd.AddCommand(newSpanChainCmd(clientFn, outputFn))

	return cmd
}

func newSpanChainCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "chain SPAN_ID",
		Short: "Show the parent chain from the root span down to SPAN_ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			spans, err := client.GetSpanChain(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "STEP", "STATUS", "SUMMARY", "CREATED"}
			rows := make([][]string, len(spans))
			for i, s := range spans {
				status := s.Status
				if status == "" {
					status = "open"
				}
				rows[i] = []string{s.ID, s.Step, status, truncate(s.Summary, 50), s.Timestamp}
			}

			out.Print(headers, rows, spans)
			return nil
		},
	}
}
