package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewTraceCmd создаёт группу команд для просмотра traces.
func NewTraceCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect action traces",
	}

	cmd.AddCommand(
		newTraceListCmd(clientFn, outputFn),
		newTraceShowCmd(clientFn, outputFn),
	)

	return cmd
}

func newTraceListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all traces",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			traces, err := client.ListTraces()
			if err != nil {
				return err
			}

			headers := []string{"TRACE_ID", "SUMMARY", "STEPS", "CREATED"}
			rows := make([][]string, len(traces))
			for i, t := range traces {
				rows[i] = []string{t.TraceID, truncate(t.Summary, 60), strconv.Itoa(len(t.Steps)), t.CreatedAt}
			}

			out.Print(headers, rows, traces)
			return nil
		},
	}
}

func newTraceShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show TRACE_ID",
		Short: "Show trace details with its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			trace, err := client.GetTrace(args[0])
			if err != nil {
				return err
			}

			if out.IsJSON() {
				out.JSON(trace)
				return nil
			}

			out.KeyValue([][2]string{
				{"TRACE_ID", trace.TraceID},
				{"SUMMARY", trace.Summary},
				{"CREATED", trace.CreatedAt},
			})
			out.Line()

			headers := []string{"ACTION", "STATUS", "TERMINAL", "ACTION_ID", "REASONING"}
			rows := make([][]string, len(trace.Steps))
			for i, s := range trace.Steps {
				rows[i] = []string{
					s.Action,
					s.Status,
					strconv.FormatBool(s.Terminal),
					s.ActionID,
					truncate(s.Reasoning, 60),
				}
			}
			out.Table(headers, rows)
			return nil
		},
	}
}
