package cli

import (
	"github.com/spf13/cobra"
)

// NewLogCmd создаёт команду просмотра журнала движка.
func NewLogCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the engine log (newest entries last)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			entries, err := client.GetLog(limit)
			if err != nil {
				return err
			}

			headers := []string{"TIME", "STEP", "TRACE_ID", "MESSAGE"}
			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{e.Timestamp, e.Step, e.TraceID, e.Message}
			}

			out.Print(headers, rows, entries)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum number of entries")

	return cmd
}
