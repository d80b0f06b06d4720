package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewStatusCmd создаёт команду сводки состояния движка.
func NewStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine status per step type",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			status, err := client.GetStatus()
			if err != nil {
				return err
			}

			if out.IsJSON() {
				out.JSON(status)
				return nil
			}

			out.KeyValue([][2]string{
				{"TRACES", strconv.Itoa(status.Traces)},
				{"PENDING", strconv.Itoa(status.Pending)},
			})
			out.Line()

			headers := []string{"STEP", "STATUS", "PROCESSED", "IN_FLIGHT"}
			rows := make([][]string, len(status.Steps))
			for i, s := range status.Steps {
				rows[i] = []string{s.Type, s.Status, strconv.Itoa(s.Processed), strconv.Itoa(s.InFlight)}
			}
			out.Table(headers, rows)
			return nil
		},
	}
}
