// Autopilot CLI — инструмент командной строки для наблюдения за
// движком autopilot через HTTP API.
//
// Использование:
//
//	autopilot [--api-url URL] [--json] <command> [flags]
//
// Команды:
//
//	trace     Просмотр traces
//	span      Просмотр provenance-спанов
//	pending   Просмотр очереди отложенных действий
//	log       Журнал движка
//	status    Сводка состояния по типам шагов
//	event     Отправка событий
//	init      Генерация autopilot.yml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/endorhq/rover-sub001/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "autopilot",
		Short:         "Autopilot CLI — autonomous task engine tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewTraceCmd(clientFn, outputFn),
		cli.NewSpanCmd(clientFn, outputFn),
		cli.NewPendingCmd(clientFn, outputFn),
		cli.NewLogCmd(clientFn, outputFn),
		cli.NewStatusCmd(clientFn, outputFn),
		cli.NewEventCmd(clientFn, outputFn),
		cli.NewInitCmd(outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
