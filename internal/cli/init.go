package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/endorhq/rover-sub001/internal/config"
)

// NewInitCmd создаёт команду генерации autopilot.yml.
// Единственная команда CLI, работающая локально без API.
func NewInitCmd(outputFn func() *Output) *cobra.Command {
	var workspace string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a commented autopilot.yml in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}

			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			out.Success(fmt.Sprintf("Config written: %s", path))
			return nil
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", ".", "Workspace directory")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")

	return cmd
}
