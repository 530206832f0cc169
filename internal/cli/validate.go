package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without running anything",
	Long: `Load and validate the configuration, then print the resolved settings.
No queue or storage calls are made.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	resolved, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("render configuration: %w", err)
	}

	fmt.Fprint(cmd.OutOrStdout(), string(resolved))
	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("Configuration OK"))
	return nil
}
