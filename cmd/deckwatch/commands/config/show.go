package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/deckwatch/internal/cli/output"
	"github.com/marmos91/deckwatch/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective configuration, after defaults and environment
overrides are applied.

Examples:
  deckwatch config show
  deckwatch config show --output json
  DECKWATCH_FINDERS_PASSIVE=true deckwatch config show`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.MustLoad(configFile)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}
	if format == output.FormatJSON {
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	}
	return output.PrintYAML(cmd.OutOrStdout(), cfg)
}
