// Package commands implements the deckwatch CLI.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/deckwatch/cmd/deckwatch/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "deckwatch",
	Short: "deckwatch - DJ Link network observer",
	Long: `deckwatch watches a Pro DJ Link network. It tracks which players and
mixers are online, decodes their status broadcasts and resolves metadata,
album art, waveforms and beat grids for every loaded track, either from
offline archives or by querying the players' database servers.

Use "deckwatch [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/deckwatch/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}
