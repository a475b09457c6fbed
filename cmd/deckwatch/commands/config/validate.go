package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/deckwatch/internal/cli/output"
	"github.com/marmos91/deckwatch/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the configuration file.

Checks for syntax errors, missing required fields and invalid values, then
warns about settings that are valid but probably not intended.

Examples:
  deckwatch config validate
  deckwatch config validate --config /etc/deckwatch/config.yaml`,
	RunE: runConfigValidate,
}

// warnings lists settings that load fine but likely misbehave.
func warnings(cfg *config.Config) []string {
	var w []string
	if cfg.API.Enabled && cfg.API.JWTSecret == "" {
		w = append(w, "api.jwt_secret not set - the status API accepts unauthenticated requests")
	}
	if cfg.Finders.Passive && len(cfg.Archives.Sources) == 0 && cfg.Archives.Directory == "" {
		w = append(w, "finders.passive is set but no archives are configured - nothing can be resolved")
	}
	if cfg.Network.Interface == "" {
		w = append(w, "network.interface not set - packets from every network are accepted")
	}
	if !cfg.Finders.IsEnabled(config.FinderMetadata) {
		w = append(w, "metadata finder disabled - only devices and status are observed")
	}
	return w
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.MustLoad(configFile)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", configPath(cmd))
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if w := warnings(cfg); len(w) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, msg := range w {
			_, _ = fmt.Fprintf(out, "  - %s\n", msg)
		}
	}

	iface := cfg.Network.Interface
	if iface == "" {
		iface = "any"
	}
	_, _ = fmt.Fprintln(out, "\nConfiguration summary:")
	return output.KeyValues(out, [][2]string{
		{"  Interface", iface},
		{"  Announce port", strconv.Itoa(cfg.Network.AnnouncePort)},
		{"  Status port", strconv.Itoa(cfg.Network.StatusPort)},
		{"  Finders", strings.Join(cfg.Finders.Enabled, ", ")},
		{"  Passive", strconv.FormatBool(cfg.Finders.Passive)},
		{"  Archives", strconv.Itoa(len(cfg.Archives.Sources))},
		{"  Log level", cfg.Logging.Level},
	})
}
