package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/deckwatch/internal/cli/prompt"
	"github.com/marmos91/deckwatch/pkg/config"
)

var (
	initForce          bool
	initNonInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file",
	Long: `Create a configuration file, asking for the network interface, ports,
finders and API settings. With --yes the defaults are written as they are.

Examples:
  deckwatch config init
  deckwatch config init --yes --config ./deckwatch.yaml`,
	RunE: runConfigInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing configuration file")
	initCmd.Flags().BoolVarP(&initNonInteractive, "yes", "y", false, "Write defaults without prompting")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	cfg := config.GetDefaultConfig()
	if !initNonInteractive {
		if err := runWizard(cfg); err != nil {
			if prompt.IsAborted(err) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			return err
		}
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("generated configuration is invalid: %w", err)
	}
	if err := config.SaveConfig(cfg, path); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Review it with: deckwatch config show")
	_, _ = fmt.Fprintln(out, "  2. Start observing with: deckwatch start")
	return nil
}

func runWizard(cfg *config.Config) error {
	iface, err := prompt.Select("Network interface", interfaceOptions())
	if err != nil {
		return err
	}
	cfg.Network.Interface = iface

	if cfg.Network.AnnouncePort, err = prompt.InputPort("Announcement port", cfg.Network.AnnouncePort); err != nil {
		return err
	}
	if cfg.Network.StatusPort, err = prompt.InputPort("Status port", cfg.Network.StatusPort); err != nil {
		return err
	}
	if cfg.Network.KeepaliveTimeout, err = prompt.InputDuration("Device keep-alive timeout", cfg.Network.KeepaliveTimeout); err != nil {
		return err
	}
	cfg.Network.SweepInterval = cfg.Network.KeepaliveTimeout / 5

	if cfg.Finders.Enabled, err = prompt.MultiSelect("Finders", finderOptions(), cfg.Finders.Enabled); err != nil {
		return err
	}
	if cfg.Finders.Enabled == nil {
		// nil would load back as "all finders"
		cfg.Finders.Enabled = []string{}
	}
	if cfg.Finders.Passive, err = prompt.Confirm("Passive mode (never query players)", false); err != nil {
		return err
	}
	if cfg.Archives.Directory, err = prompt.Input("Archive directory (empty for none)", ""); err != nil {
		return err
	}

	if cfg.API.Enabled, err = prompt.Confirm("Enable status API", true); err != nil {
		return err
	}
	if cfg.API.Enabled {
		if cfg.API.Port, err = prompt.InputPort("API port", cfg.API.Port); err != nil {
			return err
		}
		protect, err := prompt.Confirm("Require bearer tokens", true)
		if err != nil {
			return err
		}
		if protect {
			if cfg.API.JWTSecret, err = generateSecret(); err != nil {
				return err
			}
		}
	}

	if cfg.Metrics.Enabled, err = prompt.Confirm("Enable Prometheus metrics", false); err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port == 0 {
			cfg.Metrics.Port = 9090
		}
		if cfg.Metrics.Port, err = prompt.InputPort("Metrics port", cfg.Metrics.Port); err != nil {
			return err
		}
	}
	return nil
}

// interfaceOptions lists up interfaces with an IPv4 address, after "any".
func interfaceOptions() []prompt.Option {
	opts := []prompt.Option{{Label: "any", Value: "", Description: "accept packets from every network"}}
	ifaces, err := net.Interfaces()
	if err != nil {
		return opts
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				opts = append(opts, prompt.Option{Label: iface.Name, Value: iface.Name, Description: ipnet.String()})
				break
			}
		}
	}
	return opts
}

func finderOptions() []prompt.Option {
	return []prompt.Option{
		{Label: "Track metadata", Value: config.FinderMetadata},
		{Label: "Album art", Value: config.FinderArtwork},
		{Label: "Waveform previews", Value: config.FinderWaveform},
		{Label: "Beat grids", Value: config.FinderBeatGrid},
	}
}

// generateSecret returns 32 random bytes, hex encoded.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
