package config

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/deckwatch/internal/telemetry"
	"github.com/marmos91/deckwatch/pkg/archive"
)

var (
	validateOnce    sync.Once
	structValidator *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		structValidator = validator.New(validator.WithRequiredStructEnabled())
	})
	return structValidator
}

// Validate checks struct tags first, then the rules that span fields.
func Validate(cfg *Config) error {
	if err := getValidator().Struct(cfg); err != nil {
		return err
	}

	var errs []error
	if cfg.Telemetry.Profiling.Enabled {
		known := make(map[string]bool)
		for _, n := range telemetry.ProfileTypeNames() {
			known[n] = true
		}
		for _, t := range cfg.Telemetry.Profiling.ProfileTypes {
			if !known[t] {
				errs = append(errs, fmt.Errorf("telemetry.profiling.profile_types: unknown profile type %q", t))
			}
		}
	}
	if cfg.Metrics.Enabled && cfg.API.Enabled && cfg.Metrics.Port == cfg.API.Port {
		errs = append(errs, fmt.Errorf("metrics.port and api.port are both %d", cfg.API.Port))
	}
	if cfg.Network.Interface != "" {
		if _, err := net.InterfaceByName(cfg.Network.Interface); err != nil {
			errs = append(errs, fmt.Errorf("network.interface: %w", err))
		}
	}
	if len(cfg.Finders.Enabled) > 0 && !cfg.Finders.IsEnabled(FinderMetadata) {
		errs = append(errs, errors.New("finders.enabled: artwork, waveform and beat grid finders need the metadata finder"))
	}
	for i, src := range cfg.Archives.Sources {
		if err := validateArchiveSource(src); err != nil {
			errs = append(errs, fmt.Errorf("archives.sources[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func validateArchiveSource(src ArchiveSourceConfig) error {
	if src.Slot != "" {
		if _, ok := archive.ParseSlotName(src.Slot); !ok {
			return fmt.Errorf("slot %q is not of the form <player>-<slot>, e.g. 2-usb", src.Slot)
		}
	}
	switch src.Type {
	case ArchiveZip, ArchiveBadger:
		if src.Path == "" {
			return fmt.Errorf("%s archive needs a path", src.Type)
		}
	case ArchiveS3:
		if src.S3.Bucket == "" {
			return errors.New("s3 archive needs a bucket")
		}
	case ArchiveSQL:
		return src.SQL.Validate()
	}
	return nil
}
