package runtime

import (
	"context"
	"fmt"

	"github.com/marmos91/deckwatch/internal/logger"
	"github.com/marmos91/deckwatch/pkg/archive"
	"github.com/marmos91/deckwatch/pkg/archive/sqlstore"
	"github.com/marmos91/deckwatch/pkg/config"
)

// OpenArchive opens one configured archive source. Finders only read, so
// badger directories are opened read-only unless writable is set.
func OpenArchive(ctx context.Context, src config.ArchiveSourceConfig, writable bool) (archive.Archive, error) {
	switch src.Type {
	case config.ArchiveZip:
		return archive.OpenZip(src.Path)
	case config.ArchiveBadger:
		return archive.OpenBadger(src.Path, !writable)
	case config.ArchiveS3:
		return archive.OpenS3(ctx, src.S3)
	case config.ArchiveSQL:
		cfg := src.SQL
		cfg.ApplyDefaults()
		return sqlstore.Open(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown archive type: %s", src.Type)
	}
}

// openArchives opens the configured sources. Slot-pinned sources are
// attached to their slot and never detached on unmount; the rest are
// shared fallbacks in configuration order.
func (rt *Runtime) openArchives(ctx context.Context) error {
	var shared, opened []archive.Archive
	type pinnedArchive struct {
		name string
		ar   archive.Archive
	}
	var pinned []pinnedArchive

	for i, src := range rt.config.Archives.Sources {
		ar, err := OpenArchive(ctx, src, false)
		if err != nil {
			for _, o := range opened {
				_ = o.Close()
			}
			return fmt.Errorf("open archive %d (%s): %w", i, src.Type, err)
		}
		opened = append(opened, ar)
		if src.Slot == "" {
			shared = append(shared, ar)
		} else {
			pinned = append(pinned, pinnedArchive{name: src.Slot, ar: ar})
		}
		logger.Info("Archive opened", logger.KeyArchive, ar.Name(), logger.KeySlot, src.Slot)
	}

	rt.attachments = archive.NewAttachments(shared...)
	for _, p := range pinned {
		slot, _ := archive.ParseSlotName(p.name)
		rt.attachments.Pin(slot, p.ar)
	}

	if dir := rt.config.Archives.Directory; dir != "" {
		rt.directory = archive.NewDirectory(dir, rt.attachments)
	}
	return nil
}
