// Package archive provides read-mostly, content-addressed stores of
// previously resolved track resources. An archive is attached to one media
// slot and answers lookups by content id so finders can skip the network.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Kind selects which resource an entry holds.
type Kind string

const (
	KindMetadata Kind = "metadata"
	KindArtwork  Kind = "art"
	KindWaveform Kind = "wave"
	KindBeatGrid Kind = "beat"
)

// Kinds lists every kind in a stable order.
var Kinds = []Kind{KindMetadata, KindArtwork, KindWaveform, KindBeatGrid}

var extensions = map[Kind]string{
	KindMetadata: ".json",
	KindArtwork:  ".jpg",
	KindWaveform: ".bin",
	KindBeatGrid: ".bin",
}

// ErrClosed is returned by operations on a closed archive.
var ErrClosed = errors.New("archive is closed")

// Archive looks up stored entries.
type Archive interface {
	// Lookup returns the entry for id, or ok=false when absent.
	Lookup(ctx context.Context, kind Kind, id uint32) (data []byte, ok bool, err error)

	// Name describes the archive in logs.
	Name() string

	Close() error
}

// Writer is an archive that can also store entries.
type Writer interface {
	Archive
	Store(ctx context.Context, kind Kind, id uint32, data []byte) error
}

// EntryName returns the path of an entry, e.g. "art/42.jpg".
func EntryName(kind Kind, id uint32) string {
	return path.Join(string(kind), strconv.FormatUint(uint64(id), 10)+extensions[kind])
}

// ParseEntryName is the inverse of EntryName.
func ParseEntryName(name string) (Kind, uint32, error) {
	dir, file := path.Split(name)
	kind := Kind(strings.TrimSuffix(dir, "/"))
	ext, known := extensions[kind]
	if !known {
		return "", 0, fmt.Errorf("unknown archive entry kind in %q", name)
	}
	if !strings.HasSuffix(file, ext) {
		return "", 0, fmt.Errorf("archive entry %q: expected %s extension", name, ext)
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(file, ext), 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("archive entry %q: %w", name, err)
	}
	return kind, uint32(id), nil
}
