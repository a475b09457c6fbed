package archive

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zip"
)

// ZipArchive serves entries from a zip file, the format players' exported
// metadata caches use.
type ZipArchive struct {
	path string

	mu      sync.RWMutex
	reader  *zip.ReadCloser
	entries map[string]*zip.File
}

// OpenZip opens the zip file at path and indexes its entries.
func OpenZip(path string) (*ZipArchive, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip archive %s: %w", path, err)
	}
	entries := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		entries[f.Name] = f
	}
	return &ZipArchive{path: path, reader: r, entries: entries}, nil
}

// Name implements Archive.
func (z *ZipArchive) Name() string { return "zip:" + z.path }

// Lookup implements Archive.
func (z *ZipArchive) Lookup(_ context.Context, kind Kind, id uint32) ([]byte, bool, error) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	if z.reader == nil {
		return nil, false, ErrClosed
	}

	f, ok := z.entries[EntryName(kind, id)]
	if !ok {
		return nil, false, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, false, fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, false, fmt.Errorf("read entry %s: %w", f.Name, err)
	}
	return data, true, nil
}

// Walk calls fn for every well-formed entry, in archive order.
func (z *ZipArchive) Walk(ctx context.Context, fn func(kind Kind, id uint32, data []byte) error) error {
	z.mu.RLock()
	if z.reader == nil {
		z.mu.RUnlock()
		return ErrClosed
	}
	files := z.reader.File
	z.mu.RUnlock()

	for _, f := range files {
		kind, id, err := ParseEntryName(f.Name)
		if err != nil {
			continue
		}
		data, _, err := z.Lookup(ctx, kind, id)
		if err != nil {
			return err
		}
		if err := fn(kind, id, data); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Archive.
func (z *ZipArchive) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.reader == nil {
		return nil
	}
	err := z.reader.Close()
	z.reader = nil
	z.entries = nil
	return err
}

// WriteZip writes entries into a new zip at w. Used to export an archive.
func WriteZip(w io.Writer, entries map[string][]byte) error {
	zw := zip.NewWriter(w)
	for name, data := range entries {
		fw, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("create zip entry %s: %w", name, err)
		}
		if _, err := fw.Write(data); err != nil {
			return fmt.Errorf("write zip entry %s: %w", name, err)
		}
	}
	return zw.Close()
}
