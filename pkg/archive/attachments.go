package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/deckwatch/internal/logger"
	"github.com/marmos91/deckwatch/pkg/djlink"
)

// Attachments maps media slots to the archive holding their content.
// A slot has at most one archive; a shared archive may serve many slots.
type Attachments struct {
	mu       sync.RWMutex
	archives map[djlink.SlotReference]Archive
	pinned   map[djlink.SlotReference]bool
	shared   []Archive
}

// NewAttachments returns an empty set. shared archives are consulted for
// every slot that has no archive of its own.
func NewAttachments(shared ...Archive) *Attachments {
	return &Attachments{
		archives: make(map[djlink.SlotReference]Archive),
		pinned:   make(map[djlink.SlotReference]bool),
		shared:   shared,
	}
}

// Pin attaches ar to slot for good: later Attach and Detach calls for slot
// are ignored until Close.
func (a *Attachments) Pin(slot djlink.SlotReference, ar Archive) {
	a.Attach(slot, ar)
	a.mu.Lock()
	a.pinned[slot] = true
	a.mu.Unlock()
}

// IsPinned reports whether slot holds a pinned archive.
func (a *Attachments) IsPinned(slot djlink.SlotReference) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pinned[slot]
}

// Attach sets the archive for slot, closing any previous one. A pinned
// slot keeps its archive and ar is closed instead.
func (a *Attachments) Attach(slot djlink.SlotReference, ar Archive) {
	a.mu.Lock()
	if a.pinned[slot] {
		a.mu.Unlock()
		if ar != a.archives[slot] {
			_ = ar.Close()
		}
		return
	}
	prev := a.archives[slot]
	a.archives[slot] = ar
	a.mu.Unlock()

	if prev != nil && prev != ar {
		_ = prev.Close()
	}
	logger.Info("Archive attached", logger.KeySlot, slot.String(), logger.KeyArchive, ar.Name())
}

// Detach removes and closes the archive for slot. It reports whether one
// was attached.
func (a *Attachments) Detach(slot djlink.SlotReference) bool {
	a.mu.Lock()
	if a.pinned[slot] {
		a.mu.Unlock()
		return false
	}
	ar, ok := a.archives[slot]
	delete(a.archives, slot)
	a.mu.Unlock()

	if !ok {
		return false
	}
	if err := ar.Close(); err != nil {
		logger.Warn("Error closing archive", logger.KeyArchive, ar.Name(), logger.KeyError, err)
	}
	logger.Info("Archive detached", logger.KeySlot, slot.String(), logger.KeyArchive, ar.Name())
	return true
}

// For returns the archive serving slot.
func (a *Attachments) For(slot djlink.SlotReference) (Archive, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if ar, ok := a.archives[slot]; ok {
		return ar, true
	}
	if len(a.shared) > 0 {
		return a.shared[0], true
	}
	return nil, false
}

// Slots returns the slots with their own archive, sorted.
func (a *Attachments) Slots() []djlink.SlotReference {
	a.mu.RLock()
	out := make([]djlink.SlotReference, 0, len(a.archives))
	for s := range a.archives {
		out = append(out, s)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Player != out[j].Player {
			return out[i].Player < out[j].Player
		}
		return out[i].Slot < out[j].Slot
	})
	return out
}

// Close detaches everything and closes the shared archives.
func (a *Attachments) Close() error {
	a.mu.Lock()
	archives := a.archives
	shared := a.shared
	a.archives = make(map[djlink.SlotReference]Archive)
	a.pinned = make(map[djlink.SlotReference]bool)
	a.shared = nil
	a.mu.Unlock()

	var errs []error
	for _, ar := range archives {
		errs = append(errs, ar.Close())
	}
	for _, ar := range shared {
		errs = append(errs, ar.Close())
	}
	return errors.Join(errs...)
}

var slotName = regexp.MustCompile(`^(\d{1,3})-([a-z]+)$`)

// ParseSlotName parses names like "3-usb".
func ParseSlotName(name string) (djlink.SlotReference, bool) {
	m := slotName.FindStringSubmatch(name)
	if m == nil {
		return djlink.SlotReference{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 || n > 255 {
		return djlink.SlotReference{}, false
	}
	slot, err := djlink.ParseSlot(m[2])
	if err != nil || slot == djlink.SlotNoTrack {
		return djlink.SlotReference{}, false
	}
	return djlink.SlotReference{Player: djlink.DeviceID(n), Slot: slot}, true
}

// SlotForFile parses names like "3-usb.zip".
func SlotForFile(name string) (djlink.SlotReference, bool) {
	base, ok := strings.CutSuffix(filepath.Base(name), ".zip")
	if !ok {
		return djlink.SlotReference{}, false
	}
	return ParseSlotName(base)
}

// FileForSlot is the inverse of SlotForFile.
func FileForSlot(slot djlink.SlotReference) string {
	return fmt.Sprintf("%d-%s.zip", slot.Player, slot.Slot)
}

// Directory attaches zip archives found in a directory, one per slot.
type Directory struct {
	dir         string
	attachments *Attachments
}

// NewDirectory returns a Directory feeding attachments.
func NewDirectory(dir string, attachments *Attachments) *Directory {
	return &Directory{dir: dir, attachments: attachments}
}

// AttachSlot opens the archive file for slot if present.
func (d *Directory) AttachSlot(slot djlink.SlotReference) bool {
	return d.attachFile(filepath.Join(d.dir, FileForSlot(slot)))
}

// Scan attaches every archive file currently present and returns how many
// were attached.
func (d *Directory) Scan() (int, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return 0, fmt.Errorf("scan archive directory %s: %w", d.dir, err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if d.attachFile(filepath.Join(d.dir, e.Name())) {
			n++
		}
	}
	return n, nil
}

func (d *Directory) attachFile(path string) bool {
	slot, ok := SlotForFile(path)
	if !ok {
		return false
	}
	ar, err := OpenZip(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Unable to open archive file", logger.KeyPath, path, logger.KeyError, err)
		}
		return false
	}
	d.attachments.Attach(slot, ar)
	return true
}

// Watch attaches archive files as they appear and detaches them when they
// are removed, until ctx is done.
func (d *Directory) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(d.dir); err != nil {
		return fmt.Errorf("failed to watch archive directory: %w", err)
	}
	if _, err := d.Scan(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			slot, match := SlotForFile(event.Name)
			if !match {
				continue
			}
			switch {
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				d.attachments.Detach(slot)
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				d.attachFile(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}
