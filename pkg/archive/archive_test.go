package archive

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/deckwatch/pkg/djlink"
)

func writeZipFile(t *testing.T, path string, entries map[string][]byte) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteZip(&buf, entries))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestEntryNames(t *testing.T) {
	tests := []struct {
		kind Kind
		id   uint32
		want string
	}{
		{KindMetadata, 7, "metadata/7.json"},
		{KindArtwork, 42, "art/42.jpg"},
		{KindWaveform, 1, "wave/1.bin"},
		{KindBeatGrid, 4294967295, "beat/4294967295.bin"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, EntryName(tt.kind, tt.id))
			kind, id, err := ParseEntryName(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.id, id)
		})
	}

	for _, bad := range []string{"art/42.png", "covers/1.jpg", "art/x.jpg", "42.jpg", "beat/99999999999.bin"} {
		_, _, err := ParseEntryName(bad)
		assert.Error(t, err, bad)
	}
}

func TestZipArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "3-usb.zip")
	writeZipFile(t, path, map[string][]byte{
		"art/42.jpg":      []byte("jpeg"),
		"metadata/7.json": []byte(`{"title":"x"}`),
		"README":          []byte("ignored"),
	})

	z, err := OpenZip(path)
	require.NoError(t, err)
	ctx := context.Background()

	data, ok, err := z.Lookup(ctx, KindArtwork, 42)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("jpeg"), data)

	_, ok, err = z.Lookup(ctx, KindArtwork, 43)
	require.NoError(t, err)
	assert.False(t, ok)

	seen := map[Kind]uint32{}
	require.NoError(t, z.Walk(ctx, func(kind Kind, id uint32, _ []byte) error {
		seen[kind] = id
		return nil
	}))
	assert.Equal(t, map[Kind]uint32{KindArtwork: 42, KindMetadata: 7}, seen)

	require.NoError(t, z.Close())
	_, _, err = z.Lookup(ctx, KindArtwork, 42)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, z.Close())
}

func TestBadgerArchive(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := OpenBadger(dir, false)
	require.NoError(t, err)
	require.NoError(t, b.Store(ctx, KindWaveform, 9, []byte{1, 2, 3}))

	data, ok, err := b.Lookup(ctx, KindWaveform, 9)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, data)

	_, ok, err = b.Lookup(ctx, KindBeatGrid, 9)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, b.Close())

	ro, err := OpenBadger(dir, true)
	require.NoError(t, err)
	defer func() { _ = ro.Close() }()
	_, ok, err = ro.Lookup(ctx, KindWaveform, 9)
	require.NoError(t, err)
	assert.True(t, ok)
}

type stubArchive struct {
	name   string
	closed bool
}

func (s *stubArchive) Lookup(context.Context, Kind, uint32) ([]byte, bool, error) {
	return nil, false, nil
}
func (s *stubArchive) Name() string { return s.name }
func (s *stubArchive) Close() error { s.closed = true; return nil }

func TestAttachments(t *testing.T) {
	shared := &stubArchive{name: "shared"}
	a := NewAttachments(shared)
	usb := djlink.SlotReference{Player: 2, Slot: djlink.SlotUSB}
	sd := djlink.SlotReference{Player: 1, Slot: djlink.SlotSD}

	got, ok := a.For(usb)
	require.True(t, ok)
	assert.Same(t, shared, got)

	first := &stubArchive{name: "first"}
	second := &stubArchive{name: "second"}
	a.Attach(usb, first)
	a.Attach(sd, &stubArchive{name: "sd"})
	a.Attach(usb, second)
	assert.True(t, first.closed, "replaced archive should be closed")

	got, _ = a.For(usb)
	assert.Same(t, second, got)
	assert.Equal(t, []djlink.SlotReference{sd, usb}, a.Slots())

	assert.True(t, a.Detach(usb))
	assert.True(t, second.closed)
	assert.False(t, a.Detach(usb))

	require.NoError(t, a.Close())
	assert.True(t, shared.closed)
	_, ok = a.For(usb)
	assert.False(t, ok)
}

func TestPinnedSlotIgnoresAttachAndDetach(t *testing.T) {
	a := NewAttachments()
	usb := djlink.SlotReference{Player: 2, Slot: djlink.SlotUSB}
	pinned := &stubArchive{name: "pinned"}
	a.Pin(usb, pinned)
	assert.True(t, a.IsPinned(usb))

	other := &stubArchive{name: "other"}
	a.Attach(usb, other)
	assert.True(t, other.closed, "archive offered to a pinned slot should be closed")
	got, ok := a.For(usb)
	require.True(t, ok)
	assert.Same(t, pinned, got)

	assert.False(t, a.Detach(usb))
	assert.False(t, pinned.closed)

	require.NoError(t, a.Close())
	assert.True(t, pinned.closed)
	assert.False(t, a.IsPinned(usb))
}

func TestSlotForFile(t *testing.T) {
	slot, ok := SlotForFile("/tmp/archives/3-usb.zip")
	require.True(t, ok)
	assert.Equal(t, djlink.SlotReference{Player: 3, Slot: djlink.SlotUSB}, slot)
	assert.Equal(t, "3-usb.zip", FileForSlot(slot))

	for _, bad := range []string{"usb.zip", "0-usb.zip", "3-none.zip", "3-usb.tar", "3-floppy.zip", "300-sd.zip"} {
		_, ok := SlotForFile(bad)
		assert.False(t, ok, bad)
	}
}

func TestDirectoryScanAndWatch(t *testing.T) {
	dir := t.TempDir()
	writeZipFile(t, filepath.Join(dir, "1-sd.zip"), map[string][]byte{"art/1.jpg": {0xff}})
	writeZipFile(t, filepath.Join(dir, "notes.zip"), map[string][]byte{"art/1.jpg": {0xff}})

	a := NewAttachments()
	d := NewDirectory(dir, a)
	n, err := d.Scan()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Watch(ctx) }()

	usb := djlink.SlotReference{Player: 2, Slot: djlink.SlotUSB}
	// The watcher scans on start; give it a moment before adding files.
	time.Sleep(100 * time.Millisecond)
	writeZipFile(t, filepath.Join(dir, "2-usb.zip"), map[string][]byte{"art/5.jpg": {0xd8}})
	require.Eventually(t, func() bool {
		ar, ok := a.For(usb)
		if !ok {
			return false
		}
		_, found, _ := ar.Lookup(context.Background(), KindArtwork, 5)
		return found
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "2-usb.zip")))
	require.Eventually(t, func() bool {
		_, ok := a.For(usb)
		return !ok
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, a.Close())
}
