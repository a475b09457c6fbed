package devices

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/deckwatch/pkg/djlink"
	"github.com/marmos91/deckwatch/pkg/lifecycle"
)

func announcementPacket(name string, number byte, ip net.IP) []byte {
	p := make([]byte, announcementLength)
	copy(p, djlink.Header)
	p[djlink.KindOffset] = djlink.KindAnnouncement
	copy(p[nameOffset:], name)
	p[numberOffset] = number
	copy(p[macOffset:], []byte{0x00, 0xe0, 0x36, 0x01, 0x02, number})
	copy(p[ipOffset:], ip.To4())
	return p
}

func TestParseAnnouncement(t *testing.T) {
	ts := time.Unix(1000, 0)

	t.Run("valid", func(t *testing.T) {
		ann, err := ParseAnnouncement(announcementPacket("CDJ-2000nexus", 3, net.IPv4(10, 0, 0, 3)), ts)
		require.NoError(t, err)
		assert.Equal(t, "CDJ-2000nexus", ann.Name)
		assert.Equal(t, djlink.DeviceID(3), ann.Number)
		assert.Equal(t, "10.0.0.3", ann.Address.String())
		assert.Equal(t, "00:e0:36:01:02:03", ann.MAC.String())
		assert.Equal(t, ts, ann.Timestamp)
		assert.False(t, ann.IsMixer())
	})

	t.Run("mixer", func(t *testing.T) {
		ann, err := ParseAnnouncement(announcementPacket("DJM-900nexus", 0x21, net.IPv4(10, 0, 0, 33)), ts)
		require.NoError(t, err)
		assert.True(t, ann.IsMixer())
	})

	tests := []struct {
		name   string
		packet func() []byte
	}{
		{"no header", func() []byte { return make([]byte, announcementLength) }},
		{"wrong kind", func() []byte {
			p := announcementPacket("x", 1, net.IPv4(1, 1, 1, 1))
			p[djlink.KindOffset] = djlink.KindCDJStatus
			return p
		}},
		{"short", func() []byte { return announcementPacket("x", 1, net.IPv4(1, 1, 1, 1))[:0x30] }},
		{"device zero", func() []byte { return announcementPacket("x", 0, net.IPv4(1, 1, 1, 1)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAnnouncement(tt.packet(), ts)
			assert.True(t, djlink.IsDecodeError(err), "got %v", err)
		})
	}
}

type recorder struct {
	mu    sync.Mutex
	found []djlink.DeviceID
	lost  []djlink.DeviceID
}

func record(r *Registry) *recorder {
	rec := &recorder{}
	r.Found().Subscribe(func(d Device) {
		rec.mu.Lock()
		rec.found = append(rec.found, d.Number)
		rec.mu.Unlock()
	})
	r.Lost().Subscribe(func(d Device) {
		rec.mu.Lock()
		rec.lost = append(rec.lost, d.Number)
		rec.mu.Unlock()
	})
	return rec
}

func (rec *recorder) counts() (int, int) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.found), len(rec.lost)
}

func ann(number djlink.DeviceID, ts time.Time) Announcement {
	return Announcement{Name: "CDJ", Number: number, Address: net.IPv4(10, 0, 0, byte(number)), Timestamp: ts}
}

func startRegistry(t *testing.T) *Registry {
	t.Helper()
	// A long sweep interval keeps the background sweep out of the way; tests
	// drive sweep directly.
	r := NewRegistry(Config{KeepaliveTimeout: 5 * time.Second, SweepInterval: time.Hour})
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)
	return r
}

func TestFoundFiresOncePerTransition(t *testing.T) {
	r := startRegistry(t)
	rec := record(r)
	t0 := time.Unix(0, 0)

	r.NoteAnnouncement(ann(2, t0))
	r.NoteAnnouncement(ann(2, t0.Add(time.Second)))
	r.NoteAnnouncement(ann(2, t0.Add(2*time.Second)))

	found, lost := rec.counts()
	assert.Equal(t, 1, found)
	assert.Equal(t, 0, lost)

	d, ok := r.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, t0.Add(2*time.Second), d.Timestamp)
	assert.Equal(t, t0, d.FirstSeen)
}

func TestSweepExpiresSilentDevices(t *testing.T) {
	r := startRegistry(t)
	rec := record(r)
	t0 := time.Unix(0, 0)

	r.NoteAnnouncement(ann(1, t0))
	r.NoteAnnouncement(ann(2, t0.Add(4*time.Second)))

	r.sweep(t0.Add(6 * time.Second))
	_, lost := rec.counts()
	assert.Equal(t, 1, lost)
	_, ok := r.Lookup(1)
	assert.False(t, ok)
	_, ok = r.Lookup(2)
	assert.True(t, ok)

	// Already expired: no second lost event.
	r.sweep(t0.Add(7 * time.Second))
	_, lost = rec.counts()
	assert.Equal(t, 1, lost)

	// Re-announcing after loss is a new transition.
	r.NoteAnnouncement(ann(1, t0.Add(8*time.Second)))
	found, _ := rec.counts()
	assert.Equal(t, 3, found)
}

func TestConcurrentAnnouncementsFireFoundOnce(t *testing.T) {
	r := startRegistry(t)
	var found atomic.Int32
	var inFlight atomic.Int32
	var overlapped atomic.Bool
	r.Found().Subscribe(func(Device) {
		if inFlight.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(time.Millisecond)
		found.Add(1)
		inFlight.Add(-1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.NoteAnnouncement(ann(djlink.DeviceID(i%4+1), time.Now()))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(4), found.Load())
	assert.False(t, overlapped.Load(), "found events delivered concurrently")
	assert.Len(t, r.Devices(), 4)
}

func TestStopReportsRemainingDevicesLost(t *testing.T) {
	r := NewRegistry(Config{SweepInterval: time.Hour})
	require.NoError(t, r.Start(context.Background()))
	rec := record(r)

	var stopped atomic.Bool
	r.Participant().Subscribe(func(ev lifecycle.Event) {
		if !ev.Running {
			stopped.Store(true)
		}
	})

	r.NoteAnnouncement(ann(1, time.Now()))
	r.NoteAnnouncement(ann(3, time.Now()))
	r.Stop()

	_, lost := rec.counts()
	assert.Equal(t, 2, lost)
	assert.Empty(t, r.Devices())
	assert.True(t, stopped.Load())
	assert.False(t, r.IsRunning())

	r.NoteAnnouncement(ann(4, time.Now()))
	assert.Empty(t, r.Devices(), "announcements ignored while stopped")

	r.Stop()
	_, lost = rec.counts()
	assert.Equal(t, 2, lost)
}

func TestDevicesSorted(t *testing.T) {
	r := startRegistry(t)
	for _, n := range []djlink.DeviceID{4, 1, 3} {
		r.NoteAnnouncement(ann(n, time.Now()))
	}
	var got []djlink.DeviceID
	for _, d := range r.Devices() {
		got = append(got, d.Number)
	}
	assert.Equal(t, []djlink.DeviceID{1, 3, 4}, got)
}

func TestHandlePacketIgnoresGarbage(t *testing.T) {
	r := startRegistry(t)
	from := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 9), Port: 50000}

	r.HandlePacket([]byte("nope"), from, time.Now())
	assert.Empty(t, r.Devices())

	r.HandlePacket(announcementPacket("XDJ", 2, net.IPv4(10, 0, 0, 2)), from, time.Now())
	assert.Len(t, r.Devices(), 1)
}

func TestBackgroundSweep(t *testing.T) {
	r := NewRegistry(Config{KeepaliveTimeout: 50 * time.Millisecond, SweepInterval: 10 * time.Millisecond})
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()
	rec := record(r)

	r.NoteAnnouncement(ann(5, time.Now()))
	require.Eventually(t, func() bool {
		_, lost := rec.counts()
		return lost == 1
	}, 2*time.Second, 10*time.Millisecond)
}
