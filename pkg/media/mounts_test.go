package media

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/deckwatch/pkg/djlink"
	"github.com/marmos91/deckwatch/pkg/status"
)

func cdj(player djlink.DeviceID, usb, sd byte) status.Update {
	return status.Update{Kind: status.KindCDJ, Device: player, USBState: usb, SDState: sd}
}

type slotRecorder struct {
	mu    sync.Mutex
	slots []djlink.SlotReference
}

func (r *slotRecorder) add(s djlink.SlotReference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots = append(r.slots, s)
}

func (r *slotRecorder) all() []djlink.SlotReference {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]djlink.SlotReference(nil), r.slots...)
}

func startTracker(t *testing.T) *MountTracker {
	t.Helper()
	m := NewMountTracker()
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return m
}

func TestMountTransitions(t *testing.T) {
	m := startTracker(t)
	mounted, unmounted := &slotRecorder{}, &slotRecorder{}
	m.Mounted().Subscribe(mounted.add)
	m.Unmounted().Subscribe(unmounted.add)

	usb := djlink.SlotReference{Player: 2, Slot: djlink.SlotUSB}
	sd := djlink.SlotReference{Player: 2, Slot: djlink.SlotSD}

	m.Observe(cdj(2, 0, status.MediaEmpty))
	m.Observe(cdj(2, 0, status.MediaEmpty))
	assert.True(t, m.IsMounted(usb))
	assert.False(t, m.IsMounted(sd))
	require.Eventually(t, func() bool { return len(mounted.all()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []djlink.SlotReference{usb}, mounted.all())

	m.Observe(cdj(2, status.MediaEmpty, 0))
	assert.Equal(t, []djlink.SlotReference{sd}, m.MountedSlots())
	require.Eventually(t, func() bool { return len(mounted.all()) == 2 && len(unmounted.all()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []djlink.SlotReference{usb, sd}, mounted.all())
	assert.Equal(t, []djlink.SlotReference{usb}, unmounted.all())
}

func TestMixerUpdatesIgnored(t *testing.T) {
	m := NewMountTracker()
	m.Observe(status.Update{Kind: status.KindMixer, Device: 0x21})
	assert.Empty(t, m.MountedSlots())
}

func TestDeviceLostUnmountsPlayer(t *testing.T) {
	m := NewMountTracker()
	unmounted := &slotRecorder{}
	m.Unmounted().Subscribe(unmounted.add)

	m.Observe(cdj(1, 0, 0))
	m.Observe(cdj(3, 0, status.MediaEmpty))
	m.DeviceLost(1)
	m.DeviceLost(1)
	assert.Equal(t, []djlink.SlotReference{{Player: 3, Slot: djlink.SlotUSB}}, m.MountedSlots())
	assert.Empty(t, unmounted.all(), "nothing is delivered before Start")

	// Stop delivers what is still queued.
	m.Start(context.Background())
	m.Stop()
	got := unmounted.all()
	assert.Len(t, got, 2)
	for _, r := range got {
		assert.Equal(t, djlink.DeviceID(1), r.Player)
	}
}

func TestSlowListenerDoesNotBlockObserve(t *testing.T) {
	m := startTracker(t)
	release := make(chan struct{})
	unmounted := &slotRecorder{}
	m.Unmounted().Subscribe(func(s djlink.SlotReference) {
		<-release
		unmounted.add(s)
	})

	m.Observe(cdj(4, 0, status.MediaEmpty))

	start := time.Now()
	m.Observe(cdj(4, status.MediaEmpty, status.MediaEmpty))
	m.Observe(cdj(4, 0, status.MediaEmpty))
	m.Observe(cdj(4, status.MediaEmpty, status.MediaEmpty))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return len(unmounted.all()) == 2 }, time.Second, time.Millisecond)
}
