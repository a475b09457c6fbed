// Package media follows which USB and SD slots have media mounted, derived
// from the slot state bytes in player status packets.
package media

import (
	"context"
	"sort"
	"sync"

	"github.com/marmos91/deckwatch/internal/logger"
	"github.com/marmos91/deckwatch/pkg/djlink"
	"github.com/marmos91/deckwatch/pkg/listeners"
	"github.com/marmos91/deckwatch/pkg/status"
)

var trackedSlots = []djlink.TrackSourceSlot{djlink.SlotUSB, djlink.SlotSD}

type slotEvent struct {
	slot    djlink.SlotReference
	mounted bool
}

// MountTracker turns slot state changes into mount and unmount events.
//
// Observe only records state and queues events; a delivery goroutine started
// by Start publishes them, so listeners may do archive I/O without holding
// up the status receive path. Events observed while stopped wait for the
// next Start.
type MountTracker struct {
	mu      sync.Mutex
	mounted map[djlink.SlotReference]struct{}
	pending []slotEvent
	wake    chan struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	mountedHub   *listeners.Hub[djlink.SlotReference]
	unmountedHub *listeners.Hub[djlink.SlotReference]
}

// NewMountTracker creates an empty, stopped tracker.
func NewMountTracker() *MountTracker {
	return &MountTracker{
		mounted:      make(map[djlink.SlotReference]struct{}),
		wake:         make(chan struct{}, 1),
		mountedHub:   listeners.NewHub[djlink.SlotReference]("media mounted"),
		unmountedHub: listeners.NewHub[djlink.SlotReference]("media unmounted"),
	}
}

// Start launches event delivery. Starting a running tracker does nothing.
func (m *MountTracker) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.deliverLoop(ctx, m.done)
}

// Stop delivers whatever is still queued and stops delivery.
func (m *MountTracker) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel, m.done = nil, nil
}

func (m *MountTracker) deliverLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			m.deliver()
			return
		case <-m.wake:
			m.deliver()
		}
	}
}

func (m *MountTracker) deliver() {
	m.mu.Lock()
	events := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, ev := range events {
		if ev.mounted {
			logger.Info("Media mounted", logger.KeyPlayer, int(ev.slot.Player), logger.KeySlot, ev.slot.Slot.String())
			m.mountedHub.Publish(ev.slot)
		} else {
			logger.Info("Media unmounted", logger.KeyPlayer, int(ev.slot.Player), logger.KeySlot, ev.slot.Slot.String())
			m.unmountedHub.Publish(ev.slot)
		}
	}
}

// enqueueLocked queues events; m.mu must be held.
func (m *MountTracker) enqueueLocked(events ...slotEvent) {
	if len(events) == 0 {
		return
	}
	m.pending = append(m.pending, events...)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Mounted delivers slots that just received media.
func (m *MountTracker) Mounted() *listeners.Hub[djlink.SlotReference] { return m.mountedHub }

// Unmounted delivers slots whose media was removed.
func (m *MountTracker) Unmounted() *listeners.Hub[djlink.SlotReference] { return m.unmountedHub }

// Observe records the slot states carried by u. Mixer updates are ignored.
func (m *MountTracker) Observe(u status.Update) {
	if u.Kind != status.KindCDJ {
		return
	}

	var events []slotEvent
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, slot := range trackedSlots {
		ref := djlink.SlotReference{Player: u.Device, Slot: slot}
		_, was := m.mounted[ref]
		now := u.MediaMounted(slot)
		switch {
		case now && !was:
			m.mounted[ref] = struct{}{}
			events = append(events, slotEvent{slot: ref, mounted: true})
		case !now && was:
			delete(m.mounted, ref)
			events = append(events, slotEvent{slot: ref})
		}
	}
	m.enqueueLocked(events...)
}

// DeviceLost unmounts every slot of player.
func (m *MountTracker) DeviceLost(player djlink.DeviceID) {
	var events []slotEvent
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, slot := range trackedSlots {
		ref := djlink.SlotReference{Player: player, Slot: slot}
		if _, ok := m.mounted[ref]; ok {
			delete(m.mounted, ref)
			events = append(events, slotEvent{slot: ref})
		}
	}
	m.enqueueLocked(events...)
}

// IsMounted reports whether ref currently holds media.
func (m *MountTracker) IsMounted(ref djlink.SlotReference) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.mounted[ref]
	return ok
}

// MountedSlots lists the mounted slots ordered by player then slot.
func (m *MountTracker) MountedSlots() []djlink.SlotReference {
	m.mu.Lock()
	out := make([]djlink.SlotReference, 0, len(m.mounted))
	for ref := range m.mounted {
		out = append(out, ref)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Player != out[j].Player {
			return out[i].Player < out[j].Player
		}
		return out[i].Slot < out[j].Slot
	})
	return out
}
