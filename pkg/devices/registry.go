package devices

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/deckwatch/internal/logger"
	"github.com/marmos91/deckwatch/pkg/djlink"
	"github.com/marmos91/deckwatch/pkg/lifecycle"
	"github.com/marmos91/deckwatch/pkg/listeners"
	"github.com/marmos91/deckwatch/pkg/metrics"
)

// DefaultKeepaliveTimeout is how long a device may stay silent before it is
// considered lost.
const DefaultKeepaliveTimeout = 10 * time.Second

// Config configures a Registry.
type Config struct {
	KeepaliveTimeout time.Duration

	// SweepInterval defaults to a fifth of KeepaliveTimeout.
	SweepInterval time.Duration

	Metrics *metrics.DeviceMetrics
}

// Registry maintains the set of live devices.
//
// Found fires exactly once when a device goes from absent to present and
// Lost exactly once when it expires or the registry stops. Both are
// delivered while holding a single delivery lock, so no two transitions are
// ever delivered concurrently.
type Registry struct {
	config Config

	mu      sync.RWMutex
	devices map[djlink.DeviceID]*Device
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// deliverMu serializes every found/lost transition with its delivery.
	deliverMu sync.Mutex

	found *listeners.Hub[Device]
	lost  *listeners.Hub[Device]
	life  *lifecycle.Participant
}

// NewRegistry creates a stopped registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = DefaultKeepaliveTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.KeepaliveTimeout / 5
	}
	return &Registry{
		config:  cfg,
		devices: make(map[djlink.DeviceID]*Device),
		found:   listeners.NewHub[Device]("device found"),
		lost:    listeners.NewHub[Device]("device lost"),
		life:    lifecycle.NewParticipant("device registry"),
	}
}

// Found delivers devices that just appeared.
func (r *Registry) Found() *listeners.Hub[Device] { return r.found }

// Lost delivers devices that expired or were dropped on Stop.
func (r *Registry) Lost() *listeners.Hub[Device] { return r.lost }

// Participant announces registry start and stop to dependents.
func (r *Registry) Participant() *lifecycle.Participant { return r.life }

// IsRunning reports whether the registry accepts announcements.
func (r *Registry) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Start begins the expiry sweep. Starting a running registry is a no-op.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	r.mu.Unlock()

	go r.sweepLoop(sweepCtx, r.done)

	logger.Info("Device registry started",
		"keepalive_timeout", r.config.KeepaliveTimeout,
		"sweep_interval", r.config.SweepInterval)
	r.life.AnnounceStarted()
	return nil
}

// Stop halts the sweep and reports every remaining device as lost.
func (r *Registry) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done

	r.deliverMu.Lock()
	r.mu.Lock()
	remaining := make([]Device, 0, len(r.devices))
	for id, d := range r.devices {
		remaining = append(remaining, *d)
		delete(r.devices, id)
	}
	r.mu.Unlock()
	for _, d := range remaining {
		r.publishLost(d)
	}
	r.deliverMu.Unlock()

	r.life.AnnounceStopped()
}

// HandlePacket is the transport handler for the announcement port.
func (r *Registry) HandlePacket(packet []byte, from *net.UDPAddr, received time.Time) {
	ann, err := ParseAnnouncement(packet, received)
	if err != nil {
		logger.Debug("Ignoring packet on announcement port",
			logger.KeyAddress, from.String(), logger.KeyLength, len(packet), logger.KeyError, err)
		return
	}
	r.NoteAnnouncement(ann)
}

// NoteAnnouncement refreshes the device's liveness, reporting it as found
// if it was absent. Announcements are ignored while the registry is stopped.
func (r *Registry) NoteAnnouncement(ann Announcement) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	if d, ok := r.devices[ann.Number]; ok {
		d.Announcement = ann
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	if d, ok := r.devices[ann.Number]; ok {
		// Another announcement won the race to insert.
		d.Announcement = ann
		r.mu.Unlock()
		return
	}
	d := &Device{Announcement: ann, FirstSeen: ann.Timestamp}
	r.devices[ann.Number] = d
	snapshot := *d
	r.mu.Unlock()

	logger.Info("Device found",
		logger.KeyPlayer, int(ann.Number),
		logger.KeyName, ann.Name,
		logger.KeyAddress, ann.Address.String())
	r.config.Metrics.RecordFound()
	r.found.Publish(snapshot)
}

// Devices returns the live devices ordered by device number.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Lookup returns the live device with number id.
func (r *Registry) Lookup(id djlink.DeviceID) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

func (r *Registry) sweepLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

// sweep expires devices whose last announcement is older than the
// keepalive timeout as of now.
func (r *Registry) sweep(now time.Time) {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	r.mu.Lock()
	var expired []Device
	for id, d := range r.devices {
		if now.Sub(d.Timestamp) > r.config.KeepaliveTimeout {
			expired = append(expired, *d)
			delete(r.devices, id)
		}
	}
	r.mu.Unlock()

	for _, d := range expired {
		r.publishLost(d)
	}
}

func (r *Registry) publishLost(d Device) {
	logger.Info("Device lost",
		logger.KeyPlayer, int(d.Number),
		logger.KeyName, d.Name,
		"last_seen", d.Timestamp.Format(time.RFC3339))
	r.config.Metrics.RecordLost()
	r.lost.Publish(d)
}
