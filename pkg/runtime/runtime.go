// Package runtime builds every observer component from configuration, wires
// their subscriptions and runs them as one unit.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/deckwatch/internal/logger"
	"github.com/marmos91/deckwatch/pkg/archive"
	"github.com/marmos91/deckwatch/pkg/config"
	"github.com/marmos91/deckwatch/pkg/dbserver"
	"github.com/marmos91/deckwatch/pkg/devices"
	"github.com/marmos91/deckwatch/pkg/djlink"
	"github.com/marmos91/deckwatch/pkg/finder"
	"github.com/marmos91/deckwatch/pkg/media"
	"github.com/marmos91/deckwatch/pkg/metrics"
	"github.com/marmos91/deckwatch/pkg/status"
	"github.com/marmos91/deckwatch/pkg/track"
	"github.com/marmos91/deckwatch/pkg/transport"
)

// readyTimeout bounds how long Start waits for the UDP ports to bind.
const readyTimeout = 5 * time.Second

// Option customizes a Runtime.
type Option func(*options)

type options struct {
	connector dbserver.Connector
	registry  prometheus.Registerer
}

// WithConnector replaces the TCP connector used to reach player databases.
func WithConnector(c dbserver.Connector) Option {
	return func(o *options) { o.connector = c }
}

// WithMetrics records into reg instead of the process registry.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

type (
	metadataFinder = finder.Finder[status.Update, *track.Metadata]
	artworkFinder  = finder.Finder[track.MetadataChange, *track.AlbumArt]
	waveformFinder = finder.Finder[track.MetadataChange, *track.WaveformPreview]
	beatGridFinder = finder.Finder[track.MetadataChange, *track.BeatGrid]
)

// Runtime owns the observer: device registry, status decoder, mount
// tracker, database sessions, archives and the enabled finders.
//
// Subscriptions are wired once in New:
//
//	status packets -> decoder -> metadata finder, mount tracker
//	metadata changes -> artwork, waveform and beat grid finders
//	device lost -> sessions, mount tracker, finders
//	media unmounted -> finders, per-slot archives
//
// Nothing runs on the UDP receive goroutines past decoding and queueing:
// mount events have their own delivery goroutine and finders purge on
// their workers.
//
// Finders stop when whatever they depend on stops: the metadata finder
// follows the registry and the derived finders follow the metadata finder.
type Runtime struct {
	config *config.Config

	registry    *devices.Registry
	decoder     *status.Decoder
	mounts      *media.MountTracker
	sessions    *dbserver.SessionManager
	attachments *archive.Attachments
	directory   *archive.Directory
	accept      func(net.IP) bool

	metadata *metadataFinder
	artwork  *artworkFinder
	waveform *waveformFinder
	beatGrid *beatGridFinder
	finders  []finder.Controller

	mu        sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	listeners []*transport.UDPListener
}

// New builds a stopped runtime. Archives are opened here, so ctx bounds
// any remote archive setup.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		if reg := metrics.GetRegistry(); reg != nil {
			o.registry = reg
		}
	}

	accept, err := sourceFilter(cfg.Network.Interface)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		config: cfg,
		accept: accept,
	}

	var (
		deviceMetrics  *metrics.DeviceMetrics
		decoderMetrics *metrics.DecoderMetrics
		sessionMetrics *metrics.SessionMetrics
		finderMetrics  *metrics.FinderMetrics
	)
	if o.registry != nil {
		deviceMetrics = metrics.NewDeviceMetrics(o.registry)
		decoderMetrics = metrics.NewDecoderMetrics(o.registry)
		sessionMetrics = metrics.NewSessionMetrics(o.registry)
		finderMetrics = metrics.NewFinderMetrics(o.registry)
	}

	rt.registry = devices.NewRegistry(devices.Config{
		KeepaliveTimeout: cfg.Network.KeepaliveTimeout,
		SweepInterval:    cfg.Network.SweepInterval,
		Metrics:          deviceMetrics,
	})
	rt.decoder = status.NewDecoder(status.DecoderConfig{Metrics: decoderMetrics})
	rt.mounts = media.NewMountTracker()

	connector := o.connector
	if connector == nil {
		connector = dbserver.TCPConnector{
			Addresses: rt.address,
			Dial: dbserver.DialConfig{
				PortQueryPort:  cfg.DBServer.PortQueryPort,
				PosingAs:       djlink.DeviceID(cfg.DBServer.PosingAs),
				MaxMessageSize: int(cfg.DBServer.MaxMessageSize),
			},
		}
	}
	rt.sessions = dbserver.NewSessionManager(dbserver.ManagerConfig{
		Connector:      connector,
		ConnectTimeout: cfg.DBServer.ConnectTimeout,
		RequestTimeout: cfg.DBServer.RequestTimeout,
		IdleTimeout:    cfg.DBServer.IdleTimeout,
		Metrics:        sessionMetrics,
	})

	if err := rt.openArchives(ctx); err != nil {
		return nil, err
	}
	if err := rt.buildFinders(finderMetrics); err != nil {
		_ = rt.attachments.Close()
		return nil, err
	}
	rt.wire()
	return rt, nil
}

func (rt *Runtime) buildFinders(m *metrics.FinderMetrics) error {
	fc := rt.config.Finders
	if !fc.IsEnabled(config.FinderMetadata) {
		return nil
	}

	var err error
	rt.metadata, err = finder.New[status.Update, *track.Metadata](track.MetadataStrategy{}, finder.Config[status.Update]{
		CacheCapacity: fc.CacheCapacity,
		QueueSize:     fc.QueueSize,
		Passive:       fc.Passive,
		Sessions:      rt.sessions,
		Archives:      rt.attachments,
		Metrics:       m,
		Updates:       rt.decoder.Updates(),
		Lost:          rt.registry.Lost(),
		Unmounted:     rt.mounts.Unmounted(),
	})
	if err != nil {
		return err
	}
	rt.metadata.DependOn(rt.registry.Participant())
	rt.finders = append(rt.finders, rt.metadata)

	derived := finder.Config[track.MetadataChange]{
		CacheCapacity: fc.CacheCapacity,
		QueueSize:     fc.QueueSize,
		Passive:       fc.Passive,
		Sessions:      rt.sessions,
		Archives:      rt.attachments,
		Metrics:       m,
		Updates:       rt.metadata.Changes(),
		Lost:          rt.registry.Lost(),
		Unmounted:     rt.mounts.Unmounted(),
	}
	if fc.IsEnabled(config.FinderArtwork) {
		if rt.artwork, err = finder.New[track.MetadataChange, *track.AlbumArt](track.ArtworkStrategy{}, derived); err != nil {
			return err
		}
		rt.artwork.DependOn(rt.metadata.Participant())
		rt.finders = append(rt.finders, rt.artwork)
	}
	if fc.IsEnabled(config.FinderWaveform) {
		if rt.waveform, err = finder.New[track.MetadataChange, *track.WaveformPreview](track.WaveformStrategy{}, derived); err != nil {
			return err
		}
		rt.waveform.DependOn(rt.metadata.Participant())
		rt.finders = append(rt.finders, rt.waveform)
	}
	if fc.IsEnabled(config.FinderBeatGrid) {
		if rt.beatGrid, err = finder.New[track.MetadataChange, *track.BeatGrid](track.BeatGridStrategy{}, derived); err != nil {
			return err
		}
		rt.beatGrid.DependOn(rt.metadata.Participant())
		rt.finders = append(rt.finders, rt.beatGrid)
	}
	return nil
}

// wire connects the components that do not subscribe themselves.
func (rt *Runtime) wire() {
	rt.decoder.Updates().Subscribe(rt.mounts.Observe)

	rt.registry.Lost().Subscribe(func(d devices.Device) {
		rt.sessions.DeviceLost(d.Number)
		rt.mounts.DeviceLost(d.Number)
	})

	if rt.directory != nil {
		rt.mounts.Mounted().Subscribe(func(slot djlink.SlotReference) {
			rt.directory.AttachSlot(slot)
		})
		rt.mounts.Unmounted().Subscribe(func(slot djlink.SlotReference) {
			rt.attachments.Detach(slot)
		})
	}
}

// address is the AddressBook for database connections.
func (rt *Runtime) address(player djlink.DeviceID) (net.IP, bool) {
	d, ok := rt.registry.Lookup(player)
	if !ok {
		return nil, false
	}
	return d.Address, true
}

// Start starts the components in dependency order, then binds the UDP
// ports. Starting a running runtime does nothing.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.running.Load() {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel

	rt.sessions.Start(runCtx)
	rt.mounts.Start(runCtx)
	if err := rt.registry.Start(runCtx); err != nil {
		rt.stopLocked()
		return fmt.Errorf("start device registry: %w", err)
	}
	for _, f := range rt.finders {
		if err := f.Start(runCtx); err != nil {
			rt.stopLocked()
			return fmt.Errorf("start %s finder: %w", f.Kind(), err)
		}
	}

	if rt.directory != nil {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			if err := rt.directory.Watch(runCtx); err != nil {
				logger.Error("Archive directory watch stopped", logger.KeyPath, rt.config.Archives.Directory, logger.KeyError, err)
			}
		}()
	}

	if err := rt.listen(runCtx); err != nil {
		rt.stopLocked()
		return err
	}

	rt.running.Store(true)
	logger.Info("Observer running", logger.KeyCount, len(rt.finders), "passive", rt.config.Finders.Passive)
	return nil
}

// listen binds the announcement and status ports.
func (rt *Runtime) listen(ctx context.Context) error {
	nc := rt.config.Network
	rt.listeners = []*transport.UDPListener{
		transport.NewUDPListener(transport.UDPConfig{
			Name:    "announcements",
			Port:    nc.AnnouncePort,
			Handler: rt.filtered(rt.registry.HandlePacket),
		}),
		transport.NewUDPListener(transport.UDPConfig{
			Name:    "status",
			Port:    nc.StatusPort,
			Handler: rt.filtered(rt.decoder.HandlePacket),
		}),
	}

	errs := make(chan error, len(rt.listeners))
	for _, l := range rt.listeners {
		rt.wg.Add(1)
		go func(l *transport.UDPListener) {
			defer rt.wg.Done()
			if err := l.Serve(ctx); err != nil {
				errs <- err
			}
		}(l)
	}

	timeout := time.After(readyTimeout)
	for _, l := range rt.listeners {
		select {
		case <-l.WaitReady():
		case err := <-errs:
			return err
		case <-timeout:
			return errors.New("timed out binding UDP ports")
		}
	}
	return nil
}

func (rt *Runtime) filtered(h transport.Handler) transport.Handler {
	if rt.accept == nil {
		return h
	}
	return func(packet []byte, from *net.UDPAddr, received time.Time) {
		if rt.accept(from.IP) {
			h(packet, from, received)
		}
	}
}

// Stop stops everything in reverse order: listeners, finders, registry,
// mount tracker, sessions. Stopping a stopped runtime does nothing.
func (rt *Runtime) Stop() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.running.Swap(false) {
		return
	}
	rt.stopLocked()
	logger.Info("Observer stopped")
}

func (rt *Runtime) stopLocked() {
	for _, l := range rt.listeners {
		l.Stop()
	}
	for i := len(rt.finders) - 1; i >= 0; i-- {
		rt.finders[i].Stop()
	}
	rt.registry.Stop()
	rt.mounts.Stop()
	rt.sessions.Stop()
	if rt.cancel != nil {
		rt.cancel()
	}
	rt.wg.Wait()
	rt.listeners = nil
}

// Close stops the runtime and closes every archive.
func (rt *Runtime) Close() error {
	rt.Stop()
	return rt.attachments.Close()
}

// Running reports whether the runtime has been started.
func (rt *Runtime) Running() bool { return rt.running.Load() }

// Devices returns the live devices.
func (rt *Runtime) Devices() []devices.Device { return rt.registry.Devices() }

// Registry exposes the device registry.
func (rt *Runtime) Registry() *devices.Registry { return rt.registry }

// Decoder exposes the status decoder.
func (rt *Runtime) Decoder() *status.Decoder { return rt.decoder }

// Mounts exposes the media mount tracker.
func (rt *Runtime) Mounts() *media.MountTracker { return rt.mounts }

// Finders returns the enabled finders, metadata first.
func (rt *Runtime) Finders() []finder.Controller { return rt.finders }

// MetadataFinder returns the metadata finder, nil when disabled.
func (rt *Runtime) MetadataFinder() *finder.Finder[status.Update, *track.Metadata] {
	return rt.metadata
}

// ArtworkFinder returns the artwork finder, nil when disabled.
func (rt *Runtime) ArtworkFinder() *finder.Finder[track.MetadataChange, *track.AlbumArt] {
	return rt.artwork
}

// WaveformFinder returns the waveform finder, nil when disabled.
func (rt *Runtime) WaveformFinder() *finder.Finder[track.MetadataChange, *track.WaveformPreview] {
	return rt.waveform
}

// BeatGridFinder returns the beat grid finder, nil when disabled.
func (rt *Runtime) BeatGridFinder() *finder.Finder[track.MetadataChange, *track.BeatGrid] {
	return rt.beatGrid
}

// Metadata returns what deck currently holds.
func (rt *Runtime) Metadata(deck djlink.DeckReference) (*track.Metadata, bool) {
	if rt.metadata == nil {
		return nil, false
	}
	return rt.metadata.LatestFor(deck)
}

// Artwork returns the album art deck currently shows.
func (rt *Runtime) Artwork(deck djlink.DeckReference) (*track.AlbumArt, bool) {
	if rt.artwork == nil {
		return nil, false
	}
	return rt.artwork.LatestFor(deck)
}

// sourceFilter accepts packets from the subnets of the named interface.
// The ports are bound on every interface so broadcasts are received; the
// filter keeps other networks out. An empty name accepts everything.
func sourceFilter(name string) (func(net.IP) bool, error) {
	if name == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, djlink.NewConfigurationError("network interface %q: %v", name, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, djlink.NewConfigurationError("addresses of %q: %v", name, err)
	}
	var nets []*net.IPNet
	for _, a := range addrs {
		if n, ok := a.(*net.IPNet); ok && n.IP.To4() != nil {
			nets = append(nets, n)
		}
	}
	if len(nets) == 0 {
		return nil, djlink.NewConfigurationError("network interface %q has no IPv4 address", name)
	}
	return func(ip net.IP) bool {
		for _, n := range nets {
			if n.Contains(ip) {
				return true
			}
		}
		return false
	}, nil
}
