// Package finder implements the resolution engine shared by every kind of
// track resource. A Finder watches an update stream, works out which content
// each deck needs, and resolves it through the hot cache, the LRU, an
// optional archive and finally the player's database service.
package finder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/marmos91/deckwatch/internal/logger"
	"github.com/marmos91/deckwatch/internal/telemetry"
	"github.com/marmos91/deckwatch/pkg/archive"
	"github.com/marmos91/deckwatch/pkg/cache"
	"github.com/marmos91/deckwatch/pkg/dbserver"
	"github.com/marmos91/deckwatch/pkg/devices"
	"github.com/marmos91/deckwatch/pkg/djlink"
	"github.com/marmos91/deckwatch/pkg/lifecycle"
	"github.com/marmos91/deckwatch/pkg/listeners"
	"github.com/marmos91/deckwatch/pkg/metrics"
)

const (
	DefaultCacheCapacity = 100
	DefaultQueueSize     = 100
)

// ErrUnavailable means the resource could not be resolved: every tier
// missed, the finder is passive, or the fetch failed.
var ErrUnavailable = errors.New("resource unavailable")

// Record is a resolved, immutable resource.
type Record interface {
	Reference() djlink.DataReference
}

// Change is published when a deck's record changes. Cleared changes carry
// the zero Record.
type Change[T Record] struct {
	Deck    djlink.DeckReference
	Record  T
	Cleared bool
}

// Target is what an update asks of a finder: resolve Ref for Deck, or clear
// Deck when Clear is set.
type Target struct {
	Deck  djlink.DeckReference
	Ref   djlink.DataReference
	Clear bool
}

// Strategy holds everything kind-specific.
type Strategy[U any, T Record] interface {
	// Kind names the resource in logs and metrics.
	Kind() string

	// Target maps an update to work; false means the update is irrelevant.
	Target(update U) (Target, bool)

	// HotCues lists the hot cue slots on the same player that should also
	// hold record.
	HotCues(update U, record T) []int

	// Fetch asks the player's database for ref.
	Fetch(ctx context.Context, conn dbserver.Conn, ref djlink.DataReference) (T, error)

	ArchiveKind() archive.Kind

	// Decode builds a record from archived bytes.
	Decode(ref djlink.DataReference, data []byte) (T, error)
}

// ArchiveSource returns the archive attached to a media slot.
type ArchiveSource interface {
	For(slot djlink.SlotReference) (archive.Archive, bool)
}

// Config configures a Finder. The hubs are subscribed on Start and may be
// nil.
type Config[U any] struct {
	CacheCapacity int
	QueueSize     int
	Passive       bool

	Sessions dbserver.Exchanger
	Archives ArchiveSource
	Metrics  *metrics.FinderMetrics

	Updates   *listeners.Hub[U]
	Lost      *listeners.Hub[devices.Device]
	Unmounted *listeners.Hub[djlink.SlotReference]
}

// Loaded pairs a deck with the content it holds.
type Loaded struct {
	Deck djlink.DeckReference
	Ref  djlink.DataReference
}

// Controller is the kind-independent surface of a Finder, used by the API
// and the runtime to manage finders of different kinds together.
type Controller interface {
	Kind() string
	IsRunning() bool
	IsPassive() bool
	SetPassive(passive bool)
	CacheCapacity() int
	SetCacheCapacity(n int) error
	Dropped() uint64
	Loaded() []Loaded
	Participant() *lifecycle.Participant
	Start(ctx context.Context) error
	Stop()
}

// queued is an update waiting for the worker, stamped with the purge epoch
// current when it was submitted.
type queued[U any] struct {
	update U
	epoch  uint64
}

// purge removes what is held for a lost player or an unmounted slot.
type purge struct {
	lost   bool
	player djlink.DeviceID
	slot   djlink.SlotReference
}

type runState[U any] struct {
	queue  chan queued[U]
	cancel context.CancelFunc
	done   chan struct{}
	unsubs []func()

	// Purges are never dropped, so they bypass the bounded queue.
	purgeMu sync.Mutex
	purges  []purge
	wake    chan struct{}
}

// Finder resolves one kind of resource for every deck on the network.
type Finder[U any, T Record] struct {
	strategy Strategy[U, T]
	kind     string
	config   Config[U]

	hot      *cache.HotCache[T]
	lru      *cache.SyncLRU[djlink.DataReference, T]
	inflight singleflight.Group

	passive     atomic.Bool
	participant *lifecycle.Participant
	changes     *listeners.Hub[Change[T]]

	// mu serializes Start, Stop and cache resizing.
	mu  sync.Mutex
	run atomic.Pointer[runState[U]]

	dropLog *rate.Limiter
	dropped atomic.Uint64

	// An update submitted before its player was lost, or before the slot
	// holding its content was unmounted, is stale and must not repopulate
	// a deck.
	epochMu     sync.Mutex
	epoch       uint64
	lostAt      map[djlink.DeviceID]uint64
	unmountedAt map[djlink.SlotReference]uint64
}

var _ Controller = (*Finder[any, Record])(nil)

// New creates a stopped finder.
func New[U any, T Record](strategy Strategy[U, T], cfg Config[U]) (*Finder[U, T], error) {
	if cfg.CacheCapacity == 0 {
		cfg.CacheCapacity = DefaultCacheCapacity
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	lru, err := cache.NewSyncLRU[djlink.DataReference, T](cfg.CacheCapacity)
	if err != nil {
		return nil, djlink.NewConfigurationError("%s cache capacity must be at least 1, got %d", strategy.Kind(), cfg.CacheCapacity)
	}

	f := &Finder[U, T]{
		strategy:    strategy,
		kind:        strategy.Kind(),
		config:      cfg,
		hot:         cache.NewHotCache[T](),
		lru:         lru,
		participant: lifecycle.NewParticipant(strategy.Kind() + " finder"),
		changes:     listeners.NewHub[Change[T]](strategy.Kind() + " changes"),
		dropLog:     rate.NewLimiter(rate.Every(5*time.Second), 1),
		lostAt:      make(map[djlink.DeviceID]uint64),
		unmountedAt: make(map[djlink.SlotReference]uint64),
	}
	f.passive.Store(cfg.Passive)
	return f, nil
}

// Kind returns the resource kind.
func (f *Finder[U, T]) Kind() string { return f.kind }

// Participant exposes start/stop announcements for dependents.
func (f *Finder[U, T]) Participant() *lifecycle.Participant { return f.participant }

// DependOn stops this finder whenever dep stops.
func (f *Finder[U, T]) DependOn(dep *lifecycle.Participant) listeners.Handle {
	return lifecycle.StopWhenStopped(dep, f.participant.Name(), f.Stop)
}

// IsRunning reports whether the finder has been started.
func (f *Finder[U, T]) IsRunning() bool { return f.run.Load() != nil }

// Start subscribes to the configured sources and starts the worker.
// Starting a running finder does nothing.
func (f *Finder[U, T]) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.run.Load() != nil {
		f.mu.Unlock()
		return nil
	}

	wctx, cancel := context.WithCancel(ctx)
	rs := &runState[U]{
		queue:  make(chan queued[U], f.config.QueueSize),
		cancel: cancel,
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	f.run.Store(rs)

	if hub := f.config.Updates; hub != nil {
		h := hub.Subscribe(func(u U) { f.Submit(u) })
		rs.unsubs = append(rs.unsubs, func() { hub.Unsubscribe(h) })
	}
	if hub := f.config.Lost; hub != nil {
		h := hub.Subscribe(func(d devices.Device) { f.DeviceLost(d.Number) })
		rs.unsubs = append(rs.unsubs, func() { hub.Unsubscribe(h) })
	}
	if hub := f.config.Unmounted; hub != nil {
		h := hub.Subscribe(f.MediaUnmounted)
		rs.unsubs = append(rs.unsubs, func() { hub.Unsubscribe(h) })
	}

	go f.worker(wctx, rs)
	f.mu.Unlock()

	logger.Info("Finder started", logger.KeyKind, f.kind,
		logger.KeyCapacity, f.lru.Cap(), logger.KeyQueueSize, f.config.QueueSize)
	f.participant.AnnounceStarted()
	return nil
}

// Stop unsubscribes, stops the worker, discards queued updates and clears
// both caches without publishing changes. Stopping a stopped finder does
// nothing. Stop waits for the worker, so it must not be called from a
// change listener.
func (f *Finder[U, T]) Stop() {
	f.mu.Lock()
	rs := f.run.Swap(nil)
	if rs == nil {
		f.mu.Unlock()
		return
	}
	for _, unsub := range rs.unsubs {
		unsub()
	}
	rs.cancel()
	<-rs.done

	discarded := 0
drain:
	for {
		select {
		case <-rs.queue:
			discarded++
		default:
			break drain
		}
	}
	f.hot.Clear()
	f.lru.Clear()
	f.config.Metrics.SetSizes(f.kind, 0, 0)
	f.mu.Unlock()

	if discarded > 0 {
		logger.Debug("Discarded queued updates", logger.KeyKind, f.kind, logger.KeyCount, discarded)
	}
	f.participant.AnnounceStopped()
}

// IsPassive reports whether network fetches are disabled.
func (f *Finder[U, T]) IsPassive() bool { return f.passive.Load() }

// SetPassive switches passive mode; it applies to resolutions that start
// afterwards.
func (f *Finder[U, T]) SetPassive(passive bool) {
	if f.passive.Swap(passive) != passive {
		logger.Info("Finder passive mode changed", logger.KeyKind, f.kind, "passive", passive)
	}
}

// CacheCapacity returns the LRU capacity.
func (f *Finder[U, T]) CacheCapacity() int { return f.lru.Cap() }

// SetCacheCapacity resizes the LRU, evicting the least recently used
// entries. It is rejected while the finder is running.
func (f *Finder[U, T]) SetCacheCapacity(n int) error {
	if n < 1 {
		return djlink.NewConfigurationError("%s cache capacity must be at least 1, got %d", f.kind, n)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.run.Load() != nil {
		return djlink.NewConfigurationError("cannot resize %s cache while the finder is running", f.kind)
	}
	evicted, err := f.lru.Resize(n)
	if err != nil {
		return djlink.NewConfigurationError("resize %s cache: %v", f.kind, err)
	}
	f.config.Metrics.RecordEvicted(f.kind, evicted)
	return nil
}

// Subscribe registers fn for deck changes. fn runs on the finder's worker
// and must return quickly.
func (f *Finder[U, T]) Subscribe(fn func(Change[T])) listeners.Handle {
	return f.changes.Subscribe(fn)
}

// Unsubscribe removes a change listener.
func (f *Finder[U, T]) Unsubscribe(h listeners.Handle) bool {
	return f.changes.Unsubscribe(h)
}

// Changes exposes the change hub so another finder can consume it.
func (f *Finder[U, T]) Changes() *listeners.Hub[Change[T]] { return f.changes }

// LatestFor returns what deck currently holds, from the hot cache only.
func (f *Finder[U, T]) LatestFor(deck djlink.DeckReference) (T, bool) {
	return f.hot.Get(deck)
}

// LoadedRecords returns a snapshot of every deck's record.
func (f *Finder[U, T]) LoadedRecords() map[djlink.DeckReference]T {
	return f.hot.Snapshot()
}

// Loaded returns the reference held by every deck, ordered by deck.
func (f *Finder[U, T]) Loaded() []Loaded {
	snap := f.hot.Snapshot()
	decks := sortedDecks(snap)
	out := make([]Loaded, len(decks))
	for i, d := range decks {
		out[i] = Loaded{Deck: d, Ref: snap[d].Reference()}
	}
	return out
}

// Dropped returns how many updates were dropped because the queue was full.
func (f *Finder[U, T]) Dropped() uint64 { return f.dropped.Load() }

// Submit queues an update for the worker without blocking. It returns false
// when the update was dropped.
func (f *Finder[U, T]) Submit(u U) bool {
	rs := f.run.Load()
	if rs == nil {
		return false
	}
	select {
	case rs.queue <- queued[U]{update: u, epoch: f.currentEpoch()}:
		return true
	default:
	}

	f.dropped.Add(1)
	f.config.Metrics.RecordDropped(f.kind)
	if f.dropLog.Allow() {
		logger.Warn("Discarding update because the queue is full",
			logger.KeyKind, f.kind, logger.KeyQueueSize, f.config.QueueSize,
			logger.KeyCount, f.dropped.Load())
	}
	return false
}

// RequestFor resolves ref through every tier without touching any deck.
// It fails with ErrUnavailable when nothing could provide the record.
func (f *Finder[U, T]) RequestFor(ctx context.Context, ref djlink.DataReference) (T, error) {
	var zero T
	if f.run.Load() == nil {
		return zero, djlink.NewNotRunningError(f.participant.Name())
	}
	if rec, _, ok := f.lookupMemory(ref); ok {
		return rec, nil
	}
	rec, err := f.resolve(ctx, ref)
	if err != nil {
		return zero, err
	}
	return rec, nil
}

// DeviceLost purges everything held for player and publishes a cleared
// change for each deck that held a record. The purge runs on the worker;
// updates for player submitted before the call are discarded.
func (f *Finder[U, T]) DeviceLost(player djlink.DeviceID) {
	f.schedulePurge(purge{lost: true, player: player})
}

// MediaUnmounted purges records whose content came from slot. Like
// DeviceLost it runs on the worker.
func (f *Finder[U, T]) MediaUnmounted(slot djlink.SlotReference) {
	f.schedulePurge(purge{slot: slot})
}

func (f *Finder[U, T]) schedulePurge(p purge) {
	f.epochMu.Lock()
	f.epoch++
	if p.lost {
		f.lostAt[p.player] = f.epoch
	} else {
		f.unmountedAt[p.slot] = f.epoch
	}
	f.epochMu.Unlock()

	rs := f.run.Load()
	if rs == nil {
		return
	}
	rs.purgeMu.Lock()
	rs.purges = append(rs.purges, p)
	rs.purgeMu.Unlock()
	select {
	case rs.wake <- struct{}{}:
	default:
	}
}

func (f *Finder[U, T]) currentEpoch() uint64 {
	f.epochMu.Lock()
	defer f.epochMu.Unlock()
	return f.epoch
}

// stale reports whether target, from an update submitted at epoch since,
// involves a player lost or a slot unmounted afterwards.
func (f *Finder[U, T]) stale(target Target, since uint64) bool {
	if target.Clear {
		return false
	}
	f.epochMu.Lock()
	defer f.epochMu.Unlock()
	return f.lostAt[target.Deck.Player] > since ||
		f.lostAt[target.Ref.Player] > since ||
		f.unmountedAt[target.Ref.SlotReference()] > since
}

func (f *Finder[U, T]) runPurges(rs *runState[U]) {
	rs.purgeMu.Lock()
	pending := rs.purges
	rs.purges = nil
	rs.purgeMu.Unlock()

	for _, p := range pending {
		if p.lost {
			f.purgeDevice(p.player)
		} else {
			f.purgeSlot(p.slot)
		}
	}
}

func (f *Finder[U, T]) purgeDevice(player djlink.DeviceID) {
	removed := f.hot.RemoveIf(func(d djlink.DeckReference, _ T) bool { return d.Player == player })
	n := f.lru.RemoveIf(func(r djlink.DataReference) bool { return r.Player == player })
	f.config.Metrics.RecordEvicted(f.kind, n)
	if len(removed) > 0 || n > 0 {
		logger.Debug("Purged records for lost device", logger.KeyKind, f.kind,
			logger.KeyPlayer, int(player), logger.KeyCount, len(removed), logger.KeyEvicted, n)
	}
	f.publishCleared(removed)
}

func (f *Finder[U, T]) purgeSlot(slot djlink.SlotReference) {
	removed := f.hot.RemoveIf(func(_ djlink.DeckReference, rec T) bool {
		return rec.Reference().SlotReference() == slot
	})
	n := f.lru.RemoveIf(func(r djlink.DataReference) bool { return r.SlotReference() == slot })
	f.config.Metrics.RecordEvicted(f.kind, n)
	if len(removed) > 0 || n > 0 {
		logger.Debug("Purged records for unmounted media", logger.KeyKind, f.kind,
			logger.KeySlot, slot.String(), logger.KeyCount, len(removed), logger.KeyEvicted, n)
	}
	f.publishCleared(removed)
}

func sortedDecks[T any](m map[djlink.DeckReference]T) []djlink.DeckReference {
	decks := make([]djlink.DeckReference, 0, len(m))
	for d := range m {
		decks = append(decks, d)
	}
	sort.Slice(decks, func(i, j int) bool {
		if decks[i].Player != decks[j].Player {
			return decks[i].Player < decks[j].Player
		}
		return decks[i].HotCue < decks[j].HotCue
	})
	return decks
}

func (f *Finder[U, T]) publishCleared(removed map[djlink.DeckReference]T) {
	for _, d := range sortedDecks(removed) {
		f.changes.Publish(Change[T]{Deck: d, Cleared: true})
	}
	f.updateSizes()
}

func (f *Finder[U, T]) worker(ctx context.Context, rs *runState[U]) {
	defer close(rs.done)
	for {
		f.runPurges(rs)
		select {
		case <-ctx.Done():
			return
		case <-rs.wake:
		case q := <-rs.queue:
			f.runPurges(rs)
			f.process(ctx, q)
		}
	}
}

func (f *Finder[U, T]) process(ctx context.Context, q queued[U]) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Problem processing update", logger.KeyKind, f.kind, "panic", r)
		}
	}()
	f.handleUpdate(ctx, q.update, q.epoch)
}

// handleUpdate applies u, which was submitted at purge epoch since.
func (f *Finder[U, T]) handleUpdate(ctx context.Context, u U, since uint64) {
	target, ok := f.strategy.Target(u)
	if !ok {
		return
	}
	if target.Clear {
		f.clearDeck(target.Deck)
		return
	}
	if f.stale(target, since) {
		logger.Debug("Skipping update queued before a purge", logger.KeyKind, f.kind,
			logger.KeyDeck, target.Deck.String(), logger.KeyContentID, target.Ref.ID)
		return
	}
	if cur, ok := f.hot.Get(target.Deck); ok && cur.Reference() == target.Ref {
		return
	}

	rec, _, ok := f.lookupMemory(target.Ref)
	if !ok {
		f.clearDeck(target.Deck)
		var err error
		rec, err = f.resolve(ctx, target.Ref)
		if err != nil || ctx.Err() != nil || f.stale(target, since) {
			return
		}
	}
	f.storeDeck(u, target.Deck, rec)
}

// storeDeck puts rec on deck and the hot cues the strategy names, publishing
// a change for every deck whose content changed.
func (f *Finder[U, T]) storeDeck(u U, deck djlink.DeckReference, rec T) {
	decks := []djlink.DeckReference{deck}
	for _, cue := range f.strategy.HotCues(u, rec) {
		if cue > 0 && cue != deck.HotCue {
			decks = append(decks, djlink.DeckReference{Player: deck.Player, HotCue: cue})
		}
	}
	for _, d := range decks {
		prev, replaced := f.hot.Put(d, rec)
		if replaced && prev.Reference() == rec.Reference() {
			continue
		}
		f.changes.Publish(Change[T]{Deck: d, Record: rec})
	}
	f.updateSizes()
}

// clearDeck empties deck, publishing only if it held something.
func (f *Finder[U, T]) clearDeck(deck djlink.DeckReference) {
	if _, ok := f.hot.Remove(deck); ok {
		f.changes.Publish(Change[T]{Deck: deck, Cleared: true})
		f.updateSizes()
	}
}

// lookupMemory checks the hot cache for any deck holding ref, then the LRU.
func (f *Finder[U, T]) lookupMemory(ref djlink.DataReference) (T, string, bool) {
	if rec, ok := f.hot.Find(func(_ djlink.DeckReference, rec T) bool {
		return rec.Reference() == ref
	}); ok {
		f.config.Metrics.RecordLookup(f.kind, "hot_cue")
		return rec, "hot_cue", true
	}
	if rec, ok := f.lru.Get(ref); ok {
		f.config.Metrics.RecordLookup(f.kind, "lru")
		return rec, "lru", true
	}
	var zero T
	return zero, "", false
}

// resolve consults the archive and then the network. Concurrent calls for
// the same reference share one attempt.
func (f *Finder[U, T]) resolve(ctx context.Context, ref djlink.DataReference) (T, error) {
	passive := f.passive.Load()
	ctx, span := telemetry.StartResolveSpan(ctx, f.kind, int(ref.Player), ref.Slot.String(), ref.ID, passive)
	defer span.End()

	v, err, shared := f.inflight.Do(ref.String(), func() (any, error) {
		// A call that finished just before this one may have filled the LRU.
		if rec, ok := f.lru.Peek(ref); ok {
			return resolved[T]{rec, "lru"}, nil
		}
		if rec, ok := f.fromArchive(ctx, ref); ok {
			f.remember(ref, rec)
			return resolved[T]{rec, "archive"}, nil
		}
		if f.passive.Load() {
			f.config.Metrics.RecordLookup(f.kind, "miss")
			return nil, fmt.Errorf("%s %s not cached and finder is passive: %w", f.kind, ref, ErrUnavailable)
		}
		rec, err := f.fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		f.remember(ref, rec)
		return resolved[T]{rec, "network"}, nil
	})
	if err != nil {
		span.SetAttributes(telemetry.Source("miss"))
		var zero T
		return zero, err
	}
	r := v.(resolved[T])
	span.SetAttributes(telemetry.Source(r.source))
	if shared {
		logger.Debug("Joined in-flight resolution", logger.KeyKind, f.kind,
			logger.KeyContentID, ref.ID, logger.KeySource, r.source)
	}
	return r.record, nil
}

// resolved is a record and the tier it came from.
type resolved[T any] struct {
	record T
	source string
}

func (f *Finder[U, T]) fromArchive(ctx context.Context, ref djlink.DataReference) (T, bool) {
	var zero T
	if f.config.Archives == nil {
		return zero, false
	}
	ar, ok := f.config.Archives.For(ref.SlotReference())
	if !ok {
		return zero, false
	}

	ctx, span := telemetry.StartArchiveSpan(ctx, ar.Name(), f.kind, ref.ID)
	defer span.End()

	data, ok, err := ar.Lookup(ctx, f.strategy.ArchiveKind(), ref.ID)
	if err != nil {
		f.config.Metrics.RecordArchiveError(f.kind)
		telemetry.RecordError(ctx, err)
		logger.Warn("Archive lookup failed", logger.KeyKind, f.kind,
			logger.KeyArchive, ar.Name(), logger.KeyContentID, ref.ID, logger.KeyError, err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	rec, err := f.strategy.Decode(ref, data)
	if err != nil {
		f.config.Metrics.RecordArchiveError(f.kind)
		logger.Warn("Unable to decode archived record", logger.KeyKind, f.kind,
			logger.KeyArchive, ar.Name(), logger.KeyContentID, ref.ID, logger.KeyError, err)
		return zero, false
	}
	f.config.Metrics.RecordLookup(f.kind, "archive")
	return rec, true
}

func (f *Finder[U, T]) fetch(ctx context.Context, ref djlink.DataReference) (T, error) {
	var zero T
	if f.config.Sessions == nil {
		return zero, fmt.Errorf("%s %s: no database sessions: %w", f.kind, ref, ErrUnavailable)
	}

	ctx, span := telemetry.StartFetchSpan(ctx, f.kind, int(ref.Player), ref.Slot.String(), ref.ID)
	defer span.End()

	start := time.Now()
	rec, err := dbserver.Invoke(ctx, f.config.Sessions, ref.Player, "request "+f.kind,
		func(ctx context.Context, conn dbserver.Conn) (T, error) {
			return f.strategy.Fetch(ctx, conn, ref)
		})

	switch {
	case err == nil:
		f.config.Metrics.RecordFetch(f.kind, "ok", time.Since(start))
		f.config.Metrics.RecordLookup(f.kind, "network")
		return rec, nil
	case errors.Is(err, dbserver.ErrUnavailable):
		f.config.Metrics.RecordFetch(f.kind, "not_found", time.Since(start))
		logger.Debug("Player has no such resource", logger.KeyKind, f.kind,
			logger.KeyPlayer, int(ref.Player), logger.KeyContentID, ref.ID)
	default:
		f.config.Metrics.RecordFetch(f.kind, "error", time.Since(start))
		telemetry.RecordError(ctx, err)
		logger.Warn("Problem requesting resource", logger.KeyKind, f.kind,
			logger.KeyPlayer, int(ref.Player), logger.KeySlot, ref.Slot.String(),
			logger.KeyContentID, ref.ID, logger.KeyError, err)
	}
	return zero, fmt.Errorf("%s %s: %w: %w", f.kind, ref, ErrUnavailable, err)
}

func (f *Finder[U, T]) remember(ref djlink.DataReference, rec T) {
	if _, evicted := f.lru.Put(ref, rec); evicted {
		f.config.Metrics.RecordEvicted(f.kind, 1)
	}
	f.updateSizes()
}

func (f *Finder[U, T]) updateSizes() {
	f.config.Metrics.SetSizes(f.kind, f.hot.Len(), f.lru.Len())
}
