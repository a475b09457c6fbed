package finder

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/deckwatch/pkg/dbserver"
	"github.com/marmos91/deckwatch/pkg/devices"
	"github.com/marmos91/deckwatch/pkg/djlink"
	"github.com/marmos91/deckwatch/pkg/lifecycle"
	"github.com/marmos91/deckwatch/pkg/listeners"
)

const waitFor = 2 * time.Second

func TestNewRejectsInvalidCapacity(t *testing.T) {
	_, err := New[update, *record](&countingStrategy{}, Config[update]{CacheCapacity: -1})
	require.Error(t, err)
	assert.True(t, djlink.IsConfigurationError(err))

	f, err := New[update, *record](&countingStrategy{}, Config[update]{})
	require.NoError(t, err)
	assert.Equal(t, DefaultCacheCapacity, f.CacheCapacity())
	assert.False(t, f.IsRunning())
}

func TestConcurrentRequestsFetchOnce(t *testing.T) {
	s := &countingStrategy{gate: make(chan struct{})}
	f, _ := newTestFinder(t, s, Config[update]{})
	require.NoError(t, f.Start(context.Background()))

	const k = 8
	var wg sync.WaitGroup
	results := make([]*record, k)
	errs := make([]error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.RequestFor(context.Background(), ref(2, 77))
		}(i)
	}

	require.Eventually(t, func() bool { return s.fetches.Load() == 1 }, waitFor, time.Millisecond)
	// Let stragglers reach the in-flight call before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(s.gate)
	wg.Wait()

	assert.EqualValues(t, 1, s.fetches.Load())
	for i := 0; i < k; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "77", results[i].body)
	}

	// Later requests are served from the LRU.
	_, err := f.RequestFor(context.Background(), ref(2, 77))
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.fetches.Load())
}

func TestBackToBackRequestsFetchOnce(t *testing.T) {
	s := &countingStrategy{gate: make(chan struct{})}
	f, _ := newTestFinder(t, s, Config[update]{})
	require.NoError(t, f.Start(context.Background()))

	first := make(chan error, 1)
	go func() {
		_, err := f.RequestFor(context.Background(), ref(1, 5))
		first <- err
	}()
	require.Eventually(t, func() bool { return s.fetches.Load() == 1 }, waitFor, time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := f.RequestFor(context.Background(), ref(1, 5))
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(s.gate)

	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.EqualValues(t, 1, s.fetches.Load())
}

func TestCapacityTwoEvictsOldest(t *testing.T) {
	s := &countingStrategy{}
	f, _ := newTestFinder(t, s, Config[update]{CacheCapacity: 2})
	require.NoError(t, f.Start(context.Background()))
	ctx := context.Background()

	a, b, c := ref(1, 1), ref(1, 2), ref(1, 3)
	for _, r := range []djlink.DataReference{a, b, c} {
		_, err := f.RequestFor(ctx, r)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, s.fetches.Load())

	keys := f.lru.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
	assert.Equal(t, []djlink.DataReference{b, c}, keys)

	_, err := f.RequestFor(ctx, b)
	require.NoError(t, err)
	assert.EqualValues(t, 3, s.fetches.Load(), "b is still cached")

	_, err = f.RequestFor(ctx, a)
	require.NoError(t, err)
	assert.EqualValues(t, 4, s.fetches.Load(), "a was evicted")
}

func TestPassiveMissNeverFetches(t *testing.T) {
	s := &countingStrategy{}
	sessions := &fakeSessions{}
	f, _ := newTestFinder(t, s, Config[update]{Passive: true, Sessions: sessions})
	require.NoError(t, f.Start(context.Background()))
	assert.True(t, f.IsPassive())

	_, err := f.RequestFor(context.Background(), ref(3, 9))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Zero(t, sessions.exchanges.Load())
	assert.Zero(t, s.fetches.Load())

	f.SetPassive(false)
	_, err = f.RequestFor(context.Background(), ref(3, 9))
	require.NoError(t, err)
	assert.EqualValues(t, 1, sessions.exchanges.Load())
}

func TestArchiveHitPopulatesLRU(t *testing.T) {
	s := &countingStrategy{}
	ar := &mapArchive{entries: map[uint32][]byte{9: []byte("archived")}}
	f, _ := newTestFinder(t, s, Config[update]{Passive: true, Archives: ar})
	require.NoError(t, f.Start(context.Background()))

	got, err := f.RequestFor(context.Background(), ref(3, 9))
	require.NoError(t, err)
	assert.Equal(t, "archived", got.body)

	ar.mu.Lock()
	delete(ar.entries, 9)
	ar.mu.Unlock()

	got, err = f.RequestFor(context.Background(), ref(3, 9))
	require.NoError(t, err)
	assert.Equal(t, "archived", got.body)
	assert.Zero(t, s.fetches.Load())
}

func TestUndecodableArchiveEntryFallsThrough(t *testing.T) {
	s := &countingStrategy{}
	ar := &mapArchive{entries: map[uint32][]byte{9: {}}}
	f, _ := newTestFinder(t, s, Config[update]{Archives: ar})
	require.NoError(t, f.Start(context.Background()))

	got, err := f.RequestFor(context.Background(), ref(3, 9))
	require.NoError(t, err)
	assert.Equal(t, "9", got.body)
	assert.EqualValues(t, 1, s.fetches.Load())
}

func TestFetchFailureIsUnavailable(t *testing.T) {
	for _, fail := range []error{dbserver.ErrUnavailable, errors.New("boom")} {
		t.Run(fail.Error(), func(t *testing.T) {
			s := &countingStrategy{fail: fail}
			f, _ := newTestFinder(t, s, Config[update]{})
			require.NoError(t, f.Start(context.Background()))

			_, err := f.RequestFor(context.Background(), ref(1, 1))
			assert.ErrorIs(t, err, ErrUnavailable)
			assert.Zero(t, f.lru.Len())

			// Nothing is left in flight: the next request fetches again.
			_, err = f.RequestFor(context.Background(), ref(1, 1))
			assert.ErrorIs(t, err, ErrUnavailable)
			assert.EqualValues(t, 2, s.fetches.Load())
		})
	}
}

func TestRequestForRequiresRunning(t *testing.T) {
	f, _ := newTestFinder(t, &countingStrategy{}, Config[update]{})
	_, err := f.RequestFor(context.Background(), ref(1, 1))
	assert.True(t, djlink.IsNotRunningError(err))
}

func TestUpdatesPopulateDecks(t *testing.T) {
	s := &countingStrategy{}
	updates := listeners.NewHub[update]("updates")
	f, changes := newTestFinder(t, s, Config[update]{Updates: updates})
	require.NoError(t, f.Start(context.Background()))

	updates.Publish(update{player: 2, slot: djlink.SlotUSB, id: 10, cues: []int{1, 3}})
	require.Eventually(t, func() bool { return len(changes.all()) == 3 }, waitFor, time.Millisecond)

	for _, deck := range []djlink.DeckReference{{Player: 2}, {Player: 2, HotCue: 1}, {Player: 2, HotCue: 3}} {
		got, ok := f.LatestFor(deck)
		require.True(t, ok, deck.String())
		assert.Equal(t, ref(2, 10), got.Reference())
	}
	assert.Len(t, f.LoadedRecords(), 3)
	assert.Equal(t, []Loaded{
		{Deck: djlink.DeckReference{Player: 2}, Ref: ref(2, 10)},
		{Deck: djlink.DeckReference{Player: 2, HotCue: 1}, Ref: ref(2, 10)},
		{Deck: djlink.DeckReference{Player: 2, HotCue: 3}, Ref: ref(2, 10)},
	}, f.Loaded())

	// The same track again changes nothing.
	changes.reset()
	updates.Publish(update{player: 2, slot: djlink.SlotUSB, id: 10})
	updates.Publish(update{ignore: true})
	// A track already loaded elsewhere is reused without a fetch.
	updates.Publish(update{player: 3, source: 2, slot: djlink.SlotUSB, id: 10})
	require.Eventually(t, func() bool { return len(changes.all()) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, djlink.MainDeck(3), changes.all()[0].Deck)
	assert.EqualValues(t, 1, s.fetches.Load())
}

func TestUnloadClearsOnlyLoadedDecks(t *testing.T) {
	s := &countingStrategy{}
	f, changes := newTestFinder(t, s, Config[update]{})
	require.NoError(t, f.Start(context.Background()))

	f.handleUpdate(context.Background(), update{player: 1, slot: djlink.SlotSD, id: 4}, f.currentEpoch())
	f.handleUpdate(context.Background(), update{player: 1}, f.currentEpoch())
	f.handleUpdate(context.Background(), update{player: 1}, f.currentEpoch())

	got := changes.all()
	require.Len(t, got, 2)
	assert.False(t, got[0].Cleared)
	assert.True(t, got[1].Cleared)
	assert.Nil(t, got[1].Record)
}

func TestNewTrackClearsDeckBeforeFetching(t *testing.T) {
	s := &countingStrategy{}
	f, changes := newTestFinder(t, s, Config[update]{})
	require.NoError(t, f.Start(context.Background()))
	ctx := context.Background()

	f.handleUpdate(ctx, update{player: 1, slot: djlink.SlotUSB, id: 1}, f.currentEpoch())
	f.handleUpdate(ctx, update{player: 1, slot: djlink.SlotUSB, id: 2}, f.currentEpoch())

	got := changes.all()
	require.Len(t, got, 3)
	assert.Equal(t, ref(1, 1), got[0].Record.Reference())
	assert.True(t, got[1].Cleared)
	assert.Equal(t, ref(1, 2), got[2].Record.Reference())
}

func TestDeviceLostClearsOncePerDeck(t *testing.T) {
	s := &countingStrategy{}
	lost := listeners.NewHub[devices.Device]("lost")
	f, changes := newTestFinder(t, s, Config[update]{Lost: lost})
	require.NoError(t, f.Start(context.Background()))
	ctx := context.Background()

	f.handleUpdate(ctx, update{player: 2, slot: djlink.SlotUSB, id: 8, cues: []int{2}}, f.currentEpoch())
	f.handleUpdate(ctx, update{player: 3, slot: djlink.SlotUSB, id: 9}, f.currentEpoch())
	changes.reset()

	lost.Publish(devices.Device{Announcement: devices.Announcement{Number: 2}})
	require.Eventually(t, func() bool { return len(changes.all()) == 2 }, waitFor, time.Millisecond)

	got := changes.all()
	require.Len(t, got, 2)
	assert.Equal(t, Change[*record]{Deck: djlink.DeckReference{Player: 2}, Cleared: true}, got[0])
	assert.Equal(t, Change[*record]{Deck: djlink.DeckReference{Player: 2, HotCue: 2}, Cleared: true}, got[1])

	for deck := range f.LoadedRecords() {
		assert.NotEqual(t, djlink.DeviceID(2), deck.Player)
	}
	for _, k := range f.lru.Keys() {
		assert.NotEqual(t, djlink.DeviceID(2), k.Player)
	}

	// Purges run before later updates, so the marker's change is the only
	// one once it arrives.
	changes.reset()
	f.DeviceLost(2)
	f.DeviceLost(4)
	require.True(t, f.Submit(update{player: 5, slot: djlink.SlotUSB, id: 1}))
	require.Eventually(t, func() bool { return len(changes.all()) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, djlink.MainDeck(5), changes.all()[0].Deck)
}

func TestMediaUnmountedPurgesSlot(t *testing.T) {
	s := &countingStrategy{}
	unmounted := listeners.NewHub[djlink.SlotReference]("unmounted")
	f, changes := newTestFinder(t, s, Config[update]{Unmounted: unmounted})
	require.NoError(t, f.Start(context.Background()))
	ctx := context.Background()

	// Player 3 plays a track from player 2's USB stick.
	f.handleUpdate(ctx, update{player: 3, source: 2, slot: djlink.SlotUSB, id: 1}, f.currentEpoch())
	f.handleUpdate(ctx, update{player: 2, slot: djlink.SlotSD, id: 2}, f.currentEpoch())
	_, err := f.RequestFor(ctx, djlink.DataReference{Player: 2, Slot: djlink.SlotUSB, ID: 5})
	require.NoError(t, err)
	changes.reset()

	unmounted.Publish(djlink.SlotReference{Player: 2, Slot: djlink.SlotUSB})
	require.Eventually(t, func() bool { return len(changes.all()) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, djlink.MainDeck(3), changes.all()[0].Deck)

	_, ok := f.LatestFor(djlink.MainDeck(2))
	assert.True(t, ok, "other slots are untouched")
	_, ok = f.lru.Peek(djlink.DataReference{Player: 2, Slot: djlink.SlotUSB, ID: 5})
	assert.False(t, ok)
	_, ok = f.lru.Peek(djlink.DataReference{Player: 2, Slot: djlink.SlotSD, ID: 2})
	assert.True(t, ok)

	changes.reset()
	unmounted.Publish(djlink.SlotReference{Player: 2, Slot: djlink.SlotUSB})
	require.True(t, f.Submit(update{player: 5, slot: djlink.SlotSD, id: 3}))
	require.Eventually(t, func() bool { return len(changes.all()) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, djlink.MainDeck(5), changes.all()[0].Deck)
}

func TestUpdateQueuedBeforeDeviceLossIsDiscarded(t *testing.T) {
	s := &countingStrategy{gate: make(chan struct{})}
	ar := &mapArchive{entries: map[uint32][]byte{6: []byte("archived")}}
	f, _ := newTestFinder(t, s, Config[update]{Archives: ar})
	require.NoError(t, f.Start(context.Background()))

	// Hold the worker in a fetch for player 1.
	require.True(t, f.Submit(update{player: 1, slot: djlink.SlotUSB, id: 5}))
	require.Eventually(t, func() bool { return s.fetches.Load() == 1 }, waitFor, time.Millisecond)

	require.True(t, f.Submit(update{player: 2, slot: djlink.SlotUSB, id: 6}))
	f.DeviceLost(2)
	close(s.gate)

	require.Eventually(t, func() bool {
		_, ok := f.LatestFor(djlink.MainDeck(1))
		return ok
	}, waitFor, time.Millisecond)
	require.True(t, f.Submit(update{player: 3, slot: djlink.SlotUSB, id: 7}))
	require.Eventually(t, func() bool {
		_, ok := f.LatestFor(djlink.MainDeck(3))
		return ok
	}, waitFor, time.Millisecond)

	for deck := range f.LoadedRecords() {
		assert.NotEqual(t, djlink.DeviceID(2), deck.Player, "deck %s", deck)
	}

	// Once the player is back, its updates apply again.
	require.True(t, f.Submit(update{player: 2, slot: djlink.SlotUSB, id: 6}))
	require.Eventually(t, func() bool {
		_, ok := f.LatestFor(djlink.MainDeck(2))
		return ok
	}, waitFor, time.Millisecond)
}

func TestUpdateQueuedBeforeUnmountIsDiscarded(t *testing.T) {
	s := &countingStrategy{gate: make(chan struct{})}
	ar := &mapArchive{entries: map[uint32][]byte{6: []byte("archived")}}
	f, _ := newTestFinder(t, s, Config[update]{Archives: ar})
	require.NoError(t, f.Start(context.Background()))

	require.True(t, f.Submit(update{player: 1, slot: djlink.SlotSD, id: 5}))
	require.Eventually(t, func() bool { return s.fetches.Load() == 1 }, waitFor, time.Millisecond)

	// Player 4 loads a track from player 2's stick just before it is pulled.
	require.True(t, f.Submit(update{player: 4, source: 2, slot: djlink.SlotUSB, id: 6}))
	f.MediaUnmounted(djlink.SlotReference{Player: 2, Slot: djlink.SlotUSB})
	require.True(t, f.Submit(update{player: 3, slot: djlink.SlotSD, id: 7}))
	close(s.gate)

	require.Eventually(t, func() bool {
		_, ok := f.LatestFor(djlink.MainDeck(3))
		return ok
	}, waitFor, time.Millisecond)
	_, ok := f.LatestFor(djlink.MainDeck(4))
	assert.False(t, ok)
}

func TestSetCacheCapacity(t *testing.T) {
	s := &countingStrategy{}
	f, _ := newTestFinder(t, s, Config[update]{CacheCapacity: 4})

	err := f.SetCacheCapacity(0)
	assert.True(t, djlink.IsConfigurationError(err))

	require.NoError(t, f.Start(context.Background()))
	for id := uint32(1); id <= 4; id++ {
		_, err := f.RequestFor(context.Background(), ref(1, id))
		require.NoError(t, err)
	}
	err = f.SetCacheCapacity(2)
	assert.True(t, djlink.IsConfigurationError(err))
	assert.Equal(t, 4, f.CacheCapacity())
	assert.Equal(t, 4, f.lru.Len())

	f.Stop()
	require.NoError(t, f.SetCacheCapacity(2))
	assert.Equal(t, 2, f.CacheCapacity())
}

func TestShrinkKeepsMostRecent(t *testing.T) {
	s := &countingStrategy{}
	f, _ := newTestFinder(t, s, Config[update]{CacheCapacity: 4})
	for id := uint32(1); id <= 4; id++ {
		f.remember(ref(1, id), &record{ref: ref(1, id)})
	}
	_, _ = f.lru.Get(ref(1, 1))

	require.NoError(t, f.SetCacheCapacity(2))
	keys := f.lru.Keys()
	assert.ElementsMatch(t, []djlink.DataReference{ref(1, 1), ref(1, 4)}, keys)
}

func TestQueueOverflowDropsUpdates(t *testing.T) {
	s := &countingStrategy{gate: make(chan struct{})}
	f, _ := newTestFinder(t, s, Config[update]{QueueSize: 1})

	assert.False(t, f.Submit(update{player: 1, slot: djlink.SlotUSB, id: 1}), "stopped finders drop")

	require.NoError(t, f.Start(context.Background()))
	require.True(t, f.Submit(update{player: 1, slot: djlink.SlotUSB, id: 1}))
	require.Eventually(t, func() bool { return s.fetches.Load() == 1 }, waitFor, time.Millisecond)

	// The worker is blocked in the fetch; one update fits in the queue.
	assert.True(t, f.Submit(update{player: 1, slot: djlink.SlotUSB, id: 2}))
	assert.False(t, f.Submit(update{player: 1, slot: djlink.SlotUSB, id: 3}))
	assert.False(t, f.Submit(update{player: 1, slot: djlink.SlotUSB, id: 4}))
	assert.EqualValues(t, 2, f.Dropped())

	close(s.gate)
	require.Eventually(t, func() bool {
		got, ok := f.LatestFor(djlink.MainDeck(1))
		return ok && got.Reference().ID == 2
	}, waitFor, time.Millisecond)
}

func TestStopClearsWithoutEvents(t *testing.T) {
	s := &countingStrategy{}
	updates := listeners.NewHub[update]("updates")
	f, changes := newTestFinder(t, s, Config[update]{Updates: updates})

	var events []lifecycle.Event
	var mu sync.Mutex
	f.Participant().Subscribe(func(ev lifecycle.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	require.NoError(t, f.Start(context.Background()))
	require.NoError(t, f.Start(context.Background()))
	f.handleUpdate(context.Background(), update{player: 1, slot: djlink.SlotUSB, id: 1}, f.currentEpoch())
	changes.reset()

	f.Stop()
	f.Stop()
	assert.False(t, f.IsRunning())
	assert.Empty(t, changes.all())
	assert.Empty(t, f.LoadedRecords())
	assert.Zero(t, f.lru.Len())
	assert.Zero(t, updates.Len(), "stop unsubscribes")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []lifecycle.Event{
		{Sender: "test finder", Running: true},
		{Sender: "test finder", Running: false},
	}, events)
}

func TestStopInterruptsFetch(t *testing.T) {
	s := &countingStrategy{gate: make(chan struct{})}
	f, changes := newTestFinder(t, s, Config[update]{})
	require.NoError(t, f.Start(context.Background()))

	f.Submit(update{player: 1, slot: djlink.SlotUSB, id: 1})
	require.Eventually(t, func() bool { return s.fetches.Load() == 1 }, waitFor, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		f.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("stop did not interrupt the worker")
	}
	assert.Empty(t, changes.all())
}

func TestDependOnStopsWithDependency(t *testing.T) {
	dep := lifecycle.NewParticipant("metadata finder")
	f, _ := newTestFinder(t, &countingStrategy{}, Config[update]{})
	f.DependOn(dep)

	require.NoError(t, f.Start(context.Background()))
	dep.AnnounceStarted()
	assert.True(t, f.IsRunning())

	dep.AnnounceStopped()
	assert.False(t, f.IsRunning())

	// Restarting the dependency does not restart the dependent.
	dep.AnnounceStarted()
	assert.False(t, f.IsRunning())
}

func TestPanickingStrategyDoesNotKillWorker(t *testing.T) {
	s := &panicStrategy{countingStrategy: &countingStrategy{}}
	f, err := New[update, *record](s, Config[update]{Sessions: &fakeSessions{}})
	require.NoError(t, err)
	t.Cleanup(f.Stop)
	require.NoError(t, f.Start(context.Background()))

	f.Submit(update{player: 9, slot: djlink.SlotUSB, id: 1})
	f.Submit(update{player: 1, slot: djlink.SlotUSB, id: 1})
	require.Eventually(t, func() bool {
		_, ok := f.LatestFor(djlink.MainDeck(1))
		return ok
	}, waitFor, time.Millisecond)
}

type panicStrategy struct {
	*countingStrategy
}

func (p *panicStrategy) Target(u update) (Target, bool) {
	if u.player == 9 {
		panic("bad update")
	}
	return p.countingStrategy.Target(u)
}
