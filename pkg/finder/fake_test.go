package finder

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/deckwatch/pkg/archive"
	"github.com/marmos91/deckwatch/pkg/dbserver"
	"github.com/marmos91/deckwatch/pkg/djlink"
)

type record struct {
	ref  djlink.DataReference
	body string
}

func (r *record) Reference() djlink.DataReference { return r.ref }

type update struct {
	player djlink.DeviceID
	source djlink.DeviceID // player the track was loaded from; defaults to player
	slot   djlink.TrackSourceSlot
	id     uint32
	cues   []int
	ignore bool
}

// countingStrategy fetches records whose body is the content id. When gate
// is set, every fetch blocks until it is closed.
type countingStrategy struct {
	fetches atomic.Int64
	gate    chan struct{}
	fail    error
}

func (s *countingStrategy) Kind() string { return "test" }

func (s *countingStrategy) Target(u update) (Target, bool) {
	if u.ignore {
		return Target{}, false
	}
	deck := djlink.MainDeck(u.player)
	if u.id == 0 {
		return Target{Deck: deck, Clear: true}, true
	}
	source := u.source
	if source == 0 {
		source = u.player
	}
	return Target{Deck: deck, Ref: djlink.DataReference{Player: source, Slot: u.slot, ID: u.id}}, true
}

func (s *countingStrategy) HotCues(u update, _ *record) []int { return u.cues }

func (s *countingStrategy) Fetch(ctx context.Context, _ dbserver.Conn, ref djlink.DataReference) (*record, error) {
	s.fetches.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.fail != nil {
		return nil, s.fail
	}
	return &record{ref: ref, body: strconv.FormatUint(uint64(ref.ID), 10)}, nil
}

func (s *countingStrategy) ArchiveKind() archive.Kind { return archive.KindMetadata }

func (s *countingStrategy) Decode(ref djlink.DataReference, data []byte) (*record, error) {
	if len(data) == 0 {
		return nil, errors.New("empty")
	}
	return &record{ref: ref, body: string(data)}, nil
}

// fakeSessions runs exchange functions directly, counting them.
type fakeSessions struct {
	exchanges atomic.Int64
}

func (f *fakeSessions) Exchange(ctx context.Context, _ djlink.DeviceID, _ string, fn func(context.Context, dbserver.Conn) error) error {
	f.exchanges.Add(1)
	return fn(ctx, nil)
}

// mapArchive serves entries from memory for every slot.
type mapArchive struct {
	mu      sync.Mutex
	entries map[uint32][]byte
}

func (m *mapArchive) For(djlink.SlotReference) (archive.Archive, bool) { return m, true }

func (m *mapArchive) Lookup(_ context.Context, _ archive.Kind, id uint32) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entries[id]
	return data, ok, nil
}

func (m *mapArchive) Name() string { return "memory" }
func (m *mapArchive) Close() error { return nil }

// changeRecorder collects published changes.
type changeRecorder struct {
	mu      sync.Mutex
	changes []Change[*record]
}

func (c *changeRecorder) add(ch Change[*record]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, ch)
}

func (c *changeRecorder) all() []Change[*record] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Change[*record](nil), c.changes...)
}

func (c *changeRecorder) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = nil
}

func ref(player djlink.DeviceID, id uint32) djlink.DataReference {
	return djlink.DataReference{Player: player, Slot: djlink.SlotUSB, ID: id}
}

func newTestFinder(t *testing.T, s *countingStrategy, cfg Config[update]) (*Finder[update, *record], *changeRecorder) {
	t.Helper()
	if cfg.Sessions == nil {
		cfg.Sessions = &fakeSessions{}
	}
	f, err := New[update, *record](s, cfg)
	require.NoError(t, err)
	rec := &changeRecorder{}
	f.Subscribe(rec.add)
	t.Cleanup(f.Stop)
	return f, rec
}
