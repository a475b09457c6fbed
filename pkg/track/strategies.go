package track

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/marmos91/deckwatch/internal/logger"
	"github.com/marmos91/deckwatch/pkg/archive"
	"github.com/marmos91/deckwatch/pkg/dbserver"
	"github.com/marmos91/deckwatch/pkg/djlink"
	"github.com/marmos91/deckwatch/pkg/finder"
	"github.com/marmos91/deckwatch/pkg/status"
)

// Kind names used by finders, metrics and the API.
const (
	KindMetadata = "metadata"
	KindArtwork  = "artwork"
	KindWaveform = "waveform"
	KindBeatGrid = "beat_grid"
)

// MetadataChange is what the metadata finder publishes and the derived
// finders consume.
type MetadataChange = finder.Change[*Metadata]

// Menu item types in metadata responses.
const (
	itemAlbum    = 0x02
	itemTitle    = 0x04
	itemGenre    = 0x06
	itemArtist   = 0x07
	itemRating   = 0x0a
	itemDuration = 0x0b
	itemTempo    = 0x0d
	itemLabel    = 0x0e
	itemKey      = 0x0f
	itemComment  = 0x23
)

// Menu item argument positions.
const (
	argNumber   = 1
	argLabel    = 3
	argItemType = 6
	argArtwork  = 8
)

// Binary payloads are the fourth argument of data responses.
const argPayload = 3

const (
	cueEntrySize = 36
	// Cue positions are counted in half-frames, 150 per second.
	cueUnitsPerSecond = 150
)

// MetadataStrategy resolves track metadata for CDJ status updates.
type MetadataStrategy struct{}

var _ finder.Strategy[status.Update, *Metadata] = MetadataStrategy{}

func (MetadataStrategy) Kind() string { return KindMetadata }

func (MetadataStrategy) Target(u status.Update) (finder.Target, bool) {
	if u.Kind != status.KindCDJ {
		return finder.Target{}, false
	}
	deck := djlink.MainDeck(u.Device)
	ref, ok := u.TrackLoaded()
	if !ok {
		return finder.Target{Deck: deck, Clear: true}, true
	}
	return finder.Target{Deck: deck, Ref: ref}, true
}

func (MetadataStrategy) HotCues(_ status.Update, md *Metadata) []int { return md.HotCues() }

func (MetadataStrategy) Fetch(ctx context.Context, conn dbserver.Conn, ref djlink.DataReference) (*Metadata, error) {
	items, err := conn.MenuRequest(ctx, dbserver.MetadataRequest, ref.Slot, djlink.TrackTypeRekordbox,
		dbserver.Number4(ref.ID))
	if err != nil {
		return nil, err
	}
	md, err := parseMetadata(ref, items)
	if err != nil {
		return nil, err
	}

	cues, err := requestCueList(ctx, conn, ref)
	switch {
	case err == nil:
		md.Cues = cues
	case errors.Is(err, dbserver.ErrUnavailable):
	default:
		return nil, err
	}
	return md, nil
}

func (MetadataStrategy) ArchiveKind() archive.Kind { return archive.KindMetadata }

func (MetadataStrategy) Decode(ref djlink.DataReference, data []byte) (*Metadata, error) {
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("decode archived metadata: %w", err)
	}
	md.Ref = ref
	return &md, nil
}

// EncodeMetadata produces the archive form of md.
func EncodeMetadata(md *Metadata) ([]byte, error) {
	return json.Marshal(md)
}

func parseMetadata(ref djlink.DataReference, items []*dbserver.Message) (*Metadata, error) {
	md := &Metadata{Ref: ref}
	for _, item := range items {
		itemType, err := item.NumberArg(argItemType)
		if err != nil {
			return nil, err
		}
		number, err := item.NumberArg(argNumber)
		if err != nil {
			return nil, err
		}
		label, err := item.StringArg(argLabel)
		if err != nil {
			return nil, err
		}

		switch itemType & 0xffff {
		case itemTitle:
			md.Title = label
			if art, err := item.NumberArg(argArtwork); err == nil {
				md.ArtworkID = art
			}
		case itemArtist:
			md.Artist = label
		case itemAlbum:
			md.Album = label
		case itemGenre:
			md.Genre = label
		case itemLabel:
			md.Label = label
		case itemKey:
			md.Key = label
		case itemComment:
			md.Comment = label
		case itemDuration:
			md.Duration = int(number)
		case itemTempo:
			md.Tempo = float64(number) / 100
		case itemRating:
			md.Rating = int(number)
		default:
			logger.Debug("Ignoring unknown metadata item", "item_type", itemType, logger.KeyContentID, ref.ID)
		}
	}
	if md.Title == "" {
		return nil, fmt.Errorf("metadata for %s has no title item", ref)
	}
	return md, nil
}

func requestCueList(ctx context.Context, conn dbserver.Conn, ref djlink.DataReference) ([]Cue, error) {
	resp, err := conn.SimpleRequest(ctx, dbserver.CueListRequest, dbserver.CueListResponse,
		conn.Target(ref.Slot, djlink.TrackTypeRekordbox), dbserver.Number4(ref.ID))
	if err != nil {
		return nil, err
	}
	data, err := resp.BinaryArg(argPayload)
	if err != nil {
		return nil, err
	}
	return ParseCueList(data)
}

// ParseCueList decodes 36-byte cue entries. Byte 0 flags a loop, byte 1
// marks the entry as used, byte 2 is the hot cue number, and the cue and
// loop end positions are little-endian at 0x0c and 0x10.
func ParseCueList(data []byte) ([]Cue, error) {
	if len(data)%cueEntrySize != 0 {
		return nil, djlink.NewDecodeError("cue list of %d bytes is not a whole number of entries", len(data))
	}
	var cues []Cue
	for off := 0; off < len(data); off += cueEntrySize {
		e := data[off : off+cueEntrySize]
		if e[1] == 0 {
			continue
		}
		c := Cue{
			HotCue:     int(e[2]),
			Loop:       e[0] != 0,
			PositionMs: cueMillis(binary.LittleEndian.Uint32(e[0x0c:])),
		}
		if c.Loop {
			c.LoopEndMs = cueMillis(binary.LittleEndian.Uint32(e[0x10:]))
		}
		cues = append(cues, c)
	}
	return cues, nil
}

func cueMillis(units uint32) int64 {
	return int64(units) * 1000 / cueUnitsPerSecond
}

// derivedTarget maps a main-deck metadata change to a reference picked by id.
// Hot cue decks are filled through HotCues instead.
func derivedTarget(ch MetadataChange, id func(*Metadata) uint32) (finder.Target, bool) {
	if ch.Deck.HotCue != 0 {
		return finder.Target{}, false
	}
	if ch.Cleared || ch.Record == nil {
		return finder.Target{Deck: ch.Deck, Clear: true}, true
	}
	n := id(ch.Record)
	if n == 0 {
		return finder.Target{Deck: ch.Deck, Clear: true}, true
	}
	return finder.Target{Deck: ch.Deck, Ref: ch.Record.Ref.WithID(n)}, true
}

func derivedHotCues(ch MetadataChange) []int {
	if ch.Record == nil {
		return nil
	}
	return ch.Record.HotCues()
}

func trackID(md *Metadata) uint32   { return md.Ref.ID }
func artworkID(md *Metadata) uint32 { return md.ArtworkID }

func requestPayload(ctx context.Context, conn dbserver.Conn, t, expected dbserver.MessageType, ref djlink.DataReference, args ...dbserver.Field) ([]byte, error) {
	all := append([]dbserver.Field{conn.Target(ref.Slot, djlink.TrackTypeRekordbox)}, args...)
	resp, err := conn.SimpleRequest(ctx, t, expected, all...)
	if err != nil {
		return nil, err
	}
	data, err := resp.BinaryArg(argPayload)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, dbserver.ErrUnavailable
	}
	return data, nil
}

// ArtworkStrategy resolves album art for tracks whose metadata names an
// artwork id.
type ArtworkStrategy struct{}

var _ finder.Strategy[MetadataChange, *AlbumArt] = ArtworkStrategy{}

func (ArtworkStrategy) Kind() string { return KindArtwork }

func (ArtworkStrategy) Target(ch MetadataChange) (finder.Target, bool) {
	return derivedTarget(ch, artworkID)
}

func (ArtworkStrategy) HotCues(ch MetadataChange, _ *AlbumArt) []int { return derivedHotCues(ch) }

func (ArtworkStrategy) Fetch(ctx context.Context, conn dbserver.Conn, ref djlink.DataReference) (*AlbumArt, error) {
	data, err := requestPayload(ctx, conn, dbserver.AlbumArtRequest, dbserver.AlbumArtResponse, ref,
		dbserver.Number4(ref.ID))
	if err != nil {
		return nil, err
	}
	return &AlbumArt{Ref: ref, Image: data}, nil
}

func (ArtworkStrategy) ArchiveKind() archive.Kind { return archive.KindArtwork }

func (ArtworkStrategy) Decode(ref djlink.DataReference, data []byte) (*AlbumArt, error) {
	return &AlbumArt{Ref: ref, Image: data}, nil
}

// WaveformStrategy resolves waveform previews.
type WaveformStrategy struct{}

var _ finder.Strategy[MetadataChange, *WaveformPreview] = WaveformStrategy{}

func (WaveformStrategy) Kind() string { return KindWaveform }

func (WaveformStrategy) Target(ch MetadataChange) (finder.Target, bool) {
	return derivedTarget(ch, trackID)
}

func (WaveformStrategy) HotCues(ch MetadataChange, _ *WaveformPreview) []int {
	return derivedHotCues(ch)
}

func (WaveformStrategy) Fetch(ctx context.Context, conn dbserver.Conn, ref djlink.DataReference) (*WaveformPreview, error) {
	data, err := requestPayload(ctx, conn, dbserver.WavePreviewRequest, dbserver.WavePreviewResponse, ref,
		dbserver.Number4(1), dbserver.Number4(ref.ID), dbserver.Number4(0))
	if err != nil {
		return nil, err
	}
	return WaveformStrategy{}.Decode(ref, data)
}

func (WaveformStrategy) ArchiveKind() archive.Kind { return archive.KindWaveform }

func (WaveformStrategy) Decode(ref djlink.DataReference, data []byte) (*WaveformPreview, error) {
	if len(data) < 2 {
		return nil, djlink.NewDecodeError("waveform preview of %d bytes has no segments", len(data))
	}
	return &WaveformPreview{Ref: ref, Data: data}, nil
}

// BeatGridStrategy resolves beat grids.
type BeatGridStrategy struct{}

var _ finder.Strategy[MetadataChange, *BeatGrid] = BeatGridStrategy{}

func (BeatGridStrategy) Kind() string { return KindBeatGrid }

func (BeatGridStrategy) Target(ch MetadataChange) (finder.Target, bool) {
	return derivedTarget(ch, trackID)
}

func (BeatGridStrategy) HotCues(ch MetadataChange, _ *BeatGrid) []int { return derivedHotCues(ch) }

func (BeatGridStrategy) Fetch(ctx context.Context, conn dbserver.Conn, ref djlink.DataReference) (*BeatGrid, error) {
	data, err := requestPayload(ctx, conn, dbserver.BeatGridRequest, dbserver.BeatGridResponse, ref,
		dbserver.Number4(ref.ID))
	if err != nil {
		return nil, err
	}
	return ParseBeatGrid(ref, data)
}

func (BeatGridStrategy) ArchiveKind() archive.Kind { return archive.KindBeatGrid }

func (BeatGridStrategy) Decode(ref djlink.DataReference, data []byte) (*BeatGrid, error) {
	return ParseBeatGrid(ref, data)
}
