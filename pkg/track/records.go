// Package track defines the resources resolved for loaded tracks and the
// finder strategies that fetch them from players.
package track

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/marmos91/deckwatch/pkg/djlink"
)

// Cue is a memory point, loop or hot cue from a track's cue list.
type Cue struct {
	HotCue     int   `json:"hot_cue,omitempty"`
	Loop       bool  `json:"loop,omitempty"`
	PositionMs int64 `json:"position_ms"`
	LoopEndMs  int64 `json:"loop_end_ms,omitempty"`
}

// Metadata describes a rekordbox track.
type Metadata struct {
	Ref djlink.DataReference `json:"-"`

	Title     string  `json:"title"`
	Artist    string  `json:"artist,omitempty"`
	Album     string  `json:"album,omitempty"`
	Genre     string  `json:"genre,omitempty"`
	Label     string  `json:"label,omitempty"`
	Key       string  `json:"key,omitempty"`
	Comment   string  `json:"comment,omitempty"`
	Duration  int     `json:"duration_seconds,omitempty"`
	Tempo     float64 `json:"tempo,omitempty"`
	Rating    int     `json:"rating,omitempty"`
	ArtworkID uint32  `json:"artwork_id,omitempty"`
	Cues      []Cue   `json:"cues,omitempty"`
}

func (m *Metadata) Reference() djlink.DataReference { return m.Ref }

// HotCues returns the distinct hot cue numbers in the cue list, sorted.
func (m *Metadata) HotCues() []int {
	seen := make(map[int]bool)
	var out []int
	for _, c := range m.Cues {
		if c.HotCue > 0 && !seen[c.HotCue] {
			seen[c.HotCue] = true
			out = append(out, c.HotCue)
		}
	}
	sort.Ints(out)
	return out
}

func (m *Metadata) String() string {
	return fmt.Sprintf("%s: %q by %q", m.Ref, m.Title, m.Artist)
}

// AlbumArt is the raw image a player stores for an artwork id.
type AlbumArt struct {
	Ref   djlink.DataReference
	Image []byte
}

func (a *AlbumArt) Reference() djlink.DataReference { return a.Ref }

// WaveformPreview is the overview waveform drawn above the jog wheel. Each
// segment is two bytes: height in the low five bits of the first, whiteness
// in the low three bits of the second.
type WaveformPreview struct {
	Ref  djlink.DataReference
	Data []byte
}

func (w *WaveformPreview) Reference() djlink.DataReference { return w.Ref }

// MaxSegmentHeight is the tallest a segment can be.
const MaxSegmentHeight = 31

// Segments returns the number of segments.
func (w *WaveformPreview) Segments() int { return len(w.Data) / 2 }

// SegmentHeight returns the height of segment i, 0-31.
func (w *WaveformPreview) SegmentHeight(i int) int {
	return int(w.Data[i*2] & 0x1f)
}

// SegmentWhiteness returns the whiteness of segment i, 0-7.
func (w *WaveformPreview) SegmentWhiteness(i int) int {
	return int(w.Data[i*2+1] & 0x07)
}

const (
	beatGridHeader    = 0x14
	beatGridEntrySize = 16
)

// Beat is one entry of a beat grid.
type Beat struct {
	BeatWithinBar int
	Tempo         int // BPM × 100
	TimeMs        int64
}

// BeatGrid lists where every beat of a track falls. Beats are numbered
// from 1.
type BeatGrid struct {
	Ref   djlink.DataReference
	Beats []Beat
	raw   []byte
}

func (g *BeatGrid) Reference() djlink.DataReference { return g.Ref }

// ParseBeatGrid decodes the grid format players send: a 0x14-byte header
// followed by 16-byte little-endian entries.
func ParseBeatGrid(ref djlink.DataReference, data []byte) (*BeatGrid, error) {
	if len(data) < beatGridHeader {
		return nil, djlink.NewDecodeError("beat grid of %d bytes is shorter than its header", len(data))
	}
	body := data[beatGridHeader:]
	if len(body)%beatGridEntrySize != 0 {
		return nil, djlink.NewDecodeError("beat grid body of %d bytes is not a whole number of entries", len(body))
	}
	beats := make([]Beat, len(body)/beatGridEntrySize)
	for i := range beats {
		e := body[i*beatGridEntrySize:]
		beats[i] = Beat{
			BeatWithinBar: int(binary.LittleEndian.Uint16(e[0:2])),
			Tempo:         int(binary.LittleEndian.Uint16(e[2:4])),
			TimeMs:        int64(binary.LittleEndian.Uint32(e[4:8])),
		}
	}
	return &BeatGrid{Ref: ref, Beats: beats, raw: data}, nil
}

// Bytes returns the wire form the grid was parsed from.
func (g *BeatGrid) Bytes() []byte { return g.raw }

// BeatCount returns the number of beats.
func (g *BeatGrid) BeatCount() int { return len(g.Beats) }

func (g *BeatGrid) beat(n int) (Beat, error) {
	if n < 1 || n > len(g.Beats) {
		return Beat{}, fmt.Errorf("beat %d out of range 1-%d", n, len(g.Beats))
	}
	return g.Beats[n-1], nil
}

// BeatWithinBar returns where beat n falls in its bar, 1-4.
func (g *BeatGrid) BeatWithinBar(n int) (int, error) {
	b, err := g.beat(n)
	return b.BeatWithinBar, err
}

// TimeOfBeat returns the time of beat n in milliseconds.
func (g *BeatGrid) TimeOfBeat(n int) (int64, error) {
	b, err := g.beat(n)
	return b.TimeMs, err
}

// FindBeatAtTime returns the number of the last beat at or before ms, or 0
// when ms is before the first beat.
func (g *BeatGrid) FindBeatAtTime(ms int64) int {
	return sort.Search(len(g.Beats), func(i int) bool { return g.Beats[i].TimeMs > ms })
}
