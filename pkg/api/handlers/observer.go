package handlers

import (
	"time"

	"github.com/marmos91/deckwatch/pkg/devices"
	"github.com/marmos91/deckwatch/pkg/djlink"
	"github.com/marmos91/deckwatch/pkg/finder"
	"github.com/marmos91/deckwatch/pkg/track"
)

// Observer is what the handlers read from. The runtime implements it.
type Observer interface {
	Running() bool
	Devices() []devices.Device
	Finders() []finder.Controller
	Metadata(deck djlink.DeckReference) (*track.Metadata, bool)
	Artwork(deck djlink.DeckReference) (*track.AlbumArt, bool)
}

// DeviceResponse describes one live device.
type DeviceResponse struct {
	Number    int       `json:"number"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	MAC       string    `json:"mac"`
	Mixer     bool      `json:"mixer"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

func newDeviceResponse(d devices.Device) DeviceResponse {
	return DeviceResponse{
		Number:    int(d.Number),
		Name:      d.Name,
		Address:   d.Address.String(),
		MAC:       d.MAC.String(),
		Mixer:     d.IsMixer(),
		FirstSeen: d.FirstSeen,
		LastSeen:  d.Timestamp,
	}
}

// ContentResponse identifies content held by a deck.
type ContentResponse struct {
	Player    int    `json:"player"`
	HotCue    int    `json:"hot_cue,omitempty"`
	Source    int    `json:"source_player"`
	Slot      string `json:"slot"`
	ContentID uint32 `json:"content_id"`
}

func newContentResponse(deck djlink.DeckReference, ref djlink.DataReference) ContentResponse {
	return ContentResponse{
		Player:    int(deck.Player),
		HotCue:    deck.HotCue,
		Source:    int(ref.Player),
		Slot:      ref.Slot.String(),
		ContentID: ref.ID,
	}
}

// FinderResponse summarizes one finder.
type FinderResponse struct {
	Kind          string `json:"kind"`
	Running       bool   `json:"running"`
	Passive       bool   `json:"passive"`
	CacheCapacity int    `json:"cache_capacity"`
	Dropped       uint64 `json:"dropped_updates"`
	Loaded        int    `json:"loaded_decks"`
}

func newFinderResponse(f finder.Controller) FinderResponse {
	return FinderResponse{
		Kind:          f.Kind(),
		Running:       f.IsRunning(),
		Passive:       f.IsPassive(),
		CacheCapacity: f.CacheCapacity(),
		Dropped:       f.Dropped(),
		Loaded:        len(f.Loaded()),
	}
}

// MetadataResponse is a deck's track metadata.
type MetadataResponse struct {
	ContentResponse
	*track.Metadata
}
