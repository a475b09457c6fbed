// Package djlink holds the value types shared by every layer that observes a
// DJ Link network: device numbers, deck, slot and content references, and
// the error taxonomy.
//
// All reference types are small comparable structs so they can be used
// directly as map keys.
package djlink

import "fmt"

// DeviceID is the device number a player or mixer announces (1-based).
type DeviceID uint8

// Valid reports whether id can belong to a real device.
func (id DeviceID) Valid() bool { return id > 0 }

// TrackSourceSlot identifies the media a track was loaded from.
type TrackSourceSlot uint8

const (
	SlotNoTrack    TrackSourceSlot = 0
	SlotCD         TrackSourceSlot = 1
	SlotSD         TrackSourceSlot = 2
	SlotUSB        TrackSourceSlot = 3
	SlotCollection TrackSourceSlot = 4
)

func (s TrackSourceSlot) String() string {
	switch s {
	case SlotNoTrack:
		return "none"
	case SlotCD:
		return "cd"
	case SlotSD:
		return "sd"
	case SlotUSB:
		return "usb"
	case SlotCollection:
		return "collection"
	default:
		return fmt.Sprintf("slot(%d)", uint8(s))
	}
}

// ParseSlot is the inverse of TrackSourceSlot.String for the named slots.
func ParseSlot(s string) (TrackSourceSlot, error) {
	for _, slot := range []TrackSourceSlot{SlotNoTrack, SlotCD, SlotSD, SlotUSB, SlotCollection} {
		if slot.String() == s {
			return slot, nil
		}
	}
	return SlotNoTrack, fmt.Errorf("unknown media slot %q", s)
}

// TrackType describes what kind of track is loaded.
type TrackType uint8

const (
	TrackTypeNone       TrackType = 0
	TrackTypeRekordbox  TrackType = 1
	TrackTypeUnanalyzed TrackType = 2
	TrackTypeCDAudio    TrackType = 5
)

func (t TrackType) String() string {
	switch t {
	case TrackTypeNone:
		return "none"
	case TrackTypeRekordbox:
		return "rekordbox"
	case TrackTypeUnanalyzed:
		return "unanalyzed"
	case TrackTypeCDAudio:
		return "cd_audio"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// DeckReference is a playback context that can hold a resolved resource:
// the main deck (HotCue 0) or one of the player's hot cues.
type DeckReference struct {
	Player DeviceID
	HotCue int
}

// MainDeck returns the main deck of player.
func MainDeck(player DeviceID) DeckReference {
	return DeckReference{Player: player}
}

func (d DeckReference) String() string {
	return fmt.Sprintf("%d:%d", d.Player, d.HotCue)
}

// SlotReference identifies a media slot on one player.
type SlotReference struct {
	Player DeviceID
	Slot   TrackSourceSlot
}

func (s SlotReference) String() string {
	return fmt.Sprintf("%d/%s", s.Player, s.Slot)
}

// DataReference identifies a piece of content (track, artwork image)
// independent of which deck plays it.
type DataReference struct {
	Player DeviceID
	Slot   TrackSourceSlot
	ID     uint32
}

// SlotReference returns the slot the content lives in.
func (r DataReference) SlotReference() SlotReference {
	return SlotReference{Player: r.Player, Slot: r.Slot}
}

// WithID returns the same slot with a different content id. Artwork is
// addressed this way: same media, artwork id instead of track id.
func (r DataReference) WithID(id uint32) DataReference {
	r.ID = id
	return r
}

func (r DataReference) String() string {
	return fmt.Sprintf("%d/%s/%d", r.Player, r.Slot, r.ID)
}
