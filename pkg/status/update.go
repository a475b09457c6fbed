// Package status decodes the status packets players and mixers broadcast on
// port 50002 into immutable Update records.
package status

import (
	"fmt"
	"net"
	"time"

	"github.com/marmos91/deckwatch/pkg/djlink"
)

// PacketKind distinguishes the two status packet layouts.
type PacketKind uint8

const (
	KindCDJ PacketKind = iota + 1
	KindMixer
)

func (k PacketKind) String() string {
	switch k {
	case KindCDJ:
		return "cdj_status"
	case KindMixer:
		return "mixer_status"
	default:
		return fmt.Sprintf("status(%d)", uint8(k))
	}
}

// NoHandoff is the hand-off byte meaning no tempo master hand-off is pending.
const NoHandoff = 0xff

// MediaEmpty is the slot state byte for a slot with nothing mounted.
const MediaEmpty = 4

// pitchUnity is the raw pitch value for 0% (multiplier 1.0).
const pitchUnity = 0x100000

// Update is one decoded status packet. Fields a mixer does not send are zero.
type Update struct {
	Kind      PacketKind
	Device    djlink.DeviceID
	Name      string
	Address   net.IP
	Timestamp time.Time

	// Track identity (CDJ only).
	TrackSourcePlayer djlink.DeviceID
	TrackSlot         djlink.TrackSourceSlot
	TrackType         djlink.TrackType
	RekordboxID       uint32

	// Media slot states (CDJ only); MediaEmpty means nothing is mounted.
	USBState byte
	SDState  byte

	Playing bool
	Master  bool
	Synced  bool
	OnAir   bool

	// Pitch is the raw pitch value, pitchUnity meaning no adjustment.
	Pitch uint32

	// BPM is the track tempo times 100; 0xffff when no track is loaded.
	BPM uint16

	BeatNumber    uint32
	BeatWithinBar uint8

	handoff byte
}

// TrackLoaded returns the content reference of the loaded rekordbox track.
func (u Update) TrackLoaded() (djlink.DataReference, bool) {
	if u.Kind != KindCDJ || u.TrackType != djlink.TrackTypeRekordbox || u.RekordboxID == 0 ||
		u.TrackSlot == djlink.SlotNoTrack || !u.TrackSourcePlayer.Valid() {
		return djlink.DataReference{}, false
	}
	return djlink.DataReference{Player: u.TrackSourcePlayer, Slot: u.TrackSlot, ID: u.RekordboxID}, true
}

// PendingHandoff returns the device this one is yielding tempo master to.
func (u Update) PendingHandoff() (djlink.DeviceID, bool) {
	if u.handoff == NoHandoff {
		return 0, false
	}
	return djlink.DeviceID(u.handoff), true
}

// PitchMultiplier converts the raw pitch to a tempo multiplier.
func (u Update) PitchMultiplier() float64 {
	return float64(u.Pitch) / pitchUnity
}

// EffectiveTempo is the playing tempo in BPM after pitch adjustment.
func (u Update) EffectiveTempo() float64 {
	return float64(u.BPM) * u.PitchMultiplier() / 100.0
}

// BeatWithinBarMeaningful reports whether BeatWithinBar can be trusted.
// Mixers fill the field but do not track bars.
func (u Update) BeatWithinBarMeaningful() bool { return u.Kind == KindCDJ }

// MediaMounted reports whether slot holds media according to this update.
func (u Update) MediaMounted(slot djlink.TrackSourceSlot) bool {
	switch slot {
	case djlink.SlotUSB:
		return u.USBState != MediaEmpty
	case djlink.SlotSD:
		return u.SDState != MediaEmpty
	default:
		return false
	}
}

func (u Update) String() string {
	s := fmt.Sprintf("%s[device:%d, name:%s, bpm:%.1f, effective:%.2f, playing:%t, master:%t, synced:%t",
		u.Kind, u.Device, u.Name, float64(u.BPM)/100, u.EffectiveTempo(), u.Playing, u.Master, u.Synced)
	if ref, ok := u.TrackLoaded(); ok {
		s += ", track:" + ref.String()
	}
	if to, ok := u.PendingHandoff(); ok {
		s += fmt.Sprintf(", handoff:%d", to)
	}
	return s + "]"
}
