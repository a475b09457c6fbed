// Package devices tracks which DJ Link devices are live on the network,
// based on the keep-alive announcements every device broadcasts.
package devices

import (
	"fmt"
	"net"
	"time"

	"github.com/marmos91/deckwatch/pkg/djlink"
)

// Announcement packet layout.
const (
	announcementLength = 0x36
	nameOffset         = 0x0c
	numberOffset       = 0x24
	macOffset          = 0x26
	ipOffset           = 0x2c
)

// Announcement is one decoded keep-alive packet.
type Announcement struct {
	Name      string
	Number    djlink.DeviceID
	MAC       net.HardwareAddr
	Address   net.IP
	Timestamp time.Time
}

// Device is a live device as reported by the registry.
type Device struct {
	Announcement
	FirstSeen time.Time
}

// IsMixer reports whether the device number is in the range mixers use.
func (a Announcement) IsMixer() bool { return a.Number >= 0x21 && a.Number <= 0x28 }

func (a Announcement) String() string {
	return fmt.Sprintf("%s #%d @%s", a.Name, a.Number, a.Address)
}

// ParseAnnouncement decodes a keep-alive packet received at ts.
func ParseAnnouncement(packet []byte, ts time.Time) (Announcement, error) {
	if !djlink.HasHeader(packet) {
		return Announcement{}, djlink.NewDecodeError("missing DJ Link header")
	}
	if kind := djlink.Kind(packet); kind != djlink.KindAnnouncement {
		return Announcement{}, djlink.NewDecodeError("not an announcement (kind 0x%02x)", kind)
	}
	if len(packet) != announcementLength {
		return Announcement{}, djlink.NewDecodeError("announcement length %d, expected %d", len(packet), announcementLength)
	}

	mac := make(net.HardwareAddr, 6)
	copy(mac, packet[macOffset:macOffset+6])
	ip := make(net.IP, 4)
	copy(ip, packet[ipOffset:ipOffset+4])

	ann := Announcement{
		Name:      djlink.DeviceName(packet, nameOffset),
		Number:    djlink.DeviceID(packet[numberOffset]),
		MAC:       mac,
		Address:   ip,
		Timestamp: ts,
	}
	if !ann.Number.Valid() {
		return Announcement{}, djlink.NewDecodeError("announcement with device number 0")
	}
	return ann, nil
}
