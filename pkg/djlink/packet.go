package djlink

import (
	"bytes"
	"encoding/binary"
)

// Header prefixes every DJ Link UDP packet.
var Header = []byte("Qspt1WmJOL")

// KindOffset is where the packet kind byte follows the header.
const KindOffset = 0x0a

// PacketKind values seen on the announcement and status ports.
const (
	KindAnnouncement byte = 0x06
	KindCDJStatus    byte = 0x0a
	KindMixerStatus  byte = 0x29
)

// DeviceNameLength is the fixed width of device name fields.
const DeviceNameLength = 20

// HasHeader reports whether packet starts with the DJ Link header and is
// long enough to carry a kind byte.
func HasHeader(packet []byte) bool {
	return len(packet) > KindOffset && bytes.Equal(packet[:len(Header)], Header)
}

// Kind returns the packet kind byte. The caller must check HasHeader first.
func Kind(packet []byte) byte { return packet[KindOffset] }

// Uint16 reads a big-endian field.
func Uint16(b []byte, off int) uint16 { return binary.BigEndian.Uint16(b[off:]) }

// Uint32 reads a big-endian field.
func Uint32(b []byte, off int) uint32 { return binary.BigEndian.Uint32(b[off:]) }

// DeviceName reads a NUL-padded name field.
func DeviceName(b []byte, off int) string {
	raw := b[off : off+DeviceNameLength]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw)
}
