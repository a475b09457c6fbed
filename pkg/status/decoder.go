package status

import (
	"net"
	"sync"
	"time"

	"github.com/marmos91/deckwatch/internal/logger"
	"github.com/marmos91/deckwatch/pkg/djlink"
	"github.com/marmos91/deckwatch/pkg/listeners"
	"github.com/marmos91/deckwatch/pkg/metrics"
)

// Offsets shared by both layouts.
const (
	nameOffset    = 0x0b
	deviceOffset  = 0x21
	payloadOffset = 0x22
	payloadBase   = 0x24
)

// Mixer layout.
const (
	mixerMinLength     = 0x38
	mixerFlags         = 0x27
	mixerPitch         = 0x28
	mixerBPM           = 0x2e
	mixerHandoff       = 0x36
	mixerBeatWithinBar = 0x37
)

// CDJ layout.
const (
	cdjMinLength     = 0xcc
	cdjTrackPlayer   = 0x28
	cdjTrackSlot     = 0x29
	cdjTrackType     = 0x2a
	cdjRekordboxID   = 0x2c
	cdjUSBState      = 0x6f
	cdjSDState       = 0x73
	cdjFlags         = 0x89
	cdjPitch         = 0x8c
	cdjBPM           = 0x92
	cdjHandoff       = 0x9f
	cdjBeatNumber    = 0xa0
	cdjBeatWithinBar = 0xa6
)

// Status flag bits.
const (
	flagPlaying = 0x40
	flagMaster  = 0x20
	flagSynced  = 0x10
	flagOnAir   = 0x08
)

// Packet lengths known to be produced by real hardware. Anything else is
// reported once per length.
var expectedLengths = map[PacketKind][]int{
	KindCDJ:   {0xd0, 0xd4, 0x11c, 0x124},
	KindMixer: {mixerMinLength},
}

// Anomaly describes a packet that decoded but looked unusual.
type Anomaly struct {
	Kind           PacketKind
	Length         int
	ReportedLength int
}

type anomalyKey struct {
	kind     PacketKind
	length   int
	mismatch bool
}

// DecoderConfig configures a Decoder.
type DecoderConfig struct {
	Metrics *metrics.DecoderMetrics

	// OnAnomaly, when set, is called alongside the warning log, once per
	// distinct (kind, length).
	OnAnomaly func(Anomaly)
}

// Decoder turns raw status packets into Updates and fans them out.
// It is safe for concurrent use.
type Decoder struct {
	config DecoderConfig

	mu   sync.Mutex
	seen map[anomalyKey]struct{}

	updates *listeners.Hub[Update]
}

// NewDecoder creates a decoder.
func NewDecoder(cfg DecoderConfig) *Decoder {
	d := &Decoder{
		config:  cfg,
		seen:    make(map[anomalyKey]struct{}),
		updates: listeners.NewHub[Update]("status updates"),
	}
	for kind, lengths := range expectedLengths {
		for _, n := range lengths {
			d.seen[anomalyKey{kind: kind, length: n}] = struct{}{}
		}
	}
	return d
}

// Updates delivers every successfully decoded packet. Listeners run on the
// packet-receive goroutine and must only enqueue.
func (d *Decoder) Updates() *listeners.Hub[Update] { return d.updates }

// HandlePacket is the transport handler for the status port.
func (d *Decoder) HandlePacket(packet []byte, from *net.UDPAddr, received time.Time) {
	u, err := d.Decode(packet, received)
	if err != nil {
		logger.Debug("Dropping status packet",
			logger.KeyAddress, from.String(), logger.KeyLength, len(packet), logger.KeyError, err)
		return
	}
	u.Address = from.IP
	d.updates.Publish(u)
}

// Decode parses one status packet received at ts.
func (d *Decoder) Decode(packet []byte, ts time.Time) (Update, error) {
	if !djlink.HasHeader(packet) {
		d.config.Metrics.RecordError("unknown")
		return Update{}, djlink.NewDecodeError("missing DJ Link header")
	}

	var kind PacketKind
	var minLength int
	switch k := djlink.Kind(packet); k {
	case djlink.KindCDJStatus:
		kind, minLength = KindCDJ, cdjMinLength
	case djlink.KindMixerStatus:
		kind, minLength = KindMixer, mixerMinLength
	default:
		d.config.Metrics.RecordError("unknown")
		return Update{}, djlink.NewDecodeError("unsupported status packet kind 0x%02x", k)
	}

	if len(packet) < minLength {
		d.config.Metrics.RecordError(kind.String())
		return Update{}, djlink.NewDecodeError("%s packet too short: need %d bytes, got %d", kind, minLength, len(packet))
	}

	d.checkLength(kind, packet)

	u := Update{
		Kind:      kind,
		Device:    djlink.DeviceID(packet[deviceOffset]),
		Name:      djlink.DeviceName(packet, nameOffset),
		Timestamp: ts,
	}
	if kind == KindMixer {
		decodeMixer(&u, packet)
	} else {
		decodeCDJ(&u, packet)
	}

	d.config.Metrics.RecordDecoded(kind.String())
	return u, nil
}

func decodeMixer(u *Update, p []byte) {
	flags := p[mixerFlags]
	u.Master = flags&flagMaster != 0
	u.Synced = flags&flagSynced != 0
	u.Playing = flags&flagPlaying != 0
	u.Pitch = djlink.Uint32(p, mixerPitch)
	u.BPM = djlink.Uint16(p, mixerBPM)
	u.handoff = p[mixerHandoff]
	u.BeatWithinBar = p[mixerBeatWithinBar]
}

func decodeCDJ(u *Update, p []byte) {
	u.TrackSourcePlayer = djlink.DeviceID(p[cdjTrackPlayer])
	u.TrackSlot = djlink.TrackSourceSlot(p[cdjTrackSlot])
	u.TrackType = djlink.TrackType(p[cdjTrackType])
	u.RekordboxID = djlink.Uint32(p, cdjRekordboxID)
	u.USBState = p[cdjUSBState]
	u.SDState = p[cdjSDState]

	flags := p[cdjFlags]
	u.Playing = flags&flagPlaying != 0
	u.Master = flags&flagMaster != 0
	u.Synced = flags&flagSynced != 0
	u.OnAir = flags&flagOnAir != 0

	u.Pitch = djlink.Uint32(p, cdjPitch)
	u.BPM = djlink.Uint16(p, cdjBPM)
	u.handoff = p[cdjHandoff]
	u.BeatNumber = djlink.Uint32(p, cdjBeatNumber)
	u.BeatWithinBar = p[cdjBeatWithinBar]
}

// checkLength reports a length anomaly once per distinct (kind, length).
// A self-reported payload length that disagrees with the actual one is
// anomalous even for a known total length.
func (d *Decoder) checkLength(kind PacketKind, packet []byte) {
	reported := int(djlink.Uint16(packet, payloadOffset)) + payloadBase
	key := anomalyKey{kind: kind, length: len(packet), mismatch: reported != len(packet)}

	d.mu.Lock()
	_, seen := d.seen[key]
	if !seen {
		d.seen[key] = struct{}{}
	}
	d.mu.Unlock()
	if seen {
		return
	}

	a := Anomaly{Kind: kind, Length: len(packet), ReportedLength: reported}
	logger.Warn("Status packet with unexpected length",
		logger.KeyPacket, kind.String(),
		logger.KeyLength, a.Length,
		"reported_length", a.ReportedLength)
	d.config.Metrics.RecordAnomaly(kind.String())
	if d.config.OnAnomaly != nil {
		d.config.OnAnomaly(a)
	}
}
