package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys. Use them consistently so logs can be queried by
// player, deck or content.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Network
	KeyPlayer  = "player"  // device number on the network
	KeyName    = "name"    // device name from its announcement
	KeyAddress = "address" // remote IP or IP:port
	KeyPort    = "port"
	KeyLength  = "length" // packet length in bytes
	KeyPacket  = "packet" // packet kind: cdj_status, mixer_status, announcement

	// Decks and content
	KeyDeck      = "deck"
	KeyHotCue    = "hot_cue"
	KeySlot      = "slot"
	KeyContentID = "content_id"
	KeyKind      = "kind" // resource kind handled by a finder

	// Database service
	KeyTxn         = "txn"
	KeyMessageType = "message_type"
	KeyRequest     = "request"

	// Caches and archives
	KeySource   = "source" // hot, hot_cue, lru, archive, network
	KeyCapacity = "capacity"
	KeyEvicted  = "evicted"
	KeyArchive  = "archive"
	KeyPath     = "path"
	KeyBucket   = "bucket"
	KeyKey      = "key"

	// Operation metadata
	KeyOperation  = "operation"
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyCount      = "count"
	KeyQueueSize  = "queue_size"
	KeyHub        = "hub"
	KeyEvent      = "event" // Go type of a delivered event
	KeyStack      = "stack"
)

// Player returns the player attribute.
func Player(id int) slog.Attr { return slog.Int(KeyPlayer, id) }

// Name returns the device name attribute.
func Name(n string) slog.Attr { return slog.String(KeyName, n) }

// Address returns the remote address attribute.
func Address(a string) slog.Attr { return slog.String(KeyAddress, a) }

// Port returns a port attribute.
func Port(p int) slog.Attr { return slog.Int(KeyPort, p) }

// Length returns a packet length attribute.
func Length(n int) slog.Attr { return slog.Int(KeyLength, n) }

// Packet returns a packet kind attribute.
func Packet(kind string) slog.Attr { return slog.String(KeyPacket, kind) }

// Deck formats a deck as player:hot_cue.
func Deck(player, hotCue int) slog.Attr {
	return slog.String(KeyDeck, fmt.Sprintf("%d:%d", player, hotCue))
}

// HotCue returns a hot cue number attribute.
func HotCue(n int) slog.Attr { return slog.Int(KeyHotCue, n) }

// Slot returns a media slot attribute.
func Slot(s string) slog.Attr { return slog.String(KeySlot, s) }

// ContentID returns a rekordbox/artwork id attribute.
func ContentID(id uint32) slog.Attr { return slog.Uint64(KeyContentID, uint64(id)) }

// Kind returns a resource kind attribute.
func Kind(k string) slog.Attr { return slog.String(KeyKind, k) }

// Txn returns a transaction number attribute.
func Txn(n uint32) slog.Attr { return slog.Uint64(KeyTxn, uint64(n)) }

// MessageType formats a message type as hex.
func MessageType(t uint16) slog.Attr {
	return slog.String(KeyMessageType, fmt.Sprintf("0x%04x", t))
}

// Request returns a request description attribute.
func Request(desc string) slog.Attr { return slog.String(KeyRequest, desc) }

// Source returns the cache tier that served a lookup.
func Source(s string) slog.Attr { return slog.String(KeySource, s) }

// Capacity returns a cache capacity attribute.
func Capacity(n int) slog.Attr { return slog.Int(KeyCapacity, n) }

// Evicted returns an eviction count attribute.
func Evicted(n int) slog.Attr { return slog.Int(KeyEvicted, n) }

// Archive returns an archive backend attribute.
func Archive(name string) slog.Attr { return slog.String(KeyArchive, name) }

// Path returns a filesystem path attribute.
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }

// Bucket returns an object store bucket attribute.
func Bucket(b string) slog.Attr { return slog.String(KeyBucket, b) }

// Key returns an object key attribute.
func Key(k string) slog.Attr { return slog.String(KeyKey, k) }

// Operation returns an operation name attribute.
func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }

// DurationMs returns a duration attribute in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Count returns a generic count attribute.
func Count(n int) slog.Attr { return slog.Int(KeyCount, n) }

// QueueSize returns a queue capacity attribute.
func QueueSize(n int) slog.Attr { return slog.Int(KeyQueueSize, n) }

// Err returns the error attribute, or an empty attr for nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
