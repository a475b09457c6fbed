package dbserver

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// messageMagic opens every message.
const messageMagic uint32 = 0x872349ae

// maxArgs is the number of argument tags the tag blob can describe.
const maxArgs = 12

// MessageType identifies a request or response.
type MessageType uint16

const (
	SetupRequest        MessageType = 0x0000
	TeardownRequest     MessageType = 0x0100
	MetadataRequest     MessageType = 0x2002
	AlbumArtRequest     MessageType = 0x2003
	WavePreviewRequest  MessageType = 0x2004
	CueListRequest      MessageType = 0x2104
	BeatGridRequest     MessageType = 0x2204
	RenderMenuRequest   MessageType = 0x3000
	MenuAvailable       MessageType = 0x4000
	MenuHeader          MessageType = 0x4001
	AlbumArtResponse    MessageType = 0x4002
	Unavailable         MessageType = 0x4003
	MenuItem            MessageType = 0x4101
	MenuFooter          MessageType = 0x4201
	WavePreviewResponse MessageType = 0x4402
	BeatGridResponse    MessageType = 0x4602
	CueListResponse     MessageType = 0x4702
)

var messageTypeNames = map[MessageType]string{
	SetupRequest:        "SETUP_REQ",
	TeardownRequest:     "TEARDOWN_REQ",
	MetadataRequest:     "METADATA_REQ",
	AlbumArtRequest:     "ALBUM_ART_REQ",
	WavePreviewRequest:  "WAVE_PREVIEW_REQ",
	CueListRequest:      "CUE_LIST_REQ",
	BeatGridRequest:     "BEAT_GRID_REQ",
	RenderMenuRequest:   "RENDER_MENU_REQ",
	MenuAvailable:       "MENU_AVAILABLE",
	MenuHeader:          "MENU_HEADER",
	AlbumArtResponse:    "ALBUM_ART",
	Unavailable:         "UNAVAILABLE",
	MenuItem:            "MENU_ITEM",
	MenuFooter:          "MENU_FOOTER",
	WavePreviewResponse: "WAVE_PREVIEW",
	BeatGridResponse:    "BEAT_GRID",
	CueListResponse:     "CUE_LIST",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", uint16(t))
}

// Message is one request or response.
type Message struct {
	Transaction uint32
	Type        MessageType
	Args        []Field
}

// NewMessage builds a message.
func NewMessage(txn uint32, t MessageType, args ...Field) *Message {
	return &Message{Transaction: txn, Type: t, Args: args}
}

// NumberArg returns argument i as a number.
func (m *Message) NumberArg(i int) (uint32, error) {
	if i >= len(m.Args) {
		return 0, fmt.Errorf("%s has %d arguments, wanted index %d", m.Type, len(m.Args), i)
	}
	switch m.Args[i].Type {
	case FieldNumber1, FieldNumber2, FieldNumber4:
		return m.Args[i].Number, nil
	default:
		return 0, fmt.Errorf("%s argument %d is not a number", m.Type, i)
	}
}

// BinaryArg returns argument i as bytes.
func (m *Message) BinaryArg(i int) ([]byte, error) {
	if i >= len(m.Args) || m.Args[i].Type != FieldBinary {
		return nil, fmt.Errorf("%s has no binary argument %d", m.Type, i)
	}
	return m.Args[i].Bytes, nil
}

// StringArg returns argument i as text.
func (m *Message) StringArg(i int) (string, error) {
	if i >= len(m.Args) || m.Args[i].Type != FieldString {
		return "", fmt.Errorf("%s has no string argument %d", m.Type, i)
	}
	return m.Args[i].Text, nil
}

// Encode returns the wire form of m.
func (m *Message) Encode() ([]byte, error) {
	if len(m.Args) > maxArgs {
		return nil, fmt.Errorf("%s has %d arguments, maximum is %d", m.Type, len(m.Args), maxArgs)
	}

	tags := make([]byte, maxArgs)
	for i, a := range m.Args {
		tags[i] = a.argTag()
	}

	fields := append([]Field{
		Number4(messageMagic),
		Number4(m.Transaction),
		Number2(uint16(m.Type)),
		Number1(uint8(len(m.Args))),
		Binary(tags),
	}, m.Args...)

	var buf bytes.Buffer
	for _, f := range fields {
		b, err := f.Encode()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

// WriteTo writes m to w.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	b, err := m.Encode()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// ReadMessage reads one message, rejecting any field larger than maxSize.
func ReadMessage(r *bufio.Reader, maxSize int) (*Message, error) {
	magic, err := ReadField(r, maxSize)
	if err != nil {
		return nil, err
	}
	if magic.Type != FieldNumber4 || magic.Number != messageMagic {
		return nil, fmt.Errorf("bad message magic %s", magic)
	}

	txn, err := expectField(r, maxSize, FieldNumber4, "transaction")
	if err != nil {
		return nil, err
	}
	typ, err := expectField(r, maxSize, FieldNumber2, "type")
	if err != nil {
		return nil, err
	}
	argc, err := expectField(r, maxSize, FieldNumber1, "argument count")
	if err != nil {
		return nil, err
	}
	if argc.Number > maxArgs {
		return nil, fmt.Errorf("argument count %d exceeds %d", argc.Number, maxArgs)
	}
	if _, err := expectField(r, maxSize, FieldBinary, "argument tags"); err != nil {
		return nil, err
	}

	m := &Message{Transaction: txn.Number, Type: MessageType(typ.Number)}
	for i := 0; i < int(argc.Number); i++ {
		f, err := ReadField(r, maxSize)
		if err != nil {
			return nil, fmt.Errorf("read %s argument %d: %w", m.Type, i, err)
		}
		m.Args = append(m.Args, f)
	}
	return m, nil
}

func expectField(r io.Reader, maxSize int, t FieldType, what string) (Field, error) {
	f, err := ReadField(r, maxSize)
	if err != nil {
		return Field{}, fmt.Errorf("read %s: %w", what, err)
	}
	if f.Type != t {
		return Field{}, fmt.Errorf("%s: expected field type 0x%02x, got 0x%02x", what, byte(t), byte(f.Type))
	}
	return f, nil
}
