// Package dbserver talks to the database service each player exposes over
// TCP: field and message framing, connection setup, request helpers, and
// the SessionManager that serializes access to one conversation per player.
package dbserver

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
)

// FieldType is the tag byte that precedes every field on the wire.
type FieldType byte

const (
	FieldNumber1 FieldType = 0x0f
	FieldNumber2 FieldType = 0x10
	FieldNumber4 FieldType = 0x11
	FieldBinary  FieldType = 0x14
	FieldString  FieldType = 0x26
)

// Argument tags written to a message's 12-byte argument tag blob.
const (
	argTagString byte = 0x02
	argTagBinary byte = 0x03
	argTagNumber byte = 0x06
)

var utf16be = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// Field is one typed value. Exactly one of Number, Bytes or Text is
// meaningful, chosen by Type.
type Field struct {
	Type   FieldType
	Number uint32
	Bytes  []byte
	Text   string
}

// Number1 builds a one-byte number field.
func Number1(v uint8) Field { return Field{Type: FieldNumber1, Number: uint32(v)} }

// Number2 builds a two-byte number field.
func Number2(v uint16) Field { return Field{Type: FieldNumber2, Number: uint32(v)} }

// Number4 builds a four-byte number field.
func Number4(v uint32) Field { return Field{Type: FieldNumber4, Number: v} }

// Binary builds a binary field.
func Binary(b []byte) Field { return Field{Type: FieldBinary, Bytes: b} }

// String builds a string field.
func String(s string) Field { return Field{Type: FieldString, Text: s} }

func (f Field) argTag() byte {
	switch f.Type {
	case FieldString:
		return argTagString
	case FieldBinary:
		return argTagBinary
	default:
		return argTagNumber
	}
}

func (f Field) String() string {
	switch f.Type {
	case FieldBinary:
		return fmt.Sprintf("binary[%d]", len(f.Bytes))
	case FieldString:
		return fmt.Sprintf("%q", f.Text)
	default:
		return fmt.Sprintf("%d", f.Number)
	}
}

// Encode returns the wire form of f.
func (f Field) Encode() ([]byte, error) {
	switch f.Type {
	case FieldNumber1:
		return []byte{byte(f.Type), byte(f.Number)}, nil
	case FieldNumber2:
		b := []byte{byte(f.Type), 0, 0}
		binary.BigEndian.PutUint16(b[1:], uint16(f.Number))
		return b, nil
	case FieldNumber4:
		b := []byte{byte(f.Type), 0, 0, 0, 0}
		binary.BigEndian.PutUint32(b[1:], f.Number)
		return b, nil
	case FieldBinary:
		b := make([]byte, 5+len(f.Bytes))
		b[0] = byte(f.Type)
		binary.BigEndian.PutUint32(b[1:], uint32(len(f.Bytes)))
		copy(b[5:], f.Bytes)
		return b, nil
	case FieldString:
		encoded, err := utf16be.NewEncoder().Bytes([]byte(f.Text))
		if err != nil {
			return nil, fmt.Errorf("encode string field: %w", err)
		}
		encoded = append(encoded, 0, 0)
		b := make([]byte, 5, 5+len(encoded))
		b[0] = byte(f.Type)
		// Length counts UTF-16 code units including the terminator.
		binary.BigEndian.PutUint32(b[1:], uint32(len(encoded)/2))
		return append(b, encoded...), nil
	default:
		return nil, fmt.Errorf("unknown field type 0x%02x", byte(f.Type))
	}
}

// ReadField reads one field. Binary and string payloads larger than
// maxSize bytes are rejected.
func ReadField(r io.Reader, maxSize int) (Field, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return Field{}, err
	}

	f := Field{Type: FieldType(tag[0])}
	switch f.Type {
	case FieldNumber1, FieldNumber2, FieldNumber4:
		size := numberSize(f.Type)
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[4-size:]); err != nil {
			return Field{}, fmt.Errorf("read number field: %w", err)
		}
		f.Number = binary.BigEndian.Uint32(buf[:])
		return f, nil

	case FieldBinary, FieldString:
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return Field{}, fmt.Errorf("read field length: %w", err)
		}
		n := int(binary.BigEndian.Uint32(lenBuf[:]))
		if f.Type == FieldString {
			n *= 2
		}
		if n > maxSize {
			return Field{}, fmt.Errorf("field length %d exceeds maximum %d", n, maxSize)
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return Field{}, fmt.Errorf("read field data: %w", err)
		}
		if f.Type == FieldBinary {
			f.Bytes = data
			return f, nil
		}
		text, err := decodeUTF16(data)
		if err != nil {
			return Field{}, err
		}
		f.Text = text
		return f, nil

	default:
		return Field{}, fmt.Errorf("unknown field type 0x%02x", tag[0])
	}
}

func numberSize(t FieldType) int {
	switch t {
	case FieldNumber1:
		return 1
	case FieldNumber2:
		return 2
	default:
		return 4
	}
}

func decodeUTF16(data []byte) (string, error) {
	if len(data) >= 2 && data[len(data)-2] == 0 && data[len(data)-1] == 0 {
		data = data[:len(data)-2]
	}
	out, err := utf16be.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode string field: %w", err)
	}
	return string(out), nil
}
