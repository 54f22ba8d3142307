package framing

import (
	"math"

	"github.com/gamevidea/binary/buffer"
	"github.com/gamevidea/binary/byteorder"
)

// MessageReader parses the nested length-prefixed sub-message format
// written by MessageWriter.
type MessageReader struct {
	data []byte
	buf  *buffer.Buffer
	tag  byte
}

// NewMessageReader creates a reader over data. data is not copied.
func NewMessageReader(data []byte) *MessageReader {
	return &MessageReader{data: data, buf: buffer.From(data)}
}

// Tag returns the tag of the sub-message this reader was scoped to by
// ReadMessage, or 0 for a reader created directly over a datagram.
func (r *MessageReader) Tag() byte { return r.tag }

// Remaining returns the number of unread bytes.
func (r *MessageReader) Remaining() int { return r.buf.Remaining() }

// hasBytes reports whether at least n bytes remain beyond the current
// cursor. Uses >=, not >: a read of exactly the remaining bytes is valid.
func (r *MessageReader) hasBytes(n int) bool { return r.buf.Remaining() >= n }

// Slice returns a new, independent reader over data[offset:] without
// consuming anything from r.
func (r *MessageReader) Slice(offset int) *MessageReader {
	if offset < 0 || offset > len(r.data) {
		offset = len(r.data)
	}
	return NewMessageReader(r.data[offset:])
}

// ReadMessage reads one nested sub-message header and returns a reader
// scoped to its body.
func (r *MessageReader) ReadMessage() (*MessageReader, error) {
	if !r.hasBytes(3) {
		return nil, ErrUnderflow
	}

	length, err := r.buf.ReadUint16(byteorder.LittleEndian)
	if err != nil {
		return nil, ErrUnderflow
	}

	tag, err := r.buf.ReadUint8()
	if err != nil {
		return nil, ErrUnderflow
	}

	if !r.hasBytes(int(length)) {
		return nil, ErrUnderflow
	}

	body := make([]byte, length)
	if err := r.buf.Read(body); err != nil {
		return nil, ErrUnderflow
	}

	sub := NewMessageReader(body)
	sub.tag = tag
	return sub, nil
}

func (r *MessageReader) ReadBool() (bool, error) {
	v, err := r.buf.ReadUint8()
	if err != nil {
		return false, ErrUnderflow
	}
	return v != 0, nil
}

func (r *MessageReader) ReadByte() (byte, error) {
	v, err := r.buf.ReadUint8()
	if err != nil {
		return 0, ErrUnderflow
	}
	return v, nil
}

func (r *MessageReader) ReadInt8() (int8, error) {
	v, err := r.ReadByte()
	return int8(v), err
}

func (r *MessageReader) ReadUint16() (uint16, error) {
	v, err := r.buf.ReadUint16(byteorder.LittleEndian)
	if err != nil {
		return 0, ErrUnderflow
	}
	return v, nil
}

func (r *MessageReader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *MessageReader) ReadUint32() (uint32, error) {
	v, err := r.buf.ReadUint32(byteorder.LittleEndian)
	if err != nil {
		return 0, ErrUnderflow
	}
	return v, nil
}

func (r *MessageReader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *MessageReader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadPacked reads a value encoded by MessageWriter.WritePacked.
func (r *MessageReader) ReadPacked() (uint32, error) {
	return readPacked(r.buf)
}

// ReadBytesAndSize reads a packed length prefix followed by that many
// bytes.
func (r *MessageReader) ReadBytesAndSize() ([]byte, error) {
	n, err := r.ReadPacked()
	if err != nil {
		return nil, err
	}

	if !r.hasBytes(int(n)) {
		return nil, ErrUnderflow
	}

	b := make([]byte, n)
	if err := r.buf.Read(b); err != nil {
		return nil, ErrUnderflow
	}
	return b, nil
}

// ReadString reads a UTF-8 string prefixed by a packed byte length.
func (r *MessageReader) ReadString() (string, error) {
	b, err := r.ReadBytesAndSize()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
