// Package framing implements the nested length-prefixed message codec used
// to pack application sub-messages into a single reliable-UDP datagram.
//
// Wire format for one sub-message:
//
//	[length:u16 LE][tag:u8][body: length bytes]
//
// MessageWriter and MessageReader operate purely on the sub-message region
// of a datagram; the 1-byte send-option header and the optional 2-byte
// reliable id are owned by the caller (the reliable channel), not by this
// package.
package framing

import (
	"math"
	"sync"

	"github.com/gamevidea/binary/buffer"
	"github.com/gamevidea/binary/byteorder"
)

// MaxPacketSize is the capacity of every pooled framing buffer.
const MaxPacketSize = 65535

var bufferPool = sync.Pool{
	New: func() any {
		return buffer.New(MaxPacketSize)
	},
}

// MessageWriter builds a sequence of nested, length-prefixed sub-messages
// into a pooled buffer. Call Close when done to return the buffer to the
// pool.
type MessageWriter struct {
	buf           *buffer.Buffer
	length        int
	messageStarts []int
}

// NewMessageWriter rents a buffer from the shared pool and returns a writer
// ready to accept sub-messages.
func NewMessageWriter() *MessageWriter {
	buf := bufferPool.Get().(*buffer.Buffer)
	buf.Reset()
	buf.SetOffset(0)

	return &MessageWriter{
		buf:           buf,
		messageStarts: make([]int, 0, 4),
	}
}

// Close returns the writer's buffer to the shared pool. The writer must not
// be used afterwards.
func (w *MessageWriter) Close() {
	if w.buf == nil {
		return
	}
	w.buf.Reset()
	bufferPool.Put(w.buf)
	w.buf = nil
}

// Position returns the current write cursor.
func (w *MessageWriter) Position() int { return w.buf.Offset() }

// Len returns the high-water mark written so far.
func (w *MessageWriter) Len() int { return w.length }

// Bytes returns the bytes written so far.
func (w *MessageWriter) Bytes() []byte {
	return w.buf.Bytes()
}

func (w *MessageWriter) ensure(n int) error {
	if w.buf.Remaining() < n {
		return ErrBufferOverflow
	}
	return nil
}

func (w *MessageWriter) advance() {
	if off := w.buf.Offset(); off > w.length {
		w.length = off
	}
}

// StartMessage pushes a new nested sub-message onto the stack, reserving
// the 2-byte length placeholder and writing the tag byte immediately.
func (w *MessageWriter) StartMessage(tag byte) error {
	if err := w.ensure(3); err != nil {
		return err
	}

	w.messageStarts = append(w.messageStarts, w.buf.Offset())

	if err := w.buf.WriteUint16(0, byteorder.LittleEndian); err != nil {
		return ErrBufferOverflow
	}
	if err := w.buf.WriteUint8(tag); err != nil {
		return ErrBufferOverflow
	}

	w.advance()
	return nil
}

// EndMessage back-patches the length placeholder of the innermost open
// sub-message with (position - start - 3).
func (w *MessageWriter) EndMessage() error {
	if len(w.messageStarts) == 0 {
		return ErrUnbalanced
	}

	start := w.messageStarts[len(w.messageStarts)-1]
	w.messageStarts = w.messageStarts[:len(w.messageStarts)-1]

	end := w.buf.Offset()
	bodyLen := end - start - 3

	saved := w.buf.Offset()
	w.buf.SetOffset(start)
	if err := w.buf.WriteUint16(uint16(bodyLen), byteorder.LittleEndian); err != nil {
		w.buf.SetOffset(saved)
		return ErrBufferOverflow
	}
	w.buf.SetOffset(saved)

	return nil
}

// CancelMessage rewinds the write cursor and the high-water mark back to
// the start of the innermost open sub-message, discarding anything written
// inside it.
func (w *MessageWriter) CancelMessage() error {
	if len(w.messageStarts) == 0 {
		return ErrUnbalanced
	}

	start := w.messageStarts[len(w.messageStarts)-1]
	w.messageStarts = w.messageStarts[:len(w.messageStarts)-1]

	w.buf.SetOffset(start)
	w.length = start
	return nil
}

func (w *MessageWriter) WriteUint8(v uint8) error {
	if err := w.ensure(1); err != nil {
		return err
	}
	if err := w.buf.WriteUint8(v); err != nil {
		return ErrBufferOverflow
	}
	w.advance()
	return nil
}

func (w *MessageWriter) WriteInt8(v int8) error { return w.WriteUint8(uint8(v)) }

func (w *MessageWriter) WriteUint16(v uint16) error {
	if err := w.ensure(2); err != nil {
		return err
	}
	if err := w.buf.WriteUint16(v, byteorder.LittleEndian); err != nil {
		return ErrBufferOverflow
	}
	w.advance()
	return nil
}

func (w *MessageWriter) WriteInt16(v int16) error { return w.WriteUint16(uint16(v)) }

func (w *MessageWriter) WriteUint32(v uint32) error {
	if err := w.ensure(4); err != nil {
		return err
	}
	if err := w.buf.WriteUint32(v, byteorder.LittleEndian); err != nil {
		return ErrBufferOverflow
	}
	w.advance()
	return nil
}

func (w *MessageWriter) WriteInt32(v int32) error { return w.WriteUint32(uint32(v)) }

func (w *MessageWriter) WriteFloat32(v float32) error {
	return w.WriteUint32(math.Float32bits(v))
}

// WritePacked writes v as a 7-bit-group, continuation-bit-tagged varint.
func (w *MessageWriter) WritePacked(v uint32) error {
	if err := writePacked(w.buf, v); err != nil {
		return err
	}
	w.advance()
	return nil
}

// WriteBytes writes raw bytes with no length prefix.
func (w *MessageWriter) WriteBytes(b []byte) error {
	if err := w.ensure(len(b)); err != nil {
		return err
	}
	if err := w.buf.Write(b); err != nil {
		return ErrBufferOverflow
	}
	w.advance()
	return nil
}

// WriteBytesAndSize writes a packed length prefix followed by the bytes.
func (w *MessageWriter) WriteBytesAndSize(b []byte) error {
	if err := w.WritePacked(uint32(len(b))); err != nil {
		return err
	}
	return w.WriteBytes(b)
}

// WriteString writes a UTF-8 string prefixed by a packed byte length.
func (w *MessageWriter) WriteString(s string) error {
	return w.WriteBytesAndSize([]byte(s))
}
