package framing

import "github.com/gamevidea/binary/buffer"

// writePacked encodes v as a little-endian sequence of 7-bit groups with the
// continuation bit (0x80) set on every byte except the last. Values 0..127
// occupy exactly one byte; the encoding never emits a trailing zero group.
func writePacked(buf *buffer.Buffer, v uint32) error {
	for {
		b := byte(v & 0x7f)
		v >>= 7

		if v != 0 {
			if err := buf.WriteUint8(b | 0x80); err != nil {
				return ErrBufferOverflow
			}
			continue
		}

		if err := buf.WriteUint8(b); err != nil {
			return ErrBufferOverflow
		}
		return nil
	}
}

// readPacked decodes a value encoded by writePacked.
func readPacked(buf *buffer.Buffer) (uint32, error) {
	var v uint32
	var shift uint

	for {
		b, err := buf.ReadUint8()
		if err != nil {
			return 0, ErrUnderflow
		}

		v |= uint32(b&0x7f) << shift

		if b&0x80 == 0 {
			return v, nil
		}

		shift += 7
		if shift >= 35 {
			return 0, ErrUnderflow
		}
	}
}
