package framing

import (
	"testing"

	"github.com/gamevidea/binary/buffer"
)

func TestPackedRoundTrip(t *testing.T) {
	values := []uint32{0, 1, 63, 127, 128, 300, 16384, 1 << 20, 1<<32 - 1}

	for _, v := range values {
		buf := buffer.New(16)
		if err := writePacked(buf, v); err != nil {
			t.Fatalf("writePacked(%d): %v", v, err)
		}

		buf.SetOffset(0)
		got, err := readPacked(buf)
		if err != nil {
			t.Fatalf("readPacked(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip mismatch: wrote %d, read %d", v, got)
		}
	}
}

func TestPackedMinimalLength(t *testing.T) {
	cases := map[uint32]int{
		0:        1,
		1:        1,
		127:      1,
		128:      2,
		16383:    2,
		16384:    3,
		1<<21 - 1: 3,
		1 << 21:  4,
	}

	for v, wantLen := range cases {
		buf := buffer.New(16)
		if err := writePacked(buf, v); err != nil {
			t.Fatalf("writePacked(%d): %v", v, err)
		}
		if got := buf.Offset(); got != wantLen {
			t.Fatalf("writePacked(%d) length = %d, want %d", v, got, wantLen)
		}
	}
}
