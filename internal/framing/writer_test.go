package framing

import "testing"

func TestWriterRoundTrip(t *testing.T) {
	w := NewMessageWriter()
	defer w.Close()

	if err := w.StartMessage(7); err != nil {
		t.Fatalf("StartMessage: %v", err)
	}
	if err := w.WriteUint8(42); err != nil {
		t.Fatalf("WriteUint8: %v", err)
	}
	if err := w.WriteUint16(1000); err != nil {
		t.Fatalf("WriteUint16: %v", err)
	}
	if err := w.WriteString("hello"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := w.EndMessage(); err != nil {
		t.Fatalf("EndMessage: %v", err)
	}

	r := NewMessageReader(w.Bytes())
	sub, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if sub.Tag() != 7 {
		t.Fatalf("tag = %d, want 7", sub.Tag())
	}

	b, err := sub.ReadByte()
	if err != nil || b != 42 {
		t.Fatalf("ReadByte = %d, %v; want 42", b, err)
	}

	u16, err := sub.ReadUint16()
	if err != nil || u16 != 1000 {
		t.Fatalf("ReadUint16 = %d, %v; want 1000", u16, err)
	}

	s, err := sub.ReadString()
	if err != nil || s != "hello" {
		t.Fatalf("ReadString = %q, %v; want hello", s, err)
	}
}

func TestEndMessageUnbalanced(t *testing.T) {
	w := NewMessageWriter()
	defer w.Close()

	if err := w.EndMessage(); err != ErrUnbalanced {
		t.Fatalf("EndMessage on empty stack = %v, want ErrUnbalanced", err)
	}
}

func TestCancelMessageRewinds(t *testing.T) {
	w := NewMessageWriter()
	defer w.Close()

	if err := w.StartMessage(1); err != nil {
		t.Fatalf("StartMessage: %v", err)
	}
	if err := w.WriteBytes([]byte("discarded")); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if err := w.CancelMessage(); err != nil {
		t.Fatalf("CancelMessage: %v", err)
	}

	if w.Position() != 0 || w.Len() != 0 {
		t.Fatalf("after cancel: position=%d len=%d, want 0, 0", w.Position(), w.Len())
	}
}

func TestNestedSubMessages(t *testing.T) {
	w := NewMessageWriter()
	defer w.Close()

	if err := w.StartMessage(1); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteUint8(1); err != nil {
		t.Fatal(err)
	}
	if err := w.StartMessage(2); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteUint8(2); err != nil {
		t.Fatal(err)
	}
	if err := w.EndMessage(); err != nil {
		t.Fatal(err)
	}
	if err := w.EndMessage(); err != nil {
		t.Fatal(err)
	}

	r := NewMessageReader(w.Bytes())
	outer, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("outer ReadMessage: %v", err)
	}
	if outer.Tag() != 1 {
		t.Fatalf("outer tag = %d, want 1", outer.Tag())
	}

	first, err := outer.ReadByte()
	if err != nil || first != 1 {
		t.Fatalf("outer byte = %d, %v; want 1", first, err)
	}

	inner, err := outer.ReadMessage()
	if err != nil {
		t.Fatalf("inner ReadMessage: %v", err)
	}
	if inner.Tag() != 2 {
		t.Fatalf("inner tag = %d, want 2", inner.Tag())
	}

	second, err := inner.ReadByte()
	if err != nil || second != 2 {
		t.Fatalf("inner byte = %d, %v; want 2", second, err)
	}
}

func TestBufferOverflow(t *testing.T) {
	w := NewMessageWriter()
	defer w.Close()

	big := make([]byte, MaxPacketSize+1)
	if err := w.WriteBytes(big); err != ErrBufferOverflow {
		t.Fatalf("WriteBytes(oversized) = %v, want ErrBufferOverflow", err)
	}
}

func TestReadUnderflow(t *testing.T) {
	r := NewMessageReader([]byte{0x01})
	if _, err := r.ReadMessage(); err != ErrUnderflow {
		t.Fatalf("ReadMessage on short buffer = %v, want ErrUnderflow", err)
	}
}

func TestSliceIsNonConsuming(t *testing.T) {
	w := NewMessageWriter()
	defer w.Close()

	if err := w.WriteUint8(1); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteUint8(2); err != nil {
		t.Fatal(err)
	}

	r := NewMessageReader(w.Bytes())
	first, _ := r.ReadByte()
	if first != 1 {
		t.Fatalf("first = %d, want 1", first)
	}

	window := r.Slice(0)
	b, err := window.ReadByte()
	if err != nil || b != 1 {
		t.Fatalf("Slice(0) first byte = %d, %v; want 1", b, err)
	}

	// r's own cursor must be unaffected by Slice.
	second, err := r.ReadByte()
	if err != nil || second != 2 {
		t.Fatalf("r second byte = %d, %v; want 2", second, err)
	}
}
