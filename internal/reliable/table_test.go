package reliable

import (
	"testing"
	"time"
)

func TestSendTableInsertRemove(t *testing.T) {
	tbl := NewSendTable()
	e := &ResendEntry{ID: 5, Buffer: []byte("x"), SendCount: 1, FirstSentAt: time.Now(), LastSentAt: time.Now()}
	tbl.Insert(e)

	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}

	got, ok := tbl.Get(5)
	if !ok || got.ID != 5 {
		t.Fatalf("Get(5) = %v, %v", got, ok)
	}

	removed, ok := tbl.Remove(5)
	if !ok || removed.ID != 5 {
		t.Fatalf("Remove(5) = %v, %v", removed, ok)
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len() after remove = %d, want 0", tbl.Len())
	}

	if _, ok := tbl.Remove(5); ok {
		t.Fatalf("Remove(5) twice should report not found")
	}
}

func TestSendTablePendingSortedWraps(t *testing.T) {
	tbl := NewSendTable()
	for _, id := range []uint16{65534, 65535, 0, 1, 2} {
		tbl.Insert(&ResendEntry{ID: id, FirstSentAt: time.Now()})
	}

	pending := tbl.PendingSorted(65534)
	want := []uint16{65534, 65535, 0, 1, 2}
	for i, e := range pending {
		if e.ID != want[i] {
			t.Fatalf("pending[%d] = %d, want %d", i, e.ID, want[i])
		}
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	base := 100 * time.Millisecond
	max := 1000 * time.Millisecond

	cases := []struct {
		sendCount int
		want      time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1000 * time.Millisecond},
		{8, 1000 * time.Millisecond},
	}

	for _, c := range cases {
		got := BackoffDelay(base, c.sendCount, max)
		if got != c.want {
			t.Fatalf("BackoffDelay(sendCount=%d) = %v, want %v", c.sendCount, got, c.want)
		}
	}
}
