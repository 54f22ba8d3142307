package reliable

import "sync"

// agingRadius is half the 16-bit id space: ids more than this far behind
// the newest observed id are dropped from the duplicate window.
const agingRadius = 1 << 15

// DuplicateWindow suppresses delivery of reliable ids already observed.
// It holds raw ids in a set and ages out anything more than agingRadius
// positions behind the newest id seen, treating ids as points on a
// 16-bit circle so wraparound is handled without a sliding array.
type DuplicateWindow struct {
	mu        sync.Mutex
	seen      map[uint16]struct{}
	newest    uint16
	hasNewest bool
}

// NewDuplicateWindow returns an empty window pre-sized to hint capacity.
func NewDuplicateWindow(hint int) *DuplicateWindow {
	if hint <= 0 {
		hint = 1024
	}
	return &DuplicateWindow{seen: make(map[uint16]struct{}, hint)}
}

// CheckAndInsert reports whether id has already been seen. If it has not,
// it is inserted and the window's aging cursor is advanced; the caller
// should deliver the payload. If it has, the caller must drop it without
// delivery (an ack is still owed regardless of the result).
func (w *DuplicateWindow) CheckAndInsert(id uint16) (duplicate bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[id]; ok {
		return true
	}

	w.seen[id] = struct{}{}

	ahead := !w.hasNewest || int16(id-w.newest) > 0
	if ahead {
		w.newest = id
		w.hasNewest = true
	}

	w.age()
	return false
}

func (w *DuplicateWindow) age() {
	for id := range w.seen {
		if uint16(w.newest-id) > agingRadius {
			delete(w.seen, id)
		}
	}
}

// Len reports the number of ids currently retained, for test assertions
// about the O(duplicateWindow) memory bound.
func (w *DuplicateWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
