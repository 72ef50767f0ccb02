package roomkit

import (
	"sync"

	"github.com/cryguy/roomkit/internal/jsapi"
)

// NamespaceHandle is the client namespace object. It stays pinned for the
// lifetime of the runtime and is never counted.
const NamespaceHandle HandleID = jsapi.NamespaceHandle

type handleEntry struct {
	units    int // units held by Go wrappers and in-flight values
	received int // units ever delivered by the runtime for this entry
}

type pendingRelease struct {
	id HandleID
	n  int
}

// handleTable counts Go-side units per handle. When an entry drops to zero
// it is removed and a release of every unit the runtime delivered for it is
// queued, so the runtime is told exactly once per entry.
type handleTable struct {
	mu      sync.Mutex
	entries map[HandleID]*handleEntry
	pending []pendingRelease
}

func newHandleTable() *handleTable {
	return &handleTable{entries: make(map[HandleID]*handleEntry)}
}

// received records one unit delivered by the runtime with v.
func (t *handleTable) received(v Value) {
	if !v.kind.IsHandle() || v.id == NamespaceHandle {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[v.id]
	if e == nil {
		e = &handleEntry{}
		t.entries[v.id] = e
	}
	e.units++
	e.received++
}

// retain adds a Go-only unit to a live entry (Clone).
func (t *handleTable) retain(id HandleID) bool {
	if id == NamespaceHandle {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[id]
	if e == nil {
		return false
	}
	e.units++
	return true
}

// release drops one unit and reports whether a runtime release was queued.
func (t *handleTable) release(id HandleID) bool {
	if id == NamespaceHandle {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[id]
	if e == nil {
		return false
	}
	e.units--
	if e.units > 0 {
		return false
	}
	delete(t.entries, id)
	t.pending = append(t.pending, pendingRelease{id: id, n: e.received})
	return true
}

func (t *handleTable) drain() []pendingRelease {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.pending
	t.pending = nil
	return out
}

func (t *handleTable) units(id HandleID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e := t.entries[id]; e != nil {
		return e.units
	}
	return 0
}

func (t *handleTable) live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
