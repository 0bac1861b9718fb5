package rt

import "unsafe"

// defaultSpaceSize is the size of one semi-space when a Heap is created with
// no explicit size (64 KiB is plenty for interpreter unit tests and keeps
// from forcing a GC on every other allocation in property tests that
// exercise the collector deliberately).
const defaultSpaceSize = 64 * 1024

// defaultGrowPct is the live-ratio threshold (spec.md §4.1, "default ≈75%")
// above which the heap is flagged to double in size on the next cycle.
const defaultGrowPct = 75

// Heap is a single contiguous region split into two equal semi-spaces. It
// implements only the bump-allocation and flip/grow mechanics of spec.md
// §4.1; the copying trace itself lives in gc.go, and GC triggering lives in
// Runtime.Alloc so that the heap doesn't need to know about roots.
type Heap struct {
	spaceA, spaceB []byte
	activeIsA      bool

	bump  int // offset into the active space of the next free byte
	limit int // size of the active space

	growPct int // clamped to [1, 99]
	grow    bool
}

// NewHeap allocates a heap with two semi-spaces of spaceSize bytes each.
func NewHeap(spaceSize int) *Heap {
	if spaceSize <= 0 {
		spaceSize = defaultSpaceSize
	}
	h := &Heap{
		spaceA:    make([]byte, spaceSize),
		spaceB:    make([]byte, spaceSize),
		activeIsA: true,
		limit:     spaceSize,
		growPct:   defaultGrowPct,
	}
	return h
}

// SetGrowThreshold clamps pct to [1, 99] and sets the live-ratio fraction
// that triggers heap doubling, per the CLI's -m flag (spec.md §6).
func (h *Heap) SetGrowThreshold(pct int) {
	if pct < 1 {
		pct = 1
	}
	if pct > 99 {
		pct = 99
	}
	h.growPct = pct
}

func (h *Heap) active() []byte {
	if h.activeIsA {
		return h.spaceA
	}
	return h.spaceB
}

func (h *Heap) inactive() []byte {
	if h.activeIsA {
		return h.spaceB
	}
	return h.spaceA
}

// tryAllocate bump-allocates size bytes from the active space, returning
// the base address and true, or (nil, false) if the space is exhausted.
func (h *Heap) tryAllocate(size uintptr) (unsafe.Pointer, bool) {
	n := int(objMinSize(size))
	if h.bump+n > h.limit {
		return nil, false
	}
	space := h.active()
	base := unsafe.Pointer(&space[h.bump])
	h.bump += n
	return base, true
}

// bumpAllocScan allocates into scanSpace at *offset, used by the collector
// while copying objects into the new semi-space mid-cycle (the space Flip
// has just made active; h.bump is set from the final offset by
// FinishCycle).
func (h *Heap) bumpAllocScan(size uintptr, scanSpace []byte, offset *int) unsafe.Pointer {
	n := int(objMinSize(size))
	if *offset+n > len(scanSpace) {
		panic("rt: heap exhausted during GC scan (live set exceeds grown semi-space)")
	}
	base := unsafe.Pointer(&scanSpace[*offset])
	*offset += n
	return base
}

// Flip swaps the active/inactive semi-spaces (or, if grow is set,
// reallocates both spaces at double size) and resets the bump pointer.
// It returns the new active space so the collector can evacuate into it.
func (h *Heap) Flip() []byte {
	if h.grow {
		newSize := h.limit * 2
		h.spaceA = make([]byte, newSize)
		h.spaceB = make([]byte, newSize)
		h.activeIsA = true
		h.limit = newSize
		h.grow = false
	} else {
		h.activeIsA = !h.activeIsA
	}
	h.bump = 0
	return h.active()
}

// FinishCycle records the live byte count reported by the collector after a
// completed scan and arms the grow flag for the next cycle if the live
// ratio exceeds the configured threshold.
func (h *Heap) FinishCycle(liveBytes int) {
	h.bump = liveBytes
	ratio := float64(liveBytes) / float64(h.limit) * 100
	h.grow = ratio > float64(h.growPct)
}

// Bump returns the current allocation offset into the active space, for
// GC-idempotence tests (spec.md §8).
func (h *Heap) Bump() int { return h.bump }

// Limit returns the size in bytes of the active semi-space.
func (h *Heap) Limit() int { return h.limit }

// WillGrow reports whether the next collection will double the heap.
func (h *Heap) WillGrow() bool { return h.grow }

// Snapshot copies the live bytes of the active space for idempotence checks.
func (h *Heap) Snapshot() []byte {
	out := make([]byte, h.bump)
	copy(out, h.active()[:h.bump])
	return out
}
