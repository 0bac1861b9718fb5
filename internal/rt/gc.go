package rt

import (
	"unsafe"

	"go.uber.org/zap"
)

// collect runs one Cheney-style stop-and-copy cycle (spec.md §4.2). It is
// invoked only from Alloc, when the active semi-space cannot satisfy a
// request; no other logical operation runs while it does, matching the
// single-threaded concurrency model of spec.md §5.
func (rt *Runtime) collect() {
	newSpace := rt.Heap.Flip()
	scanOffset := 0

	evac := func(v Value) Value { return rt.evacuate(v, newSpace, &scanOffset) }

	// Evacuate roots: global environment, interned-symbol list, every
	// frame in the current root-set chain (spec.md §4.2 step 2).
	rt.globalEnv = evac(rt.globalEnv)
	rt.symbols = evac(rt.symbols)
	for f := rt.frames; f != nil; f = f.prev {
		for i := 0; i < f.n; i++ {
			*f.vars[i] = evac(*f.vars[i])
		}
		for i := range f.slice {
			f.slice[i] = evac(f.slice[i])
		}
	}
	rt.tailCell = evac(rt.tailCell)

	// Scan newly copied objects in FIFO order, rewriting their internal
	// pointers by evacuating the pointees (spec.md §4.2 step 3). Objects
	// appended to newSpace by evac calls made during this loop extend
	// scanOffset, so the loop naturally drains the whole copied set.
	scanned := 0
	for scanned < scanOffset {
		base := unsafe.Pointer(&newSpace[scanned])
		tag := readHeader(base).Tag()
		switch tag {
		case TagCell:
			c := cellAt(base)
			c.car = evac(c.car)
			c.cdr = evac(c.cdr)
			scanned += int(cellSize())
		case TagFunc, TagMacro:
			fl := funcAt(base)
			fl.params = evac(fl.params)
			fl.body = evac(fl.body)
			fl.env = evac(fl.env)
			scanned += int(funcSize())
		case TagSymbol:
			scanned += int(symbolObjectSize(base))
		case TagBuiltin:
			scanned += int(builtinSize())
		default:
			panic("rt: corrupt heap object during GC scan")
		}
	}

	rt.Heap.FinishCycle(scanOffset)
	rt.Log.Debug("gc: cycle complete",
		zap.Int("live_bytes", scanOffset),
		zap.Int("semispace_bytes", rt.Heap.Limit()),
		zap.Bool("will_grow", rt.Heap.WillGrow()),
	)
}

// evacuate copies v (if it is a heap pointer not already forwarded) into
// newSpace at *scanOffset, advancing the offset, and returns the new tagged
// pointer. Constants and integers are returned unchanged. Already-forwarded
// objects return the forwarding address retagged to v's own tag.
func (rt *Runtime) evacuate(v Value, newSpace []byte, scanOffset *int) Value {
	if v.IsInt() || v.IsConst() {
		return v
	}
	base := v.ptr()
	header := readHeader(base)
	if header.Tag() == 0 {
		// Already moved: header holds the forwarding address.
		return fromPtr(unsafe.Pointer(uintptr(header)), v.Tag())
	}
	size := ObjectSize(header.Tag(), base)
	dst := rt.Heap.bumpAllocScan(size, newSpace, scanOffset)
	copy(unsafe.Slice((*byte)(dst), size), unsafe.Slice((*byte)(base), size))
	writeHeader(base, Value(uintptr(dst)))
	return fromPtr(dst, v.Tag())
}
