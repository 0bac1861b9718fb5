package jit

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pageSize follows spec.md §4.8's stated default of one function per page
// ("a private, anonymous page-aligned region of fixed size (default 4096
// bytes per function)").
const pageSize = 4096

// page is one mmap'd, page-aligned, executable code region holding a
// single compiled function. Pages are linked so jit_free can unmap them
// all at shutdown (spec.md §4.8/§6).
type page struct {
	mem  []byte
	next *page
}

// pageList is the Runtime-owned singly-linked chain of allocated pages.
// There is one list per process; cmd/lisp owns the call to Free at exit.
type pageList struct {
	head *page
}

// reserve mmaps a fresh RW page and returns it unlinked, together with its
// entry address (the page base, since the back end never pads before the
// first instruction). The address is known before a single byte of code
// has been generated, which is spec.md §9's self-entry trick: a
// non-tail self-recursive CALL needs its own callee address baked in as an
// immediate, and that address must exist before codegen runs, not after.
// Call finish to fill the page and link it in, or abandon to unmap it.
func (pl *pageList) reserve() (*page, uintptr, error) {
	mem, err := unix.Mmap(-1, 0, pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, 0, fmt.Errorf("jit: mmap: %w", err)
	}
	return &page{mem: mem}, uintptr(unsafe.Pointer(&mem[0])), nil
}

// finish copies code into a page reserved by reserve, transitions it to RX,
// and links it into the list (spec.md §4.8's allocate-fill-protect
// sequence, split across reserve/finish to support the self-entry trick).
func (pl *pageList) finish(p *page, code []byte) error {
	if len(code) > pageSize {
		return fmt.Errorf("jit: compiled function exceeds %d-byte page (%d bytes)", pageSize, len(code))
	}
	copy(p.mem, code)
	if err := unix.Mprotect(p.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("jit: mprotect: %w", err)
	}
	p.next = pl.head
	pl.head = p
	return nil
}

// abandon unmaps a page that was reserved but never finished, e.g. when
// codegen fails after the page's address was already handed to a
// self-recursive call site.
func (pl *pageList) abandon(p *page) {
	unix.Munmap(p.mem)
}

// free unmaps every page in the list (spec.md §6's jit_free teardown).
func (pl *pageList) free() {
	for p := pl.head; p != nil; p = p.next {
		unix.Munmap(p.mem)
	}
	pl.head = nil
}
