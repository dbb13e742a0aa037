package storage

import (
	"encoding/binary"
	"sync"

	"github.com/kestreldb/kestrel/common"
)

// pageOffsetLSN is the byte offset of the reserved LSN within the page.
// Type-specific page content starts at pageHeaderSize.
const (
	pageOffsetLSN  = 0
	pageHeaderSize = 4
)

// PageFrame is the in-memory container for one database page. It pairs the
// raw page bytes with the book-keeping the buffer pool needs: the resident
// page id, the pin count, and the dirty flags.
//
// Two separate locks protect a frame. The content latch (a reader/writer
// mutex) guards the page bytes and can be held for long reads; the metadata
// spinlock guards pageID, pinCount and the dirty flags and is only ever held
// for a handful of instructions. Holding the content latch does not license
// touching the metadata, and vice versa.
type PageFrame struct {
	data [common.PageSize]byte

	// latch protects the page content.
	latch sync.RWMutex

	// meta protects everything below it.
	meta        common.SpinLock
	pageID      common.PageID
	pinCount    int
	dirty       bool
	justDirtied bool
}

// Data returns the raw page bytes. Callers must hold the appropriate
// content latch.
func (f *PageFrame) Data() []byte { return f.data[:] }

// PageID returns the id of the page currently resident in this frame.
func (f *PageFrame) PageID() common.PageID {
	f.meta.Lock()
	pid := f.pageID
	f.meta.Unlock()
	return pid
}

// PinCount returns the current pin count.
func (f *PageFrame) PinCount() int {
	f.meta.Lock()
	pins := f.pinCount
	f.meta.Unlock()
	return pins
}

// IsDirty reports whether the in-memory page differs from its disk image.
func (f *PageFrame) IsDirty() bool {
	f.meta.Lock()
	dirty := f.dirty
	f.meta.Unlock()
	return dirty
}

// RLatch acquires the content latch in shared mode.
func (f *PageFrame) RLatch() { f.latch.RLock() }

// RUnlatch releases the shared content latch.
func (f *PageFrame) RUnlatch() { f.latch.RUnlock() }

// WLatch acquires the content latch in exclusive mode.
func (f *PageFrame) WLatch() { f.latch.Lock() }

// WUnlatch releases the exclusive content latch.
func (f *PageFrame) WUnlatch() { f.latch.Unlock() }

// MarkDirty flags the page as modified. It must only be called while the
// caller holds the content write latch; the pin count must be positive.
// Both dirty and justDirtied are raised so an in-flight flush cannot lose
// the modification.
func (f *PageFrame) MarkDirty() {
	f.meta.Lock()
	common.Assert(f.pinCount > 0, "marking an unpinned page dirty")
	f.dirty = true
	f.justDirtied = true
	f.meta.Unlock()
}

// LSN reads the reserved log sequence number from the page header.
func (f *PageFrame) LSN() uint32 {
	return binary.LittleEndian.Uint32(f.data[pageOffsetLSN:])
}

// SetLSN writes the reserved log sequence number. Caller holds the write
// latch.
func (f *PageFrame) SetLSN(lsn uint32) {
	binary.LittleEndian.PutUint32(f.data[pageOffsetLSN:], lsn)
}

// resetMeta installs a new page identity. Caller holds the metadata
// spinlock. The frame was just pulled from the free list or the replacer,
// so it cannot be in the replacer; pin starts at 1 for the installer.
func (f *PageFrame) resetMeta(pid common.PageID) {
	f.pageID = pid
	f.pinCount = 1
	f.dirty = false
	f.justDirtied = false
}

// resetMemory zeroes the page bytes. Caller holds the content write latch.
func (f *PageFrame) resetMemory() {
	clear(f.data[:])
}
