package storage

import (
	"encoding/binary"

	"github.com/kestreldb/kestrel/common"
)

// HeapPage layout:
//
//	LSN (4) | NextPageID (4) | RowSize (2) | NumSlots (2) | NumUsed (2) |
//	Padding (2) | allocation bitmap | fixed-width rows
//
// Heap pages of one table form a singly-linked chain through NextPageID.
// All accessors assume the caller holds the appropriate content latch.
type HeapPage struct {
	*PageFrame

	// Computed on view creation so repeated access stays cheap.
	allocated    Bitmap
	rowDataStart int
}

const (
	heapPageOffsetNext     = pageHeaderSize
	heapPageOffsetRowSize  = heapPageOffsetNext + 4
	heapPageOffsetNumSlots = heapPageOffsetRowSize + 2
	heapPageOffsetNumUsed  = heapPageOffsetNumSlots + 2
	heapPageHeaderSize     = heapPageOffsetNumUsed + 4
)

// HeapPageSlots returns how many rows of rowSize bytes fit on one page
// alongside the allocation bitmap.
func HeapPageSlots(rowSize int) int {
	avail := common.PageSize - heapPageHeaderSize
	slots := avail * 8 / (rowSize*8 + 1)
	for BitmapBytes(slots)+slots*rowSize > avail {
		slots--
	}
	common.Assert(slots > 0, "row size %d does not fit a page", rowSize)
	return slots
}

// InitializeHeapPage formats a zeroed frame as an empty heap page for rows
// of rowSize bytes. Caller holds the write latch.
func InitializeHeapPage(frame *PageFrame, rowSize int) {
	invalidNext := common.InvalidPageID
	binary.LittleEndian.PutUint32(frame.data[heapPageOffsetNext:], uint32(invalidNext))
	binary.LittleEndian.PutUint16(frame.data[heapPageOffsetRowSize:], uint16(rowSize))
	binary.LittleEndian.PutUint16(frame.data[heapPageOffsetNumSlots:], uint16(HeapPageSlots(rowSize)))
}

// AsHeapPage builds a typed view over an initialized heap page.
func (f *PageFrame) AsHeapPage() HeapPage {
	hp := HeapPage{PageFrame: f}
	numSlots := hp.NumSlots()
	common.Assert(hp.RowSize() > 0 && numSlots > 0, "viewing an uninitialized heap page")

	hp.allocated = AsBitmap(f.data[heapPageHeaderSize:], numSlots)
	hp.rowDataStart = heapPageHeaderSize + BitmapBytes(numSlots)
	return hp
}

// NextPageID returns the successor heap page in the table chain.
func (hp HeapPage) NextPageID() common.PageID {
	return common.PageID(binary.LittleEndian.Uint32(hp.data[heapPageOffsetNext:]))
}

// SetNextPageID links the successor heap page.
func (hp HeapPage) SetNextPageID(pid common.PageID) {
	binary.LittleEndian.PutUint32(hp.data[heapPageOffsetNext:], uint32(pid))
}

// RowSize returns the fixed byte width of each row.
func (hp HeapPage) RowSize() int {
	return int(binary.LittleEndian.Uint16(hp.data[heapPageOffsetRowSize:]))
}

// NumSlots returns the slot capacity of this page.
func (hp HeapPage) NumSlots() int {
	return int(binary.LittleEndian.Uint16(hp.data[heapPageOffsetNumSlots:]))
}

// NumUsed returns the number of allocated slots.
func (hp HeapPage) NumUsed() int {
	return int(binary.LittleEndian.Uint16(hp.data[heapPageOffsetNumUsed:]))
}

func (hp HeapPage) setNumUsed(numUsed int) {
	binary.LittleEndian.PutUint16(hp.data[heapPageOffsetNumUsed:], uint16(numUsed))
}

// FindFreeSlot returns an unallocated slot index, or -1 if the page is
// full.
func (hp HeapPage) FindFreeSlot() int {
	numUsed := hp.NumUsed()
	if numUsed == hp.NumSlots() {
		return -1
	}
	return hp.allocated.FindFirstZero(numUsed)
}

// IsAllocated reports whether the slot holds a live row. Out-of-range slots
// report false so iteration can probe safely.
func (hp HeapPage) IsAllocated(slot int) bool {
	if slot < 0 || slot >= hp.NumSlots() {
		return false
	}
	return hp.allocated.LoadBit(slot)
}

// MarkAllocated flips the allocation state of a slot.
func (hp HeapPage) MarkAllocated(slot int, allocated bool) {
	common.Assert(slot >= 0 && slot < hp.NumSlots(), "slot %d out of bounds", slot)
	prev := hp.allocated.SetBit(slot, allocated)
	common.Assert(prev != allocated, "slot %d already in state %v", slot, allocated)
	if allocated {
		hp.setNumUsed(hp.NumUsed() + 1)
	} else {
		hp.setNumUsed(hp.NumUsed() - 1)
	}
}

// RowAt returns the raw bytes of an allocated row.
func (hp HeapPage) RowAt(slot int) []byte {
	common.Assert(hp.IsAllocated(slot), "reading unallocated slot %d", slot)
	start := hp.rowDataStart + slot*hp.RowSize()
	return hp.data[start : start+hp.RowSize()]
}

// rawRowAt returns the row bytes without the allocation check, for
// initializing a fresh slot.
func (hp HeapPage) rawRowAt(slot int) []byte {
	common.Assert(slot >= 0 && slot < hp.NumSlots(), "slot %d out of bounds", slot)
	start := hp.rowDataStart + slot*hp.RowSize()
	return hp.data[start : start+hp.RowSize()]
}

// InsertRow places row into a free slot and returns its index, or -1 when
// the page is full.
func (hp HeapPage) InsertRow(row []byte) int {
	common.Assert(len(row) == hp.RowSize(), "row size mismatch: %d != %d", len(row), hp.RowSize())
	slot := hp.FindFreeSlot()
	if slot == -1 {
		return -1
	}
	copy(hp.rawRowAt(slot), row)
	hp.MarkAllocated(slot, true)
	return slot
}
