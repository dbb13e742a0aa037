package storage

import (
	"github.com/kestreldb/kestrel/common"
)

// HashBucketPage layout:
//
//	LSN (4) | occupied bitmap | readable bitmap | fixed-width (key,value)
//	slots filling the rest of the page
//
// A slot that is occupied but not readable is a tombstone: a removed entry
// whose slot may be reclaimed by a later insert but must be skipped by
// reads. The fullness/emptiness queries run over the readable bitmap
// word-at-a-time.
//
// The view carries the entry width so the same layout code serves any
// fixed-width key/value pair. All accessors assume the caller holds the
// bucket page's content latch.
type HashBucketPage struct {
	*PageFrame

	entrySize int
	capacity  int
	occupied  Bitmap
	readable  Bitmap
	dataStart int
}

// HashBucketCapacity returns how many entries of entrySize bytes fit on a
// bucket page alongside the two bitmaps.
func HashBucketCapacity(entrySize int) int {
	avail := common.PageSize - pageHeaderSize
	capacity := avail * 8 / (entrySize*8 + 2)
	for 2*BitmapBytes(capacity)+capacity*entrySize > avail {
		capacity--
	}
	common.Assert(capacity > 0, "entry size %d does not fit a page", entrySize)
	return capacity
}

// AsHashBucketPage builds a typed view over a bucket page holding entries
// of entrySize bytes. A zeroed frame is already a valid empty bucket.
func (f *PageFrame) AsHashBucketPage(entrySize int) HashBucketPage {
	capacity := HashBucketCapacity(entrySize)
	bitmapBytes := BitmapBytes(capacity)
	return HashBucketPage{
		PageFrame: f,
		entrySize: entrySize,
		capacity:  capacity,
		occupied:  AsBitmap(f.data[pageHeaderSize:], capacity),
		readable:  AsBitmap(f.data[pageHeaderSize+bitmapBytes:], capacity),
		dataStart: pageHeaderSize + 2*bitmapBytes,
	}
}

// Capacity returns the slot count of this bucket.
func (b HashBucketPage) Capacity() int { return b.capacity }

// IsOccupied reports whether the slot has ever held an entry.
func (b HashBucketPage) IsOccupied(idx int) bool { return b.occupied.LoadBit(idx) }

// IsReadable reports whether the slot holds a live entry.
func (b HashBucketPage) IsReadable(idx int) bool { return b.readable.LoadBit(idx) }

// EntryAt returns the raw (key,value) bytes of a slot.
func (b HashBucketPage) EntryAt(idx int) []byte {
	common.Assert(idx >= 0 && idx < b.capacity, "bucket index %d out of bounds", idx)
	start := b.dataStart + idx*b.entrySize
	return b.data[start : start+b.entrySize]
}

// PutEntryAt stores entry bytes into a slot and marks it live.
func (b HashBucketPage) PutEntryAt(idx int, entry []byte) {
	common.Assert(len(entry) == b.entrySize, "entry size mismatch: %d != %d", len(entry), b.entrySize)
	copy(b.EntryAt(idx), entry)
	b.occupied.SetBit(idx, true)
	b.readable.SetBit(idx, true)
}

// RemoveAt clears the readable bit only, leaving the occupied bit as a
// tombstone.
func (b HashBucketPage) RemoveAt(idx int) {
	common.Assert(idx >= 0 && idx < b.capacity, "bucket index %d out of bounds", idx)
	b.readable.SetBit(idx, false)
}

// IsFull reports whether every slot holds a live entry.
func (b HashBucketPage) IsFull() bool { return b.readable.AllSet() }

// IsEmpty reports whether no slot holds a live entry.
func (b HashBucketPage) IsEmpty() bool { return b.readable.NoneSet() }

// NumReadable returns the live entry count.
func (b HashBucketPage) NumReadable() int { return b.readable.CountSet() }
