package storage

import (
	"encoding/binary"

	"github.com/kestreldb/kestrel/common"
)

// HashMaxDepth bounds the global depth of the extendible hash directory. A
// single directory page holds all 2^HashMaxDepth entries, so the directory
// can never span pages.
const HashMaxDepth = 9

// hashDirectoryCapacity is the entry count at maximum depth.
const hashDirectoryCapacity = 1 << HashMaxDepth

// HashDirectoryPage layout:
//
//	LSN (4) | GlobalDepth (4) | bucket page ids (4 * 512) |
//	local depths (1 * 512)
//
// Directory invariant: for every index i, localDepth(i) <= globalDepth, and
// dir[i] == dir[j] whenever i ≡ j (mod 2^localDepth(i)). All accessors
// assume the caller holds the directory page's content latch.
type HashDirectoryPage struct {
	*PageFrame
}

const (
	hashDirOffsetGlobalDepth = pageHeaderSize
	hashDirOffsetPageIDs     = hashDirOffsetGlobalDepth + 4
	hashDirOffsetLocalDepths = hashDirOffsetPageIDs + 4*hashDirectoryCapacity
)

// AsHashDirectoryPage builds a typed view over a directory page.
func (f *PageFrame) AsHashDirectoryPage() HashDirectoryPage {
	return HashDirectoryPage{PageFrame: f}
}

// InitializeHashDirectoryPage formats a zeroed frame as an empty directory
// of global depth 0 pointing its single entry at bucketPageID.
func InitializeHashDirectoryPage(frame *PageFrame, bucketPageID common.PageID) {
	dir := frame.AsHashDirectoryPage()
	for i := 0; i < hashDirectoryCapacity; i++ {
		dir.SetBucketPageID(i, common.InvalidPageID)
	}
	dir.SetBucketPageID(0, bucketPageID)
}

// GlobalDepth returns the directory's global depth.
func (d HashDirectoryPage) GlobalDepth() uint32 {
	return binary.LittleEndian.Uint32(d.data[hashDirOffsetGlobalDepth:])
}

func (d HashDirectoryPage) setGlobalDepth(depth uint32) {
	binary.LittleEndian.PutUint32(d.data[hashDirOffsetGlobalDepth:], depth)
}

// GlobalDepthMask returns the low-bit mask that maps a hash to a directory
// index.
func (d HashDirectoryPage) GlobalDepthMask() uint32 {
	return (1 << d.GlobalDepth()) - 1
}

// Size returns the number of live directory entries, 2^globalDepth.
func (d HashDirectoryPage) Size() uint32 {
	return 1 << d.GlobalDepth()
}

// CanGrow reports whether the directory may double again.
func (d HashDirectoryPage) CanGrow() bool {
	return d.GlobalDepth() < HashMaxDepth
}

// IncrGlobalDepth doubles the directory. Every new upper-half entry mirrors
// its lower-half counterpart, preserving the directory invariant.
func (d HashDirectoryPage) IncrGlobalDepth() {
	common.Assert(d.CanGrow(), "directory already at max depth")
	size := d.Size()
	for i := uint32(0); i < size; i++ {
		d.SetBucketPageID(int(size+i), d.BucketPageID(int(i)))
		d.SetLocalDepth(int(size+i), d.LocalDepth(int(i)))
	}
	d.setGlobalDepth(d.GlobalDepth() + 1)
}

// DecrGlobalDepth halves the directory.
func (d HashDirectoryPage) DecrGlobalDepth() {
	common.Assert(d.GlobalDepth() > 0, "directory already at depth 0")
	d.setGlobalDepth(d.GlobalDepth() - 1)
}

// CanShrink reports whether every local depth sits strictly below the
// global depth, meaning the upper and lower directory halves agree.
func (d HashDirectoryPage) CanShrink() bool {
	depth := d.GlobalDepth()
	if depth == 0 {
		return false
	}
	for i := uint32(0); i < d.Size(); i++ {
		if d.LocalDepth(int(i)) == depth {
			return false
		}
	}
	return true
}

// BucketPageID returns the bucket page the entry points at.
func (d HashDirectoryPage) BucketPageID(idx int) common.PageID {
	common.Assert(idx >= 0 && idx < hashDirectoryCapacity, "directory index %d out of bounds", idx)
	return common.PageID(binary.LittleEndian.Uint32(d.data[hashDirOffsetPageIDs+4*idx:]))
}

// SetBucketPageID redirects the entry to a bucket page.
func (d HashDirectoryPage) SetBucketPageID(idx int, pid common.PageID) {
	common.Assert(idx >= 0 && idx < hashDirectoryCapacity, "directory index %d out of bounds", idx)
	binary.LittleEndian.PutUint32(d.data[hashDirOffsetPageIDs+4*idx:], uint32(pid))
}

// LocalDepth returns the entry's local depth.
func (d HashDirectoryPage) LocalDepth(idx int) uint32 {
	common.Assert(idx >= 0 && idx < hashDirectoryCapacity, "directory index %d out of bounds", idx)
	return uint32(d.data[hashDirOffsetLocalDepths+idx])
}

// SetLocalDepth stores the entry's local depth.
func (d HashDirectoryPage) SetLocalDepth(idx int, depth uint32) {
	common.Assert(idx >= 0 && idx < hashDirectoryCapacity, "directory index %d out of bounds", idx)
	common.Assert(depth <= HashMaxDepth, "local depth %d exceeds max", depth)
	d.data[hashDirOffsetLocalDepths+idx] = byte(depth)
}

// IncrLocalDepth bumps the entry's local depth by one.
func (d HashDirectoryPage) IncrLocalDepth(idx int) {
	d.SetLocalDepth(idx, d.LocalDepth(idx)+1)
}

// DecrLocalDepth drops the entry's local depth by one.
func (d HashDirectoryPage) DecrLocalDepth(idx int) {
	depth := d.LocalDepth(idx)
	common.Assert(depth > 0, "local depth underflow at index %d", idx)
	d.SetLocalDepth(idx, depth-1)
}

// LocalHighBit returns the bit that distinguishes the entry's bucket from
// its split image after one more split.
func (d HashDirectoryPage) LocalHighBit(idx int) uint32 {
	return 1 << d.LocalDepth(idx)
}

// SplitImageIndex returns the directory index of the entry's split image:
// the index that differs only in the current high bit.
func (d HashDirectoryPage) SplitImageIndex(idx int) int {
	depth := d.LocalDepth(idx)
	common.Assert(depth > 0, "depth-0 bucket has no split image")
	return idx ^ (1 << (depth - 1))
}

// VerifyIntegrity asserts the directory invariants: local depths never
// exceed the global depth, every entry group of stride 2^localDepth shares
// one bucket page, and each bucket's pointer count is 2^(G - localDepth).
func (d HashDirectoryPage) VerifyIntegrity() {
	depth := d.GlobalDepth()
	size := int(d.Size())

	pointerCounts := make(map[common.PageID]int)
	for i := 0; i < size; i++ {
		pointerCounts[d.BucketPageID(i)]++
	}

	for i := 0; i < size; i++ {
		ld := d.LocalDepth(i)
		common.Assert(ld <= depth, "local depth %d exceeds global depth %d at index %d", ld, depth, i)

		low := i & ((1 << ld) - 1)
		common.Assert(d.BucketPageID(i) == d.BucketPageID(low),
			"indexes %d and %d share low bits but point at different buckets", i, low)
		common.Assert(d.LocalDepth(i) == d.LocalDepth(low),
			"indexes %d and %d share low bits but differ in local depth", i, low)

		want := 1 << (depth - ld)
		common.Assert(pointerCounts[d.BucketPageID(i)] == want,
			"bucket %d referenced %d times, want %d", d.BucketPageID(i), pointerCounts[d.BucketPageID(i)], want)
	}
}
