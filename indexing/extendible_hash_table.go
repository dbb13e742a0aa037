package indexing

import (
	"sync"
	"time"

	"github.com/OneOfOne/xxhash"

	"github.com/kestreldb/kestrel/common"
	"github.com/kestreldb/kestrel/storage"
)

var log = common.Component("indexing")

// poolRetryInterval is how long hash-table operations back off when the
// buffer pool has no evictable frame. Pool exhaustion is transient here: the
// table pins at most three pages at a time (directory, bucket and split
// image during a split), so some caller will unpin soon.
const poolRetryInterval = 10 * time.Millisecond

// insertOutcome distinguishes why a bucket-level insert did or did not
// happen. The split path needs to tell a full bucket from a duplicate.
type insertOutcome int

const (
	insertOK insertOutcome = iota
	insertDuplicate
	insertFull
)

// ExtendibleHashTable is a disk-backed hash table over the buffer pool.
// Non-unique keys are supported; the (key, value) pair is the unit of
// uniqueness. Buckets split as they fill and merge as they empty; the
// directory doubles and halves with them, up to storage.HashMaxDepth.
//
// Latching follows the crabbing protocol: the directory page latch is held
// only until the target bucket's latch has been acquired. Structure
// modifications (split, merge) take the directory latch in write mode; the
// coarse table latch is only ever taken shared and exists so the
// constructor can exclude all traffic while bootstrapping.
type ExtendibleHashTable[K comparable, V comparable] struct {
	pool     storage.BufferPool
	keyCodec Codec[K]
	valCodec Codec[V]

	entrySize  int
	capacity   int
	dirPageID  common.PageID
	tableLatch sync.RWMutex
}

// NewExtendibleHashTable bootstraps a directory page of global depth 0
// pointing at a single empty bucket.
func NewExtendibleHashTable[K comparable, V comparable](
	pool storage.BufferPool, keyCodec Codec[K], valCodec Codec[V],
) *ExtendibleHashTable[K, V] {
	ht := &ExtendibleHashTable[K, V]{
		pool:      pool,
		keyCodec:  keyCodec,
		valCodec:  valCodec,
		entrySize: keyCodec.Size() + valCodec.Size(),
	}
	ht.capacity = storage.HashBucketCapacity(ht.entrySize)

	ht.tableLatch.Lock()
	defer ht.tableLatch.Unlock()

	dirFrame, dirPID := ht.newPageRetry()
	ht.dirPageID = dirPID

	// A zeroed frame is already a valid empty bucket.
	_, bucketPID := ht.newPageRetry()
	ht.pool.UnpinPage(bucketPID, true)

	dirFrame.WLatch()
	storage.InitializeHashDirectoryPage(dirFrame, bucketPID)
	ht.releasePage(dirFrame, dirPID, true, true)
	return ht
}

// BucketCapacity returns the number of entries one bucket page holds.
func (ht *ExtendibleHashTable[K, V]) BucketCapacity() int { return ht.capacity }

func (ht *ExtendibleHashTable[K, V]) hash(key K) uint32 {
	buf := make([]byte, ht.keyCodec.Size())
	ht.keyCodec.Encode(buf, key)
	return xxhash.Checksum32(buf)
}

func (ht *ExtendibleHashTable[K, V]) dirIndex(key K, dir storage.HashDirectoryPage) int {
	return int(ht.hash(key) & dir.GlobalDepthMask())
}

// fetchPageRetry fetches a page, backing off while the pool is exhausted.
func (ht *ExtendibleHashTable[K, V]) fetchPageRetry(pid common.PageID) *storage.PageFrame {
	for {
		if frame := ht.pool.FetchPage(pid); frame != nil {
			return frame
		}
		log.Warnf("hash table fetch of page %d blocked on a full pool, retrying", pid)
		time.Sleep(poolRetryInterval)
	}
}

// newPageRetry allocates a page, backing off while the pool is exhausted.
func (ht *ExtendibleHashTable[K, V]) newPageRetry() (*storage.PageFrame, common.PageID) {
	for {
		if frame, pid := ht.pool.NewPage(); frame != nil {
			return frame, pid
		}
		log.Warn("hash table page allocation blocked on a full pool, retrying")
		time.Sleep(poolRetryInterval)
	}
}

// releasePage drops the latch and the pin in one step, marking the page
// dirty first when the caller modified it.
func (ht *ExtendibleHashTable[K, V]) releasePage(frame *storage.PageFrame, pid common.PageID, dirty, writeLatched bool) {
	if dirty {
		common.Assert(writeLatched, "dirtying a page under a read latch")
		frame.MarkDirty()
	}
	if writeLatched {
		frame.WUnlatch()
	} else {
		frame.RUnlatch()
	}
	ht.pool.UnpinPage(pid, dirty)
}

// acquireDir fetches and latches the directory page.
func (ht *ExtendibleHashTable[K, V]) acquireDir(write bool) *storage.PageFrame {
	frame := ht.fetchPageRetry(ht.dirPageID)
	if write {
		frame.WLatch()
	} else {
		frame.RLatch()
	}
	return frame
}

// acquireBucket fetches and latches a bucket page.
func (ht *ExtendibleHashTable[K, V]) acquireBucket(pid common.PageID, write bool) *storage.PageFrame {
	frame := ht.fetchPageRetry(pid)
	if write {
		frame.WLatch()
	} else {
		frame.RLatch()
	}
	return frame
}

// bucketGet appends every live value stored under key to out.
func (ht *ExtendibleHashTable[K, V]) bucketGet(bucket storage.HashBucketPage, key K, out []V) []V {
	for i := 0; i < ht.capacity; i++ {
		if !bucket.IsOccupied(i) {
			// Occupied slots form a prefix; the first gap ends the scan.
			break
		}
		if !bucket.IsReadable(i) {
			continue
		}
		entry := bucket.EntryAt(i)
		if ht.keyCodec.Decode(entry) == key {
			out = append(out, ht.valCodec.Decode(entry[ht.keyCodec.Size():]))
		}
	}
	return out
}

// bucketInsert stores (key, value) into the first non-readable slot,
// reclaiming tombstones. Inserting a pair that is already present fails
// with insertDuplicate.
func (ht *ExtendibleHashTable[K, V]) bucketInsert(bucket storage.HashBucketPage, key K, value V) insertOutcome {
	free := -1
	for i := 0; i < ht.capacity; i++ {
		if !bucket.IsOccupied(i) {
			if free == -1 {
				free = i
			}
			break
		}
		if !bucket.IsReadable(i) {
			if free == -1 {
				free = i
			}
			continue
		}
		entry := bucket.EntryAt(i)
		if ht.keyCodec.Decode(entry) == key && ht.valCodec.Decode(entry[ht.keyCodec.Size():]) == value {
			return insertDuplicate
		}
	}
	if free == -1 {
		return insertFull
	}

	entry := make([]byte, ht.entrySize)
	ht.keyCodec.Encode(entry, key)
	ht.valCodec.Encode(entry[ht.keyCodec.Size():], value)
	bucket.PutEntryAt(free, entry)
	return insertOK
}

// bucketRemove clears the readable bit of the slot holding (key, value),
// leaving the occupied bit as a tombstone.
func (ht *ExtendibleHashTable[K, V]) bucketRemove(bucket storage.HashBucketPage, key K, value V) bool {
	for i := 0; i < ht.capacity; i++ {
		if !bucket.IsOccupied(i) {
			break
		}
		if !bucket.IsReadable(i) {
			continue
		}
		entry := bucket.EntryAt(i)
		if ht.keyCodec.Decode(entry) == key && ht.valCodec.Decode(entry[ht.keyCodec.Size():]) == value {
			bucket.RemoveAt(i)
			return true
		}
	}
	return false
}

// GetValue returns every value stored under key, in slot order.
func (ht *ExtendibleHashTable[K, V]) GetValue(key K) []V {
	ht.tableLatch.RLock()
	defer ht.tableLatch.RUnlock()

	dirFrame := ht.acquireDir(false)
	dir := dirFrame.AsHashDirectoryPage()
	bucketPID := dir.BucketPageID(ht.dirIndex(key, dir))

	// Crabbing: the bucket latch lands before the directory latch lifts.
	bucketFrame := ht.acquireBucket(bucketPID, false)
	ht.releasePage(dirFrame, ht.dirPageID, false, false)

	result := ht.bucketGet(bucketFrame.AsHashBucketPage(ht.entrySize), key, nil)
	ht.releasePage(bucketFrame, bucketPID, false, false)
	return result
}

// Insert stores (key, value). It fails only for a duplicate pair or when
// the bucket is full and the directory can no longer grow.
func (ht *ExtendibleHashTable[K, V]) Insert(key K, value V) bool {
	ht.tableLatch.RLock()

	dirFrame := ht.acquireDir(false)
	dir := dirFrame.AsHashDirectoryPage()
	bucketPID := dir.BucketPageID(ht.dirIndex(key, dir))

	bucketFrame := ht.acquireBucket(bucketPID, true)
	ht.releasePage(dirFrame, ht.dirPageID, false, false)

	bucket := bucketFrame.AsHashBucketPage(ht.entrySize)
	needSplit := false
	inserted := false
	if bucket.IsFull() {
		needSplit = true
	} else {
		inserted = ht.bucketInsert(bucket, key, value) == insertOK
	}
	ht.releasePage(bucketFrame, bucketPID, inserted, true)

	ht.tableLatch.RUnlock()
	if needSplit {
		return ht.splitInsert(key, value)
	}
	return inserted
}

// splitInsert retries an insert that found its bucket full, splitting the
// bucket first. With the directory write-latched it re-checks fullness
// (another thread may have split already), grows the directory if the local
// depth has caught up with the global depth, rehashes the old bucket's
// entries by the new high bit, and retries the insert. When every entry
// lands on one side and the key hashes to that same side, the target is
// still full and the whole procedure recurses.
func (ht *ExtendibleHashTable[K, V]) splitInsert(key K, value V) bool {
	ht.tableLatch.RLock()

	dirFrame := ht.acquireDir(true)
	dir := dirFrame.AsHashDirectoryPage()

	bucketIdx := ht.dirIndex(key, dir)
	bucketPID := dir.BucketPageID(bucketIdx)

	bucketFrame := ht.acquireBucket(bucketPID, true)
	bucket := bucketFrame.AsHashBucketPage(ht.entrySize)

	inserted := false
	splitAgain := false

	if bucket.IsFull() {
		if dir.LocalDepth(bucketIdx) == dir.GlobalDepth() {
			if !dir.CanGrow() {
				// Directory at max depth: the insert fails gracefully.
				log.Warnf("hash directory cannot grow past depth %d, insert fails", storage.HashMaxDepth)
				ht.releasePage(bucketFrame, bucketPID, false, true)
				ht.releasePage(dirFrame, ht.dirPageID, false, true)
				ht.tableLatch.RUnlock()
				return false
			}
			dir.IncrGlobalDepth()
		}

		splitFrame, splitPID := ht.newPageRetry()

		// Every directory entry sharing the bucket's low localDepth bits
		// gets the deeper depth; those whose next bit is set move to the
		// new bucket. When the bucket had exactly two pointers this is
		// the classic pair update.
		localDepth := dir.LocalDepth(bucketIdx)
		highBit := dir.LocalHighBit(bucketIdx)
		lowMask := int(highBit) - 1
		for j := 0; j < int(dir.Size()); j++ {
			if j&lowMask != bucketIdx&lowMask {
				continue
			}
			dir.SetLocalDepth(j, localDepth+1)
			if j&int(highBit) != 0 {
				dir.SetBucketPageID(j, splitPID)
			}
		}

		splitFrame.WLatch()
		// The directory is consistent; release it before the rehash so
		// lookups of other buckets proceed.
		ht.releasePage(dirFrame, ht.dirPageID, true, true)

		splitBucket := splitFrame.AsHashBucketPage(ht.entrySize)
		moved := 0
		for i := 0; i < ht.capacity; i++ {
			if !bucket.IsOccupied(i) {
				break
			}
			if !bucket.IsReadable(i) {
				continue
			}
			entry := bucket.EntryAt(i)
			if ht.hash(ht.keyCodec.Decode(entry))&highBit == 0 {
				continue
			}
			bucket.RemoveAt(i)
			splitBucket.PutEntryAt(moved, entry)
			moved++
		}

		target := bucket
		if ht.hash(key)&highBit != 0 {
			target = splitBucket
		}
		switch ht.bucketInsert(target, key, value) {
		case insertOK:
			inserted = true
		case insertFull:
			// Everything stayed on the key's side; split once more.
			splitAgain = true
		case insertDuplicate:
		}

		ht.releasePage(splitFrame, splitPID, true, true)
		ht.releasePage(bucketFrame, bucketPID, true, true)
	} else {
		// Another thread already split this bucket for us.
		ht.releasePage(dirFrame, ht.dirPageID, false, true)
		inserted = ht.bucketInsert(bucket, key, value) == insertOK
		ht.releasePage(bucketFrame, bucketPID, inserted, true)
	}

	ht.tableLatch.RUnlock()
	if splitAgain {
		return ht.splitInsert(key, value)
	}
	return inserted
}

// Remove deletes the (key, value) pair, tombstoning its slot. A bucket
// left empty is merged with its split image.
func (ht *ExtendibleHashTable[K, V]) Remove(key K, value V) bool {
	ht.tableLatch.RLock()

	dirFrame := ht.acquireDir(false)
	dir := dirFrame.AsHashDirectoryPage()
	bucketPID := dir.BucketPageID(ht.dirIndex(key, dir))

	bucketFrame := ht.acquireBucket(bucketPID, true)
	ht.releasePage(dirFrame, ht.dirPageID, false, false)

	bucket := bucketFrame.AsHashBucketPage(ht.entrySize)
	removed := ht.bucketRemove(bucket, key, value)
	empty := bucket.IsEmpty()
	ht.releasePage(bucketFrame, bucketPID, removed, true)
	ht.tableLatch.RUnlock()

	if empty {
		ht.merge(key)
	}
	return removed
}

// merge folds an empty bucket into its split image: every directory index
// sharing the bucket's low localDepth-1 bits is redirected to the split
// image at the shallower depth. That full sweep, rather than a pair
// update, is what keeps the directory consistent when the merged pair is
// pointed at by more than two entries. Merging cascades while the
// surviving bucket is empty too, and the directory shrinks whenever every
// local depth sits below the global depth.
func (ht *ExtendibleHashTable[K, V]) merge(key K) {
	for {
		ht.tableLatch.RLock()

		dirFrame := ht.acquireDir(true)
		dir := dirFrame.AsHashDirectoryPage()

		changed := false
		var deletedPID common.PageID = common.InvalidPageID

		bucketIdx := ht.dirIndex(key, dir)
		localDepth := dir.LocalDepth(bucketIdx)
		if localDepth > 0 {
			bucketPID := dir.BucketPageID(bucketIdx)

			// Re-check emptiness under the bucket latch; an insert may
			// have slipped in since the caller observed the bucket empty.
			bucketFrame := ht.acquireBucket(bucketPID, false)
			empty := bucketFrame.AsHashBucketPage(ht.entrySize).IsEmpty()
			ht.releasePage(bucketFrame, bucketPID, false, false)

			if empty {
				splitIdx := dir.SplitImageIndex(bucketIdx)
				if dir.LocalDepth(splitIdx) == localDepth {
					splitPID := dir.BucketPageID(splitIdx)
					lowMask := (1 << (localDepth - 1)) - 1
					for j := 0; j < int(dir.Size()); j++ {
						if j&lowMask != bucketIdx&lowMask {
							continue
						}
						dir.SetBucketPageID(j, splitPID)
						dir.SetLocalDepth(j, localDepth-1)
					}
					if dir.CanShrink() {
						dir.DecrGlobalDepth()
					}
					changed = true
					deletedPID = bucketPID
				}
			}
		}

		ht.releasePage(dirFrame, ht.dirPageID, changed, true)
		ht.tableLatch.RUnlock()

		if deletedPID.IsValid() {
			ht.deletePageRetry(deletedPID)
		}
		if !changed {
			return
		}
		// The surviving bucket may be empty as well; loop to re-check and
		// cascade the merge.
	}
}

// deletePageRetry reclaims a merged-away bucket page. A straggling lookup
// that latched the page before the directory was rewritten may still pin
// it briefly.
func (ht *ExtendibleHashTable[K, V]) deletePageRetry(pid common.PageID) {
	for attempt := 0; attempt < 10; attempt++ {
		if ht.pool.DeletePage(pid) {
			return
		}
		time.Sleep(poolRetryInterval)
	}
	log.Warnf("could not reclaim merged bucket page %d, leaving it to the replacer", pid)
}

// GlobalDepth returns the directory's global depth.
func (ht *ExtendibleHashTable[K, V]) GlobalDepth() uint32 {
	ht.tableLatch.RLock()
	defer ht.tableLatch.RUnlock()

	dirFrame := ht.acquireDir(false)
	depth := dirFrame.AsHashDirectoryPage().GlobalDepth()
	ht.releasePage(dirFrame, ht.dirPageID, false, false)
	return depth
}

// VerifyIntegrity asserts the directory invariants. Tests call it after
// structural changes.
func (ht *ExtendibleHashTable[K, V]) VerifyIntegrity() {
	ht.tableLatch.RLock()
	defer ht.tableLatch.RUnlock()

	dirFrame := ht.acquireDir(false)
	dirFrame.AsHashDirectoryPage().VerifyIntegrity()
	ht.releasePage(dirFrame, ht.dirPageID, false, false)
}
