package storage

import (
	"sync"

	"github.com/kestreldb/kestrel/common"
)

var log = common.Component("storage")

// BufferPool is the page-cache contract consumed by the heap, the hash
// index and the executors. Both the single instance and the sharded pool
// satisfy it. Failed operations return nil/false rather than errors; a nil
// frame from FetchPage or NewPage means every frame is pinned.
type BufferPool interface {
	FetchPage(pid common.PageID) *PageFrame
	NewPage() (*PageFrame, common.PageID)
	UnpinPage(pid common.PageID, dirty bool) bool
	FlushPage(pid common.PageID) bool
	DeletePage(pid common.PageID) bool
	FlushAll()
}

// BufferPoolInstance owns a fixed array of page frames and keeps a single
// in-memory copy of every resident page. Frame bookkeeping obeys one
// invariant throughout: a frame is either on the free list or mapped in the
// page table, never both, and only mapped frames with no pins enter the
// replacer's candidate set.
//
// Lock ordering is page-table lock, then frame metadata spinlock, then page
// content latch. No code path takes them in another order, which is what
// keeps the pool deadlock-free.
type BufferPoolInstance struct {
	poolSize      int
	numInstances  uint32
	instanceIndex uint32

	disk     DiskManager
	frames   []PageFrame
	replacer *LRUReplacer

	// tableMu guards pageTable and nextPageID. Readers (fetch hits,
	// unpin, flush lookups) take it shared; install/evict take it
	// exclusive.
	tableMu    sync.RWMutex
	pageTable  map[common.PageID]common.FrameID
	nextPageID common.PageID

	// listMu guards the free list only.
	listMu   sync.Mutex
	freeList []common.FrameID
}

// NewBufferPoolInstance creates an instance holding poolSize frames. When
// the instance is a shard of a parallel pool, numInstances and
// instanceIndex make page-id allocation stride across shards so that
// pid mod numInstances == instanceIndex for every id allocated here.
func NewBufferPoolInstance(poolSize int, numInstances, instanceIndex uint32, disk DiskManager) *BufferPoolInstance {
	common.Assert(numInstances > 0, "a pool needs at least one instance")
	common.Assert(instanceIndex < numInstances, "instance index %d out of range", instanceIndex)

	bp := &BufferPoolInstance{
		poolSize:      poolSize,
		numInstances:  numInstances,
		instanceIndex: instanceIndex,
		disk:          disk,
		frames:        make([]PageFrame, poolSize),
		replacer:      NewLRUReplacer(poolSize),
		pageTable:     make(map[common.PageID]common.FrameID, poolSize),
		nextPageID:    common.PageID(instanceIndex),
		freeList:      make([]common.FrameID, 0, poolSize),
	}
	for i := 0; i < poolSize; i++ {
		bp.freeList = append(bp.freeList, common.FrameID(i))
	}
	return bp
}

// PoolSize returns the number of frames this instance owns.
func (bp *BufferPoolInstance) PoolSize() int { return bp.poolSize }

// FetchPage pins the page and returns its frame, reading it from disk if it
// is not resident. It returns nil when every frame is pinned.
func (bp *BufferPoolInstance) FetchPage(pid common.PageID) *PageFrame {
	common.Assert(pid.IsValid(), "fetching invalid page id")

	var (
		frame   *PageFrame
		frameID common.FrameID
		oldPin  int
	)
	bp.tableMu.RLock()
	if fid, ok := bp.pageTable[pid]; ok {
		frameID = fid
		frame = &bp.frames[fid]
		frame.meta.Lock()
		common.Assert(frame.pageID == pid, "page table maps %d to a frame holding %d", pid, frame.pageID)
		oldPin = frame.pinCount
		frame.pinCount++
		frame.meta.Unlock()
	}
	bp.tableMu.RUnlock()

	// The replacer pin lags the pin-count bump; the replacement path
	// rechecks the count before evicting, so the window is harmless.
	if frame != nil {
		if oldPin == 0 {
			bp.replacer.Pin(frameID)
		}
		return frame
	}

	if frame := bp.freeListGetFrame(&pid); frame != nil {
		return frame
	}
	return bp.replacerGetFrame(&pid)
}

// NewPage allocates a fresh page id, installs a zeroed frame for it, and
// returns the pinned frame. Brand-new pages are born dirty so they reach
// disk even if never modified again. Returns nil when every frame is
// pinned.
func (bp *BufferPoolInstance) NewPage() (*PageFrame, common.PageID) {
	pid := common.InvalidPageID
	if frame := bp.freeListGetFrame(&pid); frame != nil {
		return frame, pid
	}
	if frame := bp.replacerGetFrame(&pid); frame != nil {
		return frame, pid
	}
	return nil, common.InvalidPageID
}

// UnpinPage drops one pin. When the count reaches zero the frame becomes an
// eviction candidate. dirty records that the caller modified the page; it
// raises justDirtied too, so a flush that is mid-flight cannot clear the
// dirty bit and lose the change.
func (bp *BufferPoolInstance) UnpinPage(pid common.PageID, dirty bool) bool {
	bp.tableMu.RLock()
	fid, ok := bp.pageTable[pid]
	bp.tableMu.RUnlock()
	if !ok {
		log.Errorf("unpin of a non-resident page %d", pid)
		return false
	}
	frame := &bp.frames[fid]

	frame.meta.Lock()
	if frame.pinCount <= 0 {
		frame.meta.Unlock()
		log.Errorf("unpin of page %d with pin count <= 0", pid)
		return false
	}
	if dirty {
		frame.dirty = true
		frame.justDirtied = true
	}
	oldPin := frame.pinCount
	frame.pinCount--
	frame.meta.Unlock()

	if oldPin == 1 {
		bp.replacer.Unpin(fid)
	}
	return true
}

// FlushPage writes the page image to disk. The frame is pinned for the
// duration so it cannot be evicted underneath the write. The dirty bit is
// cleared only if no writer re-dirtied the page while the flush was in
// flight.
func (bp *BufferPoolInstance) FlushPage(pid common.PageID) bool {
	var (
		frame   *PageFrame
		frameID common.FrameID
		oldPin  int
	)
	bp.tableMu.RLock()
	fid, ok := bp.pageTable[pid]
	if !ok {
		bp.tableMu.RUnlock()
		log.Errorf("flush of a non-resident page %d", pid)
		return false
	}
	frameID = fid
	frame = &bp.frames[fid]
	frame.meta.Lock()
	if !frame.dirty {
		frame.meta.Unlock()
		bp.tableMu.RUnlock()
		return true
	}
	oldPin = frame.pinCount
	frame.pinCount++
	frame.meta.Unlock()
	bp.tableMu.RUnlock()

	if oldPin == 0 {
		bp.replacer.Pin(frameID)
	}

	bp.innerFlush(frame)

	frame.meta.Lock()
	oldPin = frame.pinCount
	frame.pinCount--
	frame.meta.Unlock()
	if oldPin == 1 {
		bp.replacer.Unpin(frameID)
	}
	return true
}

// FlushAll flushes every dirty resident page. The shared table lock is held
// throughout, which already prevents eviction, so the per-page pin dance of
// FlushPage is unnecessary here.
func (bp *BufferPoolInstance) FlushAll() {
	bp.tableMu.RLock()
	defer bp.tableMu.RUnlock()

	for pid, fid := range bp.pageTable {
		frame := &bp.frames[fid]

		frame.meta.Lock()
		common.Assert(frame.pageID == pid, "page table maps %d to a frame holding %d", pid, frame.pageID)
		dirty := frame.dirty
		frame.meta.Unlock()
		if !dirty {
			continue
		}
		bp.innerFlush(frame)
	}
}

// DeletePage evicts the page and returns its frame to the free list. A page
// that is not resident deletes successfully; a pinned page does not. Page
// ids are never recycled, so there is no deallocation step.
func (bp *BufferPoolInstance) DeletePage(pid common.PageID) bool {
	var (
		frame   *PageFrame
		frameID common.FrameID
	)
	bp.tableMu.RLock()
	fid, ok := bp.pageTable[pid]
	if !ok {
		bp.tableMu.RUnlock()
		return true
	}
	frameID = fid
	frame = &bp.frames[fid]
	frame.meta.Lock()
	common.Assert(frame.pageID == pid, "page table maps %d to a frame holding %d", pid, frame.pageID)
	if frame.pinCount > 0 {
		frame.meta.Unlock()
		bp.tableMu.RUnlock()
		return false
	}
	frame.pinCount++
	frame.meta.Unlock()
	bp.tableMu.RUnlock()

	// Keep the frame away from the replacer while we take the exclusive
	// table lock. The pin count was zero under the shared lock, so the
	// frame may be sitting in the candidate list.
	bp.replacer.Pin(frameID)

	bp.tableMu.Lock()
	frame.meta.Lock()
	if frame.pinCount > 1 {
		// Someone re-pinned the page before we got the exclusive lock.
		frame.pinCount--
		frame.meta.Unlock()
		bp.tableMu.Unlock()
		return false
	}
	frame.pageID = common.InvalidPageID
	frame.pinCount = 0
	frame.dirty = false
	frame.justDirtied = false
	frame.meta.Unlock()
	delete(bp.pageTable, pid)
	bp.tableMu.Unlock()

	bp.listMu.Lock()
	bp.freeList = append(bp.freeList, frameID)
	bp.listMu.Unlock()
	return true
}

// allocatePage hands out the next page id for this instance. Caller holds
// the exclusive table lock.
func (bp *BufferPoolInstance) allocatePage() common.PageID {
	pid := bp.nextPageID
	bp.nextPageID += common.PageID(bp.numInstances)
	common.Assert(uint32(pid)%bp.numInstances == bp.instanceIndex,
		"page id %d does not route to instance %d", pid, bp.instanceIndex)
	return pid
}

// innerFlush writes a frame to disk under the shared content latch. The
// caller keeps the frame evictable-free, either by pinning it or by holding
// the table lock.
// justDirtied is lowered before the write; if a concurrent unpin raises it
// again the dirty bit survives the flush and the page will be written once
// more later.
func (bp *BufferPoolInstance) innerFlush(frame *PageFrame) {
	frame.latch.RLock()
	frame.meta.Lock()
	pid := frame.pageID
	frame.justDirtied = false
	frame.meta.Unlock()

	if err := bp.disk.WritePage(pid, frame.data[:]); err != nil {
		log.WithError(err).Errorf("flush of page %d failed", pid)
		frame.latch.RUnlock()
		return
	}

	frame.meta.Lock()
	if !frame.justDirtied {
		frame.dirty = false
	}
	frame.meta.Unlock()
	frame.latch.RUnlock()
}

// freeListGetFrame installs *pid (allocating a fresh id when invalid) into
// a frame popped from the free list. If another thread installed the page
// while we were off the table lock, the popped frame goes back to the free
// list and the existing mapping is pinned and returned. Disk I/O happens
// after the table lock is dropped, under the frame's write latch, so no
// reader can observe a half-loaded page.
func (bp *BufferPoolInstance) freeListGetFrame(pid *common.PageID) *PageFrame {
	bp.listMu.Lock()
	if len(bp.freeList) == 0 {
		bp.listMu.Unlock()
		return nil
	}
	frameID := bp.freeList[0]
	bp.freeList = bp.freeList[1:]
	bp.listMu.Unlock()

	frame := &bp.frames[frameID]
	needsIO := true

	bp.tableMu.Lock()
	newPID := *pid
	if newPID == common.InvalidPageID {
		newPID = bp.allocatePage()
		*pid = newPID
		needsIO = false
	}
	if existingFID, ok := bp.pageTable[newPID]; ok {
		// Another fetch beat us to the install. A freshly allocated id
		// cannot collide, so this is always the fetch case.
		bp.listMu.Lock()
		bp.freeList = append(bp.freeList, frameID)
		bp.listMu.Unlock()

		existing := &bp.frames[existingFID]
		existing.meta.Lock()
		existing.pinCount++
		existing.meta.Unlock()
		bp.tableMu.Unlock()
		return existing
	}
	bp.pageTable[newPID] = frameID

	frame.meta.Lock()
	frame.resetMeta(newPID)
	frame.meta.Unlock()

	// Take the content latch before releasing the table lock so the frame
	// cannot be observed between install and load.
	frame.latch.Lock()
	bp.tableMu.Unlock()

	frame.resetMemory()
	if needsIO {
		if err := bp.disk.ReadPage(newPID, frame.data[:]); err != nil {
			log.WithError(err).Errorf("read of page %d failed", newPID)
		}
	} else {
		frame.MarkDirty()
	}
	frame.latch.Unlock()
	return frame
}

// replacerGetFrame evicts a victim frame and reuses it for *pid. The victim
// is re-validated under its metadata spinlock after the flush: another
// thread may have re-pinned or re-dirtied it between Victim() and here, in
// which case the victim is handed back and the search retries.
func (bp *BufferPoolInstance) replacerGetFrame(pid *common.PageID) *PageFrame {
	for {
		frameID, ok := bp.replacer.Victim()
		if !ok {
			return nil
		}
		frame := &bp.frames[frameID]

		frame.meta.Lock()
		dirty := frame.dirty
		frame.pinCount++
		frame.meta.Unlock()

		if dirty {
			bp.innerFlush(frame)
		}

		needsIO := true
		bp.tableMu.Lock()
		newPID := *pid
		existingFID, alreadyExists := common.InvalidFrameID, false
		if newPID != common.InvalidPageID {
			existingFID, alreadyExists = bp.lookupLocked(newPID)
		}

		frame.meta.Lock()
		if frame.pinCount > 1 || frame.dirty {
			// Re-pinned or re-dirtied since we picked it; give it up.
			oldPin := frame.pinCount
			frame.pinCount--
			frame.meta.Unlock()
			bp.tableMu.Unlock()
			if oldPin == 1 {
				bp.replacer.Unpin(frameID)
			}
			continue
		}
		if alreadyExists {
			// Another thread installed the page we want. Pin theirs and
			// hand our clean victim back to the replacer so it stays
			// under the replacer's control.
			frame.pinCount--
			frame.meta.Unlock()

			existing := &bp.frames[existingFID]
			existing.meta.Lock()
			existing.pinCount++
			existing.meta.Unlock()
			bp.tableMu.Unlock()

			bp.replacer.Unpin(frameID)
			return existing
		}

		if newPID == common.InvalidPageID {
			newPID = bp.allocatePage()
			*pid = newPID
			needsIO = false
		}
		oldPID := frame.pageID
		frame.resetMeta(newPID)
		frame.meta.Unlock()

		frame.latch.Lock()

		// Rewrite the table atomically: the old mapping disappears and
		// the new one appears under the same exclusive lock.
		delete(bp.pageTable, oldPID)
		bp.pageTable[newPID] = frameID
		bp.tableMu.Unlock()

		frame.resetMemory()
		if needsIO {
			if err := bp.disk.ReadPage(newPID, frame.data[:]); err != nil {
				log.WithError(err).Errorf("read of page %d failed", newPID)
			}
		} else {
			frame.MarkDirty()
		}
		frame.latch.Unlock()
		return frame
	}
}

func (bp *BufferPoolInstance) lookupLocked(pid common.PageID) (common.FrameID, bool) {
	fid, ok := bp.pageTable[pid]
	return fid, ok
}
