package execution

import (
	"github.com/kestreldb/kestrel/common"
	"github.com/kestreldb/kestrel/storage"
)

var log = common.Component("execution")

// TableHeap stores a table's tuples in a chain of heap pages drawn from the
// buffer pool. It is purely physical: tuple-level locking is the caller's
// responsibility, and happens before the heap is asked to touch a rid.
type TableHeap struct {
	pool        storage.BufferPool
	schema      *Schema
	firstPageID common.PageID
}

// NewTableHeap creates an empty heap with one initialized page.
func NewTableHeap(pool storage.BufferPool, schema *Schema) *TableHeap {
	frame, pid := pool.NewPage()
	common.Assert(frame != nil, "buffer pool exhausted while creating a table")

	frame.WLatch()
	storage.InitializeHeapPage(frame, schema.RowSize())
	frame.MarkDirty()
	frame.WUnlatch()
	pool.UnpinPage(pid, true)

	return &TableHeap{
		pool:        pool,
		schema:      schema,
		firstPageID: pid,
	}
}

// Schema returns the heap's row schema.
func (th *TableHeap) Schema() *Schema { return th.schema }

// FirstPageID returns the head of the page chain.
func (th *TableHeap) FirstPageID() common.PageID { return th.firstPageID }

// InsertTuple appends values to the first page with a free slot, growing
// the chain when every page is full. It returns the new tuple's rid.
func (th *TableHeap) InsertTuple(values []common.Value) (common.RID, bool) {
	row := make([]byte, th.schema.RowSize())
	th.schema.Serialize(row, values)

	pid := th.firstPageID
	for {
		frame := th.pool.FetchPage(pid)
		if frame == nil {
			log.Errorf("insert could not fetch heap page %d", pid)
			return common.RID{}, false
		}

		frame.WLatch()
		hp := frame.AsHeapPage()
		if slot := hp.InsertRow(row); slot != -1 {
			frame.MarkDirty()
			frame.WUnlatch()
			th.pool.UnpinPage(pid, true)
			return common.RID{PageID: pid, Slot: int32(slot)}, true
		}

		next := hp.NextPageID()
		if next.IsValid() {
			frame.WUnlatch()
			th.pool.UnpinPage(pid, false)
			pid = next
			continue
		}

		// Tail page is full; extend the chain. Holding the tail's write
		// latch across the link keeps two inserts from racing to attach
		// different tails.
		newFrame, newPID := th.pool.NewPage()
		if newFrame == nil {
			frame.WUnlatch()
			th.pool.UnpinPage(pid, false)
			log.Error("insert could not extend the heap, buffer pool exhausted")
			return common.RID{}, false
		}
		newFrame.WLatch()
		storage.InitializeHeapPage(newFrame, th.schema.RowSize())
		newFrame.MarkDirty()
		newFrame.WUnlatch()
		th.pool.UnpinPage(newPID, true)

		hp.SetNextPageID(newPID)
		frame.MarkDirty()
		frame.WUnlatch()
		th.pool.UnpinPage(pid, true)
		pid = newPID
	}
}

// GetTuple reads the tuple at rid into owned values. It returns false when
// the slot holds no live tuple.
func (th *TableHeap) GetTuple(rid common.RID) ([]common.Value, bool) {
	frame := th.pool.FetchPage(rid.PageID)
	if frame == nil {
		return nil, false
	}

	frame.RLatch()
	hp := frame.AsHeapPage()
	if !hp.IsAllocated(int(rid.Slot)) {
		frame.RUnlatch()
		th.pool.UnpinPage(rid.PageID, false)
		return nil, false
	}
	values := th.schema.Deserialize(hp.RowAt(int(rid.Slot)))
	frame.RUnlatch()
	th.pool.UnpinPage(rid.PageID, false)
	return values, true
}

// DeleteTuple frees the slot at rid. It returns false when no live tuple
// was there.
func (th *TableHeap) DeleteTuple(rid common.RID) bool {
	frame := th.pool.FetchPage(rid.PageID)
	if frame == nil {
		return false
	}

	frame.WLatch()
	hp := frame.AsHeapPage()
	if !hp.IsAllocated(int(rid.Slot)) {
		frame.WUnlatch()
		th.pool.UnpinPage(rid.PageID, false)
		return false
	}
	hp.MarkAllocated(int(rid.Slot), false)
	frame.MarkDirty()
	frame.WUnlatch()
	th.pool.UnpinPage(rid.PageID, true)
	return true
}

// UpdateTuple overwrites the tuple at rid in place. Rows are fixed-width,
// so an update never overflows its slot.
func (th *TableHeap) UpdateTuple(rid common.RID, values []common.Value) bool {
	frame := th.pool.FetchPage(rid.PageID)
	if frame == nil {
		return false
	}

	frame.WLatch()
	hp := frame.AsHeapPage()
	if !hp.IsAllocated(int(rid.Slot)) {
		frame.WUnlatch()
		th.pool.UnpinPage(rid.PageID, false)
		return false
	}
	th.schema.Serialize(hp.RowAt(int(rid.Slot)), values)
	frame.MarkDirty()
	frame.WUnlatch()
	th.pool.UnpinPage(rid.PageID, true)
	return true
}

// ScanRIDs snapshots the rids of the live tuples, page by page under the
// shared latch. Callers lock each rid before reading it; a tuple deleted
// between the snapshot and the read simply fails its GetTuple.
func (th *TableHeap) ScanRIDs() []common.RID {
	var rids []common.RID
	pid := th.firstPageID
	for pid.IsValid() {
		frame := th.pool.FetchPage(pid)
		if frame == nil {
			log.Errorf("scan could not fetch heap page %d", pid)
			return rids
		}
		frame.RLatch()
		hp := frame.AsHeapPage()
		for slot := 0; slot < hp.NumSlots(); slot++ {
			if hp.IsAllocated(slot) {
				rids = append(rids, common.RID{PageID: pid, Slot: int32(slot)})
			}
		}
		next := hp.NextPageID()
		frame.RUnlatch()
		th.pool.UnpinPage(pid, false)
		pid = next
	}
	return rids
}
