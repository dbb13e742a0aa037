package storage

import (
	"sync"

	"github.com/kestreldb/kestrel/common"
)

// lruNode is one entry of the arena-backed doubly-linked list. Nodes are
// owned by the arena; links are frame ids, not pointers.
type lruNode struct {
	prev, next common.FrameID
}

// LRUReplacer tracks the unpinned frames of one buffer-pool instance and
// answers eviction queries in least-recently-used order.
//
// The list lives in a fixed arena indexed by frame id, with a sentinel node
// at index poolSize. The list runs MRU to LRU from the sentinel, so the
// victim is always sentinel.prev. Membership is a per-frame flag; lookup,
// insert and remove are all O(1).
//
// A shared mutex guards the structure so Size is a read-side acquisition.
type LRUReplacer struct {
	mu       sync.RWMutex
	nodes    []lruNode
	inList   []bool
	size     int
	poolSize int
}

// NewLRUReplacer creates a replacer able to track poolSize frames.
func NewLRUReplacer(poolSize int) *LRUReplacer {
	r := &LRUReplacer{
		nodes:    make([]lruNode, poolSize+1),
		inList:   make([]bool, poolSize),
		poolSize: poolSize,
	}
	s := r.sentinel()
	r.nodes[s] = lruNode{prev: s, next: s}
	return r
}

func (r *LRUReplacer) sentinel() common.FrameID {
	return common.FrameID(r.poolSize)
}

// Victim removes and returns the least-recently-used frame. It returns
// false when no frame is evictable.
func (r *LRUReplacer) Victim() (common.FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return common.InvalidFrameID, false
	}
	fid := r.nodes[r.sentinel()].prev
	common.Assert(fid != r.sentinel(), "non-empty replacer with empty list")
	r.remove(fid)
	return fid, true
}

// Pin removes the frame from the eviction candidates. Pinning a frame that
// is not tracked, or an out-of-range id, is a no-op.
func (r *LRUReplacer) Pin(fid common.FrameID) {
	if !r.validID(fid) {
		log.Errorf("replacer pin with invalid frame id %d", fid)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inList[fid] {
		return
	}
	r.remove(fid)
}

// Unpin inserts the frame at the MRU end. Unpinning a frame that is
// already tracked, or an out-of-range id, is a no-op.
func (r *LRUReplacer) Unpin(fid common.FrameID) {
	if !r.validID(fid) {
		log.Errorf("replacer unpin with invalid frame id %d", fid)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inList[fid] {
		return
	}
	s := r.sentinel()
	head := &r.nodes[s]
	r.nodes[fid] = lruNode{prev: s, next: head.next}
	r.nodes[head.next].prev = fid
	head.next = fid
	r.inList[fid] = true
	r.size++
}

// Size returns the number of evictable frames.
func (r *LRUReplacer) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// remove unlinks fid. Caller holds the write lock; fid must be tracked.
func (r *LRUReplacer) remove(fid common.FrameID) {
	node := r.nodes[fid]
	r.nodes[node.prev].next = node.next
	r.nodes[node.next].prev = node.prev
	r.inList[fid] = false
	r.size--
}

func (r *LRUReplacer) validID(fid common.FrameID) bool {
	return fid >= 0 && int(fid) < r.poolSize
}
