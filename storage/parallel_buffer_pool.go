package storage

import (
	"sync/atomic"

	"github.com/kestreldb/kestrel/common"
)

// ParallelBufferPool shards pages across N BufferPoolInstances by
// pid mod N. Each shard owns its own page table, free list and replacer, so
// the shards share no state beyond the array itself.
type ParallelBufferPool struct {
	instances  []*BufferPoolInstance
	startIndex atomic.Uint32
}

// NewParallelBufferPool creates numInstances shards of poolSize frames
// each, all backed by the same disk manager.
func NewParallelBufferPool(numInstances uint32, poolSize int, disk DiskManager) *ParallelBufferPool {
	common.Assert(numInstances > 0, "parallel pool needs at least one instance")
	p := &ParallelBufferPool{
		instances: make([]*BufferPoolInstance, numInstances),
	}
	for i := uint32(0); i < numInstances; i++ {
		p.instances[i] = NewBufferPoolInstance(poolSize, numInstances, i, disk)
	}
	return p
}

// PoolSize returns the total frame count across all shards.
func (p *ParallelBufferPool) PoolSize() int {
	return len(p.instances) * p.instances[0].PoolSize()
}

func (p *ParallelBufferPool) instanceFor(pid common.PageID) *BufferPoolInstance {
	common.Assert(pid.IsValid(), "routing invalid page id")
	return p.instances[uint32(pid)%uint32(len(p.instances))]
}

func (p *ParallelBufferPool) FetchPage(pid common.PageID) *PageFrame {
	return p.instanceFor(pid).FetchPage(pid)
}

func (p *ParallelBufferPool) UnpinPage(pid common.PageID, dirty bool) bool {
	return p.instanceFor(pid).UnpinPage(pid, dirty)
}

func (p *ParallelBufferPool) FlushPage(pid common.PageID) bool {
	return p.instanceFor(pid).FlushPage(pid)
}

func (p *ParallelBufferPool) DeletePage(pid common.PageID) bool {
	return p.instanceFor(pid).DeletePage(pid)
}

// NewPage allocates from a rotating start shard so allocation pressure
// spreads across instances, then scans every shard once before giving up.
func (p *ParallelBufferPool) NewPage() (*PageFrame, common.PageID) {
	n := uint32(len(p.instances))
	start := p.startIndex.Load()
	for !p.startIndex.CompareAndSwap(start, (start+1)%n) {
		start = p.startIndex.Load()
	}

	for i := uint32(0); i < n; i++ {
		if frame, pid := p.instances[(start+i)%n].NewPage(); frame != nil {
			return frame, pid
		}
	}
	return nil, common.InvalidPageID
}

func (p *ParallelBufferPool) FlushAll() {
	for _, inst := range p.instances {
		inst.FlushAll()
	}
}
