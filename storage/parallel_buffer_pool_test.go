package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestreldb/kestrel/common"
)

// TestParallelBufferPool_AllocationStride checks that every allocated page
// id routes back to the shard that produced it, which is what the
// id-stride scheme guarantees.
func TestParallelBufferPool_AllocationStride(t *testing.T) {
	disk := newTestDisk(t)
	pool := NewParallelBufferPool(4, 2, disk)
	assert.Equal(t, 8, pool.PoolSize())

	perShard := make(map[uint32]int)
	for i := 0; i < 8; i++ {
		frame, pid := pool.NewPage()
		require.NotNil(t, frame)
		perShard[uint32(pid)%4]++
		require.True(t, pool.UnpinPage(pid, false))
	}

	// The rotating start index spreads allocations evenly when every
	// shard has room.
	for shard := uint32(0); shard < 4; shard++ {
		assert.Equal(t, 2, perShard[shard], "shard %d allocation count", shard)
	}
}

// TestParallelBufferPool_NewPageScansAllShards pins every shard full, then
// unpins one page and verifies allocation succeeds from that shard.
func TestParallelBufferPool_NewPageScansAllShards(t *testing.T) {
	disk := newTestDisk(t)
	pool := NewParallelBufferPool(4, 1, disk)

	pinned := make([]common.PageID, 0, 4)
	for i := 0; i < 4; i++ {
		frame, pid := pool.NewPage()
		require.NotNil(t, frame)
		pinned = append(pinned, pid)
	}

	frame, _ := pool.NewPage()
	assert.Nil(t, frame, "every shard is pinned full")

	require.True(t, pool.UnpinPage(pinned[2], false))
	frame, pid := pool.NewPage()
	require.NotNil(t, frame, "one unpinned shard is enough")
	assert.Equal(t, uint32(pinned[2])%4, uint32(pid)%4, "the free shard serves the allocation")
}

// TestParallelBufferPool_RoundTrip writes through one routing path and
// reads through another.
func TestParallelBufferPool_RoundTrip(t *testing.T) {
	disk := newTestDisk(t)
	pool := NewParallelBufferPool(4, 4, disk)

	frame, pid := pool.NewPage()
	require.NotNil(t, frame)
	writePattern(frame, "sharded")
	require.True(t, pool.UnpinPage(pid, true))
	require.True(t, pool.FlushPage(pid))

	again := pool.FetchPage(pid)
	require.NotNil(t, again)
	assert.Equal(t, "sharded", readPattern(again, len("sharded")))
	pool.UnpinPage(pid, false)
}

// TestParallelBufferPool_ConcurrentNewPage allocates from many goroutines
// and requires all ids to be distinct.
func TestParallelBufferPool_ConcurrentNewPage(t *testing.T) {
	disk := newTestDisk(t)
	pool := NewParallelBufferPool(4, 16, disk)

	var (
		mu  sync.Mutex
		ids = make(map[common.PageID]bool)
		wg  sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				frame, pid := pool.NewPage()
				if frame == nil {
					continue
				}
				writePattern(frame, fmt.Sprintf("alloc-%d", pid))
				mu.Lock()
				assert.False(t, ids[pid], "page id %d allocated twice", pid)
				ids[pid] = true
				mu.Unlock()
				pool.UnpinPage(pid, true)
			}
		}()
	}
	wg.Wait()
}
