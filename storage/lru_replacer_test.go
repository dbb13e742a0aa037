package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestreldb/kestrel/common"
)

// TestLRUReplacer_VictimOrder walks the canonical pin/unpin/victim
// sequence and checks the LRU ordering at every step.
func TestLRUReplacer_VictimOrder(t *testing.T) {
	r := NewLRUReplacer(7)

	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)
	r.Unpin(4)
	r.Unpin(5)
	r.Unpin(6)
	// A second unpin of a tracked frame is a no-op, so 1 keeps its LRU
	// position.
	r.Unpin(1)
	assert.Equal(t, 6, r.Size())

	for _, want := range []common.FrameID{1, 2, 3} {
		fid, ok := r.Victim()
		require.True(t, ok)
		assert.Equal(t, want, fid)
	}

	// 3 was already victimized, so pinning it is a no-op; pinning 4
	// removes it.
	r.Pin(3)
	r.Pin(4)
	assert.Equal(t, 2, r.Size())

	r.Unpin(4)
	for _, want := range []common.FrameID{5, 6, 4} {
		fid, ok := r.Victim()
		require.True(t, ok)
		assert.Equal(t, want, fid)
	}

	_, ok := r.Victim()
	assert.False(t, ok, "empty replacer must not produce a victim")
}

// TestLRUReplacer_OutOfRange ensures invalid frame ids are ignored rather
// than tracked.
func TestLRUReplacer_OutOfRange(t *testing.T) {
	r := NewLRUReplacer(2)

	r.Unpin(0)
	r.Unpin(1)
	r.Unpin(3)
	r.Unpin(-1)
	assert.Equal(t, 2, r.Size())

	r.Pin(5)
	r.Pin(-2)
	assert.Equal(t, 2, r.Size())
}

// TestLRUReplacer_Concurrent checks that parallel pin/unpin/victim traffic
// neither loses frames nor duplicates them.
func TestLRUReplacer_Concurrent(t *testing.T) {
	const poolSize = 64
	r := NewLRUReplacer(poolSize)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				fid := common.FrameID((seed*31 + i) % poolSize)
				r.Unpin(fid)
				if i%3 == 0 {
					r.Pin(fid)
				}
				if i%7 == 0 {
					r.Victim()
				}
			}
		}(g)
	}
	wg.Wait()

	// Drain; every produced victim must be unique and in range.
	seen := make(map[common.FrameID]bool)
	for {
		fid, ok := r.Victim()
		if !ok {
			break
		}
		assert.GreaterOrEqual(t, int(fid), 0)
		assert.Less(t, int(fid), poolSize)
		assert.False(t, seen[fid], "victim %d produced twice in one drain", fid)
		seen[fid] = true
	}
	assert.Equal(t, 0, r.Size())
}
