package indexing

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestreldb/kestrel/storage"
)

func newTestPool(t *testing.T, numInstances uint32, poolSize int) storage.BufferPool {
	t.Helper()
	disk, err := storage.NewFileDiskManager(filepath.Join(t.TempDir(), "hash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = disk.Shutdown() })
	return storage.NewParallelBufferPool(numInstances, poolSize, disk)
}

func newIntTable(t *testing.T) *ExtendibleHashTable[int32, int32] {
	t.Helper()
	pool := newTestPool(t, 2, 16)
	return NewExtendibleHashTable[int32, int32](pool, Int32Codec{}, Int32Codec{})
}

func TestExtendibleHashTable_BasicOps(t *testing.T) {
	ht := newIntTable(t)
	assert.Equal(t, 496, ht.BucketCapacity())
	assert.Equal(t, uint32(0), ht.GlobalDepth())

	require.True(t, ht.Insert(1, 10))
	require.True(t, ht.Insert(2, 20))
	assert.Equal(t, []int32{10}, ht.GetValue(1))
	assert.Equal(t, []int32{20}, ht.GetValue(2))
	assert.Empty(t, ht.GetValue(3))

	// Non-unique keys: same key, distinct values.
	require.True(t, ht.Insert(1, 11))
	assert.ElementsMatch(t, []int32{10, 11}, ht.GetValue(1))

	// The (key, value) pair is the unit of uniqueness.
	assert.False(t, ht.Insert(1, 10), "duplicate pair must be rejected")

	require.True(t, ht.Remove(1, 10))
	assert.Equal(t, []int32{11}, ht.GetValue(1))
	assert.False(t, ht.Remove(1, 10), "removing a missing pair fails")

	ht.VerifyIntegrity()
}

func TestExtendibleHashTable_TombstoneReuse(t *testing.T) {
	ht := newIntTable(t)

	require.True(t, ht.Insert(7, 70))
	require.True(t, ht.Insert(8, 80))
	require.True(t, ht.Remove(7, 70))

	// The tombstoned slot is reclaimed; the surviving entry stays
	// readable.
	require.True(t, ht.Insert(9, 90))
	assert.Equal(t, []int32{80}, ht.GetValue(8))
	assert.Equal(t, []int32{90}, ht.GetValue(9))
}

// TestExtendibleHashTable_SplitGrowShrink is the fill-drain scenario:
// five buckets' worth of keys force splits and directory growth, then
// removing everything cascades merges back to depth zero.
func TestExtendibleHashTable_SplitGrowShrink(t *testing.T) {
	ht := newIntTable(t)
	numKeys := int32(5 * ht.BucketCapacity()) // 2480

	for k := int32(0); k < numKeys; k++ {
		require.True(t, ht.Insert(k, k), "insert of key %d", k)
	}
	assert.GreaterOrEqual(t, ht.GlobalDepth(), uint32(2),
		"five buckets of keys require at least two splits")
	ht.VerifyIntegrity()

	for k := int32(0); k < numKeys; k++ {
		assert.Equal(t, []int32{k}, ht.GetValue(k), "lookup of key %d", k)
	}

	for k := int32(0); k < numKeys; k++ {
		require.True(t, ht.Remove(k, k), "remove of key %d", k)
	}
	assert.Equal(t, uint32(0), ht.GlobalDepth(),
		"draining the table must cascade merges back to depth 0")
	ht.VerifyIntegrity()

	for k := int32(0); k < numKeys; k += 97 {
		assert.Empty(t, ht.GetValue(k))
	}
}

// TestExtendibleHashTable_InsertRemoveInterleaved drains in the reverse
// order of insertion with fresh inserts in between, exercising merge
// re-checks.
func TestExtendibleHashTable_InsertRemoveInterleaved(t *testing.T) {
	ht := newIntTable(t)
	n := int32(2 * ht.BucketCapacity())

	for k := int32(0); k < n; k++ {
		require.True(t, ht.Insert(k, k*2))
	}
	for k := n - 1; k >= 0; k-- {
		require.True(t, ht.Remove(k, k*2))
		if k%5 == 0 {
			require.True(t, ht.Insert(k, k*2+1))
		}
	}
	for k := int32(0); k < n; k++ {
		if k%5 == 0 {
			assert.Equal(t, []int32{k*2 + 1}, ht.GetValue(k))
		} else {
			assert.Empty(t, ht.GetValue(k))
		}
	}
	ht.VerifyIntegrity()
}

// TestExtendibleHashTable_Concurrent splits under parallel inserts and
// checks every key afterwards, with readers running throughout.
func TestExtendibleHashTable_Concurrent(t *testing.T) {
	ht := newIntTable(t)

	const (
		goroutines = 8
		perWorker  = 600
	)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(base int32) {
			defer wg.Done()
			for i := int32(0); i < perWorker; i++ {
				k := base*perWorker + i
				assert.True(t, ht.Insert(k, k))
				if i%3 == 0 {
					_ = ht.GetValue(k - 1)
				}
			}
		}(int32(g))
	}
	wg.Wait()

	for k := int32(0); k < goroutines*perWorker; k++ {
		require.Equal(t, []int32{k}, ht.GetValue(k), "lookup of key %d after concurrent load", k)
	}
	ht.VerifyIntegrity()
}
