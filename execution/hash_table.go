package execution

import (
	"github.com/OneOfOne/xxhash"

	"github.com/kestreldb/kestrel/common"
)

// ExecHashTable is the in-memory hash table behind hash join, aggregation
// and distinct. Keys are value lists; collisions on the 64-bit hash are
// resolved by comparing the full key. Entries within one bucket keep
// insertion order, which is what makes hash-join output deterministic for
// a given build order.
type ExecHashTable[V any] struct {
	buckets map[uint64][]execEntry[V]
	size    int
}

type execEntry[V any] struct {
	key []common.Value
	val V
}

// NewExecHashTable creates an empty table.
func NewExecHashTable[V any]() *ExecHashTable[V] {
	return &ExecHashTable[V]{buckets: make(map[uint64][]execEntry[V])}
}

// hashValues hashes the serialized images of the key values.
func hashValues(key []common.Value) uint64 {
	h := xxhash.New64()
	buf := make([]byte, common.StringLength)
	for _, v := range key {
		width := v.SizeInBytes()
		v.WriteTo(buf[:width])
		_, _ = h.Write(buf[:width])
	}
	return h.Sum64()
}

func keysEqual(a, b []common.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type() != b[i].Type() || a[i].Compare(b[i]) != 0 {
			return false
		}
	}
	return true
}

// Size returns the number of stored keys.
func (ht *ExecHashTable[V]) Size() int { return ht.size }

// Get returns the value stored under key.
func (ht *ExecHashTable[V]) Get(key []common.Value) (V, bool) {
	for _, entry := range ht.buckets[hashValues(key)] {
		if keysEqual(entry.key, key) {
			return entry.val, true
		}
	}
	var zero V
	return zero, false
}

// Put stores val under key, replacing any previous value.
func (ht *ExecHashTable[V]) Put(key []common.Value, val V) {
	h := hashValues(key)
	bucket := ht.buckets[h]
	for i := range bucket {
		if keysEqual(bucket[i].key, key) {
			bucket[i].val = val
			return
		}
	}
	ht.buckets[h] = append(bucket, execEntry[V]{key: key, val: val})
	ht.size++
}

// Range calls fn for every (key, value) pair until fn returns false.
// Iteration order is unspecified.
func (ht *ExecHashTable[V]) Range(fn func(key []common.Value, val V) bool) {
	for _, bucket := range ht.buckets {
		for _, entry := range bucket {
			if !fn(entry.key, entry.val) {
				return
			}
		}
	}
}
