package common

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSpinLock_MutualExclusion hammers a plain counter from many
// goroutines; any lost update means the lock failed to exclude.
func TestSpinLock_MutualExclusion(t *testing.T) {
	const (
		goroutines = 16
		increments = 10000
	)

	var (
		lock    SpinLock
		counter int
		wg      sync.WaitGroup
	)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < increments; i++ {
				lock.Lock()
				counter++
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*increments, counter)
}

func TestSpinLock_LockUnlockSequence(t *testing.T) {
	var lock SpinLock
	for i := 0; i < 100; i++ {
		lock.Lock()
		lock.Unlock()
	}
}
