package lock_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Tiliavir/shiftq/internal/lock"
)

func TestAcquireRelease(t *testing.T) {
	tbl := lock.New()

	assert.True(t, tbl.Acquire("start:Ana"))
	assert.True(t, tbl.Held("start:Ana"))
	assert.False(t, tbl.Acquire("start:Ana"), "second acquire must fail while held")
	assert.True(t, tbl.Acquire("start:Ben"), "other keys are independent")

	tbl.Release("start:Ana")
	assert.False(t, tbl.Held("start:Ana"))
	assert.True(t, tbl.Acquire("start:Ana"))

	// Releasing an unknown key is a no-op.
	tbl.Release("end:Nobody")
}

func TestEmptyKeyNeverExcludes(t *testing.T) {
	tbl := lock.New()
	assert.True(t, tbl.Acquire(""))
	assert.True(t, tbl.Acquire(""))
	assert.False(t, tbl.Held(""))
	tbl.Release("")
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	tbl := lock.New()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tbl.Acquire("end:Ana") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
