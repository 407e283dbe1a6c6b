package hwpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquireRespectsBound(t *testing.T) {
	p := New(2)
	assert.True(t, p.Acquire())
	assert.True(t, p.Acquire())
	assert.False(t, p.Acquire())
	assert.Equal(t, 2, p.InUse())
}

func TestReleaseFreesSlot(t *testing.T) {
	p := New(1)
	require := assert.New(t)
	require.True(p.Acquire())
	require.False(p.Acquire())
	p.Release()
	require.True(p.Acquire())
}

func TestZeroCapacityNeverAdmits(t *testing.T) {
	p := New(0)
	assert.False(t, p.Acquire())
	assert.Equal(t, 0, p.Max())
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	p := New(1)
	p.Release()
	p.Release()
	assert.Equal(t, 0, p.InUse())
}

func TestConcurrentAcquireNeverExceedsMax(t *testing.T) {
	p := New(4)
	var wg sync.WaitGroup
	var granted int32
	var mu sync.Mutex
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.Acquire() {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, int(granted), 4)
	assert.Equal(t, 4, p.InUse())
}
