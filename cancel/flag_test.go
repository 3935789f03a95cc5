package cancel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagDefaultsClear(t *testing.T) {
	var f Flag
	assert.False(t, f.IsSet())
}

func TestFlagSetClear(t *testing.T) {
	var f Flag
	f.Set()
	assert.True(t, f.IsSet())
	f.Clear()
	assert.False(t, f.IsSet())
}

func TestFlagConcurrentAccess(t *testing.T) {
	var f Flag
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Set()
			_ = f.IsSet()
		}()
	}
	wg.Wait()
	assert.True(t, f.IsSet())
}
