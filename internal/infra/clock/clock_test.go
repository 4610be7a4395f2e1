package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemNow(t *testing.T) {
	before := uint64(time.Now().Unix())
	got := System{}.Now()
	assert.GreaterOrEqual(t, got, before)
}

func TestManual(t *testing.T) {
	c := NewManual(1000)
	assert.Equal(t, uint64(1000), c.Now())
	assert.Equal(t, uint64(1060), c.Advance(60))
	c.Set(5)
	assert.Equal(t, uint64(5), c.Now())
}

func TestManualConcurrentAdvance(t *testing.T) {
	c := NewManual(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(2)
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(100), c.Now())
}
