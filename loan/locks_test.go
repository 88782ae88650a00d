package loan

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := newKeyedMutex()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("emp-1")
			defer unlock()

			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, km.size())
}

func TestKeyedMutex_DuplicateKeysDoNotDeadlock(t *testing.T) {
	km := newKeyedMutex()

	unlock := km.Lock("emp-1", "emp-1")
	assert.Equal(t, 1, km.size())
	unlock()

	assert.Equal(t, 0, km.size())
}

func TestKeyedMutex_OppositeOrderDoesNotDeadlock(t *testing.T) {
	km := newKeyedMutex()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			km.Lock("emp-1", "emp-2")()
		}()
		go func() {
			defer wg.Done()
			km.Lock("emp-2", "emp-1")()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, km.size())
}
