package lockset

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockSerializesSameKey(t *testing.T) {
	s := New()
	var inCriticalSection int32
	var maxObserved int32
	var wg sync.WaitGroup
	const n = 50
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock(Key("site-a", "vrf-1"))
			defer unlock()
			cur := atomic.AddInt32(&inCriticalSection, 1)
			for {
				prev := atomic.LoadInt32(&maxObserved)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxObserved, prev, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inCriticalSection, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxObserved))
}

func TestLockDistinctKeysDontBlock(t *testing.T) {
	s := New()
	unlockA := s.Lock(Key("site-a", "vrf-1"))
	done := make(chan struct{})
	go func() {
		unlockB := s.Lock(Key("site-b", "vrf-1"))
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("distinct keys should not block each other")
	}
	unlockA()
}

func TestLockCleansUpMap(t *testing.T) {
	s := New()
	unlock := s.Lock(Key("s", "v"))
	unlock()
	s.mu.Lock()
	n := len(s.locks)
	s.mu.Unlock()
	assert.Equal(t, 0, n)
}
