package shim

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatchPostWakesWaiter(t *testing.T) {
	var terminated atomic.Bool
	l := NewLatch("test", terminated.Load)

	var wg sync.WaitGroup
	wg.Add(1)
	woke := make(chan struct{})
	go func() {
		defer wg.Done()
		l.Wait()
		close(woke)
	}()

	time.Sleep(10 * time.Millisecond)
	assert.True(t, l.Armed())

	l.Post()
	wg.Wait()

	select {
	case <-woke:
	default:
		t.Fatal("Wait did not return after Post")
	}
}

func TestLatchTerminatedPredicateWakesWaiter(t *testing.T) {
	var terminated atomic.Bool
	l := NewLatch("test", terminated.Load)

	done := make(chan struct{})
	go func() {
		l.Wait()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	terminated.Store(true)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not observe terminated predicate")
	}
}

func TestLatchRearmsAfterWait(t *testing.T) {
	var terminated atomic.Bool
	l := NewLatch("test", terminated.Load)

	l.Post()
	l.Wait()
	assert.True(t, l.Armed(), "latch must re-arm for reuse")
}

func TestReleaseAllPostsEveryLatch(t *testing.T) {
	var terminated atomic.Bool
	a := NewLatch("a", terminated.Load)
	b := NewLatch("b", terminated.Load)

	ReleaseAll(a, b)
	assert.False(t, a.Armed())
	assert.False(t, b.Armed())
}
