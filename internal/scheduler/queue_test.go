package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerQueue_PushDrain(t *testing.T) {
	q := newTriggerQueue()

	ok := q.Push(ReasonStartup)
	require.True(t, ok, "push should succeed")
	assert.Equal(t, 1, q.Len())

	assert.Equal(t, []Reason{ReasonStartup}, q.Drain())
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.Drain(), "second drain is empty")
}

func TestTriggerQueue_BurstCollapses(t *testing.T) {
	q := newTriggerQueue()

	for i := 0; i < 10; i++ {
		q.Push(ReasonRefresh)
	}
	q.Push(ReasonConnectivity)
	q.Push(ReasonRefresh)

	// One signal for the whole burst.
	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a signal")
	}
	select {
	case <-q.Wait():
		t.Fatal("burst should leave a single signal")
	default:
	}

	assert.Equal(t, []Reason{ReasonRefresh, ReasonConnectivity}, q.Drain())
}

func TestTriggerQueue_WaitWakesOnPush(t *testing.T) {
	q := newTriggerQueue()

	done := make(chan struct{})
	go func() {
		<-q.Wait()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(ReasonRetry)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter not woken")
	}
}

func TestTriggerQueue_Close(t *testing.T) {
	q := newTriggerQueue()
	q.Push(ReasonRefresh)
	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Push(ReasonRefresh), "push after close fails")

	_, open := <-q.Wait()
	// The buffered signal may still be read before the close is observed.
	if open {
		_, open = <-q.Wait()
	}
	assert.False(t, open, "wait channel closed")

	assert.Equal(t, []Reason{ReasonRefresh}, q.Drain(), "pending reasons survive close")
}

func TestTriggerQueue_ConcurrentPush(t *testing.T) {
	q := newTriggerQueue()
	reasons := []Reason{ReasonStartup, ReasonConnectivity, ReasonRefresh, ReasonRetry}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Push(reasons[i%len(reasons)])
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, reasons, q.Drain())
}
