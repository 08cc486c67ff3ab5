package ice

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExecutorRunsPostedTasksInOrder(t *testing.T) {
	exec := newExecutor()
	defer exec.Stop()

	var order []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		exec.Post(func() {
			order = append(order, i)
			if i == 4 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for posted tasks")
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestExecutorPostDelayedFires(t *testing.T) {
	exec := newExecutor()
	defer exec.Stop()

	var fired int32
	done := make(chan struct{})
	exec.PostDelayed("handler", 10*time.Millisecond, func() {
		atomic.StoreInt32(&fired, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("delayed task never fired")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestExecutorClearCancelsPendingTimers(t *testing.T) {
	exec := newExecutor()
	defer exec.Stop()

	var fired int32
	exec.PostDelayed("handler", 30*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	exec.Clear("handler")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestExecutorStopIsIdempotent(t *testing.T) {
	exec := newExecutor()
	exec.Stop()
	assert.NotPanics(t, func() { exec.Stop() })
	assert.True(t, exec.isStopped())
}

func TestExecutorIgnoresPostAfterStop(t *testing.T) {
	exec := newExecutor()
	exec.Stop()
	assert.NotPanics(t, func() {
		exec.Post(func() { t.Error("must not run after Stop") })
	})
}
