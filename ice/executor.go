package ice

import (
	"sync"
	"time"
)

// executor is a single-goroutine task queue, modeling one of the two
// threads in spec.md §5 (the worker thread for a Port/Connection/Transport,
// or the implicit signalling thread driven by the calling goroutine).
//
// Grounded on the teacher's internal/ice/base.go transactionHandlers (a
// mutex-guarded map keyed by an opaque id, used to dispatch STUN responses)
// and internal/ice/checklist.go's run() ticker-driven select loop: both are
// generalized here into one primitive that also supports delayed posts
// cancellable by an arbitrary "handler" identity, per spec.md §5's
// "clear(handler) cancels all pending posts for that handler".
type executor struct {
	tasks chan func()
	done  chan struct{}
	stop  sync.Once

	mu     sync.Mutex
	timers map[interface{}][]*time.Timer
}

func newExecutor() *executor {
	e := &executor{
		tasks:  make(chan func(), 256),
		done:   make(chan struct{}),
		timers: make(map[interface{}][]*time.Timer),
	}
	go e.run()
	return e
}

func (e *executor) run() {
	for {
		select {
		case fn := <-e.tasks:
			fn()
		case <-e.done:
			return
		}
	}
}

// Post enqueues fn to run on the executor's goroutine. Safe to call from
// any goroutine.
func (e *executor) Post(fn func()) {
	select {
	case e.tasks <- fn:
	case <-e.done:
	}
}

// PostDelayed schedules fn to run on the executor's goroutine after d,
// tagged with handler so it can later be cancelled in bulk via Clear.
func (e *executor) PostDelayed(handler interface{}, d time.Duration, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isStopped() {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		e.removeTimer(handler, t)
		e.Post(fn)
	})
	e.timers[handler] = append(e.timers[handler], t)
}

func (e *executor) removeTimer(handler interface{}, t *time.Timer) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ts := e.timers[handler]
	for i, cand := range ts {
		if cand == t {
			e.timers[handler] = append(ts[:i], ts[i+1:]...)
			break
		}
	}
	if len(e.timers[handler]) == 0 {
		delete(e.timers, handler)
	}
}

// Clear cancels all pending delayed posts tagged with handler. Every
// destructor path in this package calls Clear(self) before returning, per
// spec.md §5.
func (e *executor) Clear(handler interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, t := range e.timers[handler] {
		t.Stop()
	}
	delete(e.timers, handler)
}

func (e *executor) isStopped() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Stop drains pending timers and stops accepting new work. Idempotent.
func (e *executor) Stop() {
	e.stop.Do(func() {
		e.mu.Lock()
		for _, ts := range e.timers {
			for _, t := range ts {
				t.Stop()
			}
		}
		e.timers = nil
		e.mu.Unlock()
		close(e.done)
	})
}
