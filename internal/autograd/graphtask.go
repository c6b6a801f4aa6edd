package autograd

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Callback lets a caller intercept one specific Function before it runs.
// Called with the Function about to be applied and its gathered inputs;
// returning false rejects the call, skipping Apply and post-hooks
// entirely and treating the Function as having produced that many nil
// outputs (§3, §4.4 step 3, engine.cpp's call_function: `if
// (!callback(&fn, inputs)) return variable_list(fn.next_functions.size())`).
type Callback func(fn Function, inputs []*Variable) bool

// GraphTask tracks the bookkeeping for one call to Execute: the
// remaining dependency count for every Function reachable from the
// roots, the input buffers accumulating contributions for those not yet
// ready to run, how many FunctionTasks are scheduled but not yet
// finished across every device's worker, and any per-Function callback
// interception supplied for this run (§3, §4.4, §5).
//
// dependencies and notReady are set up single-threaded before any
// FunctionTask is queued, then read and mutated concurrently by
// whichever device workers end up evaluating the subgraph, guarded by
// mu. callbacks is populated once at construction and only ever read
// afterward, so it needs no locking.
type GraphTask struct {
	id uuid.UUID

	keepGraph bool
	callbacks map[Function]Callback

	mu               sync.Mutex
	notDone          *sync.Cond
	dependencies     map[Function]int
	notReady         map[Function]*InputBuffer
	outstandingTasks int

	hasError atomic.Bool
	errMu    sync.Mutex
	err      error
}

func newGraphTask(keepGraph bool, callbacks map[Function]Callback) *GraphTask {
	t := &GraphTask{
		id:           uuid.New(),
		keepGraph:    keepGraph,
		callbacks:    callbacks,
		dependencies: make(map[Function]int),
		notReady:     make(map[Function]*InputBuffer),
	}
	t.notDone = sync.NewCond(&t.mu)
	return t
}

// callbackFor returns the callback registered for fn, if any.
func (t *GraphTask) callbackFor(fn Function) (Callback, bool) {
	cb, ok := t.callbacks[fn]
	return cb, ok
}

// HasError reports whether a failure has already been captured for t.
// The worker loop consults this before evaluating a new task so that,
// once one task in a GraphTask has failed, its peers stop doing work
// they'd just discard (§4.4's thread_main: "if the owning task has no
// error, invoke evaluate_function").
func (t *GraphTask) HasError() bool {
	return t.hasError.Load()
}

// ID returns the task's correlation identifier, for diagnostics.
func (t *GraphTask) ID() uuid.UUID {
	return t.id
}

// addOutstanding records n more FunctionTasks queued under t.
func (t *GraphTask) addOutstanding(n int) {
	t.mu.Lock()
	t.outstandingTasks += n
	t.mu.Unlock()
}

// completeOne records that one of t's FunctionTasks finished running,
// waking wait once none remain outstanding.
func (t *GraphTask) completeOne() {
	t.mu.Lock()
	t.outstandingTasks--
	done := t.outstandingTasks == 0
	t.mu.Unlock()
	if done {
		t.notDone.Broadcast()
	}
}

// wait blocks until every FunctionTask queued under t has completed.
func (t *GraphTask) wait() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.outstandingTasks > 0 {
		t.notDone.Wait()
	}
}

// decrementDependency decrements fn's remaining dependency count and
// returns the new count. ok is false if fn has no entry at all, which
// means the engine's own dependency computation missed an edge — an
// internal bug, not a user-reachable condition (§7, ErrMissingDependency).
func (t *GraphTask) decrementDependency(fn Function) (count int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, exists := t.dependencies[fn]
	if !exists {
		return 0, false
	}
	n--
	t.dependencies[fn] = n
	return n, true
}

// bufferFor returns fn's input buffer, creating an empty one sized to
// fn.NumInputs() on first access.
func (t *GraphTask) bufferFor(fn Function) *InputBuffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf, ok := t.notReady[fn]
	if !ok {
		buf = NewInputBuffer(fn.NumInputs())
		t.notReady[fn] = buf
	}
	return buf
}

// popReady removes fn's entry from notReady once it has been handed off
// to a ReadyQueue.
func (t *GraphTask) popReady(fn Function) {
	t.mu.Lock()
	delete(t.notReady, fn)
	t.mu.Unlock()
}

// remainingNotReady returns how many Functions still have an open input
// buffer. Nonzero after every FunctionTask has drained means some
// Function never reached zero remaining dependencies (§7,
// ErrUncomputedDependencies).
func (t *GraphTask) remainingNotReady() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.notReady)
}

// setError records err as t's captured failure if none has been
// captured yet — first error wins (§4.4, §7).
func (t *GraphTask) setError(err error) {
	if !t.hasError.CompareAndSwap(false, true) {
		return
	}
	t.errMu.Lock()
	t.err = err
	t.errMu.Unlock()
}

// Error returns the first failure captured while running t, if any.
func (t *GraphTask) Error() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}
