package autograd

import (
	"container/list"
	"sync"
)

// FunctionTask is one unit of scheduled work: run fn within the context
// of a GraphTask, once every contribution queued for it in inputs has
// arrived (§4.3, §4.4).
type FunctionTask struct {
	Base   *GraphTask
	Fn     Function
	Inputs *InputBuffer
}

// ReadyQueue is the work queue for a single device (§4.4: one queue, one
// dedicated worker goroutine, per device). PushFront/PopBack together
// reproduce the originating engine's traversal order: new work
// discovered while draining a device's queue goes to the front, workers
// always take from the back, so a device's own chain of dependent work
// tends to drain before work queued earlier from elsewhere catches up.
type ReadyQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	tasks    *list.List
}

// NewReadyQueue returns an empty queue.
func NewReadyQueue() *ReadyQueue {
	q := &ReadyQueue{tasks: list.New()}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// PushFront enqueues t and wakes one blocked PopBack.
func (q *ReadyQueue) PushFront(t FunctionTask) {
	q.mu.Lock()
	q.tasks.PushFront(t)
	q.mu.Unlock()
	q.notEmpty.Signal()
}

// PopBack blocks until a task is available, then removes and returns
// the one at the back of the queue.
func (q *ReadyQueue) PopBack() FunctionTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.tasks.Len() == 0 {
		q.notEmpty.Wait()
	}
	back := q.tasks.Back()
	q.tasks.Remove(back)
	return back.Value.(FunctionTask)
}
