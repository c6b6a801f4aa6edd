package autograd

import (
	"strings"
	"sync"

	"k8s.io/klog/v2"

	"github.com/born-ml/gradkit/internal/tensor"
)

// Engine schedules and runs backward graph traversals (§4.4). It owns
// one ReadyQueue and, once started, one dedicated worker goroutine per
// device slot — slot 0 for the CPU, slots 1..N for accelerator devices
// 0..N-1 (§6: Tensor.Device() reports -1 for CPU, but the ready-queue
// table is indexed device+1, mirroring the original engine's
// ready_queues.at(device + 1)).
//
// The thread pool starts lazily on the first Execute call, not at
// construction, so building an Engine with WithDeviceCount is free even
// if it never ends up running a backward pass.
type Engine struct {
	mu          sync.Mutex
	started     bool
	numDevices  int
	readyQueues []*ReadyQueue
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithDeviceCount sets how many accelerator devices (0..n-1) the engine
// schedules alongside the CPU queue. The default is 0: CPU only.
func WithDeviceCount(n int) Option {
	return func(e *Engine) { e.numDevices = n }
}

// NewEngine builds an Engine with its ready queues allocated but its
// worker pool not yet started.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, o := range opts {
		o(e)
	}
	e.readyQueues = make([]*ReadyQueue, e.numDevices+1)
	for i := range e.readyQueues {
		e.readyQueues[i] = NewReadyQueue()
	}
	return e
}

var defaultEngine = NewEngine()

// DefaultEngine returns the package-wide Engine used by callers that
// don't need a dedicated device topology.
func DefaultEngine() *Engine {
	return defaultEngine
}

func (e *Engine) start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	for i, q := range e.readyQueues {
		klog.V(2).Infof("autograd: starting worker for ready queue %d", i)
		go e.threadMain(q)
	}
	e.started = true
}

func (e *Engine) threadMain(q *ReadyQueue) {
	for {
		task := q.PopBack()
		e.runTask(task)
	}
}

func (e *Engine) runTask(task FunctionTask) {
	defer task.Base.completeOne()
	defer func() {
		if r := recover(); r != nil {
			task.Base.setError(panicToError(task.Fn, r))
		}
	}()
	if task.Base.HasError() {
		return
	}
	e.evaluateFunction(task)
}

// panicToError translates whatever runTask's recover caught into an
// error, the Go analogue of the originating engine's
// `catch (std::exception& e)` around evaluate_function: every failure
// reaching here, whether it started life as a returned error from a
// Function's Apply or as an engine-internal invariant panic, ends up
// uniformly captured on the GraphTask.
func panicToError(fn Function, r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return newErrorf(ErrUserApply, fn, "panic: %v", r)
}

// evaluateFunction runs one FunctionTask's Function and fans its
// outputs out to the next_functions it's wired to (§4.4).
func (e *Engine) evaluateFunction(task FunctionTask) {
	fn := task.Fn
	inputs := runPreHooks(fn, task.Inputs.Variables())

	klog.V(4).Infof("autograd: task %s running %s", task.Base.ID(), fn.Name())

	edges := fn.NextFunctions()

	var outputs []*Variable
	if cb, ok := task.Base.callbackFor(fn); ok && !cb(fn, inputs) {
		// Rejected: the Function never runs, its outputs are treated as
		// next_functions.size() nils, and post-hooks are skipped (§4.4
		// step 3).
		outputs = make([]*Variable, len(edges))
	} else {
		var err error
		outputs, err = fn.Apply(inputs)
		if err != nil {
			panic(wrapUserError(fn, err))
		}
		outputs = runPostHooks(fn, outputs, inputs)
	}

	if len(outputs) != len(edges) {
		panic(newErrorf(ErrInvalidOutputCount, fn,
			"apply returned %d outputs (%s), expected %d", len(outputs), describeOutputs(outputs), len(edges)))
	}

	if !task.Base.keepGraph {
		fn.ReleaseVariables()
	}

	for i, edge := range edges {
		if edge.IsDead() || outputs[i] == nil || !edge.Fn.IsExecutable() {
			continue
		}
		e.enqueueInput(task.Base, edge, outputs[i])
	}
}

// enqueueInput deposits output into edge.Fn's input buffer and, once
// every contribution it was waiting on has arrived, schedules it onto
// the ready queue for the buffer's sticky device (§3, §4.3: the first
// non-CPU device any contribution touched, not whichever contribution
// happens to arrive last).
func (e *Engine) enqueueInput(base *GraphTask, edge Edge, output *Variable) {
	fn := edge.Fn
	buf := base.bufferFor(fn)
	buf.Add(edge.InputNr, output)

	count, ok := base.decrementDependency(fn)
	if !ok {
		panic(newError(ErrMissingDependency, fn, "evaluated function has no dependency entry"))
	}
	if count > 0 {
		return
	}

	base.popReady(fn)
	base.addOutstanding(1)
	e.queueFor(buf.Device()).PushFront(FunctionTask{Base: base, Fn: fn, Inputs: buf})
}

// describeOutputs renders a short diagnostic summary of an apply's output
// list for the ErrInvalidOutputCount message, so a mismatch reports what
// actually came back rather than just a count.
func describeOutputs(outputs []*Variable) string {
	if len(outputs) == 0 {
		return "none"
	}
	parts := make([]string, len(outputs))
	for i, o := range outputs {
		if o == nil {
			parts[i] = "<nil>"
			continue
		}
		parts[i] = tensor.Describe(o.Data())
	}
	return strings.Join(parts, ", ")
}

func (e *Engine) queueIndex(d tensor.Device) int {
	if d.IsCPU() {
		return 0
	}
	return int(d) + 1
}

func (e *Engine) queueFor(d tensor.Device) *ReadyQueue {
	return e.readyQueues[e.queueIndex(d)]
}

// rootEdge builds the edge Execute should start from for a root
// Variable: its grad_fn if it has one, otherwise its grad accumulator
// if it's a grad-requiring leaf, otherwise a dead edge.
func rootEdge(v *Variable) Edge {
	if fn := v.GradFn(); fn != nil {
		return Edge{Fn: fn, InputNr: v.OutputNr()}
	}
	if acc := v.GetGradAccumulator(); acc != nil {
		return Edge{Fn: acc, InputNr: 0}
	}
	return Edge{}
}

// findStochasticFunctions walks the subgraph reachable from roots
// looking for nodes flagged IsStochastic with no inputs of their own —
// functions with side effects that nothing else in the graph would
// otherwise pull on, so the engine has to force-queue them directly
// (§4.4, engine.cpp's find_stochastic_functions).
func findStochasticFunctions(roots []Edge) []Function {
	seen := make(map[Function]bool)
	stack := make([]Function, 0, len(roots))
	for _, e := range roots {
		if !e.IsDead() {
			stack = append(stack, e.Fn)
		}
	}

	var stochastic []Function
	for len(stack) > 0 {
		fn := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[fn] {
			continue
		}
		seen[fn] = true

		if fn.IsStochastic() && fn.NumInputs() == 0 {
			stochastic = append(stochastic, fn)
		}
		for _, e := range fn.NextFunctions() {
			if !e.IsDead() {
				stack = append(stack, e.Fn)
			}
		}
	}
	return stochastic
}

// computeDependencies populates task.dependencies with, for every
// Function reachable from roots and stochastic, how many executable
// edges target it (§4.4, engine.cpp's compute_dependencies). It runs
// before any FunctionTask is queued, so it needs no locking despite
// mutating the same map workers will later read under GraphTask's
// mutex.
func computeDependencies(task *GraphTask, roots []Edge, stochastic []Function) {
	seen := make(map[Function]bool)
	queue := make([]Function, 0, len(roots)+len(stochastic))
	for _, e := range roots {
		if !e.IsDead() {
			queue = append(queue, e.Fn)
		}
	}
	queue = append(queue, stochastic...)

	for len(queue) > 0 {
		fn := queue[0]
		queue = queue[1:]
		if seen[fn] {
			continue
		}
		seen[fn] = true

		if _, ok := task.dependencies[fn]; !ok {
			task.dependencies[fn] = 0
		}
		for _, e := range fn.NextFunctions() {
			if e.IsDead() || !e.Fn.IsExecutable() {
				continue
			}
			task.dependencies[e.Fn]++
			if !seen[e.Fn] {
				queue = append(queue, e.Fn)
			}
		}
	}
}

// findRoots groups duplicate root edges onto one shared InputBuffer per
// distinct Function (§4.4 step 2, engine.cpp's find_roots: a root_value
// map keyed by Function pointer), so a Function listed twice among
// roots still gets exactly one InputBuffer and is applied at most once.
// order lists every distinct root Function encountered, executable or
// not, in first-seen order; Execute takes the executable ones from it as
// the starting points for dependency counting and scheduling. buffers
// holds an entry only for the executable ones.
func findRoots(edges []Edge, gradOutputs []*Variable) (order []Function, buffers map[Function]*InputBuffer) {
	buffers = make(map[Function]*InputBuffer)
	seen := make(map[Function]bool)
	for i, edge := range edges {
		if edge.IsDead() {
			continue
		}
		if !seen[edge.Fn] {
			seen[edge.Fn] = true
			order = append(order, edge.Fn)
			if edge.Fn.IsExecutable() {
				buffers[edge.Fn] = NewInputBuffer(edge.Fn.NumInputs())
			}
		}
		if buf, ok := buffers[edge.Fn]; ok {
			buf.Add(edge.InputNr, gradOutputs[i])
		}
	}
	return order, buffers
}

// Execute runs the backward graph reachable from roots, depositing
// gradOutputs[i] as the initial gradient for roots[i] (§4.4, §5).
// keepGraph controls whether each Function's saved state survives the
// run for a later re-execution (§9). callbacks lets a caller intercept
// specific Functions before they run (§3, §6, §4.4 step 3); pass nil if
// none are needed.
func (e *Engine) Execute(roots []*Variable, gradOutputs []*Variable, keepGraph bool, callbacks map[Function]Callback) error {
	edges := make([]Edge, len(roots))
	for i, v := range roots {
		edges[i] = rootEdge(v)
	}

	order, buffers := findRoots(edges, gradOutputs)

	var executable []Edge
	for _, fn := range order {
		if fn.IsExecutable() {
			executable = append(executable, Edge{Fn: fn})
		}
	}

	stochastic := findStochasticFunctions(edges)
	if len(executable) == 0 && len(stochastic) == 0 {
		return newError(ErrNoExecutableRoots, nil, "no root requires grad and no stochastic function is reachable")
	}

	task := newGraphTask(keepGraph, callbacks)
	computeDependencies(task, executable, stochastic)

	klog.V(3).Infof("autograd: task %s starting, %d executable roots, %d stochastic functions",
		task.ID(), len(executable), len(stochastic))

	e.start()

	for _, edge := range executable {
		buf := buffers[edge.Fn]
		task.addOutstanding(1)
		e.queueFor(buf.Device()).PushFront(FunctionTask{Base: task, Fn: edge.Fn, Inputs: buf})
	}
	for _, fn := range stochastic {
		task.addOutstanding(1)
		e.queueFor(tensor.DeviceCPU).PushFront(FunctionTask{Base: task, Fn: fn, Inputs: NewInputBuffer(0)})
	}

	task.wait()

	klog.V(3).Infof("autograd: task %s finished", task.ID())

	if err := task.Error(); err != nil {
		return err
	}
	if n := task.remainingNotReady(); n > 0 {
		return newErrorf(ErrUncomputedDependencies, nil, "%d function(s) never reached zero remaining dependencies", n)
	}
	return nil
}
