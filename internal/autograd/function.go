package autograd

import "sync"

// Edge is one outgoing edge of the reverse graph: a downstream Function
// together with which of its input slots this edge feeds. A nil Fn is a
// "dead" edge — it exists only to keep an op's next_functions aligned
// positionally with its inputs when one of those inputs doesn't require
// grad (§4.1).
type Edge struct {
	Fn      Function
	InputNr int
}

// IsDead reports whether the edge has no target.
func (e Edge) IsDead() bool {
	return e.Fn == nil
}

// FunctionFlags is the result of propagating requires_grad/volatile
// through an op's inputs (§4.1). A Function implementation builds its
// edges once, at construction time, by calling NewFromFlags on itself
// with its inputs (ComputeFlags followed by installing the result).
type FunctionFlags struct {
	IsExecutable  bool
	IsVolatile    bool
	NextFunctions []Edge
}

// Function is the uniform graph node interface the backward engine
// schedules (§3, §4). Concrete operations embed FunctionBase to get
// num_inputs bookkeeping, edge storage, flags and hooks for free, and
// implement Apply (and optionally override ReleaseVariables and Name).
type Function interface {
	// Apply runs the node's backward computation. inputs has exactly
	// NumInputs() entries (missing contributions already filled with
	// zero-shaped placeholders by the InputBuffer). The returned slice
	// must have exactly len(NextFunctions()) entries.
	Apply(inputs []*Variable) ([]*Variable, error)

	// ReleaseVariables drops any SavedVariables this node is holding.
	// Called by the engine after a node runs, unless keep_graph is set.
	ReleaseVariables()

	// Name identifies the node for diagnostics.
	Name() string

	// NumInputs is the number of upstream edges that point at this node
	// — equivalently, the number of Variables that were wrapped around
	// one of this node's output slots (§4.1).
	NumInputs() int

	// NextFunctions returns the node's outgoing edges in the reverse
	// graph, one per input this node's forward op consumed (and so one
	// per output slot Apply returns).
	NextFunctions() []Edge

	// IsExecutable reports whether any reachable leaf requiring grad
	// feeds this node.
	IsExecutable() bool

	// IsStochastic reports whether this node has side effects that must
	// run even without a downstream consumer. The engine queues a
	// stochastic node unconditionally only when it has no inputs
	// (NumInputs() == 0); a stochastic node with inputs is scheduled like
	// any other node and runs only once its gradients have arrived.
	IsStochastic() bool

	// PreHooks and PostHooks return the node's hook lists in call order.
	PreHooks() []PreHook
	PostHooks() []PostHook

	// shouldComputeOutput, addInput and setFlags are engine-internal
	// bookkeeping, only reachable through FunctionBase.
	shouldComputeOutput(i int) bool
	addInput() int
	setFlags(flags FunctionFlags)
	setStochastic(bool)
	addPreHook(PreHook)
	addPostHook(PostHook)
}

// FunctionBase implements the bookkeeping every Function needs:
// num_inputs, next_functions, executability, and hook lists. Concrete
// node types embed it and implement Apply themselves; the embedded
// methods satisfy the rest of the Function interface by promotion.
type FunctionBase struct {
	mu            sync.Mutex
	numInputs     int
	nextFunctions []Edge
	isExecutable  bool
	isStochastic  bool
	preHooks      []PreHook
	postHooks     []PostHook
}

// ReleaseVariables is the default no-op implementation; nodes that save
// state for backward override it.
func (b *FunctionBase) ReleaseVariables() {}

// Name is the default diagnostic name; nodes typically override it with
// their own type name.
func (b *FunctionBase) Name() string {
	return "Function"
}

// NumInputs implements Function.
func (b *FunctionBase) NumInputs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.numInputs
}

// NextFunctions implements Function.
func (b *FunctionBase) NextFunctions() []Edge {
	return b.nextFunctions
}

// IsExecutable implements Function.
func (b *FunctionBase) IsExecutable() bool {
	return b.isExecutable
}

// IsStochastic implements Function.
func (b *FunctionBase) IsStochastic() bool {
	return b.isStochastic
}

// PreHooks implements Function.
func (b *FunctionBase) PreHooks() []PreHook {
	return b.preHooks
}

// PostHooks implements Function.
func (b *FunctionBase) PostHooks() []PostHook {
	return b.postHooks
}

func (b *FunctionBase) addPreHook(h PreHook) {
	b.preHooks = append(b.preHooks, h)
}

func (b *FunctionBase) addPostHook(h PostHook) {
	b.postHooks = append(b.postHooks, h)
}

// shouldComputeOutput reports whether output slot i feeds an executable
// downstream edge, i.e. whether computing it is worth the cost.
func (b *FunctionBase) shouldComputeOutput(i int) bool {
	edge := b.nextFunctions[i]
	return !edge.IsDead() && edge.Fn.IsExecutable()
}

// addInput assigns the next output slot to a newly-wrapped Variable and
// returns it. Concurrent calls are possible when the same op's outputs
// are wrapped from multiple goroutines, so this is mutex-guarded even
// though the common case is single-threaded construction.
func (b *FunctionBase) addInput() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	nr := b.numInputs
	b.numInputs++
	return nr
}

// setFlags installs the flags computed by ComputeFlags (§4.1).
func (b *FunctionBase) setFlags(flags FunctionFlags) {
	b.isExecutable = flags.IsExecutable
	b.nextFunctions = flags.NextFunctions
}

func (b *FunctionBase) setStochastic(s bool) {
	b.isStochastic = s
}

// ComputeFlags implements the flag-propagation rule of §4.1: given the
// inputs to a new op, decide whether the op is executable/volatile and
// build its reverse-graph edges.
func ComputeFlags(inputs []*Variable) FunctionFlags {
	for _, in := range inputs {
		if in.IsVolatile() {
			return FunctionFlags{IsExecutable: false, IsVolatile: true, NextFunctions: nil}
		}
	}

	executable := false
	for _, in := range inputs {
		if in.RequiresGrad() {
			executable = true
			break
		}
	}
	if !executable {
		return FunctionFlags{IsExecutable: false, IsVolatile: false, NextFunctions: nil}
	}

	edges := make([]Edge, len(inputs))
	for i, in := range inputs {
		switch {
		case in.GradFn() != nil:
			edges[i] = Edge{Fn: in.GradFn(), InputNr: in.OutputNr()}
		case in.RequiresGrad():
			edges[i] = Edge{Fn: in.GetGradAccumulator(), InputNr: 0}
		default:
			edges[i] = Edge{Fn: nil, InputNr: 0}
		}
	}
	return FunctionFlags{IsExecutable: true, IsVolatile: false, NextFunctions: edges}
}

// NewFromFlags wires up a freshly constructed node's flags from its
// inputs. Concrete Function constructors call this once, right after
// embedding FunctionBase, before returning the node to the caller.
func NewFromFlags(fn Function, inputs []*Variable) {
	fn.setFlags(ComputeFlags(inputs))
}

// AddPreHook appends a pre-hook to fn, run (in order) before Apply.
func AddPreHook(fn Function, h PreHook) {
	fn.addPreHook(h)
}

// AddPostHook appends a post-hook to fn, run (in order) after Apply.
func AddPostHook(fn Function, h PostHook) {
	fn.addPostHook(h)
}

// SetStochastic marks fn as having side effects that must run even when
// nothing consumes its output (§4.4's find_stochastic_functions). Only a
// stochastic fn with no inputs is queued unconditionally; see
// Function.IsStochastic.
func SetStochastic(fn Function, stochastic bool) {
	fn.setStochastic(stochastic)
}
