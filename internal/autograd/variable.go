package autograd

import (
	"sync"
	"weak"

	"github.com/born-ml/gradkit/internal/tensor"
)

// Variable is the data object flowing through the graph (§3). Leaves are
// created directly by the caller; every other Variable is produced by
// wrapping one output slot of a Function via NewOutput, which is how
// grad_fn/output_nr get set and how the producing Function's num_inputs
// gets incremented.
type Variable struct {
	data           tensor.Tensor
	grad           *Variable
	gradFn         Function
	versionCounter *VersionCounter
	requiresGrad   bool
	isVolatile     bool
	outputNr       int
	hooks          []PreHook

	accMu           sync.Mutex
	gradAccumulator weak.Pointer[AccumulateGrad]
}

// NewLeaf creates a leaf Variable — one with no grad_fn, i.e. an input to
// the forward graph.
func NewLeaf(data tensor.Tensor, requiresGrad bool) *Variable {
	return &Variable{
		data:           data,
		versionCounter: NewVersionCounter(),
		requiresGrad:   requiresGrad,
	}
}

// NewVolatileLeaf creates a volatile leaf. Volatility implies
// requires_grad == false and propagates through any op it feeds (§3).
func NewVolatileLeaf(data tensor.Tensor) *Variable {
	return &Variable{
		data:           data,
		versionCounter: NewVersionCounter(),
		isVolatile:     true,
	}
}

// NewOutput wraps data as output slot k of gradFn, where k is whichever
// slot gradFn.addInput() hands back. requires_grad and is_volatile are
// inherited from gradFn's own flags (§4.1): requires_grad == gradFn's
// is_executable, is_volatile == false (an op's output is never itself
// volatile; volatility only ever lives on leaves and propagates by
// making the op non-executable instead).
func NewOutput(data tensor.Tensor, gradFn Function) *Variable {
	return &Variable{
		data:           data,
		gradFn:         gradFn,
		versionCounter: NewVersionCounter(),
		requiresGrad:   gradFn.IsExecutable(),
		outputNr:       gradFn.addInput(),
	}
}

// IsLeaf reports whether v has no grad_fn.
func (v *Variable) IsLeaf() bool {
	return v.gradFn == nil
}

// Data returns the Variable's tensor.
func (v *Variable) Data() tensor.Tensor {
	return v.data
}

// Grad returns the accumulated gradient Variable, or nil if none has
// been deposited yet.
func (v *Variable) Grad() *Variable {
	return v.grad
}

// SetGrad installs g as v's accumulated gradient. Only AccumulateGrad
// calls this outside of tests; it relies on the engine's single-worker-
// per-Function invariant to do so without locking (§4.4, §9).
func (v *Variable) SetGrad(g *Variable) {
	v.grad = g
}

// GradFn returns the Function that produced v, or nil for a leaf.
func (v *Variable) GradFn() Function {
	return v.gradFn
}

// VersionCounter returns v's shared version counter.
func (v *Variable) VersionCounter() *VersionCounter {
	return v.versionCounter
}

// RequiresGrad reports whether gradients should be computed for v.
func (v *Variable) RequiresGrad() bool {
	return v.requiresGrad
}

// IsVolatile reports whether v is volatile. Volatile implies
// RequiresGrad() == false.
func (v *Variable) IsVolatile() bool {
	return v.isVolatile
}

// OutputNr reports which output slot of GradFn() this Variable is.
func (v *Variable) OutputNr() int {
	return v.outputNr
}

// Hooks returns v's registered gradient hooks, in registration order.
func (v *Variable) Hooks() []PreHook {
	return v.hooks
}

// AddHook registers a gradient hook on v. AccumulateGrad runs these, in
// order, on every incoming gradient before accumulating it (§4.2).
func (v *Variable) AddHook(h PreHook) {
	v.hooks = append(v.hooks, h)
}

// GetGradAccumulator returns the lazily-created AccumulateGrad bound to
// v, or nil.
//
// Preserves a quirk of the original engine noted in §9's open questions:
// the grad_fn check short-circuits before the requires_grad check, so a
// non-leaf Variable that happens to require grad also gets nil here, not
// just a non-requiring-grad one. Only true leaves ever get an
// accumulator.
func (v *Variable) GetGradAccumulator() Function {
	if v.gradFn != nil {
		return nil
	}
	if !v.requiresGrad {
		return nil
	}

	if acc := v.gradAccumulator.Value(); acc != nil {
		return acc
	}

	v.accMu.Lock()
	defer v.accMu.Unlock()

	if acc := v.gradAccumulator.Value(); acc != nil {
		return acc
	}

	acc := newAccumulateGrad(v)
	v.gradAccumulator = weak.Make(acc)
	return acc
}

// SavedVariable is a snapshot of a Variable retained by a Function for
// use during its own backward (§3). Function implementations build one
// via Save when they construct themselves (or during forward, outside
// this package's concern) and call Unpack from inside Apply.
type SavedVariable struct {
	data            tensor.Tensor
	version         *VersionCounter
	expectedVersion int64
	requiresGrad    bool
	isVolatile      bool
	gradFn          Function
	gradAccumulator weak.Pointer[AccumulateGrad]
}

// Save snapshots v. Go's tracing garbage collector collects reference
// cycles on its own, so unlike the originating C++ engine this snapshot
// needs no separate strong/weak split to avoid leaking a Function that
// saved one of its own outputs (§9, "Cyclic references") — grad_fn is
// simply captured strongly here, and the only remaining weak link is
// Variable↔AccumulateGrad, preserved because it is independently
// load-bearing for the "leaf was freed" behaviour in §4.2 step 1.
func Save(v *Variable) SavedVariable {
	return SavedVariable{
		data:            v.data,
		version:         v.versionCounter,
		expectedVersion: v.versionCounter.Value(),
		requiresGrad:    v.requiresGrad,
		isVolatile:      v.isVolatile,
		gradFn:          v.gradFn,
		gradAccumulator: v.gradAccumulator,
	}
}

// Unpack produces a fresh Variable pointing at a shallow clone of the
// saved data. It fails with ErrInplaceModified if the tensor was mutated
// in place since Save, and panics with ErrMissingGradAccumulator if the
// saved Variable was a grad-requiring leaf with no retained accumulator
// — the latter can only happen from a Function bug (saving a leaf
// without it ever having had a gradient requested through it), so it is
// treated the same as the engine's other internal-invariant failures
// (§7, §10): raised as a panic, recovered and captured by whichever
// worker is running the Apply that called Unpack.
func (s SavedVariable) Unpack() (*Variable, error) {
	if s.data == nil {
		return nil, nil
	}

	if s.version.Value() != s.expectedVersion {
		return nil, newError(ErrInplaceModified, nil,
			"a variable needed for gradient computation has been modified by an inplace operation")
	}

	out := &Variable{
		data:           s.data.CloneShallow(),
		versionCounter: NewVersionCounter(),
		requiresGrad:   s.requiresGrad,
		isVolatile:     s.isVolatile,
		gradFn:         s.gradFn,
	}
	out.versionCounter.JoinWith(s.version)

	if s.requiresGrad && s.gradFn == nil {
		acc := s.gradAccumulator.Value()
		if acc == nil {
			panic(newError(ErrMissingGradAccumulator, nil, "no grad accumulator for a saved leaf"))
		}
		out.gradAccumulator = weak.Make(acc)
	}

	return out, nil
}
