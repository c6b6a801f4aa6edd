package autograd

// This file provides the two operations the engine's own tests build
// graphs out of. The tensor library that would normally supply a much
// larger operation set is out of scope (§1, §6); Add and Clone are
// grounded directly on torch/autograd/_functions/basic_ops.py's Add and
// tensor.py's Clone, which are about as minimal as a differentiable op
// gets while still exercising fan-out (Add has two next_functions) and
// identity backward (Clone passes its grad straight through).

// AddBackward is Add's backward node: both operands receive the
// upstream gradient unchanged (basic_ops.py, class Add).
type AddBackward struct {
	FunctionBase
}

func newAddBackward(inputs []*Variable) *AddBackward {
	fn := &AddBackward{}
	NewFromFlags(fn, inputs)
	return fn
}

// Name implements Function.
func (fn *AddBackward) Name() string { return "AddBackward" }

// Apply implements Function.
func (fn *AddBackward) Apply(inputs []*Variable) ([]*Variable, error) {
	grad := inputs[0]
	return []*Variable{grad, grad}, nil
}

// Add returns x + y as a new Variable, wired to AddBackward for
// gradient flow.
func Add(x, y *Variable) *Variable {
	fn := newAddBackward([]*Variable{x, y})
	out := x.Data().NewTensor()
	out.CAdd(x.Data(), y.Data())
	return NewOutput(out, fn)
}

// CloneBackward is Clone's backward node: the gradient passes through
// unchanged (tensor.py, class Clone).
type CloneBackward struct {
	FunctionBase
}

func newCloneBackward(inputs []*Variable) *CloneBackward {
	fn := &CloneBackward{}
	NewFromFlags(fn, inputs)
	return fn
}

// Name implements Function.
func (fn *CloneBackward) Name() string { return "CloneBackward" }

// Apply implements Function.
func (fn *CloneBackward) Apply(inputs []*Variable) ([]*Variable, error) {
	return []*Variable{inputs[0]}, nil
}

// Clone returns a copy of x that shares no storage with it, wired to
// CloneBackward. Mutating x in place after cloning is exactly the
// scenario ErrInplaceModified exists to catch if x was ever saved by
// another node in between.
func Clone(x *Variable) *Variable {
	fn := newCloneBackward([]*Variable{x})
	out := x.Data().NewTensor()
	out.CAdd(out, x.Data())
	return NewOutput(out, fn)
}
