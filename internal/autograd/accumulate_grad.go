package autograd

import (
	"weak"

	"github.com/born-ml/gradkit/internal/tensor"
)

// AccumulateGrad is the terminal node wired onto every leaf that requires
// grad (§4.2). It has no outputs of its own; its only job is depositing
// whatever gradient reaches it into the leaf's grad slot.
//
// Both its reference to the leaf and its cached reference to the leaf's
// grad Variable are weak. Nothing about correctness depends on that —
// Go's collector reclaims cycles on its own (see the note on Save in
// variable.go) — but keeping them weak preserves the "leaf was already
// freed" no-op behaviour of §4.2 step 1: a caller that drops every
// strong reference to a leaf genuinely stops the accumulator from doing
// anything further, rather than being kept artificially alive by the
// graph it's no longer part of.
type AccumulateGrad struct {
	FunctionBase

	variable     weak.Pointer[Variable]
	variableGrad weak.Pointer[Variable]
}

func newAccumulateGrad(v *Variable) *AccumulateGrad {
	a := &AccumulateGrad{variable: weak.Make(v)}
	a.setFlags(FunctionFlags{IsExecutable: true})
	return a
}

// Name implements Function.
func (a *AccumulateGrad) Name() string {
	return "AccumulateGrad"
}

// NumInputs overrides FunctionBase: an accumulator always has exactly
// one logical input slot (the leaf's gradient), no matter how many
// separate edges end up targeting it because the leaf feeds more than
// one op. FunctionBase's promoted NumInputs would report 0 here, since
// nothing ever wraps an AccumulateGrad's "output" through NewOutput —
// it has none.
func (a *AccumulateGrad) NumInputs() int {
	return 1
}

// Apply deposits inputs[0] into the bound leaf's grad slot, running the
// leaf's hooks first (§4.2). It has no outputs — NextFunctions is always
// empty for an accumulator.
func (a *AccumulateGrad) Apply(inputs []*Variable) ([]*Variable, error) {
	v := a.variable.Value()
	if v == nil {
		return nil, nil
	}
	if v.GradFn() != nil {
		return nil, newError(ErrLeafMovedIntoGraph, a, "leaf variable was moved into the graph since this accumulator was created")
	}
	if v.VersionCounter().Value() != 0 {
		return nil, newError(ErrLeafModifiedInplace, a, "leaf variable has been modified in place")
	}
	if cur := v.GetGradAccumulator(); cur != Function(a) {
		return nil, newError(ErrAccumulatorRebound, a, "leaf variable's grad accumulator has been rebound")
	}

	newGrad := inputs[0]
	for _, h := range v.Hooks() {
		out := h([]*Variable{newGrad})
		newGrad = out[0]
	}

	existing := v.Grad()
	if existing == nil {
		existing = a.variableGrad.Value()
	}

	var result *Variable
	switch {
	case existing == nil:
		// Step 4: leaf.grad is a fresh Clone node, so it never aliases
		// newGrad's own storage.
		result = Clone(newGrad)
	case existing.IsVolatile():
		// Step 5: existing is just a bookkeeping carrier, not part of any
		// graph, so accumulate into it in place (promoting sparse to
		// dense on demand).
		merged := accumulate(existing.Data(), newGrad.Data())
		if merged == existing.Data() {
			result = existing
		} else {
			result = NewVolatileLeaf(merged)
		}
	default:
		// Step 6: existing is non-volatile, so combine through a real
		// Add node instead of mutating its storage — this is what lets a
		// later backward differentiate through the accumulation itself.
		// An incoming volatile gradient is detached to non-volatile
		// first so it doesn't make the Add non-differentiable by
		// contagion.
		g := newGrad
		if g.IsVolatile() {
			g = NewLeaf(g.Data(), false)
		}
		result = Add(existing, g)
	}

	v.SetGrad(result)
	a.variableGrad = weak.Make(result)
	return nil, nil
}

// accumulate adds src into dst, promoting to a dense result if dst is
// sparse and src isn't — a sparse accumulator can't represent a dense
// contribution, so the dense operand wins (accumulate_grad.cpp's
// acc_inplace). The narrow Tensor contract here (§6) only distinguishes
// sparse/dense by a flag rather than by storage layout, so promotion is
// just building a fresh dense-flagged tensor instead of switching
// representations.
func accumulate(dst, src tensor.Tensor) tensor.Tensor {
	if dst.IsSparse() && !src.IsSparse() {
		promoted := src.NewTensor()
		promoted.CAdd(promoted, src)
		promoted.CAdd(promoted, dst)
		return promoted
	}
	dst.CAdd(dst, src)
	return dst
}
