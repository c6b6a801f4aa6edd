// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autograd provides reverse-mode automatic differentiation over
// a graph of Function nodes, scheduled by a device-partitioned
// multi-threaded engine.
//
// Example:
//
//	x := autograd.NewLeaf(myTensor, true)
//	y := autograd.Add(x, x)
//	grad := autograd.NewLeaf(myOnesTensor, false)
//	if err := autograd.DefaultEngine().Execute([]*autograd.Variable{y}, []*autograd.Variable{grad}, false, nil); err != nil {
//	    // handle err
//	}
//	dx := x.Grad()
package autograd

import (
	"github.com/born-ml/gradkit/internal/autograd"
	"github.com/born-ml/gradkit/internal/tensor"
)

// Tensor is the narrow contract the engine needs from a tensor library.
type Tensor = tensor.Tensor

// Device identifies the compute device a Tensor's storage lives on.
type Device = tensor.Device

// DeviceCPU is the sentinel device id for host memory.
const DeviceCPU = tensor.DeviceCPU

// Variable is the data object flowing through the graph.
type Variable = autograd.Variable

// SavedVariable is a snapshot of a Variable retained by a Function node
// for use during its own backward.
type SavedVariable = autograd.SavedVariable

// Function is the graph node interface the engine schedules.
type Function = autograd.Function

// FunctionBase is the embeddable bookkeeping implementation every
// concrete Function builds on.
type FunctionBase = autograd.FunctionBase

// FunctionFlags is the result of propagating requires_grad/volatile
// through an op's inputs.
type FunctionFlags = autograd.FunctionFlags

// Edge is one outgoing edge of the reverse graph.
type Edge = autograd.Edge

// PreHook runs before a Function's Apply.
type PreHook = autograd.PreHook

// PostHook runs after a Function's Apply.
type PostHook = autograd.PostHook

// Engine schedules and runs backward graph traversals.
type Engine = autograd.Engine

// Option configures an Engine at construction time.
type Option = autograd.Option

// EngineError is the error type every failure raised by this package is
// wrapped in.
type EngineError = autograd.EngineError

// ErrorKind identifies one of the engine's distinct failure modes.
type ErrorKind = autograd.ErrorKind

// VersionCounter is a shared, monotonic token used to detect in-place
// mutation of a tensor between save and unpack.
type VersionCounter = autograd.VersionCounter

const (
	ErrInplaceModified        = autograd.ErrInplaceModified
	ErrLeafMovedIntoGraph     = autograd.ErrLeafMovedIntoGraph
	ErrLeafModifiedInplace    = autograd.ErrLeafModifiedInplace
	ErrAccumulatorRebound     = autograd.ErrAccumulatorRebound
	ErrMissingGradAccumulator = autograd.ErrMissingGradAccumulator
	ErrInvalidOutputCount     = autograd.ErrInvalidOutputCount
	ErrMissingDependency      = autograd.ErrMissingDependency
	ErrNoExecutableRoots      = autograd.ErrNoExecutableRoots
	ErrUncomputedDependencies = autograd.ErrUncomputedDependencies
	ErrUserApply              = autograd.ErrUserApply
)

// NewLeaf creates a leaf Variable — an input to the forward graph with
// no grad_fn.
func NewLeaf(data Tensor, requiresGrad bool) *Variable {
	return autograd.NewLeaf(data, requiresGrad)
}

// NewVolatileLeaf creates a volatile leaf. Volatility implies
// requires_grad == false and propagates through any op it feeds.
func NewVolatileLeaf(data Tensor) *Variable {
	return autograd.NewVolatileLeaf(data)
}

// NewOutput wraps data as an output of gradFn, the node that will
// compute its gradient during backward.
func NewOutput(data Tensor, gradFn Function) *Variable {
	return autograd.NewOutput(data, gradFn)
}

// NewEngine builds an Engine with its ready queues allocated but its
// worker pool not yet started.
func NewEngine(opts ...Option) *Engine {
	return autograd.NewEngine(opts...)
}

// WithDeviceCount sets how many accelerator devices the engine schedules
// alongside the CPU queue.
func WithDeviceCount(n int) Option {
	return autograd.WithDeviceCount(n)
}

// DefaultEngine returns the package-wide Engine used by callers that
// don't need a dedicated device topology.
func DefaultEngine() *Engine {
	return autograd.DefaultEngine()
}

// NewFromFlags wires up a freshly constructed node's flags from its
// inputs, via ComputeFlags.
func NewFromFlags(fn Function, inputs []*Variable) {
	autograd.NewFromFlags(fn, inputs)
}

// ComputeFlags propagates requires_grad/volatile through an op's inputs
// and builds its reverse-graph edges.
func ComputeFlags(inputs []*Variable) FunctionFlags {
	return autograd.ComputeFlags(inputs)
}

// Save snapshots v for later Unpack from inside a Function's Apply.
func Save(v *Variable) SavedVariable {
	return autograd.Save(v)
}

// SetStochastic marks fn as having side effects that must run even when
// nothing consumes its output. Only a stochastic fn with no inputs is
// queued unconditionally; one with inputs runs once its gradients arrive.
func SetStochastic(fn Function, stochastic bool) {
	autograd.SetStochastic(fn, stochastic)
}

// AddPreHook appends a pre-hook to fn, run (in order) before Apply.
func AddPreHook(fn Function, h PreHook) {
	autograd.AddPreHook(fn, h)
}

// AddPostHook appends a post-hook to fn, run (in order) after Apply.
func AddPostHook(fn Function, h PostHook) {
	autograd.AddPostHook(fn, h)
}

// Add returns x + y as a new Variable, wired for gradient flow.
func Add(x, y *Variable) *Variable {
	return autograd.Add(x, y)
}

// Clone returns a copy of x that shares no storage with it, wired for
// gradient flow.
func Clone(x *Variable) *Variable {
	return autograd.Clone(x)
}
