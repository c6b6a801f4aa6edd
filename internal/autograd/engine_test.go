package autograd_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/born-ml/gradkit/internal/autograd"
	"github.com/born-ml/gradkit/internal/tensor"
)

// testFn is a minimal Function for exercising the engine from outside
// the package: it embeds FunctionBase for the bookkeeping every real
// node needs and defers to a closure for Apply.
type testFn struct {
	autograd.FunctionBase
	name  string
	apply func(inputs []*autograd.Variable) ([]*autograd.Variable, error)
}

func (f *testFn) Name() string { return f.name }

func (f *testFn) Apply(inputs []*autograd.Variable) ([]*autograd.Variable, error) {
	return f.apply(inputs)
}

func newTestFn(name string, inputs []*autograd.Variable, apply func([]*autograd.Variable) ([]*autograd.Variable, error)) *testFn {
	fn := &testFn{name: name, apply: apply}
	autograd.NewFromFlags(fn, inputs)
	return fn
}

func values(v *autograd.Variable) []float64 {
	return v.Data().(*tensor.Dense).Values()
}

func leaf(vals []float64, requiresGrad bool) *autograd.Variable {
	return autograd.NewLeaf(tensor.NewDenseData(vals, tensor.DeviceCPU), requiresGrad)
}

func TestChainAddAccumulatesGradient(t *testing.T) {
	x := leaf([]float64{3}, true)
	y := autograd.Add(x, x) // dy/dx = 2

	engine := autograd.NewEngine()
	err := engine.Execute([]*autograd.Variable{y}, []*autograd.Variable{leaf([]float64{1}, false)}, false, nil)
	require.NoError(t, err)

	require.NotNil(t, x.Grad())
	require.Equal(t, []float64{2}, values(x.Grad()))
}

func TestThreeTermChainAccumulatesGradient(t *testing.T) {
	x := leaf([]float64{1}, true)
	y := autograd.Add(autograd.Add(x, x), x) // z = 3x, dz/dx = 3

	engine := autograd.NewEngine()
	err := engine.Execute([]*autograd.Variable{y}, []*autograd.Variable{leaf([]float64{1}, false)}, false, nil)
	require.NoError(t, err)

	require.NotNil(t, x.Grad())
	require.Equal(t, []float64{3}, values(x.Grad()))
}

func TestApplyErrorIsCapturedAndReturned(t *testing.T) {
	x := leaf([]float64{1}, true)
	boom := errors.New("kaboom")
	failing := newTestFn("failing", []*autograd.Variable{x}, func(inputs []*autograd.Variable) ([]*autograd.Variable, error) {
		return nil, boom
	})
	y := autograd.NewOutput(tensor.NewDenseData([]float64{1}, tensor.DeviceCPU), failing)

	engine := autograd.NewEngine()
	err := engine.Execute([]*autograd.Variable{y}, []*autograd.Variable{leaf([]float64{1}, false)}, false, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, boom)

	var engErr *autograd.EngineError
	require.ErrorAs(t, err, &engErr)
	require.Equal(t, autograd.ErrUserApply, engErr.Kind)
}

func TestNonRequiringInputGetsDeadEdgeAndNoGrad(t *testing.T) {
	a := leaf([]float64{1, 1}, true)
	b := leaf([]float64{2, 2}, false)

	op := newTestFn("asymmetric", []*autograd.Variable{a, b}, func(inputs []*autograd.Variable) ([]*autograd.Variable, error) {
		return []*autograd.Variable{inputs[0], nil}, nil
	})
	flags := autograd.ComputeFlags([]*autograd.Variable{a, b})
	require.True(t, flags.NextFunctions[1].IsDead())

	y := autograd.NewOutput(tensor.NewDenseData([]float64{3, 3}, tensor.DeviceCPU), op)

	engine := autograd.NewEngine()
	err := engine.Execute([]*autograd.Variable{y}, []*autograd.Variable{leaf([]float64{1, 1}, false)}, false, nil)
	require.NoError(t, err)

	require.NotNil(t, a.Grad())
	require.Equal(t, []float64{1, 1}, values(a.Grad()))
	require.Nil(t, b.Grad())
}

func TestUnusedOutputSlotZeroFilled(t *testing.T) {
	x := leaf([]float64{5}, true)

	var gotInputs []*autograd.Variable
	split := newTestFn("split", []*autograd.Variable{x}, func(inputs []*autograd.Variable) ([]*autograd.Variable, error) {
		gotInputs = inputs
		return []*autograd.Variable{inputs[0]}, nil
	})
	y0 := autograd.NewOutput(tensor.NewDenseData([]float64{5}, tensor.DeviceCPU), split)
	_ = autograd.NewOutput(tensor.NewDenseData([]float64{7}, tensor.DeviceCPU), split) // never consumed

	consumer := newTestFn("consumer", []*autograd.Variable{y0}, func(inputs []*autograd.Variable) ([]*autograd.Variable, error) {
		return []*autograd.Variable{inputs[0]}, nil
	})
	z := autograd.NewOutput(tensor.NewDenseData([]float64{5}, tensor.DeviceCPU), consumer)

	engine := autograd.NewEngine()
	err := engine.Execute([]*autograd.Variable{z}, []*autograd.Variable{leaf([]float64{1}, false)}, false, nil)
	require.NoError(t, err)

	require.Len(t, gotInputs, 2)
	require.NotNil(t, gotInputs[0])
	require.NotNil(t, gotInputs[1])
	require.Equal(t, []float64{0}, values(gotInputs[1]))
}

func TestMultiDeviceGradientRouting(t *testing.T) {
	engine := autograd.NewEngine(autograd.WithDeviceCount(2))

	xCPU := autograd.NewLeaf(tensor.NewDenseData([]float64{1}, tensor.DeviceCPU), true)
	xDev0 := autograd.NewLeaf(tensor.NewDenseData([]float64{2}, tensor.Device(0)), true)

	sum := newTestFn("cross-device", []*autograd.Variable{xCPU, xDev0}, func(inputs []*autograd.Variable) ([]*autograd.Variable, error) {
		g := inputs[0].Data().(*tensor.Dense).Values()
		gCPU := autograd.NewVolatileLeaf(tensor.NewDenseData(append([]float64{}, g...), tensor.DeviceCPU))
		gDev0 := autograd.NewVolatileLeaf(tensor.NewDenseData(append([]float64{}, g...), tensor.Device(0)))
		return []*autograd.Variable{gCPU, gDev0}, nil
	})
	y := autograd.NewOutput(tensor.NewDenseData([]float64{3}, tensor.DeviceCPU), sum)

	err := engine.Execute([]*autograd.Variable{y}, []*autograd.Variable{leaf([]float64{1}, false)}, false, nil)
	require.NoError(t, err)

	require.NotNil(t, xCPU.Grad())
	require.NotNil(t, xDev0.Grad())
	require.Equal(t, []float64{1}, values(xCPU.Grad()))
	require.Equal(t, []float64{1}, values(xDev0.Grad()))
}

// TestMultiDeviceFanInRoutesOnFirstTouchedDevice exercises the literal S3
// scenario: two distinct upstream Functions, one producing a device-0
// gradient and one producing a CPU gradient, both feeding a single
// downstream consumer. The consumer must be scheduled exactly once
// (never run concurrently with itself) and the final accumulated
// gradient must not depend on which contribution happened to complete
// the buffer.
func TestMultiDeviceFanInRoutesOnFirstTouchedDevice(t *testing.T) {
	engine := autograd.NewEngine(autograd.WithDeviceCount(1))

	x := leaf([]float64{1}, true)

	fromCPU := newTestFn("from-cpu", []*autograd.Variable{x}, func(inputs []*autograd.Variable) ([]*autograd.Variable, error) {
		return []*autograd.Variable{autograd.NewVolatileLeaf(tensor.NewDenseData([]float64{1}, tensor.DeviceCPU))}, nil
	})
	yCPU := autograd.NewOutput(tensor.NewDenseData([]float64{1}, tensor.DeviceCPU), fromCPU)

	fromDev0 := newTestFn("from-dev0", []*autograd.Variable{x}, func(inputs []*autograd.Variable) ([]*autograd.Variable, error) {
		return []*autograd.Variable{autograd.NewVolatileLeaf(tensor.NewDenseData([]float64{1}, tensor.Device(0)))}, nil
	})
	yDev0 := autograd.NewOutput(tensor.NewDenseData([]float64{1}, tensor.Device(0)), fromDev0)

	var runs int
	consumer := newTestFn("fan-in-consumer", []*autograd.Variable{yCPU, yDev0}, func(inputs []*autograd.Variable) ([]*autograd.Variable, error) {
		runs++
		// One output per next edge: the gradient goes to both from-cpu and from-dev0.
		return []*autograd.Variable{inputs[0], inputs[0]}, nil
	})
	z := autograd.NewOutput(tensor.NewDenseData([]float64{2}, tensor.DeviceCPU), consumer)

	err := engine.Execute([]*autograd.Variable{z}, []*autograd.Variable{leaf([]float64{1}, false)}, false, nil)
	require.NoError(t, err)

	require.Equal(t, 1, runs)
	require.NotNil(t, x.Grad())
	require.Equal(t, []float64{2}, values(x.Grad()))
}

func TestNoExecutableRootsIsReported(t *testing.T) {
	x := leaf([]float64{1}, false)
	engine := autograd.NewEngine()
	err := engine.Execute([]*autograd.Variable{x}, []*autograd.Variable{leaf([]float64{1}, false)}, false, nil)
	require.Error(t, err)

	var engErr *autograd.EngineError
	require.ErrorAs(t, err, &engErr)
	require.Equal(t, autograd.ErrNoExecutableRoots, engErr.Kind)
}

func TestCloneBackwardPassesGradientThrough(t *testing.T) {
	x := leaf([]float64{9}, true)
	y := autograd.Clone(x)

	engine := autograd.NewEngine()
	err := engine.Execute([]*autograd.Variable{y}, []*autograd.Variable{leaf([]float64{1}, false)}, false, nil)
	require.NoError(t, err)

	require.NotNil(t, x.Grad())
	require.Equal(t, []float64{1}, values(x.Grad()))
}

func TestDuplicateRootIsAppliedAtMostOnce(t *testing.T) {
	x := leaf([]float64{4}, true)

	var runs int
	var mu sync.Mutex
	op := newTestFn("shared-root", []*autograd.Variable{x}, func(inputs []*autograd.Variable) ([]*autograd.Variable, error) {
		mu.Lock()
		runs++
		mu.Unlock()
		return []*autograd.Variable{inputs[0]}, nil
	})
	y := autograd.NewOutput(tensor.NewDenseData([]float64{4}, tensor.DeviceCPU), op)

	engine := autograd.NewEngine()
	// y listed twice as a root: find_roots must collapse this to a single
	// InputBuffer and a single FunctionTask for op.
	err := engine.Execute(
		[]*autograd.Variable{y, y},
		[]*autograd.Variable{leaf([]float64{1}, false), leaf([]float64{1}, false)},
		false, nil,
	)
	require.NoError(t, err)

	require.Equal(t, 1, runs)
	require.NotNil(t, x.Grad())
	require.Equal(t, []float64{2}, values(x.Grad()))
}

func TestCallbackRejectSkipsApplyAndProducesNilOutputs(t *testing.T) {
	x := leaf([]float64{1}, true)
	var applyRan bool
	op := newTestFn("interceptable", []*autograd.Variable{x}, func(inputs []*autograd.Variable) ([]*autograd.Variable, error) {
		applyRan = true
		return []*autograd.Variable{inputs[0]}, nil
	})
	y := autograd.NewOutput(tensor.NewDenseData([]float64{1}, tensor.DeviceCPU), op)

	engine := autograd.NewEngine()
	callbacks := map[autograd.Function]autograd.Callback{
		op: func(fn autograd.Function, inputs []*autograd.Variable) bool { return false },
	}
	err := engine.Execute([]*autograd.Variable{y}, []*autograd.Variable{leaf([]float64{1}, false)}, false, callbacks)
	require.NoError(t, err)

	require.False(t, applyRan)
	require.Nil(t, x.Grad())
}

func TestCallbackAcceptRunsApplyNormally(t *testing.T) {
	x := leaf([]float64{1}, true)
	op := newTestFn("interceptable", []*autograd.Variable{x}, func(inputs []*autograd.Variable) ([]*autograd.Variable, error) {
		return []*autograd.Variable{inputs[0]}, nil
	})
	y := autograd.NewOutput(tensor.NewDenseData([]float64{1}, tensor.DeviceCPU), op)

	engine := autograd.NewEngine()
	var sawInputs bool
	callbacks := map[autograd.Function]autograd.Callback{
		op: func(fn autograd.Function, inputs []*autograd.Variable) bool {
			sawInputs = len(inputs) == 1
			return true
		},
	}
	err := engine.Execute([]*autograd.Variable{y}, []*autograd.Variable{leaf([]float64{1}, false)}, false, callbacks)
	require.NoError(t, err)

	require.True(t, sawInputs)
	require.NotNil(t, x.Grad())
	require.Equal(t, []float64{1}, values(x.Grad()))
}
