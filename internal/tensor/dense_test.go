package tensor_test

import (
	"testing"

	"github.com/born-ml/gradkit/internal/tensor"
)

func TestDenseCAdd(t *testing.T) {
	a := tensor.NewDenseData([]float64{1, 2, 3}, tensor.DeviceCPU)
	b := tensor.NewDenseData([]float64{10, 20, 30}, tensor.DeviceCPU)
	out := tensor.Zeros(3, tensor.DeviceCPU)

	out.CAdd(a, b)

	want := []float64{11, 22, 33}
	got := out.Values()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("CAdd[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDenseCloneShallowSharesStorage(t *testing.T) {
	a := tensor.NewDenseData([]float64{1, 2, 3}, tensor.DeviceCPU)
	clone := a.CloneShallow().(*tensor.Dense)

	a.Values()[0] = 99
	if clone.Values()[0] != 99 {
		t.Fatalf("CloneShallow should share storage, got %v", clone.Values()[0])
	}
}

func TestDenseNewTensorIsZeroed(t *testing.T) {
	a := tensor.NewDenseData([]float64{1, 2, 3}, tensor.DeviceCPU)
	fresh := a.NewTensor().(*tensor.Dense)

	for i, v := range fresh.Values() {
		if v != 0 {
			t.Fatalf("NewTensor()[%d] = %v, want 0", i, v)
		}
	}
	if len(fresh.Values()) != len(a.Values()) {
		t.Fatalf("NewTensor() length = %d, want %d", len(fresh.Values()), len(a.Values()))
	}
}

func TestDenseIsSparse(t *testing.T) {
	a := tensor.NewDenseData([]float64{1, 2}, tensor.DeviceCPU)
	if a.IsSparse() {
		t.Fatal("fresh Dense should not be sparse")
	}
	if !a.AsSparse().IsSparse() {
		t.Fatal("AsSparse() should report sparse")
	}
}

func TestDeviceString(t *testing.T) {
	if tensor.DeviceCPU.String() != "cpu" {
		t.Fatalf("DeviceCPU.String() = %q, want %q", tensor.DeviceCPU.String(), "cpu")
	}
	if !tensor.DeviceCPU.IsCPU() {
		t.Fatal("DeviceCPU.IsCPU() should be true")
	}
	d := tensor.Device(0)
	if d.IsCPU() {
		t.Fatal("Device(0).IsCPU() should be false")
	}
}
