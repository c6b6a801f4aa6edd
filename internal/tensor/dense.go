package tensor

import "unsafe"

// Dense is a minimal, float64-backed Tensor implementation. It exists so
// the autograd engine's own tests can exercise real gradient accumulation
// without depending on a production tensor library: naive, but correct.
//
// Dense is not a general-purpose tensor type — no shape, no strides, no
// broadcasting. It is exactly as capable as the Tensor contract requires
// and no more.
type Dense struct {
	data   []float64
	device Device
	sparse bool
}

var _ Tensor = (*Dense)(nil)

// NewDenseData wraps an existing slice as a Dense tensor on device d. The
// slice is not copied.
func NewDenseData(data []float64, d Device) *Dense {
	return &Dense{data: data, device: d}
}

// Zeros returns a new zero-filled Dense tensor of n elements on device d.
func Zeros(n int, d Device) *Dense {
	return &Dense{data: make([]float64, n), device: d}
}

// AsSparse returns a shallow copy of d flagged as sparse. Used by tests
// that exercise AccumulateGrad's sparse-to-dense promotion (§4.2).
func (d *Dense) AsSparse() *Dense {
	return &Dense{data: d.data, device: d.device, sparse: true}
}

// Values returns the tensor's backing slice directly, for test assertions.
func (d *Dense) Values() []float64 {
	return d.data
}

// NewTensor implements Tensor. The result keeps d's sparse flag.
func (d *Dense) NewTensor() Tensor {
	return &Dense{data: make([]float64, len(d.data)), device: d.device, sparse: d.sparse}
}

// CloneShallow implements Tensor. The returned tensor shares d's backing
// array; no elements are copied.
func (d *Dense) CloneShallow() Tensor {
	return &Dense{data: d.data, device: d.device, sparse: d.sparse}
}

// CAdd implements Tensor. The receiver ends up sparse only if both a and
// b are: adding a dense operand promotes the result to dense.
func (d *Dense) CAdd(a, b Tensor) {
	da, aOK := a.(*Dense)
	db, bOK := b.(*Dense)
	if !aOK || !bOK {
		panic("tensor: Dense.CAdd requires Dense operands")
	}
	if len(da.data) != len(d.data) || len(db.data) != len(d.data) {
		panic("tensor: Dense.CAdd shape mismatch")
	}
	for i := range d.data {
		d.data[i] = da.data[i] + db.data[i]
	}
	d.sparse = da.sparse && db.sparse
}

// IsSparse implements Tensor.
func (d *Dense) IsSparse() bool {
	return d.sparse
}

// Device implements Tensor.
func (d *Dense) Device() Device {
	return d.device
}

// ByteSize implements Tensor.
func (d *Dense) ByteSize() int {
	return len(d.data) * 8
}

// Bytes implements Tensor.
func (d *Dense) Bytes() []byte {
	if len(d.data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by len(d.data)
	return unsafe.Slice((*byte)(unsafe.Pointer(&d.data[0])), len(d.data)*8)
}
