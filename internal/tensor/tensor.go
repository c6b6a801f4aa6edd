// Package tensor defines the narrow contract the autograd engine needs from
// a tensor library, and a small reference implementation used by the
// engine's own tests.
//
// The real tensor library — shapes, strides, dtypes, device kernels,
// convolution, matmul, broadcasting — lives outside this module entirely.
// The engine's control flow only ever touches five operations on a
// tensor: allocate a fresh same-shaped tensor, shallow-clone one, add two
// of them in place, ask whether one is sparse, and ask which device it
// lives on. Beyond those, the contract exposes the storage size (for
// diagnostic messages) and the raw bytes (for hooks and transports).
// Everything else a production tensor library does is opaque to this
// package on purpose.
package tensor

// Tensor is the opaque value the autograd engine operates on. It models
// the tensor library's contract from the outside: the engine never
// inspects shape, dtype, or storage layout. Its control flow uses only
// the first five of these methods; ByteSize feeds diagnostic messages and
// Bytes exists for hooks and transports.
type Tensor interface {
	// NewTensor returns a fresh, zero-filled tensor with the same shape,
	// dtype, sparse/dense layout and device as the receiver.
	NewTensor() Tensor

	// CloneShallow returns a new Tensor value that shares the receiver's
	// underlying storage. No data is copied; mutating the storage through
	// either the receiver or the clone is visible through both.
	CloneShallow() Tensor

	// CAdd sets the receiver to the element-wise sum a+b. a and b must have
	// the same shape as the receiver. CAdd does not allocate; it is the
	// in-place primitive every other gradient-accumulation path is built
	// from.
	CAdd(a, b Tensor)

	// IsSparse reports whether the tensor uses a sparse storage format.
	// AccumulateGrad promotes a sparse accumulator to dense the first time
	// it receives a dense contribution (§4.2).
	IsSparse() bool

	// Device reports which compute device the tensor's storage lives on.
	// DeviceCPU (-1) means host memory; values >= 0 name an accelerator
	// index known to the Engine's device table.
	Device() Device

	// ByteSize reports elementSize()*numel() — the size of the tensor's
	// storage in bytes. Used only for diagnostics (error messages, trace
	// logging), never for control flow.
	ByteSize() int

	// Bytes exposes the tensor's raw storage. The engine itself never
	// reads this; it exists for hooks and transports that need to move
	// tensor data across a process boundary.
	Bytes() []byte
}
