package tensor

import "strconv"

// Device identifies the compute device a Tensor's storage lives on.
//
// This narrows a typical tensor-device enum down to the one distinction
// the engine actually branches on: host memory versus a numbered
// accelerator. Concrete accelerator kinds (CUDA, Metal, WebGPU, ...) are
// the tensor library's business, not the engine's.
type Device int

// DeviceCPU is the sentinel device id for host memory. It is negative so
// that accelerator ids can start at 0 and the Engine's device table — one
// entry per accelerator, plus one implicit CPU queue — can be indexed as
// device+1 (§4.4).
const DeviceCPU Device = -1

// IsCPU reports whether d names host memory.
func (d Device) IsCPU() bool {
	return d == DeviceCPU
}

// String renders the device for logs and error messages.
func (d Device) String() string {
	if d.IsCPU() {
		return "cpu"
	}
	return "device" + strconv.Itoa(int(d))
}
