package autograd

import (
	"sync"

	"github.com/born-ml/gradkit/internal/tensor"
)

// InputBuffer accumulates the gradient contributions flowing into a
// single Function as they arrive from however many upstream edges feed
// it (§4.3). Contributions can arrive concurrently from workers on
// different device queues, so Add is mutex-guarded.
//
// device is sticky: once a non-CPU contribution is observed it never
// changes again, even if a later contribution arrives from the CPU or
// from yet another accelerator (§3: "id of the first non-CPU device
// touched, else CPU"). This is what the engine schedules the buffer's
// eventual FunctionTask on, not whichever contribution happens to
// complete the buffer last.
type InputBuffer struct {
	mu           sync.Mutex
	buffer       []*Variable
	device       tensor.Device
	deviceLocked bool
}

// NewInputBuffer allocates a buffer with n empty slots, one per input
// the bound Function expects.
func NewInputBuffer(n int) *InputBuffer {
	return &InputBuffer{buffer: make([]*Variable, n), device: tensor.DeviceCPU}
}

// Add deposits v at input slot pos, summing it with whatever is already
// there. The sum is plain tensor addition wrapped in a volatile carrier
// Variable, not a graph Add node — combining contributions is bookkeeping,
// not a differentiable operation in its own right.
func (b *InputBuffer) Add(pos int, v *Variable) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.deviceLocked {
		if d := v.Data().Device(); !d.IsCPU() {
			b.device = d
			b.deviceLocked = true
		}
	}

	existing := b.buffer[pos]
	if existing == nil {
		b.buffer[pos] = v
		return
	}
	out := existing.Data().NewTensor()
	out.CAdd(existing.Data(), v.Data())
	b.buffer[pos] = NewVolatileLeaf(out)
}

// Device reports the buffer's sticky device: the first non-CPU device
// any contribution touched, or CPU if every contribution so far has
// been on the host (§3, §4.3).
func (b *InputBuffer) Device() tensor.Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.device
}

// Variables returns the buffer's contents, filling any slot that never
// received a contribution with a zero-shaped placeholder (§4.3) so a
// Function's Apply always sees exactly NumInputs() entries. The
// placeholder's shape/device is copied from whichever slot did receive
// a contribution; a buffer with no contributions at all (unreachable
// for an executable Function, since reaching one requires traversing at
// least one edge into it) yields all nils.
func (b *InputBuffer) Variables() []*Variable {
	b.mu.Lock()
	defer b.mu.Unlock()

	var template tensor.Tensor
	for _, v := range b.buffer {
		if v != nil {
			template = v.Data()
			break
		}
	}

	out := make([]*Variable, len(b.buffer))
	for i, v := range b.buffer {
		if v != nil {
			out[i] = v
			continue
		}
		if template == nil {
			continue
		}
		out[i] = NewVolatileLeaf(template.NewTensor())
	}
	return out
}
