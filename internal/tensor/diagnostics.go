package tensor

import "github.com/dustin/go-humanize"

// Describe renders a short, human-readable summary of a tensor's storage
// footprint for diagnostic strings (error messages, trace logging). The
// engine itself never branches on this; it exists purely so a failure
// message like "apply returned a 2.1 MB output on the wrong device" reads
// naturally instead of printing a raw byte count.
func Describe(t Tensor) string {
	if t == nil {
		return "<nil>"
	}
	size := humanize.Bytes(uint64(t.ByteSize()))
	if t.IsSparse() {
		return size + " sparse on " + t.Device().String()
	}
	return size + " on " + t.Device().String()
}
