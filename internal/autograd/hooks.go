package autograd

// PreHook runs before a Function's Apply, against the gradients about to
// be fed into it. It must return a list the same length as its input
// (§4.5); hooks run in registration order.
type PreHook func(inputs []*Variable) []*Variable

// PostHook runs after a Function's Apply, against the outputs it
// produced. It receives the (possibly hook-modified) inputs alongside
// the outputs for context and must return a list the same length as its
// input.
type PostHook func(outputs, inputs []*Variable) []*Variable

// runPreHooks applies fn's pre-hooks in order.
func runPreHooks(fn Function, inputs []*Variable) []*Variable {
	for _, h := range fn.PreHooks() {
		inputs = h(inputs)
	}
	return inputs
}

// runPostHooks applies fn's post-hooks in order.
func runPostHooks(fn Function, outputs, inputs []*Variable) []*Variable {
	for _, h := range fn.PostHooks() {
		outputs = h(outputs, inputs)
	}
	return outputs
}
