package ml

import "fmt"

// Kernel evaluates one operator. Inputs and outputs are resolved tensors in
// operator order; optional inputs (index -1 in the model) are nil.
type Kernel struct {
	// Prepare validates shapes and types once, at allocation time
	Prepare func(op *Operator, in, out []*Tensor) error
	// Eval runs the operator
	Eval func(op *Operator, in, out []*Tensor) error
}

// OpResolver maps opcodes to kernels. Only registered operators can be
// used by a graph, which keeps the runtime limited to what the model needs.
type OpResolver struct {
	kernels  map[OpCode]Kernel
	capacity int
}

// NewOpResolver creates a resolver that accepts at most capacity operators
func NewOpResolver(capacity int) *OpResolver {
	return &OpResolver{
		kernels:  make(map[OpCode]Kernel, capacity),
		capacity: capacity,
	}
}

func (r *OpResolver) add(code OpCode, k Kernel) error {
	if _, exists := r.kernels[code]; exists {
		return nil
	}
	if len(r.kernels) >= r.capacity {
		return fmt.Errorf("op resolver full (%d), cannot add %s", r.capacity, code)
	}
	r.kernels[code] = k
	return nil
}

// Add* register one builtin kernel each. Adding past the capacity fails;
// adding an opcode twice is a no-op.
func (r *OpResolver) AddFullyConnected() error { return r.add(OpFullyConnected, fullyConnectedKernel) }
func (r *OpResolver) AddReshape() error        { return r.add(OpReshape, reshapeKernel) }
func (r *OpResolver) AddQuantize() error       { return r.add(OpQuantize, quantizeKernel) }
func (r *OpResolver) AddDequantize() error     { return r.add(OpDequantize, dequantizeKernel) }
func (r *OpResolver) AddMul() error            { return r.add(OpMul, mulKernel) }
func (r *OpResolver) AddAdd() error            { return r.add(OpAdd, addKernel) }

// Registered reports whether an opcode has a kernel
func (r *OpResolver) Registered(code OpCode) bool {
	_, ok := r.kernels[code]
	return ok
}

// Len returns the number of registered operators
func (r *OpResolver) Len() int {
	return len(r.kernels)
}

func (r *OpResolver) find(code OpCode) (Kernel, error) {
	k, ok := r.kernels[code]
	if !ok {
		return Kernel{}, fmt.Errorf("%w: %s", ErrUnsupportedOp, code)
	}
	return k, nil
}
