package ml

import (
	"fmt"
)

type node struct {
	op     *Operator
	kernel Kernel
	in     []*Tensor
	out    []*Tensor
}

// Interpreter executes a model graph against a fixed arena.
// It is not safe for concurrent use.
type Interpreter struct {
	model    *Model
	resolver *OpResolver
	arena    *Arena

	tensors   []*Tensor
	nodes     []node
	allocated bool
}

// NewInterpreter binds a model, resolver and arena. Nothing is allocated
// until AllocateTensors is called.
func NewInterpreter(model *Model, resolver *OpResolver, arena *Arena) *Interpreter {
	return &Interpreter{
		model:    model,
		resolver: resolver,
		arena:    arena,
	}
}

// AllocateTensors validates the graph, resolves every operator and carves
// all activation tensors out of the arena.
func (it *Interpreter) AllocateTensors() error {
	if it.allocated {
		return nil
	}
	if err := it.model.validate(); err != nil {
		return err
	}

	it.arena.Reset()
	tensors := make([]*Tensor, len(it.model.Tensors))
	for i, spec := range it.model.Tensors {
		t := newTensor(spec)
		if spec.IsConstant() {
			t.constant = true
			if t.Type == TypeUint8 {
				t.u8 = make([]uint8, len(spec.Data))
				for j, v := range spec.Data {
					t.u8[j] = uint8(v)
				}
			} else {
				t.f64 = append([]float64(nil), spec.Data...)
			}
		} else {
			var err error
			if t.Type == TypeUint8 {
				t.u8, err = it.arena.allocUint8(t.Len())
			} else {
				t.f64, err = it.arena.allocFloat64(t.Len())
			}
			if err != nil {
				it.arena.Reset()
				return fmt.Errorf("failed to allocate tensor %s: %w", t.Name, err)
			}
		}
		tensors[i] = t
	}

	nodes := make([]node, 0, len(it.model.Operators))
	for i := range it.model.Operators {
		op := &it.model.Operators[i]
		kernel, err := it.resolver.find(op.Op)
		if err != nil {
			it.arena.Reset()
			return fmt.Errorf("operator %d: %w", i, err)
		}
		n := node{op: op, kernel: kernel, in: lookup(tensors, op.Inputs), out: lookup(tensors, op.Outputs)}
		if err := kernel.Prepare(op, n.in, n.out); err != nil {
			it.arena.Reset()
			return fmt.Errorf("operator %d: %w", i, err)
		}
		nodes = append(nodes, n)
	}

	it.tensors = tensors
	it.nodes = nodes
	it.allocated = true
	return nil
}

func lookup(tensors []*Tensor, idx []int) []*Tensor {
	out := make([]*Tensor, len(idx))
	for i, j := range idx {
		if j >= 0 {
			out[i] = tensors[j]
		}
	}
	return out
}

// Input returns the i-th graph input, nil before allocation or out of range
func (it *Interpreter) Input(i int) *Tensor {
	if !it.allocated || i < 0 || i >= len(it.model.Inputs) {
		return nil
	}
	return it.tensors[it.model.Inputs[i]]
}

// Output returns the i-th graph output, nil before allocation or out of range
func (it *Interpreter) Output(i int) *Tensor {
	if !it.allocated || i < 0 || i >= len(it.model.Outputs) {
		return nil
	}
	return it.tensors[it.model.Outputs[i]]
}

// ArenaUsed returns the bytes of arena the graph needs
func (it *Interpreter) ArenaUsed() int {
	return it.arena.Used()
}

// Invoke runs one synchronous forward pass
func (it *Interpreter) Invoke() (err error) {
	if !it.allocated {
		return ErrNotAllocated
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInvoke, r)
		}
	}()

	for i, n := range it.nodes {
		if err := n.kernel.Eval(n.op, n.in, n.out); err != nil {
			return fmt.Errorf("%w: operator %d (%s): %v", ErrInvoke, i, n.op.Op, err)
		}
	}
	return nil
}
