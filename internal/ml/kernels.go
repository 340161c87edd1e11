package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	fullyConnectedKernel = Kernel{Prepare: prepareFullyConnected, Eval: evalFullyConnected}
	reshapeKernel        = Kernel{Prepare: prepareReshape, Eval: evalReshape}
	quantizeKernel       = Kernel{Prepare: prepareQuantize, Eval: evalQuantize}
	dequantizeKernel     = Kernel{Prepare: prepareDequantize, Eval: evalDequantize}
	mulKernel            = Kernel{Prepare: prepareElementwise, Eval: evalMul}
	addKernel            = Kernel{Prepare: prepareElementwise, Eval: evalAdd}
)

func expectArity(op *Operator, in, out []*Tensor, minIn, maxIn int) error {
	if len(in) < minIn || len(in) > maxIn || len(out) != 1 {
		return fmt.Errorf("%w: %s takes %d-%d inputs and 1 output, got %d/%d",
			ErrInvalidModel, op.Op, minIn, maxIn, len(in), len(out))
	}
	for i := 0; i < minIn; i++ {
		if in[i] == nil {
			return fmt.Errorf("%w: %s input %d is required", ErrInvalidModel, op.Op, i)
		}
	}
	if out[0] == nil {
		return fmt.Errorf("%w: %s output is required", ErrInvalidModel, op.Op)
	}
	return nil
}

func expectType(op *Operator, t *Tensor, typ TensorType) error {
	if t.Type != typ {
		return fmt.Errorf("%w: %s tensor %s is %s, want %s", ErrInvalidModel, op.Op, t.Name, t.Type, typ)
	}
	return nil
}

func applyActivation(act Activation, data []float64) {
	if act != ActivationRelu {
		return
	}
	for i, v := range data {
		if v < 0 {
			data[i] = 0
		}
	}
}

// FULLY_CONNECTED: out = act(W·x + b), W shaped [units, features]

func prepareFullyConnected(op *Operator, in, out []*Tensor) error {
	if err := expectArity(op, in, out, 2, 3); err != nil {
		return err
	}
	input, weights, output := in[0], in[1], out[0]
	for _, t := range []*Tensor{input, weights, output} {
		if err := expectType(op, t, TypeFloat32); err != nil {
			return err
		}
	}
	if !weights.IsConstant() || len(weights.Shape) != 2 {
		return fmt.Errorf("%w: %s weights %s must be a constant 2-D tensor", ErrInvalidModel, op.Op, weights.Name)
	}
	units, features := weights.Shape[0], weights.Shape[1]
	if input.Len() != features {
		return fmt.Errorf("%w: %s input %s has %d elements, weights expect %d",
			ErrInvalidModel, op.Op, input.Name, input.Len(), features)
	}
	if output.Len() != units {
		return fmt.Errorf("%w: %s output %s has %d elements, weights produce %d",
			ErrInvalidModel, op.Op, output.Name, output.Len(), units)
	}
	if len(in) == 3 && in[2] != nil {
		bias := in[2]
		if !bias.IsConstant() || bias.Len() != units {
			return fmt.Errorf("%w: %s bias %s must be constant with %d elements", ErrInvalidModel, op.Op, bias.Name, units)
		}
	}
	return nil
}

func evalFullyConnected(op *Operator, in, out []*Tensor) error {
	input, weights, output := in[0], in[1], out[0]
	units, features := weights.Shape[0], weights.Shape[1]

	w := mat.NewDense(units, features, weights.f64)
	x := mat.NewVecDense(features, input.f64)
	y := mat.NewVecDense(units, output.f64)
	y.MulVec(w, x)

	if len(in) == 3 && in[2] != nil {
		for i, b := range in[2].f64 {
			output.f64[i] += b
		}
	}
	applyActivation(op.Activation, output.f64)
	return nil
}

// RESHAPE: same elements, new shape. An optional shape input is ignored.

func prepareReshape(op *Operator, in, out []*Tensor) error {
	if err := expectArity(op, in, out, 1, 2); err != nil {
		return err
	}
	if in[0].Type != out[0].Type {
		return fmt.Errorf("%w: %s cannot change type %s -> %s", ErrInvalidModel, op.Op, in[0].Type, out[0].Type)
	}
	if in[0].Len() != out[0].Len() {
		return fmt.Errorf("%w: %s cannot reshape %d elements into %d", ErrInvalidModel, op.Op, in[0].Len(), out[0].Len())
	}
	return nil
}

func evalReshape(op *Operator, in, out []*Tensor) error {
	if in[0].Type == TypeUint8 {
		copy(out[0].u8, in[0].u8)
		return nil
	}
	copy(out[0].f64, in[0].f64)
	return nil
}

// QUANTIZE: float -> uint8 with the output tensor's parameters

func prepareQuantize(op *Operator, in, out []*Tensor) error {
	if err := expectArity(op, in, out, 1, 1); err != nil {
		return err
	}
	if err := expectType(op, in[0], TypeFloat32); err != nil {
		return err
	}
	if err := expectType(op, out[0], TypeUint8); err != nil {
		return err
	}
	if in[0].Len() != out[0].Len() {
		return fmt.Errorf("%w: %s element count mismatch", ErrInvalidModel, op.Op)
	}
	return validParams(op, out[0])
}

func evalQuantize(op *Operator, in, out []*Tensor) error {
	p := out[0].Params
	for i, v := range in[0].f64 {
		q := math.Round(v/float64(p.Scale)) + float64(p.ZeroPoint)
		switch {
		case !(q >= 0):
			q = 0
		case q > 255:
			q = 255
		}
		out[0].u8[i] = uint8(q)
	}
	return nil
}

// DEQUANTIZE: uint8 -> float with the input tensor's parameters

func prepareDequantize(op *Operator, in, out []*Tensor) error {
	if err := expectArity(op, in, out, 1, 1); err != nil {
		return err
	}
	if err := expectType(op, in[0], TypeUint8); err != nil {
		return err
	}
	if err := expectType(op, out[0], TypeFloat32); err != nil {
		return err
	}
	if in[0].Len() != out[0].Len() {
		return fmt.Errorf("%w: %s element count mismatch", ErrInvalidModel, op.Op)
	}
	return validParams(op, in[0])
}

func evalDequantize(op *Operator, in, out []*Tensor) error {
	p := in[0].Params
	for i, q := range in[0].u8 {
		out[0].f64[i] = float64(float32(int32(q)-p.ZeroPoint) * p.Scale)
	}
	return nil
}

func validParams(op *Operator, t *Tensor) error {
	s := float64(t.Params.Scale)
	if !(s > 0) || math.IsInf(s, 0) {
		return fmt.Errorf("%w: %s tensor %s has scale %v", ErrInvalidModel, op.Op, t.Name, t.Params.Scale)
	}
	return nil
}

// MUL / ADD: elementwise, the second operand may be a scalar

func prepareElementwise(op *Operator, in, out []*Tensor) error {
	if err := expectArity(op, in, out, 2, 2); err != nil {
		return err
	}
	for _, t := range []*Tensor{in[0], in[1], out[0]} {
		if err := expectType(op, t, TypeFloat32); err != nil {
			return err
		}
	}
	if n := in[1].Len(); n != 1 && n != in[0].Len() {
		return fmt.Errorf("%w: %s cannot broadcast %d elements onto %d", ErrInvalidModel, op.Op, n, in[0].Len())
	}
	if out[0].Len() != in[0].Len() {
		return fmt.Errorf("%w: %s output has %d elements, want %d", ErrInvalidModel, op.Op, out[0].Len(), in[0].Len())
	}
	return nil
}

func evalMul(op *Operator, in, out []*Tensor) error {
	a, b := in[0].f64, in[1].f64
	for i := range out[0].f64 {
		out[0].f64[i] = a[i] * b[i%len(b)]
	}
	applyActivation(op.Activation, out[0].f64)
	return nil
}

func evalAdd(op *Operator, in, out []*Tensor) error {
	a, b := in[0].f64, in[1].f64
	for i := range out[0].f64 {
		out[0].f64[i] = a[i] + b[i%len(b)]
	}
	applyActivation(op.Activation, out[0].f64)
	return nil
}
