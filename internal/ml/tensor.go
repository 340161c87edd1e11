package ml

// Tensor is a runtime tensor. uint8 tensors expose Uint8, float tensors
// expose Float64; the float storage is float64 so kernels can hand it to gonum.
type Tensor struct {
	Name   string
	Type   TensorType
	Shape  []int
	Params QuantizationParams

	u8       []uint8
	f64      []float64
	constant bool
}

func newTensor(spec TensorSpec) *Tensor {
	t := &Tensor{
		Name:  spec.Name,
		Type:  spec.Type,
		Shape: append([]int(nil), spec.Shape...),
	}
	if spec.Quantization != nil {
		t.Params = *spec.Quantization
	}
	return t
}

// Len returns the element count
func (t *Tensor) Len() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Bytes returns the storage size of one tensor in the arena
func (t *Tensor) Bytes() int {
	if t.Type == TypeUint8 {
		return t.Len()
	}
	return t.Len() * 8
}

// Uint8 returns the backing data of a uint8 tensor, nil otherwise
func (t *Tensor) Uint8() []uint8 {
	return t.u8
}

// Float64 returns the backing data of a float tensor, nil otherwise
func (t *Tensor) Float64() []float64 {
	return t.f64
}

// IsConstant reports whether the tensor holds model weights
func (t *Tensor) IsConstant() bool {
	return t.constant
}
