package ml

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SchemaVersion is the model schema version this runtime understands.
// Models serialized with any other version are rejected at load time.
const SchemaVersion = 3

// TensorType is the element type of a tensor
type TensorType string

const (
	TypeUint8   TensorType = "uint8"
	TypeFloat32 TensorType = "float32"
)

// OpCode identifies a graph operation
type OpCode string

const (
	OpFullyConnected OpCode = "FULLY_CONNECTED"
	OpReshape        OpCode = "RESHAPE"
	OpQuantize       OpCode = "QUANTIZE"
	OpDequantize     OpCode = "DEQUANTIZE"
	OpMul            OpCode = "MUL"
	OpAdd            OpCode = "ADD"
)

// Activation is a fused activation applied to an operator's output
type Activation string

const (
	ActivationNone Activation = "NONE"
	ActivationRelu Activation = "RELU"
)

var (
	ErrSchemaVersion  = errors.New("model schema version mismatch")
	ErrInvalidModel   = errors.New("invalid model")
	ErrUnsupportedOp  = errors.New("operator not registered")
	ErrArenaExhausted = errors.New("tensor arena exhausted")
	ErrNotAllocated   = errors.New("tensors not allocated")
	ErrInvoke         = errors.New("invoke failed")
)

// QuantizationParams holds the affine mapping of a quantized tensor
type QuantizationParams struct {
	Scale     float32 `json:"scale"`
	ZeroPoint int32   `json:"zero_point"`
}

// TensorSpec describes one tensor of the serialized graph.
// Constant tensors (weights, biases) carry Data and never occupy the arena.
type TensorSpec struct {
	Name         string              `json:"name"`
	Type         TensorType          `json:"type"`
	Shape        []int               `json:"shape"`
	Quantization *QuantizationParams `json:"quantization,omitempty"`
	Data         []float64           `json:"data,omitempty"`
}

// Elements returns the number of elements implied by the shape
func (s TensorSpec) Elements() int {
	n := 1
	for _, d := range s.Shape {
		n *= d
	}
	return n
}

// IsConstant reports whether the tensor is baked into the model
func (s TensorSpec) IsConstant() bool {
	return s.Data != nil
}

// Operator is one node of the graph
type Operator struct {
	Op         OpCode     `json:"op"`
	Inputs     []int      `json:"inputs"`
	Outputs    []int      `json:"outputs"`
	Activation Activation `json:"activation,omitempty"`
}

// Model is a deserialized autoencoder graph
type Model struct {
	Version     int          `json:"version"`
	Description string       `json:"description"`
	Tensors     []TensorSpec `json:"tensors"`
	Operators   []Operator   `json:"operators"`
	Inputs      []int        `json:"inputs"`
	Outputs     []int        `json:"outputs"`
}

// GetModel deserializes a model blob and checks its schema version.
// The graph structure is validated later, when tensors are allocated.
func GetModel(data []byte) (*Model, error) {
	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal model: %v", ErrInvalidModel, err)
	}

	if model.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: model has %d, runtime supports %d", ErrSchemaVersion, model.Version, SchemaVersion)
	}

	return &model, nil
}

// validate checks tensor references and shapes of the graph
func (m *Model) validate() error {
	if len(m.Inputs) == 0 || len(m.Outputs) == 0 {
		return fmt.Errorf("%w: graph has no inputs or outputs", ErrInvalidModel)
	}

	for i, t := range m.Tensors {
		if t.Type != TypeUint8 && t.Type != TypeFloat32 {
			return fmt.Errorf("%w: tensor %d (%s) has unknown type %q", ErrInvalidModel, i, t.Name, t.Type)
		}
		if len(t.Shape) == 0 || t.Elements() <= 0 {
			return fmt.Errorf("%w: tensor %d (%s) has empty shape", ErrInvalidModel, i, t.Name)
		}
		if t.IsConstant() && len(t.Data) != t.Elements() {
			return fmt.Errorf("%w: tensor %d (%s) has %d values for %d elements",
				ErrInvalidModel, i, t.Name, len(t.Data), t.Elements())
		}
		if t.Type == TypeUint8 && t.Quantization == nil {
			return fmt.Errorf("%w: uint8 tensor %d (%s) has no quantization parameters", ErrInvalidModel, i, t.Name)
		}
	}

	refs := append(append([]int{}, m.Inputs...), m.Outputs...)
	for _, op := range m.Operators {
		refs = append(refs, op.Inputs...)
		refs = append(refs, op.Outputs...)
	}
	for _, idx := range refs {
		if idx == -1 {
			continue
		}
		if idx < 0 || idx >= len(m.Tensors) {
			return fmt.Errorf("%w: tensor index %d out of range", ErrInvalidModel, idx)
		}
	}

	return nil
}
