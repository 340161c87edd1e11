package ml

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scaleModel: uint8[4] -> dequantize -> mul(2) -> add(bias, relu) -> fc(identity) -> reshape -> quantize -> uint8[4]
func scaleModel() *Model {
	q := &QuantizationParams{Scale: 0.5, ZeroPoint: 10}
	return &Model{
		Version: SchemaVersion,
		Tensors: []TensorSpec{
			{Name: "input", Type: TypeUint8, Shape: []int{1, 4}, Quantization: q},
			{Name: "deq", Type: TypeFloat32, Shape: []int{1, 4}},
			{Name: "two", Type: TypeFloat32, Shape: []int{1}, Data: []float64{2}},
			{Name: "doubled", Type: TypeFloat32, Shape: []int{1, 4}},
			{Name: "offset", Type: TypeFloat32, Shape: []int{4}, Data: []float64{-1, -1, -100, 0}},
			{Name: "shifted", Type: TypeFloat32, Shape: []int{1, 4}},
			{Name: "identity", Type: TypeFloat32, Shape: []int{4, 4}, Data: []float64{
				1, 0, 0, 0,
				0, 1, 0, 0,
				0, 0, 1, 0,
				0, 0, 0, 1,
			}},
			{Name: "dense", Type: TypeFloat32, Shape: []int{1, 4}},
			{Name: "flat", Type: TypeFloat32, Shape: []int{4}},
			{Name: "output", Type: TypeUint8, Shape: []int{4}, Quantization: q},
		},
		Operators: []Operator{
			{Op: OpDequantize, Inputs: []int{0}, Outputs: []int{1}},
			{Op: OpMul, Inputs: []int{1, 2}, Outputs: []int{3}},
			{Op: OpAdd, Inputs: []int{3, 4}, Outputs: []int{5}, Activation: ActivationRelu},
			{Op: OpFullyConnected, Inputs: []int{5, 6, -1}, Outputs: []int{7}},
			{Op: OpReshape, Inputs: []int{7}, Outputs: []int{8}},
			{Op: OpQuantize, Inputs: []int{8}, Outputs: []int{9}},
		},
		Inputs:  []int{0},
		Outputs: []int{9},
	}
}

func fullResolver(t *testing.T) *OpResolver {
	t.Helper()
	r := NewOpResolver(6)
	require.NoError(t, r.AddFullyConnected())
	require.NoError(t, r.AddReshape())
	require.NoError(t, r.AddQuantize())
	require.NoError(t, r.AddDequantize())
	require.NoError(t, r.AddMul())
	require.NoError(t, r.AddAdd())
	return r
}

func TestGetModel(t *testing.T) {
	data, err := json.Marshal(scaleModel())
	require.NoError(t, err)

	model, err := GetModel(data)
	require.NoError(t, err)
	assert.Len(t, model.Operators, 6)

	old := scaleModel()
	old.Version = 2
	data, err = json.Marshal(old)
	require.NoError(t, err)
	_, err = GetModel(data)
	assert.ErrorIs(t, err, ErrSchemaVersion)

	_, err = GetModel([]byte("not a model"))
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestInterpreterInvoke(t *testing.T) {
	it := NewInterpreter(scaleModel(), fullResolver(t), NewArena(1024))
	require.NoError(t, it.AllocateTensors())

	in := it.Input(0)
	require.NotNil(t, in)
	assert.Equal(t, TypeUint8, in.Type)

	// real = (q-10)*0.5 ; doubled = q-10 ; shifted = relu(doubled + offset)
	copy(in.Uint8(), []uint8{20, 30, 40, 250})
	require.NoError(t, it.Invoke())

	// 20 -> 10-1=9 -> q=28 ; 30 -> 19 -> 48 ; 40 -> relu(-70)=0 -> 10 ; 250 -> 240 -> 490 -> 255
	assert.Equal(t, []uint8{28, 48, 10, 255}, it.Output(0).Uint8())
}

func TestAllocateTensorsArenaExhausted(t *testing.T) {
	it := NewInterpreter(scaleModel(), fullResolver(t), NewArena(64))
	err := it.AllocateTensors()
	assert.ErrorIs(t, err, ErrArenaExhausted)
	assert.Nil(t, it.Input(0))
	assert.ErrorIs(t, it.Invoke(), ErrNotAllocated)
}

func TestAllocateTensorsUnsupportedOp(t *testing.T) {
	r := NewOpResolver(6)
	require.NoError(t, r.AddQuantize())
	require.NoError(t, r.AddDequantize())

	it := NewInterpreter(scaleModel(), r, NewArena(1024))
	assert.ErrorIs(t, it.AllocateTensors(), ErrUnsupportedOp)
}

func TestAllocateTensorsShapeMismatch(t *testing.T) {
	m := scaleModel()
	m.Tensors[6].Shape = []int{4, 3}
	m.Tensors[6].Data = make([]float64, 12)

	it := NewInterpreter(m, fullResolver(t), NewArena(1024))
	assert.ErrorIs(t, it.AllocateTensors(), ErrInvalidModel)
}

func TestArenaUsage(t *testing.T) {
	it := NewInterpreter(scaleModel(), fullResolver(t), NewArena(4096))
	require.NoError(t, it.AllocateTensors())

	// two uint8[4] and five float[4] activations, each 16-byte aligned
	assert.Equal(t, 16+5*32+4, it.ArenaUsed())
}

func TestOpResolverCapacity(t *testing.T) {
	r := NewOpResolver(1)
	require.NoError(t, r.AddAdd())
	require.NoError(t, r.AddAdd())
	assert.Error(t, r.AddMul())
	assert.True(t, r.Registered(OpAdd))
	assert.False(t, r.Registered(OpMul))
	assert.Equal(t, 1, r.Len())
}
