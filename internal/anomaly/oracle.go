package anomaly

import (
	_ "embed"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"iot-anomaly/internal/ml"
)

// Build-time calibration constants. They must match the embedded model and
// the offline threshold computation; none of them is read from configuration.
const (
	WindowSize       = 10
	InputDim         = WindowSize * 2
	TensorArenaSize  = 90 * 1024
	DefaultThreshold = float32(38.759529)
)

//go:embed model/ae_model.json
var aeModelData []byte

// DefaultModel returns the serialized autoencoder compiled into the binary
func DefaultModel() []byte {
	return aeModelData
}

// Oracle is the forward-inference capability the detector depends on.
// Infer maps a quantized window to its quantized reconstruction; both
// slices have the same length and are owned by the caller.
type Oracle interface {
	Init() error
	Infer(dst, src []uint8) error
	InputParams() Params
	OutputParams() Params
	InputLen() int
}

// ModelOracle runs a serialized autoencoder on the ml interpreter,
// inside a fixed arena owned by this oracle alone.
type ModelOracle struct {
	modelData []byte
	arenaSize int
	dim       int

	interpreter *ml.Interpreter
	input       *ml.Tensor
	output      *ml.Tensor
	inParams    Params
	outParams   Params
}

// OracleOption customizes a ModelOracle
type OracleOption func(*ModelOracle)

// WithArenaSize overrides the tensor arena size in bytes
func WithArenaSize(size int) OracleOption {
	return func(o *ModelOracle) {
		o.arenaSize = size
	}
}

// WithInputDim overrides the expected flattened window length
func WithInputDim(dim int) OracleOption {
	return func(o *ModelOracle) {
		o.dim = dim
	}
}

// NewModelOracle creates an oracle for a serialized model. Nothing is loaded
// until Init.
func NewModelOracle(modelData []byte, opts ...OracleOption) *ModelOracle {
	o := &ModelOracle{
		modelData: modelData,
		arenaSize: TensorArenaSize,
		dim:       InputDim,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Init loads the model, registers the operators the autoencoder uses and
// allocates its tensors. Calling it again after success is a no-op.
func (o *ModelOracle) Init() error {
	if o.interpreter != nil {
		return nil
	}

	model, err := ml.GetModel(o.modelData)
	if err != nil {
		return configError("model", err)
	}

	resolver := ml.NewOpResolver(10)
	for _, add := range []func() error{
		resolver.AddFullyConnected,
		resolver.AddReshape,
		resolver.AddQuantize,
		resolver.AddDequantize,
		resolver.AddMul,
		resolver.AddAdd,
	} {
		if err := add(); err != nil {
			return configError("resolver", err)
		}
	}

	interpreter := ml.NewInterpreter(model, resolver, ml.NewArena(o.arenaSize))
	if err := interpreter.AllocateTensors(); err != nil {
		if errors.Is(err, ml.ErrArenaExhausted) {
			err = fmt.Errorf("%w (increase arena or reduce model)", err)
		}
		return configError("allocate", err)
	}

	input, output := interpreter.Input(0), interpreter.Output(0)
	if input == nil || output == nil {
		return configError("model", fmt.Errorf("model has no input or output tensor"))
	}
	if input.Type != ml.TypeUint8 || output.Type != ml.TypeUint8 {
		return configError("model", fmt.Errorf("input/output tensors are %s/%s, want uint8", input.Type, output.Type))
	}
	if input.Len() != o.dim || output.Len() != o.dim {
		return configError("model", fmt.Errorf("input/output have %d/%d elements, want %d", input.Len(), output.Len(), o.dim))
	}

	inParams := Params{Scale: input.Params.Scale, ZeroPoint: input.Params.ZeroPoint}
	outParams := Params{Scale: output.Params.Scale, ZeroPoint: output.Params.ZeroPoint}
	if err := inParams.Validate(); err != nil {
		return err
	}
	if err := outParams.Validate(); err != nil {
		return err
	}

	o.interpreter = interpreter
	o.input = input
	o.output = output
	o.inParams = inParams
	o.outParams = outParams

	log.WithFields(log.Fields{
		"arena_used":  interpreter.ArenaUsed(),
		"arena_size":  o.arenaSize,
		"input":       fmt.Sprintf("scale=%g zp=%d", inParams.Scale, inParams.ZeroPoint),
		"output":      fmt.Sprintf("scale=%g zp=%d", outParams.Scale, outParams.ZeroPoint),
		"description": model.Description,
	}).Info("Oracle: model initialized")
	return nil
}

// Infer runs one forward pass
func (o *ModelOracle) Infer(dst, src []uint8) error {
	if o.interpreter == nil {
		return ErrNotReady
	}
	if len(src) != o.dim || len(dst) != o.dim {
		return &InferenceError{Err: fmt.Errorf("got %d/%d elements, want %d", len(src), len(dst), o.dim)}
	}

	copy(o.input.Uint8(), src)
	if err := o.interpreter.Invoke(); err != nil {
		return &InferenceError{Err: err}
	}
	copy(dst, o.output.Uint8())
	return nil
}

// InputParams returns the input tensor quantization
func (o *ModelOracle) InputParams() Params {
	return o.inParams
}

// InputLen returns the number of codes Infer consumes and produces
func (o *ModelOracle) InputLen() int {
	return o.dim
}

// OutputParams returns the output tensor quantization
func (o *ModelOracle) OutputParams() Params {
	return o.outParams
}
