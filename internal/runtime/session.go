// Package runtime wraps github.com/yalue/onnxruntime_go behind a small
// interface (Session), so the rest of the service depends only on the
// Signature/Run contract the orchestrator and session cache need.
package runtime

import (
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/oriys/infer/internal/apierrors"
	"github.com/oriys/infer/internal/domain"
)

// Options is the single, shared, immutable set of runtime options applied
// to every session constructed by the cache.
type Options struct {
	IntraOpThreads int
	InterOpThreads int
	GraphOptLevel  ort.GraphOptimizationLevel
}

// Initialize brings up the ONNX Runtime environment. libraryPath
// overrides the shared library location when non-empty; it must be set
// before the environment comes up. Call once at startup, before any
// NewSession.
func Initialize(libraryPath string) error {
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return apierrors.Wrap(apierrors.ModelLoadFailed, "initialize onnxruntime environment", err)
	}
	return nil
}

// Destroy tears the environment down again; the inverse of Initialize.
func Destroy() error {
	return ort.DestroyEnvironment()
}

// ParseGraphOptLevel maps a config string to the runtime's enum, defaulting
// to the most aggressive tier for any unrecognized value.
func ParseGraphOptLevel(s string) ort.GraphOptimizationLevel {
	switch s {
	case "disable":
		return ort.GraphOptimizationLevelDisableAll
	case "basic":
		return ort.GraphOptimizationLevelEnableBasic
	case "extended":
		return ort.GraphOptimizationLevelEnableExtended
	default:
		return ort.GraphOptimizationLevelEnableAll
	}
}

// Session is the capability the orchestrator and session cache depend on.
// A concrete onnxSession and a fake test double both satisfy it.
type Session interface {
	Signature() domain.Signature
	Run(input domain.Tensor) (domain.Tensor, error)
	Close() error
}

type onnxSession struct {
	mu      sync.Mutex // native sessions are not assumed safe for concurrent Run
	session *ort.DynamicAdvancedSession
	sig     domain.Signature
}

// NewSession constructs a session from raw ONNX model bytes using the
// shared Options. Construction failure is the caller's cue to return
// ModelLoadFailed, never InternalInferenceError.
func NewSession(modelBytes []byte, opts Options) (Session, error) {
	sessOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ModelLoadFailed, "create session options", err)
	}
	defer sessOpts.Destroy()

	if opts.IntraOpThreads > 0 {
		_ = sessOpts.SetIntraOpNumThreads(opts.IntraOpThreads)
	}
	if opts.InterOpThreads > 0 {
		_ = sessOpts.SetInterOpNumThreads(opts.InterOpThreads)
	}
	_ = sessOpts.SetGraphOptimizationLevel(opts.GraphOptLevel)

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(modelBytes)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ModelLoadFailed, "read model input/output info", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, apierrors.New(apierrors.ModelLoadFailed, "model declares no input or no output")
	}

	sig := signatureFromInfo(inputs[0], outputs[0])

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(
		modelBytes,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		sessOpts,
	)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ModelLoadFailed, "construct inference session", err)
	}

	return &onnxSession{session: session, sig: sig}, nil
}

func signatureFromInfo(in, out ort.InputOutputInfo) domain.Signature {
	shape := make(domain.Shape, len(in.Dimensions))
	for i, d := range in.Dimensions {
		if d <= 0 {
			shape[i] = domain.WildcardDim()
		} else {
			shape[i] = domain.FixedDim(d)
		}
	}

	elemType := domain.Unsupported
	switch in.DataType {
	case ort.TensorElementDataTypeFloat:
		elemType = domain.F32
	case ort.TensorElementDataTypeDouble:
		elemType = domain.F64
	case ort.TensorElementDataTypeInt32:
		elemType = domain.I32
	case ort.TensorElementDataTypeInt64:
		elemType = domain.I64
	case ort.TensorElementDataTypeBool:
		elemType = domain.Bool
	}

	return domain.Signature{
		InputName:        in.Name,
		InputElementType: elemType,
		InputShape:       shape,
		OutputName:       out.Name,
	}
}

func (s *onnxSession) Signature() domain.Signature {
	return s.sig
}

func (s *onnxSession) Run(input domain.Tensor) (domain.Tensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inTensor, err := toOrtTensor(input)
	if err != nil {
		return domain.Tensor{}, err
	}
	defer inTensor.Destroy()

	// A nil output slot asks the runtime to allocate the output tensor
	// itself, since this service does not know the output shape ahead of
	// execution (only the declared output name).
	outputs := []ort.Value{nil}
	if err := s.session.Run([]ort.Value{inTensor}, outputs); err != nil {
		return domain.Tensor{}, apierrors.Wrap(apierrors.InternalInferenceError, "session execution failed", err)
	}
	defer outputs[0].Destroy()

	return fromOrtTensor(outputs[0])
}

func (s *onnxSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Destroy()
}

func toOrtTensor(t domain.Tensor) (ort.Value, error) {
	switch data := t.Data.(type) {
	case []float32:
		v, err := ort.NewTensor(ort.NewShape(t.Dims...), data)
		return v, wrapCreate(err)
	case []float64:
		v, err := ort.NewTensor(ort.NewShape(t.Dims...), data)
		return v, wrapCreate(err)
	case []int32:
		v, err := ort.NewTensor(ort.NewShape(t.Dims...), data)
		return v, wrapCreate(err)
	case []int64:
		v, err := ort.NewTensor(ort.NewShape(t.Dims...), data)
		return v, wrapCreate(err)
	case []bool:
		u8 := make([]uint8, len(data))
		for i, b := range data {
			if b {
				u8[i] = 1
			}
		}
		v, err := ort.NewTensor(ort.NewShape(t.Dims...), u8)
		return v, wrapCreate(err)
	default:
		return nil, apierrors.New(apierrors.InternalInferenceError, "unsupported decoded tensor type")
	}
}

func wrapCreate(err error) error {
	if err == nil {
		return nil
	}
	return apierrors.Wrap(apierrors.InternalInferenceError, "build input tensor", err)
}

// fromOrtTensor converts a runtime-allocated output Value back into a
// domain.Tensor, copying its data so it outlives the Value's Destroy.
func fromOrtTensor(v ort.Value) (domain.Tensor, error) {
	tensor, ok := v.(*ort.Tensor[float32])
	if ok {
		return copyOut(tensor.GetShape(), tensor.GetData())
	}

	// Every other supported dtype is dispatched on the Value's concrete
	// Go tensor type, the same way the float32 fast path above does.
	switch t := v.(type) {
	case *ort.Tensor[float64]:
		return copyOut(t.GetShape(), t.GetData())
	case *ort.Tensor[int32]:
		return copyOut(t.GetShape(), t.GetData())
	case *ort.Tensor[int64]:
		return copyOut(t.GetShape(), t.GetData())
	case *ort.Tensor[uint8]:
		data := t.GetData()
		out := make([]bool, len(data))
		for i, b := range data {
			out[i] = b != 0
		}
		return domain.Tensor{Dims: shapeToDims(t.GetShape()), Data: out}, nil
	default:
		return domain.Tensor{}, apierrors.New(apierrors.InternalInferenceError, "runtime produced an unrecognized output tensor type")
	}
}

func copyOut[T float32 | float64 | int32 | int64](shape ort.Shape, data []T) (domain.Tensor, error) {
	out := make([]T, len(data))
	copy(out, data)
	return domain.Tensor{Dims: shapeToDims(shape), Data: out}, nil
}

func shapeToDims(shape ort.Shape) []int64 {
	dims := make([]int64, len(shape))
	copy(dims, shape)
	return dims
}
