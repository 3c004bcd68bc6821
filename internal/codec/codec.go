// Package codec implements the binary and JSON tensor codecs: decoding a
// request tensor into a domain.Tensor, encoding a domain.Tensor back to
// wire bytes, and checking shape compatibility against a model's declared
// input shape.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/oriys/infer/internal/apierrors"
	"github.com/oriys/infer/internal/domain"
)

// DecodeBinary reshapes content into a row-major tensor of dtype dtype,
// per dims. content must be exactly prod(dims) * elemSize bytes.
func DecodeBinary(dims []int64, content []byte, dtype domain.ElementType) (domain.Tensor, error) {
	if len(dims) == 0 {
		return domain.Tensor{}, apierrors.New(apierrors.InvalidInput, "dims must be non-empty")
	}

	n, err := product(dims)
	if err != nil {
		return domain.Tensor{}, err
	}

	elemSize := dtype.ElementSize()
	if elemSize == 0 {
		return domain.Tensor{}, apierrors.New(apierrors.InvalidInput, fmt.Sprintf("unsupported dtype %s", dtype))
	}

	expected := n * int64(elemSize)
	if int64(len(content)) != expected {
		return domain.Tensor{}, apierrors.New(apierrors.InvalidInput,
			fmt.Sprintf("content length mismatch: expected %d bytes, got %d", expected, len(content)))
	}

	data, err := unpack(content, int(n), dtype)
	if err != nil {
		return domain.Tensor{}, err
	}

	return domain.Tensor{Dims: dims, Data: data}, nil
}

func unpack(content []byte, n int, dtype domain.ElementType) (any, error) {
	switch dtype {
	case domain.F32:
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint32(content[i*4:])
			out[i] = math.Float32frombits(bits)
		}
		return out, nil
	case domain.F64:
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint64(content[i*8:])
			out[i] = math.Float64frombits(bits)
		}
		return out, nil
	case domain.I32:
		out := make([]int32, n)
		for i := 0; i < n; i++ {
			out[i] = int32(binary.LittleEndian.Uint32(content[i*4:]))
		}
		return out, nil
	case domain.I64:
		out := make([]int64, n)
		for i := 0; i < n; i++ {
			out[i] = int64(binary.LittleEndian.Uint64(content[i*8:]))
		}
		return out, nil
	case domain.Bool:
		out := make([]bool, n)
		for i := 0; i < n; i++ {
			out[i] = content[i] != 0
		}
		return out, nil
	default:
		return nil, apierrors.New(apierrors.InvalidInput, fmt.Sprintf("unsupported dtype %s", dtype))
	}
}

// DecodeJSON walks a nested JSON list, infers a rectangular shape, and
// casts every leaf to dtype.
func DecodeJSON(raw json.RawMessage, dtype domain.ElementType) (domain.Tensor, error) {
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return domain.Tensor{}, apierrors.Wrap(apierrors.InvalidInput, "malformed input JSON", err)
	}

	dims, err := inferShape(tree)
	if err != nil {
		return domain.Tensor{}, err
	}
	if len(dims) == 0 {
		return domain.Tensor{}, apierrors.New(apierrors.InvalidInput, "dims must be non-empty")
	}

	n, err := product(dims)
	if err != nil {
		return domain.Tensor{}, err
	}

	leaves := make([]any, 0, n)
	if err := collectLeaves(tree, dims, &leaves); err != nil {
		return domain.Tensor{}, err
	}
	if int64(len(leaves)) != n {
		return domain.Tensor{}, apierrors.New(apierrors.InvalidInput, "ragged input: leaf count does not match inferred shape")
	}

	data, err := castLeaves(leaves, dtype)
	if err != nil {
		return domain.Tensor{}, err
	}

	return domain.Tensor{Dims: dims, Data: data}, nil
}

func inferShape(tree any) ([]int64, error) {
	var dims []int64
	cur := tree
	for {
		list, ok := cur.([]any)
		if !ok {
			return dims, nil
		}
		dims = append(dims, int64(len(list)))
		if len(list) == 0 {
			return dims, nil
		}
		cur = list[0]
	}
}

func collectLeaves(tree any, dims []int64, out *[]any) error {
	if len(dims) == 0 {
		*out = append(*out, tree)
		return nil
	}
	list, ok := tree.([]any)
	if !ok {
		return apierrors.New(apierrors.InvalidInput, "ragged input: expected nested list")
	}
	if int64(len(list)) != dims[0] {
		return apierrors.New(apierrors.InvalidInput, "ragged input: inconsistent list length")
	}
	for _, item := range list {
		if err := collectLeaves(item, dims[1:], out); err != nil {
			return err
		}
	}
	return nil
}

func castLeaves(leaves []any, dtype domain.ElementType) (any, error) {
	switch dtype {
	case domain.F32:
		out := make([]float32, len(leaves))
		for i, v := range leaves {
			f, err := toFloat(v)
			if err != nil {
				return nil, err
			}
			out[i] = float32(f)
		}
		return out, nil
	case domain.F64:
		out := make([]float64, len(leaves))
		for i, v := range leaves {
			f, err := toFloat(v)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	case domain.I32:
		out := make([]int32, len(leaves))
		for i, v := range leaves {
			n, err := toInt(v)
			if err != nil {
				return nil, err
			}
			if n < math.MinInt32 || n > math.MaxInt32 {
				return nil, apierrors.New(apierrors.InvalidInput, "value out of range for int32")
			}
			out[i] = int32(n)
		}
		return out, nil
	case domain.I64:
		out := make([]int64, len(leaves))
		for i, v := range leaves {
			n, err := toInt(v)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case domain.Bool:
		out := make([]bool, len(leaves))
		for i, v := range leaves {
			b, ok := v.(bool)
			if !ok {
				return nil, apierrors.New(apierrors.InvalidInput, "value is not a boolean")
			}
			out[i] = b
		}
		return out, nil
	default:
		return nil, apierrors.New(apierrors.InvalidInput, fmt.Sprintf("unsupported dtype %s", dtype))
	}
}

func toFloat(v any) (float64, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, apierrors.New(apierrors.InvalidInput, "value is not numeric")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, apierrors.New(apierrors.InvalidInput, "value is not finite")
	}
	return f, nil
}

func toInt(v any) (int64, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, apierrors.New(apierrors.InvalidInput, "value is not an integer")
	}
	return int64(f), nil
}

// Encode serializes t to little-endian row-major bytes plus its dims and
// dtype tag.
func Encode(t domain.Tensor) (dims []int64, content []byte, dtype domain.ElementType, err error) {
	dtype = t.ElementType()
	if dtype == domain.Unsupported {
		return nil, nil, dtype, apierrors.New(apierrors.InternalInferenceError, "runtime produced an unsupported output dtype")
	}

	switch data := t.Data.(type) {
	case []float32:
		content = make([]byte, len(data)*4)
		for i, v := range data {
			binary.LittleEndian.PutUint32(content[i*4:], math.Float32bits(v))
		}
	case []float64:
		content = make([]byte, len(data)*8)
		for i, v := range data {
			binary.LittleEndian.PutUint64(content[i*8:], math.Float64bits(v))
		}
	case []int32:
		content = make([]byte, len(data)*4)
		for i, v := range data {
			binary.LittleEndian.PutUint32(content[i*4:], uint32(v))
		}
	case []int64:
		content = make([]byte, len(data)*8)
		for i, v := range data {
			binary.LittleEndian.PutUint64(content[i*8:], uint64(v))
		}
	case []bool:
		content = make([]byte, len(data))
		for i, v := range data {
			if v {
				content[i] = 1
			}
		}
	}

	return t.Dims, content, dtype, nil
}

// NestJSON rebuilds a nested JSON array from dims/content/dtype, the
// reverse of DecodeJSON's flattening walk.
func NestJSON(dims []int64, content []byte, dtype domain.ElementType) (json.RawMessage, error) {
	n, err := product(dims)
	if err != nil {
		return nil, err
	}
	leaves, err := leavesFromBytes(content, int(n), dtype)
	if err != nil {
		return nil, err
	}
	tree, _ := nest(leaves, dims)
	out, err := json.Marshal(tree)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.InternalInferenceError, "marshal nested output", err)
	}
	return out, nil
}

func leavesFromBytes(content []byte, n int, dtype domain.ElementType) ([]any, error) {
	data, err := unpack(content, n, dtype)
	if err != nil {
		return nil, err
	}
	leaves := make([]any, n)
	switch d := data.(type) {
	case []float32:
		for i, v := range d {
			leaves[i] = v
		}
	case []float64:
		for i, v := range d {
			leaves[i] = v
		}
	case []int32:
		for i, v := range d {
			leaves[i] = v
		}
	case []int64:
		for i, v := range d {
			leaves[i] = v
		}
	case []bool:
		for i, v := range d {
			leaves[i] = v
		}
	}
	return leaves, nil
}

// nest consumes leaves in order, wrapping them into dims-shaped nested
// slices, and returns the remaining unconsumed leaves.
func nest(leaves []any, dims []int64) (any, []any) {
	if len(dims) == 0 {
		return leaves[0], leaves[1:]
	}
	list := make([]any, dims[0])
	rest := leaves
	for i := range list {
		var v any
		v, rest = nest(rest, dims[1:])
		list[i] = v
	}
	return list, rest
}

// ShapeCompatible is a convenience wrapper over domain.Shape.Compatible.
func ShapeCompatible(expected domain.Shape, actual []int64) bool {
	return expected.Compatible(actual)
}

func product(dims []int64) (int64, error) {
	var n int64 = 1
	for _, d := range dims {
		if d <= 0 {
			return 0, apierrors.New(apierrors.InvalidInput, "dims must be positive integers")
		}
		n *= d
	}
	return n, nil
}
