package rpcapi

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// DataType is the tensor element type enum carried on the wire.
type DataType int32

const (
	DataTypeUnspecified DataType = 0
	DataTypeFloat32     DataType = 1
	DataTypeFloat64     DataType = 2
	DataTypeInt32       DataType = 3
	DataTypeInt64       DataType = 4
	DataTypeBool        DataType = 5
	DataTypeString      DataType = 6
)

// RequestTensor is the input tensor message: optional name, row-major
// little-endian content, and an optional declared dtype.
type RequestTensor struct {
	Name          string
	Dims          []int64
	TensorContent []byte
	DataType      DataType
}

// PredictRequest is the unary Predict call's request message.
type PredictRequest struct {
	ModelName string
	Input     *RequestTensor
}

// ResponseTensor is one output tensor in a PredictReply.
type ResponseTensor struct {
	Name          string
	Dims          []int64
	TensorContent []byte
	DataType      DataType
}

// PredictReply carries the outputs of a successful Predict; always
// exactly one tensor on success.
type PredictReply struct {
	Outputs []*ResponseTensor
}

// Field numbers, assigned in declaration order.
const (
	fieldPredictRequestModelName = 1
	fieldPredictRequestInput     = 2

	fieldTensorName          = 1
	fieldTensorDims          = 2
	fieldTensorTensorContent = 3
	fieldTensorDataType      = 4

	fieldPredictReplyOutputs = 1
)

// Marshal encodes m in protobuf wire format (varint/length-delimited
// fields only, since every field here is a scalar, bytes, or nested
// message — no need for a generated descriptor).
func (m *PredictRequest) Marshal() ([]byte, error) {
	var b []byte
	if m.ModelName != "" {
		b = appendString(b, fieldPredictRequestModelName, m.ModelName)
	}
	if m.Input != nil {
		inner, err := m.Input.Marshal()
		if err != nil {
			return nil, err
		}
		b = appendBytes(b, fieldPredictRequestInput, inner)
	}
	return b, nil
}

// Unmarshal decodes b into m, overwriting its fields.
func (m *PredictRequest) Unmarshal(b []byte) error {
	*m = PredictRequest{}
	return walkFields(b, func(num int32, typ protowire.Type, v []byte, scalar uint64) error {
		switch num {
		case fieldPredictRequestModelName:
			m.ModelName = string(v)
		case fieldPredictRequestInput:
			t := &RequestTensor{}
			if err := t.Unmarshal(v); err != nil {
				return err
			}
			m.Input = t
		}
		return nil
	})
}

func (m *RequestTensor) Marshal() ([]byte, error) {
	var b []byte
	if m.Name != "" {
		b = appendString(b, fieldTensorName, m.Name)
	}
	b = appendPackedInt64s(b, fieldTensorDims, m.Dims)
	if len(m.TensorContent) > 0 {
		b = appendBytes(b, fieldTensorTensorContent, m.TensorContent)
	}
	if m.DataType != DataTypeUnspecified {
		b = appendVarint(b, fieldTensorDataType, uint64(m.DataType))
	}
	return b, nil
}

func (m *RequestTensor) Unmarshal(b []byte) error {
	*m = RequestTensor{}
	return walkFields(b, func(num int32, typ protowire.Type, v []byte, scalar uint64) error {
		switch num {
		case fieldTensorName:
			m.Name = string(v)
		case fieldTensorDims:
			dims, err := consumeInt64s(typ, v, scalar, m.Dims)
			if err != nil {
				return err
			}
			m.Dims = dims
		case fieldTensorTensorContent:
			m.TensorContent = append([]byte(nil), v...)
		case fieldTensorDataType:
			m.DataType = DataType(int32(scalar))
		}
		return nil
	})
}

func (m *ResponseTensor) Marshal() ([]byte, error) {
	var b []byte
	if m.Name != "" {
		b = appendString(b, fieldTensorName, m.Name)
	}
	b = appendPackedInt64s(b, fieldTensorDims, m.Dims)
	if len(m.TensorContent) > 0 {
		b = appendBytes(b, fieldTensorTensorContent, m.TensorContent)
	}
	if m.DataType != DataTypeUnspecified {
		b = appendVarint(b, fieldTensorDataType, uint64(m.DataType))
	}
	return b, nil
}

func (m *ResponseTensor) Unmarshal(b []byte) error {
	*m = ResponseTensor{}
	return walkFields(b, func(num int32, typ protowire.Type, v []byte, scalar uint64) error {
		switch num {
		case fieldTensorName:
			m.Name = string(v)
		case fieldTensorDims:
			dims, err := consumeInt64s(typ, v, scalar, m.Dims)
			if err != nil {
				return err
			}
			m.Dims = dims
		case fieldTensorTensorContent:
			m.TensorContent = append([]byte(nil), v...)
		case fieldTensorDataType:
			m.DataType = DataType(int32(scalar))
		}
		return nil
	})
}

func (m *PredictReply) Marshal() ([]byte, error) {
	var b []byte
	for _, out := range m.Outputs {
		inner, err := out.Marshal()
		if err != nil {
			return nil, err
		}
		b = appendBytes(b, fieldPredictReplyOutputs, inner)
	}
	return b, nil
}

func (m *PredictReply) Unmarshal(b []byte) error {
	*m = PredictReply{}
	return walkFields(b, func(num int32, typ protowire.Type, v []byte, scalar uint64) error {
		if num == fieldPredictReplyOutputs {
			t := &ResponseTensor{}
			if err := t.Unmarshal(v); err != nil {
				return err
			}
			m.Outputs = append(m.Outputs, t)
		}
		return nil
	})
}

func appendVarint(b []byte, field int32, v uint64) []byte {
	b = protowire.AppendTag(b, protowire.Number(field), protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// appendPackedInt64s emits vals as one packed length-delimited field,
// proto3's default encoding for repeated int64.
func appendPackedInt64s(b []byte, field int32, vals []int64) []byte {
	if len(vals) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	return appendBytes(b, field, packed)
}

// consumeInt64s accepts a repeated int64 field in either encoding: one
// packed length-delimited payload, or a single unpacked varint element.
func consumeInt64s(typ protowire.Type, v []byte, scalar uint64, dst []int64) ([]int64, error) {
	if typ != protowire.BytesType {
		return append(dst, int64(scalar)), nil
	}
	for len(v) > 0 {
		val, n := protowire.ConsumeVarint(v)
		if n < 0 {
			return nil, fmt.Errorf("rpcapi: malformed packed varint element")
		}
		v = v[n:]
		dst = append(dst, int64(val))
	}
	return dst, nil
}

func appendString(b []byte, field int32, s string) []byte {
	b = protowire.AppendTag(b, protowire.Number(field), protowire.BytesType)
	return protowire.AppendBytes(b, []byte(s))
}

func appendBytes(b []byte, field int32, data []byte) []byte {
	b = protowire.AppendTag(b, protowire.Number(field), protowire.BytesType)
	return protowire.AppendBytes(b, data)
}

// walkFields iterates every top-level field of a wire-format message,
// invoking fn with the decoded payload: v holds the bytes of a
// length-delimited field, scalar holds the value of a varint field.
func walkFields(b []byte, fn func(num int32, typ protowire.Type, v []byte, scalar uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("rpcapi: malformed field tag")
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("rpcapi: malformed varint field")
			}
			b = b[n:]
			if err := fn(int32(num), typ, nil, val); err != nil {
				return err
			}
		case protowire.BytesType:
			val, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("rpcapi: malformed length-delimited field")
			}
			b = b[n:]
			if err := fn(int32(num), typ, val, 0); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(protowire.Number(num), typ, b)
			if n < 0 {
				return fmt.Errorf("rpcapi: unsupported wire type %v", typ)
			}
			b = b[n:]
		}
	}
	return nil
}
