package rpcapi

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype the inference service's hand-written
// messages travel under ("application/grpc+infer.proto" on the wire).
// Clients select it per call with grpc.CallContentSubtype(CodecName);
// see CallOption.
const CodecName = "infer.proto"

// wireMessage is satisfied by every message type in wire.go.
type wireMessage interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

// protoCodec dispatches to the hand-written Marshal/Unmarshal methods in
// wire.go, so grpc-go's transport works against these structs without a
// protoreflect descriptor. It registers under its own name, never under
// "proto": the health and reflection services on the same endpoint
// serialize generated protobuf messages through the built-in default
// codec, and overwriting that registration would break them.
type protoCodec struct{}

func (protoCodec) Name() string { return CodecName }

func (protoCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("rpcapi: codec: %T does not implement wireMessage", v)
	}
	return m.Marshal()
}

func (protoCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("rpcapi: codec: %T does not implement wireMessage", v)
	}
	return m.Unmarshal(data)
}

// CallOption selects this package's codec for an outgoing Predict call.
func CallOption() grpc.CallOption {
	return grpc.CallContentSubtype(CodecName)
}

func init() {
	encoding.RegisterCodec(protoCodec{})
}
