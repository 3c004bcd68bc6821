package rpcapi

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/oriys/infer/internal/domain"
	"github.com/oriys/infer/internal/httpapi"
	"github.com/oriys/infer/internal/orchestrator"
	"github.com/oriys/infer/internal/runtime"
	"github.com/oriys/infer/internal/sessioncache"
)

type parityResolver struct {
	blobID domain.BlobID
}

func (r *parityResolver) Resolve(ctx context.Context, name string) (domain.BlobID, error) {
	return r.blobID, nil
}
func (r *parityResolver) Ping(ctx context.Context) error { return nil }
func (r *parityResolver) Close() error                   { return nil }

// paritySession applies the logistic function elementwise, standing in
// for a real model so both transports can be compared against the same
// computation.
type paritySession struct{}

func (paritySession) Signature() domain.Signature {
	return domain.Signature{
		InputName:        "input",
		InputElementType: domain.F32,
		InputShape:       domain.Shape{domain.WildcardDim(), domain.FixedDim(4), domain.FixedDim(5)},
		OutputName:       "output",
	}
}

func (paritySession) Run(in domain.Tensor) (domain.Tensor, error) {
	data := in.Data.([]float32)
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(1 / (1 + math.Exp(-float64(v))))
	}
	return domain.Tensor{Dims: in.Dims, Data: out}, nil
}

func (paritySession) Close() error { return nil }

func parityOrchestrator() *orchestrator.Orchestrator {
	loader := func(ctx context.Context, id domain.BlobID) (runtime.Session, error) {
		return paritySession{}, nil
	}
	return &orchestrator.Orchestrator{
		Resolver: &parityResolver{blobID: domain.NewBlobID(uuid.New())},
		Cache:    sessioncache.New(0, 0, loader, nil),
	}
}

// TestTransportParity runs one input through the JSON transport and the
// binary RPC transport against the same orchestrator and asserts the
// outputs agree elementwise.
func TestTransportParity(t *testing.T) {
	orch := parityOrchestrator()

	values := make([]float32, 3*4*5)
	for i := range values {
		values[i] = float32(i)/10 - 3
	}

	// JSON path.
	nested := make([][][]float32, 3)
	idx := 0
	for i := range nested {
		nested[i] = make([][]float32, 4)
		for j := range nested[i] {
			nested[i][j] = values[idx : idx+5]
			idx += 5
		}
	}
	body, err := json.Marshal(map[string]any{"input": nested})
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}

	h := &httpapi.Handler{Orchestrator: orch, Resolver: &parityResolver{}}
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/infer/sigmoid", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("json transport: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Results [][][][]float32 `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode json response: %v", err)
	}
	if len(resp.Results) != 1 || len(resp.Results[0]) != 3 {
		t.Fatalf("expected one [3 4 5] result, got %d results", len(resp.Results))
	}
	var jsonOut []float32
	for _, plane := range resp.Results[0] {
		for _, row := range plane {
			jsonOut = append(jsonOut, row...)
		}
	}

	// RPC path, same values as little-endian bytes.
	content := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(content[i*4:], math.Float32bits(v))
	}
	s := &Server{Orchestrator: orch}
	reply, err := s.predict(context.Background(), &PredictRequest{
		ModelName: "sigmoid",
		Input: &RequestTensor{
			Dims:          []int64{3, 4, 5},
			TensorContent: content,
			DataType:      DataTypeFloat32,
		},
	})
	if err != nil {
		t.Fatalf("rpc transport: predict failed: %v", err)
	}
	if len(reply.Outputs) != 1 || reply.Outputs[0].DataType != DataTypeFloat32 {
		t.Fatalf("unexpected rpc reply: %+v", reply.Outputs)
	}
	raw := reply.Outputs[0].TensorContent
	rpcOut := make([]float32, len(raw)/4)
	for i := range rpcOut {
		rpcOut[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}

	if len(jsonOut) != len(rpcOut) {
		t.Fatalf("output length mismatch: json %d, rpc %d", len(jsonOut), len(rpcOut))
	}
	const rtol, atol = 1e-5, 1e-6
	for i := range jsonOut {
		diff := math.Abs(float64(jsonOut[i] - rpcOut[i]))
		if diff > atol+rtol*math.Abs(float64(rpcOut[i])) {
			t.Fatalf("element %d: json %v, rpc %v", i, jsonOut[i], rpcOut[i])
		}
	}
}
