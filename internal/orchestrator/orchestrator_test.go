package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/oriys/infer/internal/apierrors"
	"github.com/oriys/infer/internal/domain"
	"github.com/oriys/infer/internal/runtime"
	"github.com/oriys/infer/internal/sessioncache"
)

type fakeResolver struct {
	blobID domain.BlobID
	err    error
}

func (f *fakeResolver) Resolve(ctx context.Context, name string) (domain.BlobID, error) {
	return f.blobID, f.err
}
func (f *fakeResolver) Ping(ctx context.Context) error { return nil }
func (f *fakeResolver) Close() error                   { return nil }

type fakeSession struct {
	sig domain.Signature
}

func (f *fakeSession) Signature() domain.Signature { return f.sig }
func (f *fakeSession) Run(in domain.Tensor) (domain.Tensor, error) {
	return domain.Tensor{Dims: in.Dims, Data: in.Data}, nil
}
func (f *fakeSession) Close() error { return nil }

func newOrchestrator(sig domain.Signature, resolveErr error) *Orchestrator {
	blobID := domain.NewBlobID(uuid.New())
	loader := func(ctx context.Context, id domain.BlobID) (runtime.Session, error) {
		return &fakeSession{sig: sig}, nil
	}
	return &Orchestrator{
		Resolver: &fakeResolver{blobID: blobID, err: resolveErr},
		Cache:    sessioncache.New(0, 0, loader, nil),
	}
}

func defaultSignature() domain.Signature {
	return domain.Signature{
		InputName:        "input",
		InputElementType: domain.F32,
		InputShape:       domain.Shape{domain.WildcardDim(), domain.FixedDim(2)},
		OutputName:       "output",
	}
}

func TestPredict_Success(t *testing.T) {
	o := newOrchestrator(defaultSignature(), nil)
	in := PredictInput{JSON: json.RawMessage(`[[1,2],[3,4]]`), Transport: "http"}

	out, err := o.Predict(context.Background(), "m", in)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if out.Len() != 4 {
		t.Fatalf("expected 4 elements, got %d", out.Len())
	}
}

func TestPredict_ModelNotFound(t *testing.T) {
	o := newOrchestrator(defaultSignature(), apierrors.New(apierrors.ModelNotFound, "no such model"))
	in := PredictInput{JSON: json.RawMessage(`[[1,2]]`)}

	_, err := o.Predict(context.Background(), "missing", in)
	if apierrors.KindOf(err) != apierrors.ModelNotFound {
		t.Fatalf("expected ModelNotFound, got %v", err)
	}
}

func TestPredict_ShapeMismatch(t *testing.T) {
	o := newOrchestrator(defaultSignature(), nil)
	in := PredictInput{JSON: json.RawMessage(`[[1,2,3]]`)}

	_, err := o.Predict(context.Background(), "m", in)
	if apierrors.KindOf(err) != apierrors.InvalidInput {
		t.Fatalf("expected InvalidInput for a shape mismatch, got %v", err)
	}
}

func TestPredict_DeclaredNameMismatch(t *testing.T) {
	o := newOrchestrator(defaultSignature(), nil)
	in := PredictInput{JSON: json.RawMessage(`[[1,2],[3,4]]`), DeclaredName: "not-input"}

	_, err := o.Predict(context.Background(), "m", in)
	if apierrors.KindOf(err) != apierrors.InvalidInput {
		t.Fatalf("expected InvalidInput for a declared name mismatch, got %v", err)
	}
}

func TestPredict_DeclaredDTypeMismatch(t *testing.T) {
	o := newOrchestrator(defaultSignature(), nil)
	in := PredictInput{
		JSON:            json.RawMessage(`[[1,2],[3,4]]`),
		DeclaredDType:   domain.I64,
		DeclaredDTypeOK: true,
	}

	_, err := o.Predict(context.Background(), "m", in)
	if apierrors.KindOf(err) != apierrors.InvalidInput {
		t.Fatalf("expected InvalidInput for a declared dtype mismatch, got %v", err)
	}
}

func TestPredict_DeclaredDTypeInvalidAlwaysFails(t *testing.T) {
	o := newOrchestrator(defaultSignature(), nil)
	in := PredictInput{
		JSON:                 json.RawMessage(`[[1,2],[3,4]]`),
		DeclaredDTypeInvalid: true,
	}

	_, err := o.Predict(context.Background(), "m", in)
	if apierrors.KindOf(err) != apierrors.InvalidInput {
		t.Fatalf("expected InvalidInput for an explicitly-unsupported declared dtype, got %v", err)
	}
}

func TestPredict_UnsupportedModelInputDType(t *testing.T) {
	sig := defaultSignature()
	sig.InputElementType = domain.Unsupported
	o := newOrchestrator(sig, nil)
	in := PredictInput{JSON: json.RawMessage(`[[1,2],[3,4]]`)}

	_, err := o.Predict(context.Background(), "m", in)
	if apierrors.KindOf(err) != apierrors.InvalidInput {
		t.Fatalf("expected InvalidInput when the model declares an unsupported dtype, got %v", err)
	}
}
