// Package orchestrator composes the metadata resolver, session cache,
// tensor codec, and runtime session into one Predict call, shared
// verbatim by both transports.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oriys/infer/internal/apierrors"
	"github.com/oriys/infer/internal/codec"
	"github.com/oriys/infer/internal/domain"
	"github.com/oriys/infer/internal/logging"
	"github.com/oriys/infer/internal/metastore"
	"github.com/oriys/infer/internal/observability"
	"github.com/oriys/infer/internal/sessioncache"
)

// PredictInput carries either the binary path's raw content+dims or the
// JSON path's nested list, plus the optional name/dtype the caller
// supplied for validation and the bookkeeping fields both transports
// attach for logging.
type PredictInput struct {
	// Exactly one of JSON or (Dims, Content) should be set.
	JSON    json.RawMessage
	Dims    []int64
	Content []byte

	// DeclaredName is the caller-supplied input tensor name, if any.
	DeclaredName string
	// DeclaredDType is the caller-supplied dtype tag, if any; ok=false
	// means "unspecified, derive from model".
	DeclaredDType   domain.ElementType
	DeclaredDTypeOK bool
	// DeclaredDTypeInvalid marks an explicitly-unsupported tag (e.g. the
	// RPC STRING sentinel), which always fails regardless of the model.
	DeclaredDTypeInvalid bool

	RequestID string
	Transport string // "http" or "rpc", attached to metrics and logs.
}

// Metrics is the subset of the metrics package the orchestrator reports
// into, kept as an interface so tests don't need a real registry.
type Metrics interface {
	RecordPredict(model, transport, status string, d time.Duration)
}

// Orchestrator wires the resolver and cache together behind the single
// Predict entry point both transports call.
type Orchestrator struct {
	Resolver metastore.Resolver
	Cache    *sessioncache.Cache
	Metrics  Metrics
	Logger   *logging.Logger
}

// Predict resolves name to a deployed blob, obtains a session, validates
// and decodes the input, runs the model, and returns the first output.
func (o *Orchestrator) Predict(ctx context.Context, name string, in PredictInput) (domain.Tensor, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "orchestrator.predict",
		observability.AttrModelName.String(name),
		observability.AttrRequestID.String(in.RequestID))
	defer span.End()

	out, err := o.predict(ctx, name, in)
	o.finish(ctx, name, in, start, out, err)

	if err != nil {
		observability.SetSpanError(span, err)
		return domain.Tensor{}, err
	}
	observability.SetSpanOK(span)
	return out, nil
}

func (o *Orchestrator) predict(ctx context.Context, name string, in PredictInput) (domain.Tensor, error) {
	// Step 1: resolve model name to blob id.
	rctx, rspan := observability.StartSpan(ctx, "orchestrator.resolve")
	blobID, err := o.Resolver.Resolve(rctx, name)
	rspan.End()
	if err != nil {
		return domain.Tensor{}, err
	}

	// Step 2: obtain (or load) a session for that blob.
	cctx, cspan := observability.StartSpan(ctx, "orchestrator.acquire_session",
		observability.AttrBlobID.String(blobID.String()))
	sess, err := o.Cache.Get(cctx, blobID)
	cspan.End()
	if err != nil {
		return domain.Tensor{}, err
	}

	// Step 3: derive the signature from the session.
	sig := sess.Signature()

	// Step 4: a model whose input dtype is outside the supported set fails.
	if sig.InputElementType == domain.Unsupported {
		return domain.Tensor{}, apierrors.New(apierrors.InvalidInput, "model declares an unsupported input element type")
	}

	// Step 5: optional name match.
	if in.DeclaredName != "" && in.DeclaredName != sig.InputName {
		return domain.Tensor{}, apierrors.New(apierrors.InvalidInput,
			fmt.Sprintf("input name mismatch: model expects %q, got %q", sig.InputName, in.DeclaredName))
	}

	// Step 6: optional dtype match; an explicitly-unsupported tag (e.g.
	// RPC STRING) always fails here regardless of the model's own dtype.
	if in.DeclaredDTypeInvalid {
		return domain.Tensor{}, apierrors.New(apierrors.InvalidInput, "declared dtype is not supported over this transport")
	}
	if in.DeclaredDTypeOK && in.DeclaredDType != sig.InputElementType {
		return domain.Tensor{}, apierrors.New(apierrors.InvalidInput,
			fmt.Sprintf("dtype mismatch: model expects %s, got %s", sig.InputElementType, in.DeclaredDType))
	}

	// Step 7: decode the tensor.
	_, dspan := observability.StartSpan(ctx, "orchestrator.decode")
	var tensor domain.Tensor
	if in.JSON != nil {
		tensor, err = codec.DecodeJSON(in.JSON, sig.InputElementType)
	} else {
		tensor, err = codec.DecodeBinary(in.Dims, in.Content, sig.InputElementType)
	}
	dspan.End()
	if err != nil {
		return domain.Tensor{}, err
	}
	observability.SpanFromContext(ctx).SetAttributes(
		observability.AttrDType.String(sig.InputElementType.String()),
		observability.AttrShape.String(fmt.Sprint(tensor.Dims)))

	// Step 8: shape-check.
	if !sig.InputShape.Compatible(tensor.Dims) {
		return domain.Tensor{}, apierrors.New(apierrors.InvalidInput,
			fmt.Sprintf("shape mismatch: model expects %v, got %v", sig.InputShape, tensor.Dims))
	}

	// Step 9: execute.
	_, xspan := observability.StartSpan(ctx, "orchestrator.run")
	out, err := sess.Run(tensor)
	xspan.End()
	if err != nil {
		return domain.Tensor{}, err
	}

	// Step 10: caller encodes out via codec.Encode; that's transport-specific.
	return out, nil
}

func (o *Orchestrator) finish(ctx context.Context, name string, in PredictInput, start time.Time, out domain.Tensor, err error) {
	d := time.Since(start)
	status := "ok"
	errMsg := ""
	if err != nil {
		status = apierrors.KindOf(err).String()
		errMsg = err.Error()
	}

	if o.Metrics != nil {
		o.Metrics.RecordPredict(name, in.Transport, status, d)
	}

	if o.Logger != nil {
		entry := &logging.PredictLog{
			RequestID:  in.RequestID,
			TraceID:    observability.GetTraceID(ctx),
			SpanID:     observability.GetSpanID(ctx),
			Model:      name,
			Transport:  in.Transport,
			DurationMs: d.Milliseconds(),
			Success:    err == nil,
			Error:      errMsg,
			InputSize:  len(in.Content),
		}
		if len(in.Dims) > 0 {
			entry.InputShape = fmt.Sprint(in.Dims)
		}
		if err == nil {
			entry.DType = out.ElementType().String()
			entry.OutputShape = fmt.Sprint(out.Dims)
			entry.OutputSize = out.Len()
		}
		o.Logger.Log(entry)
	}
}
