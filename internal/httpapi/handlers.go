// Package httpapi implements the JSON transport: a single
// POST /infer/{name} route plus liveness/readiness probes.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/infer/internal/apierrors"
	"github.com/oriys/infer/internal/codec"
	"github.com/oriys/infer/internal/domain"
	"github.com/oriys/infer/internal/logging"
	"github.com/oriys/infer/internal/metastore"
	"github.com/oriys/infer/internal/orchestrator"
)

// predictor is the capability this handler needs from the orchestrator,
// narrowed so handler tests can substitute a fake.
type predictor interface {
	Predict(ctx context.Context, name string, in orchestrator.PredictInput) (domain.Tensor, error)
}

// Handler serves the JSON transport's routes.
type Handler struct {
	Orchestrator predictor
	Resolver     metastore.Resolver
	PingTimeout  time.Duration
}

// RegisterRoutes wires every route this transport owns onto mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /infer/{name}", h.Predict)
	mux.HandleFunc("GET /healthz", h.Live)
	mux.HandleFunc("GET /readyz", h.Ready)
}

type predictRequest struct {
	Input json.RawMessage `json:"input"`
	DType string          `json:"dtype,omitempty"`
}

type predictResponse struct {
	Results json.RawMessage `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Predict decodes the request envelope, calls into the orchestrator, and
// encodes the result or a translated error.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierrors.New(apierrors.InvalidInput, "malformed request body"))
		return
	}

	in := orchestrator.PredictInput{
		JSON:      req.Input,
		RequestID: uuid.NewString(),
		Transport: "http",
	}
	if req.DType != "" && req.DType != "unspecified" {
		if req.DType == "string-unsupported" {
			in.DeclaredDTypeInvalid = true
		} else if dt, ok := domain.ParseElementType(req.DType); ok {
			in.DeclaredDType = dt
			in.DeclaredDTypeOK = true
		} else {
			in.DeclaredDTypeInvalid = true
		}
	}

	out, err := h.Orchestrator.Predict(r.Context(), name, in)
	if err != nil {
		writeError(w, err)
		return
	}

	results, err := encodeResults(out)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, predictResponse{Results: results})
}

// encodeResults wraps the encoded output tensor as a one-element nested
// list, mirroring the JSON decode path's shape in reverse.
func encodeResults(t domain.Tensor) (json.RawMessage, error) {
	dims, content, dtype, err := codec.Encode(t)
	if err != nil {
		return nil, err
	}
	nested, err := codec.NestJSON(dims, content, dtype)
	if err != nil {
		return nil, err
	}
	wrapped, err := json.Marshal([]json.RawMessage{nested})
	if err != nil {
		return nil, apierrors.Wrap(apierrors.InternalInferenceError, "marshal results", err)
	}
	return wrapped, nil
}

// Live reports process liveness unconditionally; it never touches storage.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Ready reports readiness by pinging the metadata store with a bounded
// timeout.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	timeout := h.PingTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	if err := h.Resolver.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apierrors.KindOf(err) {
	case apierrors.ModelNotFound:
		status = http.StatusNotFound
	case apierrors.ModelNotDeployed, apierrors.InvalidInput:
		status = http.StatusBadRequest
	case apierrors.Cancelled:
		status = 499
	default:
		status = http.StatusInternalServerError
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal inference error"
		logging.Op().Error("predict failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
