// Package domain holds the core value types shared by the metadata
// resolver, session cache, tensor codec, and orchestrator.
package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ModelStatus is the deployment status of a ModelRecord.
type ModelStatus string

const (
	StatusUploaded ModelStatus = "Uploaded"
	StatusDeployed ModelStatus = "Deployed"
)

func (s ModelStatus) IsValid() bool {
	switch s {
	case StatusUploaded, StatusDeployed:
		return true
	}
	return false
}

// ModelRecord is a single version of a named model as held by the
// metadata store. The core only reads these; the upload/deploy
// collaborator creates and mutates them.
type ModelRecord struct {
	Name    string
	Version int
	FileID  BlobID
	Status  ModelStatus
}

// BlobID is a canonicalized 128-bit blob identifier.
type BlobID struct {
	id uuid.UUID
}

// ParseBlobID normalizes any well-formed 128-bit identifier representation
// (with or without dashes, any case) to a single canonical form.
func ParseBlobID(s string) (BlobID, error) {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return BlobID{}, fmt.Errorf("invalid blob id %q: %w", s, err)
	}
	return BlobID{id: u}, nil
}

// NewBlobID wraps an already-parsed uuid.UUID as a BlobID.
func NewBlobID(u uuid.UUID) BlobID {
	return BlobID{id: u}
}

// String returns the canonical dashed lowercase form.
func (b BlobID) String() string {
	return b.id.String()
}

// IsZero reports whether this BlobID was never assigned a value.
func (b BlobID) IsZero() bool {
	return b.id == uuid.Nil
}

// ElementType is the closed set of tensor dtypes the service supports.
type ElementType int

const (
	Unsupported ElementType = iota
	F32
	F64
	I32
	I64
	Bool
)

// ElementSize returns the per-element byte size, with Bool counting as 1.
func (t ElementType) ElementSize() int {
	switch t {
	case F32, I32:
		return 4
	case F64, I64:
		return 8
	case Bool:
		return 1
	default:
		return 0
	}
}

func (t ElementType) String() string {
	switch t {
	case F32:
		return "float32"
	case F64:
		return "float64"
	case I32:
		return "int32"
	case I64:
		return "int64"
	case Bool:
		return "bool"
	default:
		return "unsupported"
	}
}

// ParseElementType maps a dtype tag string to an ElementType. The empty
// string and "unspecified" map to Unsupported with ok=false but no error
// semantics attached here — callers decide what "unspecified" means.
func ParseElementType(tag string) (t ElementType, ok bool) {
	switch strings.ToLower(tag) {
	case "f32", "float32", "tensor(float)", "tensor(float32)":
		return F32, true
	case "f64", "float64", "double", "tensor(double)", "tensor(float64)":
		return F64, true
	case "i32", "int32", "tensor(int32)":
		return I32, true
	case "i64", "int64", "tensor(int64)":
		return I64, true
	case "bool", "boolean", "tensor(bool)", "tensor(boolean)":
		return Bool, true
	default:
		return Unsupported, false
	}
}

// Dim is a single declared dimension: either a concrete positive size or
// a wildcard accepting any positive size at call time.
type Dim struct {
	Size     int64
	Wildcard bool
}

func FixedDim(n int64) Dim { return Dim{Size: n} }
func WildcardDim() Dim     { return Dim{Wildcard: true} }

// Shape is an ordered sequence of declared dimensions.
type Shape []Dim

// String renders the shape with "?" for wildcard dimensions, e.g. [? 4 5].
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		if d.Wildcard {
			parts[i] = "?"
		} else {
			parts[i] = strconv.FormatInt(d.Size, 10)
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Compatible reports whether actual dims satisfy this shape: equal rank,
// and every non-wildcard dimension equal to the corresponding actual dim.
func (s Shape) Compatible(actual []int64) bool {
	if len(s) != len(actual) {
		return false
	}
	for i, d := range s {
		if d.Wildcard {
			continue
		}
		if d.Size != actual[i] {
			return false
		}
	}
	return true
}

// Signature is the input/output shape contract derived from a loaded
// session. It is cheap to recompute and never persisted.
type Signature struct {
	InputName        string
	InputElementType ElementType
	InputShape       Shape
	OutputName       string
}

// Tensor is a decoded, in-memory, row-major tensor of one supported dtype.
type Tensor struct {
	Dims []int64
	// Data holds exactly one of []float32, []float64, []int32, []int64, []bool
	// depending on the tensor's element type.
	Data any
}

// ElementType reports the dtype of Data, or Unsupported if Data is nil or
// of an unrecognized concrete type.
func (t Tensor) ElementType() ElementType {
	switch t.Data.(type) {
	case []float32:
		return F32
	case []float64:
		return F64
	case []int32:
		return I32
	case []int64:
		return I64
	case []bool:
		return Bool
	default:
		return Unsupported
	}
}

// Len returns the number of elements held in Data.
func (t Tensor) Len() int {
	switch d := t.Data.(type) {
	case []float32:
		return len(d)
	case []float64:
		return len(d)
	case []int32:
		return len(d)
	case []int64:
		return len(d)
	case []bool:
		return len(d)
	default:
		return 0
	}
}
