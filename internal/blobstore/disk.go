package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/oriys/infer/internal/domain"
)

// DiskStore reads artifacts from a local directory, one file per blob id.
type DiskStore struct {
	root string
}

// NewDiskStore ensures root exists and returns a DiskStore rooted there.
func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root %s: %w", root, err)
	}
	return &DiskStore{root: root}, nil
}

func (d *DiskStore) path(id domain.BlobID) string {
	return filepath.Join(d.root, id.String()+".onnx")
}

// Open returns the artifact file as an io.ReadCloser. *os.File already
// satisfies io.ReadCloser, so Read's deferred Close is sufficient release.
func (d *DiskStore) Open(_ context.Context, id domain.BlobID) (io.ReadCloser, error) {
	f, err := os.Open(d.path(id))
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", id, err)
	}
	return f, nil
}

// Upload assigns a fresh blob id and writes r's full contents under it.
func (d *DiskStore) Upload(_ context.Context, r io.Reader) (domain.BlobID, error) {
	id := domain.NewBlobID(uuid.New())

	f, err := os.Create(d.path(id))
	if err != nil {
		return domain.BlobID{}, fmt.Errorf("create blob %s: %w", id, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return domain.BlobID{}, fmt.Errorf("write blob %s: %w", id, err)
	}
	return id, nil
}

// Delete removes the artifact file for id, used by the delete collaborator.
func (d *DiskStore) Delete(_ context.Context, id domain.BlobID) error {
	if err := os.Remove(d.path(id)); err != nil {
		return fmt.Errorf("delete blob %s: %w", id, err)
	}
	return nil
}
