// Package blobstore streams full artifact bytes by blob id from either
// S3 or local disk.
package blobstore

import (
	"context"
	"io"

	"github.com/oriys/infer/internal/domain"
)

// Store is the minimal capability the session loader needs: open a
// readable by id. Defining this narrow interface (rather than exposing
// the full S3 or disk client) lets tests substitute an in-memory bucket.
type Store interface {
	Open(ctx context.Context, id domain.BlobID) (io.ReadCloser, error)
}

// CatalogStore is the upload/deploy side's view of the blob store: Store
// plus upload and delete. The inference path itself never calls Upload
// or Delete.
type CatalogStore interface {
	Store
	Upload(ctx context.Context, r io.Reader) (domain.BlobID, error)
	Delete(ctx context.Context, id domain.BlobID) error
}

// Read fully drains an artifact into memory, releasing the stream handle
// on every exit path — success or error — without letting a Close error
// mask a prior read error.
func Read(ctx context.Context, s Store, id domain.BlobID) (data []byte, err error) {
	rc, err := s.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	data, err = io.ReadAll(rc)
	return data, err
}
