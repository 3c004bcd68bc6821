// Package metastore resolves a model name to the blob id of its deployed
// artifact against a Postgres-backed store.
package metastore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/infer/internal/apierrors"
	"github.com/oriys/infer/internal/domain"
)

// Resolver is the narrow read-side interface of the metadata store:
// resolve-by-name and ping. The rest of the CRUD surface belongs to the
// upload/deploy side (CatalogStore).
type Resolver interface {
	Resolve(ctx context.Context, name string) (domain.BlobID, error)
	Ping(ctx context.Context) error
	Close() error
}

// PostgresResolver is the production Resolver, backed by pgx/v5.
type PostgresResolver struct {
	pool *pgxpool.Pool
}

// NewPostgresResolver connects to Postgres and ensures the model_records
// table exists before returning.
func NewPostgresResolver(ctx context.Context, dsn string) (*PostgresResolver, error) {
	if dsn == "" {
		return nil, fmt.Errorf("metastore DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	r := &PostgresResolver{pool: pool}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := r.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresResolver) ensureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS model_records (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		version INT NOT NULL,
		file_id UUID NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("ensure model_records schema: %w", err)
	}
	_, err = r.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS model_records_name_idx ON model_records (name)`)
	if err != nil {
		return fmt.Errorf("ensure model_records index: %w", err)
	}
	return nil
}

// Resolve fetches all records matching name in storage order and returns
// the file_id of the first Deployed one. Multiple Deployed records are
// not an error; the first in storage order wins.
func (r *PostgresResolver) Resolve(ctx context.Context, name string) (domain.BlobID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT file_id, status FROM model_records WHERE name = $1 ORDER BY id ASC`, name)
	if err != nil {
		return domain.BlobID{}, apierrors.Wrap(apierrors.StorageUnavailable, "query model_records", err)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		found = true
		var fileID string
		var status string
		if err := rows.Scan(&fileID, &status); err != nil {
			return domain.BlobID{}, apierrors.Wrap(apierrors.StorageUnavailable, "scan model_records row", err)
		}
		if status == string(domain.StatusDeployed) {
			blobID, err := domain.ParseBlobID(fileID)
			if err != nil {
				return domain.BlobID{}, apierrors.Wrap(apierrors.StorageUnavailable, "malformed file_id in store", err)
			}
			return blobID, nil
		}
	}
	if err := rows.Err(); err != nil {
		return domain.BlobID{}, apierrors.Wrap(apierrors.StorageUnavailable, "iterate model_records", err)
	}

	if !found {
		return domain.BlobID{}, apierrors.New(apierrors.ModelNotFound, fmt.Sprintf("no record for model %q", name))
	}
	return domain.BlobID{}, apierrors.New(apierrors.ModelNotDeployed, fmt.Sprintf("model %q has no deployed version", name))
}

// Ping satisfies the readiness probe the lifecycle controller drives its
// health transitions from.
func (r *PostgresResolver) Ping(ctx context.Context) error {
	if r.pool == nil {
		return fmt.Errorf("metastore not initialized")
	}
	return r.pool.Ping(ctx)
}

// Close releases the pool.
func (r *PostgresResolver) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}
