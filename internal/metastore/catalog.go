package metastore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/oriys/infer/internal/domain"
)

// CatalogStore is the upload/deploy side's view of the metadata store:
// the full CRUD surface, which the inference path itself never calls.
type CatalogStore interface {
	Resolver
	FindAllByName(ctx context.Context, name string) ([]domain.ModelRecord, error)
	ListAll(ctx context.Context) ([]domain.ModelRecord, error)
	InsertOne(ctx context.Context, name string, fileID domain.BlobID) (domain.ModelRecord, error)
	UpdateOne(ctx context.Context, name string, version int, status domain.ModelStatus) error
	DeleteOne(ctx context.Context, name string, version int) error
}

// FindAllByName mirrors the SELECT underlying Resolve, but returns every
// matching record instead of only the first Deployed one.
func (r *PostgresResolver) FindAllByName(ctx context.Context, name string) ([]domain.ModelRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT name, version, file_id, status FROM model_records WHERE name = $1 ORDER BY id ASC`, name)
	if err != nil {
		return nil, fmt.Errorf("find model_records by name: %w", err)
	}
	defer rows.Close()
	return scanModelRecords(rows)
}

// ListAll returns every record ordered by name, then version, for the
// inventory collaborator.
func (r *PostgresResolver) ListAll(ctx context.Context) ([]domain.ModelRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT name, version, file_id, status FROM model_records ORDER BY name, version`)
	if err != nil {
		return nil, fmt.Errorf("list model_records: %w", err)
	}
	defer rows.Close()
	return scanModelRecords(rows)
}

func scanModelRecords(rows pgx.Rows) ([]domain.ModelRecord, error) {
	var out []domain.ModelRecord
	for rows.Next() {
		var name, fileID, status string
		var version int
		if err := rows.Scan(&name, &version, &fileID, &status); err != nil {
			return nil, fmt.Errorf("scan model_record: %w", err)
		}
		blobID, err := domain.ParseBlobID(fileID)
		if err != nil {
			return nil, fmt.Errorf("malformed file_id in store: %w", err)
		}
		out = append(out, domain.ModelRecord{
			Name:    name,
			Version: version,
			FileID:  blobID,
			Status:  domain.ModelStatus(status),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate model_records: %w", err)
	}
	return out, nil
}

// InsertOne creates a new Uploaded record for name, with version set to
// one past the highest existing version for that name (starting at 1).
func (r *PostgresResolver) InsertOne(ctx context.Context, name string, fileID domain.BlobID) (domain.ModelRecord, error) {
	var nextVersion int
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM model_records WHERE name = $1`, name).Scan(&nextVersion)
	if err != nil {
		return domain.ModelRecord{}, fmt.Errorf("compute next version: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO model_records (name, version, file_id, status) VALUES ($1, $2, $3, $4)`,
		name, nextVersion, fileID.String(), string(domain.StatusUploaded))
	if err != nil {
		return domain.ModelRecord{}, fmt.Errorf("insert model_record: %w", err)
	}

	return domain.ModelRecord{Name: name, Version: nextVersion, FileID: fileID, Status: domain.StatusUploaded}, nil
}

// UpdateOne sets the status of a single (name, version) record, used by
// the deploy and undeploy operations. Deploy does not clear any other
// record's Deployed status for the same name; Resolve picks the first in
// insertion (id) order when more than one is marked Deployed.
func (r *PostgresResolver) UpdateOne(ctx context.Context, name string, version int, status domain.ModelStatus) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE model_records SET status = $1 WHERE name = $2 AND version = $3`,
		string(status), name, version)
	if err != nil {
		return fmt.Errorf("update model_record: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("model_record not found: %s v%d", name, version)
	}
	return nil
}

// DeleteOne removes a single (name, version) record.
func (r *PostgresResolver) DeleteOne(ctx context.Context, name string, version int) error {
	ct, err := r.pool.Exec(ctx,
		`DELETE FROM model_records WHERE name = $1 AND version = $2`, name, version)
	if err != nil {
		return fmt.Errorf("delete model_record: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("model_record not found: %s v%d", name, version)
	}
	return nil
}
