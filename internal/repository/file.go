package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HilloriDesai/FileUpload/internal/model"
)

// ErrNotFound is returned when no row matches the requested file id.
var ErrNotFound = errors.New("file not found")

// fileColumns is the single column list shared by every SELECT.
const fileColumns = `id, title, object_key, file_type, file_size, state,
	owner_id, shared_user_ids, uploaded_at, updated_at`

// listOrder sorts newest first; seq breaks uploaded_at ties by insertion order.
const listOrder = `ORDER BY uploaded_at DESC, seq DESC`

// FileRepository wraps all SQL used by the API and the worker.
type FileRepository struct {
	pool *pgxpool.Pool
}

// NewFileRepository constructs a repository.
func NewFileRepository(pool *pgxpool.Pool) *FileRepository {
	return &FileRepository{pool: pool}
}

// Create inserts a new record. Timestamps and state are defaulted here so
// every caller persists consistent rows.
func (r *FileRepository) Create(ctx context.Context, rec *model.FileRecord) error {
	now := time.Now().UTC()
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = now
	}
	rec.UpdatedAt = now
	if rec.State == "" {
		rec.State = model.StateRestored
	}
	if rec.SharedUserIDs == nil {
		rec.SharedUserIDs = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO files (id, title, object_key, file_type, file_size, state, owner_id, shared_user_ids, uploaded_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, rec.ID, rec.Title, rec.ObjectKey, rec.FileType, rec.FileSize, rec.State, rec.OwnerID, rec.SharedUserIDs, rec.UploadedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// Get returns a record by id or ErrNotFound.
func (r *FileRepository) Get(ctx context.Context, id string) (*model.FileRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id=$1`, id)
	rec, err := scanFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select file: %w", err)
	}
	return rec, nil
}

// SetState transitions a record between restored and deleted. The single
// UPDATE relies on Postgres' atomic update-by-id semantics to serialize
// concurrent transitions on the same record.
func (r *FileRepository) SetState(ctx context.Context, id string, state model.FileState) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE files SET state=$1, updated_at=$2 WHERE id=$3
	`, state, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddSharedUsers unions the given user ids into shared_user_ids. Duplicates
// collapse inside the query, so re-sharing with the same user is a no-op.
func (r *FileRepository) AddSharedUsers(ctx context.Context, id string, userIDs []string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE files
		SET shared_user_ids = (
			SELECT COALESCE(ARRAY_AGG(DISTINCT u ORDER BY u), '{}')
			FROM UNNEST(shared_user_ids || $1::text[]) AS u
		), updated_at=$2
		WHERE id=$3
	`, userIDs, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update shared users: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the record permanently. The id is never reused because ids
// are generated, not recycled.
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM files WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRestored returns restored files owned by ownerID, newest first.
func (r *FileRepository) ListRestored(ctx context.Context, ownerID string) ([]*model.FileRecord, error) {
	return r.list(ctx, `SELECT `+fileColumns+` FROM files WHERE state=$1 AND owner_id=$2 `+listOrder,
		model.StateRestored, ownerID)
}

// ListShared returns restored files whose share set contains userID.
func (r *FileRepository) ListShared(ctx context.Context, userID string) ([]*model.FileRecord, error) {
	return r.list(ctx, `SELECT `+fileColumns+` FROM files WHERE state=$1 AND $2 = ANY(shared_user_ids) `+listOrder,
		model.StateRestored, userID)
}

// ListBin returns all deleted files system-wide, newest first.
func (r *FileRepository) ListBin(ctx context.Context) ([]*model.FileRecord, error) {
	return r.list(ctx, `SELECT `+fileColumns+` FROM files WHERE state=$1 `+listOrder, model.StateDeleted)
}

// ListExpiredBin returns deleted files whose last transition happened before
// the cutoff. Used by the bin sweep.
func (r *FileRepository) ListExpiredBin(ctx context.Context, before time.Time) ([]*model.FileRecord, error) {
	return r.list(ctx, `SELECT `+fileColumns+` FROM files WHERE state=$1 AND updated_at < $2 `+listOrder,
		model.StateDeleted, before)
}

// ListOwners returns the distinct owner ids across all records, any state.
func (r *FileRepository) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT owner_id FROM files ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("select owners: %w", err)
	}
	defer rows.Close()

	owners := []string{}
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate owners: %w", err)
	}
	return owners, nil
}

func (r *FileRepository) list(ctx context.Context, query string, args ...any) ([]*model.FileRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select files: %w", err)
	}
	defer rows.Close()

	records := []*model.FileRecord{}
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return records, nil
}

func scanFile(row pgx.Row) (*model.FileRecord, error) {
	rec := &model.FileRecord{}
	err := row.Scan(
		&rec.ID, &rec.Title, &rec.ObjectKey, &rec.FileType, &rec.FileSize,
		&rec.State, &rec.OwnerID, &rec.SharedUserIDs, &rec.UploadedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
