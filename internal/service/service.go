// Package service implements the file lifecycle: upload, listing, download,
// bin/restore, permanent deletion, and sharing. It orchestrates the validator,
// the metadata store, and the blob store; every boundary operation enters
// through here.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HilloriDesai/FileUpload/internal/model"
	"github.com/HilloriDesai/FileUpload/internal/repository"
	"github.com/HilloriDesai/FileUpload/internal/validation"
)

// MetadataStore is the durable record store. The SQL repository implements it
// in production; the in-memory store implements it for tests and dev mode.
type MetadataStore interface {
	Create(ctx context.Context, rec *model.FileRecord) error
	Get(ctx context.Context, id string) (*model.FileRecord, error)
	SetState(ctx context.Context, id string, state model.FileState) error
	AddSharedUsers(ctx context.Context, id string, userIDs []string) error
	Delete(ctx context.Context, id string) error
	ListRestored(ctx context.Context, ownerID string) ([]*model.FileRecord, error)
	ListShared(ctx context.Context, userID string) ([]*model.FileRecord, error)
	ListBin(ctx context.Context) ([]*model.FileRecord, error)
	ListExpiredBin(ctx context.Context, before time.Time) ([]*model.FileRecord, error)
	ListOwners(ctx context.Context) ([]string, error)
}

// BlobStore is the durable byte store keyed by object key.
type BlobStore interface {
	Put(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	Get(ctx context.Context, objectKey string) (io.ReadCloser, error)
	Exists(ctx context.Context, objectKey string) (bool, error)
	Remove(ctx context.Context, objectKey string) error
}

// Cleanup enqueues background blob deletions for the cases where the inline
// compensating delete fails during a rolled-back upload.
type Cleanup interface {
	EnqueueBlobCleanup(ctx context.Context, objectKey string) error
}

// Service is the file lifecycle manager.
type Service struct {
	rules   validation.Rules
	meta    MetadataStore
	blobs   BlobStore
	cleanup Cleanup
	logger  *zap.Logger
	now     func() time.Time
}

// New constructs a Service. cleanup may be nil when no background queue is
// wired (tests, --memory mode); the inline compensating delete still runs.
func New(rules validation.Rules, meta MetadataStore, blobs BlobStore, cleanup Cleanup, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		rules:   rules,
		meta:    meta,
		blobs:   blobs,
		cleanup: cleanup,
		logger:  logger,
		now:     time.Now,
	}
}

// UploadInput carries one upload request. Size must be the exact byte length
// of Content.
type UploadInput struct {
	Filename    string
	Title       string
	OwnerID     string
	Content     io.Reader
	Size        int64
	ContentType string
}

// Upload validates the payload, writes it to the blob store, and persists the
// record. Type and size are derived from the accepted payload, not from
// client-supplied metadata. The operation is atomic: a record-persist failure
// rolls back the blob, so either both exist afterwards or neither does.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*model.FileRecord, error) {
	base, err := validation.SanitizeFilename(in.Filename)
	if err != nil {
		return nil, &ValidationError{Reason: err}
	}
	if err := s.rules.ValidateUpload(base, in.Size); err != nil {
		return nil, &ValidationError{Reason: err}
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = validation.Stem(base)
	}
	rec := &model.FileRecord{
		ID:         uuid.NewString(),
		Title:      title,
		FileType:   validation.Extension(base),
		FileSize:   in.Size,
		State:      model.StateRestored,
		OwnerID:    in.OwnerID,
		UploadedAt: s.now().UTC(),
	}
	rec.ObjectKey = fmt.Sprintf("files/%s/%s", rec.ID, base)

	// Record-level constraint, independent of the filename check above. Both
	// must agree before anything is written.
	if err := s.rules.ValidateRecord(rec.FileType, rec.FileSize); err != nil {
		return nil, &ValidationError{Reason: err}
	}

	if err := s.blobs.Put(ctx, rec.ObjectKey, in.Content, in.Size, in.ContentType); err != nil {
		return nil, fmt.Errorf("store payload: %w", err)
	}
	if err := s.meta.Create(ctx, rec); err != nil {
		s.rollbackBlob(ctx, rec.ObjectKey)
		return nil, fmt.Errorf("persist record: %w", err)
	}

	s.logger.Info("file uploaded",
		zap.String("id", rec.ID),
		zap.String("title", rec.Title),
		zap.String("fileType", rec.FileType),
		zap.Int64("fileSize", rec.FileSize),
		zap.String("ownerId", rec.OwnerID))
	return rec, nil
}

// rollbackBlob deletes the blob written by a failed upload. If the inline
// delete fails too, the cleanup queue retries it so no orphan survives.
func (s *Service) rollbackBlob(ctx context.Context, objectKey string) {
	err := s.blobs.Remove(ctx, objectKey)
	if err == nil {
		return
	}
	s.logger.Warn("compensating blob delete failed", zap.String("objectKey", objectKey), zap.Error(err))
	if s.cleanup == nil {
		return
	}
	if err := s.cleanup.EnqueueBlobCleanup(ctx, objectKey); err != nil {
		s.logger.Error("enqueue blob cleanup failed", zap.String("objectKey", objectKey), zap.Error(err))
	}
}

// Get returns the record for id.
func (s *Service) Get(ctx context.Context, id string) (*model.FileRecord, error) {
	rec, err := s.meta.Get(ctx, id)
	if err != nil {
		return nil, s.mapStoreErr("get", id, err)
	}
	return rec, nil
}

// DownloadResult bundles the payload stream with the filename to suggest for
// the attachment.
type DownloadResult struct {
	Record   *model.FileRecord
	Content  io.ReadCloser
	Filename string
}

// Download opens the payload for an existing record. A record whose blob is
// absent indicates storage corruption: it is logged as an integrity warning
// and surfaces as NotFound like a missing record.
func (s *Service) Download(ctx context.Context, id string) (*DownloadResult, error) {
	rec, err := s.meta.Get(ctx, id)
	if err != nil {
		return nil, s.mapStoreErr("download", id, err)
	}
	exists, err := s.blobs.Exists(ctx, rec.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("check payload: %w", err)
	}
	if !exists {
		s.logger.Warn("payload missing for existing record",
			zap.String("id", rec.ID),
			zap.String("objectKey", rec.ObjectKey))
		return nil, ErrNotFound
	}
	content, err := s.blobs.Get(ctx, rec.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", err)
	}
	return &DownloadResult{
		Record:   rec,
		Content:  content,
		Filename: path.Base(rec.ObjectKey),
	}, nil
}

// MoveToBin transitions the record to deleted. Re-applying to an already
// deleted record succeeds and leaves it deleted.
func (s *Service) MoveToBin(ctx context.Context, id string) error {
	if err := s.meta.SetState(ctx, id, model.StateDeleted); err != nil {
		return s.mapStoreErr("move to bin", id, err)
	}
	s.logger.Info("file moved to bin", zap.String("id", id))
	return nil
}

// Restore transitions the record back to restored, with the same idempotency
// characteristic as MoveToBin.
func (s *Service) Restore(ctx context.Context, id string) error {
	if err := s.meta.SetState(ctx, id, model.StateRestored); err != nil {
		return s.mapStoreErr("restore", id, err)
	}
	s.logger.Info("file restored", zap.String("id", id))
	return nil
}

// PermanentlyDelete removes the blob and then the record. It is callable from
// either state, irreversible, and the only operation that touches the blob
// store's delete path. A missing blob is tolerated.
func (s *Service) PermanentlyDelete(ctx context.Context, id string) error {
	rec, err := s.meta.Get(ctx, id)
	if err != nil {
		return s.mapStoreErr("permanently delete", id, err)
	}
	if err := s.blobs.Remove(ctx, rec.ObjectKey); err != nil {
		return fmt.Errorf("delete payload: %w", err)
	}
	if err := s.meta.Delete(ctx, id); err != nil {
		return s.mapStoreErr("permanently delete", id, err)
	}
	s.logger.Info("file permanently deleted", zap.String("id", id), zap.String("ownerId", rec.OwnerID))
	return nil
}

// ShareWith adds the given user ids to the record's share set. Union
// semantics: ids already present are left alone, duplicates in the input
// collapse, and empty ids are dropped. Ids are opaque; no user directory
// exists to validate them against.
func (s *Service) ShareWith(ctx context.Context, id string, userIDs []string) error {
	deduped := dedupe(userIDs)
	if err := s.meta.AddSharedUsers(ctx, id, deduped); err != nil {
		return s.mapStoreErr("share", id, err)
	}
	s.logger.Info("file shared", zap.String("id", id), zap.Strings("userIds", deduped))
	return nil
}

// ListRestored returns the owner's restored files, newest first. An absent
// owner id yields an empty result rather than an error; anonymous listing
// clients are expected.
func (s *Service) ListRestored(ctx context.Context, ownerID string) ([]*model.FileRecord, error) {
	if strings.TrimSpace(ownerID) == "" {
		return []*model.FileRecord{}, nil
	}
	records, err := s.meta.ListRestored(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list restored: %w", err)
	}
	return records, nil
}

// ListShared returns restored files shared with the user, newest first. Same
// permissive handling of an absent user id as ListRestored.
func (s *Service) ListShared(ctx context.Context, userID string) ([]*model.FileRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return []*model.FileRecord{}, nil
	}
	records, err := s.meta.ListShared(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list shared: %w", err)
	}
	return records, nil
}

// ListBin returns all deleted files system-wide, newest first. The bin view
// is not owner-scoped.
func (s *Service) ListBin(ctx context.Context) ([]*model.FileRecord, error) {
	records, err := s.meta.ListBin(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bin: %w", err)
	}
	return records, nil
}

// ListOwners returns the distinct owner ids across all records, any state.
func (s *Service) ListOwners(ctx context.Context) ([]string, error) {
	owners, err := s.meta.ListOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	return owners, nil
}

// SweepExpired permanently deletes binned files whose last state change is
// older than retention. A non-positive retention disables the sweep. Files
// already purged by a concurrent delete are skipped.
func (s *Service) SweepExpired(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().UTC().Add(-retention)
	expired, err := s.meta.ListExpiredBin(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list expired bin: %w", err)
	}
	purged := 0
	for _, rec := range expired {
		if err := s.PermanentlyDelete(ctx, rec.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			s.logger.Error("sweep delete failed", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		purged++
	}
	if purged > 0 {
		s.logger.Info("bin sweep finished", zap.Int("purged", purged))
	}
	return purged, nil
}

func (s *Service) mapStoreErr(op, id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Info("file not found", zap.String("op", op), zap.String("id", id))
		return ErrNotFound
	}
	s.logger.Error("operation failed", zap.String("op", op), zap.String("id", id), zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
