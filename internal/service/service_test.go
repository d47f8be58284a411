package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/HilloriDesai/FileUpload/internal/model"
	"github.com/HilloriDesai/FileUpload/internal/storage"
	"github.com/HilloriDesai/FileUpload/internal/validation"
)

func testRules() validation.Rules {
	return validation.Rules{
		MaxUploadSize:     10 << 20,
		AllowedExtensions: []string{"txt", "pdf", "png", "jpg", "jpeg", "gif", "json", "csv", "doc", "docx"},
	}
}

func newTestService(t *testing.T) (*Service, *storage.MemoryStore, *storage.MemoryBlobStore) {
	t.Helper()
	meta := storage.NewMemoryStore()
	blobs := storage.NewMemoryBlobStore()
	svc := New(testRules(), meta, blobs, nil, zap.NewNop())
	return svc, meta, blobs
}

func upload(t *testing.T, svc *Service, filename, title, ownerID, content string) *model.FileRecord {
	t.Helper()
	rec, err := svc.Upload(context.Background(), UploadInput{
		Filename: filename,
		Title:    title,
		OwnerID:  ownerID,
		Content:  strings.NewReader(content),
		Size:     int64(len(content)),
	})
	require.NoError(t, err)
	return rec
}

func TestUploadSuccess(t *testing.T) {
	svc, _, blobs := newTestService(t)

	rec := upload(t, svc, "report.pdf", "", "u1", "pdf bytes")

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "report", rec.Title, "title defaults to the filename stem")
	assert.Equal(t, "pdf", rec.FileType)
	assert.Equal(t, int64(len("pdf bytes")), rec.FileSize)
	assert.Equal(t, model.StateRestored, rec.State)
	assert.Equal(t, "u1", rec.OwnerID)
	assert.Empty(t, rec.SharedUserIDs)
	assert.False(t, rec.UploadedAt.IsZero())

	exists, err := blobs.Exists(context.Background(), rec.ObjectKey)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUploadKeepsSuppliedTitle(t *testing.T) {
	svc, _, _ := newTestService(t)
	rec := upload(t, svc, "data.csv", "Quarterly Numbers", "u1", "a,b")
	assert.Equal(t, "Quarterly Numbers", rec.Title)
}

func TestUploadDerivesTypeFromFilenameNotMetadata(t *testing.T) {
	svc, _, _ := newTestService(t)
	rec, err := svc.Upload(context.Background(), UploadInput{
		Filename:    "photo.png",
		OwnerID:     "u1",
		Content:     strings.NewReader("not really a png"),
		Size:        int64(len("not really a png")),
		ContentType: "application/x-msdownload",
	})
	require.NoError(t, err)
	assert.Equal(t, "png", rec.FileType)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	svc, meta, _ := newTestService(t)

	_, err := svc.Upload(context.Background(), UploadInput{
		Filename: "malware.exe",
		OwnerID:  "u1",
		Content:  strings.NewReader("nope"),
		Size:     4,
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.ErrorIs(t, err, validation.ErrUnsupportedFileType)

	owners, err := meta.ListOwners(context.Background())
	require.NoError(t, err)
	assert.Empty(t, owners, "no record may exist after a rejected upload")
}

func TestUploadRejectsOversizePayload(t *testing.T) {
	svc, meta, _ := newTestService(t)

	_, err := svc.Upload(context.Background(), UploadInput{
		Filename: "big.pdf",
		OwnerID:  "u1",
		Content:  bytes.NewReader(nil),
		Size:     15 << 20,
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.ErrorIs(t, err, validation.ErrPayloadTooLarge)

	owners, err := meta.ListOwners(context.Background())
	require.NoError(t, err)
	assert.Empty(t, owners)
}

func TestUploadRejectsPathTraversalFilename(t *testing.T) {
	svc, _, _ := newTestService(t)
	rec := upload(t, svc, "../../etc/secrets.txt", "", "u1", "x")
	assert.Equal(t, "txt", rec.FileType)
	assert.NotContains(t, rec.ObjectKey, "..", "object key must not carry traversal segments")
}

// failingMeta rejects Create so the upload rollback path can be observed.
type failingMeta struct {
	*storage.MemoryStore
}

func (f *failingMeta) Create(context.Context, *model.FileRecord) error {
	return errors.New("connection reset")
}

// flakyBlobs refuses Remove to force the cleanup-queue fallback.
type flakyBlobs struct {
	*storage.MemoryBlobStore
	failRemove bool
	lastPutKey string
}

func (f *flakyBlobs) Put(ctx context.Context, key string, r io.Reader, size int64, ct string) error {
	f.lastPutKey = key
	return f.MemoryBlobStore.Put(ctx, key, r, size, ct)
}

func (f *flakyBlobs) Remove(ctx context.Context, key string) error {
	if f.failRemove {
		return errors.New("remove refused")
	}
	return f.MemoryBlobStore.Remove(ctx, key)
}

type recordingCleanup struct {
	keys []string
}

func (r *recordingCleanup) EnqueueBlobCleanup(_ context.Context, objectKey string) error {
	r.keys = append(r.keys, objectKey)
	return nil
}

func TestUploadRollsBackBlobOnPersistFailure(t *testing.T) {
	blobs := &flakyBlobs{MemoryBlobStore: storage.NewMemoryBlobStore()}
	svc := New(testRules(), &failingMeta{storage.NewMemoryStore()}, blobs, nil, zap.NewNop())

	_, err := svc.Upload(context.Background(), UploadInput{
		Filename: "doc.txt",
		OwnerID:  "u1",
		Content:  strings.NewReader("hello"),
		Size:     5,
	})
	require.Error(t, err)
	assert.False(t, IsValidation(err))

	exists, err := blobs.Exists(context.Background(), blobs.lastPutKey)
	require.NoError(t, err)
	assert.False(t, exists, "orphaned blob must be deleted when the record persist fails")
}

func TestUploadRollbackFallsBackToCleanupQueue(t *testing.T) {
	blobs := &flakyBlobs{MemoryBlobStore: storage.NewMemoryBlobStore(), failRemove: true}
	cleanup := &recordingCleanup{}
	svc := New(testRules(), &failingMeta{storage.NewMemoryStore()}, blobs, cleanup, zap.NewNop())

	_, err := svc.Upload(context.Background(), UploadInput{
		Filename: "doc.txt",
		OwnerID:  "u1",
		Content:  strings.NewReader("hello"),
		Size:     5,
	})
	require.Error(t, err)
	require.Len(t, cleanup.keys, 1)
	assert.Equal(t, blobs.lastPutKey, cleanup.keys[0])
}

func TestDownloadRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	content := "round trip payload"
	rec := upload(t, svc, "notes.txt", "", "u1", content)

	res, err := svc.Download(context.Background(), rec.ID)
	require.NoError(t, err)
	defer res.Content.Close()

	data, err := io.ReadAll(res.Content)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
	assert.Equal(t, "notes.txt", res.Filename)
}

func TestDownloadUnknownIDIsNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Download(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDownloadMissingBlobIsNotFound(t *testing.T) {
	svc, _, blobs := newTestService(t)
	rec := upload(t, svc, "notes.txt", "", "u1", "x")

	require.NoError(t, blobs.Remove(context.Background(), rec.ObjectKey))

	_, err := svc.Download(context.Background(), rec.ID)
	assert.ErrorIs(t, err, ErrNotFound, "blob absence surfaces as NotFound")
}

func TestMoveToBinAndRestoreAreIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	rec := upload(t, svc, "a.txt", "", "u1", "x")

	require.NoError(t, svc.MoveToBin(ctx, rec.ID))
	require.NoError(t, svc.MoveToBin(ctx, rec.ID), "binning a binned file succeeds")
	got, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDeleted, got.State)

	require.NoError(t, svc.Restore(ctx, rec.ID))
	require.NoError(t, svc.Restore(ctx, rec.ID), "restoring a restored file succeeds")
	got, err = svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateRestored, got.State)
}

func TestBinVisibilityTransitions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	rec := upload(t, svc, "a.txt", "", "u1", "x")

	require.NoError(t, svc.MoveToBin(ctx, rec.ID))

	restored, err := svc.ListRestored(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, restored)

	bin, err := svc.ListBin(ctx)
	require.NoError(t, err)
	require.Len(t, bin, 1)
	assert.Equal(t, rec.ID, bin[0].ID)

	require.NoError(t, svc.Restore(ctx, rec.ID))

	restored, err = svc.ListRestored(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, rec.ID, restored[0].ID)

	bin, err = svc.ListBin(ctx)
	require.NoError(t, err)
	assert.Empty(t, bin)
}

func TestShareWithIsSetUnion(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	rec := upload(t, svc, "a.txt", "", "u1", "x")

	require.NoError(t, svc.ShareWith(ctx, rec.ID, []string{"u2", "u2", " ", ""}))
	require.NoError(t, svc.ShareWith(ctx, rec.ID, []string{"u2", "u3"}))

	got, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u2", "u3"}, got.SharedUserIDs)

	shared, err := svc.ListShared(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, rec.ID, shared[0].ID)
}

func TestSharedVisibilityOnlyWhileRestored(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	rec := upload(t, svc, "a.txt", "", "u1", "x")
	require.NoError(t, svc.ShareWith(ctx, rec.ID, []string{"u2"}))

	require.NoError(t, svc.MoveToBin(ctx, rec.ID))
	shared, err := svc.ListShared(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, shared, "share membership grants visibility only for restored files")
}

func TestPermanentlyDelete(t *testing.T) {
	svc, _, blobs := newTestService(t)
	ctx := context.Background()
	rec := upload(t, svc, "a.txt", "", "u1", "x")

	// Callable directly from restored, no binning required.
	require.NoError(t, svc.PermanentlyDelete(ctx, rec.ID))

	exists, err := blobs.Exists(ctx, rec.ObjectKey)
	require.NoError(t, err)
	assert.False(t, exists, "permanent delete removes the blob")

	_, err = svc.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Download(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.MoveToBin(ctx, rec.ID), ErrNotFound)
	assert.ErrorIs(t, svc.Restore(ctx, rec.ID), ErrNotFound)
	assert.ErrorIs(t, svc.ShareWith(ctx, rec.ID, []string{"u2"}), ErrNotFound)
	assert.ErrorIs(t, svc.PermanentlyDelete(ctx, rec.ID), ErrNotFound)
}

func TestIDsAreNeverReused(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		rec := upload(t, svc, "a.txt", "", "u1", "x")
		require.False(t, seen[rec.ID], "id %s reused", rec.ID)
		seen[rec.ID] = true
		require.NoError(t, svc.PermanentlyDelete(ctx, rec.ID))
	}
}

func TestListingsAreNewestFirst(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	base := time.Date(2025, 5, 23, 12, 0, 0, 0, time.UTC)
	step := 0
	svc.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Minute)
	}

	first := upload(t, svc, "first.txt", "", "u1", "1")
	second := upload(t, svc, "second.txt", "", "u1", "2")
	third := upload(t, svc, "third.txt", "", "u1", "3")

	records, err := svc.ListRestored(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, third.ID, records[0].ID)
	assert.Equal(t, second.ID, records[1].ID)
	assert.Equal(t, first.ID, records[2].ID)
}

func TestListingsWithMissingIdentityAreEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	upload(t, svc, "a.txt", "", "u1", "x")

	records, err := svc.ListRestored(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = svc.ListShared(ctx, "   ")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestListOwnersIsDistinctAcrossStates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	upload(t, svc, "a.txt", "", "u1", "x")
	upload(t, svc, "b.txt", "", "u1", "x")
	binned := upload(t, svc, "c.txt", "", "u2", "x")
	require.NoError(t, svc.MoveToBin(ctx, binned.ID))

	owners, err := svc.ListOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, owners)
}

func TestSweepExpiredPurgesOnlyOldBinnedFiles(t *testing.T) {
	svc, meta, blobs := newTestService(t)
	ctx := context.Background()

	stale := &model.FileRecord{
		ID:         "stale",
		Title:      "stale",
		ObjectKey:  "files/stale/stale.txt",
		FileType:   "txt",
		State:      model.StateDeleted,
		OwnerID:    "u1",
		UploadedAt: time.Now().UTC().Add(-60 * 24 * time.Hour),
		UpdatedAt:  time.Now().UTC().Add(-45 * 24 * time.Hour),
	}
	require.NoError(t, meta.Create(ctx, stale))
	require.NoError(t, blobs.Put(ctx, stale.ObjectKey, strings.NewReader("old"), 3, ""))

	fresh := upload(t, svc, "fresh.txt", "", "u1", "x")
	require.NoError(t, svc.MoveToBin(ctx, fresh.ID))

	purged, err := svc.SweepExpired(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = svc.Get(ctx, "stale")
	assert.ErrorIs(t, err, ErrNotFound)
	exists, err := blobs.Exists(ctx, stale.ObjectKey)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = svc.Get(ctx, fresh.ID)
	assert.NoError(t, err, "recently binned file survives the sweep")
}

func TestSweepDisabledWithZeroRetention(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	rec := upload(t, svc, "a.txt", "", "u1", "x")
	require.NoError(t, svc.MoveToBin(ctx, rec.ID))

	purged, err := svc.SweepExpired(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, purged)
}

// The end-to-end walk from the acceptance scenario: upload, bin, restore,
// share, permanently delete.
func TestFileLifecycleScenario(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	content := strings.Repeat("r", 2<<20)
	rec, err := svc.Upload(ctx, UploadInput{
		Filename: "report.pdf",
		OwnerID:  "u1",
		Content:  strings.NewReader(content),
		Size:     int64(len(content)),
	})
	require.NoError(t, err)
	assert.Equal(t, "pdf", rec.FileType)
	assert.Equal(t, model.StateRestored, rec.State)

	require.NoError(t, svc.MoveToBin(ctx, rec.ID))
	restored, err := svc.ListRestored(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, restored)
	bin, err := svc.ListBin(ctx)
	require.NoError(t, err)
	require.Len(t, bin, 1)

	require.NoError(t, svc.Restore(ctx, rec.ID))
	restored, err = svc.ListRestored(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, restored, 1)

	require.NoError(t, svc.ShareWith(ctx, rec.ID, []string{"u2"}))
	shared, err := svc.ListShared(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, shared, 1)

	require.NoError(t, svc.PermanentlyDelete(ctx, rec.ID))
	_, err = svc.Download(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotFoundIsLoggedWithOperation(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	svc := New(testRules(), storage.NewMemoryStore(), storage.NewMemoryBlobStore(), nil, zap.New(core))

	_, err := svc.Get(context.Background(), "missing-id")
	require.ErrorIs(t, err, ErrNotFound)

	entries := logs.FilterMessage("file not found").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "get", fields["op"])
	assert.Equal(t, "missing-id", fields["id"])
}
