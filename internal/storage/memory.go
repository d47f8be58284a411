// Package storage contains in-memory implementations of the metadata and
// blob stores. They back the --memory development mode and the unit tests;
// production wiring uses Postgres and MinIO instead.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/HilloriDesai/FileUpload/internal/model"
	"github.com/HilloriDesai/FileUpload/internal/repository"
)

// MemoryStore is a metadata store backed by a mutex-guarded map. It mirrors
// the repository's semantics, including ErrNotFound and the newest-first,
// insertion-order-stable listing contract.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string]*memoryEntry
	seq   int64
}

type memoryEntry struct {
	rec *model.FileRecord
	seq int64
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string]*memoryEntry)}
}

// Create inserts a record, defaulting timestamps and state like the SQL
// repository does.
func (m *MemoryStore) Create(_ context.Context, rec *model.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	if rec.State == "" {
		rec.State = model.StateRestored
	}
	if rec.SharedUserIDs == nil {
		rec.SharedUserIDs = []string{}
	}
	m.seq++
	m.files[rec.ID] = &memoryEntry{rec: cloneRecord(rec), seq: m.seq}
	return nil
}

// Get returns a copy of the record or repository.ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, id string) (*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneRecord(entry.rec), nil
}

// SetState transitions the record between restored and deleted.
func (m *MemoryStore) SetState(_ context.Context, id string, state model.FileState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.files[id]
	if !ok {
		return repository.ErrNotFound
	}
	entry.rec.State = state
	entry.rec.UpdatedAt = time.Now().UTC()
	return nil
}

// AddSharedUsers unions the given ids into the share set.
func (m *MemoryStore) AddSharedUsers(_ context.Context, id string, userIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.files[id]
	if !ok {
		return repository.ErrNotFound
	}
	for _, userID := range userIDs {
		if userID == "" || entry.rec.IsSharedWith(userID) {
			continue
		}
		entry.rec.SharedUserIDs = append(entry.rec.SharedUserIDs, userID)
	}
	sort.Strings(entry.rec.SharedUserIDs)
	entry.rec.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes the record permanently.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.files, id)
	return nil
}

// ListRestored returns restored files owned by ownerID, newest first.
func (m *MemoryStore) ListRestored(_ context.Context, ownerID string) ([]*model.FileRecord, error) {
	return m.list(func(rec *model.FileRecord) bool {
		return rec.State == model.StateRestored && rec.OwnerID == ownerID
	}), nil
}

// ListShared returns restored files shared with userID, newest first.
func (m *MemoryStore) ListShared(_ context.Context, userID string) ([]*model.FileRecord, error) {
	return m.list(func(rec *model.FileRecord) bool {
		return rec.State == model.StateRestored && rec.IsSharedWith(userID)
	}), nil
}

// ListBin returns all deleted files, newest first.
func (m *MemoryStore) ListBin(_ context.Context) ([]*model.FileRecord, error) {
	return m.list(func(rec *model.FileRecord) bool {
		return rec.State == model.StateDeleted
	}), nil
}

// ListExpiredBin returns deleted files last touched before the cutoff.
func (m *MemoryStore) ListExpiredBin(_ context.Context, before time.Time) ([]*model.FileRecord, error) {
	return m.list(func(rec *model.FileRecord) bool {
		return rec.State == model.StateDeleted && rec.UpdatedAt.Before(before)
	}), nil
}

// ListOwners returns the distinct owner ids across all records.
func (m *MemoryStore) ListOwners(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	owners := []string{}
	for _, entry := range m.files {
		if _, ok := seen[entry.rec.OwnerID]; ok {
			continue
		}
		seen[entry.rec.OwnerID] = struct{}{}
		owners = append(owners, entry.rec.OwnerID)
	}
	sort.Strings(owners)
	return owners, nil
}

func (m *MemoryStore) list(keep func(*model.FileRecord) bool) []*model.FileRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := []*memoryEntry{}
	for _, entry := range m.files {
		if keep(entry.rec) {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].rec.UploadedAt.Equal(entries[j].rec.UploadedAt) {
			return entries[i].rec.UploadedAt.After(entries[j].rec.UploadedAt)
		}
		return entries[i].seq > entries[j].seq
	})
	records := make([]*model.FileRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, cloneRecord(entry.rec))
	}
	return records
}

// cloneRecord copies the record including the SharedUserIDs backing array, so
// stored entries and returned records never alias each other.
func cloneRecord(rec *model.FileRecord) *model.FileRecord {
	clone := *rec
	clone.SharedUserIDs = make([]string, len(rec.SharedUserIDs))
	copy(clone.SharedUserIDs, rec.SharedUserIDs)
	return &clone
}

// MemoryBlobStore keeps payloads in a map, satisfying the same contract as
// the MinIO-backed store.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore constructs a MemoryBlobStore.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

// Put stores the payload under the object key.
func (m *MemoryBlobStore) Put(_ context.Context, objectKey string, reader io.Reader, size int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("payload size mismatch: got %d, want %d", len(data), size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[objectKey] = data
	return nil
}

// Get opens the payload for reading.
func (m *MemoryBlobStore) Get(_ context.Context, objectKey string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[objectKey]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", objectKey)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists reports whether the payload is present.
func (m *MemoryBlobStore) Exists(_ context.Context, objectKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[objectKey]
	return ok, nil
}

// Remove deletes the payload; removing an absent payload is a no-op.
func (m *MemoryBlobStore) Remove(_ context.Context, objectKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, objectKey)
	return nil
}
