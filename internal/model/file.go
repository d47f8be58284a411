// Package model contains struct definitions shared across packages.
package model

import (
	"time"
)

// FileState describes the soft-delete lifecycle of a file. A file starts out
// restored, may move to deleted (the bin) and back, and leaves the state
// machine entirely when it is permanently deleted.
type FileState string

const (
	StateRestored FileState = "restored"
	StateDeleted  FileState = "deleted"
)

// FileRecord holds metadata about an uploaded file. The binary payload lives
// in the blob store under ObjectKey; ObjectKey is omitted from JSON output
// because of the "-" struct tag so storage layout never leaks to clients.
type FileRecord struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	ObjectKey     string    `json:"-"`
	FileType      string    `json:"fileType"`
	FileSize      int64     `json:"fileSize"`
	State         FileState `json:"state"`
	OwnerID       string    `json:"ownerId"`
	SharedUserIDs []string  `json:"sharedUserIds"`
	UploadedAt    time.Time `json:"uploadedAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// IsSharedWith reports whether the given user id is a member of the share set.
func (r *FileRecord) IsSharedWith(userID string) bool {
	for _, id := range r.SharedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
