// Package validation decides whether an upload is acceptable before any
// storage side effect occurs. Everything here is a pure function of its
// inputs so the rules are trivially testable.
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFileType means the filename extension is missing or not
	// on the configured allow-list.
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrPayloadTooLarge means the payload exceeds the configured maximum.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrUnsafeFilename means the filename does not reduce to a plain base
	// name and could escape the storage root.
	ErrUnsafeFilename = errors.New("unsafe filename")
)

// Rules carries the configured limits. Injected at construction rather than
// read from ambient global state.
type Rules struct {
	MaxUploadSize     int64
	AllowedExtensions []string
}

// Extension returns the filename's final dot-suffix, lower-cased and without
// the dot. An empty result means the filename has no usable extension.
func Extension(filename string) string {
	ext := filepath.Ext(filename)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// Stem returns the base filename without its extension, used as the default
// title for uploads that do not supply one.
func Stem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SanitizeFilename reduces a client-supplied filename to its base name and
// rejects anything containing path-separator content.
func SanitizeFilename(filename string) (string, error) {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeFilename, filename)
	}
	if strings.ContainsAny(base, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeFilename, filename)
	}
	return base, nil
}

// ValidateUpload checks a candidate (filename, size) pair against the rules.
// It must be called before any blob or record is written.
func (r Rules) ValidateUpload(filename string, size int64) error {
	if _, err := SanitizeFilename(filename); err != nil {
		return err
	}
	ext := Extension(filename)
	if ext == "" || !r.extensionAllowed(ext) {
		return fmt.Errorf("%w: %q (allowed: %s)", ErrUnsupportedFileType, ext, strings.Join(r.AllowedExtensions, ", "))
	}
	return r.validateSize(size)
}

// ValidateRecord re-checks the derived record fields as a record-level
// constraint. Must agree with ValidateUpload on the same inputs.
func (r Rules) ValidateRecord(fileType string, size int64) error {
	if fileType == "" || !r.extensionAllowed(fileType) {
		return fmt.Errorf("%w: %q", ErrUnsupportedFileType, fileType)
	}
	return r.validateSize(size)
}

func (r Rules) validateSize(size int64) error {
	if size < 0 || size > r.MaxUploadSize {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, size, r.MaxUploadSize)
	}
	return nil
}

func (r Rules) extensionAllowed(ext string) bool {
	for _, allowed := range r.AllowedExtensions {
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}
	return false
}
