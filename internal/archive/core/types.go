// Package core defines the object store abstraction snapshot archives are
// written to.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Driver identifies a concrete archive backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local directory
	DriverS3         Driver = "s3"     // S3 / MinIO compatible
	DriverMemory     Driver = "memory" // process memory
)

var (
	// ErrNotFound is returned when no object is stored under a key.
	ErrNotFound = errors.New("archive: object not found")
	// ErrInvalidKey is returned for keys that are empty or escape the store.
	ErrInvalidKey = errors.New("archive: invalid key")
)

// WriteOptions carries optional object attributes.
type WriteOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Entry describes a stored object.
type Entry struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	Digest       string            `json:"digest,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is a flat key/object store. Write replaces any existing object.
type Store interface {
	Write(ctx context.Context, key string, r io.Reader, opts WriteOptions) (Entry, error)
	Read(ctx context.Context, key string) (Entry, io.ReadCloser, error)
	Stat(ctx context.Context, key string) (Entry, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Entry, error)
	Driver() Driver
}

// CleanKey normalises key to a slash separated relative path.
func CleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q escapes the store", ErrInvalidKey, key)
		}
	}
	return path.Clean(key), nil
}

// CloneMetadata copies a metadata map.
func CloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
