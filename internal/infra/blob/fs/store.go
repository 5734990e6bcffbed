// Package fs implements the archive store on a local directory. Each object
// has a JSON sidecar (`<key>.meta`) holding its entry attributes.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"thingsync/internal/archive/core"
)

const metaSuffix = ".meta"

// Store roots every key under a directory.
type Store struct {
	root string
}

// New returns a store rooted at root, creating it if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = "./archive"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create archive root: %w", err)
	}
	return &Store{root: root}, nil
}

// Driver reports core.DriverFilesystem.
func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// Root returns the directory objects are stored under.
func (s *Store) Root() string { return s.root }

type metaFile struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Digest      string            `json:"digest"`
	Size        int64             `json:"size"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (m metaFile) entry(key string) core.Entry {
	return core.Entry{
		Key:          key,
		Size:         m.Size,
		ContentType:  m.ContentType,
		Digest:       m.Digest,
		Metadata:     core.CloneMetadata(m.Metadata),
		LastModified: m.UpdatedAt,
	}
}

func (s *Store) paths(key string) (string, string, string, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return "", "", "", err
	}
	if strings.HasSuffix(k, metaSuffix) {
		return "", "", "", fmt.Errorf("%w: %q uses the reserved %s suffix", core.ErrInvalidKey, k, metaSuffix)
	}
	data := filepath.Join(s.root, filepath.FromSlash(k))
	return k, data, data + metaSuffix, nil
}

// Write streams r to a temp file and renames it over the object.
func (s *Store) Write(_ context.Context, key string, r io.Reader, opts core.WriteOptions) (core.Entry, error) {
	k, dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return core.Entry{}, err
	}
	dir := filepath.Dir(dataPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return core.Entry{}, err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return core.Entry{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return core.Entry{}, fmt.Errorf("write %s: %w", k, err)
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return core.Entry{}, err
	}
	mf := metaFile{
		ContentType: opts.ContentType,
		Metadata:    core.CloneMetadata(opts.Metadata),
		Digest:      hex.EncodeToString(h.Sum(nil)),
		Size:        size,
		UpdatedAt:   time.Now().UTC(),
	}
	b, err := json.MarshalIndent(mf, "", "  ")
	if err != nil {
		return core.Entry{}, err
	}
	if err := os.WriteFile(metaPath, b, 0o644); err != nil {
		return core.Entry{}, err
	}
	return mf.entry(k), nil
}

// Read opens the object file.
func (s *Store) Read(ctx context.Context, key string) (core.Entry, io.ReadCloser, error) {
	entry, err := s.Stat(ctx, key)
	if err != nil {
		return core.Entry{}, nil, err
	}
	_, dataPath, _, _ := s.paths(key)
	file, err := os.Open(dataPath)
	if err != nil {
		return core.Entry{}, nil, notFound(entry.Key, err)
	}
	return entry, file, nil
}

// Stat reads the object's sidecar.
func (s *Store) Stat(_ context.Context, key string) (core.Entry, error) {
	k, _, metaPath, err := s.paths(key)
	if err != nil {
		return core.Entry{}, err
	}
	mf, err := readMeta(metaPath)
	if err != nil {
		return core.Entry{}, notFound(k, err)
	}
	return mf.entry(k), nil
}

// Delete removes the object and its sidecar.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	_, dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(dataPath); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	_ = os.Remove(metaPath)
	return true, nil
}

// List walks the root for sidecars whose key has prefix.
func (s *Store) List(_ context.Context, prefix string) ([]core.Entry, error) {
	var out []core.Entry
	err := filepath.WalkDir(s.root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, metaSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(path, metaSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		mf, err := readMeta(path)
		if err != nil {
			return err
		}
		out = append(out, mf.entry(key))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func readMeta(path string) (metaFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return metaFile{}, err
	}
	var mf metaFile
	if err := json.Unmarshal(b, &mf); err != nil {
		return metaFile{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return mf, nil
}

func notFound(key string, err error) error {
	if errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("%w: %s", core.ErrNotFound, key)
	}
	return err
}
