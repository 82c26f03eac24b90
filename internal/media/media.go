// Package media stores finalized capture artifacts and hands out stable
// references to them.
//
// A reference is minted per upload; re-uploading for the same attempt mints a
// fresh reference and the stale one simply stops resolving once removed.
// References are opaque identifiers, safe to embed in URLs.
package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a reference does not resolve to a stored
// artifact.
var ErrNotFound = errors.New("media: artifact not found")

// Blob is a stored artifact payload.
type Blob struct {
	Data        []byte
	ContentType string
}

// Store persists capture artifacts.
type Store interface {
	// Put stores the artifact and returns a new stable reference to it.
	Put(ctx context.Context, blob Blob) (string, error)

	// Get resolves a reference, or returns ErrNotFound.
	Get(ctx context.Context, ref string) (*Blob, error)

	// Remove deletes the artifact behind ref. Removing an unknown or
	// already-removed reference is not an error.
	Remove(ctx context.Context, ref string) error
}

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// FileStore persists artifacts as files under a local directory. Each
// artifact is two files: <ref> holds the payload and <ref>.ct holds the
// content type. Thread-safe for concurrent use.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating the directory if
// needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Put implements Store.
func (s *FileStore) Put(_ context.Context, blob Blob) (string, error) {
	ref := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.path(ref), blob.Data, 0o644); err != nil {
		return "", fmt.Errorf("media: write artifact: %w", err)
	}
	if err := os.WriteFile(s.path(ref)+".ct", []byte(blob.ContentType), 0o644); err != nil {
		os.Remove(s.path(ref))
		return "", fmt.Errorf("media: write content type: %w", err)
	}
	return ref, nil
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, ref string) (*Blob, error) {
	if !validRef(ref) {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("media: read artifact: %w", err)
	}

	ct, err := os.ReadFile(s.path(ref) + ".ct")
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("media: read content type: %w", err)
	}
	return &Blob{Data: data, ContentType: string(ct)}, nil
}

// Remove implements Store.
func (s *FileStore) Remove(_ context.Context, ref string) error {
	if !validRef(ref) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(ref)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("media: remove artifact: %w", err)
	}
	if err := os.Remove(s.path(ref) + ".ct"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("media: remove content type: %w", err)
	}
	return nil
}

func (s *FileStore) path(ref string) string {
	return filepath.Join(s.dir, ref)
}

// validRef rejects anything that is not a UUID so references can never
// escape the store directory.
func validRef(ref string) bool {
	if strings.ContainsAny(ref, "/\\.") {
		return false
	}
	_, err := uuid.Parse(ref)
	return err == nil
}
