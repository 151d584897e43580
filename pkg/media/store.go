package media

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

// MediaMeta holds metadata about a stored media file.
type MediaMeta struct {
	Filename    string // user-facing name, e.g. "<sanitized title>.mp3"
	ContentType string
	Source      string // external identifier the file was keyed by
}

// MediaStore manages the lifecycle of media files associated with processing scopes.
type MediaStore interface {
	// Store registers an existing local file under the given scope.
	// Returns a ref identifier (e.g. "media://<id>").
	// Store does not move or copy the file; it only records the mapping.
	Store(localPath string, meta MediaMeta, scope string) (ref string, err error)

	// Resolve returns the local file path for a given ref.
	Resolve(ref string) (localPath string, meta MediaMeta, err error)

	// ReleaseAll deletes all files registered under the given scope
	// and removes the mapping entries. File-not-exist errors are ignored.
	ReleaseAll(scope string) error
}

type entry struct {
	path string
	meta MediaMeta
}

// FileMediaStore is an in-memory index over files that already exist on disk.
type FileMediaStore struct {
	mu          sync.RWMutex
	refs        map[string]entry
	scopeToRefs map[string]map[string]struct{}
}

func NewFileMediaStore() *FileMediaStore {
	return &FileMediaStore{
		refs:        make(map[string]entry),
		scopeToRefs: make(map[string]map[string]struct{}),
	}
}

// Store registers a local file under the given scope. The file must exist.
func (s *FileMediaStore) Store(localPath string, meta MediaMeta, scope string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("media store: file does not exist: %s", localPath)
	}
	if info.IsDir() {
		return "", fmt.Errorf("media store: not a regular file: %s", localPath)
	}

	ref := "media://" + uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs[ref] = entry{path: localPath, meta: meta}
	if s.scopeToRefs[scope] == nil {
		s.scopeToRefs[scope] = make(map[string]struct{})
	}
	s.scopeToRefs[scope][ref] = struct{}{}

	return ref, nil
}

func (s *FileMediaStore) Resolve(ref string) (string, MediaMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.refs[ref]
	if !ok {
		return "", MediaMeta{}, fmt.Errorf("media store: unknown ref: %s", ref)
	}
	return e.path, e.meta, nil
}

// ReleaseAll removes all files under the given scope and forgets them.
// Every file is attempted; removal errors other than not-exist are joined.
func (s *FileMediaStore) ReleaseAll(scope string) error {
	s.mu.Lock()
	refs, ok := s.scopeToRefs[scope]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	paths := make([]string, 0, len(refs))
	for ref := range refs {
		if e, exists := s.refs[ref]; exists {
			paths = append(paths, e.path)
			delete(s.refs, ref)
		}
	}
	delete(s.scopeToRefs, scope)
	s.mu.Unlock()

	var errs []error
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("media store: remove %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// Len reports how many files are currently tracked.
func (s *FileMediaStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.refs)
}
