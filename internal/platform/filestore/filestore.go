package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrTooLarge    = errors.New("file exceeds the upload size limit")
	ErrOutsideRoot = errors.New("path escapes the upload directory")
	ErrNotFound    = errors.New("file not found")
)

// Store keeps uploads under root/{conversation_uid}/. Paths handed out are
// relative to root.
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir failed: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir failed: %w", err)
	}
	return &Store{root: abs}, nil
}

func (s *Store) Root() string { return s.root }

// Save copies r into the conversation directory under filename, adding a
// numeric suffix when the name is taken. At most limit bytes are accepted
// when limit is positive.
func (s *Store) Save(conversationUID, filename string, r io.Reader, limit int64) (rel string, size int64, err error) {
	dir, err := s.Resolve(conversationUID)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create conversation dir failed: %w", err)
	}

	f, name, err := createUnique(dir, filename)
	if err != nil {
		return "", 0, err
	}
	path := filepath.Join(dir, name)

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	size, err = io.Copy(f, src)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("write upload failed: %w", err)
	}
	if limit > 0 && size > limit {
		_ = os.Remove(path)
		return "", 0, ErrTooLarge
	}
	return filepath.ToSlash(filepath.Join(conversationUID, name)), size, nil
}

func createUnique(dir, filename string) (*os.File, string, error) {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	name := filename
	for i := 2; ; i++ {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, os.ErrExist) || i > 1000 {
			return nil, "", fmt.Errorf("create upload file failed: %w", err)
		}
		name = fmt.Sprintf("%s-%d%s", base, i, ext)
	}
}

// Resolve turns a stored relative path into an absolute one, refusing any
// path that leaves the root.
func (s *Store) Resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", ErrOutsideRoot
	}
	full := filepath.Join(s.root, filepath.FromSlash(rel))
	within, err := filepath.Rel(s.root, full)
	if err != nil || within == "." || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return full, nil
}

// Open resolves rel and checks that a regular file exists there.
func (s *Store) Open(rel string) (string, error) {
	full, err := s.Resolve(rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return full, nil
}

func (s *Store) Remove(rel string) error {
	full, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove upload failed: %w", err)
	}
	return nil
}

func (s *Store) RemoveConversation(conversationUID string) error {
	dir, err := s.Resolve(conversationUID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove conversation uploads failed: %w", err)
	}
	return nil
}
