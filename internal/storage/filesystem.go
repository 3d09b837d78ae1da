package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps images under <root>/<username>/<username>.jpg.
// Concurrent saves for one user are last-write-wins.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve image root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create image root %s: %w", abs, err)
	}
	return &FileStore{root: filepath.Clean(abs)}, nil
}

func (s *FileStore) Root() string { return s.root }

// UserDir returns the directory owned by username.
func (s *FileStore) UserDir(username string) (string, error) {
	if err := validUsername(username); err != nil {
		return "", err
	}
	return filepath.Join(s.root, username), nil
}

func (s *FileStore) Save(_ context.Context, username string, body io.Reader) error {
	dir, err := s.UserDir(username)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create user folder: %w", err)
	}
	target := filepath.Join(dir, FileName(username))
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove previous image: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp image: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close image: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("move image into place: %w", err)
	}
	return nil
}

func (s *FileStore) Open(_ context.Context, username, fileName string) (io.ReadCloser, error) {
	dir, err := s.UserDir(username)
	if err != nil {
		return nil, err
	}
	if fileName == "" || filepath.Base(fileName) != fileName || fileName == "." || fileName == ".." {
		return nil, ErrImageNotFound
	}
	f, err := os.Open(filepath.Join(dir, fileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrImageNotFound
		}
		return nil, fmt.Errorf("open image: %w", err)
	}
	return f, nil
}

// DeleteAll removes the user's directory recursively; a missing directory is not an error.
func (s *FileStore) DeleteAll(_ context.Context, username string) error {
	dir, err := s.UserDir(username)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete user folder: %w", err)
	}
	return nil
}
