package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Compile-time interface check
var _ Store = (*FilesystemStore)(nil)

// FilesystemStore keeps audio blobs as files in a single directory.
// This is the default backend for local development.
type FilesystemStore struct {
	dir string
}

func NewFilesystemStore(dir string) (*FilesystemStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &FilesystemStore{dir: dir}, nil
}

func (s *FilesystemStore) Save(ctx context.Context, key string, r io.Reader) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create blob file: %w", err)
	}

	// Copy in chunks so a cancelled context aborts a slow upload instead of
	// hanging the connection.
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			f.Close()
			os.Remove(path)
			return err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				os.Remove(path)
				return fmt.Errorf("write blob: %w", werr)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			os.Remove(path)
			return fmt.Errorf("read upload: %w", rerr)
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close blob file: %w", err)
	}
	return nil
}

func (s *FilesystemStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open blob file: %w", err)
	}
	return f, nil
}

func (s *FilesystemStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob file: %w", err)
	}
	return nil
}

// path validates the key against traversal before joining it onto the
// storage directory. Keys are server-generated, but /play/{file} echoes
// client input back at us.
func (s *FilesystemStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, "/\\") || strings.Contains(key, "..") {
		return "", ErrNotFound
	}
	return filepath.Join(s.dir, key), nil
}
