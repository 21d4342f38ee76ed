package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DiskConfig configures the local directory backend.
type DiskConfig struct {
	Dir string `yaml:"dir"`
}

var _ Uploader = (*DiskUploader)(nil)

// DiskUploader stores objects as files below a root directory. Object names may
// contain slashes; they map to subdirectories.
type DiskUploader struct {
	root string
}

// NewDiskUploader creates root if needed.
func NewDiskUploader(root string) (*DiskUploader, error) {
	if root == "" {
		return nil, fmt.Errorf("disk storage: dir is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &DiskUploader{root: root}, nil
}

// Upload copies r into the named file. The file is written next to its target and
// renamed into place, so readers never see a partial object.
func (u *DiskUploader) Upload(ctx context.Context, name string, r io.ReadSeeker, _ int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := u.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("create object file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write object %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write object %q: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("store object %q: %w", name, err)
	}
	return nil
}

func (u *DiskUploader) Location(name string) string {
	return filepath.Join(u.root, filepath.FromSlash(name))
}

func (u *DiskUploader) Close() error { return nil }

// Usage returns the total size in bytes of all stored objects.
func (u *DiskUploader) Usage() (int64, error) {
	var total int64
	err := filepath.Walk(u.root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func (u *DiskUploader) path(name string) (string, error) {
	local := filepath.FromSlash(name)
	if name == "" || !filepath.IsLocal(local) {
		return "", fmt.Errorf("invalid object name %q", name)
	}
	return filepath.Join(u.root, local), nil
}
