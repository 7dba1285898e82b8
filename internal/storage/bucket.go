package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when a storage object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// FileInfo describes one object in a bucket listing.
type FileInfo struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sort columns accepted by ListOptions.SortBy.
const (
	SortByName      = "name"
	SortByUpdatedAt = "updated_at"
)

// ListOptions pages and orders a folder listing.
type ListOptions struct {
	Limit  int
	Offset int
	SortBy string
	Search string // name substring filter
}

// Bucket is the object store holding Markdown disclosure files.
type Bucket interface {
	Download(ctx context.Context, objectPath string) ([]byte, error)
	List(ctx context.Context, folder string, opts ListOptions) ([]FileInfo, error)
}

// DirBucket serves a bucket from a local directory.
type DirBucket struct {
	root string
}

// NewDirBucket returns a bucket rooted at dir.
func NewDirBucket(dir string) *DirBucket {
	return &DirBucket{root: dir}
}

// resolve maps an object path onto the root. ".." segments are clamped at the root.
func (b *DirBucket) resolve(objectPath string) string {
	clean := path.Clean("/" + strings.TrimPrefix(objectPath, "/"))
	if clean == "/" {
		return b.root
	}
	return filepath.Join(b.root, filepath.FromSlash(clean[1:]))
}

// Download reads the whole object.
func (b *DirBucket) Download(ctx context.Context, objectPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.resolve(objectPath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", objectPath, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", objectPath, err)
	}
	return data, nil
}

// List returns the regular files directly under folder.
func (b *DirBucket) List(ctx context.Context, folder string, opts ListOptions) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(b.resolve(folder))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", folder, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", folder, err)
	}

	files := make([]FileInfo, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		if opts.Search != "" && !strings.Contains(de.Name(), opts.Search) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{Name: de.Name(), Size: info.Size(), UpdatedAt: info.ModTime()})
	}

	if opts.SortBy == SortByUpdatedAt {
		sort.SliceStable(files, func(i, j int) bool { return files[i].UpdatedAt.Before(files[j].UpdatedAt) })
	} else {
		sort.SliceStable(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(files) {
			return []FileInfo{}, nil
		}
		files = files[opts.Offset:]
	}
	if opts.Limit > 0 && len(files) > opts.Limit {
		files = files[:opts.Limit]
	}
	return files, nil
}
