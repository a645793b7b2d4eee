package staticfileserver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// FileMetadata is the stat snapshot a single request works from.
type FileMetadata struct {
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// DirEntry is one row of a directory listing.
type DirEntry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// FileSystem is the read-only storage the server answers from. Paths are
// absolute filesystem paths produced by the router.
type FileSystem interface {
	Stat(ctx context.Context, path string) (FileMetadata, error)
	// Open returns a reader over the inclusive byte interval [start, end].
	// A negative end reads to EOF.
	Open(ctx context.Context, path string, start, end int64) (io.ReadCloser, error)
	ReadDir(ctx context.Context, path string) ([]DirEntry, error)
}

// OSFileSystem implements FileSystem on the local disk.
type OSFileSystem struct{}

func (OSFileSystem) Stat(ctx context.Context, path string) (FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return FileMetadata{}, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return FileMetadata{}, err
	}
	return FileMetadata{Size: fi.Size(), ModTime: fi.ModTime(), IsDir: fi.IsDir()}, nil
}

func (OSFileSystem) Open(ctx context.Context, path string, start, end int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if start < 0 {
		return nil, fmt.Errorf("invalid start offset %d", start)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var r io.Reader = f
	if start > 0 || end >= 0 {
		if end >= 0 {
			r = io.NewSectionReader(f, start, end-start+1)
		} else if _, err := f.Seek(start, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("seeking %s to %d: %w", path, start, err)
		}
	}
	return &ctxReadCloser{ctx: ctx, r: r, c: f}, nil
}

// ReadDir lists path. Entries whose metadata cannot be read are reported with
// zero size and time rather than failing the whole listing.
func (OSFileSystem) ReadDir(ctx context.Context, path string) ([]DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		de := DirEntry{Name: e.Name(), IsDir: e.IsDir()}
		// Follow symlinks so a link to a directory lists as a directory.
		if fi, err := os.Stat(filepath.Join(path, e.Name())); err == nil {
			de.IsDir = fi.IsDir()
			de.Size = fi.Size()
			de.ModTime = fi.ModTime()
		}
		out = append(out, de)
	}
	return out, nil
}

// ctxReadCloser stops reading once ctx is done.
type ctxReadCloser struct {
	ctx context.Context
	r   io.Reader
	c   io.Closer
}

func (r *ctxReadCloser) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

func (r *ctxReadCloser) Close() error { return r.c.Close() }
