package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const tmpPrefix = ".tmp."

var bufferPool = &sync.Pool{
	New: func() interface{} {
		buffer := make([]byte, 32*1024)
		return &buffer
	},
}

type CopyInfo struct {
	Mode os.FileMode
	Sync bool
}

type Opt func(*CopyInfo)

// WithMode sets the permission bits of the created file. The process umask
// still applies.
func WithMode(mode os.FileMode) Opt {
	return func(ci *CopyInfo) {
		ci.Mode = mode
	}
}

// WithSync flushes the file contents to stable storage before it is moved
// into place.
func WithSync() Opt {
	return func(ci *CopyInfo) {
		ci.Sync = true
	}
}

// CopyFile copies the contents of the regular file at src to dst. Parent
// directories of dst are created as needed. An existing file at dst is
// replaced.
func CopyFile(ctx context.Context, src, dst string, opts ...Opt) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	f, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "failed to open source %s", src)
	}
	defer f.Close()
	return WriteFile(ctx, dst, f, opts...)
}

// WriteFile writes everything read from r to dst. The data is staged in a
// temporary file next to dst and renamed over it once complete, so readers
// never observe a partially written dst and concurrent writers to the same
// dst leave exactly one of their copies behind.
func WriteFile(ctx context.Context, dst string, r io.Reader, opts ...Opt) (retErr error) {
	ci := CopyInfo{Mode: 0666}
	for _, o := range opts {
		o(&ci)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	dir, base := filepath.Split(filepath.Clean(dst))
	if base == "" || base == "." {
		return errors.Errorf("invalid target %s", dst)
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dir)
	}
	if err := ensureFileTarget(dst); err != nil {
		return err
	}

	tmp := filepath.Join(dir, tmpPrefix+uuid.NewString())
	tgt, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, ci.Mode)
	if err != nil {
		return errors.Wrapf(err, "failed to open target %s", tmp)
	}
	defer func() {
		if retErr != nil {
			tgt.Close()
			os.Remove(tmp)
		}
	}()

	if err := copyContent(ctx, tgt, r); err != nil {
		return errors.Wrapf(err, "failed to copy to %s", dst)
	}
	if ci.Sync {
		if err := tgt.Sync(); err != nil {
			return errors.Wrapf(err, "failed to sync %s", tmp)
		}
	}
	if err := tgt.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", tmp)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return errors.Wrapf(err, "failed to rename %s to %s", tmp, dst)
	}
	return nil
}

// IsTemp reports whether name is a staging file left by WriteFile.
func IsTemp(name string) bool {
	if !strings.HasPrefix(name, tmpPrefix) {
		return false
	}
	_, err := uuid.Parse(name[len(tmpPrefix):])
	return err == nil
}

func ensureFileTarget(dst string) error {
	fi, err := os.Lstat(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.WithStack(err)
	}
	if fi.IsDir() {
		return errors.Errorf("cannot replace directory %s with file", dst)
	}
	return nil
}

func copyContent(ctx context.Context, dst *os.File, r io.Reader) error {
	if src, ok := r.(*os.File); ok {
		return copyFileContent(ctx, dst, src)
	}
	return copyBuffered(ctx, dst, r)
}

func copyBuffered(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := bufferPool.Get().(*[]byte)
	_, err := io.CopyBuffer(dst, &ctxReader{ctx: ctx, r: src}, *buf)
	bufferPool.Put(buf)
	return err
}

// ctxReader fails reads once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
