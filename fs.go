package extsort

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// FS is a source tree that files are sorted from.
type FS interface {
	Walk(context.Context, WalkFunc) error
	// Open opens a file by its path relative to the root.
	Open(string) (io.ReadCloser, error)
}

func NewFS(root string, opt *WalkOpt) FS {
	return &fs{
		root: root,
		opt:  opt,
	}
}

type fs struct {
	root string
	opt  *WalkOpt
}

func (fs *fs) Walk(ctx context.Context, fn WalkFunc) error {
	return Walk(ctx, fs.root, fs.opt, fn)
}

func (fs *fs) Open(p string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(fs.root, p))
}
