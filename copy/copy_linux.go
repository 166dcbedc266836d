package fs

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// maxCopyChunk bounds a single copy_file_range call so cancellation is
// checked between chunks.
const maxCopyChunk = 64 << 20

func copyFileContent(ctx context.Context, dst, src *os.File) error {
	for first := true; ; first = false {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.CopyFileRange(int(src.Fd()), nil, int(dst.Fd()), nil, maxCopyChunk, 0)
		if err != nil {
			if first && fallbackErr(err) {
				// both offsets are untouched, the buffered copy starts from zero
				return copyBuffered(ctx, dst, src)
			}
			return errors.Wrap(err, "copy file range failed")
		}
		if n == 0 {
			return nil
		}
	}
}

func fallbackErr(err error) bool {
	switch err {
	case unix.ENOSYS, unix.EXDEV, unix.EINVAL, unix.EOPNOTSUPP, unix.EPERM:
		return true
	}
	return false
}
