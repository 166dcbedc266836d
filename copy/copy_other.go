//go:build !linux
// +build !linux

package fs

import (
	"context"
	"os"
)

func copyFileContent(ctx context.Context, dst, src *os.File) error {
	return copyBuffered(ctx, dst, src)
}
