//go:build unix
// +build unix

package extsort

import "golang.org/x/sys/unix"

const (
	ELOOP   = unix.ELOOP
	ENOTDIR = unix.ENOTDIR
)
