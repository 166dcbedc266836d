//go:build !unix
// +build !unix

package extsort

import "syscall"

const (
	ELOOP   = syscall.ELOOP
	ENOTDIR = syscall.ENOTDIR
)
