package extsort

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// InvalidSourceError is returned when the source of a run is missing or is
// not a directory.
type InvalidSourceError struct {
	Path string
	Err  error
}

func (e *InvalidSourceError) Error() string {
	return fmt.Sprintf("invalid source %s: %v", e.Path, e.Err)
}

func (e *InvalidSourceError) Unwrap() error {
	return e.Err
}

// ValidateSource checks that p exists and is a directory and returns its
// absolute path with symlinks resolved.
func ValidateSource(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", &InvalidSourceError{Path: p, Err: err}
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return "", &InvalidSourceError{Path: p, Err: errors.Cause(err)}
	}
	if !fi.IsDir() {
		return "", &InvalidSourceError{Path: p, Err: errors.New("not a directory")}
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", &InvalidSourceError{Path: p, Err: err}
	}
	return root, nil
}
