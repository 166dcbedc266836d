package extsort

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/patternmatcher"
	"github.com/pkg/errors"
)

type WalkOpt struct {
	// ExcludePatterns are dockerignore-style patterns matched against the
	// path relative to the walk root.
	ExcludePatterns []string
	// SkipSymlinks reports every symlink to OnSkip. By default symlinks
	// that point to regular files are reported as files. Symlinks to
	// directories are never descended into.
	SkipSymlinks bool
	// SkipDirs lists absolute directories that are pruned from the walk.
	SkipDirs []string
	// OnError is called for entries that could not be read. The walk
	// continues with the next sibling.
	OnError func(path string, err error)
	// OnSkip is called for entries that are neither directories nor
	// regular files and are not reported to the walk function.
	OnSkip func(path string, mode os.FileMode)
}

// File is a regular file found by Walk.
type File struct {
	// Path is the full path of the file as found under the walk root.
	Path string
	// Rel is Path relative to the walk root.
	Rel  string
	Info os.FileInfo
}

func (f File) Name() string {
	return filepath.Base(f.Path)
}

type WalkFunc func(File) error

// Walk calls fn for every regular file below p, recursing into
// subdirectories. Directories that cannot be read are reported to
// opt.OnError and skipped. Entries are visited in lexical order within a
// directory but callers must not depend on it.
func Walk(ctx context.Context, p string, opt *WalkOpt, fn WalkFunc) error {
	if opt == nil {
		opt = &WalkOpt{}
	}
	root, err := filepath.EvalSymlinks(p)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %s", p)
	}
	fi, err := os.Stat(root)
	if err != nil {
		return errors.Wrapf(err, "failed to stat: %s", root)
	}
	if !fi.IsDir() {
		return errors.Errorf("%s is not a directory", root)
	}

	var pm *patternmatcher.PatternMatcher
	if len(opt.ExcludePatterns) > 0 {
		pm, err = patternmatcher.New(opt.ExcludePatterns)
		if err != nil {
			return errors.Wrapf(err, "invalid excludepatterns %s", opt.ExcludePatterns)
		}
	}

	skipDirs := make(map[string]struct{}, len(opt.SkipDirs))
	for _, d := range opt.SkipDirs {
		skipDirs[filepath.Clean(d)] = struct{}{}
	}

	onError := func(path string, err error) {
		if opt.OnError != nil {
			opt.OnError(path, err)
		}
	}

	return filepath.Walk(root, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil && fi == nil {
			// removed while walking
			if !isNotExist(walkErr) {
				onError(path, walkErr)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if rel != "." {
			if fi.IsDir() {
				if _, ok := skipDirs[path]; ok {
					return filepath.SkipDir
				}
			}
			if pm != nil {
				m, err := pm.MatchesOrParentMatches(rel)
				if err != nil {
					return errors.Wrap(err, "failed to match excludepatterns")
				}
				if m {
					if fi.IsDir() && (!pm.Exclusions() || !hasExclusionBelow(pm, rel)) {
						return filepath.SkipDir
					}
					if !fi.IsDir() {
						return nil
					}
				}
			}
		}

		if walkErr != nil {
			if !isNotExist(walkErr) {
				onError(path, walkErr)
			}
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		// Skip root
		if rel == "." {
			return nil
		}

		switch {
		case fi.IsDir():
			return nil
		case fi.Mode().IsRegular():
		case fi.Mode()&os.ModeSymlink != 0 && !opt.SkipSymlinks:
			target, err := os.Stat(path)
			if err != nil {
				if isNotExist(err) || errors.Is(err, ELOOP) {
					skip(opt, path, fi.Mode())
					return nil
				}
				onError(path, err)
				return nil
			}
			if !target.Mode().IsRegular() {
				skip(opt, path, fi.Mode())
				return nil
			}
			fi = target
		default:
			skip(opt, path, fi.Mode())
			return nil
		}

		return fn(File{Path: path, Rel: rel, Info: fi})
	})
}

// hasExclusionBelow reports whether an exclusion pattern could re-include
// something inside the directory dir.
func hasExclusionBelow(pm *patternmatcher.PatternMatcher, dir string) bool {
	dirSlash := dir + string(filepath.Separator)
	for _, pat := range pm.Patterns() {
		if !pat.Exclusion() {
			continue
		}
		patStr := pat.String() + string(filepath.Separator)
		if strings.HasPrefix(patStr, dirSlash) {
			return true
		}
	}
	return false
}

func skip(opt *WalkOpt, path string, mode os.FileMode) {
	if opt.OnSkip != nil {
		opt.OnSkip(path, mode)
	}
}

func isNotExist(err error) bool {
	err = errors.Cause(err)
	if os.IsNotExist(err) {
		return true
	}
	if pe, ok := err.(*os.PathError); ok {
		err = pe.Err
	}
	return err == ENOTDIR
}
