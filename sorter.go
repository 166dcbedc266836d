package extsort

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	copy "github.com/tonistiigi/extsort/copy"
	"golang.org/x/sync/errgroup"
)

type Opt struct {
	// Workers bounds the number of files copied at the same time. Zero picks
	// a default based on GOMAXPROCS, a negative value removes the bound.
	Workers int
	Case    CaseMode
	// Sniff detects a category from file content for files that have no
	// extension.
	Sniff bool
	// PreserveMode gives copies the permission bits of their source instead
	// of the default 0666 minus umask.
	PreserveMode bool
	// Sync flushes every copied file to stable storage.
	Sync bool
	Walk WalkOpt
	Log  *logrus.Entry
}

// Result holds the counters of a finished run.
type Result struct {
	Discovered int64
	Copied     int64
	Failed     int64
	Skipped    int64
	// WalkErrors counts directories and entries that could not be read.
	WalkErrors int64
}

type Sorter struct {
	opt Opt
	log *logrus.Entry
}

func New(opt Opt) *Sorter {
	log := opt.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Sorter{opt: opt, log: log}
}

func (s *Sorter) workers() int {
	switch {
	case s.opt.Workers > 0:
		return s.opt.Workers
	case s.opt.Workers < 0:
		return -1
	}
	return 4 * runtime.GOMAXPROCS(0)
}

// Run validates src, creates dst and copies every regular file below src
// into dst/<extension>/<name>. Failures of single files are logged and
// counted; only an invalid source or an unusable dst is returned as an error.
func (s *Sorter) Run(ctx context.Context, src, dst string) (*Result, error) {
	root, err := ValidateSource(src)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create output %s", dst)
	}
	out, err := filepath.Abs(dst)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if resolved, err := filepath.EvalSymlinks(out); err == nil {
		out = resolved
	}

	if out == root {
		return nil, errors.Errorf("output %s is the source directory", dst)
	}

	if err := s.removeStaging(out); err != nil {
		return nil, err
	}

	c := &counters{}
	wo := s.walkOpt(c)
	if within(root, out) {
		s.log.WithField("output", out).Debug("output is inside source, excluding it from the walk")
		wo.SkipDirs = append(wo.SkipDirs, out)
	}
	return s.sort(ctx, NewFS(root, wo), out, c)
}

// Sort copies every file reported by fsys into dst. dst must exist.
func (s *Sorter) Sort(ctx context.Context, fsys FS, dst string) (*Result, error) {
	return s.sort(ctx, fsys, dst, &counters{})
}

func (s *Sorter) sort(ctx context.Context, fsys FS, dst string, c *counters) (*Result, error) {
	eg := &errgroup.Group{}
	eg.SetLimit(s.workers())

	walkErr := fsys.Walk(ctx, func(f File) error {
		c.discovered.Add(1)
		eg.Go(func() error {
			if err := s.copyFile(ctx, fsys, f, dst); err != nil {
				c.failed.Add(1)
				s.log.WithError(err).WithField("path", f.Path).Error("failed to copy")
				return nil
			}
			c.copied.Add(1)
			return nil
		})
		return nil
	})
	eg.Wait()

	if walkErr != nil {
		return c.result(), errors.Wrap(walkErr, "walk interrupted")
	}
	return c.result(), nil
}

// walkOpt returns the configured walk options with callbacks that log and
// count entries the walk could not use.
func (s *Sorter) walkOpt(c *counters) *WalkOpt {
	wo := s.opt.Walk
	wo.SkipDirs = append([]string{}, wo.SkipDirs...)
	onError, onSkip := wo.OnError, wo.OnSkip
	wo.OnError = func(p string, err error) {
		c.walkErrors.Add(1)
		s.log.WithError(err).WithField("path", p).Error("failed to read")
		if onError != nil {
			onError(p, err)
		}
	}
	wo.OnSkip = func(p string, mode os.FileMode) {
		c.skipped.Add(1)
		s.log.WithFields(logrus.Fields{"path": p, "mode": mode.String()}).Debug("skipping non-regular file")
		if onSkip != nil {
			onSkip(p, mode)
		}
	}
	return &wo
}

type counters struct {
	discovered atomic.Int64
	copied     atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64
	walkErrors atomic.Int64
}

func (c *counters) result() *Result {
	return &Result{
		Discovered: c.discovered.Load(),
		Copied:     c.copied.Load(),
		Failed:     c.failed.Load(),
		Skipped:    c.skipped.Load(),
		WalkErrors: c.walkErrors.Load(),
	}
}

func (s *Sorter) copyFile(ctx context.Context, fsys FS, f File, dst string) error {
	cat, err := s.category(fsys, f)
	if err != nil {
		return err
	}
	target := filepath.Join(dst, cat, f.Name())

	r, err := fsys.Open(f.Rel)
	if err != nil {
		return errors.Wrapf(err, "failed to open source %s", f.Path)
	}
	defer r.Close()

	var opts []copy.Opt
	if s.opt.PreserveMode {
		opts = append(opts, copy.WithMode(f.Info.Mode().Perm()))
	}
	if s.opt.Sync {
		opts = append(opts, copy.WithSync())
	}
	if err := copy.WriteFile(ctx, target, r, opts...); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"src": f.Path, "dst": target}).Info("copied")
	return nil
}

func (s *Sorter) category(fsys FS, f File) (string, error) {
	cat := Category(f.Name(), s.opt.Case)
	if cat != UnknownCategory || !s.opt.Sniff {
		return cat, nil
	}
	r, err := fsys.Open(f.Rel)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open source %s", f.Path)
	}
	defer r.Close()
	return Sniff(r)
}

// removeStaging deletes staging files left in the category directories of
// dst by a run that was killed before it could clean up.
func (s *Sorter) removeStaging(dst string) error {
	cats, err := os.ReadDir(dst)
	if err != nil {
		return errors.Wrapf(err, "failed to read output %s", dst)
	}
	for _, cat := range cats {
		if !cat.IsDir() {
			continue
		}
		dir := filepath.Join(dst, cat.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			s.log.WithError(err).WithField("path", dir).Warn("failed to read output directory")
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !copy.IsTemp(e.Name()) {
				continue
			}
			p := filepath.Join(dir, e.Name())
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "failed to remove staging file %s", p)
			}
			s.log.WithField("path", p).Debug("removed stale staging file")
		}
	}
	return nil
}

// within reports whether p is below root.
func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
