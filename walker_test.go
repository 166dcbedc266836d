package extsort

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/containerd/continuity/fs/fstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalkerSimple(t *testing.T) {
	d := tmpDir(t, fstest.Apply(
		fstest.CreateFile("foo", nil, 0644),
		fstest.CreateFile("foo2.txt", nil, 0644),
	))
	b := &bytes.Buffer{}
	err := Walk(context.Background(), d, nil, bufWalk(b))
	assert.NoError(t, err)

	assert.Equal(t, `file foo
file foo2.txt
`, b.String())
}

func TestWalkerNested(t *testing.T) {
	d := tmpDir(t, fstest.Apply(
		fstest.CreateDir("bar", 0755),
		fstest.CreateDir("bar/baz", 0755),
		fstest.CreateDir("empty", 0755),
		fstest.CreateFile("bar/baz/a.go", nil, 0644),
		fstest.CreateFile("bar/b.go", nil, 0644),
		fstest.CreateFile("c.md", nil, 0644),
	))
	b := &bytes.Buffer{}
	err := Walk(context.Background(), d, nil, bufWalk(b))
	assert.NoError(t, err)

	trimEqual(t, `
		file bar/b.go
		file bar/baz/a.go
		file c.md
	`, b.String())
}

func TestWalkerReportsPaths(t *testing.T) {
	d := tmpDir(t, fstest.Apply(
		fstest.CreateDir("bar", 0755),
		fstest.CreateFile("bar/a.go", []byte("package a"), 0644),
	))
	var files []File
	err := Walk(context.Background(), d, nil, func(f File) error {
		files = append(files, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, files, 1)

	root, err := filepath.EvalSymlinks(d)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "bar", "a.go"), files[0].Path)
	assert.Equal(t, filepath.Join("bar", "a.go"), files[0].Rel)
	assert.Equal(t, "a.go", files[0].Name())
	assert.Equal(t, int64(9), files[0].Info.Size())
}

func TestWalkerNotDirectory(t *testing.T) {
	d := tmpDir(t, fstest.Apply(
		fstest.CreateFile("foo", nil, 0644),
	))
	err := Walk(context.Background(), filepath.Join(d, "foo"), nil, bufWalk(&bytes.Buffer{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")

	err = Walk(context.Background(), filepath.Join(d, "bar"), nil, bufWalk(&bytes.Buffer{}))
	require.Error(t, err)
	assert.True(t, isNotExist(err))
}

func TestWalkerExclude(t *testing.T) {
	d := tmpDir(t, fstest.Apply(
		fstest.CreateFile("bar", nil, 0644),
		fstest.CreateDir("foo", 0755),
		fstest.CreateFile("foo2", nil, 0644),
		fstest.CreateFile("foo/bar2", nil, 0644),
		fstest.CreateFile("foo/bar3", nil, 0644),
	))
	b := &bytes.Buffer{}
	err := Walk(context.Background(), d, &WalkOpt{
		ExcludePatterns: []string{"foo*", "!foo/bar2"},
	}, bufWalk(b))
	assert.NoError(t, err)

	assert.Equal(t, `file bar
file foo/bar2
`, b.String())

	b.Reset()
	err = Walk(context.Background(), d, &WalkOpt{
		ExcludePatterns: []string{"**/bar*"},
	}, bufWalk(b))
	assert.NoError(t, err)

	assert.Equal(t, `file foo2
`, b.String())
}

func TestWalkerInvalidExclude(t *testing.T) {
	d := tmpDir(t, fstest.Apply(
		fstest.CreateFile("bar", nil, 0644),
	))
	err := Walk(context.Background(), d, &WalkOpt{
		ExcludePatterns: []string{"["},
	}, bufWalk(&bytes.Buffer{}))
	assert.Error(t, err)
}

func TestWalkerSkipDirs(t *testing.T) {
	d := tmpDir(t, fstest.Apply(
		fstest.CreateDir("out", 0755),
		fstest.CreateDir("out/txt", 0755),
		fstest.CreateFile("out/txt/a.txt", nil, 0644),
		fstest.CreateFile("a.txt", nil, 0644),
	))
	root, err := filepath.EvalSymlinks(d)
	require.NoError(t, err)

	b := &bytes.Buffer{}
	err = Walk(context.Background(), d, &WalkOpt{
		SkipDirs: []string{filepath.Join(root, "out")},
	}, bufWalk(b))
	assert.NoError(t, err)

	assert.Equal(t, `file a.txt
`, b.String())
}

func TestWalkerSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on Windows")
	}
	d := tmpDir(t, fstest.Apply(
		fstest.CreateDir("dir", 0755),
		fstest.CreateFile("dir/foo.txt", []byte("contents"), 0644),
		fstest.Symlink("dir/foo.txt", "link.txt"),
		fstest.Symlink("dir", "dirlink"),
		fstest.Symlink("missing", "broken"),
		fstest.Symlink("loop", "loop"),
	))

	var skipped []string
	var mu sync.Mutex
	onSkip := func(p string, _ os.FileMode) {
		mu.Lock()
		skipped = append(skipped, filepath.Base(p))
		mu.Unlock()
	}

	b := &bytes.Buffer{}
	err := Walk(context.Background(), d, &WalkOpt{OnSkip: onSkip}, bufWalk(b))
	require.NoError(t, err)
	assert.Equal(t, `file dir/foo.txt
file link.txt
`, b.String())
	sort.Strings(skipped)
	assert.Equal(t, []string{"broken", "dirlink", "loop"}, skipped)

	skipped = nil
	b.Reset()
	err = Walk(context.Background(), d, &WalkOpt{OnSkip: onSkip, SkipSymlinks: true}, bufWalk(b))
	require.NoError(t, err)
	assert.Equal(t, `file dir/foo.txt
`, b.String())
	sort.Strings(skipped)
	assert.Equal(t, []string{"broken", "dirlink", "link.txt", "loop"}, skipped)
}

func TestWalkerFollowedSymlinkInfo(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on Windows")
	}
	d := tmpDir(t, fstest.Apply(
		fstest.CreateFile("foo.txt", []byte("contents"), 0644),
		fstest.Symlink("foo.txt", "link.md"),
	))
	var got []File
	err := Walk(context.Background(), d, nil, func(f File) error {
		got = append(got, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "link.md", got[1].Rel)
	assert.True(t, got[1].Info.Mode().IsRegular())
	assert.Equal(t, int64(8), got[1].Info.Size())
}

func TestWalkerPermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("os.Chmod not fully supported on Windows")
	}
	if os.Getuid() == 0 {
		t.Skip("test cannot run as root")
	}

	d := tmpDir(t, fstest.Apply(
		fstest.CreateDir("foo", 0755),
		fstest.CreateDir("foo/bar", 0755),
		fstest.CreateFile("foo/bar/hidden", nil, 0644),
		fstest.CreateFile("foo/visible", nil, 0644),
		fstest.CreateFile("zzz", nil, 0644),
	))
	err := os.Chmod(filepath.Join(d, "foo", "bar"), 0000)
	require.NoError(t, err)
	defer os.Chmod(filepath.Join(d, "foo", "bar"), 0700)

	var errs []error
	b := &bytes.Buffer{}
	err = Walk(context.Background(), d, &WalkOpt{
		OnError: func(p string, err error) {
			assert.Equal(t, "bar", filepath.Base(p))
			errs = append(errs, err)
		},
	}, bufWalk(b))
	require.NoError(t, err)
	assert.Equal(t, `file foo/visible
file zzz
`, b.String())
	require.Len(t, errs, 1)
	assert.True(t, os.IsPermission(errs[0]))

	errs = nil
	b.Reset()
	err = Walk(context.Background(), d, &WalkOpt{
		ExcludePatterns: []string{"**/bar"},
		OnError: func(p string, err error) {
			errs = append(errs, err)
		},
	}, bufWalk(b))
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Equal(t, `file foo/visible
file zzz
`, b.String())
}

func TestWalkerCanceled(t *testing.T) {
	d := tmpDir(t, fstest.Apply(
		fstest.CreateFile("a", nil, 0644),
		fstest.CreateFile("b", nil, 0644),
		fstest.CreateFile("c", nil, 0644),
	))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	count := 0
	err := Walk(ctx, d, nil, func(File) error {
		count++
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, count)
}

func TestWalkerCallbackError(t *testing.T) {
	d := tmpDir(t, fstest.Apply(
		fstest.CreateFile("a", nil, 0644),
		fstest.CreateFile("b", nil, 0644),
	))
	errStop := fmt.Errorf("stop")
	err := Walk(context.Background(), d, nil, func(File) error {
		return errStop
	})
	require.ErrorIs(t, err, errStop)
}

func TestWalkerVanishedFile(t *testing.T) {
	d := tmpDir(t, fstest.Apply(
		fstest.CreateFile("a", nil, 0644),
		fstest.CreateFile("b", nil, 0644),
	))
	var errs []error
	b := &bytes.Buffer{}
	walk := bufWalk(b)
	err := Walk(context.Background(), d, &WalkOpt{
		OnError: func(_ string, err error) {
			errs = append(errs, err)
		},
	}, func(f File) error {
		if f.Rel == "a" {
			require.NoError(t, os.Remove(filepath.Join(d, "b")))
		}
		return walk(f)
	})
	require.NoError(t, err)
	assert.Equal(t, `file a
`, b.String())
	assert.Empty(t, errs)
}

func bufWalk(buf *bytes.Buffer) WalkFunc {
	var mu sync.Mutex
	return func(f File) error {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(buf, "file %s\n", filepath.ToSlash(f.Rel))
		return nil
	}
}

func tmpDir(t testing.TB, apply fstest.Applier) string {
	t.Helper()
	d := t.TempDir()
	require.NoError(t, apply.Apply(d))
	return d
}

func trimEqual(t assert.TestingT, expected, actual string, msgAndArgs ...interface{}) bool {
	lines := []string{}
	for _, line := range strings.Split(expected, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	lines = append(lines, "") // we expect a trailing newline
	expected = strings.Join(lines, "\n")

	return assert.Equal(t, expected, actual, msgAndArgs...)
}
