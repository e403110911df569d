package scan

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakshaymaurya-felt/clearfile/internal/classify"
	"github.com/lakshaymaurya-felt/clearfile/internal/guard"
)

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type fixture struct {
	path string
	size int
	age  time.Duration
}

func buildFs(t *testing.T, files []fixture) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, f := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(f.path), 0o755))
		require.NoError(t, afero.WriteFile(fs, f.path, make([]byte, f.size), 0o644))
		mtime := testNow.Add(-f.age)
		require.NoError(t, fs.Chtimes(f.path, mtime, mtime))
	}
	return fs
}

func newScanner(fs afero.Fs, protected []string, opts ...Option) *Scanner {
	c := classify.New(fs, classify.Rule{
		Extensions: []string{".tmp", ".log"},
		MaxAge:     30 * day,
		MinSize:    1 << 20,
	}, classify.WithClock(func() time.Time { return testNow }))
	g := guard.New(protected, guard.WithCaseInsensitive(false))
	return New(fs, g, c, opts...)
}

func paths(cands []Candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Path)
	}
	return out
}

func collect(ctx context.Context, s *Scanner, vols []Volume) []Candidate {
	var out []Candidate
	for c := range s.Scan(ctx, vols) {
		out = append(out, c)
	}
	return out
}

// Mirrors the C:\Temp / C:\Windows scenario with a POSIX-style volume root.
func TestScanner_Scenario(t *testing.T) {
	fs := buildFs(t, []fixture{
		{path: "/c/Temp/a.tmp", size: 10 << 10, age: 40 * day},
		{path: "/c/Temp/b.log", size: 2 << 20, age: 5 * day},
		{path: "/c/Windows/c.tmp", size: 1 << 10, age: 60 * day},
	})
	s := newScanner(fs, []string{"/c/Windows"})

	got := collect(t.Context(), s, []Volume{{Root: "/c"}})
	require.Len(t, got, 1)
	assert.Equal(t, "/c/Temp/a.tmp", got[0].Path)
	assert.Equal(t, int64(10<<10), got[0].Size)
	assert.Equal(t, ".tmp", got[0].Extension)
	assert.Equal(t, int64(1), s.Stats().DirsPruned)
	// c.tmp is never even looked at.
	assert.Equal(t, int64(2), s.Stats().FilesSeen)
}

func TestScanner_NeverYieldsProtected(t *testing.T) {
	fs := buildFs(t, []fixture{
		{path: "/v/keep/deep/nested/x.tmp", size: 1, age: 90 * day},
		{path: "/v/keep/y.log", size: 1, age: 90 * day},
		{path: "/v/single.tmp", size: 1, age: 90 * day},
		{path: "/v/other/z.tmp", size: 1, age: 90 * day},
	})
	protected := []string{"/v/keep", "/v/single.tmp"}
	s := newScanner(fs, protected)
	g := guard.New(protected, guard.WithCaseInsensitive(false))

	got := collect(t.Context(), s, []Volume{{Root: "/v"}})
	assert.Equal(t, []string{"/v/other/z.tmp"}, paths(got))
	for _, c := range got {
		assert.False(t, g.IsProtected(c.Path))
	}
}

func TestScanner_DeterministicOrder(t *testing.T) {
	fs := buildFs(t, []fixture{
		{path: "/v/b/2.tmp", size: 1, age: day},
		{path: "/v/a/1.tmp", size: 1, age: day},
		{path: "/v/c.tmp", size: 1, age: day},
		{path: "/v/a/0.log", size: 1, age: day},
		{path: "/w/d.tmp", size: 1, age: day},
	})
	s := newScanner(fs, nil)
	vols := []Volume{{Root: "/v"}, {Root: "/w"}}

	first := paths(collect(t.Context(), s, vols))
	second := paths(collect(t.Context(), s, vols))

	assert.Equal(t, []string{"/v/a/0.log", "/v/a/1.tmp", "/v/b/2.tmp", "/v/c.tmp", "/w/d.tmp"}, first)
	assert.Equal(t, first, second, "a new range re-walks from scratch")
}

func TestScanner_EarlyBreak(t *testing.T) {
	fs := buildFs(t, []fixture{
		{path: "/v/1.tmp", size: 1, age: day},
		{path: "/v/2.tmp", size: 1, age: day},
		{path: "/v/3.tmp", size: 1, age: day},
	})
	s := newScanner(fs, nil)

	var got []string
	for c := range s.Scan(t.Context(), []Volume{{Root: "/v"}, {Root: "/v"}}) {
		got = append(got, c.Path)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"/v/1.tmp", "/v/2.tmp"}, got)
}

func TestScanner_Cancelled(t *testing.T) {
	fs := buildFs(t, []fixture{
		{path: "/v/1.tmp", size: 1, age: day},
		{path: "/v/2.tmp", size: 1, age: day},
	})
	s := newScanner(fs, nil)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	var got []string
	for c := range s.Scan(ctx, []Volume{{Root: "/v"}}) {
		got = append(got, c.Path)
		cancel()
	}
	assert.Equal(t, []string{"/v/1.tmp"}, got)
}

func TestScanner_MissingVolumeIsSkipped(t *testing.T) {
	fs := buildFs(t, []fixture{{path: "/v/1.tmp", size: 1, age: day}})

	var skips []Skip
	s := newScanner(fs, nil, WithSkipHandler(func(sk Skip) { skips = append(skips, sk) }))

	got := collect(t.Context(), s, []Volume{{Root: "/missing"}, {Root: "/v"}})
	assert.Equal(t, []string{"/v/1.tmp"}, paths(got))
	require.Len(t, skips, 1)
	assert.Equal(t, "/missing", skips[0].Path)
}

func TestScanner_OSFilesystem(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation needs elevation on Windows")
	}
	root := t.TempDir()
	fs := afero.NewOsFs()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "cache"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "cache", "a.tmp"), []byte("x"), 0o644))
	// A symlink loop must not trap the walk.
	require.NoError(t, os.Symlink(root, filepath.Join(root, "cache", "loop")))

	locked := filepath.Join(root, "locked")
	require.NoError(t, os.MkdirAll(locked, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(locked, "b.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	require.NoError(t, os.WriteFile(filepath.Join(root, "z.tmp"), []byte("x"), 0o644))

	c := classify.New(fs, classify.Rule{Extensions: []string{".tmp"}, MaxAge: day, MinSize: 1 << 20})
	s := New(fs, guard.New(nil), c)

	got := paths(collect(t.Context(), s, []Volume{{Root: root}}))
	assert.Contains(t, got, filepath.Join(root, "cache", "a.tmp"))
	assert.Contains(t, got, filepath.Join(root, "z.tmp"))
	assert.NotContains(t, got, filepath.Join(root, "cache", "loop", "cache", "a.tmp"))
}

func TestVolumesFromPaths(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	vols := VolumesFromPaths([]string{root, "", root + string(filepath.Separator), filepath.Join(root, "x"), other})
	require.Len(t, vols, 2)
	assert.Equal(t, root, vols[0].Root)
	assert.Equal(t, other, vols[1].Root)
}

func TestVolumesFromPaths_DropsNestedRootListedFirst(t *testing.T) {
	root := t.TempDir()
	vols := VolumesFromPaths([]string{filepath.Join(root, "home"), root, filepath.Join(root, "homework")})
	assert.Equal(t, []Volume{{Root: root}}, vols)

	// A sibling sharing a name prefix is not nested.
	vols = VolumesFromPaths([]string{filepath.Join(root, "home"), filepath.Join(root, "homework")})
	assert.Len(t, vols, 2)
}

func TestDropNested_MountPoints(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX mount layout")
	}
	vols := dropNested([]Volume{
		{Root: "/", FSType: "ext4"},
		{Root: "/boot/efi", FSType: "vfat"},
		{Root: "/home", FSType: "ext4"},
		{Root: "/", FSType: "ext4"},
		{Root: "/mnt/data", FSType: "xfs"},
	})
	assert.Equal(t, []Volume{{Root: "/", FSType: "ext4"}}, vols)
}

func TestScanner_OverlappingVolumesYieldOnce(t *testing.T) {
	fs := buildFs(t, []fixture{
		{path: "/v/home/u/a.tmp", size: 1, age: 40 * day},
		{path: "/v/b.tmp", size: 1, age: 40 * day},
	})
	s := newScanner(fs, nil)

	got := collect(t.Context(), s, []Volume{{Root: "/v"}, {Root: "/v/home"}})
	assert.Equal(t, []string{"/v/b.tmp", "/v/home/u/a.tmp"}, paths(got))

	// Each range starts from a clean slate.
	again := collect(t.Context(), s, []Volume{{Root: "/v/home"}, {Root: "/v"}})
	assert.Equal(t, []string{"/v/home/u/a.tmp", "/v/b.tmp"}, paths(again))
}
