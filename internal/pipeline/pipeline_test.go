package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakshaymaurya-felt/clearfile/internal/backup"
	"github.com/lakshaymaurya-felt/clearfile/internal/classify"
	"github.com/lakshaymaurya-felt/clearfile/internal/events"
	"github.com/lakshaymaurya-felt/clearfile/internal/guard"
	"github.com/lakshaymaurya-felt/clearfile/internal/lock"
	"github.com/lakshaymaurya-felt/clearfile/internal/scan"
)

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

var volumes = []scan.Volume{{Root: "/vol"}}

type file struct {
	path string
	size int
	age  time.Duration
}

// scenario mirrors a temp directory next to a protected system directory.
var scenario = []file{
	{path: "/vol/Temp/a.tmp", size: 10 << 10, age: 40 * day},
	{path: "/vol/Temp/b.log", size: 2 << 20, age: 5 * day},
	{path: "/vol/Windows/c.tmp", size: 1 << 10, age: 60 * day},
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
	hook   func(events.Event)
}

func (r *recorder) Emit(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

func (r *recorder) kinds(k events.Kind) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	fs    afero.Fs
	store *backup.Store
	rec   *recorder
	p     *Pipeline
}

func newHarness(t *testing.T, files []file, locks lock.Checker) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, f := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(f.path), 0o755))
		require.NoError(t, afero.WriteFile(fs, f.path, make([]byte, f.size), 0o644))
		mtime := testNow.Add(-f.age)
		require.NoError(t, fs.Chtimes(f.path, mtime, mtime))
	}
	if locks == nil {
		locks = lock.Never
	}

	clock := func() time.Time { return testNow }
	g := guard.New([]string{"/vol/Windows"}, guard.WithCaseInsensitive(false))
	c := classify.New(fs, classify.Rule{
		Extensions: []string{".tmp", ".log"},
		MaxAge:     30 * day,
		MinSize:    1 << 20,
	}, classify.WithClock(clock))

	store, err := backup.NewStore("/backups",
		backup.WithFs(fs),
		backup.WithLockChecker(locks),
		backup.WithClock(clock, time.UTC))
	require.NoError(t, err)

	rec := &recorder{}
	p := New(scan.New(fs, g, c), g, store,
		WithFs(fs),
		WithLockChecker(locks),
		WithSink(rec),
		WithClock(clock))

	return &harness{fs: fs, store: store, rec: rec, p: p}
}

func (h *harness) exists(t *testing.T, path string) bool {
	t.Helper()
	ok, err := afero.Exists(h.fs, path)
	require.NoError(t, err)
	return ok
}

func (h *harness) archives(t *testing.T) []backup.ArchiveInfo {
	t.Helper()
	list, err := h.store.List()
	require.NoError(t, err)
	return list
}

func TestScan_Scenario(t *testing.T) {
	h := newHarness(t, scenario, nil)

	summary, err := h.p.Scan(t.Context(), volumes)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesFound)
	assert.EqualValues(t, 10<<10, summary.BytesFound)

	candidates := h.p.Candidates()
	require.Len(t, candidates, 1)
	assert.Equal(t, "/vol/Temp/a.tmp", candidates[0].Path)

	found := h.rec.kinds(events.KindFound)
	require.Len(t, found, 1)
	assert.Equal(t, "/vol/Temp/a.tmp", found[0].Path)
	assert.Equal(t, 1, found[0].FilesFound)
	assert.Len(t, h.rec.kinds(events.KindSummary), 1)
}

func TestCandidates_IsSnapshot(t *testing.T) {
	h := newHarness(t, scenario, nil)
	_, err := h.p.Scan(t.Context(), volumes)
	require.NoError(t, err)

	snap := h.p.Candidates()
	snap[0].Path = "/elsewhere"
	assert.Equal(t, "/vol/Temp/a.tmp", h.p.Candidates()[0].Path)
}

func TestCleanup_BacksUpThenDeletes(t *testing.T) {
	h := newHarness(t, scenario, nil)
	_, err := h.p.Scan(t.Context(), volumes)
	require.NoError(t, err)

	summary, err := h.p.Cleanup(t.Context(), h.p.Candidates(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.FilesDeleted)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 0, summary.Skipped)
	assert.EqualValues(t, 10<<10, summary.BytesFreed)
	assert.Equal(t, "/backups/backup_auto_20261017_120000.zip", summary.Archive)

	assert.False(t, h.exists(t, "/vol/Temp/a.tmp"))
	assert.True(t, h.exists(t, "/vol/Temp/b.log"))
	assert.True(t, h.exists(t, "/vol/Windows/c.tmp"))
	assert.Empty(t, h.p.Candidates(), "deleted files leave the candidate list")

	deleted := h.rec.kinds(events.KindDeleted)
	require.Len(t, deleted, 1)
	assert.InDelta(t, 100, deleted[0].Percent, 0.001)

	// The deleted file comes back byte-identical from the archive.
	res, err := h.store.Restore(t.Context(), summary.Archive, "")
	require.NoError(t, err)
	require.Len(t, res.Restored, 1)
	assert.Equal(t, "/vol/Temp/a.tmp", res.Restored[0].Path)
	data, err := afero.ReadFile(h.fs, "/vol/Temp/a.tmp")
	require.NoError(t, err)
	assert.Len(t, data, 10<<10)
}

func TestScanAndCleanup_OverlappingVolumes(t *testing.T) {
	h := newHarness(t, scenario, nil)
	nested := []scan.Volume{{Root: "/vol"}, {Root: "/vol/Temp"}}

	summary, err := h.p.Scan(t.Context(), nested)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesFound)
	require.Len(t, h.p.Candidates(), 1)

	summary, err = h.p.Cleanup(t.Context(), h.p.Candidates(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesDeleted)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 0, summary.Skipped)

	res, err := h.store.Restore(t.Context(), summary.Archive, "")
	require.NoError(t, err)
	require.Len(t, res.Restored, 1)
	assert.False(t, res.Restored[0].Renamed)
}

func TestCleanup_LockedFileIsNeverDeleted(t *testing.T) {
	locked := lock.CheckerFunc(func(p string) bool { return p == "/vol/Temp/a.tmp" })
	h := newHarness(t, scenario, locked)
	_, err := h.p.Scan(t.Context(), volumes)
	require.NoError(t, err)

	summary, err := h.p.Cleanup(t.Context(), h.p.Candidates(), Options{})
	require.ErrorIs(t, err, ErrNoArchive)
	require.ErrorIs(t, err, backup.ErrNoFilesToBackup)

	assert.Equal(t, 0, summary.FilesDeleted)
	assert.Empty(t, summary.Archive)
	assert.True(t, h.exists(t, "/vol/Temp/a.tmp"))
	assert.Empty(t, h.archives(t))
	assert.Empty(t, h.rec.kinds(events.KindDeleted))
}

func TestCleanup_OnlyBackedUpFilesAreDeleted(t *testing.T) {
	files := []file{
		{path: "/vol/Temp/a.tmp", size: 100, age: 40 * day},
		{path: "/vol/Temp/busy.tmp", size: 100, age: 40 * day},
		{path: "/vol/Temp/z.tmp", size: 100, age: 40 * day},
	}
	var busy sync.Map
	busy.Store("/vol/Temp/busy.tmp", true)
	locks := lock.CheckerFunc(func(p string) bool {
		_, ok := busy.Load(p)
		return ok
	})
	h := newHarness(t, files, locks)
	_, err := h.p.Scan(t.Context(), volumes)
	require.NoError(t, err)
	require.Len(t, h.p.Candidates(), 3)

	// Unlocked after backup: it still must not be deleted, since it is not in
	// the archive.
	h.rec.hook = func(e events.Event) {
		if e.Kind == events.KindSkipped && e.Stage == events.StageBackup {
			busy.Delete("/vol/Temp/busy.tmp")
		}
	}

	summary, err := h.p.Cleanup(t.Context(), h.p.Candidates(), Options{Tag: backup.ManualTag})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.FilesDeleted)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Skipped)
	assert.True(t, h.exists(t, "/vol/Temp/busy.tmp"))
	assert.False(t, h.exists(t, "/vol/Temp/a.tmp"))
	assert.False(t, h.exists(t, "/vol/Temp/z.tmp"))

	skipped := h.rec.kinds(events.KindSkipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, "/vol/Temp/busy.tmp", skipped[0].Path)
	assert.Equal(t, events.StageBackup, skipped[0].Stage)

	list := h.archives(t)
	require.Len(t, list, 1)
	assert.Equal(t, backup.ManualTag, list[0].Tag)

	remaining := h.p.Candidates()
	require.Len(t, remaining, 1)
	assert.Equal(t, "/vol/Temp/busy.tmp", remaining[0].Path)
}

func TestCleanup_ChangedSinceBackupIsKept(t *testing.T) {
	files := []file{{path: "/vol/Temp/grow.tmp", size: 100, age: 40 * day}}
	h := newHarness(t, files, nil)
	_, err := h.p.Scan(t.Context(), volumes)
	require.NoError(t, err)

	h.rec.hook = func(e events.Event) {
		if e.Kind == events.KindCurrent && e.Path == "/vol/Temp/grow.tmp" {
			require.NoError(t, afero.WriteFile(h.fs, e.Path, make([]byte, 200), 0o644))
		}
	}

	summary, err := h.p.Cleanup(t.Context(), h.p.Candidates(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.FilesDeleted)
	assert.Equal(t, 1, summary.Skipped)
	assert.True(t, h.exists(t, "/vol/Temp/grow.tmp"))

	skipped := h.rec.kinds(events.KindSkipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, "changed since backup", skipped[0].Reason)
	assert.Equal(t, events.StageDelete, skipped[0].Stage)
}

func TestCleanup_ProtectedCandidateIsRefused(t *testing.T) {
	h := newHarness(t, scenario, nil)
	forged := []scan.Candidate{{Path: "/vol/Windows/c.tmp", Size: 1 << 10}}

	summary, err := h.p.Cleanup(t.Context(), forged, Options{})
	require.ErrorIs(t, err, ErrNoArchive)
	assert.Equal(t, 1, summary.Skipped)
	assert.True(t, h.exists(t, "/vol/Windows/c.tmp"))
	assert.Empty(t, h.archives(t))
}

func TestCleanup_DryRun(t *testing.T) {
	h := newHarness(t, scenario, nil)
	_, err := h.p.Scan(t.Context(), volumes)
	require.NoError(t, err)

	summary, err := h.p.Cleanup(t.Context(), h.p.Candidates(), Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 0, summary.FilesDeleted)
	assert.True(t, h.exists(t, "/vol/Temp/a.tmp"))
	assert.Empty(t, h.archives(t))
	assert.Len(t, h.rec.kinds(events.KindCurrent), 1)
}

func TestCleanup_Empty(t *testing.T) {
	h := newHarness(t, nil, nil)
	summary, err := h.p.Cleanup(t.Context(), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
	assert.Empty(t, h.archives(t))
}

func TestCleanup_RetentionSweep(t *testing.T) {
	h := newHarness(t, scenario, nil)
	require.NoError(t, afero.WriteFile(h.fs, "/backups/backup_auto_20260801_000000.zip", []byte("old"), 0o644))
	require.NoError(t, afero.WriteFile(h.fs, "/backups/keep-me.zip", []byte("unparsed"), 0o644))
	_, err := h.p.Scan(t.Context(), volumes)
	require.NoError(t, err)

	summary, err := h.p.Cleanup(t.Context(), h.p.Candidates(), Options{RetentionDays: 30})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ArchivesRemoved)

	assert.False(t, h.exists(t, "/backups/backup_auto_20260801_000000.zip"))
	assert.True(t, h.exists(t, "/backups/keep-me.zip"))
	assert.True(t, h.exists(t, summary.Archive))
}

func TestCleanup_CancelMidBatch(t *testing.T) {
	files := []file{
		{path: "/vol/Temp/1.tmp", size: 10, age: 40 * day},
		{path: "/vol/Temp/2.tmp", size: 10, age: 40 * day},
		{path: "/vol/Temp/3.tmp", size: 10, age: 40 * day},
	}
	h := newHarness(t, files, nil)
	require.NoError(t, afero.WriteFile(h.fs, "/backups/backup_auto_20260801_000000.zip", []byte("old"), 0o644))
	_, err := h.p.Scan(t.Context(), volumes)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	h.rec.hook = func(e events.Event) {
		if e.Kind == events.KindDeleted {
			cancel()
		}
	}

	summary, err := h.p.Cleanup(ctx, h.p.Candidates(), Options{})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 1, summary.FilesDeleted)
	require.NotEmpty(t, summary.Archive)

	assert.False(t, h.exists(t, "/vol/Temp/1.tmp"))
	assert.True(t, h.exists(t, "/vol/Temp/2.tmp"))
	assert.True(t, h.exists(t, "/vol/Temp/3.tmp"))
	assert.True(t, h.exists(t, summary.Archive), "archive survives cancellation")
	assert.True(t, h.exists(t, "/backups/backup_auto_20260801_000000.zip"), "sweep is skipped")
	assert.Len(t, h.p.Candidates(), 2)
}

func TestStart_RejectsConcurrentRuns(t *testing.T) {
	h := newHarness(t, scenario, nil)

	entered := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	h.rec.hook = func(e events.Event) {
		if e.Kind == events.KindFound {
			once.Do(func() { close(entered) })
			<-gate
		}
	}

	task, err := h.p.Start(t.Context(), Job{Kind: JobScan, Volumes: volumes})
	require.NoError(t, err)
	<-entered

	assert.True(t, h.p.Busy())
	_, err = h.p.Scan(t.Context(), volumes)
	require.ErrorIs(t, err, ErrBusy)
	_, err = h.p.Cleanup(t.Context(), nil, Options{})
	require.ErrorIs(t, err, ErrBusy)
	_, err = h.p.Start(t.Context(), Job{Kind: JobScan, Volumes: volumes})
	require.ErrorIs(t, err, ErrBusy)

	close(gate)
	summary, err := task.Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesFound)
	assert.False(t, h.p.Busy())

	_, err = h.p.Scan(t.Context(), volumes)
	require.NoError(t, err)
}

func TestStart_ScanAndCleanup(t *testing.T) {
	h := newHarness(t, scenario, nil)

	task, err := h.p.Start(t.Context(), Job{Kind: JobScanAndCleanup, Volumes: volumes})
	require.NoError(t, err)

	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
	summary, err := task.Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesDeleted)
	assert.False(t, h.exists(t, "/vol/Temp/a.tmp"))
}

func TestStart_CleanupUsesScannedCandidates(t *testing.T) {
	h := newHarness(t, scenario, nil)
	_, err := h.p.Scan(t.Context(), volumes)
	require.NoError(t, err)

	task, err := h.p.Start(t.Context(), Job{Kind: JobCleanup, Options: Options{DryRun: true}})
	require.NoError(t, err)
	summary, err := task.Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
}

func TestTask_Cancel(t *testing.T) {
	h := newHarness(t, scenario, nil)

	var task *Task
	ready := make(chan struct{})
	h.rec.hook = func(e events.Event) {
		if e.Kind == events.KindFound {
			<-ready
			task.Cancel()
		}
	}

	var err error
	task, err = h.p.Start(t.Context(), Job{Kind: JobScanAndCleanup, Volumes: volumes})
	require.NoError(t, err)
	close(ready)

	summary, err := task.Wait()
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, summary.Cancelled)
	assert.True(t, h.exists(t, "/vol/Temp/a.tmp"), "cancelled before cleanup")
	assert.Empty(t, h.archives(t))
}

func TestJobKindString(t *testing.T) {
	assert.Equal(t, "scan", JobScan.String())
	assert.Equal(t, "cleanup", JobCleanup.String())
	assert.Equal(t, "scan+cleanup", JobScanAndCleanup.String())
	assert.Equal(t, "unknown", JobKind(9).String())
}
