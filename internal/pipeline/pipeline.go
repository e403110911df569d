// Package pipeline runs scans and cleanups: candidates are found, backed up
// into a single archive, and only then deleted.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/lakshaymaurya-felt/clearfile/internal/backup"
	"github.com/lakshaymaurya-felt/clearfile/internal/events"
	"github.com/lakshaymaurya-felt/clearfile/internal/guard"
	"github.com/lakshaymaurya-felt/clearfile/internal/lock"
	"github.com/lakshaymaurya-felt/clearfile/internal/scan"
)

var (
	// ErrBusy is returned when an operation is started while another one is
	// still running on the same pipeline.
	ErrBusy = errors.New("another operation is already running")

	// ErrNoArchive means the backup step produced no archive, so nothing was
	// deleted.
	ErrNoArchive = errors.New("backup failed, nothing deleted")
)

// Summary is the final report of a run.
type Summary = events.Summary

// Options tunes a cleanup.
type Options struct {
	// Tag labels the archive. Defaults to backup.DefaultTag.
	Tag string
	// DryRun reports what would be removed without backing up or deleting.
	DryRun bool
	// RetentionDays is the sweep window applied after the batch. Zero uses the
	// pipeline default.
	RetentionDays int
}

// Pipeline owns the candidate list of its most recent scan. At most one scan
// or cleanup runs at a time.
type Pipeline struct {
	fs            afero.Fs
	scanner       *scan.Scanner
	guard         *guard.Guard
	store         *backup.Store
	locks         lock.Checker
	sink          events.Sink
	log           *zap.Logger
	now           func() time.Time
	retentionDays int

	running atomic.Bool

	mu         sync.RWMutex
	candidates []scan.Candidate
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFs sets the filesystem deletes go through. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(p *Pipeline) {
		if fs != nil {
			p.fs = fs
		}
	}
}

// WithLockChecker sets the checker consulted again right before each delete.
func WithLockChecker(c lock.Checker) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.locks = c
		}
	}
}

// WithSink sets where progress events go.
func WithSink(s events.Sink) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.sink = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithClock sets the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithRetentionDays sets the default retention window for the sweep.
func WithRetentionDays(days int) Option {
	return func(p *Pipeline) {
		if days > 0 {
			p.retentionDays = days
		}
	}
}

// New creates a pipeline from its collaborators. store may be nil for a
// pipeline that only scans.
func New(scanner *scan.Scanner, g *guard.Guard, store *backup.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		fs:            afero.NewOsFs(),
		scanner:       scanner,
		guard:         g,
		store:         store,
		locks:         lock.Never,
		sink:          events.Discard,
		log:           zap.NewNop(),
		now:           time.Now,
		retentionDays: backup.DefaultRetentionDays,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Candidates returns a copy of the candidate list from the last scan.
func (p *Pipeline) Candidates() []scan.Candidate {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]scan.Candidate(nil), p.candidates...)
}

// Busy reports whether an operation is running.
func (p *Pipeline) Busy() bool {
	return p.running.Load()
}

func (p *Pipeline) acquire() error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (p *Pipeline) release() {
	p.running.Store(false)
}

// Scan walks volumes, replaces the pipeline's candidate list with what it
// finds, and emits a found event per candidate. On cancellation the partial
// list is kept and ctx.Err() is returned with the partial summary.
func (p *Pipeline) Scan(ctx context.Context, volumes []scan.Volume) (*Summary, error) {
	if err := p.acquire(); err != nil {
		return nil, err
	}
	defer p.release()
	return p.scan(ctx, volumes)
}

func (p *Pipeline) scan(ctx context.Context, volumes []scan.Volume) (*Summary, error) {
	start := p.now()
	p.log.Info("scan started", zap.Int("volumes", len(volumes)))

	var found []scan.Candidate
	var bytes int64
	for c := range p.scanner.Scan(ctx, volumes) {
		found = append(found, c)
		bytes += c.Size
		p.emit(events.Event{
			Kind:       events.KindFound,
			Path:       c.Path,
			Size:       c.Size,
			FilesFound: len(found),
			BytesFound: bytes,
		})
	}

	p.mu.Lock()
	p.candidates = found
	p.mu.Unlock()

	summary := &Summary{
		FilesFound: len(found),
		BytesFound: bytes,
		Total:      len(found),
		Skipped:    int(p.scanner.Stats().Skipped),
		Cancelled:  ctx.Err() != nil,
	}
	p.log.Info("scan finished",
		zap.Int("files_found", summary.FilesFound),
		zap.Int64("bytes_found", summary.BytesFound),
		zap.Duration("elapsed", p.now().Sub(start)),
		zap.Bool("cancelled", summary.Cancelled))
	p.emitSummary(summary)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// Cleanup backs up candidates into one archive and then deletes exactly the
// files that archive holds. A file is deleted only when it is still present
// with the size recorded at backup time, is not protected and is not locked.
// Per-file failures are counted as skipped. The retention sweep runs after a
// batch that was not cancelled.
func (p *Pipeline) Cleanup(ctx context.Context, candidates []scan.Candidate, opts Options) (*Summary, error) {
	if err := p.acquire(); err != nil {
		return nil, err
	}
	defer p.release()
	return p.cleanup(ctx, candidates, opts)
}

func (p *Pipeline) cleanup(ctx context.Context, candidates []scan.Candidate, opts Options) (*Summary, error) {
	summary := &Summary{
		FilesFound: len(candidates),
		BytesFound: lo.SumBy(candidates, func(c scan.Candidate) int64 { return c.Size }),
		Total:      len(candidates),
		DryRun:     opts.DryRun,
	}

	if opts.DryRun {
		for i, c := range candidates {
			p.emit(events.Event{
				Kind:       events.KindCurrent,
				Path:       c.Path,
				FilesFound: i + 1,
				Total:      summary.Total,
				Percent:    percent(i+1, summary.Total),
			})
		}
		p.log.Info("dry run, nothing backed up or deleted", zap.Int("files", summary.Total))
		p.emitSummary(summary)
		return summary, nil
	}

	if len(candidates) == 0 {
		p.emitSummary(summary)
		return summary, nil
	}
	if p.store == nil {
		return summary, fmt.Errorf("%w: no backup store configured", ErrNoArchive)
	}

	eligible := make([]scan.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if p.guard.IsProtected(c.Path) {
			p.skip(summary, events.StageBackup, c.Path, "protected path")
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		p.emitSummary(summary)
		return summary, fmt.Errorf("%w: %w", ErrNoArchive, backup.ErrNoFilesToBackup)
	}

	archive, err := p.store.Create(ctx, lo.Map(eligible, func(c scan.Candidate, _ int) string { return c.Path }), opts.Tag)
	if err != nil {
		summary.Skipped += len(eligible)
		if ctxErr := ctx.Err(); ctxErr != nil {
			summary.Cancelled = true
			p.emitSummary(summary)
			return summary, ctxErr
		}
		p.log.Error("backup failed, aborting cleanup", zap.Error(err))
		p.emitSummary(summary)
		return summary, fmt.Errorf("%w: %w", ErrNoArchive, err)
	}
	summary.Archive = archive.Path
	for _, s := range archive.Skipped {
		p.skip(summary, events.StageBackup, s.Path, s.Reason)
	}

	deletable := lo.Filter(eligible, func(c scan.Candidate, _ int) bool {
		return archive.Contains(c.Path)
	})

	var remaining []scan.Candidate
	for i, c := range deletable {
		if ctx.Err() != nil {
			remaining = append(remaining, deletable[i:]...)
			summary.Cancelled = true
			break
		}

		p.emit(events.Event{
			Kind:         events.KindCurrent,
			Path:         c.Path,
			FilesDeleted: summary.FilesDeleted,
			Total:        len(deletable),
			Percent:      percent(i, len(deletable)),
		})

		entry, _ := archive.Entry(c.Path)
		if reason := p.deleteOne(c.Path, entry.Size); reason != "" {
			p.skip(summary, events.StageDelete, c.Path, reason)
			remaining = append(remaining, c)
			continue
		}

		summary.FilesDeleted++
		summary.BytesFreed += entry.Size
		p.emit(events.Event{
			Kind:         events.KindDeleted,
			Path:         c.Path,
			Size:         entry.Size,
			FilesDeleted: summary.FilesDeleted,
			Total:        len(deletable),
			Percent:      percent(i+1, len(deletable)),
		})
	}

	p.forget(deletable, remaining)

	if summary.Cancelled {
		p.log.Warn("cleanup cancelled",
			zap.Int("deleted", summary.FilesDeleted),
			zap.Int("total", summary.Total),
			zap.String("archive", summary.Archive))
		p.emitSummary(summary)
		return summary, ctx.Err()
	}

	retention := opts.RetentionDays
	if retention <= 0 {
		retention = p.retentionDays
	}
	sweep, err := p.store.CleanupOld(retention)
	if err != nil {
		p.log.Warn("retention sweep failed", zap.Error(err))
	} else {
		summary.ArchivesRemoved = len(sweep.Removed)
	}

	p.log.Info("cleanup finished",
		zap.Int("deleted", summary.FilesDeleted),
		zap.Int("total", summary.Total),
		zap.Int("skipped", summary.Skipped),
		zap.Int64("bytes_freed", summary.BytesFreed),
		zap.String("archive", summary.Archive))
	p.emitSummary(summary)
	return summary, nil
}

// deleteOne removes path after re-checking it. A non-empty result is the
// reason the file was kept.
func (p *Pipeline) deleteOne(path string, backedUpSize int64) string {
	info, err := p.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "vanished before delete"
		}
		return "cannot stat: " + err.Error()
	}
	if !info.Mode().IsRegular() {
		return "no longer a regular file"
	}
	if info.Size() != backedUpSize {
		return "changed since backup"
	}
	if p.guard.IsProtected(path) {
		return "protected path"
	}
	if p.locks.IsLocked(path) {
		return "locked by another process"
	}
	if err := p.fs.Remove(path); err != nil {
		return "delete failed: " + err.Error()
	}
	return ""
}

// forget drops processed candidates from the owned list, keeping the ones
// that were not deleted.
func (p *Pipeline) forget(processed, kept []scan.Candidate) {
	done := make(map[string]struct{}, len(processed))
	for _, c := range processed {
		done[c.Path] = struct{}{}
	}
	for _, c := range kept {
		delete(done, c.Path)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = lo.Reject(p.candidates, func(c scan.Candidate, _ int) bool {
		_, ok := done[c.Path]
		return ok
	})
}

func (p *Pipeline) skip(summary *Summary, stage, path, reason string) {
	summary.Skipped++
	p.emit(events.Event{
		Kind:         events.KindSkipped,
		Stage:        stage,
		Path:         path,
		Reason:       reason,
		FilesDeleted: summary.FilesDeleted,
		Total:        summary.Total,
	})
}

func (p *Pipeline) emit(e events.Event) {
	if e.Time.IsZero() {
		e.Time = p.now()
	}
	p.sink.Emit(e)
}

func (p *Pipeline) emitSummary(s *Summary) {
	snapshot := *s
	p.emit(events.Event{
		Kind:         events.KindSummary,
		FilesFound:   s.FilesFound,
		BytesFound:   s.BytesFound,
		FilesDeleted: s.FilesDeleted,
		Total:        s.Total,
		Percent:      100,
		Summary:      &snapshot,
	})
}

func percent(done, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(done) * 100 / float64(total)
}
