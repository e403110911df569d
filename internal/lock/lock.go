// Package lock reports whether a file is currently held open by a process.
//
// Detection is best-effort: a file can be opened or released between the
// check and its use, so callers treat later I/O failures as per-file skips.
package lock

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Checker is implemented by anything that can tell if a path is in use.
type Checker interface {
	IsLocked(path string) bool
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(path string) bool

// IsLocked calls f(path).
func (f CheckerFunc) IsLocked(path string) bool { return f(path) }

// Never is a Checker that reports every file as free.
var Never Checker = CheckerFunc(func(string) bool { return false })

// defaultTTL bounds how stale the open-handle snapshot may get.
const defaultTTL = 2 * time.Second

// ProcessChecker inspects the OS process table for open handles and, where
// the platform supports it, probes the file for an exclusive lock.
type ProcessChecker struct {
	ttl   time.Duration
	probe bool
	log   *zap.Logger
	now   func() time.Time

	mu      sync.Mutex
	open    map[string]struct{}
	takenAt time.Time
}

// Option configures a ProcessChecker.
type Option func(*ProcessChecker)

// WithTTL sets how long an open-handle snapshot is reused. Zero rebuilds it
// on every check.
func WithTTL(d time.Duration) Option {
	return func(c *ProcessChecker) {
		c.ttl = d
	}
}

// WithProbe toggles the exclusive-open probe.
func WithProbe(v bool) Option {
	return func(c *ProcessChecker) {
		c.probe = v
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *ProcessChecker) {
		if l != nil {
			c.log = l
		}
	}
}

// NewProcessChecker returns a checker with a short-lived snapshot cache.
func NewProcessChecker(opts ...Option) *ProcessChecker {
	c := &ProcessChecker{
		ttl:   defaultTTL,
		probe: true,
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsLocked reports whether any running process holds path open.
func (c *ProcessChecker) IsLocked(path string) bool {
	if c.probe && probeLocked(path) {
		return true
	}

	key := normalize(path)
	open := c.snapshot(context.Background())
	_, ok := open[key]
	return ok
}

// Refresh rebuilds the open-handle snapshot immediately.
func (c *ProcessChecker) Refresh(ctx context.Context) error {
	open, err := collectOpenFiles(ctx, c.log)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.open = open
	c.takenAt = c.now()
	c.mu.Unlock()
	return nil
}

func (c *ProcessChecker) snapshot(ctx context.Context) map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open != nil && c.ttl > 0 && c.now().Sub(c.takenAt) < c.ttl {
		return c.open
	}

	open, err := collectOpenFiles(ctx, c.log)
	if err != nil {
		c.log.Warn("failed to list processes; assuming no open handles", zap.Error(err))
		open = map[string]struct{}{}
	}
	c.open = open
	c.takenAt = c.now()
	return open
}

// collectOpenFiles walks every process it may inspect. Processes that exit
// or deny access are skipped.
func collectOpenFiles(ctx context.Context, log *zap.Logger) (map[string]struct{}, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	open := make(map[string]struct{})
	denied := 0
	for _, p := range procs {
		files, err := p.OpenFilesWithContext(ctx)
		if err != nil {
			denied++
			continue
		}
		for _, f := range files {
			if f.Path == "" {
				continue
			}
			open[normalize(f.Path)] = struct{}{}
		}
	}
	log.Debug("open-handle snapshot",
		zap.Int("processes", len(procs)),
		zap.Int("uninspectable", denied),
		zap.Int("open_files", len(open)))
	return open, nil
}

func normalize(path string) string {
	p := filepath.Clean(path)
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	if runtime.GOOS == "windows" {
		p = strings.ToLower(p)
	}
	return p
}
