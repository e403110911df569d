// Package search finds files across volumes by size or by name.
package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/lakshaymaurya-felt/clearfile/internal/guard"
	"github.com/lakshaymaurya-felt/clearfile/internal/scan"
)

// ErrEmptyQuery is returned by ByName for a blank search text.
var ErrEmptyQuery = errors.New("search text is empty")

// maxWarnings caps how many unreadable entries are remembered.
const maxWarnings = 500

// Match is one file found by a search.
type Match struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Searcher walks volumes in parallel, one goroutine per volume with bounded
// concurrency.
type Searcher struct {
	fs    afero.Fs
	guard *guard.Guard
	log   *zap.Logger
	sem   chan struct{}

	mu           sync.Mutex
	warnings     []string
	scannedCount atomic.Int64
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithGuard prunes protected directories from every search.
func WithGuard(g *guard.Guard) Option {
	return func(s *Searcher) {
		s.guard = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Searcher) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSearcher creates a searcher walking at most maxConcurrency volumes at
// once. A nil fs means the OS filesystem.
func NewSearcher(fs afero.Fs, maxConcurrency int, opts ...Option) *Searcher {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	s := &Searcher{
		fs:  fs,
		log: zap.NewNop(),
		sem: make(chan struct{}, maxConcurrency),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Warnings returns the unreadable entries met by the last search.
func (s *Searcher) Warnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.warnings...)
}

// ScannedCount returns the number of files examined so far.
func (s *Searcher) ScannedCount() int64 {
	return s.scannedCount.Load()
}

// BigFiles returns every regular file of at least minSize bytes, largest first.
func (s *Searcher) BigFiles(ctx context.Context, volumes []scan.Volume, minSize int64) ([]Match, error) {
	matches, err := s.search(ctx, volumes, func(_ string, info os.FileInfo) bool {
		return info.Size() >= minSize
	})
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Size != matches[j].Size {
			return matches[i].Size > matches[j].Size
		}
		return matches[i].Path < matches[j].Path
	})
	return matches, err
}

// ByName returns every regular file whose base name contains text, compared
// case-insensitively, ordered by path.
func (s *Searcher) ByName(ctx context.Context, volumes []scan.Volume, text string) ([]Match, error) {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return nil, ErrEmptyQuery
	}
	matches, err := s.search(ctx, volumes, func(path string, _ os.FileInfo) bool {
		return strings.Contains(strings.ToLower(filepath.Base(path)), needle)
	})
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Path < matches[j].Path
	})
	return matches, err
}

func (s *Searcher) search(ctx context.Context, volumes []scan.Volume, match func(string, os.FileInfo) bool) ([]Match, error) {
	s.mu.Lock()
	s.warnings = nil
	s.mu.Unlock()
	s.scannedCount.Store(0)

	opts := scan.WalkOptions{
		OnSkip: func(path string, err error) {
			s.addWarning("cannot read " + path + ": " + err.Error())
		},
	}
	if s.guard != nil {
		opts.Prune = s.guard.IsProtected
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		matches []Match
	)
	for _, vol := range volumes {
		wg.Add(1)
		go func(root string) {
			defer wg.Done()

			select {
			case s.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-s.sem }()

			var local []Match
			err := scan.Walk(ctx, s.fs, root, opts, func(path string, info os.FileInfo) bool {
				s.scannedCount.Add(1)
				if match(path, info) {
					local = append(local, Match{
						Path:    path,
						Name:    info.Name(),
						Size:    info.Size(),
						ModTime: info.ModTime(),
					})
				}
				return true
			})
			if err != nil && ctx.Err() == nil {
				s.log.Warn("volume search aborted", zap.String("volume", root), zap.Error(err))
				s.addWarning("cannot search " + root + ": " + err.Error())
			}

			mu.Lock()
			matches = append(matches, local...)
			mu.Unlock()
		}(vol.Root)
	}
	wg.Wait()

	return matches, ctx.Err()
}

func (s *Searcher) addWarning(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.warnings) < maxWarnings {
		s.warnings = append(s.warnings, msg)
	}
}
