// Package scan walks volumes and yields the files that qualify as rubbish.
package scan

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/lakshaymaurya-felt/clearfile/internal/classify"
	"github.com/lakshaymaurya-felt/clearfile/internal/guard"
)

// Candidate is a file the scanner found to qualify as rubbish.
type Candidate struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mod_time"`
	Extension string    `json:"extension"`
}

// Skip records an entry the walk passed over and why.
type Skip struct {
	Path   string
	Reason string
}

// Stats are running totals for the most recent scan.
type Stats struct {
	FilesSeen  int64
	DirsPruned int64
	Skipped    int64
}

// Scanner combines a Guard and a Classifier over an afero filesystem.
type Scanner struct {
	fs         afero.Fs
	guard      *guard.Guard
	classifier *classify.Classifier
	log        *zap.Logger
	onSkip     func(Skip)

	filesSeen  atomic.Int64
	dirsPruned atomic.Int64
	skipped    atomic.Int64
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger used for skipped entries.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSkipHandler registers a callback for every skipped entry.
func WithSkipHandler(fn func(Skip)) Option {
	return func(s *Scanner) {
		s.onSkip = fn
	}
}

// New creates a Scanner. A nil fs means the OS filesystem.
func New(fs afero.Fs, g *guard.Guard, c *classify.Classifier, opts ...Option) *Scanner {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	s := &Scanner{
		fs:         fs,
		guard:      g,
		classifier: c,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the counters of the current or last scan.
func (s *Scanner) Stats() Stats {
	return Stats{
		FilesSeen:  s.filesSeen.Load(),
		DirsPruned: s.dirsPruned.Load(),
		Skipped:    s.skipped.Load(),
	}
}

// Scan returns a lazy, single-pass sequence of candidates across volumes.
// Each range over the result re-walks from scratch. Protected directories are
// pruned before descent. The sequence ends early when ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context, volumes []Volume) iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		s.filesSeen.Store(0)
		s.dirsPruned.Store(0)
		s.skipped.Store(0)

		opts := WalkOptions{
			Prune: func(dir string) bool {
				if s.guard.IsProtected(dir) {
					s.dirsPruned.Add(1)
					s.log.Debug("pruned protected directory", zap.String("path", dir))
					return true
				}
				return false
			},
			OnSkip: func(path string, err error) {
				s.skip(path, err.Error())
			},
		}

		// Overlapping roots would otherwise yield the same file twice.
		yielded := make(map[string]struct{})
		stopped := false
		for _, vol := range volumes {
			if stopped || ctx.Err() != nil {
				return
			}

			err := Walk(ctx, s.fs, vol.Root, opts, func(path string, info os.FileInfo) bool {
				s.filesSeen.Add(1)

				verdict := s.classifier.Evaluate(path, info)
				if !verdict.Qualifies {
					return true
				}
				// A protected prefix may name a single file rather than a directory.
				if s.guard.IsProtected(path) {
					return true
				}

				if _, dup := yielded[path]; dup {
					return true
				}
				yielded[path] = struct{}{}

				c := Candidate{
					Path:      path,
					Size:      info.Size(),
					ModTime:   info.ModTime(),
					Extension: strings.ToLower(filepath.Ext(path)),
				}
				if !yield(c) {
					stopped = true
					return false
				}
				return true
			})
			if err != nil && ctx.Err() == nil {
				s.log.Warn("volume walk aborted", zap.String("volume", vol.Root), zap.Error(err))
			}
		}
	}
}

func (s *Scanner) skip(path, reason string) {
	s.skipped.Add(1)
	s.log.Debug("skipped entry", zap.String("path", path), zap.String("reason", reason))
	if s.onSkip != nil {
		s.onSkip(Skip{Path: path, Reason: reason})
	}
}
