// Package classify decides whether a single file qualifies as rubbish from its
// extension, age and size.
package classify

import (
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Rule is the rubbish heuristic. A file qualifies when its extension is in
// Extensions and it is either older than MaxAge or smaller than MinSize.
type Rule struct {
	Extensions []string
	MaxAge     time.Duration
	MinSize    int64
}

// Reason explains a verdict.
type Reason string

const (
	ReasonOld        Reason = "older than max age"
	ReasonSmall      Reason = "smaller than min size"
	ReasonExtension  Reason = "extension not in allowlist"
	ReasonFresh      Reason = "recent and large"
	ReasonNotRegular Reason = "not a regular file"
	ReasonUnreadable Reason = "cannot stat"
)

// Verdict is the outcome of evaluating one file.
type Verdict struct {
	Qualifies bool
	Reason    Reason
}

// Classifier applies a Rule to files on an afero filesystem.
type Classifier struct {
	fs       afero.Fs
	exact    map[string]struct{}
	patterns []string
	maxAge   time.Duration
	minSize  int64
	now      func() time.Time
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithClock overrides the time source used for the age check.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		c.now = now
	}
}

// New builds a Classifier for rule. A nil fs means the OS filesystem.
func New(fs afero.Fs, rule Rule, opts ...Option) *Classifier {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	c := &Classifier{
		fs:      fs,
		exact:   make(map[string]struct{}, len(rule.Extensions)),
		maxAge:  rule.MaxAge,
		minSize: rule.MinSize,
		now:     time.Now,
	}
	for _, ext := range rule.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if strings.ContainsAny(ext, "*?[") {
			c.patterns = append(c.patterns, ext)
			continue
		}
		c.exact[ext] = struct{}{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Qualifies stats path and reports whether it is rubbish. Missing or
// unreadable files never qualify.
func (c *Classifier) Qualifies(p string) bool {
	info, err := c.fs.Stat(p)
	if err != nil {
		return false
	}
	return c.Evaluate(p, info).Qualifies
}

// Evaluate applies the three-stage filter to already-gathered metadata.
func (c *Classifier) Evaluate(p string, info os.FileInfo) Verdict {
	if info == nil {
		return Verdict{Reason: ReasonUnreadable}
	}
	if !info.Mode().IsRegular() {
		return Verdict{Reason: ReasonNotRegular}
	}
	if !c.MatchExtension(p) {
		return Verdict{Reason: ReasonExtension}
	}
	if c.now().Sub(info.ModTime()) > c.maxAge {
		return Verdict{Qualifies: true, Reason: ReasonOld}
	}
	if info.Size() < c.minSize {
		return Verdict{Qualifies: true, Reason: ReasonSmall}
	}
	return Verdict{Reason: ReasonFresh}
}

// MatchExtension reports whether the lower-cased extension of p is in the
// allowlist.
func (c *Classifier) MatchExtension(p string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	if ext == "" {
		return false
	}
	if _, ok := c.exact[ext]; ok {
		return true
	}
	for _, pattern := range c.patterns {
		if ok, err := path.Match(pattern, ext); err == nil && ok {
			return true
		}
	}
	return false
}
