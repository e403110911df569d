package backup

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultRetentionDays is how long archives are kept when no window is given.
const DefaultRetentionDays = 30

// ArchiveInfo describes an archive file found in the backup directory.
type ArchiveInfo struct {
	Name      string
	Path      string
	Tag       string
	CreatedAt time.Time
	Size      int64
	// Parsed is false when the name does not follow the archive convention.
	Parsed bool
}

// SweepResult reports the outcome of a retention sweep.
type SweepResult struct {
	Removed  []string
	Kept     []string
	Unparsed []string
	Failed   []Skip
}

// List returns every .zip file in the backup directory, newest first.
// Archives with unparseable names sort last.
func (s *Store) List() ([]ArchiveInfo, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list backup directory: %w", err)
	}

	var out []ArchiveInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), archiveExt) {
			continue
		}
		tag, created, ok := ParseArchiveName(e.Name(), s.loc)
		out = append(out, ArchiveInfo{
			Name:      e.Name(),
			Path:      filepath.Join(s.dir, e.Name()),
			Tag:       tag,
			CreatedAt: created,
			Size:      e.Size(),
			Parsed:    ok,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Parsed != out[j].Parsed {
			return out[i].Parsed
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// CleanupOld deletes archives whose embedded timestamp is more than
// retentionDays before now. Archives with unparseable names are never
// touched. A non-positive window falls back to DefaultRetentionDays.
func (s *Store) CleanupOld(retentionDays int) (*SweepResult, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	window := time.Duration(retentionDays) * 24 * time.Hour

	archives, err := s.List()
	if err != nil {
		return nil, err
	}

	now := s.now()
	result := &SweepResult{}
	for _, a := range archives {
		if !a.Parsed {
			result.Unparsed = append(result.Unparsed, a.Name)
			continue
		}
		if now.Sub(a.CreatedAt) <= window {
			result.Kept = append(result.Kept, a.Name)
			continue
		}
		if err := s.fs.Remove(a.Path); err != nil {
			s.log.Warn("failed to remove expired archive", zap.String("archive", a.Path), zap.Error(err))
			result.Failed = append(result.Failed, Skip{Path: a.Path, Reason: err.Error()})
			continue
		}
		s.log.Info("removed expired archive", zap.String("archive", a.Path), zap.Time("created", a.CreatedAt))
		result.Removed = append(result.Removed, a.Name)
	}
	return result, nil
}
