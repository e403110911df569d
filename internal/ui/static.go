package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/lakshaymaurya-felt/clearfile/internal/backup"
	"github.com/lakshaymaurya-felt/clearfile/internal/events"
	"github.com/lakshaymaurya-felt/clearfile/internal/scan"
	"github.com/lakshaymaurya-felt/clearfile/internal/search"
)

// pathWidth is the display width of paths in plain listings.
const pathWidth = 50

// maxListed caps plain listings to keep output manageable.
const maxListed = 200

func rule(w io.Writer) {
	fmt.Fprintln(w, "  "+strings.Repeat("-", 58))
}

// PrintCandidates lists scan results with their size and age.
func PrintCandidates(w io.Writer, candidates []scan.Candidate, now time.Time) {
	if len(candidates) == 0 {
		fmt.Fprintln(w, "  No rubbish files found.")
		return
	}

	var total int64
	for _, c := range candidates {
		total += c.Size
	}

	fmt.Fprintf(w, "  Rubbish files: %d (%s)\n", len(candidates), FormatSize(total))
	rule(w)
	for i, c := range candidates {
		if i == maxListed {
			fmt.Fprintf(w, "  ... and %d more files\n", len(candidates)-maxListed)
			break
		}
		age := int(now.Sub(c.ModTime).Hours() / 24)
		fmt.Fprintf(w, "  %-50s  %10s  %4dd\n", TruncatePath(c.Path, pathWidth), FormatSize(c.Size), age)
	}
	rule(w)
	fmt.Fprintf(w, "  Total: %s\n", FormatSize(total))
}

// PrintMatches lists search results.
func PrintMatches(w io.Writer, title string, matches []search.Match) {
	fmt.Fprintf(w, "  %s: %d\n", title, len(matches))
	if len(matches) == 0 {
		return
	}
	rule(w)
	for i, m := range matches {
		if i == maxListed {
			fmt.Fprintf(w, "  ... and %d more files\n", len(matches)-maxListed)
			break
		}
		fmt.Fprintf(w, "  %-50s  %10s\n", TruncatePath(m.Path, pathWidth), FormatSize(m.Size))
	}
}

// PrintVolumes lists volume roots.
func PrintVolumes(w io.Writer, volumes []scan.Volume) {
	for _, v := range volumes {
		line := "  " + v.Root
		if v.FSType != "" {
			line += "  (" + v.FSType + ")"
		}
		if v.Label != "" {
			line += "  " + v.Label
		}
		fmt.Fprintln(w, line)
	}
}

// PrintArchives lists backups, newest first.
func PrintArchives(w io.Writer, archives []backup.ArchiveInfo) {
	if len(archives) == 0 {
		fmt.Fprintln(w, "  No backups found.")
		return
	}
	for _, a := range archives {
		created := "unknown date"
		if a.Parsed {
			created = a.CreatedAt.Format("2006-01-02 15:04:05")
		}
		tag := a.Tag
		if tag == "" {
			tag = "-"
		}
		fmt.Fprintf(w, "  %-40s  %-8s  %-19s  %10s\n", a.Name, tag, created, FormatSize(a.Size))
	}
}

// PrintSummary reports the outcome of a scan or cleanup.
func PrintSummary(w io.Writer, s *events.Summary) {
	if s == nil {
		return
	}
	switch {
	case s.DryRun:
		fmt.Fprintf(w, "  Dry run: %d files (%s) would be backed up and deleted.\n", s.Total, FormatSize(s.BytesFound))
	case s.Archive == "" && s.FilesDeleted == 0 && s.Total == s.FilesFound:
		fmt.Fprintf(w, "  Found %d rubbish files (%s).\n", s.FilesFound, FormatSize(s.BytesFound))
	default:
		fmt.Fprintf(w, "  Deleted %d of %d files, freed %s.\n", s.FilesDeleted, s.Total, FormatSize(s.BytesFreed))
	}
	if s.Skipped > 0 {
		fmt.Fprintf(w, "  Skipped: %d\n", s.Skipped)
	}
	if s.Archive != "" {
		fmt.Fprintf(w, "  Backup: %s\n", s.Archive)
	}
	if s.ArchivesRemoved > 0 {
		fmt.Fprintf(w, "  Expired backups removed: %d\n", s.ArchivesRemoved)
	}
	if s.Cancelled {
		fmt.Fprintln(w, "  Cancelled before completion.")
	}
}

// PrintRestore reports a restore.
func PrintRestore(w io.Writer, res *backup.RestoreResult) {
	for _, r := range res.Restored {
		note := ""
		if r.Renamed {
			note = "  (existing file kept)"
		}
		fmt.Fprintf(w, "  %s %s%s\n", IconCheck, r.Path, note)
	}
	for _, f := range res.Failed {
		fmt.Fprintf(w, "  %s %s: %s\n", IconError, f.Path, f.Reason)
	}
	fmt.Fprintf(w, "  Restored %d files, %d failed.\n", len(res.Restored), len(res.Failed))
}

// PlainSink prints one line per deleted or skipped file. It is used when
// output is not a terminal.
func PlainSink(w io.Writer) events.Sink {
	var mu sync.Mutex
	return events.SinkFunc(func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch e.Kind {
		case events.KindDeleted:
			fmt.Fprintf(w, "  deleted  %s\n", e.Path)
		case events.KindSkipped:
			fmt.Fprintf(w, "  skipped  %s: %s\n", e.Path, e.Reason)
		}
	})
}
