package backup

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	archivePrefix = "backup_"
	archiveExt    = ".zip"

	// timestampLayout is YYYYMMDD_HHMMSS.
	timestampLayout = "20060102_150405"

	// DefaultTag marks archives written by a cleanup run.
	DefaultTag = "auto"
	// ManualTag marks archives a user asked for explicitly.
	ManualTag = "manual"
)

var tagPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// ValidTag reports whether tag can be embedded in an archive name.
func ValidTag(tag string) bool {
	return tagPattern.MatchString(tag)
}

// ArchiveName builds backup_<tag>_<YYYYMMDD_HHMMSS>.zip from t's wall clock.
func ArchiveName(tag string, t time.Time) string {
	return fmt.Sprintf("%s%s_%s%s", archivePrefix, tag, t.Format(timestampLayout), archiveExt)
}

// ParseArchiveName extracts the tag and creation time from an archive file
// name. The timestamp is read positionally from the end of the name so tags
// may contain underscores. Any deviation reports ok=false.
func ParseArchiveName(name string, loc *time.Location) (tag string, created time.Time, ok bool) {
	if !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, archiveExt) {
		return "", time.Time{}, false
	}
	core := strings.TrimSuffix(strings.TrimPrefix(name, archivePrefix), archiveExt)

	n := len(timestampLayout)
	if len(core) < n+2 || core[len(core)-n-1] != '_' {
		return "", time.Time{}, false
	}

	tag = core[:len(core)-n-1]
	if !ValidTag(tag) {
		return "", time.Time{}, false
	}

	if loc == nil {
		loc = time.Local
	}
	created, err := time.ParseInLocation(timestampLayout, core[len(core)-n:], loc)
	if err != nil {
		return "", time.Time{}, false
	}
	return tag, created, true
}
