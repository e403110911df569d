package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// FormatSize renders a byte count with binary units (1.5 MiB).
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}

// ParseSize reads a human size such as "100MB", "1.5GiB" or "4096".
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("size %q is too large", s)
	}
	return int64(n), nil
}

// TruncatePath shortens path to at most maxLen runes by replacing its middle
// with "...". The tail keeps a little more than half of the remaining space
// so the file name stays visible; at 50 that is 20 leading and 27 trailing
// runes. Rune-safe so multi-byte names are never split.
func TruncatePath(path string, maxLen int) string {
	r := []rune(path)
	if maxLen <= 3 || len(r) <= maxLen {
		if maxLen > 0 && len(r) > maxLen {
			return string(r[:maxLen])
		}
		return path
	}
	room := maxLen - 3
	tail := room * 27 / 47
	head := room - tail
	return string(r[:head]) + "..." + string(r[len(r)-tail:])
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
