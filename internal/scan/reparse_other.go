//go:build !windows

package scan

// isReparsePoint is always false off Windows; symlinks are already excluded
// because the walk uses Lstat.
func isReparsePoint(string) bool {
	return false
}
