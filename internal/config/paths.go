package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// backupDirName is the folder created under the user's home directory to hold
// backup archives.
const backupDirName = "CleanerBackups"

// homeDir returns the user profile directory.
// Falls back to %USERPROFILE% / $HOME when os.UserHomeDir cannot resolve it.
func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return h
	}
	if h := os.Getenv("USERPROFILE"); h != "" {
		return h
	}
	return os.Getenv("HOME")
}

// winDir returns the Windows directory (e.g., C:\Windows).
// Falls back to C:\Windows only if %WINDIR% is not set.
func winDir() string {
	if w := os.Getenv("WINDIR"); w != "" {
		return w
	}
	return `C:\Windows`
}

// programFiles returns the Program Files directory.
func programFiles() string {
	if p := os.Getenv("PROGRAMFILES"); p != "" {
		return p
	}
	return `C:\Program Files`
}

// programFilesX86 returns the Program Files (x86) directory.
func programFilesX86() string {
	if p := os.Getenv("PROGRAMFILES(X86)"); p != "" {
		return p
	}
	return `C:\Program Files (x86)`
}

// documentsDir returns the user's Documents folder.
func documentsDir() string {
	return filepath.Join(homeDir(), "Documents")
}

// DefaultBackupDir returns the well-known archive location under the user's
// home directory.
func DefaultBackupDir() string {
	return filepath.Join(homeDir(), backupDirName)
}

// DefaultProtectedPaths returns the directory trees that are never scanned or
// deleted from: the OS directory, the program installation directories and
// the user's documents.
func DefaultProtectedPaths() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			winDir(),
			programFiles(),
			programFilesX86(),
			documentsDir(),
		}
	case "darwin":
		return []string{
			"/System",
			"/Library",
			"/Applications",
			"/usr",
			"/bin",
			"/sbin",
			"/private/var/db",
			documentsDir(),
		}
	default:
		return []string{
			"/bin",
			"/boot",
			"/dev",
			"/etc",
			"/lib",
			"/lib64",
			"/opt",
			"/proc",
			"/run",
			"/sbin",
			"/snap",
			"/sys",
			"/usr",
			"/var",
			documentsDir(),
		}
	}
}

// DefaultRubbishExtensions is the allowlist of extensions considered
// temporary, backup, log or checkpoint files. Entries containing glob
// metacharacters are matched as patterns.
func DefaultRubbishExtensions() []string {
	return []string{
		".tmp", ".bak", ".old", ".wbk", ".xlk", "._mp", ".log",
		".gid", ".chk", ".syd", ".$$$", ".@@@", ".~*",
	}
}
