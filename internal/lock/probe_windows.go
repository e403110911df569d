//go:build windows

package lock

import (
	"errors"

	"golang.org/x/sys/windows"
)

// probeLocked opens path with no sharing; a sharing violation means another
// process has it open.
func probeLocked(path string) bool {
	pathp, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return false
	}
	h, err := windows.CreateFile(
		pathp,
		windows.GENERIC_READ,
		0, // no sharing
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		return errors.Is(err, windows.ERROR_SHARING_VIOLATION) ||
			errors.Is(err, windows.ERROR_LOCK_VIOLATION)
	}
	_ = windows.CloseHandle(h)
	return false
}
