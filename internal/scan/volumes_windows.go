//go:build windows

package scan

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/yusufpapurcu/wmi"
	"golang.org/x/sys/windows"
)

// win32LogicalDisk mirrors the Win32_LogicalDisk fields we read.
type win32LogicalDisk struct {
	DeviceID   string
	DriveType  uint32
	FileSystem string
	VolumeName string
}

// Win32_LogicalDisk DriveType values.
const (
	driveRemovable = 2
	driveFixed     = 3
)

// listVolumes queries WMI for fixed and removable drives. When WMI is
// unavailable it falls back to the GetLogicalDrives bitmask.
func listVolumes(ctx context.Context) ([]Volume, error) {
	var disks []win32LogicalDisk
	const q = "SELECT DeviceID, DriveType, FileSystem, VolumeName FROM Win32_LogicalDisk WHERE DriveType = 2 OR DriveType = 3"
	if err := wmi.Query(q, &disks); err == nil && len(disks) > 0 {
		vols := make([]Volume, 0, len(disks))
		for _, d := range disks {
			if d.DeviceID == "" || (d.DriveType != driveRemovable && d.DriveType != driveFixed) {
				continue
			}
			vols = append(vols, Volume{
				Root:   strings.ToUpper(d.DeviceID) + `\`,
				FSType: d.FileSystem,
				Label:  d.VolumeName,
			})
		}
		sort.Slice(vols, func(i, j int) bool { return vols[i].Root < vols[j].Root })
		return vols, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mask, err := windows.GetLogicalDrives()
	if err != nil {
		return nil, fmt.Errorf("failed to list logical drives: %w", err)
	}

	var vols []Volume
	for i := 0; i < 26; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		root := string(rune('A'+i)) + `:\`
		rootp, err := windows.UTF16PtrFromString(root)
		if err != nil {
			continue
		}
		switch windows.GetDriveType(rootp) {
		case windows.DRIVE_FIXED, windows.DRIVE_REMOVABLE:
			vols = append(vols, Volume{Root: root})
		}
	}
	return vols, nil
}
