//go:build !windows

package scan

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/disk"
)

// listVolumes enumerates physical mount points via gopsutil, falling back to
// the filesystem root when none are reported.
func listVolumes(ctx context.Context) ([]Volume, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	seen := make(map[string]bool, len(parts))
	var vols []Volume
	for _, p := range parts {
		if p.Mountpoint == "" || seen[p.Mountpoint] {
			continue
		}
		seen[p.Mountpoint] = true
		vols = append(vols, Volume{Root: p.Mountpoint, FSType: p.Fstype})
	}

	if len(vols) == 0 {
		vols = append(vols, Volume{Root: "/"})
	}
	return vols, nil
}
