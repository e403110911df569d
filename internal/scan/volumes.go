package scan

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"
)

// Volume is the root directory of an addressable storage volume.
type Volume struct {
	Root   string `json:"root"`
	FSType string `json:"fs_type,omitempty"`
	Label  string `json:"label,omitempty"`
}

// ListVolumes returns the mounted volumes in a stable order. Mount points
// nested under another volume (/home under /) are dropped because walking the
// outer volume already covers them.
func ListVolumes(ctx context.Context) ([]Volume, error) {
	vols, err := listVolumes(ctx)
	if err != nil {
		return nil, err
	}
	return dropNested(vols), nil
}

// VolumesFromPaths turns user-supplied directories into volume roots,
// dropping empties, duplicates and roots nested under another root.
func VolumesFromPaths(paths []string) []Volume {
	seen := make(map[string]bool, len(paths))
	vols := make([]Volume, 0, len(paths))
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		root := filepath.Clean(p)
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		if seen[root] {
			continue
		}
		seen[root] = true
		vols = append(vols, Volume{Root: root})
	}
	return dropNested(vols)
}

// dropNested removes every volume whose root lies inside another volume's
// root, keeping the input order of the rest.
func dropNested(vols []Volume) []Volume {
	out := make([]Volume, 0, len(vols))
	for i, v := range vols {
		nested := false
		for j, outer := range vols {
			if i == j {
				continue
			}
			if within(v.Root, outer.Root) && (!sameRoot(v.Root, outer.Root) || j < i) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, v)
		}
	}
	return out
}

func sameRoot(a, b string) bool {
	return foldRoot(a) == foldRoot(b)
}

// within reports whether path is root or lies below it.
func within(path, root string) bool {
	path, root = foldRoot(path), foldRoot(root)
	if path == root {
		return true
	}
	sep := string(filepath.Separator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(path, root)
}

func foldRoot(p string) string {
	p = filepath.Clean(p)
	if runtime.GOOS == "windows" {
		p = strings.ToLower(p)
	}
	return p
}
