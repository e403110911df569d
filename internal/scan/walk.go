package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// errStopWalk unwinds afero.Walk when the visitor asks to stop.
var errStopWalk = errors.New("walk stopped")

// WalkOptions tunes Walk.
type WalkOptions struct {
	// Prune is asked once per directory; returning true skips the whole subtree.
	Prune func(dir string) bool

	// OnSkip receives entries that could not be read.
	OnSkip func(path string, err error)
}

// Walk performs a depth-first, lexically ordered walk of root, calling visit
// for every regular file. Symlinks and junctions are never followed and
// unreadable directories are reported through OnSkip, then passed over.
// Returning false from visit stops the walk; ctx is checked between entries.
func Walk(ctx context.Context, fs afero.Fs, root string, opts WalkOptions, visit func(path string, info os.FileInfo) bool) error {
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			// Permission denied or vanished: skip, don't fail.
			if opts.OnSkip != nil {
				opts.OnSkip(path, err)
			}
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			if opts.Prune != nil && opts.Prune(path) {
				return filepath.SkipDir
			}
			// Never follow junction points or reparse points; they can loop.
			if path != root && isReparsePoint(path) {
				if opts.OnSkip != nil {
					opts.OnSkip(path, errReparsePoint)
				}
				return filepath.SkipDir
			}
			return nil
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		if !visit(path, info) {
			return errStopWalk
		}
		return nil
	})

	// SkipDir escapes afero.Walk when the root itself cannot be listed.
	if errors.Is(err, errStopWalk) || errors.Is(err, filepath.SkipDir) {
		return nil
	}
	return err
}

var errReparsePoint = errors.New("junction or reparse point")
