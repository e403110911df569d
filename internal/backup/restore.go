package backup

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

// RestoredFile is one entry written back to disk.
type RestoredFile struct {
	Entry string
	Path  string
	// Renamed is set when the destination already existed and the file was
	// written under a _restored name instead.
	Renamed bool
}

// RestoreResult reports what a restore did.
type RestoreResult struct {
	Restored []RestoredFile
	Failed   []Skip
}

// Restore extracts every content entry of the archive at archivePath.
//
// Destination per entry: targetDir/<base name> when targetDir is set, else the
// recorded original path, else <backup dir>/<base name> when the entry has no
// metadata. Existing files are never overwritten; the restored copy gets a
// _restored suffix before its extension. A failing entry is recorded and the
// rest continue. An error is returned only when the archive cannot be opened
// or ctx is cancelled between entries.
func (s *Store) Restore(ctx context.Context, archivePath, targetDir string) (*RestoreResult, error) {
	f, err := s.fs.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to read archive %s: %w", archivePath, err)
	}

	mapping := s.readMapping(zr)
	result := &RestoreResult{}
	log := s.log.With(zap.String("archive", archivePath))

	for _, zf := range zr.File {
		if isMetaName(zf.Name) || zf.FileInfo().IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		meta, hasMeta := mapping[zf.Name]

		var dest string
		switch {
		case targetDir != "":
			dest = filepath.Join(targetDir, safeBase(zf.Name))
		case hasMeta:
			dest = meta.OriginalPath
		default:
			log.Warn("no metadata for entry; restoring into backup directory", zap.String("entry", zf.Name))
			dest = filepath.Join(s.dir, safeBase(zf.Name))
		}

		written, renamed, err := s.extract(zf, dest, meta, hasMeta)
		if err != nil {
			log.Warn("failed to restore entry", zap.String("entry", zf.Name), zap.String("dest", dest), zap.Error(err))
			result.Failed = append(result.Failed, Skip{Path: zf.Name, Reason: err.Error()})
			continue
		}
		log.Debug("restored entry", zap.String("entry", zf.Name), zap.String("path", written))
		result.Restored = append(result.Restored, RestoredFile{Entry: zf.Name, Path: written, Renamed: renamed})
	}

	log.Info("archive restored",
		zap.Int("restored", len(result.Restored)),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

// readMapping builds the entry-name to metadata map from meta/ entries.
// Unreadable metadata is logged and left out of the map.
func (s *Store) readMapping(zr *zip.Reader) map[string]Metadata {
	mapping := make(map[string]Metadata)
	for _, zf := range zr.File {
		name, ok := contentNameFor(zf.Name)
		if !ok {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			s.log.Warn("cannot open metadata entry", zap.String("entry", zf.Name), zap.Error(err))
			continue
		}
		data, err := io.ReadAll(io.LimitReader(rc, 64<<10))
		_ = rc.Close()
		if err != nil {
			s.log.Warn("cannot read metadata entry", zap.String("entry", zf.Name), zap.Error(err))
			continue
		}
		meta, err := ParseMetadata(data)
		if err != nil {
			s.log.Warn("invalid metadata entry", zap.String("entry", zf.Name), zap.Error(err))
			continue
		}
		mapping[name] = meta
	}
	return mapping
}

// extract writes zf to a temporary sibling of dest, verifies it, then moves
// it to a non-conflicting final name.
func (s *Store) extract(zf *zip.File, dest string, meta Metadata, hasMeta bool) (string, bool, error) {
	dir := filepath.Dir(dest)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("create directory: %w", err)
	}

	rc, err := zf.Open()
	if err != nil {
		return "", false, fmt.Errorf("open entry: %w", err)
	}
	defer rc.Close()

	tmp, err := s.fs.OpenFile(dest+".restoring", os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", false, fmt.Errorf("create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(err error) (string, bool, error) {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return "", false, err
	}

	var h hash.Hash
	if hasMeta {
		h = hasherFor(meta.Hash)
	}
	var w io.Writer = tmp
	if h != nil {
		w = io.MultiWriter(tmp, h)
	}

	n, err := io.Copy(w, rc)
	if err != nil {
		return fail(fmt.Errorf("extract: %w", err))
	}
	if hasMeta && n != meta.Size {
		return fail(fmt.Errorf("size mismatch: archive has %d bytes, metadata records %d", n, meta.Size))
	}
	if h != nil {
		if got := hex.EncodeToString(h.Sum(nil)); got != meta.Hash {
			return fail(fmt.Errorf("hash mismatch: got %s, want %s", got, meta.Hash))
		}
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return "", false, fmt.Errorf("close temporary file: %w", err)
	}

	final, renamed := s.freeName(dest)
	if err := s.fs.Rename(tmpName, final); err != nil {
		_ = s.fs.Remove(tmpName)
		return "", false, fmt.Errorf("move into place: %w", err)
	}

	if mode := zf.Mode().Perm(); mode != 0 {
		_ = s.fs.Chmod(final, mode)
	}
	mtime := zf.Modified
	if hasMeta && !meta.Modified.IsZero() {
		mtime = meta.Modified
	}
	if !mtime.IsZero() {
		_ = s.fs.Chtimes(final, mtime, mtime)
	}

	return final, renamed, nil
}

// freeName returns dest if nothing exists there, else the first free
// name_restored.ext, name_restored_2.ext, ...
func (s *Store) freeName(dest string) (string, bool) {
	if !s.exists(dest) {
		return dest, false
	}
	ext := filepath.Ext(dest)
	base := strings.TrimSuffix(dest, ext)
	candidate := base + "_restored" + ext
	for i := 2; s.exists(candidate); i++ {
		candidate = base + "_restored_" + strconv.Itoa(i) + ext
	}
	return candidate, true
}

// hasherFor picks the digest matching a recorded hex hash: SHA-256 for new
// archives, MD5 for archives written by older releases.
func hasherFor(recorded string) hash.Hash {
	switch len(recorded) {
	case sha256.Size * 2:
		return sha256.New()
	case md5.Size * 2:
		return md5.New()
	default:
		return nil
	}
}

// safeBase reduces an archive entry name to a plain file name so entries can
// never escape their destination directory.
func safeBase(name string) string {
	base := filepath.Base(filepath.FromSlash(name))
	if base == "." || base == ".." || base == string(filepath.Separator) || base == "" {
		return "unnamed"
	}
	return base
}
