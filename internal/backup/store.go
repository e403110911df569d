// Package backup writes timestamped zip archives of files before they are
// deleted, restores them, and sweeps archives past their retention window.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/lakshaymaurya-felt/clearfile/internal/lock"
)

var (
	// ErrNoFilesToBackup means no input file could be added to the archive.
	ErrNoFilesToBackup = errors.New("no files to back up")

	// ErrBackupDirUnwritable means the backup directory or archive container
	// could not be created or written.
	ErrBackupDirUnwritable = errors.New("backup directory not writable")

	// ErrInvalidTag means a tag cannot be embedded in an archive name.
	ErrInvalidTag = errors.New("invalid archive tag")
)

// hashChunkSize is the read size used when digesting file content.
const hashChunkSize = 64 << 10

// partialExt marks an archive that has not been finalized yet.
const partialExt = ".partial"

// Entry describes one file stored in an archive.
type Entry struct {
	Name         string
	OriginalPath string
	Size         int64
	Hash         string
	Modified     time.Time
}

// Skip is an input file that was left out of the archive.
type Skip struct {
	Path   string
	Reason string
}

// Archive is a finalized backup.
type Archive struct {
	Path      string
	Name      string
	Tag       string
	CreatedAt time.Time
	Entries   []Entry
	Skipped   []Skip
}

// Contains reports whether path was backed up in this archive.
func (a *Archive) Contains(path string) bool {
	_, ok := a.Entry(path)
	return ok
}

// Entry looks up the archive entry recorded for an original path.
func (a *Archive) Entry(path string) (Entry, bool) {
	if a == nil {
		return Entry{}, false
	}
	for _, e := range a.Entries {
		if e.OriginalPath == path {
			return e, true
		}
	}
	return Entry{}, false
}

// Store manages archives in a single backup directory.
type Store struct {
	fs    afero.Fs
	dir   string
	locks lock.Checker
	log   *zap.Logger
	now   func() time.Time
	loc   *time.Location
	level int
}

// Option configures a Store.
type Option func(*Store)

// WithFs sets the filesystem. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(s *Store) {
		if fs != nil {
			s.fs = fs
		}
	}
}

// WithLockChecker sets the checker consulted before reading each file.
func WithLockChecker(c lock.Checker) Option {
	return func(s *Store) {
		if c != nil {
			s.locks = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock sets the time source and the location archive names are
// written and parsed in.
func WithClock(now func() time.Time, loc *time.Location) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithCompressionLevel sets the deflate level, from flate.HuffmanOnly (-2)
// through flate.BestCompression (9). -1 is the library default.
func WithCompressionLevel(level int) Option {
	return func(s *Store) {
		s.level = level
	}
}

// NewStore opens dir as a backup directory, creating it if needed and
// verifying that it is writable.
func NewStore(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		fs:    afero.NewOsFs(),
		dir:   filepath.Clean(dir),
		locks: lock.Never,
		log:   zap.NewNop(),
		now:   time.Now,
		loc:   time.Local,
		level: flate.DefaultCompression,
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir == "" {
		return nil, fmt.Errorf("%w: empty path", ErrBackupDirUnwritable)
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBackupDirUnwritable, s.dir, err)
	}

	probe, err := afero.TempFile(s.fs, s.dir, ".probe-")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBackupDirUnwritable, s.dir, err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = s.fs.Remove(name)

	return s, nil
}

// Dir returns the backup directory.
func (s *Store) Dir() string {
	return s.dir
}

// Create writes a new archive holding every readable, unlocked file in
// paths, each paired with a metadata entry. Per-file problems are recorded in
// Archive.Skipped. The archive is built under a temporary name and renamed
// into place only once complete.
func (s *Store) Create(ctx context.Context, paths []string, tag string) (*Archive, error) {
	if tag == "" {
		tag = DefaultTag
	}
	if !ValidTag(tag) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTag, tag)
	}
	if len(paths) == 0 {
		return nil, ErrNoFilesToBackup
	}

	created, name := s.reserveName(tag)
	final := filepath.Join(s.dir, name)
	tmp := final + partialExt

	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrBackupDirUnwritable, tmp, err)
	}

	discard := func() {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
	}

	zw := zip.NewWriter(f)
	level := s.level
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})

	archive := &Archive{
		Path:      final,
		Name:      name,
		Tag:       tag,
		CreatedAt: created,
	}
	used := make(map[string]bool, len(paths))

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			discard()
			return nil, err
		}

		entry, reason, err := s.addFile(zw, p, used)
		if err != nil {
			// The container itself is broken; nothing after this can succeed.
			_ = zw.Close()
			discard()
			return nil, fmt.Errorf("%w: write %s: %w", ErrBackupDirUnwritable, tmp, err)
		}
		if reason != "" {
			s.log.Warn("skipped backup of file", zap.String("path", p), zap.String("reason", reason))
			archive.Skipped = append(archive.Skipped, Skip{Path: p, Reason: reason})
			continue
		}
		s.log.Debug("backed up file", zap.String("path", p), zap.String("entry", entry.Name))
		archive.Entries = append(archive.Entries, entry)
	}

	if len(archive.Entries) == 0 {
		_ = zw.Close()
		discard()
		return nil, fmt.Errorf("%w: all %d files skipped", ErrNoFilesToBackup, len(paths))
	}

	if err := zw.Close(); err != nil {
		discard()
		return nil, fmt.Errorf("%w: finalize %s: %w", ErrBackupDirUnwritable, tmp, err)
	}
	if err := f.Sync(); err != nil {
		discard()
		return nil, fmt.Errorf("%w: sync %s: %w", ErrBackupDirUnwritable, tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return nil, fmt.Errorf("%w: close %s: %w", ErrBackupDirUnwritable, tmp, err)
	}
	if err := s.fs.Rename(tmp, final); err != nil {
		_ = s.fs.Remove(tmp)
		return nil, fmt.Errorf("%w: rename %s: %w", ErrBackupDirUnwritable, tmp, err)
	}

	s.log.Info("backup archive created",
		zap.String("archive", final),
		zap.Int("files", len(archive.Entries)),
		zap.Int("skipped", len(archive.Skipped)))
	return archive, nil
}

// addFile copies one file into zw. A non-empty reason means the file was
// skipped; a non-nil error means the archive writer failed.
func (s *Store) addFile(zw *zip.Writer, path string, used map[string]bool) (Entry, string, error) {
	if s.locks.IsLocked(path) {
		return Entry{}, "locked by another process", nil
	}

	info, err := s.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, "file does not exist", nil
		}
		return Entry{}, "cannot stat: " + err.Error(), nil
	}
	if !info.Mode().IsRegular() {
		return Entry{}, "not a regular file", nil
	}

	src, err := s.fs.Open(path)
	if err != nil {
		return Entry{}, "unreadable: " + err.Error(), nil
	}
	defer src.Close()

	name := uniqueEntryName(filepath.Base(path), used)

	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: info.ModTime(),
	}
	hdr.SetMode(info.Mode())

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return Entry{}, "", err
	}

	h := sha256.New()
	n, err := io.CopyBuffer(io.MultiWriter(w, h), src, make([]byte, hashChunkSize))
	if err != nil {
		// The content entry is truncated and gets no metadata, so it is never
		// treated as backed up.
		return Entry{}, "read failed: " + err.Error(), nil
	}

	entry := Entry{
		Name:         name,
		OriginalPath: path,
		Size:         n,
		Hash:         hex.EncodeToString(h.Sum(nil)),
		Modified:     info.ModTime(),
	}

	mw, err := zw.Create(metaName(name))
	if err != nil {
		return Entry{}, "", err
	}
	meta := Metadata{
		OriginalPath: entry.OriginalPath,
		Size:         entry.Size,
		Hash:         entry.Hash,
		Modified:     entry.Modified,
	}
	if _, err := mw.Write(meta.Marshal()); err != nil {
		return Entry{}, "", err
	}

	return entry, "", nil
}

// reserveName picks an archive name not already present in the directory,
// stepping the timestamp forward a second at a time on collision.
func (s *Store) reserveName(tag string) (time.Time, string) {
	t := s.now().In(s.loc).Truncate(time.Second)
	for {
		name := ArchiveName(tag, t)
		final := filepath.Join(s.dir, name)
		if !s.exists(final) && !s.exists(final+partialExt) {
			return t, name
		}
		t = t.Add(time.Second)
	}
}

func (s *Store) exists(path string) bool {
	_, err := s.fs.Stat(path)
	return err == nil
}

// uniqueEntryName keeps archive entry names distinct when several inputs
// share a base name: a.tmp, a_1.tmp, a_2.tmp.
func uniqueEntryName(base string, used map[string]bool) string {
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "unnamed"
	}
	base = strings.NewReplacer("/", "_", `\`, "_").Replace(base)

	name := base
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 1; used[name] || name == "meta"; i++ {
		name = stem + "_" + strconv.Itoa(i) + ext
	}
	used[name] = true
	return name
}

// ComputeHash streams path through SHA-256 and returns the hex digest.
func (s *Store) ComputeHash(path string) (string, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, hashChunkSize)); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
