package backup

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rawEntry struct {
	name string
	body string
}

// writeRawArchive builds an archive by hand so tests can shape its metadata.
func writeRawArchive(t *testing.T, fs afero.Fs, path string, entries ...rawEntry) {
	t.Helper()
	f, err := fs.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func readString(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(data)
}

func TestRestore_RoundTripToTarget(t *testing.T) {
	fs, s := newTestStore(t)
	writeFile(t, fs, "/data/a.tmp", "alpha")
	writeFile(t, fs, "/other/a.tmp", "second alpha")

	archive, err := s.Create(t.Context(), []string{"/data/a.tmp", "/other/a.tmp"}, "")
	require.NoError(t, err)

	res, err := s.Restore(t.Context(), archive.Path, "/restore")
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	require.Len(t, res.Restored, 2)

	assert.Equal(t, "/restore/a.tmp", res.Restored[0].Path)
	assert.Equal(t, "/restore/a_1.tmp", res.Restored[1].Path)
	assert.Equal(t, "alpha", readString(t, fs, "/restore/a.tmp"))
	assert.Equal(t, "second alpha", readString(t, fs, "/restore/a_1.tmp"))

	for i, r := range res.Restored {
		got, err := s.ComputeHash(r.Path)
		require.NoError(t, err)
		assert.Equal(t, archive.Entries[i].Hash, got)
	}
}

func TestRestore_ToOriginalPath(t *testing.T) {
	fs, s := newTestStore(t)
	writeFile(t, fs, "/data/a.tmp", "alpha")

	archive, err := s.Create(t.Context(), []string{"/data/a.tmp"}, "")
	require.NoError(t, err)
	require.NoError(t, fs.Remove("/data/a.tmp"))

	res, err := s.Restore(t.Context(), archive.Path, "")
	require.NoError(t, err)
	require.Len(t, res.Restored, 1)
	assert.Equal(t, "/data/a.tmp", res.Restored[0].Path)
	assert.False(t, res.Restored[0].Renamed)
	assert.Equal(t, "alpha", readString(t, fs, "/data/a.tmp"))
}

func TestRestore_NeverOverwrites(t *testing.T) {
	fs, s := newTestStore(t)
	writeFile(t, fs, "/data/a.tmp", "alpha")

	archive, err := s.Create(t.Context(), []string{"/data/a.tmp"}, "")
	require.NoError(t, err)
	writeFile(t, fs, "/data/a.tmp", "newer content")

	res, err := s.Restore(t.Context(), archive.Path, "")
	require.NoError(t, err)
	require.Len(t, res.Restored, 1)
	assert.Equal(t, "/data/a_restored.tmp", res.Restored[0].Path)
	assert.True(t, res.Restored[0].Renamed)
	assert.Equal(t, "newer content", readString(t, fs, "/data/a.tmp"))
	assert.Equal(t, "alpha", readString(t, fs, "/data/a_restored.tmp"))

	res, err = s.Restore(t.Context(), archive.Path, "")
	require.NoError(t, err)
	require.Len(t, res.Restored, 1)
	assert.Equal(t, "/data/a_restored_2.tmp", res.Restored[0].Path)
}

func TestRestore_MissingMetadataFallsBackToBackupDir(t *testing.T) {
	fs, s := newTestStore(t)
	writeRawArchive(t, fs, "/backups/backup_auto_20261017_093000.zip",
		rawEntry{name: "orphan.tmp", body: "no sidecar"},
	)

	res, err := s.Restore(t.Context(), "/backups/backup_auto_20261017_093000.zip", "")
	require.NoError(t, err)
	require.Len(t, res.Restored, 1)
	assert.Equal(t, "/backups/orphan.tmp", res.Restored[0].Path)
	assert.Equal(t, "no sidecar", readString(t, fs, "/backups/orphan.tmp"))
}

func TestRestore_HashMismatchFailsOnlyThatEntry(t *testing.T) {
	fs, s := newTestStore(t)
	good := Metadata{OriginalPath: "/data/good.tmp", Size: 4, Hash: md5Hex("good")}
	bad := Metadata{OriginalPath: "/data/bad.tmp", Size: 4, Hash: md5Hex("else")}
	writeRawArchive(t, fs, "/backups/backup_legacy_20261017_093000.zip",
		rawEntry{name: "bad.tmp", body: "evil"},
		rawEntry{name: metaName("bad.tmp"), body: string(bad.Marshal())},
		rawEntry{name: "good.tmp", body: "good"},
		rawEntry{name: metaName("good.tmp"), body: string(good.Marshal())},
	)

	res, err := s.Restore(t.Context(), "/backups/backup_legacy_20261017_093000.zip", "")
	require.NoError(t, err)

	require.Len(t, res.Failed, 1)
	assert.Equal(t, "bad.tmp", res.Failed[0].Path)
	assert.Contains(t, res.Failed[0].Reason, "hash mismatch")

	require.Len(t, res.Restored, 1)
	assert.Equal(t, "/data/good.tmp", res.Restored[0].Path)

	exists, err := afero.Exists(fs, "/data/bad.tmp")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = afero.Exists(fs, "/data/bad.tmp.restoring")
	require.NoError(t, err)
	assert.False(t, exists, "temporary file is removed on failure")
}

func TestRestore_SizeMismatch(t *testing.T) {
	fs, s := newTestStore(t)
	meta := Metadata{OriginalPath: "/data/short.tmp", Size: 99}
	writeRawArchive(t, fs, "/backups/x.zip",
		rawEntry{name: "short.tmp", body: "tiny"},
		rawEntry{name: metaName("short.tmp"), body: string(meta.Marshal())},
	)

	res, err := s.Restore(t.Context(), "/backups/x.zip", "")
	require.NoError(t, err)
	assert.Empty(t, res.Restored)
	require.Len(t, res.Failed, 1)
	assert.Contains(t, res.Failed[0].Reason, "size mismatch")
}

func TestRestore_UnopenableArchive(t *testing.T) {
	fs, s := newTestStore(t)

	_, err := s.Restore(t.Context(), "/backups/missing.zip", "")
	require.Error(t, err)

	writeFile(t, fs, "/backups/garbage.zip", "this is not a zip file")
	_, err = s.Restore(t.Context(), "/backups/garbage.zip", "")
	require.Error(t, err)
}

func TestSafeBase(t *testing.T) {
	assert.Equal(t, "a.tmp", safeBase("a.tmp"))
	assert.Equal(t, "evil.tmp", safeBase("../../evil.tmp"))
	assert.Equal(t, "unnamed", safeBase(".."))
	assert.Equal(t, "unnamed", safeBase(""))
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
