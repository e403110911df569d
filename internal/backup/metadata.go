package backup

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	metaDir = "meta/"
	metaExt = ".info"
)

// Metadata is the sidecar record stored beside every content entry.
type Metadata struct {
	OriginalPath string
	Size         int64
	Hash         string
	Modified     time.Time
}

// metaName returns the metadata entry name for a content entry.
func metaName(entry string) string {
	return metaDir + entry + metaExt
}

// isMetaName reports whether an archive entry belongs to the metadata family.
func isMetaName(name string) bool {
	return strings.HasPrefix(name, metaDir)
}

// contentNameFor maps a metadata entry name back to its content entry.
func contentNameFor(meta string) (string, bool) {
	if !strings.HasPrefix(meta, metaDir) || !strings.HasSuffix(meta, metaExt) {
		return "", false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(meta, metaDir), metaExt)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	return name, true
}

// Marshal renders the plain-text metadata body.
func (m Metadata) Marshal() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Original Path: %s\n", m.OriginalPath)
	fmt.Fprintf(&b, "Size: %d bytes\n", m.Size)
	fmt.Fprintf(&b, "Hash: %s", m.Hash)
	if !m.Modified.IsZero() {
		fmt.Fprintf(&b, "\nModified: %s", m.Modified.Format(time.RFC3339Nano))
	}
	return []byte(b.String())
}

// ParseMetadata reads a metadata body. Unknown lines are ignored; a missing
// original path is an error.
func ParseMetadata(data []byte) (Metadata, error) {
	var m Metadata

	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimRight(sc.Text(), "\r"), ": ")
		if !ok {
			continue
		}
		switch key {
		case "Original Path":
			m.OriginalPath = value
		case "Size":
			n, err := strconv.ParseInt(strings.TrimSpace(strings.TrimSuffix(value, "bytes")), 10, 64)
			if err != nil {
				return Metadata{}, fmt.Errorf("invalid size %q: %w", value, err)
			}
			m.Size = n
		case "Hash":
			m.Hash = strings.ToLower(strings.TrimSpace(value))
		case "Modified":
			if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value)); err == nil {
				m.Modified = t
			}
		}
	}
	if err := sc.Err(); err != nil {
		return Metadata{}, err
	}
	if m.OriginalPath == "" {
		return Metadata{}, fmt.Errorf("metadata has no original path")
	}
	return m, nil
}
