// Package hashcache persists content digests so unchanged files are not
// read again on every run.
package hashcache

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Version is incremented when the entry format changes. Keys carry it so
// entries of another version are never read.
const Version = 1

// KeySeparator separates the version from the path in keys.
const KeySeparator = '\x00'

// Entry is the cached digest of one file.
type Entry struct {
	Size  int64  // File size in bytes when hashed
	Mtime int64  // Modification time as UnixNano when hashed
	Hash  string // Lowercase hex MD5
}

// Matches reports whether info still describes the hashed content.
func (e *Entry) Matches(info os.FileInfo) bool {
	return e.Size == info.Size() && e.Mtime == info.ModTime().UnixNano()
}

// Encode serializes the entry using gob.
func (e *Entry) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes data into the entry using gob.
func (e *Entry) Decode(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(e)
}

func versionPrefix() string {
	return strconv.Itoa(Version) + string(KeySeparator)
}

// MakeKey returns the key for an absolute path.
// Format: <version>\x00<path>
func MakeKey(path string) []byte {
	return []byte(versionPrefix() + filepath.Clean(path))
}

// ParseKey extracts the path from a key.
func ParseKey(key []byte) string {
	idx := bytes.IndexByte(key, KeySeparator)
	if idx == -1 {
		return string(key)
	}
	return string(key[idx+1:])
}

// MakeKeyPrefix returns the prefix of all keys below dir.
func MakeKeyPrefix(dir string) []byte {
	dir = filepath.Clean(dir)
	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return []byte(versionPrefix() + dir)
}
